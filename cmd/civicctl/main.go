package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"civicai.org/internal/app"
	"civicai.org/internal/config"
)

type buildFunc func(ctx context.Context) (*app.App, error)

func main() {
	if err := newRootCmd(buildFromEnv).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildFromEnv refuses the in-memory store: changes made there vanish with the process.
func buildFromEnv(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("CIVIC_PG_DSN is required")
	}
	return app.Build(ctx, cfg)
}

func newRootCmd(build buildFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "civicctl",
		Short: "Operator tooling for civic accounts",
		Long: `civicctl manages accounts directly against the database configured by
CIVIC_PG_DSN. Use it to seed the first administrator, change roles and mint
session tokens for support work.`,
		SilenceUsage: true,
	}
	root.AddCommand(newAdminCmd(build), newUsersCmd(build), newTokenCmd(build))
	return root
}

// withApp builds the services for one command invocation and releases them afterwards.
func withApp(cmd *cobra.Command, build buildFunc, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := build(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
