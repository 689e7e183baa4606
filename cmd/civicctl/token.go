package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"civicai.org/internal/app"
)

func newTokenCmd(build buildFunc) *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Session token utilities",
	}

	issueCmd := &cobra.Command{
		Use:   "issue <user-id|email>",
		Short: "Mint a session token for an existing user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, build, func(ctx context.Context, a *app.App) error {
				u, err := lookupUser(ctx, a, args[0])
				if err != nil {
					return err
				}
				res, err := a.Service.IssueFor(ctx, u.ID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, res.Token.Value)
				fmt.Fprintf(out, "role=%s expires=%s\n", res.User.Role, res.Token.ExpiresAt.UTC().Format(time.RFC3339))
				return nil
			})
		},
	}

	tokenCmd.AddCommand(issueCmd)
	return tokenCmd
}
