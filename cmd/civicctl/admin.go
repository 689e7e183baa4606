package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"civicai.org/internal/app"
)

func newAdminCmd(build buildFunc) *cobra.Command {
	adminCmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage administrator accounts",
	}

	var email, username, fullName, password string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an administrator account",
		Long: `Create an administrator account. The password is read from --password or,
when the flag is omitted, from CIVIC_ADMIN_PASSWORD.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("CIVIC_ADMIN_PASSWORD")
			}
			if password == "" {
				return errors.New("password is required (--password or CIVIC_ADMIN_PASSWORD)")
			}
			return withApp(cmd, build, func(ctx context.Context, a *app.App) error {
				u, err := a.Accounts.SeedAdmin(ctx, email, username, fullName, password)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created admin %s (%s)\n", u.Username, u.ID)
				return nil
			})
		},
	}
	createCmd.Flags().StringVar(&email, "email", "", "administrator email")
	createCmd.Flags().StringVar(&username, "username", "", "administrator username")
	createCmd.Flags().StringVar(&fullName, "full-name", "", "administrator display name")
	createCmd.Flags().StringVar(&password, "password", "", "administrator password")
	_ = createCmd.MarkFlagRequired("email")
	_ = createCmd.MarkFlagRequired("username")
	_ = createCmd.MarkFlagRequired("full-name")

	adminCmd.AddCommand(createCmd)
	return adminCmd
}
