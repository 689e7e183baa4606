package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"civicai.org/internal/app"
	"civicai.org/internal/auth"
)

func newUsersCmd(build buildFunc) *cobra.Command {
	usersCmd := &cobra.Command{
		Use:   "users",
		Short: "Inspect and change user accounts",
	}

	var change auth.RoleChange
	promoteCmd := &cobra.Command{
		Use:   "promote <user-id|email>",
		Short: "Change the role of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, build, func(ctx context.Context, a *app.App) error {
				u, err := lookupUser(ctx, a, args[0])
				if err != nil {
					return err
				}
				u, err = a.Accounts.UpdateRole(ctx, u.ID, change)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", u.Username, u.Role)
				return nil
			})
		},
	}
	promoteCmd.Flags().StringVar(&change.Role, "role", string(auth.RoleAuthority), "target role (citizen, authority, admin)")
	promoteCmd.Flags().StringVar(&change.AuthorityType, "authority-type", "", "authority type when promoting to authority")
	promoteCmd.Flags().StringVar(&change.Department, "department", "", "authority department")
	promoteCmd.Flags().StringVar(&change.Jurisdiction, "jurisdiction", "", "authority jurisdiction")

	usersCmd.AddCommand(promoteCmd)
	return usersCmd
}

// lookupUser accepts either a user id or an email address.
func lookupUser(ctx context.Context, a *app.App, ref string) (*auth.User, error) {
	if strings.Contains(ref, "@") {
		return a.Store.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(ref)))
	}
	return a.Accounts.GetUser(ctx, ref)
}
