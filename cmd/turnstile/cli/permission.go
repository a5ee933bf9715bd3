package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/faucetdb/turnstile/internal/model"
	"github.com/faucetdb/turnstile/internal/permission"
)

func newPermissionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "permission",
		Aliases: []string{"perm"},
		Short:   "Manage the permission catalog",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "seed",
		Short: "Create any missing built-in permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openConfiguredStore()
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := st.EnsurePermissions(context.Background(), permission.Defaults())
			if err != nil {
				return fmt.Errorf("seed permissions: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %d permission(s); %d already present.\n", n, len(permission.Defaults())-n)
			return nil
		},
	})
	cmd.AddCommand(newPermissionListCmd())
	cmd.AddCommand(newPermissionSetActiveCmd("activate", true))
	cmd.AddCommand(newPermissionSetActiveCmd("deactivate", false))

	return cmd
}

func newPermissionListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openConfiguredStore()
			if err != nil {
				return err
			}
			defer st.Close()

			perms, err := st.ListPermissions(context.Background())
			if err != nil {
				return fmt.Errorf("list permissions: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				if perms == nil {
					perms = []model.Permission{}
				}
				return printJSON(out, perms)
			}
			if len(perms) == 0 {
				fmt.Fprintln(out, "No permissions found. Use 'turnstile permission seed' to create the built-in set.")
				return nil
			}
			fmt.Fprintf(out, "%-20s %-8s %s\n", "CODE", "ACTIVE", "DESCRIPTION")
			fmt.Fprintf(out, "%-20s %-8s %s\n", "----", "------", "-----------")
			for _, p := range perms {
				fmt.Fprintf(out, "%-20s %-8s %s\n", p.Code, yesNo(p.IsActive), p.Description)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// An inactive permission stays granted but no longer satisfies requirements.
func newPermissionSetActiveCmd(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <code>",
		Short: fmt.Sprintf("Mark a permission %s", activeWord(active)),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openConfiguredStore()
			if err != nil {
				return err
			}
			defer st.Close()

			p, err := st.SetPermissionActive(context.Background(), args[0], active)
			if err != nil {
				return fmt.Errorf("update permission: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Permission %s is now %s.\n", p.Code, activeWord(p.IsActive))
			return nil
		},
	}
}
