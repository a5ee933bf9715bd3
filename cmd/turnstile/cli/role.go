package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/faucetdb/turnstile/internal/model"
)

func newRoleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role",
		Short: "Manage roles",
		Long:  "Create roles and grant them permissions. Admin roles reach admin-only routes; public routes refuse them.",
	}

	cmd.AddCommand(newRoleListCmd())
	cmd.AddCommand(newRoleCreateCmd())
	cmd.AddCommand(newRoleGrantCmd())
	cmd.AddCommand(newRoleSetActiveCmd("activate", true))
	cmd.AddCommand(newRoleSetActiveCmd("deactivate", false))

	return cmd
}

// ---------- role list ----------

func newRoleListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoleList(cmd.OutOrStdout(), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runRoleList(out io.Writer, jsonOutput bool) error {
	st, _, err := openConfiguredStore()
	if err != nil {
		return err
	}
	defer st.Close()

	roles, err := st.ListRoles(context.Background())
	if err != nil {
		return fmt.Errorf("list roles: %w", err)
	}

	if jsonOutput {
		if roles == nil {
			roles = []model.Role{}
		}
		return printJSON(out, roles)
	}

	if len(roles) == 0 {
		fmt.Fprintln(out, "No roles configured. Use 'turnstile role create' to create one.")
		return nil
	}

	fmt.Fprintf(out, "%-20s %-6s %-8s %s\n", "NAME", "ADMIN", "ACTIVE", "PERMISSIONS")
	fmt.Fprintf(out, "%-20s %-6s %-8s %s\n", "----", "-----", "------", "-----------")
	for _, r := range roles {
		fmt.Fprintf(out, "%-20s %-6s %-8s %s\n", r.Name, yesNo(r.IsAdmin), yesNo(r.IsActive), formatPermissions(r.Permissions))
	}
	return nil
}

// formatPermissions returns a short summary of a role's grants for display.
func formatPermissions(perms []model.Permission) string {
	if len(perms) == 0 {
		return "none"
	}
	codes := make([]string, len(perms))
	for i, p := range perms {
		codes[i] = p.Code
		if !p.IsActive {
			codes[i] += " (inactive)"
		}
	}
	return truncate(strings.Join(codes, ", "), 80)
}

// ---------- role create ----------

func newRoleCreateCmd() *cobra.Command {
	var (
		name        string
		description string
		admin       bool
		perms       []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new role",
		Example: `  turnstile role create --name user --description "Registered users"
  turnstile role create --name admin --admin --permission APIKEY_READ --permission APIKEY_CREATE`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoleCreate(cmd.OutOrStdout(), name, description, admin, perms)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Role name (required)")
	cmd.Flags().StringVar(&description, "description", "", "Role description")
	cmd.Flags().BoolVar(&admin, "admin", false, "Allow the role on admin-only routes")
	cmd.Flags().StringSliceVar(&perms, "permission", nil, "Permission code to grant (repeatable)")
	cmd.MarkFlagRequired("name")

	return cmd
}

func runRoleCreate(out io.Writer, name, description string, admin bool, perms []string) error {
	st, _, err := openConfiguredStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()

	role := &model.Role{
		Name:        name,
		Description: description,
		IsActive:    true,
		IsAdmin:     admin,
	}
	if err := st.CreateRole(ctx, role); err != nil {
		return fmt.Errorf("create role: %w", err)
	}
	if len(perms) > 0 {
		if role, err = st.SetRolePermissions(ctx, role.ID, perms); err != nil {
			return fmt.Errorf("grant permissions: %w", err)
		}
	}

	fmt.Fprintf(out, "Created role %q (id=%s)\n", role.Name, role.ID)
	if description != "" {
		fmt.Fprintf(out, "  description: %s\n", description)
	}
	fmt.Fprintf(out, "  admin:       %s\n", yesNo(role.IsAdmin))
	fmt.Fprintf(out, "  permissions: %s\n", formatPermissions(role.Permissions))
	return nil
}

// ---------- role grant ----------

func newRoleGrantCmd() *cobra.Command {
	var (
		perms   []string
		replace bool
	)

	cmd := &cobra.Command{
		Use:   "grant <role>",
		Short: "Grant permissions to a role",
		Example: `  turnstile role grant admin --permission APIKEY_DELETE
  turnstile role grant support --replace --permission USER_READ`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openConfiguredStore()
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := context.Background()
			role, err := findRole(ctx, st, args[0])
			if err != nil {
				return err
			}

			codes := perms
			if !replace {
				codes = make([]string, 0, len(role.Permissions)+len(perms))
				for _, p := range role.Permissions {
					codes = append(codes, p.Code)
				}
				codes = append(codes, perms...)
			}
			role, err = st.SetRolePermissions(ctx, role.ID, codes)
			if err != nil {
				return fmt.Errorf("grant permissions: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Role %q permissions: %s\n", role.Name, formatPermissions(role.Permissions))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&perms, "permission", nil, "Permission code to grant (repeatable)")
	cmd.Flags().BoolVar(&replace, "replace", false, "Replace the existing grants instead of adding to them")

	return cmd
}

// ---------- role activate / deactivate ----------

func newRoleSetActiveCmd(use string, active bool) *cobra.Command {
	short := "Reactivate a role"
	if !active {
		short = "Deactivate a role; its users can no longer log in"
	}
	return &cobra.Command{
		Use:   use + " <role>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openConfiguredStore()
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := context.Background()
			role, err := findRole(ctx, st, args[0])
			if err != nil {
				return err
			}
			if role, err = st.SetRoleActive(ctx, role.ID, active); err != nil {
				return fmt.Errorf("update role: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Role %q is now %s.\n", role.Name, activeWord(role.IsActive))
			return nil
		},
	}
}
