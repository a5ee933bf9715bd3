package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/faucetdb/turnstile/internal/handler"
	"github.com/faucetdb/turnstile/internal/model"
	"github.com/faucetdb/turnstile/internal/store"
	"github.com/faucetdb/turnstile/internal/token"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
		Long:  "Create and list the accounts that log in through the auth endpoints.",
	}

	cmd.AddCommand(newUserCreateCmd())
	cmd.AddCommand(newUserListCmd())
	cmd.AddCommand(newUserSetActiveCmd("activate", true))
	cmd.AddCommand(newUserSetActiveCmd("deactivate", false))
	cmd.AddCommand(newUserSetRoleCmd())

	return cmd
}

// ---------- user create ----------

type userInput struct {
	email     string
	firstName string
	lastName  string
	mobile    string
	role      string
	password  string
}

func newUserCreateCmd() *cobra.Command {
	var in userInput

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new user",
		Example: `  turnstile user create --email admin@mail.com --first-name admin --role admin
  turnstile user create --email jane@mail.com --first-name Jane --password 'aaAA@@123444'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserCreate(cmd.OutOrStdout(), in)
		},
	}

	cmd.Flags().StringVar(&in.email, "email", "", "Email address (required)")
	cmd.Flags().StringVar(&in.firstName, "first-name", "", "First name (required)")
	cmd.Flags().StringVar(&in.lastName, "last-name", "", "Last name")
	cmd.Flags().StringVar(&in.mobile, "mobile", "", "Mobile number in +<digits> form")
	cmd.Flags().StringVar(&in.role, "role", handler.DefaultSignUpRole, "Role name or ID")
	cmd.Flags().StringVar(&in.password, "password", "", "Password (prompted if omitted)")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("first-name")

	return cmd
}

func runUserCreate(out io.Writer, in userInput) error {
	if in.password == "" {
		pw, err := promptPassword(out)
		if err != nil {
			return err
		}
		in.password = pw
	}
	if !handler.StrongPassword(in.password) {
		return fmt.Errorf("password must be at least %d characters with upper and lower case letters, a digit and a symbol", handler.MinPasswordLength)
	}

	st, settings, err := openConfiguredStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	role, err := findRole(ctx, st, in.role)
	if err != nil {
		return err
	}

	pw, err := token.NewPasswords(settings.Auth.PasswordExpiry).CreatePassword(in.password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	user := &model.User{
		Email:              in.email,
		FirstName:          in.firstName,
		LastName:           in.lastName,
		MobileNumber:       in.mobile,
		RoleID:             role.ID,
		PasswordHash:       pw.Hash,
		Salt:               pw.Salt,
		PasswordExpiration: pw.Expiration,
		IsActive:           true,
	}
	if err := st.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("a user with email %q or mobile number %q already exists", in.email, in.mobile)
		}
		return fmt.Errorf("create user: %w", err)
	}

	fmt.Fprintf(out, "Created user %q (id=%s)\n", user.Email, user.ID)
	fmt.Fprintf(out, "  role:             %s\n", role.Name)
	fmt.Fprintf(out, "  password expires: %s\n", humanize.Time(user.PasswordExpiration))
	return nil
}

// promptPassword reads a password twice from the terminal.
func promptPassword(out io.Writer) (string, error) {
	fmt.Fprint(out, "Password: ")
	pwBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Fprintln(out)

	fmt.Fprint(out, "Confirm password: ")
	confirmBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read confirmation: %w", err)
	}
	fmt.Fprintln(out)

	if string(pwBytes) != string(confirmBytes) {
		return "", errors.New("passwords do not match")
	}
	return string(pwBytes), nil
}

// ---------- user list ----------

func newUserListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserList(cmd.OutOrStdout(), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runUserList(out io.Writer, jsonOutput bool) error {
	st, _, err := openConfiguredStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	users, err := st.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	if jsonOutput {
		return printJSON(out, users)
	}

	if len(users) == 0 {
		fmt.Fprintln(out, "No users found. Use 'turnstile user create' to create one.")
		return nil
	}

	roles, err := st.ListRoles(ctx)
	if err != nil {
		return fmt.Errorf("list roles: %w", err)
	}
	roleNames := make(map[string]string, len(roles))
	for _, r := range roles {
		roleNames[r.ID] = r.Name
	}

	fmt.Fprintf(out, "%-30s %-24s %-12s %-8s %s\n", "EMAIL", "NAME", "ROLE", "ACTIVE", "PASSWORD EXPIRES")
	fmt.Fprintf(out, "%-30s %-24s %-12s %-8s %s\n", "-----", "----", "----", "------", "----------------")
	for _, u := range users {
		name := u.FirstName
		if u.LastName != "" {
			name += " " + u.LastName
		}
		fmt.Fprintf(out, "%-30s %-24s %-12s %-8s %s\n",
			truncate(u.Email, 30), truncate(name, 24), roleNames[u.RoleID], yesNo(u.IsActive), humanize.Time(u.PasswordExpiration))
	}
	return nil
}

// ---------- user activate / deactivate ----------

func newUserSetActiveCmd(use string, active bool) *cobra.Command {
	short := "Reactivate a user"
	if !active {
		short = "Deactivate a user; existing sessions stop working"
	}
	return &cobra.Command{
		Use:   use + " <email|id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openConfiguredStore()
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := context.Background()
			user, err := findUser(ctx, st, args[0])
			if err != nil {
				return err
			}
			if user, err = st.SetUserActive(ctx, user.ID, active); err != nil {
				return fmt.Errorf("update user: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User %q is now %s.\n", user.Email, activeWord(user.IsActive))
			return nil
		},
	}
}

// ---------- user set-role ----------

func newUserSetRoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-role <email|id> <role>",
		Short: "Assign a different role to a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openConfiguredStore()
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := context.Background()
			user, err := findUser(ctx, st, args[0])
			if err != nil {
				return err
			}
			role, err := findRole(ctx, st, args[1])
			if err != nil {
				return err
			}
			if _, err := st.UpdateUserRole(ctx, user.ID, role.ID); err != nil {
				return fmt.Errorf("update user: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User %q now has role %q.\n", user.Email, role.Name)
			return nil
		},
	}
}
