package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/faucetdb/turnstile/internal/apikey"
	"github.com/faucetdb/turnstile/internal/autherr"
	"github.com/faucetdb/turnstile/internal/model"
)

// defaultKey is the credential installed by "key seed" for local
// development.
var defaultKey = apikey.IssueRequest{
	Name:          "Auth Default",
	Description:   "Default API Key used for authenticating users",
	Key:           "qwertyuiop12345zxcvbnmkjh",
	Secret:        "5124512412412asdasdasdasdasdASDASDASD",
	Passphrase:    "cuwakimacojulawu",
	EncryptionKey: "opbUwdiS1FBsrDUoPgZdx",
}

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Issue, rotate and revoke the API keys clients use to sign requests.",
	}

	cmd.AddCommand(newKeyIssueCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeySetActiveCmd("activate", true))
	cmd.AddCommand(newKeySetActiveCmd("deactivate", false))
	cmd.AddCommand(newKeyRotateCmd())
	cmd.AddCommand(newKeyDeleteCmd())
	cmd.AddCommand(newKeySignCmd())
	cmd.AddCommand(newKeySeedCmd())
	cmd.AddCommand(newKeyPurgeCmd())

	return cmd
}

// ---------- key issue ----------

func newKeyIssueCmd() *cobra.Command {
	var (
		req        apikey.IssueRequest
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "issue",
		Aliases: []string{"create"},
		Short:   "Issue a new API key",
		Long:    "Generate a new API key. The secret material is shown once and cannot be retrieved again.",
		Example: `  turnstile key issue --name "Mobile app"
  turnstile key issue --name "Partner" --passphrase 0123456789abcdef`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyIssue(cmd.OutOrStdout(), req, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&req.Name, "name", "", "Human-readable name for the key (required)")
	cmd.Flags().StringVar(&req.Description, "description", "", "Key description")
	cmd.Flags().StringVar(&req.Passphrase, "passphrase", "", "Use this 16 character passphrase instead of a generated one")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("name")

	return cmd
}

func runKeyIssue(out io.Writer, req apikey.IssueRequest, jsonOutput bool) error {
	st, settings, err := openConfiguredStore()
	if err != nil {
		return err
	}
	defer st.Close()

	key, secret, err := newKeyManager(st, settings).Issue(context.Background(), req)
	if err != nil {
		return fmt.Errorf("issue api key: %w", err)
	}
	return printIssued(out, "API key issued:", key, secret, jsonOutput)
}

func printIssued(out io.Writer, title string, key *model.APIKey, secret model.APIKeySecret, jsonOutput bool) error {
	if jsonOutput {
		return printJSON(out, map[string]interface{}{
			"api_key":     key,
			"credentials": secret,
		})
	}

	fmt.Fprintln(out, title)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  ID:             %s\n", key.ID)
	fmt.Fprintf(out, "  Name:           %s\n", key.Name)
	fmt.Fprintf(out, "  Key:            %s\n", secret.Key)
	fmt.Fprintf(out, "  Secret:         %s\n", secret.Secret)
	fmt.Fprintf(out, "  Passphrase:     %s\n", secret.Passphrase)
	fmt.Fprintf(out, "  Encryption key: %s\n", secret.EncryptionKey)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  Save these values now - they cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(cmd.OutOrStdout(), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyList(out io.Writer, jsonOutput bool) error {
	st, settings, err := openConfiguredStore()
	if err != nil {
		return err
	}
	defer st.Close()

	keys, err := newKeyManager(st, settings).List(context.Background())
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	if jsonOutput {
		if keys == nil {
			keys = []model.APIKey{}
		}
		return printJSON(out, keys)
	}

	if len(keys) == 0 {
		fmt.Fprintln(out, "No API keys found. Use 'turnstile key issue' to create one.")
		return nil
	}

	fmt.Fprintf(out, "%-36s %-24s %-36s %-8s %s\n", "ID", "NAME", "KEY", "ACTIVE", "CREATED")
	fmt.Fprintf(out, "%-36s %-24s %-36s %-8s %s\n", "--", "----", "---", "------", "-------")
	for _, k := range keys {
		fmt.Fprintf(out, "%-36s %-24s %-36s %-8s %s\n",
			k.ID, truncate(k.Name, 24), k.Key, yesNo(k.IsActive), humanize.Time(k.CreatedAt))
	}
	return nil
}

// ---------- key activate / deactivate ----------

func newKeySetActiveCmd(use string, active bool) *cobra.Command {
	short := "Reactivate an API key"
	if !active {
		short = "Deactivate an API key without deleting it"
	}
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, settings, err := openConfiguredStore()
			if err != nil {
				return err
			}
			defer st.Close()

			keys := newKeyManager(st, settings)
			var key *model.APIKey
			if active {
				key, err = keys.Activate(context.Background(), args[0])
			} else {
				key, err = keys.Deactivate(context.Background(), args[0])
			}
			if err != nil {
				return keyError(args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "API key %q (%s) is now %s.\n", key.Name, key.ID, activeWord(key.IsActive))
			cacheNotice(cmd.ErrOrStderr(), settings)
			return nil
		},
	}
}

func activeWord(active bool) string {
	if active {
		return "active"
	}
	return "inactive"
}

// keyError turns a credential lookup miss into a readable message.
func keyError(id string, err error) error {
	if autherr.KindOf(err) == autherr.KindCredentialNotFound {
		return fmt.Errorf("api key %q not found", id)
	}
	return err
}

// ---------- key rotate ----------

func newKeyRotateCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "rotate <id>",
		Aliases: []string{"reset"},
		Short:   "Replace the secret material of an API key",
		Long:    "Generate a new secret, passphrase and encryption key for an API key. Clients signing with the old material are rejected immediately.",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, settings, err := openConfiguredStore()
			if err != nil {
				return err
			}
			defer st.Close()

			key, secret, err := newKeyManager(st, settings).Rotate(context.Background(), args[0])
			if err != nil {
				return keyError(args[0], err)
			}
			cacheNotice(cmd.ErrOrStderr(), settings)
			return printIssued(cmd.OutOrStdout(), "API key rotated:", key, secret, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- key delete ----------

func newKeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm", "revoke"},
		Short:   "Delete an API key",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, settings, err := openConfiguredStore()
			if err != nil {
				return err
			}
			defer st.Close()

			key, err := newKeyManager(st, settings).Delete(context.Background(), args[0])
			if err != nil {
				return keyError(args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted API key %q (%s).\n", key.Name, key.ID)
			cacheNotice(cmd.ErrOrStderr(), settings)
			return nil
		},
	}
}

// ---------- key sign ----------

func newKeySignCmd() *cobra.Command {
	var (
		secret model.APIKeySecret
		at     int64
	)

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Print signed x-api-key and x-timestamp header values",
		Long:  "Seal a request payload the way a client holding the secret material would, for use with curl or other tools.",
		Example: `  turnstile key sign --key development_ABC... --secret ... --passphrase ... --encryption-key ...
  curl -H "x-api-key: $(turnstile key sign ... | sed -n 's/^x-api-key: //p')" ...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			if at > 0 {
				now = time.UnixMilli(at)
			}
			h, err := apikey.SignRequest(secret, now)
			if err != nil {
				return fmt.Errorf("sign request: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "x-api-key: %s\n", h.APIKey)
			fmt.Fprintf(cmd.OutOrStdout(), "x-timestamp: %s\n", h.Timestamp)
			return nil
		},
	}

	cmd.Flags().StringVar(&secret.Key, "key", "", "Public key (required)")
	cmd.Flags().StringVar(&secret.Secret, "secret", "", "Secret (required)")
	cmd.Flags().StringVar(&secret.Passphrase, "passphrase", "", "Passphrase (required)")
	cmd.Flags().StringVar(&secret.EncryptionKey, "encryption-key", "", "Encryption key (required)")
	cmd.Flags().Int64Var(&at, "at", 0, "Sign for this Unix millisecond timestamp instead of now")
	for _, name := range []string{"key", "secret", "passphrase", "encryption-key"} {
		cmd.MarkFlagRequired(name)
	}

	return cmd
}

// ---------- key seed / purge ----------

func newKeySeedCmd() *cobra.Command {
	var reset bool

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Install the default development API key",
		Long:  "Install the well-known development API key. Never run this against a production store.",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, settings, err := openConfiguredStore()
			if err != nil {
				return err
			}
			defer st.Close()

			if settings.APIKey.Env == "production" {
				return errors.New("refusing to seed the default key with api_key.env=production")
			}

			ctx := context.Background()
			keys := newKeyManager(st, settings)
			if reset {
				n, err := keys.DeleteAll(ctx)
				if err != nil {
					return fmt.Errorf("purge api keys: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d existing API key(s).\n", n)
			}
			key, secret, err := keys.Issue(ctx, defaultKey)
			if err != nil {
				return fmt.Errorf("seed api key: %w", err)
			}
			return printIssued(cmd.OutOrStdout(), "Default API key installed:", key, secret, false)
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "Delete every existing API key first")

	return cmd
}

func newKeyPurgeCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("purge deletes every API key; pass --yes to confirm")
			}
			st, settings, err := openConfiguredStore()
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := newKeyManager(st, settings).DeleteAll(context.Background())
			if err != nil {
				return fmt.Errorf("purge api keys: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d API key(s).\n", n)
			cacheNotice(cmd.ErrOrStderr(), settings)
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deletion")

	return cmd
}
