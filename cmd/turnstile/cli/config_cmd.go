package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/faucetdb/turnstile/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage Turnstile configuration",
		Long:  "Initialize a default configuration file or display the current effective configuration.",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

// ---------- config init ----------

func newConfigInitCmd() *cobra.Command {
	var (
		force bool
		path  string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default turnstile.yaml configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(cmd.OutOrStdout(), path, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config file")
	cmd.Flags().StringVar(&path, "path", "turnstile.yaml", "Where to write the file")

	return cmd
}

func runConfigInit(out io.Writer, path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	if err := config.WriteDefaultConfig(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(out, "Created %s\n", path)
	fmt.Fprintln(out, "Set auth.jwt_secret (or TURNSTILE_AUTH_JWT_SECRET), then run 'turnstile serve'.")
	return nil
}

// ---------- config show ----------

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd.OutOrStdout())
		},
	}
}

func runConfigShow(out io.Writer) error {
	configFile := viper.ConfigFileUsed()
	if configFile != "" {
		fmt.Fprintf(out, "# Config file: %s\n", configFile)
	} else {
		fmt.Fprintln(out, "# Config file: (none found, using defaults)")
	}

	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return err
	}
	if _, err := config.Parse(cfg); err != nil {
		fmt.Fprintf(out, "# WARNING: %v\n", err)
	}
	if cfg.Auth.JWTSecret != "" {
		cfg.Auth.JWTSecret = "********"
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	_, err = out.Write(data)
	return err
}
