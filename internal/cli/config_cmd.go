package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cabb/almabatch/internal/config"
)

// NewConfigInitCmd creates the config init command for initializing configuration.
func NewConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration file with default values",
		Long:  `Creates ~/.almabatch/config.yaml (or $ALMABATCH_HOME/config.yaml) with default values.`,
		Example: `  # Create configuration
  almabatch config init

  # Create configuration, overwriting existing
  almabatch config init --force`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.New()

			if !force {
				if _, err := os.Stat(cfg.ConfigPath()); err == nil {
					return errors.New("configuration file already exists, use --force to overwrite")
				} else if !os.IsNotExist(err) {
					return fmt.Errorf("cannot access config path %s: %w", cfg.ConfigPath(), err)
				}
			}

			if err := cfg.Save(); err != nil {
				return fmt.Errorf("failed to save configuration: %w", err)
			}
			if err := config.EnsureSubDirs(); err != nil {
				return err
			}

			cmd.Printf("Configuration initialized successfully\n")
			cmd.Printf("Configuration file: %s\n", cfg.ConfigPath())
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing configuration file")
	return cmd
}

// NewConfigGetCmd creates the config get command.
func NewConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print one configuration value",
		Example: `  almabatch config get batch.size
  almabatch config get api.region`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := config.GetGlobalConfig().Get(args[0])
			if err != nil {
				return fmt.Errorf("%w (keys: %s)", err, strings.Join(config.GetGlobalConfig().Keys(), ", "))
			}
			if args[0] == "api.api_key" && v != "" {
				v = maskSecret(v)
			}
			cmd.Println(v)
			return nil
		},
	}
}

// NewConfigSetCmd creates the config set command. Only the config file is
// changed; environment overrides still win at load time.
func NewConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one configuration value in the config file",
		Example: `  almabatch config set batch.size 50
  almabatch config set cache.enabled true
  almabatch config set batch.retry_delay 5s`,
		Args: cobra.ExactArgs(2), //nolint:mnd // key and value
		RunE: func(cmd *cobra.Command, args []string) error {
			// Start from the file alone so env overrides are not persisted.
			cfg := config.New()
			if data, err := os.ReadFile(cfg.ConfigPath()); err == nil {
				if err := yaml.Unmarshal(data, cfg); err != nil {
					return fmt.Errorf("parsing %s: %w", cfg.ConfigPath(), err)
				}
			} else if !os.IsNotExist(err) {
				return err
			}

			if err := cfg.Set(args[0], args[1]); err != nil {
				return err
			}
			if err := cfg.Save(); err != nil {
				return fmt.Errorf("failed to save configuration: %w", err)
			}
			cmd.Printf("Set %s in %s\n", args[0], cfg.ConfigPath())
			return nil
		},
	}
}

// NewConfigShowCmd creates the config show command printing the effective
// configuration.
func NewConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := *config.GetGlobalConfig()
			if cfg.API.APIKey != "" {
				cfg.API.APIKey = maskSecret(cfg.API.APIKey)
			}
			data, err := yaml.Marshal(&cfg)
			if err != nil {
				return err
			}
			cmd.Printf("# %s\n%s", cfg.ConfigPath(), data)
			return nil
		},
	}
}

// NewConfigValidateCmd creates the config validate command.
func NewConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.GetGlobalConfig().Validate(); err != nil {
				return fmt.Errorf("configuration validation failed: %w", err)
			}
			cmd.Println("Configuration is valid")
			return nil
		},
	}
}

// maskSecret keeps the last four characters of a secret.
func maskSecret(s string) string {
	const visible = 4
	if len(s) <= visible {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-visible) + s[len(s)-visible:]
}
