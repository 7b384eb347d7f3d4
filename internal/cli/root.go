package cli

import (
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/cabb/almabatch/internal/config"
	"github.com/cabb/almabatch/internal/logging"
	"github.com/cabb/almabatch/internal/store"
)

// isTerminal checks if the given file is a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// logger is the package-level logger for CLI operations.
var logger zerolog.Logger //nolint:gochecknoglobals // Required for zerolog context integration

// Deps are the collaborators a command tree is built with. Zero fields get
// production defaults.
type Deps struct {
	// NewStore opens the record store for a loaded configuration.
	NewStore func(cfg *config.Config) (store.RecordStore, error)

	// Interactive reports whether the live progress view may be used.
	Interactive func() bool

	// LinkTransport replaces the link checker's transport.
	LinkTransport http.RoundTripper
}

func (d Deps) withDefaults() Deps {
	if d.NewStore == nil {
		d.NewStore = openAlmaStore
	}
	if d.Interactive == nil {
		d.Interactive = func() bool { return isTerminal(os.Stdout) && isTerminal(os.Stdin) }
	}
	return d
}

// NewRootCmd creates the root Cobra command for the almabatch CLI.
func NewRootCmd(ver string) *cobra.Command {
	return NewRootCmdWithDeps(ver, Deps{})
}

// NewRootCmdWithDeps creates the root command with explicit collaborators
// for testability.
func NewRootCmdWithDeps(ver string, deps Deps) *cobra.Command {
	deps = deps.withDefaults()
	var logResult *logging.LogPathResult

	cmd := &cobra.Command{
		Use:           "almabatch",
		Short:         "Batch metadata processing for the Alma catalog",
		Long:          "almabatch: export reports from and apply idempotent edits to Alma bibliographic records in bulk",
		Version:       ver,
		Example:       rootCmdExample,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadConfig(cmd); err != nil {
				return err
			}
			result := setupLogging(cmd)
			logResult = &result
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return cleanupLogging(logResult)
		},
	}

	cmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	cmd.PersistentFlags().String("config", "", "overlay this YAML file onto ~/.almabatch/config.yaml")
	cmd.PersistentFlags().Bool("no-tui", false, "print plain progress lines instead of the live view")

	cmd.AddCommand(
		newReportCmd(deps),
		newEditCmd(deps),
		newIDsCmd(deps),
		newAnalyzeCmd(),
		newConfigCmd(),
		newCacheCmd(),
	)
	return cmd
}

// loadConfig loads the config file, overlays --config and installs the
// result as the global configuration.
func loadConfig(cmd *cobra.Command) error {
	cfg, err := config.LoadDefault()
	if err != nil {
		return err
	}
	if overlay, _ := cmd.Flags().GetString("config"); overlay != "" {
		if err := config.ShallowMergeYAML(cfg, overlay); err != nil {
			return err
		}
		cfg.ApplyEnv()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("after applying %s: %w", overlay, err)
		}
	}
	config.SetGlobalConfig(cfg)
	return nil
}

const rootCmdExample = `  # Export the decade report for a set
  almabatch report decade --set 7071087320004146

  # Validate handles for the first 50 records listed in a CSV
  almabatch report handle-validation --file ids.csv --limit 50

  # Remove collection relations, previewing first
  almabatch edit --preset clear-collection-relations --set 7071087320004146 --dry-run

  # Summarize a decade report
  almabatch analyze decades output/decade_v1_20260224_152304.csv

  # Initialize configuration
  almabatch config init

  # Set configuration values
  almabatch config set batch.size 50`

// newConfigCmd creates the config command group with configuration subcommands.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Configuration management commands"}
	cmd.AddCommand(
		NewConfigInitCmd(), NewConfigSetCmd(), NewConfigGetCmd(),
		NewConfigShowCmd(), NewConfigValidateCmd(),
	)
	return cmd
}
