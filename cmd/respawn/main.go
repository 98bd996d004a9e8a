// Command respawn empties test databases between runs without dropping their
// schema.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"db_respawn/internal/config"
	"db_respawn/internal/logging"
	"db_respawn/internal/targets"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	flagConfig   string
	flagLogLevel string
)

// Loaded by PersistentPreRunE for commands that need configuration.
var (
	cfg    config.Config
	logger *slog.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "respawn",
	Short: "Reset test databases to an empty state",
	Long: `respawn deletes every row of the configured databases in an order that
respects foreign keys. Tables caught in foreign-key cycles are deleted last
while their constraints are relaxed.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "init-config" {
			return nil
		}
		loaded, err := config.Load(flagConfig)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if flagLogLevel != "" {
			loaded.LogLevel = flagLogLevel
		}
		cfg = loaded
		logger = logging.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: ./respawn.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initConfigCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(serveCmd)
}

// openTargets checks that every name in names is configured and connects the
// targets. An empty names selects all targets in file order.
func openTargets(names []string) (*targets.Set, []string, error) {
	if len(names) == 0 {
		names = cfg.TargetNames()
	}
	for _, name := range names {
		if _, ok := cfg.Target(name); !ok {
			return nil, nil, fmt.Errorf("%w: %s", targets.ErrUnknownTarget, name)
		}
	}
	set, err := targets.Open(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return set, names, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the respawn version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "respawn", version)
	},
}

var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write an example configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := flagConfig
		if path == "" {
			path = "respawn.yaml"
		}
		if err := config.WriteDefault(path); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "wrote", path)
		return nil
	},
}
