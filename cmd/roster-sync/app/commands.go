// Package app provides the roster-sync command line.
package app

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/roster-sync/internal/config"
	"github.com/stacklok/roster-sync/internal/logging"
	"github.com/stacklok/roster-sync/internal/versions"
)

// NewRootCmd creates the root command with every subcommand attached
func NewRootCmd() *cobra.Command {
	var flush func()

	rootCmd := &cobra.Command{
		Use:               "roster-sync",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Short:             "Reconcile a membership roster into a hosted directory",
		Long: `roster-sync provisions directory accounts for active roster members, keeps
group membership in line with roster attributes and retires accounts of
members who left.

Each job runs in bounded invocations that resume from a checkpoint, so an
external scheduler can call "roster-sync run <job>" repeatedly.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, flushFn, err := logging.New(viper.GetString("log-level"), viper.GetString("log-format"))
			if err != nil {
				return err
			}
			flush = flushFn
			cmd.SetContext(logr.NewContext(cmd.Context(), logger))
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if flush != nil {
				flush()
			}
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().String("config", "", "Path to configuration file (YAML format)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", logging.FormatJSON, "Log format (json, console)")

	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	flags := rootCmd.PersistentFlags()
	for _, name := range []string{"config", "log-level", "log-format"} {
		mustBind(name, viper.BindPFlag(name, flags.Lookup(name)))
	}

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// mustBind panics when a flag could not be bound; flag names are static
func mustBind(name string, err error) {
	if err != nil {
		panic(fmt.Sprintf("failed to bind flag %s: %v", name, err))
	}
}

// loadConfig reads the file named by --config or ROSTER_SYNC_CONFIG
func loadConfig() (*config.Config, error) {
	path := viper.GetString("config")
	if path == "" {
		return nil, fmt.Errorf("a configuration file is required (--config or %s_CONFIG)", config.EnvPrefix)
	}
	cfg, err := config.LoadConfig(config.WithConfigPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versions.GetVersionInfo()
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return fmt.Errorf("failed to get format flag: %w", err)
			}

			if format == "json" {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "roster-sync %s (commit %s, built %s, %s, %s)\n",
				info.Version, info.Commit, info.BuildDate, info.GoVersion, info.Platform)
			return err
		},
	}
	cmd.Flags().String("format", "", "Output format (json)")
	return cmd
}
