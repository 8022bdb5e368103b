package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yairfalse/autodiag/internal/config"
	"github.com/yairfalse/autodiag/internal/telemetry"
)

var (
	version = "0.1.0"

	configPath string
	debug      bool
	logFormat  string

	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "autodiag",
		Short: "Azure Automation diagnostic collector",
		Long: `autodiag - Azure Automation diagnostic collector

autodiag walks Azure Automation accounts and writes what it finds to a
result tree: configuration assets, runbooks (published and draft
definitions), a window of recent jobs and their output streams.

Every run gets its own directory, a journal of what was collected or
failed, and an entry in the run history.`,
		Version:           version,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`autodiag {{.Version}} - Azure Automation diagnostic collector
`)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "TOML config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (console, json)")
}

// setup loads configuration and configures logging before any command runs.
func setup(cmd *cobra.Command, _ []string) error {
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if debug {
		cfg.Log.Level = "debug"
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}

	return telemetry.SetupLogging(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
}
