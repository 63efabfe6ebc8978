// Package cmd assembles the migration-assistant command line.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/migration-assistant/cmd/finalsync"
	"github.com/tphakala/migration-assistant/cmd/fs"
	"github.com/tphakala/migration-assistant/cmd/migration"
	"github.com/tphakala/migration-assistant/cmd/serve"
	"github.com/tphakala/migration-assistant/cmd/status"
	"github.com/tphakala/migration-assistant/internal/conf"
	"github.com/tphakala/migration-assistant/internal/errors"
	"github.com/tphakala/migration-assistant/internal/logger"
)

// RootCommand creates the root command. Subcommands share settings, which
// are loaded before any of them runs.
func RootCommand(settings *conf.Settings, version string) *cobra.Command {
	var (
		configFile string
		debug      bool
	)

	rootCmd := &cobra.Command{
		Use:          "migration-assistant",
		Short:        "Move a home directory and its database to new infrastructure",
		Version:      version,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config.yaml")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug output")

	rootCmd.AddCommand(
		status.Command(settings),
		migration.Command(settings),
		fs.Command(settings),
		finalsync.Command(settings),
		serve.Command(settings),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		loaded, err := conf.Load(configFile)
		if err != nil {
			return err
		}
		*settings = *loaded
		if debug {
			settings.Main.Debug = true
		}
		return initialize(settings, version)
	}

	return rootCmd
}

// initialize sets up logging and error reporting for the loaded settings.
func initialize(settings *conf.Settings, version string) error {
	if settings.Main.Debug {
		settings.Logging.DefaultLevel = "debug"
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = "debug"
		}
	}

	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)

	if settings.Telemetry.Enabled {
		if err := errors.InitSentry(settings.Telemetry.DSN, version); err != nil {
			central.Module("main").Warn("error reporting disabled", logger.Error(err))
		}
	}
	return nil
}
