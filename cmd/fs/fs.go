// Package fs provides the filesystem migration commands.
package fs

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/migration-assistant/cmd/cmdutil"
	"github.com/tphakala/migration-assistant/internal/app"
	"github.com/tphakala/migration-assistant/internal/conf"
	"github.com/tphakala/migration-assistant/internal/errors"
	"github.com/tphakala/migration-assistant/internal/fsmigration"
	"github.com/tphakala/migration-assistant/internal/logger"
)

// Command creates the fs command and its subcommands.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fs",
		Short: "Copy the home directory to the target",
	}
	cmd.AddCommand(startCommand(settings), retryCommand(settings), abortCommand(settings))
	return cmd
}

func startCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Copy the home directory and wait for the target to download it",
		Long: "Runs the filesystem migration in the foreground. The migration must be in " +
			"fs_migration_copy. The copy report is saved to filesystem.report_file.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Run(cmd.Context(), settings, func(ctx context.Context, a *app.App) error {
				scheduled, err := a.FS.ScheduleMigration(ctx)
				if err != nil {
					return err
				}
				if !scheduled {
					return fmt.Errorf("filesystem migration could not be scheduled")
				}
				return finish(ctx, cmd, a)
			})
		},
	}
}

func retryCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Upload again the files the last copy could not upload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Run(cmd.Context(), settings, func(ctx context.Context, a *app.App) error {
				loaded, err := a.LoadFilesystemReport()
				if err != nil {
					return err
				}
				if !loaded {
					return fsmigration.ErrNoReport
				}
				retryErr := a.Retry.UploadFailedFiles(ctx)
				if err := finish(ctx, cmd, a); err != nil {
					return errors.Join(retryErr, err)
				}
				return retryErr
			})
		},
	}
}

func abortCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "abort",
		Short: "Stop the filesystem migration and move it to error",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Run(cmd.Context(), settings, func(ctx context.Context, a *app.App) error {
				if err := a.FS.AbortMigration(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Filesystem migration aborted")
				return nil
			})
		},
	}
}

// finish waits for the scheduled job, saves the report and prints it.
func finish(ctx context.Context, cmd *cobra.Command, a *app.App) error {
	waitErr := a.Wait(ctx)
	if err := a.SaveFilesystemReport(); err != nil {
		logger.Global().Module("cli").Warn("unable to save filesystem report", logger.Error(err))
	}
	if report, ok := a.FS.Report(); ok {
		if err := cmdutil.PrintYAML(cmd.OutOrStdout(), report.Snapshot()); err != nil {
			return err
		}
	}
	return waitErr
}
