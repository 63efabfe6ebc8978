// Package finalsync provides the commands that run the database migration
// together with the final file sync.
package finalsync

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tphakala/migration-assistant/cmd/cmdutil"
	"github.com/tphakala/migration-assistant/internal/app"
	"github.com/tphakala/migration-assistant/internal/conf"
	fsync "github.com/tphakala/migration-assistant/internal/finalsync"
)

// Command creates the finalsync command and its subcommands.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "finalsync",
		Short: "Migrate the database and sync the files changed since the copy",
	}
	cmd.AddCommand(
		startCommand(settings),
		retryFSCommand(settings),
		retryDBCommand(settings),
		abortCommand(settings),
		statusCommand(settings),
		dbLogsCommand(settings),
		captureCommand(settings),
	)
	return cmd
}

// runOutcome runs a controller request and, when accepted, waits for the
// scheduled jobs before printing the final status.
func runOutcome(settings *conf.Settings, request func(*fsync.Controller, context.Context) (fsync.Outcome, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return app.Run(cmd.Context(), settings, func(ctx context.Context, a *app.App) error {
			outcome, err := request(a.Controller, ctx)
			if err != nil {
				return err
			}
			if outcome != fsync.Accepted {
				return fmt.Errorf("request refused: %s", outcome)
			}
			waitErr := a.Wait(ctx)
			status, err := a.Controller.Status(ctx)
			if err != nil {
				return err
			}
			if err := cmdutil.PrintYAML(cmd.OutOrStdout(), status); err != nil {
				return err
			}
			return waitErr
		})
	}
}

func startCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the database migration and the final file sync",
		Args:  cobra.NoArgs,
		RunE:  runOutcome(settings, (*fsync.Controller).Start),
	}
}

func retryFSCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "retry-fs",
		Short: "Retry the file sync after final_sync_error",
		Args:  cobra.NoArgs,
		RunE:  runOutcome(settings, (*fsync.Controller).RetryFSSync),
	}
}

func retryDBCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "retry-db",
		Short: "Retry the database migration after final_sync_error",
		Args:  cobra.NoArgs,
		RunE:  runOutcome(settings, (*fsync.Controller).RetryDBMigration),
	}
}

func abortCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "abort",
		Short: "Abort the database migration and drop the file sync job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Run(cmd.Context(), settings, func(ctx context.Context, a *app.App) error {
				cancelled, err := a.Controller.Abort(ctx)
				if err != nil {
					return err
				}
				if !cancelled {
					fmt.Fprintln(cmd.OutOrStdout(), "No database migration in progress")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Database migration aborted")
				return nil
			})
		},
	}
}

func statusCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the progress of both halves of the final sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Run(cmd.Context(), settings, func(ctx context.Context, a *app.App) error {
				status, err := a.Controller.Status(ctx)
				if err != nil {
					return err
				}
				return cmdutil.PrintYAML(cmd.OutOrStdout(), status)
			})
		},
	}
}

func dbLogsCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "db-logs",
		Short: "Show the output of the last database restore",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Run(cmd.Context(), settings, func(ctx context.Context, a *app.App) error {
				result, err := a.Controller.DBLogs(ctx)
				if err != nil {
					return err
				}
				return cmdutil.PrintYAML(cmd.OutOrStdout(), result)
			})
		},
	}
}

func captureCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "capture <path>...",
		Short: "Record changed files for the final sync",
		Long: "Records paths changed on the source after the copy. Paths are relative " +
			"to filesystem.home_dir or absolute paths inside it.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Run(cmd.Context(), settings, func(ctx context.Context, a *app.App) error {
				for _, p := range args {
					if err := a.Captor.Record(ctx, captureKey(settings.Filesystem.HomeDir, p)); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d path(s) recorded\n", len(args))
				return nil
			})
		},
	}
}

// captureKey turns absolute paths inside home into home-relative ones.
func captureKey(home, p string) string {
	if !filepath.IsAbs(p) || home == "" {
		return p
	}
	if rel, err := filepath.Rel(home, p); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return rel
	}
	return p
}
