// Package migration provides the commands that drive the stage machine by hand.
package migration

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tphakala/migration-assistant/internal/app"
	"github.com/tphakala/migration-assistant/internal/conf"
	"github.com/tphakala/migration-assistant/internal/migration/stage"
)

// Command creates the migration command and its subcommands.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migration",
		Short: "Create, advance, finish or reset migrations",
	}
	cmd.AddCommand(
		createCommand(settings),
		transitionCommand(settings),
		finishCommand(settings),
		errorCommand(settings),
		resetCommand(settings),
	)
	return cmd
}

func createCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Start a new migration at not_started",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Run(cmd.Context(), settings, func(ctx context.Context, a *app.App) error {
				m, err := a.Migrations.CreateMigration(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Migration %d created\n", m.ID)
				return nil
			})
		},
	}
}

func transitionCommand(settings *conf.Settings) *cobra.Command {
	var from string

	cmd := &cobra.Command{
		Use:   "transition <stage>",
		Short: "Move the current migration to another stage",
		Long: "Moves the current migration along one edge of the stage graph. " +
			"With --from the move only happens if the migration is still in that stage.\n\n" +
			"Stages: " + stageNames(),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, err := stage.Parse(args[0])
			if err != nil {
				return err
			}
			return app.Run(cmd.Context(), settings, func(ctx context.Context, a *app.App) error {
				if from == "" {
					err = a.Migrations.Transition(ctx, to)
				} else {
					var fromStage stage.Stage
					if fromStage, err = stage.Parse(from); err != nil {
						return err
					}
					err = a.Migrations.TransitionFrom(ctx, fromStage, to)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Migration moved to %s\n", to)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Only transition if the migration is in this stage")
	return cmd
}

func finishCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "finish",
		Short: "Mark the current migration as finished",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Run(cmd.Context(), settings, func(ctx context.Context, a *app.App) error {
				if err := a.Migrations.FinishCurrentMigration(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Migration finished")
				return nil
			})
		},
	}
}

func errorCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "error <message>",
		Short: "Move the current migration to the error stage",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg := strings.Join(args, " ")
			return app.Run(cmd.Context(), settings, func(ctx context.Context, a *app.App) error {
				return a.Migrations.Error(ctx, msg)
			})
		},
	}
}

func resetCommand(settings *conf.Settings) *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every migration and its recorded state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return fmt.Errorf("reset deletes all migration state, pass --yes to confirm")
			}
			return app.Run(cmd.Context(), settings, func(ctx context.Context, a *app.App) error {
				if err := a.Migrations.DeleteMigrations(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "All migrations deleted")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&confirm, "yes", false, "Confirm the deletion")
	return cmd
}

func stageNames() string {
	all := stage.All()
	names := make([]string, len(all))
	for i, s := range all {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}
