// Package status provides the status command.
package status

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/migration-assistant/cmd/cmdutil"
	"github.com/tphakala/migration-assistant/internal/app"
	"github.com/tphakala/migration-assistant/internal/conf"
	"github.com/tphakala/migration-assistant/internal/datastore/entities"
	"github.com/tphakala/migration-assistant/internal/errors"
	"github.com/tphakala/migration-assistant/internal/finalsync"
	"github.com/tphakala/migration-assistant/internal/migration"
	"github.com/tphakala/migration-assistant/internal/migration/stage"
	"github.com/tphakala/migration-assistant/internal/upload"
)

// Report is everything the status command prints.
type Report struct {
	MigrationID uint              `yaml:"migration_id,omitempty"`
	Stage       stage.Stage       `yaml:"stage"`
	Next        []stage.Stage     `yaml:"next_stages,omitempty"`
	Context     *ContextView      `yaml:"context,omitempty"`
	FinalSync   *finalsync.Status `yaml:"final_sync,omitempty"`
	Filesystem  *upload.Snapshot  `yaml:"filesystem,omitempty"`
}

// ContextView is the printable part of a migration context.
type ContextView struct {
	ServiceURL   string     `yaml:"service_url,omitempty"`
	Bucket       string     `yaml:"bucket,omitempty"`
	QueueURL     string     `yaml:"queue_url,omitempty"`
	ErrorMessage string     `yaml:"error_message,omitempty"`
	StartedAt    *time.Time `yaml:"started_at,omitempty"`
	EndedAt      *time.Time `yaml:"ended_at,omitempty"`
}

func contextView(mc *entities.MigrationContext) *ContextView {
	v := &ContextView{
		ServiceURL:   mc.ServiceURL,
		Bucket:       mc.MigrationBucketName,
		QueueURL:     mc.MigrationQueueURL,
		ErrorMessage: mc.ErrorMessage,
	}
	if mc.StartEpoch > 0 {
		t := time.Unix(mc.StartEpoch, 0).UTC()
		v.StartedAt = &t
	}
	if mc.EndEpoch > 0 {
		t := time.Unix(mc.EndEpoch, 0).UTC()
		v.EndedAt = &t
	}
	return v
}

// Command creates the status command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stage and progress of the current migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			return app.Run(ctx, settings, func(ctx context.Context, a *app.App) error {
				report, err := Collect(ctx, a)
				if err != nil {
					return err
				}
				return cmdutil.PrintYAML(cmd.OutOrStdout(), report)
			})
		},
	}
}

// Collect gathers the status of the active migration.
func Collect(ctx context.Context, a *app.App) (Report, error) {
	m, err := a.Migrations.CurrentMigration(ctx)
	if errors.Is(err, migration.ErrNoActiveMigration) {
		return Report{Stage: stage.NotStarted, Next: stage.NotStarted.ValidTransitions()}, nil
	}
	if err != nil {
		return Report{}, err
	}

	report := Report{MigrationID: m.ID, Stage: m.Stage, Next: m.Stage.ValidTransitions()}
	mc, err := a.Migrations.GetContext(ctx)
	if err != nil {
		return Report{}, err
	}
	report.Context = contextView(mc)

	if m.Stage.IsDBPhase() || m.Stage == stage.FinalSyncError {
		fsStatus, err := a.Controller.Status(ctx)
		if err != nil {
			return Report{}, err
		}
		report.FinalSync = &fsStatus
	}

	if _, err := a.LoadFilesystemReport(); err != nil {
		return Report{}, err
	}
	if fsReport, ok := a.FS.Report(); ok {
		snapshot := fsReport.Snapshot()
		report.Filesystem = &snapshot
	}
	return report, nil
}
