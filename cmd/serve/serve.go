// Package serve provides the long running metrics and notification process.
package serve

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/migration-assistant/internal/app"
	"github.com/tphakala/migration-assistant/internal/conf"
	"github.com/tphakala/migration-assistant/internal/logger"
	"github.com/tphakala/migration-assistant/internal/observability"
)

// Command creates the serve command.
func Command(settings *conf.Settings) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose metrics and track the migration stage until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Run(cmd.Context(), settings, func(ctx context.Context, a *app.App) error {
				return serve(ctx, a, interval)
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 15*time.Second, "How often the stage gauge is refreshed")
	return cmd
}

func serve(ctx context.Context, a *app.App, interval time.Duration) error {
	log := logger.Global().Module("serve")
	g, ctx := errgroup.WithContext(ctx)

	if a.Settings.Metrics.Enabled {
		endpoint, err := observability.NewEndpoint(a.Settings.Metrics.Listen, a.Metrics)
		if err != nil {
			return err
		}
		endpoint.EnableDebug(a.Settings.Metrics.Debug)
		g.Go(func() error { return endpoint.Run(ctx) })
	}

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			current, err := a.Migrations.CurrentStage(ctx)
			if err != nil && ctx.Err() == nil {
				log.Warn("unable to read migration stage", logger.Error(err))
			} else if err == nil {
				a.Metrics.Migration.SetCurrentStage(current.Ordinal())
			}

			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})

	log.Info("serving", logger.Bool("metrics", a.Settings.Metrics.Enabled))
	return g.Wait()
}
