package app

import (
	"context"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/tphakala/migration-assistant/internal/conf"
	"github.com/tphakala/migration-assistant/internal/errors"
	"github.com/tphakala/migration-assistant/internal/logger"
	"github.com/tphakala/migration-assistant/internal/upload"
)

// Run builds the services, starts them, calls fn and closes everything again.
func Run(ctx context.Context, settings *conf.Settings, fn func(context.Context, *App) error) error {
	a, err := New(settings)
	if err != nil {
		return err
	}
	a.Start(ctx)

	runErr := fn(ctx, a)
	if closeErr := a.Close(); closeErr != nil {
		a.logger.Warn("shutdown incomplete", logger.Error(closeErr))
		if runErr == nil {
			runErr = closeErr
		}
	}
	return runErr
}

// SaveFilesystemReport writes the current filesystem report to the
// configured report file. It does nothing when no report exists yet.
func (a *App) SaveFilesystemReport() error {
	report, ok := a.Reports.CurrentReport(upload.KindFilesystem)
	if !ok || a.Settings.Filesystem.ReportFile == "" {
		return nil
	}

	data, err := yaml.Marshal(report.Snapshot())
	if err != nil {
		return errors.New(err).
			Component("app").
			Category(errors.CategoryFileIO).
			Build()
	}

	path := a.Settings.Filesystem.ReportFile
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return errors.New(err).
				Component("app").
				Category(errors.CategoryFileIO).
				Context("path", dir).
				Build()
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.New(err).
			Component("app").
			Category(errors.CategoryFileIO).
			Context("path", tmp).
			Build()
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.New(err).
			Component("app").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	return nil
}

// LoadFilesystemReport installs the report saved by an earlier process.
// It returns false when there is no saved report.
func (a *App) LoadFilesystemReport() (bool, error) {
	path := a.Settings.Filesystem.ReportFile
	if path == "" {
		return false, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, errors.New(err).
			Component("app").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}

	var snapshot upload.Snapshot
	if err := yaml.Unmarshal(data, &snapshot); err != nil {
		return false, errors.New(err).
			Component("app").
			Category(errors.CategoryValidation).
			Context("path", path).
			Build()
	}
	snapshot.Kind = upload.KindFilesystem
	a.Reports.Restore(snapshot)
	return true, nil
}
