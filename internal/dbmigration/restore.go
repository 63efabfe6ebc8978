package dbmigration

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tphakala/migration-assistant/internal/errors"
	"github.com/tphakala/migration-assistant/internal/logger"
	"github.com/tphakala/migration-assistant/internal/migration"
	"github.com/tphakala/migration-assistant/internal/remote"
)

// ErrCommandNotInitialised is returned when the restore command was never started.
var ErrCommandNotInitialised = errors.NewStd("restore command was not executed")

// criticalErrors are restore stderr substrings that mean the target
// database could not be reached at all.
var criticalErrors = []string{
	"could not connect to server",
	"could not translate host name",
	"Connection timed out",
	"No route to host",
	"Name or service not known",
}

// IsCritical reports whether stderr contains one of the critical errors.
func IsCritical(stderr string) bool {
	if strings.TrimSpace(stderr) == "" {
		return false
	}
	for _, e := range criticalErrors {
		if strings.Contains(stderr, e) {
			return true
		}
	}
	return false
}

// CommandResult is the outcome of the last restore command.
type CommandResult struct {
	ErrorMessage  string `json:"errorMessage"`
	CriticalError bool   `json:"criticalError"`
	ConsoleURL    string `json:"consoleUrl"`
}

// RestoreConfig names where the restore command writes its full output.
type RestoreConfig struct {
	OutputBucket string
	OutputPrefix string
	DocumentName string
}

// instanceReporter is implemented by operations that run on a named instance.
type instanceReporter interface {
	InstanceID() string
}

// RestoreService runs the database restore operation and inspects its output.
type RestoreService struct {
	op     remote.Operation
	config RestoreConfig
	poll   remote.PollConfig
	logger logger.Logger

	mu      sync.Mutex
	started bool
}

// NewRestoreService wraps op, normally an SSM document runner.
func NewRestoreService(op remote.Operation, cfg RestoreConfig, poll remote.PollConfig) *RestoreService {
	return &RestoreService{op: op, config: cfg, poll: poll, logger: GetLogger().Module("restore")}
}

// Restore starts the restore, calls onStarted once it is running and waits
// for it to finish. A failed command or a critical error in its stderr is a
// DatabaseMigrationFailure.
func (r *RestoreService) Restore(ctx context.Context, onStarted func(context.Context) error) error {
	r.logger.Info("starting the database restore operation")

	commandID, err := r.op.Start(ctx)
	if err != nil {
		return migration.NewDatabaseMigrationFailure("unable to run db restore command", err)
	}
	r.mu.Lock()
	r.started = true
	r.mu.Unlock()

	if onStarted != nil {
		if err := onStarted(ctx); err != nil {
			return err
		}
	}

	status, err := remote.Await(ctx, r.op, r.poll)
	if err != nil {
		return err
	}
	if status != remote.StatusSuccess {
		return migration.NewDatabaseMigrationFailure(
			"Error restoring database. Either download of database dump from S3 failed or pg_restore failed",
			fmt.Errorf("restore command %s finished with status %s", commandID, status))
	}

	return r.checkForCriticalError(ctx)
}

func (r *RestoreService) checkForCriticalError(ctx context.Context) error {
	out, err := r.op.FetchLastOutput(ctx)
	if err != nil {
		return migration.NewDatabaseMigrationFailure("unable to read restore output", err)
	}
	if IsCritical(out.Stderr) {
		r.logger.Error("critical error during database restore", logger.String("stderr", out.Stderr))
		return migration.NewDatabaseMigrationFailure(out.Stderr, nil)
	}
	return nil
}

// Cancel stops a running restore.
func (r *RestoreService) Cancel(ctx context.Context) error {
	return r.op.Cancel(ctx)
}

// FetchCommandResult returns the stderr of the last restore, whether it was
// critical, and where its full output can be browsed.
func (r *RestoreService) FetchCommandResult(ctx context.Context) (CommandResult, error) {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if !started {
		return CommandResult{}, ErrCommandNotInitialised
	}

	out, err := r.op.FetchLastOutput(ctx)
	if errors.Is(err, remote.ErrNotStarted) {
		return CommandResult{}, ErrCommandNotInitialised
	}
	if err != nil {
		return CommandResult{}, err
	}

	instanceID := ""
	if ir, ok := r.op.(instanceReporter); ok {
		instanceID = ir.InstanceID()
	}

	return CommandResult{
		ErrorMessage:  out.Stderr,
		CriticalError: IsCritical(out.Stderr),
		ConsoleURL:    r.consoleURL(out.CommandID, instanceID),
	}, nil
}

func (r *RestoreService) consoleURL(commandID, instanceID string) string {
	if r.config.OutputBucket == "" {
		return ""
	}
	return fmt.Sprintf("https://console.aws.amazon.com/s3/buckets/%s/%s/%s/%s/awsrunShellScript/%s/",
		r.config.OutputBucket,
		r.config.OutputPrefix,
		commandID,
		instanceID,
		r.config.DocumentName)
}
