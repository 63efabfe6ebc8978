// Package app builds the migration services from the loaded settings and
// owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/aws/aws-sdk-go/aws/session"

	"github.com/tphakala/migration-assistant/internal/awsclient"
	"github.com/tphakala/migration-assistant/internal/captor"
	"github.com/tphakala/migration-assistant/internal/conf"
	"github.com/tphakala/migration-assistant/internal/datastore"
	"github.com/tphakala/migration-assistant/internal/dbmigration"
	"github.com/tphakala/migration-assistant/internal/errors"
	"github.com/tphakala/migration-assistant/internal/finalsync"
	"github.com/tphakala/migration-assistant/internal/fsmigration"
	"github.com/tphakala/migration-assistant/internal/logger"
	"github.com/tphakala/migration-assistant/internal/migration"
	"github.com/tphakala/migration-assistant/internal/notification"
	"github.com/tphakala/migration-assistant/internal/observability"
	"github.com/tphakala/migration-assistant/internal/remote"
	"github.com/tphakala/migration-assistant/internal/scheduler"
	"github.com/tphakala/migration-assistant/internal/storage"
	"github.com/tphakala/migration-assistant/internal/upload"
)

const dumpFileName = "db.dump"

// App holds every service of one process.
type App struct {
	Settings   *conf.Settings
	Metrics    *observability.Metrics
	Store      *datastore.GormStore
	Migrations *migration.Service
	Scheduler  *scheduler.Scheduler
	Reports    *upload.ReportManager
	Objects    storage.ObjectStore
	Captor     *captor.StoreCaptor
	FS         *fsmigration.Service
	Retry      *fsmigration.RetryFailedFileMigration
	DB         *dbmigration.Coordinator
	Watcher    *finalsync.QueueWatcher
	FinalSync  *finalsync.Service
	Controller *finalsync.Controller
	Dispatcher *notification.Dispatcher

	mqtt    *notification.MQTTPublisher
	session *session.Session
	logger  logger.Logger

	closeOnce sync.Once
}

// New opens the datastore and builds the services. Nothing runs until Start.
func New(settings *conf.Settings) (*App, error) {
	a := &App{Settings: settings, Reports: upload.NewReportManager(), logger: GetLogger()}

	var err error
	if a.Metrics, err = observability.NewMetrics(); err != nil {
		return nil, err
	}

	a.Store, err = datastore.Open(&datastore.Config{
		Type:       datastore.Type(settings.Datastore.Type),
		SQLitePath: settings.Datastore.SQLite.Path,
		MySQL: datastore.MySQLConfig{
			Host:     settings.Datastore.MySQL.Host,
			Port:     settings.Datastore.MySQL.Port,
			Username: settings.Datastore.MySQL.Username,
			Password: settings.Datastore.MySQL.Password,
			Database: settings.Datastore.MySQL.Database,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := a.build(); err != nil {
		if closeErr := a.Store.Close(); closeErr != nil {
			a.logger.Warn("failed to close datastore", logger.Error(closeErr))
		}
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	s := a.Settings

	senders, err := a.notificationSenders()
	if err != nil {
		return err
	}
	a.Dispatcher = notification.NewDispatcher(senders,
		notification.WithBufferSize(s.Notification.BufferSize),
		notification.WithDeliveryMetrics(a.Metrics.Notification))

	a.Migrations = migration.NewService(a.Store,
		migration.WithReuseInfrastructure(s.Migration.ReuseInfrastructure),
		migration.WithMetrics(a.Metrics.Migration),
		migration.WithListener(a.Dispatcher))

	a.Scheduler = scheduler.New(
		scheduler.WithMaxJobs(s.Scheduler.MaxJobs),
		scheduler.WithMetrics(a.Metrics.Scheduler))

	if a.Objects, err = a.objectStore(); err != nil {
		return err
	}

	download, err := a.ssmOperation(s.Filesystem.Download)
	if err != nil {
		return err
	}
	a.FS = fsmigration.NewService(a.Migrations, a.Scheduler, a.Reports, a.Objects, download, fsmigration.Config{
		HomeDir:     s.Filesystem.HomeDir,
		KeyPrefix:   s.Filesystem.KeyPrefix,
		Concurrency: s.Storage.Concurrency,
		RateLimit:   s.Storage.RateLimit,
		RateBurst:   s.Storage.RateBurst,
		Poll:        remote.DefaultPollConfig(),
		Metrics:     a.Metrics.Upload,
	})
	a.Retry = fsmigration.NewRetryFailedFileMigration(a.FS, a.Migrations)

	if err := a.buildDatabaseMigration(); err != nil {
		return err
	}

	sess, err := a.awsSession()
	if err != nil {
		return err
	}
	a.Captor = captor.New(a.Store, a.Migrations, s.Migration.CaptureWindow)
	a.Watcher = finalsync.NewQueueWatcher(a.Migrations, awsclient.NewSQSQueueDepth(sess), finalsync.WatcherConfig{
		PollInitialDelay: s.FinalSync.PollInitialDelay,
		PollMaxDelay:     s.FinalSync.PollMaxDelay,
		DrainTimeout:     s.FinalSync.DrainTimeout,
		QueueURL:         s.FinalSync.QueueURL,
		Metrics:          a.Metrics.FinalSync,
	})

	runnerOpts := []upload.Option{
		upload.WithRoot(s.Filesystem.HomeDir),
		upload.WithKeyPrefix(s.Filesystem.KeyPrefix),
		upload.WithConcurrency(s.Storage.Concurrency),
		upload.WithMetrics(a.Metrics.Upload),
	}
	if s.Storage.RateLimit > 0 {
		runnerOpts = append(runnerOpts, upload.WithRateLimit(s.Storage.RateLimit, s.Storage.RateBurst))
	}
	runner := finalsync.NewRunner(a.Migrations, a.Reports, a.Captor, a.Objects, a.Watcher, runnerOpts...)
	a.FinalSync = finalsync.NewService(a.Scheduler, runner, a.Watcher, a.Reports)
	a.Controller = finalsync.NewController(a.Migrations, a.DB, a.FinalSync)
	return nil
}

func (a *App) buildDatabaseMigration() error {
	db := a.Settings.Database

	tempDir := db.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	dumpPath := filepath.Join(tempDir, dumpFileName)
	args := append(append([]string(nil), db.DumpArgs...), "--file="+dumpPath)
	export := remote.NewProcessOperation(db.DumpCommand, args, nil, tempDir)

	restoreOp, err := a.ssmOperation(db.Restore)
	if err != nil {
		return err
	}
	restore := dbmigration.NewRestoreService(restoreOp, dbmigration.RestoreConfig{
		OutputBucket: db.Restore.OutputBucket,
		OutputPrefix: db.Restore.OutputPrefix,
		DocumentName: db.Restore.DocumentName,
	}, remote.DefaultPollConfig())

	a.DB = dbmigration.NewCoordinator(a.Migrations, a.Scheduler, export, a.Objects, restore, dbmigration.Config{
		DumpPath:    dumpPath,
		ArtifactKey: db.ArtifactKey,
		Poll:        remote.DefaultPollConfig(),
		Metrics:     a.Metrics.Migration,
	})
	return nil
}

// ssmOperation returns nil when no document is configured.
func (a *App) ssmOperation(doc conf.SSMDocumentSettings) (remote.Operation, error) {
	if doc.DocumentName == "" {
		return nil, nil
	}
	sess, err := a.awsSession()
	if err != nil {
		return nil, err
	}
	resolver := awsclient.NewASGInstanceResolver(sess, a.Settings.AWS.InstanceGroup)
	return awsclient.NewSSMDocumentRunner(sess, resolver, awsclient.SSMDocumentConfig{
		DocumentName:   doc.DocumentName,
		Parameters:     doc.Parameters,
		OutputBucket:   doc.OutputBucket,
		OutputPrefix:   doc.OutputPrefix,
		TimeoutSeconds: doc.TimeoutSeconds,
	}), nil
}

func (a *App) awsSession() (*session.Session, error) {
	if a.session != nil {
		return a.session, nil
	}
	cfg := a.Settings.AWS
	sess, err := awsclient.NewSession(awsclient.Config{
		Region:          cfg.Region,
		Endpoint:        cfg.Endpoint,
		Profile:         cfg.Profile,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		SessionToken:    cfg.SessionToken,
	})
	if err != nil {
		return nil, err
	}
	a.session = sess
	return sess, nil
}

func (a *App) objectStore() (storage.ObjectStore, error) {
	st := a.Settings.Storage
	switch st.Type {
	case "s3":
		sess, err := a.awsSession()
		if err != nil {
			return nil, err
		}
		return storage.NewS3Store(sess, storage.S3Config{
			Bucket:          st.S3.Bucket,
			Prefix:          st.Prefix,
			PartConcurrency: st.S3.PartConcurrency,
		})
	case "sftp":
		return storage.NewSFTPStore(storage.SFTPConfig{
			Host:           st.SFTP.Host,
			Port:           st.SFTP.Port,
			Username:       st.SFTP.Username,
			Password:       st.SFTP.Password,
			KeyFile:        st.SFTP.KeyFile,
			KnownHostsFile: st.SFTP.KnownHostsFile,
			BasePath:       joinBase(st.SFTP.BasePath, st.Prefix),
			Timeout:        st.SFTP.Timeout,
		})
	case "ftp":
		return storage.NewFTPStore(storage.FTPConfig{
			Host:     st.FTP.Host,
			Port:     st.FTP.Port,
			Username: st.FTP.Username,
			Password: st.FTP.Password,
			BasePath: joinBase(st.FTP.BasePath, st.Prefix),
			Timeout:  st.FTP.Timeout,
			MaxConns: st.FTP.MaxConns,
		})
	case "local":
		return storage.NewLocalStore(filepath.Join(st.Local.Path, filepath.FromSlash(st.Prefix)))
	default:
		return nil, errors.Newf("unsupported storage type %q", st.Type).
			Component("app").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

func joinBase(base, prefix string) string {
	if prefix == "" {
		return base
	}
	if base == "" {
		return prefix
	}
	return base + "/" + prefix
}

func (a *App) notificationSenders() ([]notification.Sender, error) {
	n := a.Settings.Notification
	var senders []notification.Sender

	if n.MQTT.Enabled {
		p, err := notification.NewMQTTPublisher(notification.MQTTConfig{
			Broker:   n.MQTT.Broker,
			ClientID: n.MQTT.ClientID,
			Username: n.MQTT.Username,
			Password: n.MQTT.Password,
			Topic:    n.MQTT.Topic,
			Retain:   n.MQTT.Retain,
		}, a.Metrics.Notification)
		if err != nil {
			return nil, err
		}
		a.mqtt = p
		senders = append(senders, p)
	}

	if n.Shoutrrr.Enabled {
		s, err := notification.NewShoutrrrNotifier(n.Shoutrrr.URLs, n.Shoutrrr.Timeout)
		if err != nil {
			return nil, err
		}
		senders = append(senders, s)
	}
	return senders, nil
}

// Start enables the scheduler and the notification worker. An unreachable
// MQTT broker is logged; paho keeps retrying in the background.
func (a *App) Start(ctx context.Context) {
	a.Scheduler.Start(ctx)
	a.Dispatcher.Start(ctx)
	if a.mqtt != nil {
		if err := a.mqtt.Connect(ctx); err != nil {
			a.logger.Warn("MQTT broker not reachable", logger.Error(err))
		}
	}
}

// Wait blocks until every scheduled job has returned or ctx is done.
func (a *App) Wait(ctx context.Context) error {
	return a.Scheduler.Wait(ctx)
}

// Close stops the jobs and releases every resource. It is safe to call more than once.
func (a *App) Close() error {
	var errs []error
	a.closeOnce.Do(func() {
		if err := a.Scheduler.Stop(a.Settings.Scheduler.StopTimeout); err != nil {
			errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
		}
		a.Dispatcher.Stop()
		if a.mqtt != nil {
			a.mqtt.Close()
		}
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close datastore: %w", err))
		}
	})
	return errors.Join(errs...)
}
