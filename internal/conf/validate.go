package conf

import (
	"fmt"
	"net"
	"slices"
	"strings"
)

// ValidationError collects every problem found in the settings.
type ValidationError struct {
	Errors []string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	for _, validate := range []func(*Settings) error{
		validateDatastoreSettings,
		validateStorageSettings,
		validateFilesystemSettings,
		validateDatabaseSettings,
		validateFinalSyncSettings,
		validateSchedulerSettings,
		validateMetricsSettings,
		validateNotificationSettings,
		validateTelemetrySettings,
	} {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateDatastoreSettings(s *Settings) error {
	switch s.Datastore.Type {
	case "sqlite":
		if s.Datastore.SQLite.Path == "" {
			return fmt.Errorf("datastore.sqlite.path is required")
		}
	case "mysql":
		if s.Datastore.MySQL.Host == "" || s.Datastore.MySQL.Database == "" {
			return fmt.Errorf("datastore.mysql.host and datastore.mysql.database are required")
		}
	default:
		return fmt.Errorf("datastore.type must be sqlite or mysql, got %q", s.Datastore.Type)
	}
	return nil
}

func validateStorageSettings(s *Settings) error {
	st := &s.Storage
	var errs []string

	switch st.Type {
	case "s3":
		if st.S3.Bucket == "" {
			errs = append(errs, "storage.s3.bucket is required")
		}
	case "sftp":
		if st.SFTP.Host == "" {
			errs = append(errs, "storage.sftp.host is required")
		}
		if st.SFTP.Password == "" && st.SFTP.KeyFile == "" {
			errs = append(errs, "storage.sftp needs a password or a key_file")
		}
	case "ftp":
		if st.FTP.Host == "" {
			errs = append(errs, "storage.ftp.host is required")
		}
	case "local":
		if st.Local.Path == "" {
			errs = append(errs, "storage.local.path is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.type must be one of s3, sftp, ftp, local, got %q", st.Type))
	}

	if st.Concurrency < 1 {
		errs = append(errs, fmt.Sprintf("storage.concurrency must be at least 1, got %d", st.Concurrency))
	}
	if st.RateLimit < 0 {
		errs = append(errs, "storage.rate_limit must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateFilesystemSettings(s *Settings) error {
	if s.Filesystem.HomeDir == "" {
		return fmt.Errorf("filesystem.home_dir is required")
	}
	return nil
}

func validateDatabaseSettings(s *Settings) error {
	if s.Database.DumpCommand == "" {
		return fmt.Errorf("database.dump_command is required")
	}
	if s.Database.ArtifactKey == "" {
		return fmt.Errorf("database.artifact_key is required")
	}
	if s.Database.Restore.DocumentName == "" {
		return fmt.Errorf("database.restore.document_name is required")
	}
	return nil
}

func validateFinalSyncSettings(s *Settings) error {
	fs := &s.FinalSync
	if fs.PollInitialDelay <= 0 {
		return fmt.Errorf("finalsync.poll_initial_delay must be positive")
	}
	if fs.PollMaxDelay < fs.PollInitialDelay {
		return fmt.Errorf("finalsync.poll_max_delay must not be shorter than poll_initial_delay")
	}
	if fs.DrainTimeout <= 0 {
		return fmt.Errorf("finalsync.drain_timeout must be positive")
	}
	return nil
}

func validateSchedulerSettings(s *Settings) error {
	if s.Scheduler.MaxJobs < 1 {
		return fmt.Errorf("scheduler.max_jobs must be at least 1, got %d", s.Scheduler.MaxJobs)
	}
	return nil
}

func validateMetricsSettings(s *Settings) error {
	if !s.Metrics.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(s.Metrics.Listen); err != nil {
		return fmt.Errorf("metrics.listen %q is not a host:port address: %w", s.Metrics.Listen, err)
	}
	return nil
}

func validateNotificationSettings(s *Settings) error {
	n := &s.Notification
	if n.MQTT.Enabled && (n.MQTT.Broker == "" || n.MQTT.Topic == "") {
		return fmt.Errorf("notification.mqtt.broker and notification.mqtt.topic are required when MQTT is enabled")
	}
	if n.Shoutrrr.Enabled && !slices.ContainsFunc(n.Shoutrrr.URLs, func(u string) bool { return strings.TrimSpace(u) != "" }) {
		return fmt.Errorf("notification.shoutrrr.urls needs at least one URL when shoutrrr is enabled")
	}
	return nil
}

func validateTelemetrySettings(s *Settings) error {
	if s.Telemetry.Enabled && s.Telemetry.DSN == "" {
		return fmt.Errorf("telemetry.dsn is required when telemetry is enabled")
	}
	return nil
}
