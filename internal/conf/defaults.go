package conf

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig sets a default for every key, which also makes every key
// overridable from the environment.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("main.name", "migration-assistant")
	v.SetDefault("main.debug", false)

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", "logs/migration-assistant.log")
	v.SetDefault("logging.file_output.level", "debug")

	v.SetDefault("datastore.type", "sqlite")
	v.SetDefault("datastore.sqlite.path", "migration.db")
	v.SetDefault("datastore.mysql.host", "localhost")
	v.SetDefault("datastore.mysql.port", "3306")
	v.SetDefault("datastore.mysql.username", "")
	v.SetDefault("datastore.mysql.password", "")
	v.SetDefault("datastore.mysql.database", "migration")

	v.SetDefault("aws.region", "")
	v.SetDefault("aws.endpoint", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("aws.access_key_id", "")
	v.SetDefault("aws.secret_access_key", "")
	v.SetDefault("aws.session_token", "")
	v.SetDefault("aws.instance_group", "")

	v.SetDefault("storage.type", "s3")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.concurrency", 8)
	v.SetDefault("storage.rate_limit", 0.0)
	v.SetDefault("storage.rate_burst", 1)
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.part_concurrency", 5)
	v.SetDefault("storage.sftp.host", "")
	v.SetDefault("storage.sftp.port", 22)
	v.SetDefault("storage.sftp.username", "")
	v.SetDefault("storage.sftp.password", "")
	v.SetDefault("storage.sftp.key_file", "")
	v.SetDefault("storage.sftp.known_hosts_file", "")
	v.SetDefault("storage.sftp.base_path", "")
	v.SetDefault("storage.sftp.timeout", 30*time.Second)
	v.SetDefault("storage.ftp.host", "")
	v.SetDefault("storage.ftp.port", 21)
	v.SetDefault("storage.ftp.username", "")
	v.SetDefault("storage.ftp.password", "")
	v.SetDefault("storage.ftp.base_path", "")
	v.SetDefault("storage.ftp.timeout", 30*time.Second)
	v.SetDefault("storage.ftp.max_conns", 5)
	v.SetDefault("storage.local.path", "")

	v.SetDefault("filesystem.home_dir", "/home/app")
	v.SetDefault("filesystem.key_prefix", "home")
	v.SetDefault("filesystem.report_file", "fs-report.yaml")
	v.SetDefault("filesystem.download.document_name", "")
	v.SetDefault("filesystem.download.output_bucket", "")
	v.SetDefault("filesystem.download.output_prefix", "ssm-logs")
	v.SetDefault("filesystem.download.timeout_seconds", 3600)

	v.SetDefault("database.dump_command", "pg_dump")
	v.SetDefault("database.dump_args", []string{"--format=custom"})
	v.SetDefault("database.temp_dir", "")
	v.SetDefault("database.artifact_key", "db/db.dump")
	v.SetDefault("database.restore.document_name", "restoreDatabaseBackupToRDS")
	v.SetDefault("database.restore.output_bucket", "")
	v.SetDefault("database.restore.output_prefix", "ssm-logs")
	v.SetDefault("database.restore.timeout_seconds", 7200)

	v.SetDefault("migration.reuse_infrastructure", false)
	v.SetDefault("migration.capture_window", 2*time.Second)

	v.SetDefault("finalsync.queue_url", "")
	v.SetDefault("finalsync.poll_initial_delay", 5*time.Second)
	v.SetDefault("finalsync.poll_max_delay", time.Minute)
	v.SetDefault("finalsync.drain_timeout", 2*time.Hour)

	v.SetDefault("scheduler.max_jobs", 4)
	v.SetDefault("scheduler.stop_timeout", 30*time.Second)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "127.0.0.1:9090")
	v.SetDefault("metrics.debug", false)

	v.SetDefault("notification.buffer_size", 64)
	v.SetDefault("notification.mqtt.enabled", false)
	v.SetDefault("notification.mqtt.broker", "")
	v.SetDefault("notification.mqtt.client_id", "migration-assistant")
	v.SetDefault("notification.mqtt.username", "")
	v.SetDefault("notification.mqtt.password", "")
	v.SetDefault("notification.mqtt.topic", "migration-assistant/stage")
	v.SetDefault("notification.mqtt.retain", false)
	v.SetDefault("notification.shoutrrr.enabled", false)
	v.SetDefault("notification.shoutrrr.urls", []string{})
	v.SetDefault("notification.shoutrrr.timeout", 15*time.Second)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.dsn", "")
	v.SetDefault("telemetry.environment", "production")
}
