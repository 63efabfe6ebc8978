package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/migration-assistant/internal/errors"
	"github.com/tphakala/migration-assistant/internal/logger"
)

// EnvPrefix is prepended to environment overrides, e.g. MIGRATION_STORAGE_TYPE.
const EnvPrefix = "MIGRATION"

// Settings is the complete configuration.
type Settings struct {
	Main struct {
		Name  string `yaml:"name" mapstructure:"name"`
		Debug bool   `yaml:"debug" mapstructure:"debug"`
	} `yaml:"main" mapstructure:"main"`

	Logging      logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Datastore    DatastoreSettings    `yaml:"datastore" mapstructure:"datastore"`
	AWS          AWSSettings          `yaml:"aws" mapstructure:"aws"`
	Storage      StorageSettings      `yaml:"storage" mapstructure:"storage"`
	Filesystem   FilesystemSettings   `yaml:"filesystem" mapstructure:"filesystem"`
	Database     DatabaseSettings     `yaml:"database" mapstructure:"database"`
	Migration    MigrationSettings    `yaml:"migration" mapstructure:"migration"`
	FinalSync    FinalSyncSettings    `yaml:"finalsync" mapstructure:"finalsync"`
	Scheduler    SchedulerSettings    `yaml:"scheduler" mapstructure:"scheduler"`
	Metrics      MetricsSettings      `yaml:"metrics" mapstructure:"metrics"`
	Notification NotificationSettings `yaml:"notification" mapstructure:"notification"`
	Telemetry    TelemetrySettings    `yaml:"telemetry" mapstructure:"telemetry"`
}

// DatastoreSettings selects the database holding migration state.
type DatastoreSettings struct {
	Type   string `yaml:"type" mapstructure:"type"` // sqlite or mysql
	SQLite struct {
		Path string `yaml:"path" mapstructure:"path"`
	} `yaml:"sqlite" mapstructure:"sqlite"`
	MySQL struct {
		Host     string `yaml:"host" mapstructure:"host"`
		Port     string `yaml:"port" mapstructure:"port"`
		Username string `yaml:"username" mapstructure:"username"`
		Password string `yaml:"password" mapstructure:"password"`
		Database string `yaml:"database" mapstructure:"database"`
	} `yaml:"mysql" mapstructure:"mysql"`
}

// AWSSettings configures the SDK session shared by S3, SQS and SSM.
type AWSSettings struct {
	Region          string `yaml:"region" mapstructure:"region"`
	Endpoint        string `yaml:"endpoint" mapstructure:"endpoint"`
	Profile         string `yaml:"profile" mapstructure:"profile"`
	AccessKeyID     string `yaml:"access_key_id" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" mapstructure:"secret_access_key"`
	SessionToken    string `yaml:"session_token" mapstructure:"session_token"`
	// InstanceGroup is the auto scaling group whose instance runs SSM documents.
	InstanceGroup string `yaml:"instance_group" mapstructure:"instance_group"`
}

// StorageSettings selects the object store the uploads are written to.
type StorageSettings struct {
	Type        string  `yaml:"type" mapstructure:"type"` // s3, sftp, ftp or local
	Prefix      string  `yaml:"prefix" mapstructure:"prefix"`
	Concurrency int     `yaml:"concurrency" mapstructure:"concurrency"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"` // files per second, 0 is unlimited
	RateBurst   int     `yaml:"rate_burst" mapstructure:"rate_burst"`

	S3 struct {
		Bucket          string `yaml:"bucket" mapstructure:"bucket"`
		PartConcurrency int    `yaml:"part_concurrency" mapstructure:"part_concurrency"`
	} `yaml:"s3" mapstructure:"s3"`

	SFTP struct {
		Host           string        `yaml:"host" mapstructure:"host"`
		Port           int           `yaml:"port" mapstructure:"port"`
		Username       string        `yaml:"username" mapstructure:"username"`
		Password       string        `yaml:"password" mapstructure:"password"`
		KeyFile        string        `yaml:"key_file" mapstructure:"key_file"`
		KnownHostsFile string        `yaml:"known_hosts_file" mapstructure:"known_hosts_file"`
		BasePath       string        `yaml:"base_path" mapstructure:"base_path"`
		Timeout        time.Duration `yaml:"timeout" mapstructure:"timeout"`
	} `yaml:"sftp" mapstructure:"sftp"`

	FTP struct {
		Host     string        `yaml:"host" mapstructure:"host"`
		Port     int           `yaml:"port" mapstructure:"port"`
		Username string        `yaml:"username" mapstructure:"username"`
		Password string        `yaml:"password" mapstructure:"password"`
		BasePath string        `yaml:"base_path" mapstructure:"base_path"`
		Timeout  time.Duration `yaml:"timeout" mapstructure:"timeout"`
		MaxConns int           `yaml:"max_conns" mapstructure:"max_conns"`
	} `yaml:"ftp" mapstructure:"ftp"`

	Local struct {
		Path string `yaml:"path" mapstructure:"path"`
	} `yaml:"local" mapstructure:"local"`
}

// SSMDocumentSettings describes a document run on the target instance.
type SSMDocumentSettings struct {
	DocumentName   string              `yaml:"document_name" mapstructure:"document_name"`
	Parameters     map[string][]string `yaml:"parameters" mapstructure:"parameters"`
	OutputBucket   string              `yaml:"output_bucket" mapstructure:"output_bucket"`
	OutputPrefix   string              `yaml:"output_prefix" mapstructure:"output_prefix"`
	TimeoutSeconds int64               `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// FilesystemSettings configures the home directory copy.
type FilesystemSettings struct {
	HomeDir   string `yaml:"home_dir" mapstructure:"home_dir"`
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix"`
	// ReportFile keeps the last copy report between CLI invocations.
	ReportFile string              `yaml:"report_file" mapstructure:"report_file"`
	Download   SSMDocumentSettings `yaml:"download" mapstructure:"download"`
}

// DatabaseSettings configures the export, upload and restore of the database.
type DatabaseSettings struct {
	DumpCommand string              `yaml:"dump_command" mapstructure:"dump_command"`
	DumpArgs    []string            `yaml:"dump_args" mapstructure:"dump_args"`
	TempDir     string              `yaml:"temp_dir" mapstructure:"temp_dir"`
	ArtifactKey string              `yaml:"artifact_key" mapstructure:"artifact_key"`
	Restore     SSMDocumentSettings `yaml:"restore" mapstructure:"restore"`
}

// MigrationSettings configures the stage machine.
type MigrationSettings struct {
	ReuseInfrastructure bool          `yaml:"reuse_infrastructure" mapstructure:"reuse_infrastructure"`
	CaptureWindow       time.Duration `yaml:"capture_window" mapstructure:"capture_window"`
}

// FinalSyncSettings configures the remote queue watcher.
type FinalSyncSettings struct {
	QueueURL         string        `yaml:"queue_url" mapstructure:"queue_url"`
	PollInitialDelay time.Duration `yaml:"poll_initial_delay" mapstructure:"poll_initial_delay"`
	PollMaxDelay     time.Duration `yaml:"poll_max_delay" mapstructure:"poll_max_delay"`
	DrainTimeout     time.Duration `yaml:"drain_timeout" mapstructure:"drain_timeout"`
}

// SchedulerSettings configures the background job scheduler.
type SchedulerSettings struct {
	MaxJobs     int           `yaml:"max_jobs" mapstructure:"max_jobs"`
	StopTimeout time.Duration `yaml:"stop_timeout" mapstructure:"stop_timeout"`
}

// MetricsSettings configures the Prometheus endpoint.
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Listen  string `yaml:"listen" mapstructure:"listen"`
	Debug   bool   `yaml:"debug" mapstructure:"debug"` // also serve /debug/pprof
}

// NotificationSettings configures stage notifications.
type NotificationSettings struct {
	BufferSize int `yaml:"buffer_size" mapstructure:"buffer_size"`

	MQTT struct {
		Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
		Broker   string `yaml:"broker" mapstructure:"broker"`
		ClientID string `yaml:"client_id" mapstructure:"client_id"`
		Username string `yaml:"username" mapstructure:"username"`
		Password string `yaml:"password" mapstructure:"password"`
		Topic    string `yaml:"topic" mapstructure:"topic"`
		Retain   bool   `yaml:"retain" mapstructure:"retain"`
	} `yaml:"mqtt" mapstructure:"mqtt"`

	Shoutrrr struct {
		Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
		URLs    []string      `yaml:"urls" mapstructure:"urls"`
		Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
	} `yaml:"shoutrrr" mapstructure:"shoutrrr"`
}

// TelemetrySettings configures Sentry error reporting.
type TelemetrySettings struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	DSN         string `yaml:"dsn" mapstructure:"dsn"`
	Environment string `yaml:"environment" mapstructure:"environment"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads configFile, or config.yaml from the default paths when it is
// empty, applies MIGRATION_* environment overrides and validates the result.
// A missing default config file is not an error.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	v, err := newViper(configFile)
	if err != nil {
		return nil, err
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(fmt.Errorf("error unmarshaling config into struct: %w", err)).
			Component("config").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, errors.New(err).
			Component("config").
			Category(errors.CategoryValidation).
			Context("config_file", v.ConfigFileUsed()).
			Build()
	}

	settingsInstance = settings
	return settingsInstance, nil
}

func newViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaultConfig(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.New(fmt.Errorf("error reading config file: %w", err)).
				Component("config").
				Category(errors.CategoryConfiguration).
				Context("config_file", configFile).
				Build()
		}
		return v, nil
	}

	v.SetConfigName("config")
	for _, path := range GetDefaultConfigPaths() {
		v.AddConfigPath(path)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.New(fmt.Errorf("fatal error reading config file: %w", err)).
				Component("config").
				Category(errors.CategoryConfiguration).
				Build()
		}
		GetLogger().Info("no config file found, using defaults and environment")
	}
	return v, nil
}

// GetSettings returns the settings of the last successful Load.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// GetDefaultConfigPaths returns the directories searched for config.yaml.
func GetDefaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "migration-assistant"))
	}
	return append(paths, "/etc/migration-assistant")
}

// SaveYAMLConfig writes settings to configPath through a temporary file so a
// failed write never leaves a truncated config behind.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}
	// credentials live in this file
	if err := os.Chmod(tempFileName, 0o600); err != nil {
		return fmt.Errorf("error setting config file permissions: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}
	return nil
}
