// Package entities contains the GORM models persisted by the datastore.
package entities

import (
	"time"

	"github.com/tphakala/migration-assistant/internal/migration/stage"
)

// Migration is one attempt at moving the application to the target deployment.
// At most one row is active: the newest whose stage is not finished.
type Migration struct {
	ID        uint        `gorm:"primaryKey"`
	Stage     stage.Stage `gorm:"type:varchar(40);not null;index"`
	CreatedAt time.Time   `gorm:"autoCreateTime"`
	UpdatedAt time.Time   `gorm:"autoUpdateTime"`

	Context MigrationContext `gorm:"foreignKey:MigrationID;constraint:OnDelete:CASCADE"`
}

// TableName returns the table name for GORM.
func (Migration) TableName() string {
	return "migrations"
}

// MigrationContext carries the identifiers of the provisioned resources and
// the timing of the database phase for a Migration.
type MigrationContext struct {
	ID          uint `gorm:"primaryKey"`
	MigrationID uint `gorm:"uniqueIndex;not null"`

	ApplicationDeploymentID string `gorm:"type:varchar(255)"`
	HelperStackDeploymentID string `gorm:"type:varchar(255)"`
	ServiceURL              string `gorm:"type:varchar(512)"`
	ErrorMessage            string `gorm:"type:text"`

	RDSRestoreSSMDocument      string `gorm:"column:rds_restore_ssm_document;type:varchar(255)"`
	FSRestoreSSMDocument       string `gorm:"column:fs_restore_ssm_document;type:varchar(255)"`
	FSRestoreStatusSSMDocument string `gorm:"column:fs_restore_status_ssm_document;type:varchar(255)"`

	MigrationStackASGIdentifier string `gorm:"column:migration_stack_asg_identifier;type:varchar(255)"`
	MigrationBucketName         string `gorm:"type:varchar(255)"`
	MigrationQueueURL           string `gorm:"column:migration_queue_url;type:varchar(512)"`
	MigrationDLQueueURL         string `gorm:"column:migration_dl_queue_url;type:varchar(512)"`

	// Unix seconds; zero means unset
	StartEpoch int64
	EndEpoch   int64

	DeploymentMode  string `gorm:"type:varchar(40)"`
	DeploymentState string `gorm:"type:varchar(40)"`
}

// TableName returns the table name for GORM.
func (MigrationContext) TableName() string {
	return "migration_contexts"
}

// CopyResourcesFrom copies every provisioned resource identifier from src.
// Messages and timing are not copied.
func (c *MigrationContext) CopyResourcesFrom(src *MigrationContext) {
	c.ApplicationDeploymentID = src.ApplicationDeploymentID
	c.HelperStackDeploymentID = src.HelperStackDeploymentID
	c.ServiceURL = src.ServiceURL
	c.RDSRestoreSSMDocument = src.RDSRestoreSSMDocument
	c.FSRestoreSSMDocument = src.FSRestoreSSMDocument
	c.FSRestoreStatusSSMDocument = src.FSRestoreStatusSSMDocument
	c.MigrationStackASGIdentifier = src.MigrationStackASGIdentifier
	c.MigrationBucketName = src.MigrationBucketName
	c.MigrationQueueURL = src.MigrationQueueURL
	c.MigrationDLQueueURL = src.MigrationDLQueueURL
	c.DeploymentMode = src.DeploymentMode
	c.DeploymentState = src.DeploymentState
}

// FileSyncRecord is a path changed on the source after the bulk copy.
// Records are appended by the capture ledger and consumed once by the final sync.
type FileSyncRecord struct {
	ID          uint      `gorm:"primaryKey"`
	MigrationID uint      `gorm:"index;not null"`
	Path        string    `gorm:"type:varchar(1024);not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

// TableName returns the table name for GORM.
func (FileSyncRecord) TableName() string {
	return "file_sync_records"
}
