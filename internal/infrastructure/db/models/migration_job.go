package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type MigrationJob struct {
	ID              string         `gorm:"type:uuid;primaryKey"`
	OrgID           string         `gorm:"type:text;not null;index:idx_migration_jobs_org"`
	Source          string         `gorm:"type:text;not null"`
	Status          string         `gorm:"type:text;not null;index:idx_migration_jobs_status"`
	Options         datatypes.JSON `gorm:"not null"`
	Cursor          datatypes.JSON
	TotalRecords    int64   `gorm:"not null;default:0"`
	ImportedRecords int64   `gorm:"not null;default:0"`
	SkippedRecords  int64   `gorm:"not null;default:0"`
	ErrorRecords    int64   `gorm:"not null;default:0"`
	PercentComplete int     `gorm:"not null;default:0"`
	LastError       *string `gorm:"type:text"`
	FetchFailures   int     `gorm:"not null;default:0"`
	RetryAt         *time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	RolledBackAt    *time.Time
	CreatedBy       string `gorm:"type:text;not null;default:''"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (MigrationJob) TableName() string {
	return "migration_jobs"
}

func (j *MigrationJob) BeforeCreate(*gorm.DB) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	return nil
}

type MigrationItem struct {
	ID              string         `gorm:"type:uuid;primaryKey"`
	JobID           string         `gorm:"type:uuid;not null;index:idx_migration_items_job_seq,priority:1;index:idx_migration_items_job_target,priority:1"`
	Seq             int64          `gorm:"not null;index:idx_migration_items_job_seq,priority:2"`
	ExternalID      string         `gorm:"type:text;not null"`
	EntityType      string         `gorm:"type:text;not null"`
	Payload         datatypes.JSON `gorm:"column:canonical_payload;not null"`
	Result          datatypes.JSON
	MatchDecision   *string `gorm:"type:text"`
	MatchStrategy   *string `gorm:"type:text"`
	MatchConfidence float64 `gorm:"not null;default:0"`
	TargetID        *string `gorm:"type:uuid"`
	TargetRef       *string `gorm:"type:text;index:idx_migration_items_job_target,priority:2"`
	EmailKey        string  `gorm:"type:text;not null;default:''"`
	PhoneKey        string  `gorm:"type:text;not null;default:''"`
	AddressKey      string  `gorm:"type:text;not null;default:''"`
	NameKey         string  `gorm:"type:text;not null;default:''"`
	ZipKey          string  `gorm:"type:text;not null;default:''"`
	CityKey         string  `gorm:"type:text;not null;default:''"`
	Error           *string `gorm:"type:text"`
	DryRun          bool    `gorm:"not null;default:false"`
	ProcessedAt     time.Time
}

func (MigrationItem) TableName() string {
	return "migration_items"
}

func (i *MigrationItem) BeforeCreate(*gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	return nil
}
