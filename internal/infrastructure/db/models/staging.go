package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Staging tables are the destination of a migration. Every row is tagged
// with the job that created it so a rollback can remove exactly that job's
// rows; the unique identity index keeps re-imports idempotent.

type StagingContact struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	OrgID       string `gorm:"type:text;not null;uniqueIndex:uq_staging_contacts_identity,priority:1;index:idx_staging_contacts_email,priority:1;index:idx_staging_contacts_phone,priority:1;index:idx_staging_contacts_address,priority:1;index:idx_staging_contacts_name,priority:1"`
	Source      string `gorm:"type:text;not null;uniqueIndex:uq_staging_contacts_identity,priority:2"`
	ExternalID  string `gorm:"type:text;not null;uniqueIndex:uq_staging_contacts_identity,priority:3"`
	SourceJobID string `gorm:"type:uuid;not null;index:idx_staging_contacts_source_job"`
	FirstName   string `gorm:"type:text;not null;default:''"`
	LastName    string `gorm:"type:text;not null;default:''"`
	FullName    string `gorm:"type:text;not null;default:''"`
	Email       string `gorm:"type:text;not null;default:''"`
	Phone       string `gorm:"type:text;not null;default:''"`
	PhoneE164   string `gorm:"column:phone_e164;type:text;not null;default:''"`
	Street      string `gorm:"type:text;not null;default:''"`
	City        string `gorm:"type:text;not null;default:''"`
	State       string `gorm:"type:text;not null;default:''"`
	Zip         string `gorm:"type:text;not null;default:''"`
	EmailKey    string `gorm:"type:text;not null;default:'';index:idx_staging_contacts_email,priority:2"`
	PhoneKey    string `gorm:"type:text;not null;default:'';index:idx_staging_contacts_phone,priority:2"`
	AddressKey  string `gorm:"type:text;not null;default:'';index:idx_staging_contacts_address,priority:2"`
	NameKey     string `gorm:"type:text;not null;default:'';index:idx_staging_contacts_name,priority:2"`
	ZipKey      string `gorm:"type:text;not null;default:''"`
	CityKey     string `gorm:"type:text;not null;default:''"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (StagingContact) TableName() string {
	return "staging_contacts"
}

func (c *StagingContact) BeforeCreate(*gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

type StagingJob struct {
	ID                string              `gorm:"type:uuid;primaryKey"`
	OrgID             string              `gorm:"type:text;not null;uniqueIndex:uq_staging_jobs_identity,priority:1;index:idx_staging_jobs_email,priority:1;index:idx_staging_jobs_phone,priority:1;index:idx_staging_jobs_address,priority:1;index:idx_staging_jobs_name,priority:1"`
	Source            string              `gorm:"type:text;not null;uniqueIndex:uq_staging_jobs_identity,priority:2"`
	ExternalID        string              `gorm:"type:text;not null;uniqueIndex:uq_staging_jobs_identity,priority:3"`
	SourceJobID       string              `gorm:"type:uuid;not null;index:idx_staging_jobs_source_job"`
	Title             string              `gorm:"type:text;not null;default:''"`
	Status            string              `gorm:"type:text;not null;default:'NEW'"`
	ExternalStatus    string              `gorm:"type:text;not null;default:''"`
	ContactExternalID string              `gorm:"type:text;not null;default:''"`
	ContractValue     decimal.NullDecimal `gorm:"type:numeric(14,2)"`
	FirstName         string              `gorm:"type:text;not null;default:''"`
	LastName          string              `gorm:"type:text;not null;default:''"`
	FullName          string              `gorm:"type:text;not null;default:''"`
	Email             string              `gorm:"type:text;not null;default:''"`
	Phone             string              `gorm:"type:text;not null;default:''"`
	PhoneE164         string              `gorm:"column:phone_e164;type:text;not null;default:''"`
	Street            string              `gorm:"type:text;not null;default:''"`
	City              string              `gorm:"type:text;not null;default:''"`
	State             string              `gorm:"type:text;not null;default:''"`
	Zip               string              `gorm:"type:text;not null;default:''"`
	EmailKey          string              `gorm:"type:text;not null;default:'';index:idx_staging_jobs_email,priority:2"`
	PhoneKey          string              `gorm:"type:text;not null;default:'';index:idx_staging_jobs_phone,priority:2"`
	AddressKey        string              `gorm:"type:text;not null;default:'';index:idx_staging_jobs_address,priority:2"`
	NameKey           string              `gorm:"type:text;not null;default:'';index:idx_staging_jobs_name,priority:2"`
	ZipKey            string              `gorm:"type:text;not null;default:''"`
	CityKey           string              `gorm:"type:text;not null;default:''"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (StagingJob) TableName() string {
	return "staging_jobs"
}

func (j *StagingJob) BeforeCreate(*gorm.DB) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	return nil
}

type StagingDocument struct {
	ID               string `gorm:"type:uuid;primaryKey"`
	OrgID            string `gorm:"type:text;not null;uniqueIndex:uq_staging_documents_identity,priority:1"`
	Source           string `gorm:"type:text;not null;uniqueIndex:uq_staging_documents_identity,priority:2"`
	ExternalID       string `gorm:"type:text;not null;uniqueIndex:uq_staging_documents_identity,priority:3"`
	SourceJobID      string `gorm:"type:uuid;not null;index:idx_staging_documents_source_job"`
	ParentExternalID string `gorm:"type:text;not null;default:''"`
	FileName         string `gorm:"type:text;not null;default:''"`
	URL              string `gorm:"column:url;type:text;not null;default:''"`
	StorageKey       string `gorm:"type:text;not null;default:''"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (StagingDocument) TableName() string {
	return "staging_documents"
}

func (d *StagingDocument) BeforeCreate(*gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}

// All lists every model owned by the migration schema, in creation order.
func All() []any {
	return []any{
		&MigrationJob{},
		&MigrationItem{},
		&StagingContact{},
		&StagingJob{},
		&StagingDocument{},
	}
}
