package migration

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
)

type EntityType string

const (
	EntityContact  EntityType = "contact"
	EntityJob      EntityType = "job"
	EntityDocument EntityType = "document"
)

func (e EntityType) Valid() bool {
	return e == EntityContact || e == EntityJob || e == EntityDocument
}

// Fields is the source-agnostic payload of a canonical record. Contacts use
// the person and address fields, jobs add the job-specific ones and reuse
// the person and address fields for the customer and property, documents
// use the attachment fields only.
type Fields struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	FullName  string `json:"full_name,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Street    string `json:"street,omitempty"`
	City      string `json:"city,omitempty"`
	State     string `json:"state,omitempty"`
	Zip       string `json:"zip,omitempty"`

	Title             string           `json:"title,omitempty"`
	Status            string           `json:"status,omitempty"`
	ContactExternalID string           `json:"contact_external_id,omitempty"`
	ContractValue     *decimal.Decimal `json:"contract_value,omitempty"`

	ParentExternalID string `json:"parent_external_id,omitempty"`
	FileName         string `json:"file_name,omitempty"`
	URL              string `json:"url,omitempty"`
}

// DisplayName prefers the explicit full name and falls back to first + last.
func (f Fields) DisplayName() string {
	if name := strings.TrimSpace(f.FullName); name != "" {
		return name
	}
	return strings.TrimSpace(strings.TrimSpace(f.FirstName) + " " + strings.TrimSpace(f.LastName))
}

// Staged returns f as a staging row of entity stores it: contacts and jobs
// keep the derived display name in FullName.
func (f Fields) Staged(entity EntityType) Fields {
	if entity == EntityDocument {
		return f
	}
	f.FullName = f.DisplayName()
	return f
}

type CanonicalRecord struct {
	ExternalID string     `json:"external_id"`
	EntityType EntityType `json:"entity_type"`
	Fields     Fields     `json:"fields"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
}

func (r CanonicalRecord) Validate() error {
	if strings.TrimSpace(r.ExternalID) == "" {
		return errors.New("record has no external id")
	}
	if !r.EntityType.Valid() {
		return errors.Newf("record %s has unknown entity type %q", r.ExternalID, r.EntityType)
	}
	return nil
}

// Timestamp is the date the date filter is applied to.
func (r CanonicalRecord) Timestamp() *time.Time {
	if r.UpdatedAt != nil {
		return r.UpdatedAt
	}
	return r.CreatedAt
}

// Page is one batch returned by a source adapter. A nil NextCursor means the
// source is exhausted.
type Page struct {
	Records    []CanonicalRecord
	NextCursor *string
}

// StagingRecord is a destination row written by the engine.
type StagingRecord struct {
	ID          string
	OrgID       string
	Source      Source
	ExternalID  string
	SourceJobID string
	EntityType  EntityType
	Fields      Fields
	Keys        MatchKeys
	PhoneE164   string
	StorageKey  string
	UpdatedAt   time.Time
}

// MatchKeys are the normalized values duplicate detection compares.
type MatchKeys struct {
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
	Name    string `json:"name,omitempty"`
	Zip     string `json:"zip,omitempty"`
	City    string `json:"city,omitempty"`
}

// KeysFor derives match keys from fields. Documents only ever match by
// identity so they carry no keys.
func KeysFor(entity EntityType, f Fields) MatchKeys {
	if entity == EntityDocument {
		return MatchKeys{}
	}
	return MatchKeys{
		Email:   NormalizeEmail(f.Email),
		Phone:   NormalizePhone(f.Phone),
		Address: NormalizeAddress(f.Street, f.City, f.State, f.Zip),
		Name:    NormalizeName(f.DisplayName()),
		Zip:     NormalizeZip(f.Zip),
		City:    NormalizeName(f.City),
	}
}
