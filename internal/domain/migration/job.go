package migration

import "time"

type Status string

const (
	StatusPending     Status = "PENDING"
	StatusRunning     Status = "RUNNING"
	StatusPaused      Status = "PAUSED"
	StatusCompleted   Status = "COMPLETED"
	StatusFailed      Status = "FAILED"
	StatusCancelled   Status = "CANCELLED"
	StatusRollingBack Status = "ROLLING_BACK"
)

type Source string

const (
	SourceAccuLynx  Source = "ACCULYNX"
	SourceJobNimbus Source = "JOBNIMBUS"
	SourceCSV       Source = "CSV"
	SourceRoofr     Source = "ROOFR"
	SourceHover     Source = "HOVER"
	SourceOther     Source = "OTHER"
)

var Sources = []Source{SourceAccuLynx, SourceJobNimbus, SourceCSV, SourceRoofr, SourceHover, SourceOther}

func (s Source) Valid() bool {
	for _, known := range Sources {
		if s == known {
			return true
		}
	}
	return false
}

// DateFilter bounds the records a job imports by their source timestamp.
// Both ends are inclusive.
type DateFilter struct {
	After  *time.Time `json:"after,omitempty"`
	Before *time.Time `json:"before,omitempty"`
}

func (f DateFilter) IsZero() bool {
	return f.After == nil && f.Before == nil
}

// Includes reports whether a record dated at ts falls inside the window.
// Records without a timestamp are always included.
func (f DateFilter) Includes(ts *time.Time) bool {
	if ts == nil {
		return true
	}
	if f.After != nil && ts.Before(*f.After) {
		return false
	}
	if f.Before != nil && ts.After(*f.Before) {
		return false
	}
	return true
}

type Options struct {
	DryRun        bool       `json:"dry_run"`
	BatchSize     int        `json:"batch_size" validate:"gt=0,lte=5000"`
	SkipContacts  bool       `json:"skip_contacts"`
	SkipJobs      bool       `json:"skip_jobs"`
	SkipDocuments bool       `json:"skip_documents"`
	Overwrite     bool       `json:"overwrite"`
	DateFilter    DateFilter `json:"date_filter"`
	// SourceRef points the adapter at the data to read: an uploaded file
	// path for CSV, an account or export id for API sources.
	SourceRef string `json:"source_ref,omitempty" validate:"max=1024"`
}

func (o Options) Skips(entity EntityType) bool {
	switch entity {
	case EntityContact:
		return o.SkipContacts
	case EntityJob:
		return o.SkipJobs
	case EntityDocument:
		return o.SkipDocuments
	default:
		return false
	}
}

type Totals struct {
	Total    int64 `json:"total_records"`
	Imported int64 `json:"imported_records"`
	Skipped  int64 `json:"skipped_records"`
	Errors   int64 `json:"error_records"`
}

func (t Totals) Processed() int64 {
	return t.Imported + t.Skipped + t.Errors
}

func (t Totals) Add(delta Totals) Totals {
	return Totals{
		Total:    t.Total + delta.Total,
		Imported: t.Imported + delta.Imported,
		Skipped:  t.Skipped + delta.Skipped,
		Errors:   t.Errors + delta.Errors,
	}
}

// Checkpoint is the resume token persisted with every processed record.
// PageCursor is the cursor the current page was fetched with and PageOffset
// is the number of that page's records already consumed.
type Checkpoint struct {
	PageCursor     string  `json:"page_cursor"`
	NextCursor     *string `json:"next_cursor,omitempty"`
	LastExternalID string  `json:"last_external_id,omitempty"`
	PageOffset     int     `json:"page_offset"`
}

type Job struct {
	ID              string
	OrgID           string
	Source          Source
	Status          Status
	Options         Options
	Checkpoint      Checkpoint
	Totals          Totals
	PercentComplete int
	LastError       string
	FetchFailures   int
	RetryAt         *time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	RolledBackAt    *time.Time
	CreatedBy       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// JobStatus is the read model returned to callers polling a job.
type JobStatus struct {
	JobID              string     `json:"job_id"`
	OrgID              string     `json:"org_id"`
	Source             Source     `json:"source"`
	Status             Status     `json:"status"`
	DryRun             bool       `json:"dry_run"`
	Totals             Totals     `json:"totals"`
	PercentComplete    int        `json:"percent_complete"`
	SuccessRate        int        `json:"success_rate"`
	EstimatedRemaining string     `json:"estimated_remaining,omitempty"`
	LastError          string     `json:"last_error,omitempty"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	RolledBackAt       *time.Time `json:"rolled_back_at,omitempty"`
}
