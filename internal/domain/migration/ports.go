package migration

import (
	"context"
	"time"
)

type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, jobID string) (Job, error)
	// Transition moves the job along t only if its current status is in
	// t.From. It returns a *TransitionError otherwise.
	Transition(ctx context.Context, jobID string, t Transition, patch TransitionPatch) (Job, error)
	GrowTotal(ctx context.Context, jobID string, atLeast int64) error
	SaveCheckpoint(ctx context.Context, jobID string, cp Checkpoint) error
	RecordFetchFailure(ctx context.Context, jobID string, reason string, retryAt time.Time) error
	SetLastError(ctx context.Context, jobID string, reason string) error
	// CommitRecord persists the outcome of one record atomically. It fails
	// with ErrJobNotRunning when the job left RUNNING in the meantime.
	CommitRecord(ctx context.Context, commit RecordCommit) (CommitResult, error)
	ListRunnable(ctx context.Context, now time.Time, limit int) ([]Job, error)
}

type ItemRepository interface {
	List(ctx context.Context, jobID string, limit, offset int) ([]Item, int64, error)
	// FindDryRunMatches returns the job's items that created or updated a
	// record matching q.
	FindDryRunMatches(ctx context.Context, q CandidateQuery) ([]Item, error)
	// LatestByTarget returns, per target ref, the job's most recent item.
	LatestByTarget(ctx context.Context, jobID string, refs []string) ([]Item, error)
	GetByIDs(ctx context.Context, ids []string) ([]Item, error)
}

type StagingRepository interface {
	FindCandidates(ctx context.Context, q CandidateQuery) ([]Candidate, error)
	DeleteBySourceJob(ctx context.Context, jobID string, batchSize int) (int64, error)
	CountBySourceJob(ctx context.Context, jobID string) (int64, error)
}

type CandidateQuery struct {
	OrgID      string
	JobID      string
	Source     Source
	EntityType EntityType
	ExternalID string
	Keys       MatchKeys
}

type TransitionPatch struct {
	StartedAt    *time.Time
	CompletedAt  *time.Time
	RolledBackAt *time.Time
	LastError    *string
	// FinalizeTotals pins total_records to the processed count and percent
	// to 100.
	FinalizeTotals bool
	ClearRetry     bool
}

// StagingWrite is the destination write for one record. An empty TargetID
// upserts by (org, source, external id); otherwise the row with that id is
// filled in.
type StagingWrite struct {
	Record    StagingRecord
	TargetID  string
	Overwrite bool
}

type RecordCommit struct {
	JobID      string
	Checkpoint Checkpoint
	Delta      Totals
	Percent    int
	Write      *StagingWrite
	Item       *Item
}

type CommitResult struct {
	TargetID *string
}

type SourceAdapter interface {
	FetchPage(ctx context.Context, cursor string, limit int) (Page, error)
}

// TotalEstimator is implemented by adapters that can report how many
// records a run will see before paging through them.
type TotalEstimator interface {
	EstimateTotal(ctx context.Context) (int64, error)
}

type SourceResolver interface {
	Resolve(ctx context.Context, job Job) (SourceAdapter, error)
}

// AttachmentFetcher transfers a document's bytes and returns the storage
// key it was stored under.
type AttachmentFetcher interface {
	Fetch(ctx context.Context, orgID string, rec CanonicalRecord) (string, error)
}

type JobLocker interface {
	// TryLock returns ErrLockNotAcquired when another worker holds the job.
	TryLock(ctx context.Context, jobID string, ttl time.Duration) (JobLock, error)
}

type JobLock interface {
	Refresh(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}
