package migration

import (
	"context"
	"time"

	"go.uber.org/zap"

	domain "github.com/restoreworks/crm-migration/internal/domain/migration"
)

type Config struct {
	Retry RetryPolicy
	// ConflictRetries bounds how often a record is re-detected and
	// re-written after a constraint conflict before it becomes an error item.
	ConflictRetries int
	// MaxFetchFailures is how many times in a row a job may be deferred
	// because a page could not be fetched before it fails.
	MaxFetchFailures  int
	RollbackBatchSize int
	PhoneRegion       string
}

type Deps struct {
	Jobs        domain.JobRepository
	Items       domain.ItemRepository
	Staging     domain.StagingRepository
	Sources     domain.SourceResolver
	Attachments domain.AttachmentFetcher
	Metrics     Metrics
	Logger      *zap.Logger
	Now         func() time.Time
}

// Scheduler hands a RUNNING job to whatever executes Run.
type Scheduler interface {
	Kick(jobID string)
}

type StartInput struct {
	OrgID     string
	Source    domain.Source
	Options   domain.Options
	CreatedBy string
}

type Orchestrator struct {
	jobs      domain.JobRepository
	items     domain.ItemRepository
	staging   domain.StagingRepository
	sources   domain.SourceResolver
	detector  *Detector
	writer    *recordWriter
	retry     *retrier
	metrics   Metrics
	logger    *zap.Logger
	now       func() time.Time
	cfg       Config
	scheduler Scheduler
}

func NewOrchestrator(deps Deps, cfg Config) *Orchestrator {
	if cfg.ConflictRetries < 0 {
		cfg.ConflictRetries = 0
	}
	if cfg.MaxFetchFailures <= 0 {
		cfg.MaxFetchFailures = 10
	}
	if cfg.RollbackBatchSize <= 0 {
		cfg.RollbackBatchSize = 500
	}
	if cfg.PhoneRegion == "" {
		cfg.PhoneRegion = "US"
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	retry := newRetrier(cfg.Retry)
	return &Orchestrator{
		jobs:     deps.Jobs,
		items:    deps.Items,
		staging:  deps.Staging,
		sources:  deps.Sources,
		detector: NewDetector(deps.Staging, deps.Items),
		writer: &recordWriter{
			attachments: deps.Attachments,
			retry:       retry,
			phoneRegion: cfg.PhoneRegion,
			now:         deps.Now,
		},
		retry:   retry,
		metrics: deps.Metrics,
		logger:  deps.Logger,
		now:     deps.Now,
		cfg:     cfg,
	}
}

// SetScheduler wires the worker pool that runs jobs after Start and Resume.
func (o *Orchestrator) SetScheduler(s Scheduler) {
	o.scheduler = s
}

func (o *Orchestrator) kick(jobID string) {
	if o.scheduler != nil {
		o.scheduler.Kick(jobID)
	}
}

func (o *Orchestrator) Start(ctx context.Context, in StartInput) (domain.Job, error) {
	if err := domain.ValidateStart(in.OrgID, in.Source, in.Options); err != nil {
		return domain.Job{}, err
	}

	job := domain.Job{
		OrgID:     in.OrgID,
		Source:    in.Source,
		Status:    domain.StatusPending,
		Options:   in.Options,
		CreatedBy: in.CreatedBy,
	}
	if err := o.jobs.Create(ctx, &job); err != nil {
		return domain.Job{}, err
	}

	now := o.now()
	started, err := o.jobs.Transition(ctx, job.ID, domain.TransitionStart, domain.TransitionPatch{StartedAt: &now})
	if err != nil {
		return domain.Job{}, err
	}

	o.logger.Info("migration job started",
		zap.String("job_id", started.ID),
		zap.String("org_id", started.OrgID),
		zap.String("source", string(started.Source)),
		zap.Bool("dry_run", started.Options.DryRun),
	)
	o.kick(started.ID)
	return started, nil
}

func (o *Orchestrator) Pause(ctx context.Context, jobID string) (domain.Job, error) {
	return o.jobs.Transition(ctx, jobID, domain.TransitionPause, domain.TransitionPatch{})
}

func (o *Orchestrator) Resume(ctx context.Context, jobID string) (domain.Job, error) {
	job, err := o.jobs.Transition(ctx, jobID, domain.TransitionResume, domain.TransitionPatch{ClearRetry: true})
	if err != nil {
		return domain.Job{}, err
	}
	o.kick(job.ID)
	return job, nil
}

func (o *Orchestrator) Cancel(ctx context.Context, jobID string) (domain.Job, error) {
	now := o.now()
	job, err := o.jobs.Transition(ctx, jobID, domain.TransitionCancel, domain.TransitionPatch{CompletedAt: &now})
	if err != nil {
		return domain.Job{}, err
	}
	o.metrics.JobFinished(job.Source, job.Status)
	return job, nil
}

// Rollback deletes every staged row the job created. A job left in
// ROLLING_BACK by an earlier partial failure can be rolled back again.
func (o *Orchestrator) Rollback(ctx context.Context, jobID string) (domain.Job, error) {
	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if job.Status != domain.StatusRollingBack {
		job, err = o.jobs.Transition(ctx, jobID, domain.TransitionRollback, domain.TransitionPatch{})
		if err != nil {
			return domain.Job{}, err
		}
	}

	deleted, err := o.staging.DeleteBySourceJob(ctx, jobID, o.cfg.RollbackBatchSize)
	o.metrics.RowsRolledBack(deleted)
	if err != nil {
		rbErr := &domain.RollbackIncompleteError{JobID: jobID, Deleted: deleted, Cause: err}
		if setErr := o.jobs.SetLastError(context.WithoutCancel(ctx), jobID, rbErr.Error()); setErr != nil {
			o.logger.Error("record rollback failure", zap.String("job_id", jobID), zap.Error(setErr))
		}
		o.logger.Warn("rollback incomplete", zap.String("job_id", jobID), zap.Int64("deleted", deleted), zap.Error(err))
		return job, rbErr
	}

	now := o.now()
	done, err := o.jobs.Transition(ctx, jobID, domain.TransitionRollbackDone, domain.TransitionPatch{RolledBackAt: &now})
	if err != nil {
		return domain.Job{}, err
	}
	o.logger.Info("migration job rolled back", zap.String("job_id", jobID), zap.Int64("deleted", deleted))
	return done, nil
}

func (o *Orchestrator) GetStatus(ctx context.Context, jobID string) (domain.JobStatus, error) {
	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return domain.JobStatus{}, err
	}

	status := domain.JobStatus{
		JobID:           job.ID,
		OrgID:           job.OrgID,
		Source:          job.Source,
		Status:          job.Status,
		DryRun:          job.Options.DryRun,
		Totals:          job.Totals,
		PercentComplete: max(job.PercentComplete, domain.PercentComplete(job.Totals)),
		SuccessRate:     domain.SuccessRate(job.Totals),
		LastError:       job.LastError,
		StartedAt:       job.StartedAt,
		CompletedAt:     job.CompletedAt,
		RolledBackAt:    job.RolledBackAt,
	}
	// Without a source estimate the total only covers the pages fetched so
	// far, so 100 is reserved for completed jobs.
	if job.Status != domain.StatusCompleted {
		status.PercentComplete = min(status.PercentComplete, 99)
	}
	if job.Status == domain.StatusRunning {
		status.EstimatedRemaining = domain.EstimateRemaining(job.Totals, job.StartedAt, o.now())
	}
	return status, nil
}

func (o *Orchestrator) ListItems(ctx context.Context, jobID string, limit, offset int) ([]domain.Item, int64, error) {
	if _, err := o.jobs.Get(ctx, jobID); err != nil {
		return nil, 0, err
	}
	return o.items.List(ctx, jobID, limit, offset)
}

func (o *Orchestrator) Estimate(contacts, jobs int) string {
	return domain.EstimateDuration(contacts, jobs)
}
