package migration

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	domain "github.com/restoreworks/crm-migration/internal/domain/migration"
)

// Run drives a RUNNING job from its checkpoint until the source is
// exhausted, the job leaves RUNNING, or a page cannot be fetched. It returns
// nil when the job was stopped from outside.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != domain.StatusRunning {
		return nil
	}
	log := o.logger.With(zap.String("job_id", job.ID), zap.String("source", string(job.Source)))

	adapter, err := o.sources.Resolve(ctx, job)
	if err != nil {
		return o.fail(ctx, job, errors.Wrap(err, "resolve source adapter"))
	}
	cp := job.Checkpoint
	totals := job.Totals
	totals.Total = max(totals.Total, o.estimateTotal(ctx, job, adapter, log))
	for {
		page, err := o.fetchPage(ctx, job, adapter, cp.PageCursor)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if domain.IsTerminal(err) {
				return o.fail(ctx, job, err)
			}
			return o.deferJob(ctx, job, err, log)
		}

		start := resumeOffset(page.Records, cp)
		inWindow := 0
		for _, rec := range page.Records[start:] {
			if job.Options.DateFilter.Includes(rec.Timestamp()) {
				inWindow++
			}
		}
		if grown := totals.Processed() + int64(inWindow); grown > totals.Total {
			totals.Total = grown
			if err := o.jobs.GrowTotal(ctx, job.ID, grown); err != nil {
				return err
			}
		}

		for i := start; i < len(page.Records); i++ {
			rec := page.Records[i]
			if !job.Options.DateFilter.Includes(rec.Timestamp()) {
				continue
			}

			current, err := o.jobs.Get(ctx, job.ID)
			if err != nil {
				return err
			}
			if current.Status != domain.StatusRunning {
				log.Info("migration job stopped", zap.String("status", string(current.Status)))
				return nil
			}

			next := domain.Checkpoint{
				PageCursor:     cp.PageCursor,
				NextCursor:     page.NextCursor,
				LastExternalID: rec.ExternalID,
				PageOffset:     i + 1,
			}
			delta, err := o.processRecord(ctx, job, rec, next, totals)
			if errors.Is(err, domain.ErrJobNotRunning) {
				return nil
			}
			if err != nil {
				return errors.Wrapf(err, "process record %s", rec.ExternalID)
			}
			totals = totals.Add(delta)
		}

		if page.NextCursor == nil {
			return o.complete(ctx, job, log)
		}

		cp = domain.Checkpoint{PageCursor: *page.NextCursor}
		if err := o.jobs.SaveCheckpoint(ctx, job.ID, cp); err != nil {
			if errors.Is(err, domain.ErrJobNotRunning) {
				return nil
			}
			return err
		}
	}
}

// resumeOffset returns the index of the first record of page not yet
// processed according to cp. When the checkpointed record cannot be found
// the page is replayed from the start.
func resumeOffset(records []domain.CanonicalRecord, cp domain.Checkpoint) int {
	if cp.LastExternalID == "" {
		return 0
	}
	if n := cp.PageOffset; n > 0 && n <= len(records) && records[n-1].ExternalID == cp.LastExternalID {
		return n
	}
	for i, rec := range records {
		if rec.ExternalID == cp.LastExternalID {
			return i + 1
		}
	}
	return 0
}

func (o *Orchestrator) fetchPage(ctx context.Context, job domain.Job, adapter domain.SourceAdapter, cursor string) (domain.Page, error) {
	var page domain.Page
	err := o.retry.do(ctx, func(ctx context.Context) error {
		started := time.Now()
		var err error
		page, err = adapter.FetchPage(ctx, cursor, job.Options.BatchSize)
		o.metrics.ObservePageFetch(job.Source, time.Since(started), err)
		return err
	})
	return page, err
}

// estimateTotal asks the adapter for the size of the whole export. Date
// filtered jobs skip it: their total grows page by page with the records
// inside the window.
func (o *Orchestrator) estimateTotal(ctx context.Context, job domain.Job, adapter domain.SourceAdapter, log *zap.Logger) int64 {
	if !job.Options.DateFilter.IsZero() {
		return 0
	}
	estimator, ok := adapter.(domain.TotalEstimator)
	if !ok {
		return 0
	}
	total, err := estimator.EstimateTotal(ctx)
	if err != nil {
		log.Warn("estimate total failed", zap.Error(err))
		return 0
	}
	if err := o.jobs.GrowTotal(ctx, job.ID, total); err != nil {
		log.Warn("store estimated total failed", zap.Error(err))
		return 0
	}
	return total
}

// processRecord commits the outcome of one record together with the
// checkpoint that moves past it.
func (o *Orchestrator) processRecord(ctx context.Context, job domain.Job, rec domain.CanonicalRecord, next domain.Checkpoint, totals domain.Totals) (domain.Totals, error) {
	seq := totals.Processed() + 1

	if err := rec.Validate(); err != nil {
		return o.commit(ctx, job, rec, next, totals, o.writer.invalid(job, rec, seq, errors.Mark(err, domain.ErrValidation)))
	}
	if job.Options.Skips(rec.EntityType) {
		return o.commit(ctx, job, rec, next, totals, recordPlan{delta: domain.Totals{Skipped: 1}, outcome: OutcomeSkipped})
	}

	for attempt := 0; ; attempt++ {
		match, err := o.detector.Detect(ctx, job, rec)
		if err != nil {
			return domain.Totals{}, err
		}
		plan := o.writer.plan(ctx, job, rec, match, seq)

		delta, err := o.commit(ctx, job, rec, next, totals, plan)
		if !errors.Is(err, domain.ErrConstraintConflict) {
			return delta, err
		}
		if attempt < o.cfg.ConflictRetries {
			o.logger.Debug("constraint conflict, re-detecting",
				zap.String("job_id", job.ID),
				zap.String("external_id", rec.ExternalID),
				zap.Int("attempt", attempt+1),
			)
			continue
		}
		return o.commit(ctx, job, rec, next, totals, o.writer.errorPlan(plan.item, err))
	}
}

func (o *Orchestrator) commit(ctx context.Context, job domain.Job, rec domain.CanonicalRecord, next domain.Checkpoint, totals domain.Totals, plan recordPlan) (domain.Totals, error) {
	after := totals.Add(plan.delta)
	after.Total = max(after.Total, after.Processed())

	if plan.outcome == OutcomeError {
		plan.write = nil
	}
	_, err := o.jobs.CommitRecord(ctx, domain.RecordCommit{
		JobID:      job.ID,
		Checkpoint: next,
		Delta:      plan.delta,
		Percent:    domain.PercentComplete(after),
		Write:      plan.write,
		Item:       plan.item,
	})
	if err != nil {
		return domain.Totals{}, err
	}
	o.metrics.RecordProcessed(job.Source, rec.EntityType, plan.outcome)
	return plan.delta, nil
}

func (o *Orchestrator) complete(ctx context.Context, job domain.Job, log *zap.Logger) error {
	now := o.now()
	done, err := o.jobs.Transition(ctx, job.ID, domain.TransitionComplete, domain.TransitionPatch{CompletedAt: &now, FinalizeTotals: true})
	if errors.Is(err, domain.ErrInvalidStateTransition) {
		return nil
	}
	if err != nil {
		return err
	}
	o.metrics.JobFinished(done.Source, done.Status)
	log.Info("migration job completed",
		zap.Int64("imported", done.Totals.Imported),
		zap.Int64("skipped", done.Totals.Skipped),
		zap.Int64("errors", done.Totals.Errors),
	)
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, job domain.Job, cause error) error {
	reason := cause.Error()
	now := o.now()
	failed, err := o.jobs.Transition(context.WithoutCancel(ctx), job.ID, domain.TransitionFail, domain.TransitionPatch{CompletedAt: &now, LastError: &reason})
	if err != nil && !errors.Is(err, domain.ErrInvalidStateTransition) {
		return errors.CombineErrors(cause, err)
	}
	if err == nil {
		o.metrics.JobFinished(failed.Source, failed.Status)
	}
	o.logger.Error("migration job failed", zap.String("job_id", job.ID), zap.Error(cause))
	return cause
}

// deferJob parks a job whose page could not be fetched. It stays RUNNING
// and the worker pool picks it up again once retry_at has passed. After
// MaxFetchFailures deferrals in a row the job fails with its checkpoint
// intact.
func (o *Orchestrator) deferJob(ctx context.Context, job domain.Job, cause error, log *zap.Logger) error {
	current, err := o.jobs.Get(ctx, job.ID)
	if err != nil {
		return errors.CombineErrors(cause, err)
	}
	failures := current.FetchFailures + 1
	if failures > o.cfg.MaxFetchFailures {
		return o.fail(ctx, current, errors.Wrapf(cause, "page fetch failed in %d consecutive rounds", failures))
	}
	retryAt := o.now().Add(o.retry.delay(failures))
	if err := o.jobs.RecordFetchFailure(ctx, job.ID, cause.Error(), retryAt); err != nil {
		return errors.CombineErrors(cause, err)
	}
	log.Warn("page fetch exhausted retries, job deferred",
		zap.Time("retry_at", retryAt),
		zap.Int("fetch_failures", failures),
		zap.Error(cause),
	)
	return nil
}
