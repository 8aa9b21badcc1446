package migration

import (
	"context"
	"time"

	"github.com/google/uuid"

	domain "github.com/restoreworks/crm-migration/internal/domain/migration"
)

// recordWriter turns a detection result into the commit that persists it:
// the staging write, the audit item and the counter delta.
type recordWriter struct {
	attachments domain.AttachmentFetcher
	retry       *retrier
	phoneRegion string
	now         func() time.Time
}

type recordPlan struct {
	delta   domain.Totals
	write   *domain.StagingWrite
	item    *domain.Item
	outcome string
}

func (w *recordWriter) newItem(job domain.Job, rec domain.CanonicalRecord, seq int64) *domain.Item {
	return &domain.Item{
		ID:          uuid.NewString(),
		JobID:       job.ID,
		Seq:         seq,
		ExternalID:  rec.ExternalID,
		EntityType:  rec.EntityType,
		Payload:     rec,
		DryRun:      job.Options.DryRun,
		ProcessedAt: w.now().UTC(),
	}
}

func (w *recordWriter) errorPlan(item *domain.Item, err error) recordPlan {
	msg := err.Error()
	item.Error = &msg
	return recordPlan{delta: domain.Totals{Errors: 1}, item: item, outcome: OutcomeError}
}

func (w *recordWriter) invalid(job domain.Job, rec domain.CanonicalRecord, seq int64, err error) recordPlan {
	return w.errorPlan(w.newItem(job, rec, seq), err)
}

func (w *recordWriter) plan(ctx context.Context, job domain.Job, rec domain.CanonicalRecord, match domain.Match, seq int64) recordPlan {
	item := w.newItem(job, rec, seq)
	item.Decision = match.Decision
	item.Strategy = match.Strategy
	item.Confidence = match.Confidence
	item.Result = match.Result
	item.Keys = domain.KeysFor(rec.EntityType, match.Result)
	if c := match.Candidate; c != nil {
		item.TargetID = c.StagingID
		item.TargetRef = c.Ref
	}

	if match.Decision == domain.DecisionDuplicate {
		return recordPlan{delta: domain.Totals{Skipped: 1}, item: item, outcome: string(match.Decision)}
	}

	p := recordPlan{delta: domain.Totals{Imported: 1}, item: item, outcome: string(match.Decision)}
	if job.Options.DryRun {
		if match.Candidate == nil {
			item.TargetRef = item.ID
		}
		return p
	}

	staged := domain.StagingRecord{
		OrgID:       job.OrgID,
		Source:      job.Source,
		ExternalID:  rec.ExternalID,
		SourceJobID: job.ID,
		EntityType:  rec.EntityType,
		Fields:      rec.Fields,
		Keys:        item.Keys,
		PhoneE164:   domain.FormatE164(match.Result.Phone, w.phoneRegion),
	}

	if rec.EntityType == domain.EntityDocument {
		var key string
		err := w.retry.do(ctx, func(ctx context.Context) error {
			var err error
			key, err = w.attachments.Fetch(ctx, job.OrgID, rec)
			return err
		})
		if err != nil {
			return w.errorPlan(item, err)
		}
		staged.StorageKey = key
	}

	write := &domain.StagingWrite{Record: staged, Overwrite: job.Options.Overwrite}
	if match.Decision == domain.DecisionUpdated && match.Candidate != nil && match.Candidate.StagingID != nil {
		write.TargetID = *match.Candidate.StagingID
	}
	p.write = write
	return p
}
