package migration_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	app "github.com/restoreworks/crm-migration/internal/application/migration"
	domain "github.com/restoreworks/crm-migration/internal/domain/migration"
	"github.com/restoreworks/crm-migration/internal/infrastructure/source"
)

func crmExport() []domain.CanonicalRecord {
	value := decimal.RequireFromString("18250.00")
	return []domain.CanonicalRecord{
		contact("c-1", domain.Fields{FirstName: "Jane", LastName: "Roe", Email: "jane@example.com"}),
		contact("c-2", domain.Fields{Email: " JANE@example.com ", Phone: "(555) 123-4567"}),
		contact("c-3", domain.Fields{FirstName: "Bob", LastName: "Stone", Street: "12 Elm St", City: "Austin", State: "TX", Zip: "78701"}),
		contact("c-4", domain.Fields{FirstName: "Bob", LastName: "Stone", Street: "12 Elm St.", City: "austin", State: "tx", Zip: "78701-1234"}),
		crmJob("j-1", domain.Fields{Title: "Roof replacement", Status: "Closed Won", ContactExternalID: "c-1", ContractValue: &value}),
		document("d-1", "https://files.example.com/j-1/contract.pdf"),
		contact("c-1", domain.Fields{FirstName: "Jane", LastName: "Roe", Email: "jane@example.com", City: "Dallas"}),
	}
}

func TestRun_ImportsExportAndCompletes(t *testing.T) {
	h := newHarness(t)
	h.use(domain.SourceJobNimbus, crmExport()...)
	job := h.start(t, "org-1", domain.SourceJobNimbus, domain.Options{})

	require.NoError(t, h.orch.Run(context.Background(), job.ID))

	got := h.get(t, job.ID)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, 100, got.PercentComplete)
	assert.Equal(t, domain.Totals{Total: 7, Imported: 6, Skipped: 1, Errors: 0}, got.Totals)
	require.NotNil(t, got.CompletedAt)

	items := h.auditItems(t, job.ID)
	require.Len(t, items, 7)
	want := []struct {
		decision domain.MatchDecision
		strategy domain.MatchStrategy
	}{
		{domain.DecisionNew, domain.StrategyNone},
		{domain.DecisionUpdated, domain.StrategyEmail},
		{domain.DecisionNew, domain.StrategyNone},
		{domain.DecisionDuplicate, domain.StrategyAddress},
		{domain.DecisionNew, domain.StrategyNone},
		{domain.DecisionNew, domain.StrategyNone},
		{domain.DecisionUpdated, domain.StrategyIdentity},
	}
	for i, w := range want {
		assert.Equal(t, w.decision, items[i].Decision, "item %d (%s)", i, items[i].ExternalID)
		assert.Equal(t, w.strategy, items[i].Strategy, "item %d (%s)", i, items[i].ExternalID)
		assert.Equal(t, int64(i+1), items[i].Seq)
	}
	assert.Equal(t, *items[0].TargetID, *items[1].TargetID, "email match fills the first contact")
	assert.Equal(t, *items[0].TargetID, *items[6].TargetID)

	assert.Equal(t, int64(4), h.staged(t, job.ID), "two contacts, one job, one document")

	status, err := h.orch.GetStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, status.PercentComplete)
	assert.Equal(t, 86, status.SuccessRate)
	assert.Empty(t, status.EstimatedRemaining)
	assert.Contains(t, h.metrics.finished, domain.StatusCompleted)
}

func TestRun_ReimportResolvesByIdentity(t *testing.T) {
	h := newHarness(t)
	h.use(domain.SourceJobNimbus, crmExport()...)

	first := h.start(t, "org-1", domain.SourceJobNimbus, domain.Options{})
	require.NoError(t, h.orch.Run(context.Background(), first.ID))

	second := h.start(t, "org-1", domain.SourceJobNimbus, domain.Options{})
	require.NoError(t, h.orch.Run(context.Background(), second.ID))

	got := h.get(t, second.ID)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Zero(t, got.Totals.Imported, "nothing new or changed on a second pass")
	assert.Equal(t, int64(7), got.Totals.Skipped)
	assert.Zero(t, h.staged(t, second.ID))
	assert.Equal(t, int64(4), h.staged(t, first.ID))

	for _, item := range h.auditItems(t, second.ID) {
		assert.Equal(t, domain.DecisionDuplicate, item.Decision, item.ExternalID)
	}
}

func TestRun_ResumesAfterCrashWithoutDoubleCounting(t *testing.T) {
	h := newHarness(t)
	h.use(domain.SourceJobNimbus, crmExport()...)
	job := h.start(t, "org-1", domain.SourceJobNimbus, domain.Options{BatchSize: 3})

	ctx, crash := context.WithCancel(context.Background())
	h.metrics.setHook(func(n int) {
		if n == 2 {
			crash()
		}
	})
	err := h.orch.Run(ctx, job.ID)
	require.Error(t, err)

	mid := h.get(t, job.ID)
	assert.Equal(t, domain.StatusRunning, mid.Status)
	assert.Equal(t, int64(2), mid.Totals.Processed())
	assert.Equal(t, "c-2", mid.Checkpoint.LastExternalID)
	assert.Equal(t, 2, mid.Checkpoint.PageOffset)

	h.metrics.setHook(nil)
	require.NoError(t, h.orch.Run(context.Background(), job.ID))

	got := h.get(t, job.ID)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, domain.Totals{Total: 7, Imported: 6, Skipped: 1}, got.Totals)
	assert.Len(t, h.auditItems(t, job.ID), 7)
	assert.Equal(t, int64(4), h.staged(t, job.ID))
}

func TestRun_DryRunMatchesRealRun(t *testing.T) {
	h := newHarness(t)
	h.use(domain.SourceAccuLynx, crmExport()...)

	dry := h.start(t, "org-dry", domain.SourceAccuLynx, domain.Options{DryRun: true})
	require.NoError(t, h.orch.Run(context.Background(), dry.ID))

	live := h.start(t, "org-real", domain.SourceAccuLynx, domain.Options{})
	require.NoError(t, h.orch.Run(context.Background(), live.ID))

	dryJob, realJob := h.get(t, dry.ID), h.get(t, live.ID)
	assert.Equal(t, realJob.Totals, dryJob.Totals)
	assert.Equal(t, domain.StatusCompleted, dryJob.Status)
	assert.Zero(t, h.staged(t, dry.ID), "dry runs never write staging rows")

	dryItems, realItems := h.auditItems(t, dry.ID), h.auditItems(t, live.ID)
	require.Len(t, dryItems, len(realItems))
	for i := range realItems {
		assert.Equal(t, realItems[i].Decision, dryItems[i].Decision, "item %d (%s)", i, realItems[i].ExternalID)
		assert.Equal(t, realItems[i].Strategy, dryItems[i].Strategy, "item %d (%s)", i, realItems[i].ExternalID)
		assert.Equal(t, realItems[i].Result, dryItems[i].Result, "item %d (%s)", i, realItems[i].ExternalID)
		assert.True(t, dryItems[i].DryRun)
	}
}

func TestRun_DryRunMatchesRealRunOnDerivedName(t *testing.T) {
	h := newHarness(t)
	h.use(domain.SourceRoofr,
		contact("c-1", domain.Fields{FirstName: "Jane", LastName: "Roe", Email: "jane@example.com"}),
		contact("c-2", domain.Fields{FullName: "Jane Roe", Email: "jane@example.com"}),
	)

	dry := h.start(t, "org-dry", domain.SourceRoofr, domain.Options{DryRun: true})
	require.NoError(t, h.orch.Run(context.Background(), dry.ID))
	live := h.start(t, "org-real", domain.SourceRoofr, domain.Options{})
	require.NoError(t, h.orch.Run(context.Background(), live.ID))

	want := domain.Totals{Total: 2, Imported: 1, Skipped: 1}
	assert.Equal(t, want, h.get(t, live.ID).Totals)
	assert.Equal(t, want, h.get(t, dry.ID).Totals)

	items := h.auditItems(t, dry.ID)
	require.Len(t, items, 2)
	assert.Equal(t, domain.DecisionDuplicate, items[1].Decision)
}

func TestRun_DryRunSeesExistingStagedRows(t *testing.T) {
	h := newHarness(t)
	h.use(domain.SourceHover, contact("h-1", domain.Fields{Email: "ana@example.com"}))
	seeded := h.start(t, "org-1", domain.SourceHover, domain.Options{})
	require.NoError(t, h.orch.Run(context.Background(), seeded.ID))

	h.use(domain.SourceRoofr,
		contact("r-1", domain.Fields{Email: "ANA@example.com", Phone: "555 987 6543"}),
		contact("r-2", domain.Fields{Phone: "+1 (555) 987-6543"}),
	)
	dry := h.start(t, "org-1", domain.SourceRoofr, domain.Options{DryRun: true})
	require.NoError(t, h.orch.Run(context.Background(), dry.ID))

	items := h.auditItems(t, dry.ID)
	require.Len(t, items, 2)
	assert.Equal(t, domain.DecisionUpdated, items[0].Decision)
	assert.Equal(t, domain.StrategyEmail, items[0].Strategy)
	assert.Equal(t, domain.DecisionDuplicate, items[1].Decision, "the phone the dry run added is visible to later records")
	assert.Equal(t, domain.StrategyPhone, items[1].Strategy)
	require.NotNil(t, items[1].TargetID)
	assert.Equal(t, *items[0].TargetID, *items[1].TargetID)
}

func TestRun_FiltersAndSkips(t *testing.T) {
	h := newHarness(t)
	old := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	after := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	oldContact := contact("c-old", domain.Fields{Email: "old@example.com"})
	oldContact.UpdatedAt = &old
	newContact := contact("c-new", domain.Fields{Email: "new@example.com"})
	newContact.CreatedAt = &recent
	undated := contact("c-undated", domain.Fields{Email: "undated@example.com"})
	skippedJob := crmJob("j-1", domain.Fields{Title: "Gutters"})
	skippedJob.UpdatedAt = &recent

	h.use(domain.SourceCSV, oldContact, newContact, undated, skippedJob)
	job := h.start(t, "org-1", domain.SourceCSV, domain.Options{
		SourceRef:  "export.json",
		SkipJobs:   true,
		DateFilter: domain.DateFilter{After: &after},
	})
	require.NoError(t, h.orch.Run(context.Background(), job.ID))

	got := h.get(t, job.ID)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, domain.Totals{Total: 3, Imported: 2, Skipped: 1}, got.Totals, "filtered records are not counted")

	items := h.auditItems(t, job.ID)
	require.Len(t, items, 2, "skipped entity types leave no audit item")
	assert.Equal(t, "c-new", items[0].ExternalID)
	assert.Equal(t, "c-undated", items[1].ExternalID)
}

func TestRun_RecordErrorsDoNotStopTheJob(t *testing.T) {
	h := newHarness(t)
	h.use(domain.SourceOther,
		contact("", domain.Fields{Email: "nobody@example.com"}),
		domain.CanonicalRecord{ExternalID: "x-1", EntityType: "invoice"},
		document("d-1", "ftp://files.example.com/a.pdf"),
		contact("c-1", domain.Fields{Email: "ok@example.com"}),
	)
	job := h.start(t, "org-1", domain.SourceOther, domain.Options{})
	require.NoError(t, h.orch.Run(context.Background(), job.ID))

	got := h.get(t, job.ID)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, domain.Totals{Total: 4, Imported: 1, Errors: 3}, got.Totals)
	assert.Empty(t, got.LastError)

	items := h.auditItems(t, job.ID)
	require.Len(t, items, 4)
	for _, item := range items[:3] {
		require.NotNil(t, item.Error, item.ExternalID)
	}
	assert.Nil(t, items[3].Error)
	assert.Equal(t, int64(1), h.staged(t, job.ID))
}

func TestRun_TerminalSourceErrorFailsJob(t *testing.T) {
	h := newHarness(t)
	h.useAdapter(domain.SourceHover, &flakySource{err: domain.Terminal(errors.New("401 unauthorized")), failures: -1})
	job := h.start(t, "org-1", domain.SourceHover, domain.Options{})

	err := h.orch.Run(context.Background(), job.ID)
	require.Error(t, err)

	got := h.get(t, job.ID)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Contains(t, got.LastError, "401 unauthorized")
	require.NotNil(t, got.CompletedAt)
}

func TestRun_TransientErrorsAreRetried(t *testing.T) {
	h := newHarness(t)
	flaky := &flakySource{
		inner:    &source.Static{Records: crmExport()},
		err:      domain.Transient(errors.New("503 service unavailable")),
		failures: 2,
	}
	h.useAdapter(domain.SourceRoofr, flaky)
	job := h.start(t, "org-1", domain.SourceRoofr, domain.Options{})

	require.NoError(t, h.orch.Run(context.Background(), job.ID))
	assert.Equal(t, domain.StatusCompleted, h.get(t, job.ID).Status)
	assert.Greater(t, flaky.callCount(), 2)
}

func TestRun_ExhaustedFetchDefersJob(t *testing.T) {
	h := newHarness(t)
	flaky := &flakySource{err: domain.Transient(errors.New("connection reset")), failures: -1}
	h.useAdapter(domain.SourceRoofr, flaky)
	job := h.start(t, "org-1", domain.SourceRoofr, domain.Options{})

	require.NoError(t, h.orch.Run(context.Background(), job.ID))
	assert.Equal(t, 3, flaky.callCount())

	got := h.get(t, job.ID)
	assert.Equal(t, domain.StatusRunning, got.Status, "a fetch failure is not a job failure")
	assert.Equal(t, 1, got.FetchFailures)
	assert.Contains(t, got.LastError, "connection reset")
	require.NotNil(t, got.RetryAt)

	runnable, err := h.jobs.ListRunnable(context.Background(), got.RetryAt.Add(-time.Second), 10)
	require.NoError(t, err)
	assert.Empty(t, runnable)
}

func TestRun_RepeatedFetchExhaustionFailsJob(t *testing.T) {
	h := newHarness(t, func(_ *app.Deps, c *app.Config) { c.MaxFetchFailures = 2 })
	flaky := &flakySource{err: domain.Transient(errors.New("503 service unavailable")), failures: -1}
	h.useAdapter(domain.SourceRoofr, flaky)
	job := h.start(t, "org-1", domain.SourceRoofr, domain.Options{})
	ctx := context.Background()

	require.NoError(t, h.orch.Run(ctx, job.ID))
	require.NoError(t, h.orch.Run(ctx, job.ID))
	assert.Equal(t, domain.StatusRunning, h.get(t, job.ID).Status)

	err := h.orch.Run(ctx, job.ID)
	require.Error(t, err)

	got := h.get(t, job.ID)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, 2, got.FetchFailures)
	assert.Contains(t, got.LastError, "503 service unavailable")
	assert.Empty(t, got.Checkpoint.LastExternalID, "nothing was processed")
}

func TestGetStatus_DateFilteredTotalsWhileRunning(t *testing.T) {
	h := newHarness(t)
	old := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	after := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	records := make([]domain.CanonicalRecord, 0, 10)
	for i := 0; i < 10; i++ {
		rec := contact(fmt.Sprintf("c-%d", i), domain.Fields{Email: fmt.Sprintf("c%d@example.com", i)})
		rec.UpdatedAt = &old
		if i == 3 || i == 8 {
			rec.UpdatedAt = &recent
		}
		records = append(records, rec)
	}
	h.use(domain.SourceHover, records...)
	job := h.start(t, "org-1", domain.SourceHover, domain.Options{BatchSize: 10, DateFilter: domain.DateFilter{After: &after}})
	ctx := context.Background()

	h.metrics.setHook(func(n int) {
		if n == 1 {
			_, err := h.orch.Pause(ctx, job.ID)
			assert.NoError(t, err)
		}
	})
	require.NoError(t, h.orch.Run(ctx, job.ID))

	status, err := h.orch.GetStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaused, status.Status)
	assert.Equal(t, domain.Totals{Total: 2, Imported: 1}, status.Totals)
	assert.Equal(t, 50, status.PercentComplete)
	assert.Equal(t, 50, status.SuccessRate)
}

func TestGetStatus_PercentWithoutEstimateStaysBelowDone(t *testing.T) {
	h := newHarness(t)
	flaky := &flakySource{inner: &source.Static{Records: []domain.CanonicalRecord{
		contact("c-1", domain.Fields{Email: "a@example.com"}),
		contact("c-2", domain.Fields{Email: "b@example.com"}),
		contact("c-3", domain.Fields{Email: "c@example.com"}),
	}}}
	h.useAdapter(domain.SourceRoofr, flaky)
	job := h.start(t, "org-1", domain.SourceRoofr, domain.Options{})
	ctx := context.Background()

	var mid domain.JobStatus
	h.metrics.setHook(func(n int) {
		if n == 2 {
			var err error
			mid, err = h.orch.GetStatus(ctx, job.ID)
			assert.NoError(t, err)
		}
	})
	require.NoError(t, h.orch.Run(ctx, job.ID))

	assert.Equal(t, domain.StatusRunning, mid.Status)
	assert.Equal(t, int64(2), mid.Totals.Total, "only the first page is known")
	assert.Equal(t, 99, mid.PercentComplete)

	done, err := h.orch.GetStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, done.Status)
	assert.Equal(t, 100, done.PercentComplete)
}

func TestPauseResumeAndCancel(t *testing.T) {
	h := newHarness(t)
	h.use(domain.SourceJobNimbus, crmExport()...)
	job := h.start(t, "org-1", domain.SourceJobNimbus, domain.Options{})
	ctx := context.Background()

	h.metrics.setHook(func(n int) {
		if n == 3 {
			_, err := h.orch.Pause(ctx, job.ID)
			assert.NoError(t, err)
		}
	})
	require.NoError(t, h.orch.Run(ctx, job.ID))

	paused := h.get(t, job.ID)
	assert.Equal(t, domain.StatusPaused, paused.Status)
	assert.Equal(t, int64(3), paused.Totals.Processed(), "the loop stops at the next record")

	_, err := h.orch.Pause(ctx, job.ID)
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)

	h.metrics.setHook(func(n int) {
		if n == 2 {
			_, err := h.orch.Cancel(ctx, job.ID)
			assert.NoError(t, err)
		}
	})
	resumed, err := h.orch.Resume(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, resumed.Status)
	require.NoError(t, h.orch.Run(ctx, job.ID))

	cancelled := h.get(t, job.ID)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)
	assert.Equal(t, int64(5), cancelled.Totals.Processed())
	assert.Positive(t, h.staged(t, job.ID), "cancel keeps what was staged")

	_, err = h.orch.Resume(ctx, job.ID)
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	_, err = h.orch.Rollback(ctx, job.ID)
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)
}

func TestRollback_RemovesOnlyTheJobsRows(t *testing.T) {
	h := newHarness(t)
	h.use(domain.SourceHover, contact("h-1", domain.Fields{Email: "keep@example.com"}))
	h.use(domain.SourceJobNimbus, crmExport()...)
	ctx := context.Background()

	other := h.start(t, "org-1", domain.SourceHover, domain.Options{})
	require.NoError(t, h.orch.Run(ctx, other.ID))
	job := h.start(t, "org-1", domain.SourceJobNimbus, domain.Options{})
	require.NoError(t, h.orch.Run(ctx, job.ID))

	_, err := h.orch.Rollback(ctx, uuidLike(job.ID))
	require.ErrorIs(t, err, domain.ErrJobNotFound)

	done, err := h.orch.Rollback(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, done.Status)
	require.NotNil(t, done.RolledBackAt)

	assert.Zero(t, h.staged(t, job.ID))
	assert.Equal(t, int64(1), h.staged(t, other.ID))
	assert.Len(t, h.auditItems(t, job.ID), 7, "audit items survive a rollback")

	_, err = h.orch.Rollback(ctx, job.ID)
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)
}

type failingDeletes struct {
	domain.StagingRepository
	failures int
}

func (f *failingDeletes) DeleteBySourceJob(ctx context.Context, jobID string, batchSize int) (int64, error) {
	if f.failures > 0 {
		f.failures--
		return 1, errors.New("connection lost")
	}
	return f.StagingRepository.DeleteBySourceJob(ctx, jobID, batchSize)
}

func TestRollback_PartialFailureCanBeRetried(t *testing.T) {
	h := newHarness(t, withStaging(func(s domain.StagingRepository) domain.StagingRepository {
		return &failingDeletes{StagingRepository: s, failures: 1}
	}))
	h.use(domain.SourceJobNimbus, crmExport()...)
	ctx := context.Background()
	job := h.start(t, "org-1", domain.SourceJobNimbus, domain.Options{})
	require.NoError(t, h.orch.Run(ctx, job.ID))

	_, err := h.orch.Rollback(ctx, job.ID)
	require.ErrorIs(t, err, domain.ErrRollbackIncomplete)
	var rbErr *domain.RollbackIncompleteError
	require.ErrorAs(t, err, &rbErr)
	assert.Equal(t, int64(1), rbErr.Deleted)

	stuck := h.get(t, job.ID)
	assert.Equal(t, domain.StatusRollingBack, stuck.Status)
	assert.Contains(t, stuck.LastError, "connection lost")

	done, err := h.orch.Rollback(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, done.Status)
	assert.Zero(t, h.staged(t, job.ID))
}

func TestStart_RejectsInvalidOptions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	after := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	before := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := h.orch.Start(ctx, app.StartInput{OrgID: "org-1", Source: domain.SourceHover, Options: domain.Options{BatchSize: 0}})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = h.orch.Start(ctx, app.StartInput{OrgID: "org-1", Source: domain.SourceHover, Options: domain.Options{
		BatchSize:  10,
		DateFilter: domain.DateFilter{After: &after, Before: &before},
	}})
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Fields, "date_filter")

	_, err = h.orch.Start(ctx, app.StartInput{OrgID: "org-1", Source: "SALESFORCE", Options: domain.Options{BatchSize: 10}})
	require.ErrorIs(t, err, domain.ErrValidation)

	runnable, err := h.jobs.ListRunnable(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, runnable, "rejected starts create no job")
}

type conflictingCommits struct {
	domain.JobRepository
	conflicts int
}

func (c *conflictingCommits) CommitRecord(ctx context.Context, commit domain.RecordCommit) (domain.CommitResult, error) {
	if commit.Write != nil && c.conflicts > 0 {
		c.conflicts--
		return domain.CommitResult{}, errors.Mark(errors.New("duplicate key"), domain.ErrConstraintConflict)
	}
	return c.JobRepository.CommitRecord(ctx, commit)
}

func TestRun_ConstraintConflictsAreRetriedThenRecorded(t *testing.T) {
	conflicts := &conflictingCommits{conflicts: 1}
	h := newHarness(t, withJobs(func(r domain.JobRepository) domain.JobRepository {
		conflicts.JobRepository = r
		return conflicts
	}))
	h.use(domain.SourceCSV, contact("c-1", domain.Fields{Email: "a@example.com"}))
	job := h.start(t, "org-1", domain.SourceCSV, domain.Options{SourceRef: "a.json"})
	require.NoError(t, h.orch.Run(context.Background(), job.ID))
	assert.Equal(t, int64(1), h.get(t, job.ID).Totals.Imported)

	conflicts.conflicts = 10
	h.use(domain.SourceCSV, contact("c-2", domain.Fields{Email: "b@example.com"}))
	next := h.start(t, "org-1", domain.SourceCSV, domain.Options{SourceRef: "b.json"})
	require.NoError(t, h.orch.Run(context.Background(), next.ID))

	got := h.get(t, next.ID)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, int64(1), got.Totals.Errors)
	items := h.auditItems(t, next.ID)
	require.Len(t, items, 1)
	require.NotNil(t, items[0].Error)
	assert.Contains(t, *items[0].Error, "duplicate key")
}

func TestListItemsAndEstimate(t *testing.T) {
	h := newHarness(t)
	h.use(domain.SourceJobNimbus, crmExport()...)
	ctx := context.Background()
	job := h.start(t, "org-1", domain.SourceJobNimbus, domain.Options{})
	require.NoError(t, h.orch.Run(ctx, job.ID))

	items, total, err := h.orch.ListItems(ctx, job.ID, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(7), total)
	require.Len(t, items, 2)
	assert.Equal(t, "c-3", items[0].ExternalID)

	_, _, err = h.orch.ListItems(ctx, uuidLike(job.ID), 10, 0)
	require.ErrorIs(t, err, domain.ErrJobNotFound)

	assert.Equal(t, "9 minutes", h.orch.Estimate(500, 200))
}

// uuidLike returns a different id of the same shape.
func uuidLike(id string) string {
	if id[0] == '0' {
		return "1" + id[1:]
	}
	return "0" + id[1:]
}
