package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	domain "github.com/restoreworks/crm-migration/internal/domain/migration"
	"github.com/restoreworks/crm-migration/internal/infrastructure/db/models"
)

const maxErrorLength = 1000

type MigrationJobRepository struct {
	db *gorm.DB
}

func NewMigrationJobRepository(db *gorm.DB) *MigrationJobRepository {
	return &MigrationJobRepository{db: db}
}

func (r *MigrationJobRepository) Create(ctx context.Context, job *domain.Job) error {
	row, err := toJobModel(*job)
	if err != nil {
		return err
	}

	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return errors.Wrap(err, "create migration job")
	}

	job.ID = row.ID
	job.CreatedAt = row.CreatedAt
	job.UpdatedAt = row.UpdatedAt
	return nil
}

func (r *MigrationJobRepository) Get(ctx context.Context, jobID string) (domain.Job, error) {
	return r.get(r.db.WithContext(ctx), jobID)
}

func (r *MigrationJobRepository) get(db *gorm.DB, jobID string) (domain.Job, error) {
	var row models.MigrationJob
	if err := db.Where("id = ?", jobID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Job{}, errors.Wrapf(domain.ErrJobNotFound, "job %s", jobID)
		}
		return domain.Job{}, errors.Wrap(err, "load migration job")
	}
	return toDomainJob(row)
}

func (r *MigrationJobRepository) Transition(ctx context.Context, jobID string, t domain.Transition, patch domain.TransitionPatch) (domain.Job, error) {
	from := make([]string, 0, len(t.From))
	for _, s := range t.From {
		from = append(from, string(s))
	}

	updates := map[string]any{
		"status":     string(t.To),
		"updated_at": time.Now().UTC(),
	}
	if patch.StartedAt != nil {
		updates["started_at"] = patch.StartedAt.UTC()
	}
	if patch.CompletedAt != nil {
		updates["completed_at"] = patch.CompletedAt.UTC()
	}
	if patch.RolledBackAt != nil {
		updates["rolled_back_at"] = patch.RolledBackAt.UTC()
	}
	if patch.LastError != nil {
		updates["last_error"] = truncate(*patch.LastError)
	}
	if patch.FinalizeTotals {
		updates["total_records"] = gorm.Expr("imported_records + skipped_records + error_records")
		updates["percent_complete"] = 100
	}
	if patch.ClearRetry {
		updates["retry_at"] = nil
		updates["fetch_failures"] = 0
	}

	db := r.db.WithContext(ctx)
	res := db.Model(&models.MigrationJob{}).
		Where("id = ? AND status IN ?", jobID, from).
		Updates(updates)
	if res.Error != nil {
		return domain.Job{}, errors.Wrapf(res.Error, "move job %s to %s", jobID, t.To)
	}

	current, err := r.get(db, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if res.RowsAffected == 0 {
		return current, &domain.TransitionError{JobID: jobID, From: current.Status, To: t.To}
	}
	return current, nil
}

func (r *MigrationJobRepository) GrowTotal(ctx context.Context, jobID string, atLeast int64) error {
	err := r.db.WithContext(ctx).Model(&models.MigrationJob{}).
		Where("id = ? AND status = ?", jobID, string(domain.StatusRunning)).
		Updates(map[string]any{
			"total_records": gorm.Expr("CASE WHEN total_records < ? THEN ? ELSE total_records END", atLeast, atLeast),
		}).Error
	return errors.Wrap(err, "grow job total")
}

func (r *MigrationJobRepository) SaveCheckpoint(ctx context.Context, jobID string, cp domain.Checkpoint) error {
	cursor, err := json.Marshal(cp)
	if err != nil {
		return errors.Wrap(err, "encode checkpoint")
	}

	res := r.db.WithContext(ctx).Model(&models.MigrationJob{}).
		Where("id = ? AND status = ?", jobID, string(domain.StatusRunning)).
		Updates(map[string]any{
			"cursor":         datatypes.JSON(cursor),
			"fetch_failures": 0,
			"retry_at":       nil,
			"updated_at":     time.Now().UTC(),
		})
	if res.Error != nil {
		return errors.Wrap(res.Error, "save checkpoint")
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(domain.ErrJobNotRunning, "job %s", jobID)
	}
	return nil
}

func (r *MigrationJobRepository) RecordFetchFailure(ctx context.Context, jobID string, reason string, retryAt time.Time) error {
	err := r.db.WithContext(ctx).Model(&models.MigrationJob{}).
		Where("id = ? AND status = ?", jobID, string(domain.StatusRunning)).
		Updates(map[string]any{
			"fetch_failures": gorm.Expr("fetch_failures + 1"),
			"last_error":     truncate(reason),
			"retry_at":       retryAt.UTC(),
			"updated_at":     time.Now().UTC(),
		}).Error
	return errors.Wrap(err, "record fetch failure")
}

func (r *MigrationJobRepository) SetLastError(ctx context.Context, jobID string, reason string) error {
	err := r.db.WithContext(ctx).Model(&models.MigrationJob{}).
		Where("id = ?", jobID).
		Updates(map[string]any{
			"last_error": truncate(reason),
			"updated_at": time.Now().UTC(),
		}).Error
	return errors.Wrap(err, "set last error")
}

func (r *MigrationJobRepository) CommitRecord(ctx context.Context, commit domain.RecordCommit) (domain.CommitResult, error) {
	cursor, err := json.Marshal(commit.Checkpoint)
	if err != nil {
		return domain.CommitResult{}, errors.Wrap(err, "encode checkpoint")
	}

	var result domain.CommitResult
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d := commit.Delta
		res := tx.Model(&models.MigrationJob{}).
			Where("id = ? AND status = ?", commit.JobID, string(domain.StatusRunning)).
			Updates(map[string]any{
				"imported_records": gorm.Expr("imported_records + ?", d.Imported),
				"skipped_records":  gorm.Expr("skipped_records + ?", d.Skipped),
				"error_records":    gorm.Expr("error_records + ?", d.Errors),
				"percent_complete": gorm.Expr("CASE WHEN percent_complete < ? THEN ? ELSE percent_complete END", commit.Percent, commit.Percent),
				"cursor":           datatypes.JSON(cursor),
				"updated_at":       time.Now().UTC(),
			})
		if res.Error != nil {
			return errors.Wrap(res.Error, "update job counters")
		}
		if res.RowsAffected == 0 {
			return errors.Wrapf(domain.ErrJobNotRunning, "job %s", commit.JobID)
		}

		if commit.Write != nil {
			targetID, err := writeStaging(tx, *commit.Write)
			if err != nil {
				return err
			}
			result.TargetID = &targetID
		}

		if commit.Item != nil {
			item := *commit.Item
			if result.TargetID != nil {
				item.TargetID = result.TargetID
				item.TargetRef = *result.TargetID
			}
			row, err := toItemModel(item)
			if err != nil {
				return err
			}
			if err := tx.Create(&row).Error; err != nil {
				return translateWriteError(err, "insert migration item")
			}
		}
		return nil
	})
	if err != nil {
		return domain.CommitResult{}, err
	}
	return result, nil
}

// ListRunnable returns RUNNING jobs whose retry window has passed, oldest
// activity first. Orphans of crashed workers show up here as well.
func (r *MigrationJobRepository) ListRunnable(ctx context.Context, now time.Time, limit int) ([]domain.Job, error) {
	var rows []models.MigrationJob
	err := r.db.WithContext(ctx).
		Where("status = ? AND (retry_at IS NULL OR retry_at <= ?)", string(domain.StatusRunning), now.UTC()).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "list runnable jobs")
	}

	jobs := make([]domain.Job, 0, len(rows))
	for _, row := range rows {
		job, err := toDomainJob(row)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func truncate(reason string) string {
	if len(reason) <= maxErrorLength {
		return reason
	}
	return reason[:maxErrorLength]
}

func toJobModel(job domain.Job) (models.MigrationJob, error) {
	options, err := json.Marshal(job.Options)
	if err != nil {
		return models.MigrationJob{}, errors.Wrap(err, "encode job options")
	}
	cursor, err := json.Marshal(job.Checkpoint)
	if err != nil {
		return models.MigrationJob{}, errors.Wrap(err, "encode checkpoint")
	}

	row := models.MigrationJob{
		ID:              job.ID,
		OrgID:           job.OrgID,
		Source:          string(job.Source),
		Status:          string(job.Status),
		Options:         options,
		Cursor:          cursor,
		TotalRecords:    job.Totals.Total,
		ImportedRecords: job.Totals.Imported,
		SkippedRecords:  job.Totals.Skipped,
		ErrorRecords:    job.Totals.Errors,
		PercentComplete: job.PercentComplete,
		FetchFailures:   job.FetchFailures,
		RetryAt:         job.RetryAt,
		StartedAt:       job.StartedAt,
		CompletedAt:     job.CompletedAt,
		RolledBackAt:    job.RolledBackAt,
		CreatedBy:       job.CreatedBy,
	}
	if job.LastError != "" {
		row.LastError = &job.LastError
	}
	return row, nil
}

func toDomainJob(row models.MigrationJob) (domain.Job, error) {
	job := domain.Job{
		ID:     row.ID,
		OrgID:  row.OrgID,
		Source: domain.Source(row.Source),
		Status: domain.Status(row.Status),
		Totals: domain.Totals{
			Total:    row.TotalRecords,
			Imported: row.ImportedRecords,
			Skipped:  row.SkippedRecords,
			Errors:   row.ErrorRecords,
		},
		PercentComplete: row.PercentComplete,
		FetchFailures:   row.FetchFailures,
		RetryAt:         row.RetryAt,
		StartedAt:       row.StartedAt,
		CompletedAt:     row.CompletedAt,
		RolledBackAt:    row.RolledBackAt,
		CreatedBy:       row.CreatedBy,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
	if row.LastError != nil {
		job.LastError = *row.LastError
	}
	if err := json.Unmarshal(row.Options, &job.Options); err != nil {
		return domain.Job{}, errors.Wrapf(err, "decode options of job %s", row.ID)
	}
	if len(row.Cursor) > 0 {
		if err := json.Unmarshal(row.Cursor, &job.Checkpoint); err != nil {
			return domain.Job{}, errors.Wrapf(err, "decode cursor of job %s", row.ID)
		}
	}
	return job, nil
}
