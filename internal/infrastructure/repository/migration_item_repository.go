package repository

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"gorm.io/gorm"

	domain "github.com/restoreworks/crm-migration/internal/domain/migration"
	"github.com/restoreworks/crm-migration/internal/infrastructure/db/models"
)

type MigrationItemRepository struct {
	db *gorm.DB
}

func NewMigrationItemRepository(db *gorm.DB) *MigrationItemRepository {
	return &MigrationItemRepository{db: db}
}

func (r *MigrationItemRepository) List(ctx context.Context, jobID string, limit, offset int) ([]domain.Item, int64, error) {
	db := r.db.WithContext(ctx).Model(&models.MigrationItem{}).Where("job_id = ?", jobID)

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "count migration items")
	}

	var rows []models.MigrationItem
	if err := db.Order("seq ASC").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, 0, errors.Wrap(err, "list migration items")
	}

	items, err := toDomainItems(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// FindDryRunMatches returns dry-run items of the job that created or
// changed a record matching q, either by identity or by any match key.
func (r *MigrationItemRepository) FindDryRunMatches(ctx context.Context, q domain.CandidateQuery) ([]domain.Item, error) {
	match := r.db.Where("match_decision = ? AND external_id = ?", string(domain.DecisionNew), q.ExternalID)
	if q.EntityType != domain.EntityDocument {
		match = orKeys(match, q.Keys)
	}

	var rows []models.MigrationItem
	err := r.db.WithContext(ctx).
		Where("job_id = ? AND entity_type = ? AND dry_run = ?", q.JobID, string(q.EntityType), true).
		Where("match_decision IN ?", []string{string(domain.DecisionNew), string(domain.DecisionUpdated)}).
		Where("target_ref IS NOT NULL").
		Where(match).
		Order("seq DESC").
		Limit(maxCandidates).
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "find dry-run matches")
	}
	return toDomainItems(rows)
}

func (r *MigrationItemRepository) LatestByTarget(ctx context.Context, jobID string, refs []string) ([]domain.Item, error) {
	if len(refs) == 0 {
		return nil, nil
	}

	var rows []models.MigrationItem
	err := r.db.WithContext(ctx).
		Where("job_id = ? AND target_ref IN ?", jobID, refs).
		Where("seq = (SELECT MAX(m2.seq) FROM migration_items m2 WHERE m2.job_id = migration_items.job_id AND m2.target_ref = migration_items.target_ref)").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "load latest items by target")
	}
	return toDomainItems(rows)
}

func (r *MigrationItemRepository) GetByIDs(ctx context.Context, ids []string) ([]domain.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var rows []models.MigrationItem
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "load items")
	}
	return toDomainItems(rows)
}

func toItemModel(item domain.Item) (models.MigrationItem, error) {
	payload, err := json.Marshal(item.Payload)
	if err != nil {
		return models.MigrationItem{}, errors.Wrap(err, "encode canonical payload")
	}
	result, err := json.Marshal(item.Result)
	if err != nil {
		return models.MigrationItem{}, errors.Wrap(err, "encode item result")
	}

	row := models.MigrationItem{
		ID:              item.ID,
		JobID:           item.JobID,
		Seq:             item.Seq,
		ExternalID:      item.ExternalID,
		EntityType:      string(item.EntityType),
		Payload:         payload,
		Result:          result,
		MatchConfidence: item.Confidence,
		TargetID:        item.TargetID,
		EmailKey:        item.Keys.Email,
		PhoneKey:        item.Keys.Phone,
		AddressKey:      item.Keys.Address,
		NameKey:         item.Keys.Name,
		ZipKey:          item.Keys.Zip,
		CityKey:         item.Keys.City,
		Error:           item.Error,
		DryRun:          item.DryRun,
		ProcessedAt:     item.ProcessedAt,
	}
	if item.Decision != "" {
		d := string(item.Decision)
		row.MatchDecision = &d
	}
	if item.Strategy != domain.StrategyNone {
		s := string(item.Strategy)
		row.MatchStrategy = &s
	}
	if item.TargetRef != "" {
		ref := item.TargetRef
		row.TargetRef = &ref
	}
	if row.Error != nil {
		msg := truncate(*row.Error)
		row.Error = &msg
	}
	return row, nil
}

func toDomainItems(rows []models.MigrationItem) ([]domain.Item, error) {
	items := make([]domain.Item, 0, len(rows))
	for _, row := range rows {
		item := domain.Item{
			ID:          row.ID,
			JobID:       row.JobID,
			Seq:         row.Seq,
			ExternalID:  row.ExternalID,
			EntityType:  domain.EntityType(row.EntityType),
			Confidence:  row.MatchConfidence,
			TargetID:    row.TargetID,
			Error:       row.Error,
			DryRun:      row.DryRun,
			ProcessedAt: row.ProcessedAt,
			Keys: domain.MatchKeys{
				Email:   row.EmailKey,
				Phone:   row.PhoneKey,
				Address: row.AddressKey,
				Name:    row.NameKey,
				Zip:     row.ZipKey,
				City:    row.CityKey,
			},
		}
		if row.MatchDecision != nil {
			item.Decision = domain.MatchDecision(*row.MatchDecision)
		}
		if row.MatchStrategy != nil {
			item.Strategy = domain.MatchStrategy(*row.MatchStrategy)
		}
		if row.TargetRef != nil {
			item.TargetRef = *row.TargetRef
		}
		if err := json.Unmarshal(row.Payload, &item.Payload); err != nil {
			return nil, errors.Wrapf(err, "decode payload of item %s", row.ID)
		}
		if len(row.Result) > 0 {
			if err := json.Unmarshal(row.Result, &item.Result); err != nil {
				return nil, errors.Wrapf(err, "decode result of item %s", row.ID)
			}
		}
		items = append(items, item)
	}
	return items, nil
}
