package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/restoreworks/crm-migration/internal/domain/migration"
	"github.com/restoreworks/crm-migration/internal/infrastructure/db/models"
)

const maxCandidates = 200

type StagingRepository struct {
	db *gorm.DB
}

func NewStagingRepository(db *gorm.DB) *StagingRepository {
	return &StagingRepository{db: db}
}

type stagingTable struct {
	name  string
	model func() any
}

var stagingTables = map[domain.EntityType]stagingTable{
	domain.EntityContact:  {name: "staging_contacts", model: func() any { return &models.StagingContact{} }},
	domain.EntityJob:      {name: "staging_jobs", model: func() any { return &models.StagingJob{} }},
	domain.EntityDocument: {name: "staging_documents", model: func() any { return &models.StagingDocument{} }},
}

func tableFor(entity domain.EntityType) (stagingTable, error) {
	t, ok := stagingTables[entity]
	if !ok {
		return stagingTable{}, errors.Newf("no staging table for entity type %q", entity)
	}
	return t, nil
}

// column is one content column of a staging row. blankIn names the column
// whose emptiness decides whether a fill-blank write may set it; it differs
// from name for derived columns such as the mapped job status.
type column struct {
	name    string
	value   any
	blankIn string
}

func stringColumn(name, value string) column {
	return column{name: name, value: value, blankIn: name}
}

func contentColumns(rec domain.StagingRecord) []column {
	f := rec.Fields.Staged(rec.EntityType)
	switch rec.EntityType {
	case domain.EntityDocument:
		return []column{
			stringColumn("parent_external_id", f.ParentExternalID),
			stringColumn("file_name", f.FileName),
			stringColumn("url", f.URL),
			stringColumn("storage_key", rec.StorageKey),
		}
	}

	cols := []column{
		stringColumn("first_name", f.FirstName),
		stringColumn("last_name", f.LastName),
		stringColumn("full_name", f.FullName),
		stringColumn("email", f.Email),
		stringColumn("phone", f.Phone),
		stringColumn("phone_e164", rec.PhoneE164),
		stringColumn("street", f.Street),
		stringColumn("city", f.City),
		stringColumn("state", f.State),
		stringColumn("zip", f.Zip),
	}
	if rec.EntityType == domain.EntityJob {
		status := ""
		if f.Status != "" {
			status = domain.MapExternalStatus(f.Status)
		}
		cols = append(cols,
			stringColumn("title", f.Title),
			column{name: "status", value: status, blankIn: "external_status"},
			stringColumn("external_status", f.Status),
			stringColumn("contact_external_id", f.ContactExternalID),
		)
	}
	return cols
}

func keyColumns(k domain.MatchKeys) map[string]any {
	return map[string]any{
		"email_key":   k.Email,
		"phone_key":   k.Phone,
		"address_key": k.Address,
		"name_key":    k.Name,
		"zip_key":     k.Zip,
		"city_key":    k.City,
	}
}

// writeStaging applies w inside tx and returns the id of the staging row.
func writeStaging(tx *gorm.DB, w domain.StagingWrite) (string, error) {
	table, err := tableFor(w.Record.EntityType)
	if err != nil {
		return "", err
	}
	cols := contentColumns(w.Record)
	now := time.Now().UTC()

	if w.TargetID != "" {
		return fillStagingRow(tx, table, w, cols, now)
	}

	row := newStagingRow(w.Record, cols, now)
	assignments := map[string]any{"updated_at": gorm.Expr("excluded.updated_at")}
	for _, c := range cols {
		assignments[c.name] = gorm.Expr(upsertExpr(table.name, c, w.Overwrite))
	}
	if w.Record.EntityType != domain.EntityDocument {
		for name := range keyColumns(w.Record.Keys) {
			assignments[name] = gorm.Expr(upsertExpr(table.name, stringColumn(name, ""), w.Overwrite))
		}
	}
	if w.Record.EntityType == domain.EntityJob {
		if w.Overwrite {
			assignments["contract_value"] = gorm.Expr(fmt.Sprintf("COALESCE(excluded.contract_value, %s.contract_value)", table.name))
		} else {
			assignments["contract_value"] = gorm.Expr(fmt.Sprintf("COALESCE(%s.contract_value, excluded.contract_value)", table.name))
		}
	}

	err = tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "org_id"}, {Name: "source"}, {Name: "external_id"}},
		DoUpdates: clause.Assignments(assignments),
	}).Create(row).Error
	if err != nil {
		return "", translateWriteError(err, "upsert "+table.name)
	}

	var ids []string
	err = tx.Table(table.name).
		Where("org_id = ? AND source = ? AND external_id = ?", w.Record.OrgID, string(w.Record.Source), w.Record.ExternalID).
		Pluck("id", &ids).Error
	if err != nil {
		return "", errors.Wrap(err, "resolve staged row id")
	}
	if len(ids) == 0 {
		return "", errors.Mark(errors.Newf("%s row %s vanished after upsert", table.name, w.Record.ExternalID), domain.ErrConstraintConflict)
	}
	return ids[0], nil
}

func fillStagingRow(tx *gorm.DB, table stagingTable, w domain.StagingWrite, cols []column, now time.Time) (string, error) {
	updates := map[string]any{"updated_at": now}
	for _, c := range cols {
		if v, ok := c.value.(string); ok && v == "" {
			continue
		}
		if w.Overwrite {
			updates[c.name] = c.value
			continue
		}
		updates[c.name] = gorm.Expr(fmt.Sprintf("CASE WHEN %s = '' THEN ? ELSE %s END", c.blankIn, c.name), c.value)
	}
	if w.Record.EntityType != domain.EntityDocument {
		for name, v := range keyColumns(w.Record.Keys) {
			updates[name] = v
		}
	}
	if w.Record.EntityType == domain.EntityJob && w.Record.Fields.ContractValue != nil {
		v := *w.Record.Fields.ContractValue
		if w.Overwrite {
			updates["contract_value"] = v
		} else {
			updates["contract_value"] = gorm.Expr("COALESCE(contract_value, ?)", v)
		}
	}

	res := tx.Table(table.name).Where("id = ?", w.TargetID).Updates(updates)
	if res.Error != nil {
		return "", translateWriteError(res.Error, "update "+table.name)
	}
	if res.RowsAffected == 0 {
		return "", errors.Mark(errors.Newf("%s row %s no longer exists", table.name, w.TargetID), domain.ErrConstraintConflict)
	}
	return w.TargetID, nil
}

// upsertExpr resolves a conflicting insert. Without overwrite the existing
// value wins unless it is blank; with overwrite the incoming value wins
// unless it is blank.
func upsertExpr(table string, c column, overwrite bool) string {
	if overwrite {
		return fmt.Sprintf("CASE WHEN excluded.%s = '' THEN %s.%s ELSE excluded.%s END", c.blankIn, table, c.name, c.name)
	}
	return fmt.Sprintf("CASE WHEN %s.%s = '' THEN excluded.%s ELSE %s.%s END", table, c.blankIn, c.name, table, c.name)
}

func newStagingRow(rec domain.StagingRecord, cols []column, now time.Time) any {
	v := map[string]string{}
	for _, c := range cols {
		if s, ok := c.value.(string); ok {
			v[c.name] = s
		}
	}
	k := rec.Keys

	switch rec.EntityType {
	case domain.EntityDocument:
		return &models.StagingDocument{
			OrgID:            rec.OrgID,
			Source:           string(rec.Source),
			ExternalID:       rec.ExternalID,
			SourceJobID:      rec.SourceJobID,
			ParentExternalID: v["parent_external_id"],
			FileName:         v["file_name"],
			URL:              v["url"],
			StorageKey:       v["storage_key"],
			CreatedAt:        now,
			UpdatedAt:        now,
		}
	case domain.EntityJob:
		row := &models.StagingJob{
			OrgID:             rec.OrgID,
			Source:            string(rec.Source),
			ExternalID:        rec.ExternalID,
			SourceJobID:       rec.SourceJobID,
			Title:             v["title"],
			Status:            v["status"],
			ExternalStatus:    v["external_status"],
			ContactExternalID: v["contact_external_id"],
			FirstName:         v["first_name"],
			LastName:          v["last_name"],
			FullName:          v["full_name"],
			Email:             v["email"],
			Phone:             v["phone"],
			PhoneE164:         v["phone_e164"],
			Street:            v["street"],
			City:              v["city"],
			State:             v["state"],
			Zip:               v["zip"],
			EmailKey:          k.Email,
			PhoneKey:          k.Phone,
			AddressKey:        k.Address,
			NameKey:           k.Name,
			ZipKey:            k.Zip,
			CityKey:           k.City,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if row.Status == "" {
			row.Status = domain.JobStatusNew
		}
		if cv := rec.Fields.ContractValue; cv != nil {
			row.ContractValue = decimal.NewNullDecimal(*cv)
		}
		return row
	default:
		return &models.StagingContact{
			OrgID:       rec.OrgID,
			Source:      string(rec.Source),
			ExternalID:  rec.ExternalID,
			SourceJobID: rec.SourceJobID,
			FirstName:   v["first_name"],
			LastName:    v["last_name"],
			FullName:    v["full_name"],
			Email:       v["email"],
			Phone:       v["phone"],
			PhoneE164:   v["phone_e164"],
			Street:      v["street"],
			City:        v["city"],
			State:       v["state"],
			Zip:         v["zip"],
			EmailKey:    k.Email,
			PhoneKey:    k.Phone,
			AddressKey:  k.Address,
			NameKey:     k.Name,
			ZipKey:      k.Zip,
			CityKey:     k.City,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	}
}

// FindCandidates returns the org's staged rows of q.EntityType that share
// the identity or any match key with the incoming record, most recently
// updated first.
func (r *StagingRepository) FindCandidates(ctx context.Context, q domain.CandidateQuery) ([]domain.Candidate, error) {
	table, err := tableFor(q.EntityType)
	if err != nil {
		return nil, err
	}

	db := r.db.WithContext(ctx)
	match := r.db.Where("source = ? AND external_id = ?", string(q.Source), q.ExternalID)
	if q.EntityType != domain.EntityDocument {
		match = orKeys(match, q.Keys)
	}

	query := db.Table(table.name).
		Where("org_id = ?", q.OrgID).
		Where(match).
		Order("updated_at DESC").
		Limit(maxCandidates)

	switch q.EntityType {
	case domain.EntityContact:
		var rows []models.StagingContact
		if err := query.Find(&rows).Error; err != nil {
			return nil, errors.Wrap(err, "find contact candidates")
		}
		out := make([]domain.Candidate, 0, len(rows))
		for _, row := range rows {
			out = append(out, contactCandidate(row))
		}
		return out, nil
	case domain.EntityJob:
		var rows []models.StagingJob
		if err := query.Find(&rows).Error; err != nil {
			return nil, errors.Wrap(err, "find job candidates")
		}
		out := make([]domain.Candidate, 0, len(rows))
		for _, row := range rows {
			out = append(out, jobCandidate(row))
		}
		return out, nil
	default:
		var rows []models.StagingDocument
		if err := query.Find(&rows).Error; err != nil {
			return nil, errors.Wrap(err, "find document candidates")
		}
		out := make([]domain.Candidate, 0, len(rows))
		for _, row := range rows {
			out = append(out, documentCandidate(row))
		}
		return out, nil
	}
}

// orKeys extends cond with one OR branch per usable match key.
func orKeys(cond *gorm.DB, k domain.MatchKeys) *gorm.DB {
	if k.Email != "" {
		cond = cond.Or("email_key = ?", k.Email)
	}
	if len(k.Phone) == 10 {
		cond = cond.Or("phone_key = ?", k.Phone)
	}
	if k.Address != "" {
		cond = cond.Or("address_key = ?", k.Address)
	}
	if k.Name != "" {
		cond = cond.Or("name_key = ?", k.Name)
	}
	return cond
}

func contactCandidate(row models.StagingContact) domain.Candidate {
	id := row.ID
	return domain.Candidate{
		Ref:        row.ID,
		StagingID:  &id,
		Source:     domain.Source(row.Source),
		ExternalID: row.ExternalID,
		Fields: domain.Fields{
			FirstName: row.FirstName,
			LastName:  row.LastName,
			FullName:  row.FullName,
			Email:     row.Email,
			Phone:     row.Phone,
			Street:    row.Street,
			City:      row.City,
			State:     row.State,
			Zip:       row.Zip,
		},
		Keys: domain.MatchKeys{
			Email:   row.EmailKey,
			Phone:   row.PhoneKey,
			Address: row.AddressKey,
			Name:    row.NameKey,
			Zip:     row.ZipKey,
			City:    row.CityKey,
		},
		UpdatedAt: row.UpdatedAt,
	}
}

func jobCandidate(row models.StagingJob) domain.Candidate {
	id := row.ID
	c := domain.Candidate{
		Ref:        row.ID,
		StagingID:  &id,
		Source:     domain.Source(row.Source),
		ExternalID: row.ExternalID,
		Fields: domain.Fields{
			FirstName:         row.FirstName,
			LastName:          row.LastName,
			FullName:          row.FullName,
			Email:             row.Email,
			Phone:             row.Phone,
			Street:            row.Street,
			City:              row.City,
			State:             row.State,
			Zip:               row.Zip,
			Title:             row.Title,
			Status:            row.ExternalStatus,
			ContactExternalID: row.ContactExternalID,
		},
		Keys: domain.MatchKeys{
			Email:   row.EmailKey,
			Phone:   row.PhoneKey,
			Address: row.AddressKey,
			Name:    row.NameKey,
			Zip:     row.ZipKey,
			City:    row.CityKey,
		},
		UpdatedAt: row.UpdatedAt,
	}
	if row.ContractValue.Valid {
		v := row.ContractValue.Decimal
		c.Fields.ContractValue = &v
	}
	return c
}

func documentCandidate(row models.StagingDocument) domain.Candidate {
	id := row.ID
	return domain.Candidate{
		Ref:        row.ID,
		StagingID:  &id,
		Source:     domain.Source(row.Source),
		ExternalID: row.ExternalID,
		Fields: domain.Fields{
			ParentExternalID: row.ParentExternalID,
			FileName:         row.FileName,
			URL:              row.URL,
		},
		UpdatedAt: row.UpdatedAt,
	}
}

// DeleteBySourceJob removes the rows a job created, batchSize rows at a
// time, and reports how many were deleted before any error.
func (r *StagingRepository) DeleteBySourceJob(ctx context.Context, jobID string, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	var deleted int64
	for _, entity := range []domain.EntityType{domain.EntityDocument, domain.EntityJob, domain.EntityContact} {
		table := stagingTables[entity]
		for {
			if err := ctx.Err(); err != nil {
				return deleted, err
			}

			db := r.db.WithContext(ctx)
			batch := db.Table(table.name).Select("id").Where("source_job_id = ?", jobID).Limit(batchSize)
			res := db.Where("id IN (?)", batch).Delete(table.model())
			if res.Error != nil {
				return deleted, errors.Wrapf(res.Error, "delete %s of job %s", table.name, jobID)
			}
			deleted += res.RowsAffected
			if res.RowsAffected == 0 {
				break
			}
		}
	}
	return deleted, nil
}

func (r *StagingRepository) CountBySourceJob(ctx context.Context, jobID string) (int64, error) {
	var total int64
	for _, table := range stagingTables {
		var n int64
		if err := r.db.WithContext(ctx).Table(table.name).Where("source_job_id = ?", jobID).Count(&n).Error; err != nil {
			return 0, errors.Wrapf(err, "count %s of job %s", table.name, jobID)
		}
		total += n
	}
	return total, nil
}
