package repository

import (
	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	domain "github.com/restoreworks/crm-migration/internal/domain/migration"
)

const pgUniqueViolation = "23505"

// translateWriteError turns unique violations into ErrConstraintConflict so
// the engine can re-detect and retry the record.
func translateWriteError(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errors.Mark(errors.Wrap(err, msg), domain.ErrConstraintConflict)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return errors.Mark(errors.Wrap(err, msg), domain.ErrConstraintConflict)
	}
	return errors.Wrap(err, msg)
}
