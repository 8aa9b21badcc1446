package migrations

import (
	"database/sql"
	"embed"

	"github.com/cockroachdb/errors"
	"github.com/pressly/goose/v3"
)

//go:embed *.sql
var files embed.FS

// Up applies every pending schema migration to a Postgres database.
func Up(db *sql.DB) error {
	if err := configure(); err != nil {
		return err
	}
	if err := goose.Up(db, "."); err != nil {
		return errors.Wrap(err, "apply migrations")
	}
	return nil
}

func Down(db *sql.DB) error {
	if err := configure(); err != nil {
		return err
	}
	if err := goose.Down(db, "."); err != nil {
		return errors.Wrap(err, "revert migration")
	}
	return nil
}

func Status(db *sql.DB) error {
	if err := configure(); err != nil {
		return err
	}
	return errors.Wrap(goose.Status(db, "."), "migration status")
}

func configure() error {
	goose.SetBaseFS(files)
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Wrap(err, "set goose dialect")
	}
	return nil
}
