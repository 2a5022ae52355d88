// Package store keeps cases, patient status and the session journal in a
// local SQLite database.
package store

import (
	"database/sql"
	"os"
	"path/filepath"

	"codeberg.org/mutker/ecgcapture/internal/errors"
	"codeberg.org/mutker/ecgcapture/internal/logger"
	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	sql    *sql.DB
	cfg    Config
	logger logger.Logger
}

// Open creates or upgrades the database at cfg.DBPath.
func Open(cfg Config, log logger.Logger) (*DB, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, detail{Phase: "create_directory", Path: cfg.DBPath, Error: err.Error()})
	}

	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, detail{Phase: "open_database", Error: err.Error()})
	}

	if err := ValidateAndUpdateSchema(db, cfg.backupDir(), log); err != nil {
		db.Close()
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Msg("Local store initialized")

	return newDB(db, cfg, log), nil
}

func newDB(db *sql.DB, cfg Config, log logger.Logger) *DB {
	return &DB{sql: db, cfg: cfg, logger: log}
}

// Close checkpoints the WAL and closes the database.
func (d *DB) Close() error {
	errFactory := errors.New()

	if _, err := d.sql.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errFactory.WithData(ErrStorageClose, detail{Phase: "checkpoint_wal", Error: err.Error()})
	}

	if err := d.sql.Close(); err != nil {
		return errFactory.WithData(ErrStorageClose, detail{Phase: "close_database", Error: err.Error()})
	}

	d.logger.Info().Msg("Local store closed")
	return nil
}
