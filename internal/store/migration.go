package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/mutker/ecgcapture/internal/errors"
	"codeberg.org/mutker/ecgcapture/internal/logger"
)

// detail is attached to storage errors so the log shows which step failed.
type detail struct {
	Phase string
	Path  string `json:",omitempty"`
	Table string `json:",omitempty"`
	Error string
}

func (d detail) String() string {
	target := d.Path
	if d.Table != "" {
		target = d.Table
	}
	if target == "" {
		return d.Phase + ": " + d.Error
	}
	return fmt.Sprintf("%s %s: %s", d.Phase, target, d.Error)
}

// backupDatabase copies the live database into dir before a rebuild. The
// file name carries the old schema version.
func backupDatabase(db *sql.DB, dir string, version int, log logger.Logger) (string, error) {
	errFactory := errors.New()

	if err := os.MkdirAll(dir, defaultDirPerm); err != nil {
		return "", errFactory.WithData(ErrSchemaInitFailed,
			detail{Phase: "create_backup_dir", Path: dir, Error: err.Error()})
	}

	name := fmt.Sprintf("ecgcapture_v%d_%s.db", version, time.Now().UTC().Format("20060102T150405Z"))
	backupPath := filepath.Join(dir, name)

	// VACUUM INTO must run outside a transaction.
	stmt := fmt.Sprintf("VACUUM INTO '%s'", strings.ReplaceAll(backupPath, "'", "''"))
	if _, err := db.Exec(stmt); err != nil {
		return "", errFactory.WithData(ErrSchemaInitFailed,
			detail{Phase: "create_backup", Path: backupPath, Error: err.Error()})
	}

	log.Info().Str("path", backupPath).Int("version", version).Msg("Database backup created")

	return backupPath, nil
}

// ValidateAndUpdateSchema leaves a current schema alone. Any other version
// is backed up (unless the file is new) and rebuilt empty; cases are not
// migrated across versions.
func ValidateAndUpdateSchema(db *sql.DB, backupDir string, log logger.Logger) error {
	errFactory := errors.New()

	version, err := GetSchemaVersion(db)
	if err != nil {
		return errFactory.Wrap(ErrSchemaValidationFailed, err)
	}

	switch version {
	case SchemaVersion:
		log.Debug().Int("version", version).Msg("Schema version is current")
		return nil
	case 0:
		log.Debug().Msg("Initializing new database")
	default:
		log.Warn().
			Int("found", version).
			Int("expected", SchemaVersion).
			Msg("Schema version mismatch, rebuilding database")

		if _, err := backupDatabase(db, backupDir, version, log); err != nil {
			return errFactory.Wrap(ErrSchemaMigrationFailed, err)
		}
	}

	if err := dropTables(db, log); err != nil {
		return err
	}

	return InitSchema(db, log)
}

func dropTables(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaMigrationFailed, err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			log.Debug().Err(err).Msg("Failed to rollback table drop")
		}
	}()

	// managedTables lists children before parents.
	for _, table := range managedTables {
		if _, err := tx.Exec("DROP TABLE IF EXISTS " + table); err != nil {
			return errFactory.WithData(ErrSchemaMigrationFailed,
				detail{Phase: "drop_table", Table: table, Error: err.Error()})
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.WithData(ErrSchemaMigrationFailed,
			detail{Phase: "commit", Error: err.Error()})
	}
	committed = true

	return nil
}
