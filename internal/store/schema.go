package store

import (
	"database/sql"

	"codeberg.org/mutker/ecgcapture/internal/errors"
	"codeberg.org/mutker/ecgcapture/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS patients (
	       id          TEXT PRIMARY KEY,
	       status      TEXT NOT NULL,
	       updated_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS cases (
	       id          INTEGER PRIMARY KEY AUTOINCREMENT,
	       patient_id  TEXT NOT NULL,
	       measured_at TEXT NOT NULL,
	       note        TEXT NOT NULL,
	       created_at  TEXT NOT NULL
	   );
	   CREATE INDEX IF NOT EXISTS ix_cases_patient ON cases (patient_id);
	   CREATE TABLE IF NOT EXISTS case_images (
	       id           INTEGER PRIMARY KEY AUTOINCREMENT,
	       case_id      INTEGER NOT NULL REFERENCES cases (id),
	       file_name    TEXT NOT NULL,
	       content_type TEXT NOT NULL,
	       size         INTEGER NOT NULL CHECK (size > 0),
	       data         BLOB NOT NULL,
	       uploaded_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS case_predictions (
	       id           INTEGER PRIMARY KEY AUTOINCREMENT,
	       case_id      INTEGER NOT NULL REFERENCES cases (id),
	       label        TEXT NOT NULL CHECK (label IN ('MI', 'non-MI', 'uncertain')),
	       confidence   REAL NOT NULL,
	       algorithm    TEXT NOT NULL,
	       predicted_at TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS sessions (
	       id           TEXT PRIMARY KEY,
	       started_at   INTEGER NOT NULL,
	       stopped_at   INTEGER NOT NULL,
	       duration_ms  INTEGER NOT NULL CHECK (typeof(duration_ms) = 'integer'),
	       reason       TEXT NOT NULL,
	       samples      INTEGER NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS exports (
	       id           INTEGER PRIMARY KEY AUTOINCREMENT,
	       session_id   TEXT NOT NULL,
	       patient_id   TEXT NOT NULL,
	       case_id      TEXT NOT NULL,
	       outcome      TEXT NOT NULL CHECK (outcome IN ('success', 'aborted')),
	       error_code   TEXT NOT NULL,
	       warnings     INTEGER NOT NULL,
	       finished_at  INTEGER NOT NULL
	   );`

	insertSessionSQL = `
    INSERT OR REPLACE INTO sessions (
        id, started_at, stopped_at, duration_ms, reason, samples
    ) VALUES (?, ?, ?, ?, ?, ?)`

	insertExportSQL = `
    INSERT INTO exports (
        session_id, patient_id, case_id, outcome, error_code, warnings, finished_at
    ) VALUES (?, ?, ?, ?, ?, ?, ?)`
)

var managedTables = []string{
	"exports", "sessions", "case_predictions", "case_images", "cases", "patients", "schema_versions",
}

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating database...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, detail{Phase: "create_tables", Error: err.Error()})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, detail{Phase: "record_version", Error: err.Error()})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Schema initialized successfully")

	return nil
}

// GetSchemaVersion returns the current schema version, 0 for an empty
// database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, detail{Phase: "get_version", Error: err.Error()})
	}

	return version, nil
}

func TableExists(db *sql.DB, tableName string) (bool, error) {
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errors.New().WithData(ErrSchemaValidationFailed,
			detail{Phase: "check_table_exists", Table: tableName, Error: err.Error()})
	}
	return exists, nil
}
