package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/ecgcapture/internal/errors"
	"codeberg.org/mutker/ecgcapture/internal/predict"
)

// Case is a stored case with its image count.
type Case struct {
	ID         string
	PatientID  string
	MeasuredAt time.Time
	Note       string
	CreatedAt  time.Time
	Images     int
}

// CaseRepository is the offline record store. It offers the same
// operations as the remote API client.
type CaseRepository struct {
	db  *DB
	now func() time.Time
}

func (d *DB) Cases() *CaseRepository {
	return &CaseRepository{db: d, now: time.Now}
}

var imageTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

func (r *CaseRepository) CreateCase(ctx context.Context, patientID string, measuredAt time.Time, note string) (string, error) {
	errFactory := errors.New()

	if strings.TrimSpace(patientID) == "" {
		return "", errFactory.New(ErrInvalidPatientID)
	}

	res, err := r.db.sql.ExecContext(ctx,
		`INSERT INTO cases (patient_id, measured_at, note, created_at) VALUES (?, ?, ?, ?)`,
		patientID, formatTime(measuredAt), note, formatTime(r.now()))
	if err != nil {
		return "", errFactory.Wrap(ErrStorageAccess, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return "", errFactory.Wrap(ErrStorageAccess, err)
	}

	r.db.logger.Debug().Int64("case_id", id).Str("patient_id", patientID).Msg("Case created")
	return strconv.FormatInt(id, 10), nil
}

// UploadImage attaches an image to an existing case. Only JPEG, PNG and
// WebP up to MaxImageSize are accepted.
func (r *CaseRepository) UploadImage(ctx context.Context, caseID string, data []byte, filename string) error {
	errFactory := errors.New()

	id, err := parseCaseID(caseID)
	if err != nil {
		return err
	}

	ctype, ok := imageTypes[strings.ToLower(filepath.Ext(filename))]
	if !ok || len(data) == 0 {
		return errFactory.WithData(ErrInvalidImage, filename)
	}
	if len(data) > MaxImageSize {
		return errFactory.WithData(ErrImageTooLarge, len(data))
	}

	res, err := r.db.sql.ExecContext(ctx, `
        INSERT INTO case_images (case_id, file_name, content_type, size, data, uploaded_at)
        SELECT ?, ?, ?, ?, ?, ?
        WHERE EXISTS (SELECT 1 FROM cases WHERE id = ?)`,
		id, filename, ctype, len(data), data, formatTime(r.now()), id)
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	if n, err := res.RowsAffected(); err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	} else if n == 0 {
		return errFactory.WithData(ErrCaseNotFound, caseID)
	}

	r.db.logger.Info().Str("case_id", caseID).Str("file", filename).Int("bytes", len(data)).Msg("[AUDIT] Stored image for case")
	return nil
}

// DeleteCase removes a case with its images and predictions.
func (r *CaseRepository) DeleteCase(ctx context.Context, caseID string) error {
	errFactory := errors.New()

	id, err := parseCaseID(caseID)
	if err != nil {
		return err
	}

	tx, err := r.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				r.db.logger.Debug().Err(err).Msg("Failed to rollback case delete")
			}
		}
	}()

	for _, stmt := range []string{
		`DELETE FROM case_predictions WHERE case_id = ?`,
		`DELETE FROM case_images WHERE case_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return errFactory.Wrap(ErrTransactionFailed, err)
		}
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM cases WHERE id = ?`, id)
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	} else if n == 0 {
		return errFactory.WithData(ErrCaseNotFound, caseID)
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	committed = true

	r.db.logger.Info().Str("case_id", caseID).Msg("[AUDIT] Deleted case")
	return nil
}

// UpdateStatus records the patient's status, creating the patient row on
// first use.
func (r *CaseRepository) UpdateStatus(ctx context.Context, patientID, status string) error {
	errFactory := errors.New()

	if strings.TrimSpace(patientID) == "" {
		return errFactory.New(ErrInvalidPatientID)
	}

	_, err := r.db.sql.ExecContext(ctx, `
        INSERT INTO patients (id, status, updated_at) VALUES (?, ?, ?)
        ON CONFLICT (id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`,
		patientID, status, formatTime(r.now()))
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}
	return nil
}

// SavePrediction stores a prediction against a case.
func (r *CaseRepository) SavePrediction(ctx context.Context, caseID string, p predict.Prediction) error {
	errFactory := errors.New()

	id, err := parseCaseID(caseID)
	if err != nil {
		return err
	}

	_, err = r.db.sql.ExecContext(ctx, `
        INSERT INTO case_predictions (case_id, label, confidence, algorithm, predicted_at)
        VALUES (?, ?, ?, ?, ?)`,
		id, string(p.Label), p.Confidence, p.Algorithm, formatTime(p.PredictedAt))
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}
	return nil
}

func (r *CaseRepository) PatientStatus(ctx context.Context, patientID string) (string, error) {
	var status string
	err := r.db.sql.QueryRowContext(ctx, `SELECT status FROM patients WHERE id = ?`, patientID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", errors.New().Wrap(ErrStorageAccess, err)
	}
	return status, nil
}

// CasesForPatient lists a patient's cases, newest measurement first.
func (r *CaseRepository) CasesForPatient(ctx context.Context, patientID string) ([]Case, error) {
	errFactory := errors.New()

	rows, err := r.db.sql.QueryContext(ctx, `
        SELECT c.id, c.patient_id, c.measured_at, c.note, c.created_at,
               (SELECT COUNT(*) FROM case_images i WHERE i.case_id = c.id)
        FROM cases c
        WHERE c.patient_id = ?
        ORDER BY c.measured_at DESC, c.id DESC`, patientID)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var out []Case
	for rows.Next() {
		var (
			c                   Case
			id                  int64
			measured, createdAt string
		)
		if err := rows.Scan(&id, &c.PatientID, &measured, &c.Note, &createdAt, &c.Images); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		c.ID = strconv.FormatInt(id, 10)
		c.MeasuredAt = parseTime(measured)
		c.CreatedAt = parseTime(createdAt)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return out, nil
}

func parseCaseID(caseID string) (int64, error) {
	id, err := strconv.ParseInt(caseID, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New().WithData(ErrCaseNotFound, caseID)
	}
	return id, nil
}

// Fixed width so that text ordering is chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}
