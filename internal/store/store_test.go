package store_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/ecgcapture/internal/errors"
	"codeberg.org/mutker/ecgcapture/internal/logger"
	"codeberg.org/mutker/ecgcapture/internal/predict"
	"codeberg.org/mutker/ecgcapture/internal/store"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, cfg store.Config) *store.DB {
	t.Helper()
	db, err := store.Open(cfg, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func tempConfig(t *testing.T) store.Config {
	t.Helper()
	cfg := store.DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "data", "ecgcapture.db")
	cfg.BatchTimeout = 0
	return cfg
}

func TestCaseLifecycle(t *testing.T) {
	ctx := context.Background()
	cases := openStore(t, tempConfig(t)).Cases()

	measured := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	id, err := cases.CreateCase(ctx, "42", measured, "ECG recording (02:15)")
	require.NoError(t, err)
	assert.Equal(t, "1", id)

	require.NoError(t, cases.UploadImage(ctx, id, []byte{0xff, 0xd8, 0xff}, "ECG_20240601_093000.jpg"))
	require.NoError(t, cases.SavePrediction(ctx, id, predict.Prediction{
		Label: predict.LabelUncertain, Confidence: 0.6, Algorithm: predict.MockAlgorithm, PredictedAt: measured,
	}))

	list, err := cases.CasesForPatient(ctx, "42")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
	assert.Equal(t, 1, list[0].Images)
	assert.True(t, measured.Equal(list[0].MeasuredAt))
	assert.Equal(t, "ECG recording (02:15)", list[0].Note)

	require.NoError(t, cases.DeleteCase(ctx, id))
	list, err = cases.CasesForPatient(ctx, "42")
	require.NoError(t, err)
	assert.Empty(t, list)

	err = cases.DeleteCase(ctx, id)
	assert.True(t, errors.HasCode(err, store.ErrCaseNotFound))
}

func TestUploadValidation(t *testing.T) {
	ctx := context.Background()
	cases := openStore(t, tempConfig(t)).Cases()

	id, err := cases.CreateCase(ctx, "7", time.Now(), "")
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
		file string
		code errors.ErrorCode
	}{
		{"unsupported extension", []byte{1}, "scan.gif", store.ErrInvalidImage},
		{"empty payload", nil, "scan.jpg", store.ErrInvalidImage},
		{"too large", make([]byte, store.MaxImageSize+1), "scan.png", store.ErrImageTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := cases.UploadImage(ctx, id, tt.data, tt.file)
			assert.True(t, errors.HasCode(err, tt.code), "got %v", err)
		})
	}

	assert.NoError(t, cases.UploadImage(ctx, id, []byte{1}, "SCAN.WEBP"))

	err = cases.UploadImage(ctx, "999", []byte{1}, "scan.jpg")
	assert.True(t, errors.HasCode(err, store.ErrCaseNotFound))

	err = cases.UploadImage(ctx, "abc", []byte{1}, "scan.jpg")
	assert.True(t, errors.HasCode(err, store.ErrCaseNotFound))
}

func TestUpdateStatusUpserts(t *testing.T) {
	ctx := context.Background()
	cases := openStore(t, tempConfig(t)).Cases()

	status, err := cases.PatientStatus(ctx, "42")
	require.NoError(t, err)
	assert.Empty(t, status)

	require.NoError(t, cases.UpdateStatus(ctx, "42", "waiting"))
	require.NoError(t, cases.UpdateStatus(ctx, "42", "examined"))

	status, err = cases.PatientStatus(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "examined", status)

	assert.True(t, errors.HasCode(cases.UpdateStatus(ctx, " ", "examined"), store.ErrInvalidPatientID))
}

func TestSchemaMismatchBacksUpAndRecreates(t *testing.T) {
	cfg := tempConfig(t)

	db, err := store.Open(cfg, logger.Nop())
	require.NoError(t, err)
	_, err = db.Cases().CreateCase(context.Background(), "1", time.Now(), "old")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	raw, err := sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	_, err = raw.Exec(`INSERT INTO schema_versions (version, applied_at) VALUES (99, datetime('now'))`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	reopened := openStore(t, cfg)

	backups, err := os.ReadDir(filepath.Join(filepath.Dir(cfg.DBPath), "backups"))
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Contains(t, backups[0].Name(), "ecgcapture_v99_")

	list, err := reopened.Cases().CasesForPatient(context.Background(), "1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestJournalBatchesWrites(t *testing.T) {
	ctx := context.Background()
	cfg := tempConfig(t)
	cfg.BatchSize = 2
	j := openStore(t, cfg).Journal()

	start := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	entry := func(id string, offset time.Duration) store.SessionEntry {
		return store.SessionEntry{ID: id, StartedAt: start.Add(offset), StoppedAt: start.Add(offset + time.Minute), Reason: "manual", Samples: 3000}
	}

	require.NoError(t, j.RecordSession(ctx, entry("a", 0)))
	got, err := j.RecentSessions(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, j.RecordSession(ctx, entry("b", time.Hour)))
	got, err = j.RecentSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, 3000, got[0].Samples)

	require.NoError(t, j.RecordSession(ctx, entry("c", 2*time.Hour)))
	require.NoError(t, j.RecordExport(ctx, store.ExportEntry{SessionID: "c", PatientID: "42", CaseID: "1", Outcome: "success", FinishedAt: start}))
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())

	got, err = j.RecentSessions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].ID)

	err = j.RecordSession(ctx, entry("d", 3*time.Hour))
	assert.True(t, errors.HasCode(err, store.ErrJournalClosed))
}

func TestJournalRejectsInvalidEntries(t *testing.T) {
	ctx := context.Background()
	j := openStore(t, tempConfig(t)).Journal()
	defer j.Close()

	now := time.Now()
	assert.True(t, errors.HasCode(j.RecordSession(ctx, store.SessionEntry{StartedAt: now, StoppedAt: now}), store.ErrInvalidEntry))
	assert.True(t, errors.HasCode(j.RecordSession(ctx, store.SessionEntry{ID: "x", StartedAt: now, StoppedAt: now.Add(-time.Second)}), store.ErrInvalidEntry))
	assert.True(t, errors.HasCode(j.RecordExport(ctx, store.ExportEntry{Outcome: "maybe"}), store.ErrInvalidEntry))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.True(t, errors.HasCode(j.RecordSession(cancelled, store.SessionEntry{ID: "x", StartedAt: now, StoppedAt: now}), store.ErrOperationTimeout))
}

func TestJournalPeriodicFlush(t *testing.T) {
	ctx := context.Background()
	cfg := tempConfig(t)
	cfg.BatchSize = 100
	cfg.BatchTimeout = 10 * time.Millisecond
	j := openStore(t, cfg).Journal()
	defer j.Close()

	now := time.Now()
	require.NoError(t, j.RecordSession(ctx, store.SessionEntry{ID: "x", StartedAt: now, StoppedAt: now}))

	require.Eventually(t, func() bool {
		got, err := j.RecentSessions(ctx, 10)
		return err == nil && len(got) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, store.DefaultConfig().Validate())
	assert.True(t, errors.HasCode(store.Config{}.Validate(), store.ErrInvalidDBPath))
	assert.True(t, errors.HasCode(store.Config{DBPath: "x", BatchSize: -1}.Validate(), store.ErrInvalidConfig))
}
