package store

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"codeberg.org/mutker/ecgcapture/internal/errors"
	"codeberg.org/mutker/ecgcapture/internal/logger"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mockDB(t *testing.T, cfg Config) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return newDB(db, cfg, logger.Nop()), mock
}

func TestCreateCaseStorageFailure(t *testing.T) {
	d, mock := mockDB(t, DefaultConfig())

	mock.ExpectExec("INSERT INTO cases").
		WithArgs("42", sqlmock.AnyArg(), "note", sqlmock.AnyArg()).
		WillReturnError(stderrors.New("disk I/O error"))

	_, err := d.Cases().CreateCase(context.Background(), "42", time.Now(), "note")
	assert.True(t, errors.HasCode(err, ErrStorageAccess))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteCaseRollsBackOnFailure(t *testing.T) {
	d, mock := mockDB(t, DefaultConfig())

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM case_predictions").WithArgs(int64(5)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM case_images").WithArgs(int64(5)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM cases").WithArgs(int64(5)).WillReturnError(stderrors.New("locked"))
	mock.ExpectRollback()

	err := d.Cases().DeleteCase(context.Background(), "5")
	assert.True(t, errors.HasCode(err, ErrTransactionFailed))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUploadToMissingCase(t *testing.T) {
	d, mock := mockDB(t, DefaultConfig())

	mock.ExpectExec("INSERT INTO case_images").WillReturnResult(sqlmock.NewResult(0, 0))

	err := d.Cases().UploadImage(context.Background(), "8", []byte{1, 2}, "a.jpg")
	assert.True(t, errors.HasCode(err, ErrCaseNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJournalKeepsBufferWhenFlushFails(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchSize = 1
	cfg.BatchTimeout = 0
	d, mock := mockDB(t, cfg)
	j := d.Journal()

	now := time.Now()
	entry := SessionEntry{ID: "s1", StartedAt: now, StoppedAt: now.Add(time.Second), Reason: "auto"}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT OR REPLACE INTO sessions").WillReturnError(stderrors.New("full"))
	mock.ExpectRollback()

	err := j.RecordSession(context.Background(), entry)
	assert.True(t, errors.HasCode(err, ErrTransactionFailed))
	assert.Len(t, j.buffer, 1)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT OR REPLACE INTO sessions").
		WithArgs("s1", now.UnixMilli(), now.Add(time.Second).UnixMilli(), int64(1000), "auto", int64(0)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, j.Flush())
	assert.Empty(t, j.buffer)
	assert.NoError(t, mock.ExpectationsWereMet())
}
