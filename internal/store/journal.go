package store

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/ecgcapture/internal/errors"
)

// SessionEntry summarizes one finished acquisition session.
type SessionEntry struct {
	ID        string
	StartedAt time.Time
	StoppedAt time.Time
	Reason    string
	Samples   int
}

// ExportEntry summarizes one export attempt.
type ExportEntry struct {
	SessionID  string
	PatientID  string
	CaseID     string
	Outcome    string
	ErrorCode  string
	Warnings   int
	FinishedAt time.Time
}

type journalEntry struct {
	sql  string
	args []any
}

// Journal appends session and export records. Writes are buffered and
// flushed in one transaction when the batch fills, on a timer, and on
// Close.
type Journal struct {
	db            *DB
	cfg           Config
	mu            sync.Mutex
	buffer        []journalEntry
	closed        bool
	flushTicker   *time.Ticker
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
}

func (d *DB) Journal() *Journal {
	j := &Journal{
		db:            d,
		cfg:           d.cfg,
		buffer:        make([]journalEntry, 0, max(d.cfg.BatchSize, 1)),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}

	if d.cfg.BatchSize > 0 && d.cfg.BatchTimeout > 0 {
		j.flushTicker = time.NewTicker(d.cfg.BatchTimeout)
		go j.flusher()
	} else {
		close(j.flushDoneChan)
	}

	return j
}

func (j *Journal) RecordSession(ctx context.Context, e SessionEntry) error {
	if e.ID == "" || e.StoppedAt.Before(e.StartedAt) {
		return errors.New().WithData(ErrInvalidEntry, e)
	}

	return j.record(ctx, journalEntry{
		sql: insertSessionSQL,
		args: []any{
			e.ID,
			e.StartedAt.UnixMilli(),
			e.StoppedAt.UnixMilli(),
			e.StoppedAt.Sub(e.StartedAt).Milliseconds(),
			e.Reason,
			int64(e.Samples),
		},
	})
}

func (j *Journal) RecordExport(ctx context.Context, e ExportEntry) error {
	if e.Outcome != "success" && e.Outcome != "aborted" {
		return errors.New().WithData(ErrInvalidEntry, e)
	}

	return j.record(ctx, journalEntry{
		sql: insertExportSQL,
		args: []any{
			e.SessionID,
			e.PatientID,
			e.CaseID,
			e.Outcome,
			e.ErrorCode,
			int64(e.Warnings),
			e.FinishedAt.UnixMilli(),
		},
	})
}

func (j *Journal) record(ctx context.Context, e journalEntry) error {
	errFactory := errors.New()

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return errFactory.New(ErrJournalClosed)
	}

	j.buffer = append(j.buffer, e)
	if len(j.buffer) >= j.cfg.BatchSize {
		return j.flush()
	}
	return nil
}

// Flush writes any buffered entries now.
func (j *Journal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.flush()
}

// Close flushes pending entries and stops the flusher. The database stays
// open.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	j.mu.Unlock()

	close(j.shutdownChan)
	if j.flushTicker != nil {
		j.flushTicker.Stop()
	}
	<-j.flushDoneChan

	return j.Flush()
}

func (j *Journal) flusher() {
	defer close(j.flushDoneChan)

	for {
		select {
		case <-j.flushTicker.C:
			j.mu.Lock()
			if err := j.flush(); err != nil {
				j.db.logger.Warn().Err(err).Msg("Periodic journal flush failed")
			}
			j.mu.Unlock()
		case <-j.shutdownChan:
			return
		}
	}
}

func (j *Journal) flush() error {
	if len(j.buffer) == 0 {
		return nil
	}

	errFactory := errors.New()
	log := j.db.logger

	tx, err := j.db.sql.Begin()
	if err != nil {
		log.Error().Err(err).Msg("Failed to begin transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	for _, e := range j.buffer {
		if _, err := tx.Exec(e.sql, e.args...); err != nil {
			log.Error().Err(err).Msg("Failed to execute insert")
			if err := tx.Rollback(); err != nil {
				log.Error().Err(err).Msg("Failed to roll back transaction")
			}
			return errFactory.Wrap(ErrTransactionFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		log.Error().Err(err).Msg("Failed to commit transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	log.Debug().Int("records", len(j.buffer)).Msg("Flushed journal to database")
	j.buffer = j.buffer[:0]

	return nil
}

// RecentSessions returns up to limit sessions, newest first.
func (j *Journal) RecentSessions(ctx context.Context, limit int) ([]SessionEntry, error) {
	errFactory := errors.New()

	rows, err := j.db.sql.QueryContext(ctx, `
        SELECT id, started_at, stopped_at, reason, samples
        FROM sessions
        ORDER BY started_at DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var out []SessionEntry
	for rows.Next() {
		var (
			e                SessionEntry
			started, stopped int64
		)
		if err := rows.Scan(&e.ID, &started, &stopped, &e.Reason, &e.Samples); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		e.StartedAt = time.UnixMilli(started).UTC()
		e.StoppedAt = time.UnixMilli(stopped).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return out, nil
}
