package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/ecgcapture/internal/acquisition"
	"codeberg.org/mutker/ecgcapture/internal/logger"
	"codeberg.org/mutker/ecgcapture/internal/metrics"
	"codeberg.org/mutker/ecgcapture/internal/store"
)

func TestUntilIdleReturnsOnIdle(t *testing.T) {
	events := make(chan acquisition.Event, 4)
	events <- acquisition.Event{Status: acquisition.StatusRecording}
	events <- acquisition.Event{Status: acquisition.StatusAutoStopped}
	events <- acquisition.Event{Status: acquisition.StatusIdle}

	done := make(chan struct{})
	go func() {
		untilIdle(context.Background(), events)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("untilIdle ignored the idle event")
	}
	assert.Empty(t, events)
}

func TestUntilIdleReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	untilIdle(ctx, make(chan acquisition.Event))
}

func TestJournalSessionsUsesIdleEvent(t *testing.T) {
	cfg := store.DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "ecgcapture.db")
	cfg.BatchTimeout = 0

	db, err := store.Open(cfg, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	a := &app{log: logger.Nop(), journal: db.Journal()}

	started := time.Date(2024, 3, 9, 14, 0, 0, 0, time.UTC)
	events := make(chan acquisition.Event, 4)
	events <- acquisition.Event{Status: acquisition.StatusRecording, SessionID: "s1"}
	events <- acquisition.Event{
		Status:    acquisition.StatusIdle,
		SessionID: "s1",
		At:        started.Add(95 * time.Second),
		StartedAt: started,
		Samples:   4750,
		Reason:    metrics.StopManual,
	}
	close(events)

	a.journalSessions(context.Background(), events)
	require.NoError(t, a.journal.Flush())

	sessions, err := a.journal.RecentSessions(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "s1", sessions[0].ID)
	assert.Equal(t, started, sessions[0].StartedAt)
	assert.Equal(t, started.Add(95*time.Second), sessions[0].StoppedAt)
	assert.Equal(t, 4750, sessions[0].Samples)
	assert.Equal(t, string(metrics.StopManual), sessions[0].Reason)
}
