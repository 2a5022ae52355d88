package buffer

import (
	"sync"
	"time"

	"codeberg.org/mutker/ecgcapture/internal/ecg"
	"codeberg.org/mutker/ecgcapture/internal/logger"
	"codeberg.org/mutker/ecgcapture/internal/metrics"
)

// Snapshot is a frozen copy of one session's recording.
type Snapshot struct {
	Series    ecg.Series
	StartedAt time.Time
	StoppedAt time.Time
	Active    bool
}

// Duration returns the recorded wall time.
func (s Snapshot) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.StoppedAt.IsZero() {
		return 0
	}

	return s.StoppedAt.Sub(s.StartedAt)
}

// Stats reports queue health per lead.
type Stats struct {
	Queued  map[ecg.Lead]int
	Dropped map[ecg.Lead]uint64
}

// Ingestor fans each batch out to the session recording and to the per-lead
// display queues. Both updates happen under one short critical section so
// the two views agree at batch granularity.
type Ingestor struct {
	mu        sync.Mutex
	recording bool
	rec       *Recording
	startedAt time.Time
	stoppedAt time.Time

	queues  map[ecg.Lead]*Queue
	metrics metrics.Collector
	logger  logger.Logger
}

func NewIngestor(queueCapacity int, collector metrics.Collector, log logger.Logger) *Ingestor {
	queues := make(map[ecg.Lead]*Queue, len(ecg.Leads))
	for _, l := range ecg.Leads {
		queues[l] = NewQueue(queueCapacity)
	}

	if collector == nil {
		collector = metrics.Noop()
	}

	return &Ingestor{
		rec:     NewRecording(),
		queues:  queues,
		metrics: collector,
		logger:  log,
	}
}

// BeginSession clears the previous recording and starts accepting samples
// into a fresh one.
func (in *Ingestor) BeginSession(startedAt time.Time) {
	in.mu.Lock()
	defer in.mu.Unlock()

	in.rec.Reset()
	in.recording = true
	in.startedAt = startedAt
	in.stoppedAt = time.Time{}
}

// EndSession freezes the recording. Batches that arrive afterwards are
// kept out of it until the next BeginSession; they still feed the display
// queues.
func (in *Ingestor) EndSession(stoppedAt time.Time) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if !in.recording {
		return
	}

	in.recording = false
	in.stoppedAt = stoppedAt
	in.logger.Debug().
		Int("samples", in.rec.Len(ecg.Reference)).
		Dur("duration", stoppedAt.Sub(in.startedAt)).
		Msg("Recording frozen")
}

// Ingest enqueues batch for display and, while a session is open, appends
// it to the recording. It reports whether the recording took the batch.
func (in *Ingestor) Ingest(batch ecg.SampleBatch) bool {
	in.mu.Lock()
	defer in.mu.Unlock()

	total := 0
	for _, lead := range ecg.Leads {
		values := batch.Values[lead]
		if len(values) == 0 {
			continue
		}
		total += len(values)

		if in.recording {
			in.rec.Append(lead, values)
		}

		if evicted := in.queues[lead].Push(values); evicted > 0 {
			in.metrics.SamplesDropped(lead, evicted)
		}
	}

	in.metrics.BatchIngested(total)

	return in.recording
}

// Queue returns the display queue for lead.
func (in *Ingestor) Queue(lead ecg.Lead) *Queue {
	return in.queues[lead]
}

// Snapshot copies the current recording.
func (in *Ingestor) Snapshot() Snapshot {
	in.mu.Lock()
	defer in.mu.Unlock()

	return Snapshot{
		Series:    in.rec.Series(),
		StartedAt: in.startedAt,
		StoppedAt: in.stoppedAt,
		Active:    in.recording,
	}
}

// RecordedLen returns the sample count on lead without copying.
func (in *Ingestor) RecordedLen(lead ecg.Lead) int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.rec.Len(lead)
}

func (in *Ingestor) Stats() Stats {
	st := Stats{
		Queued:  make(map[ecg.Lead]int, len(in.queues)),
		Dropped: make(map[ecg.Lead]uint64, len(in.queues)),
	}
	for l, q := range in.queues {
		st.Queued[l] = q.Len()
		st.Dropped[l] = q.Dropped()
	}

	return st
}
