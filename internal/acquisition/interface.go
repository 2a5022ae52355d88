package acquisition

import (
	"time"

	"codeberg.org/mutker/ecgcapture/internal/ecg"
	"codeberg.org/mutker/ecgcapture/internal/metrics"
)

// Sink consumes the batches of a session. Ingest is called from the
// producer goroutine only and reports whether the batch entered the
// recording. The session never calls Ingest for a run once its stop has
// begun.
type Sink interface {
	BeginSession(startedAt time.Time)
	Ingest(batch ecg.SampleBatch) bool
	EndSession(stoppedAt time.Time)
}

// State of the acquisition state machine.
type State int

const (
	Idle State = iota
	Recording
)

func (s State) String() string {
	if s == Recording {
		return "recording"
	}
	return "idle"
}

// Status values published on the event stream.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusConnecting  Status = "connecting"
	StatusConnected   Status = "connected"
	StatusRecording   Status = "recording"
	StatusError       Status = "error"
	StatusAutoStopped Status = "auto_stopped"
)

// Event is one entry on the session status stream. StartedAt and Samples
// are only set on the AutoStopped and Idle events that close a session.
type Event struct {
	Status    Status
	SessionID string
	At        time.Time
	StartedAt time.Time
	Elapsed   time.Duration
	Samples   int
	Reason    metrics.StopReason
	Err       error
}

// Options controls session timing and the device to open.
type Options struct {
	Port                 string
	Baud                 int
	SampleInterval       time.Duration
	TickInterval         time.Duration
	MaxDuration          time.Duration
	MaxConsecutiveErrors int
	Now                  func() time.Time
}

const (
	DefaultSampleInterval       = 20 * time.Millisecond
	DefaultTickInterval         = time.Second
	DefaultMaxDuration          = 3 * time.Minute
	DefaultMaxConsecutiveErrors = 25
)

// DefaultOptions mirrors the bedside defaults.
func DefaultOptions() Options {
	return Options{
		Port:                 "COM3",
		Baud:                 9600,
		SampleInterval:       DefaultSampleInterval,
		TickInterval:         DefaultTickInterval,
		MaxDuration:          DefaultMaxDuration,
		MaxConsecutiveErrors: DefaultMaxConsecutiveErrors,
		Now:                  time.Now,
	}
}
