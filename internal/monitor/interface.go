package monitor

import (
	"context"
	"time"

	"codeberg.org/mutker/ecgcapture/internal/acquisition"
	"codeberg.org/mutker/ecgcapture/internal/export"
	"codeberg.org/mutker/ecgcapture/internal/quality"
	"codeberg.org/mutker/ecgcapture/internal/render"
)

type Session interface {
	Start(ctx context.Context) error
	Stop()
	State() acquisition.State
	Elapsed() time.Duration
	SessionID() string
	MaxDuration() time.Duration
	Subscribe(buffer int) (<-chan acquisition.Event, func())
}

type Exporter interface {
	Run(ctx context.Context, patientID string, progress export.Progress) (export.Result, error)
	RunImage(ctx context.Context, patientID string, data []byte, filename string, progress export.Progress) (export.Result, error)
	Running() bool
}

type Assessor interface {
	AssessBytes(data []byte) (quality.Report, error)
}

type FrameSource interface {
	Latest() render.Frame
}

// Message is one JSON object on the live socket. Type is "frame", "status"
// or "progress".
type Message struct {
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data"`
}

type FrameData struct {
	Seq   uint64               `json:"seq"`
	Leads map[string][]float64 `json:"leads"`
}

type StatusData struct {
	Status    acquisition.Status `json:"status"`
	SessionID string             `json:"sessionId,omitempty"`
	Elapsed   float64            `json:"elapsed"`
	Reason    string             `json:"reason,omitempty"`
	Error     string             `json:"error,omitempty"`
}

type ProgressData struct {
	Percent int    `json:"percent"`
	Message string `json:"message"`
}
