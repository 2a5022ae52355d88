package render

import (
	"time"

	"codeberg.org/mutker/ecgcapture/internal/buffer"
	"codeberg.org/mutker/ecgcapture/internal/ecg"
)

// Frame is an immutable copy of every display ring at one tick. Values are
// already in chart units.
type Frame struct {
	Seq   uint64
	At    time.Time
	Leads ecg.Series
}

// Redrawer is notified after a tick that moved at least one lead. Redraw is
// called on the render goroutine and must not block.
type Redrawer interface {
	Redraw(frame Frame)
}

// RedrawFunc adapts a plain function to Redrawer.
type RedrawFunc func(Frame)

func (f RedrawFunc) Redraw(frame Frame) { f(frame) }

// QueueSource hands out the per-lead queues the loop drains.
type QueueSource interface {
	Queue(lead ecg.Lead) *buffer.Queue
}
