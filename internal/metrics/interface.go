package metrics

import (
	"net/http"
	"time"

	"codeberg.org/mutker/ecgcapture/internal/ecg"
)

// Collector receives pipeline events from every stage. Implementations must
// be safe for concurrent use and must never block the caller.
type Collector interface {
	BatchIngested(samples int)
	SamplesDropped(lead ecg.Lead, n int)
	Redrawn()
	SessionStarted()
	SessionStopped(reason StopReason, elapsed time.Duration)
	ExportFinished(outcome string, elapsed time.Duration)
	QualityAssessed(verdict string, blurScore float64)

	// Handler exposes the collected metrics for scraping.
	Handler() http.Handler
}

// StopReason labels why a recording session ended.
type StopReason string

const (
	StopManual   StopReason = "manual"
	StopAuto     StopReason = "auto"
	StopHardware StopReason = "hardware"
)
