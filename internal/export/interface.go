package export

import (
	"context"
	"image"
	"time"

	"codeberg.org/mutker/ecgcapture/internal/acquisition"
	"codeberg.org/mutker/ecgcapture/internal/buffer"
	"codeberg.org/mutker/ecgcapture/internal/ecg"
	"codeberg.org/mutker/ecgcapture/internal/predict"
	"codeberg.org/mutker/ecgcapture/internal/quality"
	"codeberg.org/mutker/ecgcapture/internal/store"
)

// CaseStore persists cases and their images. DeleteCase is only used to
// compensate a failed upload.
type CaseStore interface {
	CreateCase(ctx context.Context, patientID string, measuredAt time.Time, note string) (string, error)
	UploadImage(ctx context.Context, caseID string, data []byte, filename string) error
	DeleteCase(ctx context.Context, caseID string) error
}

type PatientStore interface {
	UpdateStatus(ctx context.Context, patientID, status string) error
}

// PredictionStore is implemented by case stores that can keep a
// prediction next to the case.
type PredictionStore interface {
	SavePrediction(ctx context.Context, caseID string, p predict.Prediction) error
}

type Session interface {
	State() acquisition.State
	Stop()
	SessionID() string
}

type Recording interface {
	Snapshot() buffer.Snapshot
}

type Synthesizer interface {
	Synthesize(series ecg.Series) (*image.RGBA, error)
	Encode(img image.Image) ([]byte, error)
}

// QualityGate scores synthesized images and, for captures, encoded ones.
type QualityGate interface {
	Assess(img image.Image) quality.Report
	AssessBytes(data []byte) (quality.Report, error)
}

type Journal interface {
	RecordExport(ctx context.Context, e store.ExportEntry) error
}

// Progress receives percent complete and a status line.
type Progress func(percent int, message string)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeAborted Outcome = "aborted"
)

type Result struct {
	CaseID     string              `json:"caseId,omitempty"`
	Outcome    Outcome             `json:"outcome"`
	Err        error               `json:"-"`
	Message    string              `json:"message"`
	Quality    *quality.Report     `json:"quality,omitempty"`
	Prediction *predict.Prediction `json:"prediction,omitempty"`
	Warnings   []error             `json:"-"`
	Duration   time.Duration       `json:"duration"`
}
