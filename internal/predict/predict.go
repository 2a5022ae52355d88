// Package predict attaches an advisory label to a recording. Only a
// placeholder model exists; its output carries no diagnostic meaning.
package predict

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"codeberg.org/mutker/ecgcapture/internal/ecg"
	"codeberg.org/mutker/ecgcapture/internal/errors"
)

type Label string

const (
	LabelMI        Label = "MI"
	LabelNonMI     Label = "non-MI"
	LabelUncertain Label = "uncertain"
)

const (
	KindNone = "none"
	KindMock = "mock"

	MockAlgorithm = "mock-v1"
)

const ErrUnknownPredictor = errors.ErrorCode("predict_unknown_predictor")

type Prediction struct {
	Label       Label     `json:"label"`
	Confidence  float64   `json:"confidence"`
	Algorithm   string    `json:"algorithm"`
	PredictedAt time.Time `json:"predictedAt"`
}

type Predictor interface {
	Predict(ctx context.Context, series ecg.Series) (Prediction, error)
}

// Rand is the randomness the mock model draws from.
type Rand interface {
	Float64() float64
}

// New returns the predictor registered under kind. KindNone yields nil.
func New(kind string) (Predictor, error) {
	switch kind {
	case "", KindNone:
		return nil, nil
	case KindMock:
		return NewMock(nil, nil), nil
	}

	return nil, errors.New().WithData(ErrUnknownPredictor, kind)
}

type Mock struct {
	mu  sync.Mutex
	rng Rand
	now func() time.Time
}

func NewMock(rng Rand, now func() time.Time) *Mock {
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x2545f4914f6cdd1d))
	}
	if now == nil {
		now = time.Now
	}

	return &Mock{rng: rng, now: now}
}

var mockLabels = []Label{LabelMI, LabelNonMI, LabelUncertain}

// Predict draws a label uniformly and a confidence in [0.5, 1). An empty
// reference lead is always uncertain with zero confidence.
func (m *Mock) Predict(ctx context.Context, series ecg.Series) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}

	p := Prediction{Label: LabelUncertain, Algorithm: MockAlgorithm, PredictedAt: m.now().UTC()}
	if series.Len(ecg.Reference) == 0 {
		return p, nil
	}

	m.mu.Lock()
	pick := m.rng.Float64()
	conf := m.rng.Float64()
	m.mu.Unlock()

	p.Label = mockLabels[min(int(pick*float64(len(mockLabels))), len(mockLabels)-1)]
	p.Confidence = 0.5 + conf/2

	return p, nil
}
