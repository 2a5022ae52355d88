package render

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/ecgcapture/internal/buffer"
	"codeberg.org/mutker/ecgcapture/internal/ecg"
	"codeberg.org/mutker/ecgcapture/internal/errors"
	"codeberg.org/mutker/ecgcapture/internal/logger"
	"codeberg.org/mutker/ecgcapture/internal/metrics"
)

// Loop moves queued samples into the display rings at a fixed cadence.
// Rings and scratch space belong to whichever goroutine runs the loop.
type Loop struct {
	cfg       Config
	queues    map[ecg.Lead]*buffer.Queue
	rings     map[ecg.Lead]*buffer.Ring
	redrawers []Redrawer
	metrics   metrics.Collector
	logger    logger.Logger
	now       func() time.Time

	running atomic.Bool
	seq     uint64
	scratch []float64

	latestMu sync.RWMutex
	latest   Frame
}

func NewLoop(src QueueSource, cfg Config, collector metrics.Collector, log logger.Logger, redrawers ...Redrawer) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if collector == nil {
		collector = metrics.Noop()
	}

	l := &Loop{
		cfg:       cfg,
		queues:    make(map[ecg.Lead]*buffer.Queue, len(ecg.Leads)),
		rings:     make(map[ecg.Lead]*buffer.Ring, len(ecg.Leads)),
		redrawers: redrawers,
		metrics:   collector,
		logger:    log,
		now:       time.Now,
	}

	for _, lead := range ecg.Leads {
		l.queues[lead] = src.Queue(lead)
		l.rings[lead] = buffer.NewRing(lead, cfg.DisplaySamples)
	}
	l.latest = l.frame()

	return l, nil
}

// Run ticks until ctx is done. Only one Run may be active at a time.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return errors.New().New(ErrAlreadyRunning)
	}
	defer l.running.Store(false)

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	l.logger.Debug().Dur("interval", l.cfg.Interval).Int("display_samples", l.cfg.DisplaySamples).Msg("Render loop started")

	for {
		select {
		case <-ctx.Done():
			l.logger.Debug().Msg("Render loop stopped")
			return nil
		case <-ticker.C:
			l.Tick()
		}
	}
}

// Tick drains every queue once and redraws if anything moved. It must only
// be called from the goroutine that owns the loop.
func (l *Loop) Tick() bool {
	moved := false

	for _, lead := range ecg.Leads {
		l.scratch = l.queues[lead].Drain(l.scratch[:0])
		if len(l.scratch) == 0 {
			continue
		}

		for i, v := range l.scratch {
			l.scratch[i] = ecg.Display(lead, v)
		}
		l.rings[lead].Push(l.scratch)
		moved = true
	}

	if !moved {
		return false
	}

	l.seq++
	frame := l.frame()

	l.latestMu.Lock()
	l.latest = frame
	l.latestMu.Unlock()

	for _, r := range l.redrawers {
		r.Redraw(frame)
	}
	l.metrics.Redrawn()

	return true
}

func (l *Loop) frame() Frame {
	leads := make(ecg.Series, len(l.rings))
	for lead, ring := range l.rings {
		leads[lead] = ring.Values()
	}

	return Frame{Seq: l.seq, At: l.now(), Leads: leads}
}

// Latest returns the most recent frame. Safe from any goroutine.
func (l *Loop) Latest() Frame {
	l.latestMu.RLock()
	defer l.latestMu.RUnlock()
	return l.latest
}

func (l *Loop) Running() bool {
	return l.running.Load()
}
