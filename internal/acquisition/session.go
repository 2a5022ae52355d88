package acquisition

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/ecgcapture/internal/ecg"
	"codeberg.org/mutker/ecgcapture/internal/errors"
	"codeberg.org/mutker/ecgcapture/internal/logger"
	"codeberg.org/mutker/ecgcapture/internal/metrics"
	"codeberg.org/mutker/ecgcapture/internal/signal"
	"github.com/google/uuid"
)

// run is the per-Start bookkeeping. Stop and AutoStop race on stopOnce;
// whichever wins performs the single stop side effect and the loser blocks
// until it is complete.
type run struct {
	id           string
	parent       context.Context
	ctx          context.Context
	cancel       context.CancelFunc
	startedAt    time.Time
	stopOnce     sync.Once
	producerDone chan struct{}
	tickerDone   chan struct{}
	fault        chan error

	// ingestMu serializes sink delivery against finish. Once closed is set
	// no batch of this run reaches a sink.
	ingestMu sync.Mutex
	closed   bool
	samples  int
}

// producerJoinFloor is the shortest time finish waits for the producer to
// return after the source has been disconnected.
const producerJoinFloor = 100 * time.Millisecond

// Session owns a signal source and drives a recording through
// Idle → Recording → Idle.
type Session struct {
	mu      sync.Mutex
	opts    Options
	source  signal.Source
	sinks   []Sink
	logger  logger.Logger
	metrics metrics.Collector

	state       State
	current     *run
	lastElapsed time.Duration
	lastID      string
	lastStart   time.Time

	subsMu  sync.RWMutex
	subs    map[int]chan Event
	nextSub int
	dropped atomic.Uint64
}

func New(source signal.Source, opts Options, collector metrics.Collector, log logger.Logger, sinks ...Sink) (*Session, error) {
	errFactory := errors.New()
	def := DefaultOptions()

	if opts.SampleInterval == 0 {
		opts.SampleInterval = def.SampleInterval
	}
	if opts.TickInterval == 0 {
		opts.TickInterval = def.TickInterval
	}
	if opts.MaxDuration == 0 {
		opts.MaxDuration = def.MaxDuration
	}
	if opts.MaxConsecutiveErrors == 0 {
		opts.MaxConsecutiveErrors = def.MaxConsecutiveErrors
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}

	if opts.MaxDuration > DefaultMaxDuration {
		log.Warn().
			Dur("requested", opts.MaxDuration).
			Dur("max_duration", DefaultMaxDuration).
			Msg("Session duration above the hard cap, clamping")
		opts.MaxDuration = DefaultMaxDuration
	}

	if opts.SampleInterval < 0 || opts.TickInterval < 0 || opts.MaxDuration < 0 {
		return nil, errFactory.WithData(ErrInvalidOptions, struct {
			SampleInterval time.Duration
			TickInterval   time.Duration
			MaxDuration    time.Duration
		}{opts.SampleInterval, opts.TickInterval, opts.MaxDuration})
	}
	if source == nil {
		return nil, errFactory.WithMessage(ErrInvalidOptions, "signal source is required")
	}
	if collector == nil {
		collector = metrics.Noop()
	}

	return &Session{
		opts:    opts,
		source:  source,
		sinks:   sinks,
		logger:  log,
		metrics: collector,
		subs:    make(map[int]chan Event),
	}, nil
}

// Start connects the source, resets every sink and launches the producer
// loop and the duration ticker.
func (s *Session) Start(ctx context.Context) error {
	errFactory := errors.New()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		return errFactory.New(ErrAlreadyRecording)
	}

	s.publish(Event{Status: StatusConnecting, At: s.opts.Now()})

	if err := s.source.Connect(s.opts.Port, s.opts.Baud); err != nil {
		if !errors.HasCode(err, errors.ErrHardware) {
			err = errFactory.Wrap(errors.ErrHardware, err)
		}
		s.logger.Error().Err(err).Str("port", s.opts.Port).Int("baud", s.opts.Baud).Msg("Failed to connect signal source")
		s.publish(Event{Status: StatusError, At: s.opts.Now(), Err: err})
		return err
	}

	startedAt := s.opts.Now()
	for _, sink := range s.sinks {
		sink.BeginSession(startedAt)
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{
		id:           uuid.NewString(),
		parent:       ctx,
		ctx:          runCtx,
		cancel:       cancel,
		startedAt:    startedAt,
		producerDone: make(chan struct{}),
		tickerDone:   make(chan struct{}),
		fault:        make(chan error, 1),
	}

	s.current = r
	s.state = Recording
	s.lastID = r.id
	s.lastStart = startedAt
	s.lastElapsed = 0

	go s.produce(r)
	go s.tick(r)

	s.metrics.SessionStarted()
	s.logger.Info().
		Str("session_id", r.id).
		Str("port", s.opts.Port).
		Int("baud", s.opts.Baud).
		Dur("max_duration", s.opts.MaxDuration).
		Msg("Recording started")
	s.publish(Event{Status: StatusConnected, SessionID: r.id, At: startedAt})

	return nil
}

// Stop ends the active session. It is idempotent; once it returns no
// further samples reach the sinks.
func (s *Session) Stop() {
	s.mu.Lock()
	r := s.current
	s.mu.Unlock()

	if r == nil {
		return
	}

	s.finish(r, metrics.StopManual)
	<-r.tickerDone
}

func (s *Session) finish(r *run, reason metrics.StopReason) {
	r.stopOnce.Do(func() {
		r.cancel()

		r.ingestMu.Lock()
		r.closed = true
		samples := r.samples
		r.ingestMu.Unlock()

		stoppedAt := s.opts.Now()
		elapsed := stoppedAt.Sub(r.startedAt)
		if elapsed > s.opts.MaxDuration {
			elapsed = s.opts.MaxDuration
		}

		for _, sink := range s.sinks {
			sink.EndSession(stoppedAt)
		}

		// Disconnecting unblocks a producer parked in a device read.
		if err := s.source.Disconnect(); err != nil {
			s.logger.Warn().Err(err).Str("session_id", r.id).Msg("Failed to disconnect signal source")
		}
		s.joinProducer(r)

		s.mu.Lock()
		s.state = Idle
		s.current = nil
		s.lastElapsed = elapsed
		s.mu.Unlock()

		s.metrics.SessionStopped(reason, elapsed)
		s.logger.Info().
			Str("session_id", r.id).
			Str("reason", string(reason)).
			Dur("elapsed", elapsed).
			Int("samples", samples).
			Msg("Recording stopped")

		ev := Event{
			SessionID: r.id,
			At:        stoppedAt,
			StartedAt: r.startedAt,
			Elapsed:   elapsed,
			Samples:   samples,
			Reason:    reason,
		}
		if reason == metrics.StopAuto {
			ev.Status = StatusAutoStopped
			s.publish(ev)
		}
		ev.Status = StatusIdle
		s.publish(ev)
	})
}

// joinProducer waits a bounded time for the producer goroutine. A source
// that ignores Disconnect is left to return on its own; its late batch is
// discarded because the run is already closed.
func (s *Session) joinProducer(r *run) {
	wait := s.opts.TickInterval
	if wait < producerJoinFloor {
		wait = producerJoinFloor
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-r.producerDone:
	case <-timer.C:
		s.logger.Warn().Str("session_id", r.id).Dur("waited", wait).Msg("Signal source did not return after disconnect")
	}
}

// deliver hands batch to every sink unless the run has been closed.
func (s *Session) deliver(r *run, batch ecg.SampleBatch) bool {
	r.ingestMu.Lock()
	defer r.ingestMu.Unlock()

	if r.closed {
		return false
	}

	for _, sink := range s.sinks {
		sink.Ingest(batch)
	}
	r.samples += batch.Len()

	return true
}

func (s *Session) produce(r *run) {
	defer close(r.producerDone)

	ticker := time.NewTicker(s.opts.SampleInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
		}

		if r.ctx.Err() != nil {
			return
		}

		batch, err := s.source.ProduceBatch()
		if r.ctx.Err() != nil {
			return
		}
		if err == nil {
			if verr := batch.Validate(); verr != nil {
				err = errors.New().Wrap(errors.ErrHardware, errors.New().Wrap(ErrInvalidBatch, verr))
			}
		}

		if err != nil {
			failures++
			s.logger.Warn().Err(err).Str("session_id", r.id).Int("consecutive", failures).Msg("Signal source failed to produce a batch")
			s.publish(Event{Status: StatusError, SessionID: r.id, At: s.opts.Now(), Err: err})

			if failures >= s.opts.MaxConsecutiveErrors {
				r.fault <- err
				return
			}
			continue
		}

		failures = 0
		if !s.deliver(r, batch) {
			return
		}
	}
}

// tick is the wall-clock side of the session. It enforces the duration cap
// even when the producer is stalled.
func (s *Session) tick(r *run) {
	defer close(r.tickerDone)

	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			if r.parent.Err() != nil {
				s.finish(r, metrics.StopManual)
			}
			return

		case err := <-r.fault:
			s.logger.Error().Err(err).Str("session_id", r.id).Msg("Signal source unrecoverable, stopping session")
			s.finish(r, metrics.StopHardware)
			return

		case <-ticker.C:
			elapsed := s.opts.Now().Sub(r.startedAt)
			if elapsed >= s.opts.MaxDuration {
				s.logger.Info().Str("session_id", r.id).Dur("elapsed", elapsed).Msg("Recording limit reached")
				s.finish(r, metrics.StopAuto)
				return
			}
			s.publish(Event{Status: StatusRecording, SessionID: r.id, At: s.opts.Now(), Elapsed: elapsed})
		}
	}
}

// Subscribe returns a status stream with the given buffer. Delivery never
// blocks the session; events are dropped for a subscriber whose buffer is
// full. The returned func unsubscribes and closes the channel.
func (s *Session) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}

	ch := make(chan Event, buffer)

	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			close(ch)
			s.subsMu.Unlock()
		})
	}
}

func (s *Session) publish(ev Event) {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()

	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.dropped.Add(1)
		}
	}
}

// DroppedEvents returns how many events were lost to full subscribers.
func (s *Session) DroppedEvents() uint64 {
	return s.dropped.Load()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Elapsed returns the running duration, or the final duration of the last
// session when idle.
func (s *Session) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return s.lastElapsed
	}

	return s.opts.Now().Sub(s.current.startedAt)
}

// StartedAt returns when the active or most recent session began, or the
// zero time before the first Start.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastStart
}

// SessionID returns the id of the active or most recent session.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastID
}

// MaxDuration returns the configured cap.
func (s *Session) MaxDuration() time.Duration {
	return s.opts.MaxDuration
}
