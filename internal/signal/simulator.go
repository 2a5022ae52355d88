package signal

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"codeberg.org/mutker/ecgcapture/internal/ecg"
)

const (
	defaultSamplesPerBatch = 5
	defaultPhaseStep       = 0.1
	noiseAmplitude         = 0.05
	phaseWrap              = math.Pi * 200
)

// Simulator synthesizes all six leads from one shared phase accumulator.
type Simulator struct {
	mu              sync.Mutex
	rng             Rand
	now             func() time.Time
	phase           float64
	step            float64
	samplesPerBatch int
	seq             uint64
	connected       bool
}

// SimulatorOption configures a Simulator.
type SimulatorOption func(*Simulator)

// WithRand replaces the noise generator.
func WithRand(r Rand) SimulatorOption {
	return func(s *Simulator) { s.rng = r }
}

// WithSamplesPerBatch sets how many samples each lead receives per batch.
func WithSamplesPerBatch(n int) SimulatorOption {
	return func(s *Simulator) {
		if n > 0 {
			s.samplesPerBatch = n
		}
	}
}

// WithClock sets the timestamp source for batches.
func WithClock(now func() time.Time) SimulatorOption {
	return func(s *Simulator) { s.now = now }
}

func NewSimulator(opts ...SimulatorOption) *Simulator {
	s := &Simulator{
		rng:             rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
		now:             time.Now,
		step:            defaultPhaseStep,
		samplesPerBatch: defaultSamplesPerBatch,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Connect accepts any port; the simulator has no device behind it.
func (s *Simulator) Connect(_ string, _ int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connected = true

	return nil
}

func (s *Simulator) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connected = false

	return nil
}

func (s *Simulator) ProduceBatch() (ecg.SampleBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return ecg.SampleBatch{}, hardwareError(ErrNotConnected, nil)
	}

	s.seq++
	batch := ecg.NewSampleBatch(s.seq, s.now(), s.samplesPerBatch)

	// Every lead walks the same local phase so the six channels stay
	// time-aligned within a batch.
	for _, lead := range ecg.Leads {
		tf := ecg.SourceTransform(lead)
		local := s.phase
		for i := 0; i < s.samplesPerBatch; i++ {
			local += s.step
			v := math.Sin(local) + 0.5*math.Sin(3*local) + s.rng.Float64()*noiseAmplitude
			batch.Values[lead] = append(batch.Values[lead], tf.Apply(v))
		}
	}

	s.phase += s.step * float64(s.samplesPerBatch)
	if s.phase > phaseWrap {
		s.phase = 0
	}

	return batch, nil
}

// Phase exposes the accumulator for inspection.
func (s *Simulator) Phase() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}
