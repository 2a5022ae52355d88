package signal_test

import (
	stderrors "errors"
	"io"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/ecgcapture/internal/ecg"
	"codeberg.org/mutker/ecgcapture/internal/errors"
	"codeberg.org/mutker/ecgcapture/internal/logger"
	"codeberg.org/mutker/ecgcapture/internal/signal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type zeroRand struct{}

func (zeroRand) Float64() float64 { return 0 }

func TestSimulatorRequiresConnect(t *testing.T) {
	sim := signal.NewSimulator()

	_, err := sim.ProduceBatch()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrHardware))
	assert.True(t, errors.HasCode(err, signal.ErrNotConnected))
}

func TestSimulatorLeadTransforms(t *testing.T) {
	sim := signal.NewSimulator(signal.WithRand(zeroRand{}))
	require.NoError(t, sim.Connect("COM3", 9600))

	batch, err := sim.ProduceBatch()
	require.NoError(t, err)
	require.NoError(t, batch.Validate())

	base := batch.Values[ecg.LeadI]
	require.Len(t, base, 5)
	assert.InDelta(t, math.Sin(0.1)+0.5*math.Sin(0.3), base[0], 1e-9)

	for i, v := range base {
		assert.InDelta(t, v*1.5, batch.Values[ecg.LeadII][i], 1e-9)
		assert.InDelta(t, v*0.8+0.2, batch.Values[ecg.LeadIII][i], 1e-9)
		assert.InDelta(t, -v, batch.Values[ecg.LeadAVR][i], 1e-9)
		assert.InDelta(t, v*0.7, batch.Values[ecg.LeadAVL][i], 1e-9)
		assert.InDelta(t, v*1.2, batch.Values[ecg.LeadAVF][i], 1e-9)
	}
}

func TestSimulatorPhaseAdvancesAndWraps(t *testing.T) {
	sim := signal.NewSimulator(signal.WithRand(zeroRand{}), signal.WithSamplesPerBatch(5))
	require.NoError(t, sim.Connect("", 0))

	_, err := sim.ProduceBatch()
	require.NoError(t, err)
	assert.InDelta(t, 0.5, sim.Phase(), 1e-9)

	// 200π / 0.5 ≈ 1256.6 batches until the accumulator wraps.
	for i := 0; i < 1300; i++ {
		_, err := sim.ProduceBatch()
		require.NoError(t, err)
	}
	assert.Less(t, sim.Phase(), math.Pi*200)
}

func TestSimulatorSequenceIncreases(t *testing.T) {
	sim := signal.NewSimulator()
	require.NoError(t, sim.Connect("", 0))

	a, _ := sim.ProduceBatch()
	b, _ := sim.ProduceBatch()
	assert.Equal(t, a.Seq+1, b.Seq)
}

func TestSimulatorDisconnectStopsBatches(t *testing.T) {
	sim := signal.NewSimulator()
	require.NoError(t, sim.Connect("", 0))
	require.NoError(t, sim.Disconnect())

	_, err := sim.ProduceBatch()
	assert.True(t, errors.HasCode(err, errors.ErrHardware))
}

func fakeOpener(data string, openErr error) signal.PortOpener {
	return func(_ string, _ int, _ time.Duration) (io.ReadCloser, error) {
		if openErr != nil {
			return nil, openErr
		}
		return io.NopCloser(strings.NewReader(data)), nil
	}
}

func TestSerialReadsFrames(t *testing.T) {
	data := "1,2,3,4,5,6\n0.5,0.5,0.5,0.5,0.5,0.5\n"
	src := signal.NewSerial(logger.Nop(),
		signal.WithPortOpener(fakeOpener(data, nil)),
		signal.WithFramesPerBatch(2))
	require.NoError(t, src.Connect("/dev/ttyUSB0", 115200))

	batch, err := src.ProduceBatch()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0.5}, batch.Values[ecg.LeadI])
	assert.Equal(t, []float64{6, 0.5}, batch.Values[ecg.LeadAVF])

	_, err = src.ProduceBatch()
	assert.True(t, errors.HasCode(err, signal.ErrReadFailed))
}

func TestSerialRejectsMalformedFrame(t *testing.T) {
	src := signal.NewSerial(logger.Nop(),
		signal.WithPortOpener(fakeOpener("1,2,3\n", nil)),
		signal.WithFramesPerBatch(1))
	require.NoError(t, src.Connect("/dev/ttyUSB0", 9600))

	_, err := src.ProduceBatch()
	assert.True(t, errors.HasCode(err, signal.ErrParseFailed))
}

func TestSerialConnectFailure(t *testing.T) {
	src := signal.NewSerial(logger.Nop(), signal.WithPortOpener(fakeOpener("", stderrors.New("no such device"))))

	err := src.Connect("/dev/ttyUSB9", 9600)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrHardware))
	assert.True(t, errors.HasCode(err, signal.ErrConnectFailed))

	_, err = src.ProduceBatch()
	assert.True(t, errors.HasCode(err, signal.ErrNotConnected))
}

func TestSerialValidatesSettings(t *testing.T) {
	src := signal.NewSerial(logger.Nop(), signal.WithPortOpener(fakeOpener("", nil)))

	assert.True(t, errors.HasCode(src.Connect("", 9600), signal.ErrInvalidPort))
	assert.True(t, errors.HasCode(src.Connect("/dev/ttyS0", 0), signal.ErrInvalidBaud))
}

// silentPort never delivers data. Each read waits out the timeout and
// returns nothing, the way go.bug.st/serial reports an idle line.
type silentPort struct {
	timeout time.Duration
	once    sync.Once
	closed  chan struct{}
}

func newSilentPort(timeout time.Duration) *silentPort {
	return &silentPort{timeout: timeout, closed: make(chan struct{})}
}

func (p *silentPort) Read([]byte) (int, error) {
	select {
	case <-p.closed:
		return 0, io.ErrClosedPipe
	case <-time.After(p.timeout):
		return 0, nil
	}
}

func (p *silentPort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func TestSerialDisconnectUnblocksSilentRead(t *testing.T) {
	port := newSilentPort(20 * time.Millisecond)
	src := signal.NewSerial(logger.Nop(), signal.WithPortOpener(
		func(string, int, time.Duration) (io.ReadCloser, error) { return port, nil }))
	require.NoError(t, src.Connect("/dev/ttyUSB0", 9600))

	done := make(chan error, 1)
	go func() {
		_, err := src.ProduceBatch()
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	start := time.Now()
	require.NoError(t, src.Disconnect())

	select {
	case err := <-done:
		assert.True(t, errors.HasCode(err, signal.ErrNotConnected))
		assert.Less(t, time.Since(start), 500*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("ProduceBatch still blocked after Disconnect")
	}
}
