package signal

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/ecgcapture/internal/ecg"
	"codeberg.org/mutker/ecgcapture/internal/errors"
	"codeberg.org/mutker/ecgcapture/internal/logger"
	"go.bug.st/serial"
)

const (
	defaultReadTimeout = 100 * time.Millisecond
	maxLineLength      = 256
)

// PortOpener opens a serial device. Tests substitute an in-memory reader.
type PortOpener func(name string, baud int, readTimeout time.Duration) (io.ReadCloser, error)

// OpenSerialPort is the PortOpener backed by go.bug.st/serial.
func OpenSerialPort(name string, baud int, readTimeout time.Duration) (io.ReadCloser, error) {
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}

	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, err
	}

	// Drop whatever the device emitted before we were listening so the
	// first frame starts on a line boundary.
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, err
	}

	return port, nil
}

// ListPorts returns the serial devices visible to the host.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}

// Serial reads frames of six comma-separated lead values, one frame per
// line, in ecg.Leads order.
type Serial struct {
	mu              sync.Mutex
	open            PortOpener
	port            io.ReadCloser
	reader          *bufio.Reader
	samplesPerBatch int
	readTimeout     time.Duration
	seq             uint64
	now             func() time.Time
	logger          logger.Logger
}

// SerialOption configures a Serial source.
type SerialOption func(*Serial)

// WithPortOpener replaces the device opener.
func WithPortOpener(open PortOpener) SerialOption {
	return func(s *Serial) { s.open = open }
}

// WithFramesPerBatch sets how many frames make one batch.
func WithFramesPerBatch(n int) SerialOption {
	return func(s *Serial) {
		if n > 0 {
			s.samplesPerBatch = n
		}
	}
}

// WithReadTimeout bounds each blocking read on the device.
func WithReadTimeout(d time.Duration) SerialOption {
	return func(s *Serial) {
		if d > 0 {
			s.readTimeout = d
		}
	}
}

func NewSerial(log logger.Logger, opts ...SerialOption) *Serial {
	s := &Serial{
		open:            OpenSerialPort,
		samplesPerBatch: defaultSamplesPerBatch,
		readTimeout:     defaultReadTimeout,
		now:             time.Now,
		logger:          log,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Serial) Connect(port string, baud int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	errFactory := errors.New()
	if strings.TrimSpace(port) == "" {
		return errFactory.Wrap(errors.ErrHardware, errFactory.New(ErrInvalidPort))
	}
	if baud <= 0 {
		return errFactory.Wrap(errors.ErrHardware, errFactory.WithData(ErrInvalidBaud, baud))
	}

	if s.port != nil {
		return nil
	}

	p, err := s.open(port, baud, s.readTimeout)
	if err != nil {
		return hardwareError(ErrConnectFailed, err)
	}

	s.port = p
	s.reader = bufio.NewReaderSize(p, maxLineLength)
	s.logger.Info().Str("port", port).Int("baud", baud).Msg("Serial device connected")

	return nil
}

func (s *Serial) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return nil
	}

	err := s.port.Close()
	s.port = nil
	s.reader = nil
	if err != nil {
		return hardwareError(ErrConnectFailed, err)
	}

	return nil
}

// ProduceBatch reads one batch of frames. The lock is released while
// reading so Disconnect can close the port under a blocked read; the read
// then fails and the batch is abandoned. ProduceBatch is not safe for
// concurrent use with itself.
func (s *Serial) ProduceBatch() (ecg.SampleBatch, error) {
	s.mu.Lock()
	reader := s.reader
	if reader == nil {
		s.mu.Unlock()
		return ecg.SampleBatch{}, hardwareError(ErrNotConnected, nil)
	}
	s.seq++
	batch := ecg.NewSampleBatch(s.seq, s.now(), s.samplesPerBatch)
	s.mu.Unlock()

	for i := 0; i < s.samplesPerBatch; i++ {
		line, err := reader.ReadString('\n')
		if err != nil {
			if !s.reading(reader) {
				return ecg.SampleBatch{}, hardwareError(ErrNotConnected, err)
			}
			return ecg.SampleBatch{}, hardwareError(ErrReadFailed, err)
		}

		frame, err := parseFrame(line)
		if err != nil {
			return ecg.SampleBatch{}, hardwareError(ErrParseFailed, err)
		}

		for j, lead := range ecg.Leads {
			batch.Values[lead] = append(batch.Values[lead], frame[j])
		}
	}

	return batch, nil
}

// reading reports whether reader still belongs to the open port.
func (s *Serial) reading(reader *bufio.Reader) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader == reader
}

func parseFrame(line string) ([]float64, error) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) != len(ecg.Leads) {
		return nil, errors.New().WithData(errors.ErrInvalidArgument, struct {
			Fields int
			Line   string
		}{
			Fields: len(fields),
			Line:   strings.TrimSpace(line),
		})
	}

	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}

	return out, nil
}
