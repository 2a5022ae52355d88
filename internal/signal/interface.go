package signal

import "codeberg.org/mutker/ecgcapture/internal/ecg"

// Source produces timed multi-lead sample batches. The simulator and real
// hardware implement the same contract.
type Source interface {
	// Connect opens the device. A failed connect leaves the source unusable
	// until the next successful Connect.
	Connect(port string, baud int) error

	// Disconnect releases the device. Safe to call when not connected.
	Disconnect() error

	// ProduceBatch returns the next batch with every lead present.
	ProduceBatch() (ecg.SampleBatch, error)
}

// Rand is the noise source used by the simulator.
type Rand interface {
	Float64() float64
}
