package buffer

import "codeberg.org/mutker/ecgcapture/internal/ecg"

// DefaultDisplaySamples is the visible width of the live chart.
const DefaultDisplaySamples = 1500

// Ring is a fixed-length display window for one lead. It is always fully
// populated; new values enter at the tail and the oldest fall off the head.
// A Ring is owned by the render loop and is not safe for concurrent use.
type Ring struct {
	lead ecg.Lead
	data []float64
}

// NewRing returns a window of length samples, filled with the lead's
// baseline so the flat trace sits at its chart position before any data.
func NewRing(lead ecg.Lead, length int) *Ring {
	if length <= 0 {
		length = DefaultDisplaySamples
	}

	data := make([]float64, length)
	base := ecg.BaselineOffset(lead)
	for i := range data {
		data[i] = base
	}

	return &Ring{lead: lead, data: data}
}

// Push shifts the window left by len(values) and appends values at the
// tail. Bursts longer than the window keep only the newest values.
func (r *Ring) Push(values []float64) {
	n := len(values)
	size := len(r.data)

	switch {
	case n == 0:
		return
	case n >= size:
		copy(r.data, values[n-size:])
	default:
		copy(r.data, r.data[n:])
		copy(r.data[size-n:], values)
	}
}

func (r *Ring) Lead() ecg.Lead {
	return r.lead
}

func (r *Ring) Len() int {
	return len(r.data)
}

// Values returns a copy of the window, oldest first.
func (r *Ring) Values() []float64 {
	out := make([]float64, len(r.data))
	copy(out, r.data)
	return out
}

// Tail returns a copy of the newest n values.
func (r *Ring) Tail(n int) []float64 {
	if n > len(r.data) {
		n = len(r.data)
	}
	if n < 0 {
		n = 0
	}

	out := make([]float64, n)
	copy(out, r.data[len(r.data)-n:])
	return out
}
