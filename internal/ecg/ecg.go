// Package ecg holds the fixed lead set and the per-lead tables shared by the
// live display path and the diagnostic image synthesizer.
package ecg

import (
	"fmt"
	"time"
)

// Lead identifies one of the six limb-lead channels.
type Lead string

const (
	LeadI   Lead = "I"
	LeadII  Lead = "II"
	LeadIII Lead = "III"
	LeadAVR Lead = "aVR"
	LeadAVL Lead = "aVL"
	LeadAVF Lead = "aVF"
)

// Reference is the lead whose sample count drives export decisions and the
// composite image width.
const Reference = LeadI

// DisplayScale is applied to every raw sample before plotting.
const DisplayScale = 0.5

// Leads is the closed lead set in plotting order, top to bottom.
var Leads = []Lead{LeadI, LeadII, LeadIII, LeadAVR, LeadAVL, LeadAVF}

// Transform is a linear gain/offset applied by a signal source.
type Transform struct {
	Gain   float64
	Offset float64
}

// Apply returns v·Gain + Offset.
func (t Transform) Apply(v float64) float64 {
	return v*t.Gain + t.Offset
}

var sourceTransforms = map[Lead]Transform{
	LeadI:   {Gain: 1.0},
	LeadII:  {Gain: 1.5},
	LeadIII: {Gain: 0.8, Offset: 0.2},
	LeadAVR: {Gain: -1.0},
	LeadAVL: {Gain: 0.7},
	LeadAVF: {Gain: 1.2},
}

var baselineOffsets = map[Lead]float64{
	LeadI:   10,
	LeadII:  6,
	LeadIII: 2,
	LeadAVR: -2,
	LeadAVL: -6,
	LeadAVF: -10,
}

// SourceTransform returns the per-lead derivation applied to the shared
// simulated signal.
func SourceTransform(l Lead) Transform {
	return sourceTransforms[l]
}

// BaselineOffset returns the vertical position of a lead on the chart.
func BaselineOffset(l Lead) float64 {
	return baselineOffsets[l]
}

// Display maps a raw sample onto chart coordinates.
func Display(l Lead, v float64) float64 {
	return v*DisplayScale + baselineOffsets[l]
}

// Valid reports whether l is a member of the lead set.
func (l Lead) Valid() bool {
	_, ok := baselineOffsets[l]
	return ok
}

func (l Lead) String() string {
	return string(l)
}

// Sample is a single value on one lead.
type Sample struct {
	Lead  Lead
	Value float64
	Seq   uint64
}

// Series maps each lead to an ordered run of values.
type Series map[Lead][]float64

// Len returns the number of values recorded on lead l.
func (s Series) Len(l Lead) int {
	return len(s[l])
}

// Clone returns a deep copy.
func (s Series) Clone() Series {
	out := make(Series, len(s))
	for l, v := range s {
		out[l] = append([]float64(nil), v...)
	}

	return out
}

// SampleBatch carries the values produced by one source poll.
type SampleBatch struct {
	Seq       uint64
	ArrivedAt time.Time
	Values    Series
}

// NewSampleBatch allocates a batch with room for n samples on every lead.
func NewSampleBatch(seq uint64, arrived time.Time, n int) SampleBatch {
	values := make(Series, len(Leads))
	for _, l := range Leads {
		values[l] = make([]float64, 0, n)
	}

	return SampleBatch{Seq: seq, ArrivedAt: arrived, Values: values}
}

// Validate checks that every lead is present. Sources must never emit a
// partial batch.
func (b SampleBatch) Validate() error {
	for _, l := range Leads {
		if _, ok := b.Values[l]; !ok {
			return fmt.Errorf("batch %d: missing lead %s", b.Seq, l)
		}
	}

	return nil
}

// Len returns the number of samples on the reference lead.
func (b SampleBatch) Len() int {
	return len(b.Values[Reference])
}

// Samples flattens one lead of the batch into sequenced samples, numbering
// from first.
func (b SampleBatch) Samples(l Lead, first uint64) []Sample {
	vals := b.Values[l]
	out := make([]Sample, len(vals))
	for i, v := range vals {
		out[i] = Sample{Lead: l, Value: v, Seq: first + uint64(i)}
	}

	return out
}
