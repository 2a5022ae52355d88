package buffer

import "codeberg.org/mutker/ecgcapture/internal/ecg"

// Recording accumulates every raw sample of one session, per lead. It grows
// without bound for the session's lifetime; the session cap bounds it in
// practice. Not safe for concurrent use; the Ingestor serializes access.
type Recording struct {
	leads ecg.Series
}

func NewRecording() *Recording {
	r := &Recording{}
	r.Reset()
	return r
}

// Reset drops all samples.
func (r *Recording) Reset() {
	r.leads = make(ecg.Series, len(ecg.Leads))
	for _, l := range ecg.Leads {
		r.leads[l] = nil
	}
}

func (r *Recording) Append(lead ecg.Lead, values []float64) {
	r.leads[lead] = append(r.leads[lead], values...)
}

func (r *Recording) Len(lead ecg.Lead) int {
	return len(r.leads[lead])
}

// Series returns a deep copy of the recorded samples.
func (r *Recording) Series() ecg.Series {
	return r.leads.Clone()
}
