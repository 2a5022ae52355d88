package ecg_test

import (
	"testing"
	"time"

	"codeberg.org/mutker/ecgcapture/internal/ecg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisplayTable(t *testing.T) {
	cases := map[ecg.Lead]float64{
		ecg.LeadI:   10.5,
		ecg.LeadII:  6.5,
		ecg.LeadIII: 2.5,
		ecg.LeadAVR: -1.5,
		ecg.LeadAVL: -5.5,
		ecg.LeadAVF: -9.5,
	}
	for lead, want := range cases {
		assert.InDelta(t, want, ecg.Display(lead, 1.0), 1e-9, lead.String())
	}
}

func TestSourceTransform(t *testing.T) {
	assert.InDelta(t, 1.0, ecg.SourceTransform(ecg.LeadI).Apply(1), 1e-9)
	assert.InDelta(t, 1.5, ecg.SourceTransform(ecg.LeadII).Apply(1), 1e-9)
	assert.InDelta(t, 1.0, ecg.SourceTransform(ecg.LeadIII).Apply(1), 1e-9)
	assert.InDelta(t, -1.0, ecg.SourceTransform(ecg.LeadAVR).Apply(1), 1e-9)
	assert.InDelta(t, 0.7, ecg.SourceTransform(ecg.LeadAVL).Apply(1), 1e-9)
	assert.InDelta(t, 1.2, ecg.SourceTransform(ecg.LeadAVF).Apply(1), 1e-9)
}

func TestLeadSetIsClosed(t *testing.T) {
	require.Len(t, ecg.Leads, 6)
	for _, l := range ecg.Leads {
		assert.True(t, l.Valid())
	}
	assert.False(t, ecg.Lead("V1").Valid())
}

func TestBatchValidate(t *testing.T) {
	b := ecg.NewSampleBatch(1, time.Now(), 5)
	require.NoError(t, b.Validate())

	delete(b.Values, ecg.LeadAVF)
	assert.Error(t, b.Validate())
}

func TestBatchSamplesSequence(t *testing.T) {
	b := ecg.NewSampleBatch(3, time.Now(), 2)
	b.Values[ecg.LeadII] = append(b.Values[ecg.LeadII], 0.1, 0.2)

	s := b.Samples(ecg.LeadII, 10)
	require.Len(t, s, 2)
	assert.Equal(t, uint64(10), s[0].Seq)
	assert.Equal(t, uint64(11), s[1].Seq)
	assert.Equal(t, 0.2, s[1].Value)
}

func TestSeriesCloneIsDeep(t *testing.T) {
	s := ecg.Series{ecg.LeadI: {1, 2, 3}}
	c := s.Clone()
	c[ecg.LeadI][0] = 99

	assert.Equal(t, 1.0, s[ecg.LeadI][0])
	assert.Equal(t, 3, c.Len(ecg.LeadI))
	assert.Equal(t, 0, c.Len(ecg.LeadAVF))
}
