package backendsvc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"prequal/internal/backendsvc"
)

func TestMetrics_InFlight_TracksEnterLeave(t *testing.T) {
	m := backendsvc.NewMetrics(nil)
	assert.Equal(t, int64(0), m.InFlight())

	leave := m.Enter()
	assert.Equal(t, int64(1), m.InFlight())
	leave(0.01)
	assert.Equal(t, int64(0), m.InFlight())
}

func TestMetrics_OverallAvgLatency_IsArithmeticMean(t *testing.T) {
	m := backendsvc.NewMetrics(nil)
	for _, lat := range []float64{0.1, 0.2, 0.3} {
		leave := m.Enter()
		leave(lat)
	}
	assert.InDelta(t, 0.2, m.OverallAvgLatency(), 1e-9)
}

func TestMetrics_NoSamples_ReturnsZero(t *testing.T) {
	m := backendsvc.NewMetrics(nil)
	assert.Equal(t, 0.0, m.OverallAvgLatency())
	assert.Equal(t, 0.0, m.RIFAvgLatency())
}

func TestMetrics_RIFAvgLatency_ExactBinHit(t *testing.T) {
	m := backendsvc.NewMetrics([]float64{2, 5})

	// Two concurrent entries observe RIF=1 and RIF=2 at entry; both bucket to
	// bin 2. Once both leave the current RIF is 0, which also buckets to bin 2.
	leave1 := m.Enter()
	leave2 := m.Enter()
	leave1(0.10)
	leave2(0.20)

	assert.InDelta(t, 0.15, m.RIFAvgLatency(), 1e-9)
}

func TestMetrics_RIFAvgLatency_InterpolatesAcrossNeighbors(t *testing.T) {
	m := backendsvc.NewMetrics([]float64{1, 2, 3})

	// Populate bin 1, then let it fully drain.
	l1 := m.Enter()
	l1(0.10)

	// Populate bin 3: of three concurrent entries only the third observes
	// RIF=3. The first two stay in flight, so the *current* RIF is 2, which
	// buckets to bin 2 — populated on neither side directly, so the median
	// of bin 1 and bin 3 should be linearly interpolated.
	_ = m.Enter()
	_ = m.Enter()
	c := m.Enter()
	c(0.30)

	assert.InDelta(t, 0.20, m.RIFAvgLatency(), 1e-9)
}

func TestMetrics_RIFAvgLatency_ClampsAboveLargestBin(t *testing.T) {
	m := backendsvc.NewMetrics([]float64{1, 2})

	// Two background requests stay in flight, holding current RIF at 2.
	_ = m.Enter()
	_ = m.Enter()

	// A third entry observes rif=3, clamped to the largest bin (2).
	third := m.Enter()
	third(0.5)

	assert.InDelta(t, 0.5, m.RIFAvgLatency(), 1e-9)
}
