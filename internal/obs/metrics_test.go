package obs

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.IncRejection("rate_limited")
	m.SetBreaker(true)
	m.ObserveRiskEval(time.Millisecond)
	assert.Equal(t, Snapshot{}, m.Snapshot())
	assert.Nil(t, m.Registry())
}

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()
	m.IncRejection("rate_limited")
	m.IncRejection("rate_limited")
	m.IncJournalDrop()
	m.IncReconciliationMismatch()
	m.SetBreaker(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.rejections.WithLabelValues("rate_limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.breakerState))

	snap := m.Snapshot()
	assert.Equal(t, uint64(1), snap.JournalDrops)
	assert.Equal(t, uint64(1), snap.Mismatches)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestLatencyStats(t *testing.T) {
	var l LatencyStats
	l.Observe(2 * time.Millisecond)
	l.Observe(4 * time.Millisecond)
	l.Observe(-time.Second)

	snap := l.Snapshot()
	assert.Equal(t, uint64(2), snap.Count)
	assert.Equal(t, 2*time.Millisecond, snap.Min)
	assert.Equal(t, 4*time.Millisecond, snap.Max)
	assert.Equal(t, 3*time.Millisecond, snap.Avg)
}

func TestSequence(t *testing.T) {
	s := NewSequence("ord", 0)
	assert.Equal(t, "ord-000001", s.NextID())
	assert.Equal(t, "ord-000002", s.NextID())

	again := NewSequence("ord", 0)
	assert.Equal(t, "ord-000001", again.NextID())

	bare := NewSequence("", 1233455)
	assert.Equal(t, "1233456", bare.NextID())
}

func TestSnowflake(t *testing.T) {
	_, err := NewSnowflake("x", 5000)
	require.Error(t, err)

	sf, err := NewSnowflake("ord", 1)
	require.NoError(t, err)
	a, b := sf.NextID(), sf.NextID()
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "ord-")
}
