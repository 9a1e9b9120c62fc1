package pool

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rishav/floxcore/internal/metrics"
)

type widget struct {
	RefCounted
	cleared bool
	value   int
}

func (w *widget) Clear() {
	w.cleared = true
	w.value = 0
}

func TestAcquireReleaseLifecycle(t *testing.T) {
	p := New[widget, *widget](4, nil)
	assert.Equal(t, 4, p.Capacity())

	h, ok := p.Acquire()
	require.True(t, ok)
	assert.Equal(t, uint64(1), p.InUse())

	h.Get().value = 42
	h.Release()
	assert.Equal(t, uint64(0), p.InUse())
}

func TestCapacityExhaustion(t *testing.T) {
	p := New[widget, *widget](1, nil)
	h1, ok := p.Acquire()
	require.True(t, ok)

	_, ok = p.Acquire()
	assert.False(t, ok)

	h1.Release()
	h2, ok := p.Acquire()
	assert.True(t, ok)
	h2.Release()
}

func TestCloneIncrementsRefcount(t *testing.T) {
	p := New[widget, *widget](1, nil)
	h1, ok := p.Acquire()
	require.True(t, ok)

	h2 := h1.Clone()
	h1.Release()
	assert.Equal(t, uint64(1), p.InUse(), "slot still held by the clone")

	h2.Release()
	assert.Equal(t, uint64(0), p.InUse())
}

func TestClearCalledOnFinalRelease(t *testing.T) {
	p := New[widget, *widget](1, nil)
	h, _ := p.Acquire()
	h.Get().value = 7
	h.Release()

	h2, ok := p.Acquire()
	require.True(t, ok)
	assert.True(t, h2.Get().cleared)
	assert.Equal(t, 0, h2.Get().value)
}

func TestMetricsTrackOccupancy(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewPoolMetrics(reg, "test")
	p := New[widget, *widget](2, m)

	assert.Equal(t, float64(0), testutil.ToFloat64(m.InUse))

	h1, ok := p.Acquire()
	require.True(t, ok)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.InUse))

	h2, ok := p.Acquire()
	require.True(t, ok)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.InUse))

	h1.Release()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.InUse))

	h2.Release()
	assert.Equal(t, float64(0), testutil.ToFloat64(m.InUse))
}

func TestCapacityOneReuseReturnsSameSlot(t *testing.T) {
	p := New[widget, *widget](1, nil)
	h1, _ := p.Acquire()
	addr1 := h1.Get()
	h1.Release()

	h2, ok := p.Acquire()
	require.True(t, ok)
	assert.Same(t, addr1, h2.Get())
}
