package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStoreConfig() Config {
	return Config{
		Dim:            16,
		Decay:          0.9,
		Capacity:       4,
		InputDim:       12,
		ProjectionSeed: 42,
	}
}

func features(v float64) []float64 {
	f := make([]float64, 12)
	for i := range f {
		f[i] = v
	}
	return f
}

func TestNewStore_RejectsBadConfig(t *testing.T) {
	for _, cfg := range []Config{
		{Dim: 0, Decay: 0.9, Capacity: 4, InputDim: 12},
		{Dim: 16, Decay: 0, Capacity: 4, InputDim: 12},
		{Dim: 16, Decay: 1, Capacity: 4, InputDim: 12},
		{Dim: 16, Decay: 0.9, Capacity: 0, InputDim: 12},
		{Dim: 16, Decay: 0.9, Capacity: 4, InputDim: 0},
	} {
		_, err := NewStore(cfg)
		assert.Error(t, err)
	}
}

func TestUpdate_DimensionalityIsFixed(t *testing.T) {
	s, err := NewStore(testStoreConfig())
	require.NoError(t, err)

	vec, err := s.Update("AAPL", features(1), time.Now())
	require.NoError(t, err)
	assert.Len(t, vec, 16)

	_, err = s.Update("AAPL", make([]float64, 5), time.Now())
	assert.Error(t, err)

	// The failed update must not have disturbed the stored state.
	snap, ok := s.Snapshot("AAPL")
	require.True(t, ok)
	assert.Equal(t, vec, snap)
}

func TestUpdate_DecayFold(t *testing.T) {
	cfg := testStoreConfig()
	s, err := NewStore(cfg)
	require.NoError(t, err)

	// First update starts from the zero vector: mem = (1-decay)*proj(f).
	first, err := s.Update("AAPL", features(1), time.Now())
	require.NoError(t, err)

	second, err := s.Update("AAPL", features(1), time.Now())
	require.NoError(t, err)

	// Repeating the same features contracts toward proj(f): each step the
	// distance to the fixed point shrinks by the decay factor.
	for i := range first {
		proj := first[i] / (1 - cfg.Decay)
		assert.InDelta(t, cfg.Decay*first[i]+(1-cfg.Decay)*proj, second[i], 1e-12)
	}
}

func TestUpdate_ProjectionIsDeterministic(t *testing.T) {
	a, err := NewStore(testStoreConfig())
	require.NoError(t, err)
	b, err := NewStore(testStoreConfig())
	require.NoError(t, err)

	ts := time.Now()
	va, err := a.Update("AAPL", features(0.5), ts)
	require.NoError(t, err)
	vb, err := b.Update("AAPL", features(0.5), ts)
	require.NoError(t, err)
	assert.Equal(t, va, vb)

	other := testStoreConfig()
	other.ProjectionSeed = 43
	c, err := NewStore(other)
	require.NoError(t, err)
	vc, err := c.Update("AAPL", features(0.5), ts)
	require.NoError(t, err)
	assert.NotEqual(t, va, vc)
}

func TestStore_EvictsLeastRecentlyUpdated(t *testing.T) {
	s, err := NewStore(testStoreConfig()) // capacity 4
	require.NoError(t, err)

	ts := time.Now()
	for _, tk := range []string{"A", "B", "C", "D"} {
		_, err := s.Update(tk, features(1), ts)
		require.NoError(t, err)
	}

	// Touch A so B becomes the oldest.
	_, err = s.Update("A", features(1), ts)
	require.NoError(t, err)

	_, err = s.Update("E", features(1), ts)
	require.NoError(t, err)

	assert.Equal(t, 4, s.Len())
	_, ok := s.Snapshot("B")
	assert.False(t, ok, "least recently updated ticker should be evicted")
	_, ok = s.Snapshot("A")
	assert.True(t, ok)

	// An evicted ticker that returns starts from the zero vector.
	reborn, err := s.Update("B", features(0), ts)
	require.NoError(t, err)
	for _, v := range reborn {
		assert.Zero(t, v)
	}
}

func TestUpdate_NormStaysBounded(t *testing.T) {
	s, err := NewStore(testStoreConfig())
	require.NoError(t, err)

	norm := func(v []float64) float64 {
		var sum float64
		for _, x := range v {
			sum += x * x
		}
		return sum
	}

	// With decay in (0,1) and bounded inputs the latent vector converges
	// toward proj(f); its norm must not grow without bound.
	var prev []float64
	for i := 0; i < 1000; i++ {
		prev, err = s.Update("AAPL", features(1), time.Now())
		require.NoError(t, err)
	}
	limit := norm(prev)

	next, err := s.Update("AAPL", features(1), time.Now())
	require.NoError(t, err)
	assert.InDelta(t, limit, norm(next), 1e-6)
}

func TestStore_CapacityTwoEvictsFirstTicker(t *testing.T) {
	cfg := testStoreConfig()
	cfg.Capacity = 2
	s, err := NewStore(cfg)
	require.NoError(t, err)

	ts := time.Now()
	for _, tk := range []string{"A", "B", "C"} {
		_, err := s.Update(tk, features(1), ts)
		require.NoError(t, err)
	}

	_, ok := s.Snapshot("A")
	assert.False(t, ok)
	_, ok = s.Snapshot("B")
	assert.True(t, ok)
	_, ok = s.Snapshot("C")
	assert.True(t, ok)
}

func TestSnapshot_DoesNotMutate(t *testing.T) {
	s, err := NewStore(testStoreConfig())
	require.NoError(t, err)

	_, err = s.Update("AAPL", features(1), time.Now())
	require.NoError(t, err)

	snap, ok := s.Snapshot("AAPL")
	require.True(t, ok)
	snap[0] = 999

	again, _ := s.Snapshot("AAPL")
	assert.NotEqual(t, 999.0, again[0])

	_, ok = s.Snapshot("UNKNOWN")
	assert.False(t, ok)
}
