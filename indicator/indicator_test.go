package indicator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMAMA(t *testing.T) {
	t.Parallel()

	t.Run("flat", func(t *testing.T) {
		t.Parallel()
		m := NewMAMA[float64](20, 0.5, 0.05)
		for range 50 {
			require.InDelta(t, 0.04, m.Update(0.04), 1e-3)
		}
		require.True(t, m.Valid())
	})

	t.Run("warmup_is_the_mean", func(t *testing.T) {
		t.Parallel()
		m := NewMAMA[float64](10, 0.5, 0.05)
		require.Equal(t, 1.0, m.Update(1))
		require.Equal(t, 2.0, m.Update(3))
		require.False(t, m.Valid())
	})

	t.Run("alternating", func(t *testing.T) {
		t.Parallel()
		m := NewMAMA[int64](50, 0.3, 0.05)
		for i := range 100 {
			v0, v1 := m.Update(0), m.Update(100)
			if i > 50 {
				require.True(t, 40 <= v0 && v0 <= 60, "%d: %d", i, v0)
				require.True(t, 40 <= v1 && v1 <= 60, "%d: %d", i, v1)
			}
		}
	})
}

func TestETA(t *testing.T) {
	t.Parallel()
	ts := time.Unix(0, 0)
	e := NewETA(5)
	e.now = func() time.Time { return ts }

	require.Zero(t, e.Remaining(10))
	for range 10 {
		e.FrameDone()
		ts = ts.Add(100 * time.Millisecond)
	}
	require.InDelta(t, float64(time.Second), float64(e.Remaining(10)), float64(20*time.Millisecond))
	require.Zero(t, e.Remaining(0))
}
