package detector

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avblur/types"
)

func TestIoU(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name     string
		a, b     types.Box
		expected float64
	}{
		{
			name:     "overlapping",
			a:        types.NewBox(0, 0.9, 0, 0, 10, 10),
			b:        types.NewBox(0, 0.8, 1, 1, 10, 10),
			expected: 81.0 / 119.0,
		},
		{
			name:     "identical",
			a:        types.NewBox(0, 0.9, 5, 5, 2, 2),
			b:        types.NewBox(1, 0.1, 5, 5, 2, 2),
			expected: 1,
		},
		{
			name:     "disjoint diagonally",
			a:        types.NewBox(0, 0.9, 0, 0, 1, 1),
			b:        types.NewBox(0, 0.9, 5, 5, 1, 1),
			expected: 0,
		},
		{
			name:     "touching",
			a:        types.NewBox(0, 0.9, 0, 0, 1, 1),
			b:        types.NewBox(0, 0.9, 1, 0, 1, 1),
			expected: 0,
		},
		{
			name:     "degenerate",
			a:        types.NewBox(0, 0.9, 0, 0, 0, 0),
			b:        types.NewBox(0, 0.9, 0, 0, 0, 0),
			expected: 0,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.InDelta(t, tc.expected, IoU(tc.a, tc.b), 1e-9)
			require.InDelta(t, tc.expected, IoU(tc.b, tc.a), 1e-9)
		})
	}
}

func TestNonMaxSuppression(t *testing.T) {
	t.Parallel()

	a := types.NewBox(0, 0.9, 0, 0, 10, 10)
	b := types.NewBox(0, 0.8, 1, 1, 10, 10)
	require.Equal(t, []types.Box{a}, NonMaxSuppression([]types.Box{b, a}, 0.45))

	c := types.NewBox(1, 0.95, 100, 100, 10, 10)
	input := []types.Box{b, a, c}
	require.Equal(t, []types.Box{c, a}, NonMaxSuppression(input, 0.45))
	require.Equal(t, []types.Box{b, a, c}, input)

	require.Equal(t, []types.Box{c, a, b}, NonMaxSuppression(input, 0.9))
	require.Empty(t, NonMaxSuppression(nil, 0.45))
}

func TestNonMaxSuppressionProperty(t *testing.T) {
	t.Parallel()

	var boxes []types.Box
	for i := range 20 {
		boxes = append(boxes, types.NewBox(i%2, float64(i)/20, float64(i*3), float64(i%5), 10, 10))
	}
	result := NonMaxSuppression(boxes, 0.45)
	for i := range result {
		for j := i + 1; j < len(result); j++ {
			require.Less(t, IoU(result[i], result[j]), 0.45)
			require.GreaterOrEqual(t, result[i].Confidence, result[j].Confidence)
		}
	}
}
