package capability

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avblur/types"
)

func seqOf(started *int, values []int, failAt int, failErr error) iter.Seq2[int, error] {
	return func(yield func(int, error) bool) {
		*started++
		for i, v := range values {
			if i == failAt {
				yield(0, failErr)
				return
			}
			if !yield(v, nil) {
				return
			}
		}
	}
}

func collect(t *testing.T, seq iter.Seq2[int, error]) ([]int, error) {
	t.Helper()
	var out []int
	for v, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

func TestFirstYielding(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	errBroken := errors.New("broken")

	for _, tc := range []struct {
		name            string
		first           []int
		firstFailAt     int
		second          []int
		secondFailAt    int
		expected        []int
		expectedErr     error
		expectedStarted [2]int
	}{
		{
			name:            "first yields",
			first:           []int{1, 2, 3},
			firstFailAt:     -1,
			second:          []int{9},
			secondFailAt:    -1,
			expected:        []int{1, 2, 3},
			expectedStarted: [2]int{1, 0},
		},
		{
			name:            "first empty",
			first:           nil,
			firstFailAt:     -1,
			second:          []int{4, 5},
			secondFailAt:    -1,
			expected:        []int{4, 5},
			expectedStarted: [2]int{1, 1},
		},
		{
			name:            "first fails before yielding",
			first:           []int{1},
			firstFailAt:     0,
			second:          []int{4, 5, 6},
			secondFailAt:    -1,
			expected:        []int{4, 5, 6},
			expectedStarted: [2]int{1, 1},
		},
		{
			name:            "first fails after yielding",
			first:           []int{1, 2},
			firstFailAt:     1,
			second:          []int{4},
			secondFailAt:    -1,
			expected:        []int{1},
			expectedErr:     errBroken,
			expectedStarted: [2]int{1, 0},
		},
		{
			name:            "last fails",
			first:           nil,
			firstFailAt:     -1,
			second:          []int{4},
			secondFailAt:    0,
			expectedErr:     errBroken,
			expectedStarted: [2]int{1, 1},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var started [2]int
			seq := FirstYielding(ctx,
				Sequence[int]{Name: "first", Seq: seqOf(&started[0], tc.first, tc.firstFailAt, errBroken)},
				Sequence[int]{Name: "second", Seq: seqOf(&started[1], tc.second, tc.secondFailAt, errBroken)},
			)
			got, err := collect(t, seq)
			if tc.expectedErr != nil {
				require.ErrorIs(t, err, tc.expectedErr)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, tc.expected, got)
			require.Equal(t, tc.expectedStarted, started)
		})
	}
}

func TestFirstYieldingBreak(t *testing.T) {
	t.Parallel()
	var started [2]int
	seq := FirstYielding(context.Background(),
		Sequence[int]{Name: "first", Seq: seqOf(&started[0], []int{1, 2, 3}, -1, nil)},
		Sequence[int]{Name: "second", Seq: seqOf(&started[1], []int{4}, -1, nil)},
	)
	for v := range seq {
		require.Equal(t, 1, v)
		break
	}
	require.Equal(t, [2]int{1, 0}, started)
}

func TestFirstSupported(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fail := func(context.Context) (string, error) { return "", errors.New("no device") }
	ok := func(name string) func(context.Context) (string, error) {
		return func(context.Context) (string, error) { return name, nil }
	}

	v, name, err := FirstSupported(ctx,
		Candidate[string]{Name: "cuda", Open: fail},
		Candidate[string]{Name: "vaapi", Open: ok("vaapi-encoder")},
		Candidate[string]{Name: "software", Open: ok("software-encoder")},
	)
	require.NoError(t, err)
	require.Equal(t, "vaapi", name)
	require.Equal(t, "vaapi-encoder", v)

	_, _, err = FirstSupported(ctx,
		Candidate[string]{Name: "cuda", Open: fail},
	)
	require.ErrorIs(t, err, types.ErrCapabilityUnavailable)
	require.Contains(t, err.Error(), "cuda: no device")
}
