package segmentencoder

import (
	"context"
	"fmt"
	"image"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avblur/mediatool/mediatooltest"
	"github.com/xaionaro-go/avblur/types"
)

func testMetadata() types.Metadata {
	return types.NewMetadata(4, 2, "yuv420p", types.Rational{Num: 5, Den: 1}, 2)
}

// encodeExec emulates the encoder by concatenating the raw inputs into the output file.
func encodeExec(ctx context.Context, f *mediatooltest.Fake, args []string) error {
	input := strings.TrimPrefix(mediatooltest.ArgAfter(args, "-i"), "concat:")
	var out []byte
	for _, name := range strings.Split(input, "|") {
		b, err := f.ReadFile(ctx, name)
		if err != nil {
			return err
		}
		out = append(out, b...)
	}
	f.Put(args[len(args)-1], out)
	return nil
}

func newTestEncoder(t *testing.T, keyFrameInterval int) (Encoder, *mediatooltest.Fake) {
	tool := mediatooltest.New(encodeExec)
	enc, err := New(context.Background(), tool, "out", testMetadata(), keyFrameInterval, OptionDisableAccelerated(true))
	require.NoError(t, err)
	return enc, tool
}

func TestFallbackSegments(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		name             string
		frames           int
		keyFrameInterval int
		segments         int
	}{
		{name: "exact", frames: 10, keyFrameInterval: 5, segments: 2},
		{name: "remainder", frames: 11, keyFrameInterval: 5, segments: 3},
		{name: "single", frames: 3, keyFrameInterval: 10, segments: 1},
		{name: "empty", frames: 0, keyFrameInterval: 10, segments: 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			enc, tool := newTestEncoder(t, tc.keyFrameInterval)
			for i := 0; i < tc.frames; i++ {
				img := image.NewRGBA(image.Rect(0, 0, 4, 2))
				img.Pix[0] = byte(i)
				require.NoError(t, enc.Encode(ctx, img))
			}
			segments, err := enc.Flush(ctx)
			require.NoError(t, err)
			require.Len(t, segments, tc.segments)
			require.Len(t, tool.Execs(), tc.segments)
			for i, name := range segments {
				require.Equal(t, fmt.Sprintf("out_chunk_%d.ts", i), name)
			}
			for _, name := range tool.Files() {
				require.False(t, strings.HasSuffix(name, ".raw"), name)
			}

			total := 0
			for _, name := range segments {
				b, err := tool.ReadFile(ctx, name)
				require.NoError(t, err)
				total += len(b)
			}
			require.Equal(t, tc.frames*testMetadata().FrameSize(), total)

			require.NoError(t, enc.Destroy(ctx))
			require.Empty(t, tool.Files())
		})
	}
}

func TestFallbackArgs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	enc, tool := newTestEncoder(t, 2)
	for i := 0; i < 2; i++ {
		require.NoError(t, enc.Encode(ctx, image.NewRGBA(image.Rect(0, 0, 4, 2))))
	}
	execs := tool.Execs()
	require.Len(t, execs, 1)
	args := execs[0]
	require.Equal(t, "5/1", mediatooltest.ArgAfter(args, "-framerate"))
	require.Equal(t, "4x2", mediatooltest.ArgAfter(args, "-video_size"))
	require.Equal(t, "concat:out_0.raw|out_1.raw", mediatooltest.ArgAfter(args, "-i"))
	require.Equal(t, "libx264", mediatooltest.ArgAfter(args, "-c:v:0"))
	require.Equal(t, "out_chunk_0.ts", args[len(args)-1])
}

func TestLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))

	t.Run("encode_after_flush", func(t *testing.T) {
		t.Parallel()
		enc, _ := newTestEncoder(t, 5)
		require.NoError(t, enc.Encode(ctx, img))
		_, err := enc.Flush(ctx)
		require.NoError(t, err)
		require.ErrorIs(t, enc.Encode(ctx, img), types.ErrInvalidState)
	})

	t.Run("double_flush", func(t *testing.T) {
		t.Parallel()
		enc, _ := newTestEncoder(t, 5)
		_, err := enc.Flush(ctx)
		require.NoError(t, err)
		_, err = enc.Flush(ctx)
		require.ErrorIs(t, err, types.ErrInvalidState)
	})

	t.Run("destroy_twice", func(t *testing.T) {
		t.Parallel()
		enc, _ := newTestEncoder(t, 5)
		require.NoError(t, enc.Destroy(ctx))
		require.NoError(t, enc.Destroy(ctx))
		require.ErrorIs(t, enc.Encode(ctx, img), types.ErrInvalidState)
	})

	t.Run("wrong_size", func(t *testing.T) {
		t.Parallel()
		enc, _ := newTestEncoder(t, 5)
		err := enc.Encode(ctx, image.NewRGBA(image.Rect(0, 0, 2, 2)))
		var encodeErr types.ErrEncodeFailed
		require.ErrorAs(t, err, &encodeErr)
	})

	t.Run("tool_failure", func(t *testing.T) {
		t.Parallel()
		tool := mediatooltest.New(func(context.Context, *mediatooltest.Fake, []string) error {
			return context.DeadlineExceeded
		})
		enc, err := New(ctx, tool, "out", testMetadata(), 1, OptionDisableAccelerated(true))
		require.NoError(t, err)
		err = enc.Encode(ctx, img)
		var encodeErr types.ErrEncodeFailed
		require.ErrorAs(t, err, &encodeErr)
	})
}

func TestNewInvalid(t *testing.T) {
	t.Parallel()
	_, err := New(context.Background(), mediatooltest.New(nil), "out", testMetadata(), 0)
	require.ErrorIs(t, err, types.ErrConfigurationInvalid)
}

func TestStartsSegment(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name             string
		frames           int
		keyFrameInterval int
		keys             []int64
		want             []int64
	}{
		{
			name:             "cadence_only",
			frames:           12,
			keyFrameInterval: 5,
			keys:             []int64{0, 5, 10},
			want:             []int64{0, 5, 10},
		},
		{
			name:             "scene_cuts_ignored",
			frames:           12,
			keyFrameInterval: 5,
			keys:             []int64{0, 3, 5, 7, 10, 11},
			want:             []int64{0, 5, 10},
		},
		{
			name:             "first_packet_not_key",
			frames:           4,
			keyFrameInterval: 2,
			keys:             []int64{2},
			want:             []int64{0, 2},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			isKey := map[int64]bool{}
			for _, k := range tc.keys {
				isKey[k] = true
			}
			var starts []int64
			open := false
			for pts := int64(0); pts < int64(tc.frames); pts++ {
				if startsSegment(open, isKey[pts], pts, tc.keyFrameInterval) {
					starts = append(starts, pts)
					open = true
				}
			}
			require.Equal(t, tc.want, starts)
		})
	}
}

func TestDefaultCodecsFitMPEGTS(t *testing.T) {
	t.Parallel()
	for _, name := range DefaultCodecs {
		require.Contains(t, name, "264")
	}
}
