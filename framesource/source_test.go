package framesource

import (
	"context"
	"fmt"
	"iter"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avblur/mediatool/mediatooltest"
	"github.com/xaionaro-go/avblur/types"
)

const (
	testWidth  = 2
	testHeight = 2
)

// fakeVideo emulates ffmpeg rasterizing a video of totalFrames frames at fps.
func fakeVideo(totalFrames int, fps int, brokenSize bool) mediatooltest.ExecFunc {
	return func(_ context.Context, f *mediatooltest.Fake, args []string) error {
		if mediatooltest.ArgAfter(args, "-loglevel") == "verbose" {
			f.Log(fmt.Sprintf("  Duration: 00:00:%02d.00, start: 0.000000, bitrate: 100 kb/s", totalFrames/fps))
			f.Log(fmt.Sprintf("[graph 0 input from stream 0:0 @ 0x1] w:%d h:%d pixfmt:yuv420p tb:1/%d fr:%d/1 sar:1/1", testWidth, testHeight, fps, fps))
		}
		from, err := strconv.ParseFloat(mediatooltest.ArgAfter(args, "-ss"), 64)
		if err != nil {
			return err
		}
		duration, err := strconv.ParseFloat(mediatooltest.ArgAfter(args, "-t"), 64)
		if err != nil {
			return err
		}
		first := int(from * float64(fps))
		last := min(totalFrames, int((from+duration)*float64(fps)))
		var raw []byte
		for idx := first; idx < last; idx++ {
			frame := make([]byte, testWidth*testHeight*types.BytesPerPixel)
			for i := range frame {
				frame[i] = byte(idx)
			}
			raw = append(raw, frame...)
		}
		if brokenSize && len(raw) > 0 {
			raw = raw[:len(raw)-1]
		}
		f.Put(args[len(args)-1], raw)
		return nil
	}
}

func TestFallbackSegmentation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tool := mediatooltest.New(fakeVideo(10, 5, false))
	src := New(tool, "input.mp4", OptionSegmentSeconds(2), OptionDisableAccelerated(true))

	var frames []*types.Frame
	for f, err := range src.Frames(ctx) {
		require.NoError(t, err)
		frames = append(frames, f)
	}
	require.Len(t, frames, 10)
	for idx, f := range frames {
		require.Equal(t, idx, f.Index)
		require.Equal(t, 0, f.Meta.Batch)
		require.Equal(t, byte(idx), f.Image.Image().Pix[0])
		f.Image.Release()
	}

	meta, ok := src.Metadata().Peek()
	require.True(t, ok)
	require.Equal(t, testWidth, meta.Width)
	require.Equal(t, "5/1", meta.FPSRatio)
	require.InDelta(t, 2.0, meta.Duration, 1e-9)

	execs := tool.Execs()
	require.Len(t, execs, 2)
	require.Equal(t, "verbose", mediatooltest.ArgAfter(execs[0], "-loglevel"))
	require.Equal(t, "error", mediatooltest.ArgAfter(execs[1], "-loglevel"))
	require.Equal(t, "rgba", mediatooltest.ArgAfter(execs[0], "-pix_fmt"))
	require.Empty(t, tool.Files())
}

func TestFallbackBatches(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tool := mediatooltest.New(fakeVideo(25, 5, false))
	src := New(tool, "input.mp4", OptionSegmentSeconds(2), OptionDisableAccelerated(true))

	var batches []int
	for f, err := range src.Frames(ctx) {
		require.NoError(t, err)
		batches = append(batches, f.Meta.Batch)
		f.Image.Release()
	}
	require.Len(t, batches, 25)
	require.Equal(t, 0, batches[9])
	require.Equal(t, 1, batches[10])
	require.Equal(t, 2, batches[24])
}

func TestFallbackBrokenSize(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src := New(mediatooltest.New(fakeVideo(10, 5, true)), "input.mp4", OptionDisableAccelerated(true))
	var lastErr error
	for f, err := range src.Frames(ctx) {
		if err != nil {
			lastErr = err
			break
		}
		f.Image.Release()
	}
	var decodeErr types.ErrDecodeFailed
	require.ErrorAs(t, lastErr, &decodeErr)
}

func TestFramesEarlyBreak(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tool := mediatooltest.New(fakeVideo(50, 5, false))
	src := New(tool, "input.mp4", OptionDisableAccelerated(true))
	for f, err := range src.Frames(ctx) {
		require.NoError(t, err)
		f.Image.Release()
		if f.Index == 3 {
			break
		}
	}
	require.Len(t, tool.Execs(), 1)

	for _, err := range src.Frames(ctx) {
		require.ErrorIs(t, err, types.ErrInvalidState)
	}
}

type unavailableStrategy struct {
	resolve bool
}

func (unavailableStrategy) String() string { return "unavailable" }

func (s unavailableStrategy) Frames(
	_ context.Context,
	metadata *types.MetadataPromise,
) iter.Seq2[types.ImageHandle, error] {
	return func(yield func(types.ImageHandle, error) bool) {
		if s.resolve {
			metadata.Resolve(types.Metadata{Width: 1, Height: 1, FPS: 1})
		}
		yield(types.ImageHandle{}, types.ErrCapabilityUnavailable)
	}
}

func TestFramesFallsBack(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name    string
		resolve bool
	}{
		{name: "fails_before_metadata"},
		{name: "fails_after_metadata", resolve: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			tool := mediatooltest.New(fakeVideo(4, 2, false))
			src := NewWithStrategies(
				Options{OptionSegmentSeconds(1)}.Config(),
				unavailableStrategy{resolve: tc.resolve},
				NewFallback(tool, "input.mp4", 1),
			)
			_, ok := src.Metadata().Peek()
			require.False(t, ok)

			count := 0
			for f, err := range src.Frames(ctx) {
				require.NoError(t, err)
				require.Equal(t, testWidth, f.Meta.Width)
				require.Equal(t, testHeight, f.Meta.Height)
				require.InDelta(t, 2, f.Meta.FPS, 1e-9)
				require.Equal(t, f.Index/2, f.Meta.Batch)
				f.Image.Release()
				count++
			}
			require.Equal(t, 4, count)

			meta, ok := src.Metadata().Peek()
			require.True(t, ok)
			require.Equal(t, testWidth, meta.Width)
			require.InDelta(t, 2, meta.FPS, 1e-9)
		})
	}
}

func TestLogMetadataParser(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := &logMetadataParser{}
	_, err := p.Metadata(ctx)
	require.Error(t, err)

	p.onLine(ctx, "  Duration: 00:01:00.50, start: 0.000000, bitrate: 2000 kb/s")
	p.onLine(ctx, "[graph 0 input from stream 0:0 @ 0x55] w:1920 h:1080 pixfmt:yuv420p tb:1/30000 fr:30000/1001 sar:1/1")
	p.onLine(ctx, "[graph 0 input from stream 0:0 @ 0x55] w:1 h:1 pixfmt:rgba tb:1/1 fr:1/1 sar:1/1")
	m, err := p.Metadata(ctx)
	require.NoError(t, err)
	require.Equal(t, 1920, m.Width)
	require.Equal(t, 1080, m.Height)
	require.Equal(t, "yuv420p", m.PixFmt)
	require.Equal(t, "30000/1001", m.FPSRatio)
	require.InDelta(t, 29.97, m.FPS, 0.01)
	require.InDelta(t, 60.5, m.Duration, 1e-9)
}
