package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avblur/blur"
	"github.com/xaionaro-go/avblur/detectioncache"
	"github.com/xaionaro-go/avblur/detector"
	"github.com/xaionaro-go/avblur/framesource"
	"github.com/xaionaro-go/avblur/mediatool/mediatooltest"
	"github.com/xaionaro-go/avblur/model"
	"github.com/xaionaro-go/avblur/segmentencoder"
	"github.com/xaionaro-go/avblur/types"
	"github.com/xaionaro-go/avblur/video"
)

const (
	testWidth  = 4
	testHeight = 4
)

func testModel() model.Model {
	return model.Model{
		Name:              "test",
		Width:             8,
		Height:            8,
		Labels:            []string{"plate", "person"},
		RoundCornerRatios: []float64{0.95, 0.8},
		ThresholdIoU:      0.45,
		ThresholdConf:     0.1,
		ThresholdClass:    0.1,
	}
}

// fakeFFmpeg emulates frame extraction, segment encoding and the final remux.
func fakeFFmpeg(totalFrames, fps int) mediatooltest.ExecFunc {
	return func(ctx context.Context, f *mediatooltest.Fake, args []string) error {
		output := args[len(args)-1]
		switch {
		case mediatooltest.ArgAfter(args, "-ss") != "":
			if mediatooltest.ArgAfter(args, "-loglevel") == "verbose" {
				f.Log(fmt.Sprintf("  Duration: 00:00:%02d.00, start: 0.000000", totalFrames/fps))
				f.Log(fmt.Sprintf("w:%d h:%d pixfmt:yuv420p tb:1/%d fr:%d/1 sar:1/1", testWidth, testHeight, fps, fps))
			}
			from, _ := strconv.ParseFloat(mediatooltest.ArgAfter(args, "-ss"), 64)
			duration, _ := strconv.ParseFloat(mediatooltest.ArgAfter(args, "-t"), 64)
			first := int(from * float64(fps))
			last := min(totalFrames, int((from+duration)*float64(fps)))
			var raw []byte
			for idx := first; idx < last; idx++ {
				raw = append(raw, bytes.Repeat([]byte{byte(idx)}, testWidth*testHeight*types.BytesPerPixel)...)
			}
			f.Put(output, raw)
		case mediatooltest.ArgAfter(args, "-video_size") != "":
			f.Put(output, []byte(mediatooltest.ArgAfter(args, "-i")))
		case mediatooltest.ArgAfter(args, "-movflags") != "":
			f.Put(output, []byte("mp4:"+mediatooltest.ArgAfter(args, "-i")))
		default:
			return fmt.Errorf("unexpected command %v", args)
		}
		return nil
	}
}

type fakeDetector struct {
	mu      sync.Mutex
	calls   []int
	boxes   []types.Box
	err     error
	errFrom int
	aborts  []string
}

var _ Aborter = (*fakeDetector)(nil)

// Detect fails with err starting from the call number errFrom.
func (d *fakeDetector) Detect(_ context.Context, img types.ImageHandle) (detector.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, int(img.Image().Pix[0]))
	if d.err != nil && len(d.calls) > d.errFrom {
		return detector.Result{Image: img}, d.err
	}
	return detector.Result{Boxes: d.boxes, Image: img}, nil
}

func (d *fakeDetector) Abort(_ context.Context, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.aborts = append(d.aborts, reason)
}

func (d *fakeDetector) Aborts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.aborts...)
}

func (d *fakeDetector) Calls() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.calls...)
}

type testEnv struct {
	Tool     *mediatooltest.Fake
	Video    *video.Video
	Detector *fakeDetector
	Cache    *detectioncache.Bucket
	Runner   *Runner
}

func newTestEnv(t *testing.T, totalFrames, fps int) *testEnv {
	ctx := context.Background()
	tool := mediatooltest.New(fakeFFmpeg(totalFrames, fps))
	v := video.New(tool,
		video.OptionSegmentSeconds(2),
		video.OptionSourceOptions{framesource.OptionDisableAccelerated(true)},
		video.OptionEncoderOptions{segmentencoder.OptionDisableAccelerated(true)},
	)
	size, err := v.Load(ctx, "clip.mp4", strings.NewReader("container"))
	require.NoError(t, err)
	compositor, err := blur.New(blur.DefaultMaskCacheSize)
	require.NoError(t, err)
	cache := detectioncache.New(ctx, detectioncache.NewMemoryStore(), "")
	return &testEnv{
		Tool:  tool,
		Video: v,
		Detector: &fakeDetector{
			boxes: []types.Box{types.NewBox(1, 0.9, 0, 0, 2, 2)},
		},
		Cache:  cache.For(ctx, v.FileName(ctx), size, testModel().Name),
		Runner: NewRunner(compositor),
	}
}

func (env *testEnv) Job(out *bytes.Buffer) Job {
	return Job{
		Video:      env.Video,
		Detector:   env.Detector,
		Model:      testModel(),
		Cache:      env.Cache,
		BlurLabels: map[string]bool{"person": true},
		Output:     out,
	}
}

func TestRunEndToEnd(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t, 10, 5)

	var (
		out      bytes.Buffer
		batches  []int
		progress []float64
	)
	job := env.Job(&out)
	job.OnFrame = func(_ context.Context, frame *types.Frame) {
		batches = append(batches, frame.Meta.Batch)
	}
	job.Progress = func(p Progress) {
		require.InDelta(t, 2.0, p.Total, 1e-9)
		require.GreaterOrEqual(t, int64(p.Remaining), int64(0))
		progress = append(progress, p.Processed)
	}
	res, err := env.Runner.Run(ctx, job)
	require.NoError(t, err)
	require.Equal(t, Result{Frames: 10, DetectedFrames: 10, Segments: 1}, res)
	require.Equal(t, []int{0, 0, 0, 0, 0, 0, 0, 0, 0, 0}, batches)
	require.Len(t, progress, 9)
	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, env.Detector.Calls())
	require.True(t, strings.HasPrefix(out.String(), "mp4:concat:clip.mp4/encode_chunk_0.ts"), out.String())
	require.Equal(t, 10, env.Cache.Size(ctx))
	require.Equal(t, []string{"clip.mp4/input.mp4"}, env.Tool.Files())

	// the second run is served from the cache
	env2 := newTestEnv(t, 10, 5)
	env2.Cache = env.Cache
	res, err = env2.Runner.Run(ctx, env2.Job(&bytes.Buffer{}))
	require.NoError(t, err)
	require.Equal(t, 0, res.DetectedFrames)
	require.Empty(t, env2.Detector.Calls())
}

func TestRunStop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t, 10, 5)

	var out bytes.Buffer
	job := env.Job(&out)
	job.OnFrame = func(_ context.Context, frame *types.Frame) {
		if frame.Index == 3 {
			env.Runner.Stop()
		}
	}
	res, err := env.Runner.Run(ctx, job)
	require.NoError(t, err)
	require.True(t, res.Stopped)
	require.Equal(t, 4, res.Frames)
	require.Zero(t, out.Len())
	require.Equal(t, []string{"clip.mp4/input.mp4"}, env.Tool.Files())
	require.False(t, env.Runner.IsRunning())
}

func TestRunDetectFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t, 10, 5)
	env.Detector.err = errors.New("inference failed")

	_, err := env.Runner.Run(ctx, env.Job(&bytes.Buffer{}))
	var stageErr ErrStage
	require.ErrorAs(t, err, &stageErr)
	require.Equal(t, StageDetect, stageErr.Stage)
	require.True(t, stageErr.FrameIndex.IsSet())
	require.Equal(t, 0, stageErr.FrameIndex.Get())
	require.Zero(t, env.Cache.Size(ctx))
	require.Equal(t, []string{err.Error()}, env.Detector.Aborts())
	require.False(t, env.Runner.IsRunning())
}

func TestRunEncoderReleasedOnFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t, 10, 5)
	env.Detector.err = errors.New("out of memory")
	env.Detector.errFrom = 3

	var out bytes.Buffer
	res, err := env.Runner.Run(ctx, env.Job(&out))
	require.ErrorIs(t, err, env.Detector.err)
	require.False(t, res.Stopped)
	require.Equal(t, 3, res.Frames)
	require.Zero(t, out.Len())
	require.Len(t, env.Detector.Aborts(), 1)
	require.Contains(t, env.Detector.Aborts()[0], "out of memory")
	require.Equal(t, []string{"clip.mp4/input.mp4"}, env.Tool.Files())
}

func TestRunCancelledIsStop(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name string
		err  error
	}{
		{name: "engine_aborted", err: types.ErrCancelled{Reason: "user abort"}},
		{name: "context_cancelled", err: fmt.Errorf("waiting for the result: %w", context.Canceled)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			env := newTestEnv(t, 10, 5)
			env.Detector.err = tc.err
			env.Detector.errFrom = 3

			var out bytes.Buffer
			res, err := env.Runner.Run(ctx, env.Job(&out))
			require.NoError(t, err)
			require.True(t, res.Stopped)
			require.Equal(t, 3, res.Frames)
			require.Zero(t, res.Segments)
			require.Zero(t, out.Len())
			require.Empty(t, env.Detector.Aborts())
			require.Equal(t, []string{"clip.mp4/input.mp4"}, env.Tool.Files())
			require.False(t, env.Runner.IsRunning())
		})
	}
}

func TestRunImage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t, 1, 1)

	var out bytes.Buffer
	job := env.Job(&out)
	job.IsImage = true
	job.DrawBoxes = true
	res, err := env.Runner.Run(ctx, job)
	require.NoError(t, err)
	require.Equal(t, 1, res.Frames)
	require.Zero(t, res.Segments)

	img, err := png.Decode(&out)
	require.NoError(t, err)
	require.Equal(t, testWidth, img.Bounds().Dx())
	require.Equal(t, testHeight, img.Bounds().Dy())
}

func TestRunInvalidJob(t *testing.T) {
	t.Parallel()
	r := NewRunner(nil)
	_, err := r.Run(context.Background(), Job{})
	require.ErrorIs(t, err, types.ErrConfigurationInvalid)
}

func TestErrStage(t *testing.T) {
	t.Parallel()
	err := stageErr(StageEncode, 7, types.ErrEncodeFailed{Err: errors.New("boom")})
	require.Equal(t, "encode failed on frame 7: encoding failed: boom", err.Error())
	var encErr types.ErrEncodeFailed
	require.ErrorAs(t, err, &encErr)
	require.Equal(t, "flush failed: x", ErrStage{Stage: StageFlush, Err: errors.New("x")}.Error())
}
