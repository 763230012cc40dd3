// runner.go implements one end-to-end run: decode, detect, blur, encode and remux.

// Package pipeline drives the per-frame processing of a loaded video.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/facebookincubator/go-belt"
	"github.com/xaionaro-go/avblur/blur"
	"github.com/xaionaro-go/avblur/detectioncache"
	"github.com/xaionaro-go/avblur/detector"
	"github.com/xaionaro-go/avblur/indicator"
	"github.com/xaionaro-go/avblur/logger"
	"github.com/xaionaro-go/avblur/model"
	"github.com/xaionaro-go/avblur/segmentencoder"
	"github.com/xaionaro-go/avblur/types"
	"github.com/xaionaro-go/avblur/video"
	"github.com/xaionaro-go/typing"
	"github.com/xaionaro-go/xcontext"
	"go.uber.org/atomic"
)

// Detector is the part of detector.Engine used by the runner.
type Detector interface {
	Detect(ctx context.Context, img types.ImageHandle) (detector.Result, error)
}

var _ Detector = (*detector.Engine)(nil)

// Aborter is implemented by detectors which hold resources worth releasing
// as soon as a run fails.
type Aborter interface {
	Abort(ctx context.Context, reason string)
}

var _ Aborter = (*detector.Engine)(nil)

// Progress of a run; durations of the video are in seconds.
type Progress struct {
	Processed float64
	Total     float64
	Remaining time.Duration
}

type ProgressFunc func(Progress)

type Job struct {
	Video    *video.Video
	Detector Detector
	Model    model.Model

	// Cache memoizes the detections; nil disables memoization.
	Cache *detectioncache.Bucket

	// BlurLabels enables blurring per label name.
	BlurLabels map[string]bool
	DrawBoxes  bool

	// IsImage writes the first frame as PNG instead of encoding a video.
	IsImage bool

	Output io.Writer

	Progress ProgressFunc
	// OnFrame is called with every composited frame, before it is encoded.
	OnFrame func(ctx context.Context, frame *types.Frame)
}

type Result struct {
	Frames         int
	DetectedFrames int
	Segments       int
	Stopped        bool
}

type Runner struct {
	Compositor *blur.Compositor

	running atomic.Bool
	stopped atomic.Bool
}

func NewRunner(compositor *blur.Compositor) *Runner {
	return &Runner{
		Compositor: compositor,
	}
}

// Stop makes the current run stop before its next frame. The frame in
// progress is finished first.
func (r *Runner) Stop() {
	r.stopped.Store(true)
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

type run struct {
	*Runner
	Job     Job
	Result  Result
	Encoder segmentencoder.Encoder
	ETA     *indicator.ETA
}

// Run processes the job. A run stopped by Stop or cancelled (context.Canceled,
// types.ErrCancelled) returns Result.Stopped and no error. On any other error
// the detector is aborted if it is an Aborter.
func (r *Runner) Run(
	ctx context.Context,
	job Job,
) (_ret Result, _err error) {
	logger.Debugf(ctx, "Run")
	defer func() { logger.Debugf(ctx, "/Run: %+v %v", _ret, _err) }()

	if err := validateJob(job); err != nil {
		return Result{}, err
	}
	ctx = belt.WithField(ctx, "input", job.Video.FileName(ctx))
	ctx = belt.WithField(ctx, "model", job.Model.Name)
	if !r.running.CompareAndSwap(false, true) {
		return Result{}, fmt.Errorf("a run is already in progress: %w", types.ErrInvalidState)
	}
	defer r.running.Store(false)
	r.stopped.Store(false)

	ru := &run{Runner: r, Job: job, ETA: indicator.NewETA(indicator.DefaultETAWindow)}
	defer func() {
		if ru.Encoder == nil {
			return
		}
		if err := ru.Encoder.Destroy(ctx); err != nil {
			logger.Errorf(ctx, "unable to destroy the encoder %s: %v", ru.Encoder, err)
		}
	}()
	err := ru.do(ctx)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		logger.Infof(ctx, "the run is cancelled: %v", err)
		ru.Result.Stopped = true
		err = nil
	default:
		if aborter, ok := job.Detector.(Aborter); ok {
			aborter.Abort(xcontext.DetachDone(ctx), err.Error())
		}
	}
	return ru.Result, err
}

func validateJob(job Job) error {
	switch {
	case job.Video == nil:
		return fmt.Errorf("%w: no video", types.ErrConfigurationInvalid)
	case job.Detector == nil:
		return fmt.Errorf("%w: no detector", types.ErrConfigurationInvalid)
	case job.Output == nil:
		return fmt.Errorf("%w: no output", types.ErrConfigurationInvalid)
	}
	return job.Model.Validate()
}

func (ru *run) do(ctx context.Context) error {
	for frame, err := range ru.Job.Video.Frames(ctx) {
		if err != nil {
			return ErrStage{Stage: StageDecode, FrameIndex: ru.nextFrameIndex(), Err: err}
		}
		if ru.stopped.Load() {
			frame.Image.Release()
			logger.Infof(ctx, "stopped before frame %d", frame.Index)
			ru.Result.Stopped = true
			return nil
		}
		err := ru.processFrame(ctx, frame)
		frame.Image.Release()
		if err != nil {
			return err
		}
		ru.Result.Frames++
		if ru.Job.IsImage {
			return nil
		}
	}
	if ru.stopped.Load() {
		ru.Result.Stopped = true
		return nil
	}
	if ru.Job.IsImage {
		return ErrStage{Stage: StageDecode, Err: fmt.Errorf("the image has no frames")}
	}
	return ru.finish(ctx)
}

func (ru *run) nextFrameIndex() typing.Optional[int] {
	return typing.Opt(ru.Result.Frames)
}

func (ru *run) processFrame(
	ctx context.Context,
	frame *types.Frame,
) error {
	logger.Tracef(ctx, "processFrame: %s", frame)
	if ru.Result.Frames == 0 {
		if err := checkMetadata(frame.Meta.Metadata); err != nil {
			return stageErr(StageMetadata, frame.Index, err)
		}
		logger.Infof(ctx, "video: %s", frame.Meta.Metadata)
	}

	boxes, err := ru.detect(ctx, frame)
	if err != nil {
		return stageErr(StageDetect, frame.Index, err)
	}

	img := frame.Image.Image()
	if img == nil {
		return stageErr(StageBlur, frame.Index, types.ErrMovedOut)
	}
	toBlur := blur.FilterBoxes(ru.Job.Model, boxes, ru.Job.BlurLabels)
	if len(toBlur) > 0 {
		ru.Compositor.BlurBoxes(img, ru.Job.Model, toBlur)
	}
	if ru.Job.DrawBoxes {
		blur.DrawBoxes(img, ru.Job.Model, boxes)
	}
	if ru.Job.OnFrame != nil {
		ru.Job.OnFrame(ctx, frame)
	}

	if ru.Job.IsImage {
		if err := imgio.Encode(ru.Job.Output, img, imgio.PNGEncoder()); err != nil {
			return stageErr(StageEncode, frame.Index, fmt.Errorf("unable to write the PNG: %w", err))
		}
		return nil
	}

	if ru.Encoder == nil {
		enc, err := ru.Job.Video.NewEncoder(ctx, frame.Meta.Metadata)
		if err != nil {
			return stageErr(StageEncode, frame.Index, err)
		}
		ru.Encoder = enc
	}
	if err := ru.Encoder.Encode(ctx, img); err != nil {
		return stageErr(StageEncode, frame.Index, err)
	}

	ru.ETA.FrameDone()
	if ru.Job.Progress != nil {
		processed := float64(frame.Index+1) / frame.Meta.FPS
		if total := frame.Meta.Duration; processed < total {
			framesLeft := int(math.Ceil((total - processed) * frame.Meta.FPS))
			ru.Job.Progress(Progress{
				Processed: processed,
				Total:     total,
				Remaining: ru.ETA.Remaining(framesLeft),
			})
		}
	}
	return nil
}

func checkMetadata(m types.Metadata) error {
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", m.Width, m.Height)
	}
	if !(m.FPS > 0) {
		return fmt.Errorf("invalid frame rate '%s'", m.FPSRatio)
	}
	return nil
}

// detect lends the frame's image to the detector and takes it back.
func (ru *run) detect(
	ctx context.Context,
	frame *types.Frame,
) ([]types.Box, error) {
	compute := func(ctx context.Context) ([]types.Box, error) {
		if frame.Image.IsEmpty() {
			return nil, types.ErrMovedOut
		}
		ru.Result.DetectedFrames++
		res, err := ru.Job.Detector.Detect(ctx, frame.Image.Move())
		if !res.Image.IsEmpty() {
			frame.Image = res.Image
		}
		if err != nil {
			return nil, err
		}
		return res.Boxes, nil
	}
	if ru.Job.Cache == nil {
		return compute(ctx)
	}
	return ru.Job.Cache.GetOrCompute(ctx, frame.Index, compute)
}

func (ru *run) finish(ctx context.Context) error {
	startedAt := time.Now()
	defer func() { logger.Elapsedf(ctx, startedAt, "combining %d segments", ru.Result.Segments) }()
	if ru.Encoder == nil {
		return ErrStage{Stage: StageDecode, Err: fmt.Errorf("the video has no frames")}
	}
	segments, err := ru.Encoder.Flush(ctx)
	if err != nil {
		return ErrStage{Stage: StageFlush, Err: err}
	}
	ru.Result.Segments = len(segments)
	logger.Infof(ctx, "all %d segments are flushed, combining the final video", len(segments))
	if err := ru.Job.Video.Render(ctx, segments, ru.Job.Output, nil); err != nil {
		return ErrStage{Stage: StageRender, Err: err}
	}
	return nil
}
