// video.go implements the facade over one loaded input file and its workspace.

// Package video ties the frame source, the segment encoder and the final
// remux together around one loaded input file.
package video

import (
	"context"
	"fmt"
	"io"
	"iter"
	"math"
	"path"
	"strings"

	"github.com/xaionaro-go/avblur/framesource"
	"github.com/xaionaro-go/avblur/logger"
	"github.com/xaionaro-go/avblur/mediatool"
	"github.com/xaionaro-go/avblur/segmentencoder"
	"github.com/xaionaro-go/avblur/types"
	"github.com/xaionaro-go/xsync"
)

const (
	inputBaseName  = "input"
	outputName     = "output.mp4"
	encodePrefix   = "encode"
	defaultDirName = "unknown"
)

// Video is one input file loaded into the workspace of a media tool.
type Video struct {
	Tool mediatool.Tool

	locker         xsync.Mutex
	config         Config
	dir            string
	inputName      string
	fileName       string
	fileSize       int64
	source         *framesource.Source
	segmentSeconds float64
}

func New(
	tool mediatool.Tool,
	opts ...Option,
) *Video {
	cfg := Options(opts).Config()
	return &Video{
		Tool:           tool,
		config:         cfg,
		segmentSeconds: cfg.SegmentSeconds,
	}
}

func (v *Video) String() string {
	return fmt.Sprintf("Video(%s)", v.fileName)
}

// SegmentSeconds is the duration of one batch of frames and one encoded segment.
func (v *Video) SegmentSeconds(ctx context.Context) float64 {
	return xsync.DoR1(ctx, &v.locker, func() float64 {
		return v.segmentSeconds
	})
}

// SetSegmentSeconds applies to the videos loaded afterwards.
func (v *Video) SetSegmentSeconds(ctx context.Context, seconds float64) error {
	if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return fmt.Errorf("%w: segment duration must be positive, received %v", types.ErrConfigurationInvalid, seconds)
	}
	v.locker.Do(ctx, func() {
		v.segmentSeconds = seconds
	})
	return nil
}

// Load copies the input into the workspace, replacing the previously loaded
// file. It returns the size of the file in bytes.
func (v *Video) Load(
	ctx context.Context,
	name string,
	r io.Reader,
) (_ret int64, _err error) {
	logger.Debugf(ctx, "Load(%s)", name)
	defer func() { logger.Debugf(ctx, "/Load(%s): %d %v", name, _ret, _err) }()
	return xsync.DoA3R2(ctx, &v.locker, v.loadLocked, ctx, name, r)
}

func (v *Video) loadLocked(
	ctx context.Context,
	name string,
	r io.Reader,
) (int64, error) {
	if err := v.resetLocked(ctx); err != nil {
		return 0, err
	}

	dir := dirName(name)
	if err := v.Tool.CreateDir(ctx, dir); err != nil {
		return 0, fmt.Errorf("unable to create the directory '%s': %w", dir, err)
	}
	inputName := path.Join(dir, inputBaseName+strings.ToLower(path.Ext(name)))
	counter := &countingReader{Reader: r}
	if err := v.Tool.WriteFile(ctx, inputName, counter); err != nil {
		_ = v.Tool.DeleteDir(ctx, dir)
		return 0, fmt.Errorf("unable to store the input as '%s': %w", inputName, err)
	}

	v.dir = dir
	v.inputName = inputName
	v.fileName = path.Base(name)
	v.fileSize = counter.N
	sourceOpts := append([]framesource.Option{
		framesource.OptionSegmentSeconds(v.segmentSeconds),
	}, v.config.SourceOptions...)
	v.source = framesource.New(v.Tool, inputName, sourceOpts...)
	return counter.N, nil
}

// dirName derives the workspace directory from the file name.
func dirName(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	switch base {
	case "", ".", "/", "..":
		return defaultDirName
	}
	return base
}

type countingReader struct {
	io.Reader
	N int64
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.Reader.Read(p)
	r.N += int64(n)
	return n, err
}

// FileName is the base name of the loaded file.
func (v *Video) FileName(ctx context.Context) string {
	return xsync.DoR1(ctx, &v.locker, func() string {
		return v.fileName
	})
}

// FileSize is the size of the loaded file in bytes.
func (v *Video) FileSize(ctx context.Context) int64 {
	return xsync.DoR1(ctx, &v.locker, func() int64 {
		return v.fileSize
	})
}

func (v *Video) getSource(ctx context.Context) (*framesource.Source, error) {
	return xsync.DoR2(ctx, &v.locker, func() (*framesource.Source, error) {
		if v.source == nil {
			return nil, fmt.Errorf("no video is loaded: %w", types.ErrInvalidState)
		}
		return v.source, nil
	})
}

// Metadata returns the promise of the loaded video's metadata.
func (v *Video) Metadata(ctx context.Context) (*types.MetadataPromise, error) {
	s, err := v.getSource(ctx)
	if err != nil {
		return nil, err
	}
	return s.Metadata(), nil
}

// Frames returns the frames of the loaded video, see framesource.Source.Frames.
func (v *Video) Frames(ctx context.Context) iter.Seq2[*types.Frame, error] {
	s, err := v.getSource(ctx)
	if err != nil {
		return func(yield func(*types.Frame, error) bool) {
			yield(nil, err)
		}
	}
	return s.Frames(ctx)
}

// KeyFrameInterval is the amount of frames of one segment.
func KeyFrameInterval(segmentSeconds float64, metadata types.Metadata) int {
	return metadata.FramesPerBatch(segmentSeconds)
}

// NewEncoder creates a segment encoder whose key frames match the batches of the frames.
func (v *Video) NewEncoder(
	ctx context.Context,
	metadata types.Metadata,
	opts ...segmentencoder.Option,
) (segmentencoder.Encoder, error) {
	var (
		dir            string
		segmentSeconds float64
	)
	v.locker.Do(ctx, func() {
		dir, segmentSeconds = v.dir, v.segmentSeconds
	})
	if dir == "" {
		return nil, fmt.Errorf("no video is loaded: %w", types.ErrInvalidState)
	}
	allOpts := append(append([]segmentencoder.Option{}, v.config.EncoderOptions...), opts...)
	return segmentencoder.New(
		ctx,
		v.Tool,
		path.Join(dir, encodePrefix),
		metadata,
		KeyFrameInterval(segmentSeconds, metadata),
		allOpts...,
	)
}

// Render concatenates the segments, takes all the non-video streams and the
// metadata from the loaded file and writes the resulting MP4 to w.
func (v *Video) Render(
	ctx context.Context,
	segments []string,
	w io.Writer,
	progress mediatool.ProgressFunc,
) (_err error) {
	logger.Debugf(ctx, "Render(%v)", segments)
	defer func() { logger.Debugf(ctx, "/Render(%v): %v", segments, _err) }()
	if len(segments) == 0 {
		return fmt.Errorf("no segments to render")
	}
	var dir, inputName string
	v.locker.Do(ctx, func() {
		dir, inputName = v.dir, v.inputName
	})
	if dir == "" {
		return fmt.Errorf("no video is loaded: %w", types.ErrInvalidState)
	}

	output := path.Join(dir, outputName)
	var opts []mediatool.ExecOption
	if progress != nil {
		opts = append(opts, mediatool.WithProgress(progress))
	}
	err := v.Tool.Exec(ctx, []string{
		"-i", "concat:" + strings.Join(segments, "|"),
		"-i", inputName,
		"-map", "0",
		"-pix_fmt", "yuv420p",
		"-c", "copy",
		"-map", "1",
		"-map_metadata", "1",
		"-map", "-1:v",
		"-map", "-1:d",
		"-movflags", "+faststart",
		output,
	}, opts...)
	if err != nil {
		return fmt.Errorf("unable to combine the segments: %w", err)
	}
	defer func() {
		if err := v.Tool.DeleteFile(ctx, output); err != nil {
			logger.Warnf(ctx, "unable to delete '%s': %v", output, err)
		}
	}()
	data, err := v.Tool.ReadFile(ctx, output)
	if err != nil {
		return fmt.Errorf("unable to read the rendered video: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("unable to write the rendered video: %w", err)
	}
	return nil
}

// Abort drops the loaded file together with everything derived from it.
func (v *Video) Abort(ctx context.Context) error {
	logger.Debugf(ctx, "Abort")
	defer logger.Debugf(ctx, "/Abort")
	return xsync.DoA1R1(ctx, &v.locker, v.resetLocked, ctx)
}

func (v *Video) resetLocked(ctx context.Context) error {
	if v.dir != "" {
		if err := v.Tool.DeleteDir(ctx, v.dir); err != nil {
			return fmt.Errorf("unable to delete the directory '%s': %w", v.dir, err)
		}
	}
	v.dir = ""
	v.inputName = ""
	v.fileName = ""
	v.fileSize = 0
	v.source = nil
	return nil
}
