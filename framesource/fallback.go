package framesource

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"path"
	"strconv"

	"github.com/xaionaro-go/avblur/logger"
	"github.com/xaionaro-go/avblur/mediatool"
	"github.com/xaionaro-go/avblur/pool"
	"github.com/xaionaro-go/avblur/types"
)

// Fallback rasterizes the input segment by segment with the media tool.
type Fallback struct {
	Tool           mediatool.Tool
	InputName      string
	SegmentSeconds float64
}

var _ Strategy = (*Fallback)(nil)

func NewFallback(
	tool mediatool.Tool,
	inputName string,
	segmentSeconds float64,
) *Fallback {
	return &Fallback{
		Tool:           tool,
		InputName:      inputName,
		SegmentSeconds: segmentSeconds,
	}
}

func (f *Fallback) String() string {
	return fmt.Sprintf("Fallback(%s)", f.Tool)
}

func (f *Fallback) Frames(
	ctx context.Context,
	metadata *types.MetadataPromise,
) iter.Seq2[types.ImageHandle, error] {
	return func(yield func(types.ImageHandle, error) bool) {
		parser := &logMetadataParser{}
		removeListener := f.Tool.OnLog(func(line string) {
			parser.onLine(ctx, line)
		})
		defer func() {
			if removeListener != nil {
				removeListener()
			}
		}()

		var (
			meta    types.Metadata
			bufPool *pool.RGBA
		)
		logLevel := "verbose"
		for segIdx := 0; ; segIdx++ {
			if err := ctx.Err(); err != nil {
				yield(types.ImageHandle{}, err)
				return
			}
			from := float64(segIdx) * f.SegmentSeconds
			raw, err := f.extractSegment(ctx, from, f.SegmentSeconds, logLevel)
			if removeListener != nil {
				removeListener()
				removeListener = nil
				logLevel = "error"
				if err == nil {
					meta, err = parser.Metadata(ctx)
					if err == nil {
						metadata.Resolve(meta)
						bufPool = pool.NewRGBA(meta.Width, meta.Height)
						logger.Debugf(ctx, "metadata from the log: %s", meta)
					}
				}
			}
			if err != nil {
				yield(types.ImageHandle{}, types.ErrDecodeFailed{Err: err})
				return
			}
			if len(raw) == 0 {
				logger.Debugf(ctx, "segment %d is empty: end of the video", segIdx)
				return
			}
			frameSize := meta.FrameSize()
			if len(raw)%frameSize != 0 {
				yield(types.ImageHandle{}, types.ErrDecodeFailed{
					Err: fmt.Errorf("segment %d size %d is not a multiple of the frame size %d", segIdx, len(raw), frameSize),
				})
				return
			}
			for off := 0; off < len(raw); off += frameSize {
				img := bufPool.Get()
				copy(img.Pix, raw[off:off+frameSize])
				if !yield(types.NewImageHandle(img, bufPool.Put), nil) {
					return
				}
			}
		}
	}
}

func (f *Fallback) extractSegment(
	ctx context.Context,
	from, duration float64,
	logLevel string,
) (_ret []byte, _err error) {
	logger.Tracef(ctx, "extractSegment(%v, %v)", from, duration)
	defer func() { logger.Tracef(ctx, "/extractSegment(%v, %v): %d %v", from, duration, len(_ret), _err) }()

	tmpName := path.Join(
		path.Dir(f.InputName),
		fmt.Sprintf("frame-extract-%s-%s.rawvideo", formatSeconds(from), formatSeconds(duration)),
	)
	err := f.Tool.Exec(ctx, []string{
		"-hide_banner",
		"-loglevel", logLevel,
		"-ss", formatSeconds(from),
		"-t", formatSeconds(duration),
		"-i", f.InputName,
		"-pix_fmt", "rgba",
		"-vcodec", "rawvideo",
		"-f", "image2pipe",
		tmpName,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to extract frames [%v, %v): %w", from, from+duration, err)
	}
	raw, err := f.Tool.ReadFile(ctx, tmpName)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := f.Tool.DeleteFile(ctx, tmpName); err != nil {
		logger.Warnf(ctx, "unable to delete '%s': %v", tmpName, err)
	}
	return raw, nil
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64)
}
