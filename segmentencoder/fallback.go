package segmentencoder

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/xaionaro-go/avblur/logger"
	"github.com/xaionaro-go/avblur/mediatool"
	"github.com/xaionaro-go/avblur/types"
)

// fallback stores raw frames in the media tool workspace and encodes them
// with the tool every keyFrameInterval frames.
type fallback struct {
	tool             mediatool.Tool
	pathPrefix       string
	metadata         types.Metadata
	keyFrameInterval int
	progress         mediatool.ProgressFunc

	frameIndex int
	framePaths []string
	chunkPaths []string
}

var _ backend = (*fallback)(nil)

func newFallback(
	tool mediatool.Tool,
	pathPrefix string,
	metadata types.Metadata,
	keyFrameInterval int,
	progress mediatool.ProgressFunc,
) *fallback {
	return &fallback{
		tool:             tool,
		pathPrefix:       pathPrefix,
		metadata:         metadata,
		keyFrameInterval: keyFrameInterval,
		progress:         progress,
	}
}

func (f *fallback) String() string {
	return "FallbackEncoder(libx264)"
}

func (f *fallback) encode(ctx context.Context, img *image.RGBA) error {
	if img.Rect.Dx() != f.metadata.Width || img.Rect.Dy() != f.metadata.Height {
		return fmt.Errorf("expected a %dx%d frame, received %dx%d", f.metadata.Width, f.metadata.Height, img.Rect.Dx(), img.Rect.Dy())
	}
	path := fmt.Sprintf("%s_%d.raw", f.pathPrefix, f.frameIndex)
	if err := f.tool.WriteFile(ctx, path, bytes.NewReader(rgbaBytes(img))); err != nil {
		return err
	}
	f.framePaths = append(f.framePaths, path)
	f.frameIndex++
	if f.frameIndex%f.keyFrameInterval == 0 {
		return f.encodeSegment(ctx)
	}
	return nil
}

// rgbaBytes returns the tightly packed pixels of img.
func rgbaBytes(img *image.RGBA) []byte {
	rowLen := img.Rect.Dx() * types.BytesPerPixel
	if img.Stride == rowLen && len(img.Pix) == rowLen*img.Rect.Dy() {
		return img.Pix
	}
	out := make([]byte, 0, rowLen*img.Rect.Dy())
	for y := img.Rect.Min.Y; y < img.Rect.Max.Y; y++ {
		off := img.PixOffset(img.Rect.Min.X, y)
		out = append(out, img.Pix[off:off+rowLen]...)
	}
	return out
}

func (f *fallback) encodeSegment(ctx context.Context) (_err error) {
	if len(f.framePaths) == 0 {
		return nil
	}
	chunkName := fmt.Sprintf("%s_chunk_%d.ts", f.pathPrefix, len(f.chunkPaths))
	logger.Debugf(ctx, "encodeSegment: %s (%d frames)", chunkName, len(f.framePaths))
	defer func() { logger.Debugf(ctx, "/encodeSegment: %s: %v", chunkName, _err) }()

	var opts []mediatool.ExecOption
	if f.progress != nil {
		opts = append(opts, mediatool.WithProgress(f.progress))
	}
	err := f.tool.Exec(ctx, []string{
		"-framerate", f.metadata.FPSRatio,
		"-video_size", fmt.Sprintf("%dx%d", f.metadata.Width, f.metadata.Height),
		"-pix_fmt", "rgba",
		"-f", "rawvideo",
		"-i", "concat:" + strings.Join(f.framePaths, "|"),
		"-color_primaries", "bt709",
		"-color_trc", "bt709",
		"-colorspace", "bt709",
		"-pix_fmt", "yuv420p",
		"-c:v:0", "libx264",
		"-preset:0", "ultrafast",
		"-r:0", f.metadata.FPSRatio,
		chunkName,
	}, opts...)
	if err != nil {
		return fmt.Errorf("unable to encode the segment '%s': %w", chunkName, err)
	}
	f.chunkPaths = append(f.chunkPaths, chunkName)
	f.deleteFrames(ctx)
	return nil
}

func (f *fallback) deleteFrames(ctx context.Context) {
	for _, path := range f.framePaths {
		if err := f.tool.DeleteFile(ctx, path); err != nil {
			logger.Warnf(ctx, "unable to delete '%s': %v", path, err)
		}
	}
	f.framePaths = f.framePaths[:0]
}

func (f *fallback) flush(ctx context.Context) ([]string, error) {
	if err := f.encodeSegment(ctx); err != nil {
		return nil, err
	}
	return append([]string(nil), f.chunkPaths...), nil
}

func (f *fallback) destroy(ctx context.Context) error {
	f.deleteFrames(ctx)
	for _, path := range f.chunkPaths {
		if err := f.tool.DeleteFile(ctx, path); err != nil {
			logger.Warnf(ctx, "unable to delete '%s': %v", path, err)
		}
	}
	f.chunkPaths = nil
	return nil
}
