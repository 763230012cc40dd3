package segmentencoder

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/avblur/capability"
	"github.com/xaionaro-go/avblur/logger"
	"github.com/xaionaro-go/avblur/mediatool"
	"github.com/xaionaro-go/avblur/types"
)

// New creates an encoder writing segments named after pathPrefix. A key frame
// is forced every keyFrameInterval frames, so every segment starts with one.
//
// In-process encoders are tried first; if none can be opened, frames are
// encoded through the media tool.
func New(
	ctx context.Context,
	tool mediatool.Tool,
	pathPrefix string,
	metadata types.Metadata,
	keyFrameInterval int,
	opts ...Option,
) (_ret Encoder, _err error) {
	logger.Debugf(ctx, "New(%s, %s, %d)", pathPrefix, metadata, keyFrameInterval)
	defer func() { logger.Debugf(ctx, "/New: %v %v", _ret, _err) }()

	if keyFrameInterval < 1 {
		return nil, fmt.Errorf("%w: key frame interval must be positive, received %d", types.ErrConfigurationInvalid, keyFrameInterval)
	}
	if metadata.Width <= 0 || metadata.Height <= 0 {
		return nil, fmt.Errorf("%w: invalid frame size %dx%d", types.ErrConfigurationInvalid, metadata.Width, metadata.Height)
	}
	cfg := Options(opts).Config()

	if !cfg.DisableAccelerated && len(cfg.Codecs) > 0 {
		candidates := make([]capability.Candidate[*accelerated], 0, len(cfg.Codecs))
		for _, codecName := range cfg.Codecs {
			candidates = append(candidates, capability.Candidate[*accelerated]{
				Name: codecName,
				Open: func(ctx context.Context) (*accelerated, error) {
					return openAccelerated(ctx, tool, pathPrefix, metadata, keyFrameInterval, codecName)
				},
			})
		}
		a, name, err := capability.FirstSupported(ctx, candidates...)
		if err == nil {
			logger.Infof(ctx, "encoding with %s", name)
			return newEncoder(a), nil
		}
		logger.Warnf(ctx, "no in-process encoder is available, falling back to %s: %v", tool, err)
	}
	return newEncoder(newFallback(tool, pathPrefix, metadata, keyFrameInterval, cfg.Progress)), nil
}
