// source.go implements the frame source selecting between the decoding strategies.

// Package framesource decodes a video file into an ordered lazy sequence of RGBA frames.
package framesource

import (
	"context"
	"fmt"
	"iter"

	"github.com/xaionaro-go/avblur/capability"
	"github.com/xaionaro-go/avblur/logger"
	"github.com/xaionaro-go/avblur/mediatool"
	"github.com/xaionaro-go/avblur/types"
	"go.uber.org/atomic"
)

// Strategy is one way of decoding the input. It must resolve the metadata
// promise before yielding the first frame. The promise is private to the
// strategy; the source publishes it only once the strategy yields a frame.
type Strategy interface {
	fmt.Stringer
	Frames(ctx context.Context, metadata *types.MetadataPromise) iter.Seq2[types.ImageHandle, error]
}

type Source struct {
	Config     Config
	Strategies []Strategy

	metadata *types.MetadataPromise
	started  atomic.Bool
}

// New creates a source for the workspace file inputName of the given tool.
// The accelerated (in-process) strategy is preferred, the tool's subprocess
// is the fallback.
func New(
	tool mediatool.Tool,
	inputName string,
	opts ...Option,
) *Source {
	cfg := Options(opts).Config()
	var strategies []Strategy
	if !cfg.DisableAccelerated {
		strategies = append(strategies, NewAccelerated(tool.Path(inputName), cfg.HardwareDevices))
	}
	strategies = append(strategies, NewFallback(tool, inputName, cfg.SegmentSeconds))
	return NewWithStrategies(cfg, strategies...)
}

func NewWithStrategies(
	cfg Config,
	strategies ...Strategy,
) *Source {
	return &Source{
		Config:     cfg,
		Strategies: strategies,
		metadata:   types.NewMetadataPromise(),
	}
}

// Metadata is resolved by whichever strategy produces the first frame.
func (s *Source) Metadata() *types.MetadataPromise {
	return s.metadata
}

// Frames returns the lazy ordered frame sequence. It may be consumed only once;
// breaking out of the loop stops decoding. The consumer owns the yielded
// frames and must release their images.
func (s *Source) Frames(ctx context.Context) iter.Seq2[*types.Frame, error] {
	return func(yield func(*types.Frame, error) bool) {
		if s.started.Swap(true) {
			yield(nil, fmt.Errorf("the frame sequence was already consumed: %w", types.ErrInvalidState))
			return
		}
		logger.Debugf(ctx, "Frames")
		defer func() { logger.Debugf(ctx, "/Frames") }()

		seqs := make([]capability.Sequence[types.ImageHandle], 0, len(s.Strategies))
		for _, strategy := range s.Strategies {
			seqs = append(seqs, capability.Sequence[types.ImageHandle]{
				Name: strategy.String(),
				Seq:  s.publishMetadata(ctx, strategy),
			})
		}

		index := 0
		for img, err := range capability.FirstYielding(ctx, seqs...) {
			if err != nil {
				yield(nil, err)
				return
			}
			meta, ok := s.metadata.Peek()
			if !ok {
				img.Release()
				yield(nil, types.ErrDecodeFailed{Err: fmt.Errorf("the metadata were not resolved before the first frame")})
				return
			}
			frame := &types.Frame{
				Index: index,
				Image: img,
				Meta: types.FrameMeta{
					Metadata: meta,
					Batch:    index / meta.FramesPerBatch(s.Config.SegmentSeconds),
				},
			}
			if !yield(frame, nil) {
				return
			}
			index++
		}
	}
}

// publishMetadata runs the strategy against its own promise and copies the
// result into the source's promise right before the first frame is passed on.
func (s *Source) publishMetadata(
	ctx context.Context,
	strategy Strategy,
) iter.Seq2[types.ImageHandle, error] {
	return func(yield func(types.ImageHandle, error) bool) {
		local := types.NewMetadataPromise()
		published := false
		for img, err := range strategy.Frames(ctx, local) {
			if err == nil && !published {
				if meta, ok := local.Peek(); ok {
					s.metadata.Resolve(meta)
				}
				published = true
			}
			if !yield(img, err) {
				return
			}
		}
	}
}
