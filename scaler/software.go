package scaler

import (
	"context"
	"fmt"
	"image"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/avblur/helpers/closuresignaler"
	"github.com/xaionaro-go/avblur/internal"
	"github.com/xaionaro-go/avblur/logger"
)

type Software struct {
	*astiav.SoftwareScaleContext
	*closuresignaler.ClosureSignaler
}

var _ Scaler = (*Software)(nil)

func NewSoftware(
	ctx context.Context,
	src image.Point,
	srcPixFmt astiav.PixelFormat,
	dst image.Point,
	dstPixFmt astiav.PixelFormat,
	opts ...astiav.SoftwareScaleContextFlag,
) (*Software, error) {
	if len(opts) == 0 {
		opts = []astiav.SoftwareScaleContextFlag{astiav.SoftwareScaleContextFlagBilinear}
	}
	swSCtx, err := astiav.CreateSoftwareScaleContext(
		src.X,
		src.Y,
		srcPixFmt,
		dst.X,
		dst.Y,
		dstPixFmt,
		astiav.NewSoftwareScaleContextFlags(opts...),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create a software scale context %dx%d:%s -> %dx%d:%s: %w", src.X, src.Y, srcPixFmt, dst.X, dst.Y, dstPixFmt, err)
	}
	internal.SetFinalizerFree(ctx, swSCtx)
	return &Software{
		SoftwareScaleContext: swSCtx,
		ClosureSignaler:      closuresignaler.New(),
	}, nil
}

// ToRGBA creates a scaler converting frames of the given format into RGBA of the same size.
func ToRGBA(ctx context.Context, size image.Point, srcPixFmt astiav.PixelFormat) (*Software, error) {
	return NewSoftware(ctx, size, srcPixFmt, size, astiav.PixelFormatRgba)
}

// FromRGBA creates a scaler converting RGBA frames into the given format of the same size.
func FromRGBA(ctx context.Context, size image.Point, dstPixFmt astiav.PixelFormat) (*Software, error) {
	return NewSoftware(ctx, size, astiav.PixelFormatRgba, size, dstPixFmt)
}

func (s *Software) String() string {
	return fmt.Sprintf(
		"SoftwareScaler(%dx%d:%s -> %dx%d:%s)",
		s.SoftwareScaleContext.SourceWidth(),
		s.SoftwareScaleContext.SourceHeight(),
		s.SoftwareScaleContext.SourcePixelFormat(),
		s.SoftwareScaleContext.DestinationWidth(),
		s.SoftwareScaleContext.DestinationHeight(),
		s.SoftwareScaleContext.DestinationPixelFormat(),
	)
}

func (s *Software) Close(ctx context.Context) error {
	logger.Tracef(ctx, "Close")
	defer logger.Tracef(ctx, "/Close")
	if s.ClosureSignaler.Close(ctx, nil) {
		internal.ClearFinalizer(s.SoftwareScaleContext)
		s.SoftwareScaleContext.Free()
	}
	return nil
}

func (s *Software) ScaleFrame(
	ctx context.Context,
	src *astiav.Frame,
	dst *astiav.Frame,
) (_err error) {
	logger.Tracef(ctx, "ScaleFrame")
	defer func() { logger.Tracef(ctx, "/ScaleFrame: %v", _err) }()
	if s.IsClosed() {
		return fmt.Errorf("scaler is closed")
	}
	if err := s.SoftwareScaleContext.ScaleFrame(src, dst); err != nil {
		return fmt.Errorf("unable to scale a frame: %w", err)
	}
	return nil
}

func (s *Software) SourceResolution() image.Point {
	return image.Pt(s.SoftwareScaleContext.SourceWidth(), s.SoftwareScaleContext.SourceHeight())
}

func (s *Software) SourcePixelFormat() astiav.PixelFormat {
	return s.SoftwareScaleContext.SourcePixelFormat()
}

func (s *Software) DestinationResolution() image.Point {
	return image.Pt(s.SoftwareScaleContext.DestinationWidth(), s.SoftwareScaleContext.DestinationHeight())
}

func (s *Software) DestinationPixelFormat() astiav.PixelFormat {
	return s.SoftwareScaleContext.DestinationPixelFormat()
}
