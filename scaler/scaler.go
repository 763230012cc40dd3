// Package scaler converts libav frames between pixel formats.
package scaler

import (
	"context"
	"fmt"
	"image"

	"github.com/asticode/go-astiav"
)

// Scaler converts frames of one resolution and pixel format into another.
type Scaler interface {
	fmt.Stringer
	Close(context.Context) error
	ScaleFrame(ctx context.Context, src *astiav.Frame, dst *astiav.Frame) error
	SourceResolution() image.Point
	SourcePixelFormat() astiav.PixelFormat
	DestinationResolution() image.Point
	DestinationPixelFormat() astiav.PixelFormat
}
