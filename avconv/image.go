package avconv

import (
	"fmt"
	"image"

	"github.com/asticode/go-astiav"
)

// FrameToRGBA copies an RGBA libav frame into dst, which must have the frame's size.
func FrameToRGBA(frame *astiav.Frame, dst *image.RGBA) error {
	if frame.PixelFormat() != astiav.PixelFormatRgba {
		return fmt.Errorf("expected an RGBA frame, received %s", frame.PixelFormat())
	}
	if frame.Width() != dst.Rect.Dx() || frame.Height() != dst.Rect.Dy() {
		return fmt.Errorf("size mismatch: frame %dx%d, image %dx%d", frame.Width(), frame.Height(), dst.Rect.Dx(), dst.Rect.Dy())
	}
	if err := frame.Data().ToImage(dst); err != nil {
		return fmt.Errorf("unable to copy the frame data into the image: %w", err)
	}
	return nil
}

// RGBAToFrame allocates the RGBA frame buffer (if needed) and copies src into it.
func RGBAToFrame(src *image.RGBA, frame *astiav.Frame) error {
	size := src.Rect.Size()
	if frame.Width() != size.X || frame.Height() != size.Y || frame.PixelFormat() != astiav.PixelFormatRgba {
		frame.Unref()
		frame.SetWidth(size.X)
		frame.SetHeight(size.Y)
		frame.SetPixelFormat(astiav.PixelFormatRgba)
		if err := frame.AllocBuffer(0); err != nil {
			return fmt.Errorf("unable to allocate a %dx%d RGBA frame: %w", size.X, size.Y, err)
		}
	}
	if err := frame.MakeWritable(); err != nil {
		return fmt.Errorf("unable to make the frame writable: %w", err)
	}
	if err := frame.Data().FromImage(src); err != nil {
		return fmt.Errorf("unable to copy the image into the frame: %w", err)
	}
	return nil
}
