package types

import (
	"fmt"
	"image"
)

// FrameMeta is the video metadata plus the batch the frame belongs to.
type FrameMeta struct {
	Metadata
	Batch int
}

type Frame struct {
	Index int
	Image ImageHandle
	Meta  FrameMeta
}

func (f *Frame) String() string {
	return fmt.Sprintf("Frame(%d, batch %d)", f.Index, f.Meta.Batch)
}

// ImageHandle is an exclusively owned pixel buffer. Ownership is passed on
// with Move, which leaves the source handle empty.
type ImageHandle struct {
	img     *image.RGBA
	release func(*image.RGBA)
}

// NewImageHandle takes ownership of img; release (may be nil) is called
// once the buffer is not needed anymore.
func NewImageHandle(img *image.RGBA, release func(*image.RGBA)) ImageHandle {
	return ImageHandle{
		img:     img,
		release: release,
	}
}

func (h *ImageHandle) Move() ImageHandle {
	out := *h
	h.img = nil
	h.release = nil
	return out
}

// Image returns the buffer or nil if it was moved out or released.
func (h ImageHandle) Image() *image.RGBA {
	return h.img
}

func (h ImageHandle) IsEmpty() bool {
	return h.img == nil
}

func (h *ImageHandle) Release() {
	if h.img == nil {
		return
	}
	if h.release != nil {
		h.release(h.img)
	}
	h.img = nil
	h.release = nil
}
