package pool

import (
	"image"
)

// RGBA pools frame buffers of a single resolution. Buffers of a different
// resolution are dropped on Put.
type RGBA struct {
	*Pool[image.RGBA]
	Width  int
	Height int
}

func NewRGBA(width, height int) *RGBA {
	return &RGBA{
		Pool: NewPool(
			func() *image.RGBA {
				return image.NewRGBA(image.Rect(0, 0, width, height))
			},
			nil,
		),
		Width:  width,
		Height: height,
	}
}

func (p *RGBA) Put(img *image.RGBA) {
	if img == nil || img.Rect.Dx() != p.Width || img.Rect.Dy() != p.Height {
		return
	}
	p.Pool.Put(img)
}
