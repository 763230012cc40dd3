package blur

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/anthonynsimon/bild/blur"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/atomic"
)

const DefaultMaskCacheSize = 100

type MaskKey struct {
	Width   int
	Height  int
	Radius  int
	Feather int
}

func (k MaskKey) String() string {
	return fmt.Sprintf("%d-%d-%d-%d", k.Width, k.Height, k.Radius, k.Feather)
}

// Mask is the per-pixel blending weight of the blurred image, in [0, 1].
type Mask struct {
	Width  int
	Height int
	Alpha  []float32
}

func (m *Mask) At(x, y int) float32 {
	return m.Alpha[y*m.Width+x]
}

// MaskCache is a fixed-capacity LRU of masks.
type MaskCache struct {
	cache    *lru.Cache[MaskKey, *Mask]
	computed atomic.Uint64
}

func NewMaskCache(size int) (*MaskCache, error) {
	if size <= 0 {
		return nil, fmt.Errorf("the mask cache size must be positive, got %d", size)
	}
	cache, err := lru.New[MaskKey, *Mask](size)
	if err != nil {
		return nil, fmt.Errorf("unable to create the mask cache: %w", err)
	}
	return &MaskCache{cache: cache}, nil
}

// Get returns the cached mask or synthesizes (and caches) a new one.
func (c *MaskCache) Get(key MaskKey) *Mask {
	if m, ok := c.cache.Get(key); ok {
		return m
	}
	m := NewMask(key)
	c.computed.Inc()
	c.cache.Add(key, m)
	return m
}

func (c *MaskCache) Contains(key MaskKey) bool {
	return c.cache.Contains(key)
}

func (c *MaskCache) Len() int {
	return c.cache.Len()
}

// Computed is the amount of masks synthesized so far.
func (c *MaskCache) Computed() uint64 {
	return c.computed.Load()
}

// NewMask draws a white rounded rectangle inset by the feather and blurs it by feather/2.
func NewMask(key MaskKey) *Mask {
	w, h := key.Width, key.Height
	shape := image.NewGray(image.Rect(0, 0, w, h))
	inner := image.Rect(key.Feather, key.Feather, w-key.Feather, h-key.Feather)
	radius := float64(key.Radius)
	if maxR := float64(min(inner.Dx(), inner.Dy())) / 2; radius > maxR {
		radius = math.Max(0, maxR)
	}
	for y := inner.Min.Y; y < inner.Max.Y; y++ {
		for x := inner.Min.X; x < inner.Max.X; x++ {
			if insideRoundedRect(float64(x)+0.5, float64(y)+0.5, inner, radius) {
				shape.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}

	var src image.Image = shape
	if sigma := float64(key.Feather) / 2; sigma > 0 {
		src = blur.Gaussian(shape, sigma)
	}

	mask := &Mask{
		Width:  w,
		Height: h,
		Alpha:  make([]float32, w*h),
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, _, _, _ := src.At(x, y).RGBA()
			mask.Alpha[y*w+x] = float32(r) / 0xffff
		}
	}
	return mask
}

func insideRoundedRect(px, py float64, r image.Rectangle, radius float64) bool {
	minX, minY := float64(r.Min.X), float64(r.Min.Y)
	maxX, maxY := float64(r.Max.X), float64(r.Max.Y)
	if px < minX || px > maxX || py < minY || py > maxY {
		return false
	}
	if radius <= 0 {
		return true
	}
	cx := math.Max(minX+radius, math.Min(px, maxX-radius))
	cy := math.Max(minY+radius, math.Min(py, maxY-radius))
	dx, dy := px-cx, py-cy
	return dx*dx+dy*dy <= radius*radius
}
