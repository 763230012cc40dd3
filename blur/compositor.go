// compositor.go implements the feathered blurring of detected regions.

// Package blur obscures detected regions of frames with a feathered blur.
package blur

import (
	"image"
	"image/draw"
	"math"

	"github.com/anthonynsimon/bild/blur"
	"github.com/xaionaro-go/avblur/model"
	"github.com/xaionaro-go/avblur/types"
)

const (
	// the area sizes are rounded up to it to improve the mask cache hit rate
	blurMaskModulo = 5

	// detections closer than this to a frame border get their rounded corners hidden
	borderMargin = 10

	minStrength = 10
	maxStrength = 50
)

type Compositor struct {
	Masks *MaskCache
}

func New(maskCacheSize int) (*Compositor, error) {
	masks, err := NewMaskCache(maskCacheSize)
	if err != nil {
		return nil, err
	}
	return &Compositor{Masks: masks}, nil
}

// BlurBoxes destructively blurs the boxes on the image, using the per-label
// corner ratio of the model.
func (c *Compositor) BlurBoxes(img *image.RGBA, m model.Model, boxes []types.Box) {
	for _, box := range boxes {
		c.BlurArea(img, m.RoundCornerRatio(box.LabelIndex), box.XYWH)
	}
}

// area is the enlarged integer region blurred for a box.
type area struct {
	Rect     image.Rectangle
	Radius   int
	Feather  int
	Strength int
}

func (a area) MaskKey() MaskKey {
	return MaskKey{
		Width:   a.Rect.Dx(),
		Height:  a.Rect.Dy(),
		Radius:  a.Radius,
		Feather: a.Feather,
	}
}

func computeArea(frameSize image.Point, roundCornerRatio float64, xywh [4]float64) area {
	x, y, w, h := xywh[0], xywh[1], xywh[2], xywh[3]
	feather := int(math.Round(math.Max(3, math.Max(w, h)/12)))
	f := float64(feather)

	xi := int(math.Floor(x - f*2))
	yi := int(math.Floor(y - f*2))
	wi := int(math.Ceil(w + (x - float64(xi)) + f*2))
	hi := int(math.Ceil(h + (y - float64(yi)) + f*2))

	radius := int(math.Round(math.Min(w, h) / 2 * roundCornerRatio))
	if radius > 0 {
		if xi < borderMargin {
			xi -= radius
			wi += radius
		}
		if yi < borderMargin {
			yi -= radius
			hi += radius
		}
		if xi+wi > frameSize.X-borderMargin {
			wi += radius
		}
		if yi+hi > frameSize.Y-borderMargin {
			hi += radius
		}
	}

	wi = wi + blurMaskModulo - (wi % blurMaskModulo)
	hi = hi + blurMaskModulo - (hi % blurMaskModulo)

	strength := int(math.Round(float64(wi*hi) / 100))
	strength = max(minStrength, min(maxStrength, strength))

	return area{
		Rect:     image.Rect(xi, yi, xi+wi, yi+hi),
		Radius:   radius,
		Feather:  feather,
		Strength: strength,
	}
}

// BlurArea destructively blurs the area around xywh. The corner ratio goes
// from 0 (a rectangle) to 1 (an ellipse).
func (c *Compositor) BlurArea(img *image.RGBA, roundCornerRatio float64, xywh [4]float64) {
	a := computeArea(img.Rect.Size(), roundCornerRatio, xywh)
	origin := img.Rect.Min
	rect := a.Rect.Add(origin).Intersect(img.Rect)
	if rect.Empty() {
		return
	}
	mask := c.Masks.Get(a.MaskKey())

	plain := image.NewRGBA(image.Rectangle{Max: rect.Size()})
	draw.Draw(plain, plain.Rect, img, rect.Min, draw.Src)
	blurred := blur.Box(plain, float64(a.Strength))

	// offset of the visible part within the mask
	maskOff := rect.Min.Sub(a.Rect.Add(origin).Min)
	for y := 0; y < rect.Dy(); y++ {
		dst := img.Pix[img.PixOffset(rect.Min.X, rect.Min.Y+y):]
		src := blurred.Pix[blurred.PixOffset(0, y):]
		for x := 0; x < rect.Dx(); x++ {
			alpha := mask.At(maskOff.X+x, maskOff.Y+y)
			if alpha <= 0 {
				continue
			}
			i := x * types.BytesPerPixel
			for ch := 0; ch < 3; ch++ {
				dst[i+ch] = uint8(float32(src[i+ch])*alpha + float32(dst[i+ch])*(1-alpha) + 0.5)
			}
		}
	}
}

// FilterBoxes keeps the boxes whose labels are enabled.
func FilterBoxes(m model.Model, boxes []types.Box, enabledLabels map[string]bool) []types.Box {
	result := make([]types.Box, 0, len(boxes))
	for _, box := range boxes {
		if enabledLabels[m.Label(box.LabelIndex)] {
			result = append(result, box)
		}
	}
	return result
}
