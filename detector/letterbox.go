package detector

import (
	"image"
	"image/draw"
	"math"

	"github.com/anthonynsimon/bild/parallel"
	"github.com/anthonynsimon/bild/transform"
	"github.com/xaionaro-go/avblur/types"
)

const modelChannels = 3

// letterbox maps the source frame into the model input and back.
type letterbox struct {
	Scale float64
	Left  int
	Top   int
	Size  image.Point
}

func newLetterbox(src image.Point, modelW, modelH int) letterbox {
	scale := math.Min(float64(modelW)/float64(src.X), float64(modelH)/float64(src.Y))
	w := max(1, int(math.Round(float64(src.X)*scale)))
	h := max(1, int(math.Round(float64(src.Y)*scale)))
	return letterbox{
		Scale: scale,
		Left:  int(math.Round(float64(modelW-w) / 2)),
		Top:   int(math.Round(float64(modelH-h) / 2)),
		Size:  image.Pt(w, h),
	}
}

// ToSource converts a center-based model-space box into a top-left based source-space one.
func (l letterbox) ToSource(xCenter, yCenter, w, h float64) [4]float64 {
	return [4]float64{
		(xCenter - 0.5*w - float64(l.Left)) / l.Scale,
		(yCenter - 0.5*h - float64(l.Top)) / l.Scale,
		w / l.Scale,
		h / l.Scale,
	}
}

// tensorizer converts RGBA frames into planar [0,1] model inputs, reusing its buffers.
type tensorizer struct {
	width, height  int
	useParallelism bool
	canvas         *image.RGBA
	data           []float32
}

func newTensorizer(width, height int, useParallelism bool) *tensorizer {
	return &tensorizer{
		width:          width,
		height:         height,
		useParallelism: useParallelism,
		canvas:         image.NewRGBA(image.Rect(0, 0, width, height)),
		data:           make([]float32, modelChannels*width*height),
	}
}

func (t *tensorizer) Tensor(img *image.RGBA) (Tensor, letterbox) {
	lb := newLetterbox(img.Rect.Size(), t.width, t.height)
	draw.Draw(t.canvas, t.canvas.Rect, image.Black, image.Point{}, draw.Src)
	resized := transform.Resize(img, lb.Size.X, lb.Size.Y, transform.Linear)
	draw.Draw(t.canvas, image.Rectangle{Min: image.Pt(lb.Left, lb.Top), Max: image.Pt(lb.Left, lb.Top).Add(lb.Size)}, resized, image.Point{}, draw.Src)

	planeSize := t.width * t.height
	convertRows := func(start, end int) {
		for y := start; y < end; y++ {
			row := t.canvas.Pix[y*t.canvas.Stride:]
			for x := 0; x < t.width; x++ {
				idx := y*t.width + x
				for c := 0; c < modelChannels; c++ {
					t.data[c*planeSize+idx] = float32(row[x*types.BytesPerPixel+c]) / 255
				}
			}
		}
	}
	if t.useParallelism {
		parallel.Line(t.height, convertRows)
	} else {
		convertRows(0, t.height)
	}

	return Tensor{
		Data:  t.data,
		Shape: [4]int{1, modelChannels, t.height, t.width},
	}, lb
}
