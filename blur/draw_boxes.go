package blur

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/xaionaro-go/avblur/model"
	"github.com/xaionaro-go/avblur/types"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var labelColors = []color.RGBA{
	{R: 0xff, G: 0x38, B: 0x38, A: 0xff},
	{R: 0x38, G: 0x8e, B: 0xff, A: 0xff},
	{R: 0x2c, G: 0xd1, B: 0x5b, A: 0xff},
	{R: 0xff, G: 0xb2, B: 0x1d, A: 0xff},
}

const boxLineWidth = 2

// DrawBoxes draws the outlines and "label score" captions of the boxes, for debugging.
func DrawBoxes(img *image.RGBA, m model.Model, boxes []types.Box) {
	face := basicfont.Face7x13
	for _, box := range boxes {
		c := labelColors[box.LabelIndex%len(labelColors)]
		r := box.Bounds().Add(img.Rect.Min)
		drawOutline(img, r, c)

		caption := fmt.Sprintf("%s %.2f", m.Label(box.LabelIndex), box.Confidence)
		textW := font.MeasureString(face, caption).Ceil()
		metrics := face.Metrics()
		textH := (metrics.Ascent + metrics.Descent).Ceil()
		bg := image.Rect(r.Min.X, r.Min.Y-textH, r.Min.X+textW+2, r.Min.Y)
		if bg.Min.Y < img.Rect.Min.Y {
			bg = bg.Add(image.Pt(0, r.Min.Y+textH-bg.Max.Y))
		}
		draw.Draw(img, bg.Intersect(img.Rect), image.NewUniform(c), image.Point{}, draw.Src)
		d := &font.Drawer{
			Dst:  img,
			Src:  image.White,
			Face: face,
			Dot:  fixed.P(bg.Min.X+1, bg.Min.Y+metrics.Ascent.Ceil()),
		}
		d.DrawString(caption)
	}
}

func drawOutline(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	u := image.NewUniform(c)
	for _, edge := range []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+boxLineWidth),
		image.Rect(r.Min.X, r.Max.Y-boxLineWidth, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+boxLineWidth, r.Max.Y),
		image.Rect(r.Max.X-boxLineWidth, r.Min.Y, r.Max.X, r.Max.Y),
	} {
		draw.Draw(img, edge.Intersect(img.Rect), u, image.Point{}, draw.Src)
	}
}
