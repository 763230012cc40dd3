package types

import (
	"fmt"
	"image"
	"math"
)

// Box is a detection in source-frame pixel coordinates (top-left origin).
// Confidence is class-specific, not objectness.
type Box struct {
	LabelIndex int        `json:"labelIndex"`
	Confidence float64    `json:"confidence"`
	XYWH       [4]float64 `json:"xywh"`
}

func NewBox(labelIndex int, confidence, x, y, w, h float64) Box {
	return Box{
		LabelIndex: labelIndex,
		Confidence: confidence,
		XYWH:       [4]float64{x, y, w, h},
	}
}

func (b Box) Area() float64 {
	return b.XYWH[2] * b.XYWH[3]
}

// Bounds is the smallest integer rectangle containing the box.
func (b Box) Bounds() image.Rectangle {
	x, y, w, h := b.XYWH[0], b.XYWH[1], b.XYWH[2], b.XYWH[3]
	return image.Rect(
		int(math.Floor(x)), int(math.Floor(y)),
		int(math.Ceil(x+w)), int(math.Ceil(y+h)),
	)
}

func (b Box) String() string {
	return fmt.Sprintf("Box(label:%d, conf:%.3f, %.1f,%.1f %.1fx%.1f)", b.LabelIndex, b.Confidence, b.XYWH[0], b.XYWH[1], b.XYWH[2], b.XYWH[3])
}
