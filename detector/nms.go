package detector

import (
	"math"
	"slices"

	"github.com/xaionaro-go/avblur/types"
)

// IoU is the intersection over union of two axis-aligned boxes.
func IoU(a, b types.Box) float64 {
	x1, y1, w1, h1 := a.XYWH[0], a.XYWH[1], a.XYWH[2], a.XYWH[3]
	x2, y2, w2, h2 := b.XYWH[0], b.XYWH[1], b.XYWH[2], b.XYWH[3]
	iw := math.Min(x1+w1, x2+w2) - math.Max(x1, x2)
	ih := math.Min(y1+h1, y2+h2) - math.Max(y1, y2)
	if iw <= 0 || ih <= 0 {
		return 0
	}
	intersection := iw * ih
	union := w1*h1 + w2*h2 - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

// NonMaxSuppression keeps only the most confident box among boxes which
// overlap by at least thresholdIoU. The result is ordered by confidence,
// descending. The input slice is not modified.
func NonMaxSuppression(boxes []types.Box, thresholdIoU float64) []types.Box {
	remaining := slices.Clone(boxes)
	slices.SortStableFunc(remaining, func(a, b types.Box) int {
		switch {
		case a.Confidence > b.Confidence:
			return -1
		case a.Confidence < b.Confidence:
			return 1
		}
		return 0
	})

	var result []types.Box
	for len(remaining) > 0 {
		best := remaining[0]
		result = append(result, best)
		kept := remaining[:0]
		for _, box := range remaining[1:] {
			if IoU(box, best) < thresholdIoU {
				kept = append(kept, box)
			}
		}
		remaining = kept
	}
	return result
}
