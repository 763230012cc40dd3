package detector

import (
	"github.com/xaionaro-go/avblur/model"
	"github.com/xaionaro-go/avblur/types"
)

// decodeCandidates filters the raw model rows by objectness and class
// confidence and maps them into the source frame coordinates.
func decodeCandidates(out Output, m model.Model, lb letterbox) []types.Box {
	var boxes []types.Box
	for idx := 0; idx < out.Count; idx++ {
		row := out.Row(idx)
		if len(row) < 6 {
			continue
		}
		objectness := float64(row[4])
		if objectness < m.ThresholdConf {
			continue
		}
		classScores := row[5:]
		best := 0
		for i := 1; i < len(classScores); i++ {
			if classScores[i] > classScores[best] {
				best = i
			}
		}
		confidence := float64(classScores[best]) * objectness
		if confidence < m.ThresholdClass {
			continue
		}
		boxes = append(boxes, types.Box{
			LabelIndex: best,
			Confidence: confidence,
			XYWH:       lb.ToSource(float64(row[0]), float64(row[1]), float64(row[2]), float64(row[3])),
		})
	}
	return boxes
}
