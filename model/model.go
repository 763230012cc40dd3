// model.go defines the detection model specification and the built-in catalog.

// Package model describes the object detection models and loads their weights.
package model

import (
	"fmt"

	"github.com/xaionaro-go/avblur/types"
)

// Model is the static description of an object detection model.
type Model struct {
	// Name is the base file name of the weights, without the ".onnx" suffix.
	Name string `yaml:"name"`

	// Parts is the amount of file segments the weights are split into; 0 means a single file.
	Parts int `yaml:"parts"`

	Description string `yaml:"description"`

	// Width and Height are the input resolution expected by the model.
	Width  int `yaml:"width"`
	Height int `yaml:"height"`

	Labels []string `yaml:"labels"`

	// RoundCornerRatios are per-label blur corner ratios in [0, 1].
	RoundCornerRatios []float64 `yaml:"roundCornerRatios"`

	// ThresholdIoU: two boxes with a larger intersection over union are the same object.
	ThresholdIoU float64 `yaml:"thresholdIoU"`

	// ThresholdConf is the minimal objectness of a candidate.
	ThresholdConf float64 `yaml:"thresholdConf"`

	// ThresholdClass is the minimal class-specific confidence of a candidate.
	ThresholdClass float64 `yaml:"thresholdClass"`
}

func (m Model) String() string {
	return fmt.Sprintf("%s (%s, %dx%d)", m.Name, m.Description, m.Width, m.Height)
}

func (m Model) Validate() error {
	if err := m.validate(); err != nil {
		return fmt.Errorf("%w: model '%s': %w", types.ErrConfigurationInvalid, m.Name, err)
	}
	return nil
}

func (m Model) validate() error {
	switch {
	case m.Name == "":
		return fmt.Errorf("the model name is empty")
	case m.Width <= 0 || m.Height <= 0:
		return fmt.Errorf("invalid model input size %dx%d", m.Width, m.Height)
	case len(m.Labels) == 0:
		return fmt.Errorf("the model has no labels")
	case len(m.RoundCornerRatios) != len(m.Labels):
		return fmt.Errorf("expected %d corner ratios, got %d", len(m.Labels), len(m.RoundCornerRatios))
	case m.Parts < 0:
		return fmt.Errorf("negative amount of parts: %d", m.Parts)
	}
	return nil
}

// Label returns the name of the label or "unknown".
func (m Model) Label(idx int) string {
	if idx < 0 || idx >= len(m.Labels) {
		return "unknown"
	}
	return m.Labels[idx]
}

// LabelIndex returns the index of the label or -1.
func (m Model) LabelIndex(label string) int {
	for idx, l := range m.Labels {
		if l == label {
			return idx
		}
	}
	return -1
}

// RoundCornerRatio returns the corner ratio of the label, 0 if unknown.
func (m Model) RoundCornerRatio(labelIdx int) float64 {
	if labelIdx < 0 || labelIdx >= len(m.RoundCornerRatios) {
		return 0
	}
	return m.RoundCornerRatios[labelIdx]
}

func shared(name string, parts int, description string) Model {
	return Model{
		Name:              name,
		Parts:             parts,
		Description:       description,
		Width:             1280,
		Height:            736,
		Labels:            []string{"plate", "person"},
		RoundCornerRatios: []float64{0.95, 0.8},
		ThresholdIoU:      0.45,
		ThresholdConf:     0.1,
		ThresholdClass:    0.1,
	}
}

// Models is the built-in catalog, from the smallest to the largest.
var Models = []Model{
	shared("detect_n_2024_04", 0, "XS"),
	shared("detect_s_2024_04", 0, "S"),
	shared("detect_m_2024_04", 2, "M"),
	shared("detect_l_2024_04", 5, "L"),
	shared("detect_x_2024_04", 9, "XL"),
}

const DefaultModelName = "detect_s_2024_04"

func ByName(name string) (Model, error) {
	for _, m := range Models {
		if m.Name == name {
			return m, nil
		}
	}
	return Model{}, fmt.Errorf("%w: unknown model '%s'", types.ErrConfigurationInvalid, name)
}
