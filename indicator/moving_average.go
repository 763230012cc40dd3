// moving_average.go defines the smoothing of noisy per-frame measurements.

// Package indicator smooths per-frame measurements of a run.
package indicator

import (
	"golang.org/x/exp/constraints"
)

type MovingAverage[T constraints.Integer | constraints.Float] interface {
	Update(v T) T
	Valid() bool
}
