package indicator

import (
	"time"
)

const DefaultETAWindow = 30

// ETA estimates the remaining time of a run from the smoothed duration of
// one frame.
type ETA struct {
	average     MovingAverage[float64]
	lastUpdate  time.Time
	perFrameSec float64
	now         func() time.Time
}

func NewETA(windowSize int) *ETA {
	return &ETA{
		average: NewMAMA[float64](windowSize, 0.5, 0.05),
		now:     time.Now,
	}
}

// FrameDone records that one more frame is processed.
func (e *ETA) FrameDone() {
	now := e.now()
	if !e.lastUpdate.IsZero() {
		e.perFrameSec = e.average.Update(now.Sub(e.lastUpdate).Seconds())
	}
	e.lastUpdate = now
}

// Remaining returns the estimated time to process framesLeft more frames,
// or zero if nothing was measured yet.
func (e *ETA) Remaining(framesLeft int) time.Duration {
	if framesLeft <= 0 || e.perFrameSec <= 0 {
		return 0
	}
	return time.Duration(e.perFrameSec * float64(framesLeft) * float64(time.Second))
}
