package indicator

import (
	"sync"

	indicators "github.com/lmpizarro/go_ehlers_indicators"
	"golang.org/x/exp/constraints"
)

// MAMA is the MESA adaptive moving average over a sliding window. Until the
// window is filled the plain mean is returned.
type MAMA[T constraints.Integer | constraints.Float] struct {
	FastLimit float64
	SlowLimit float64

	locker  sync.Mutex
	window  []float64
	ordered []float64
	next    int
	count   int
	sum     float64
}

var _ MovingAverage[float64] = (*MAMA[float64])(nil)

func NewMAMA[T constraints.Integer | constraints.Float](
	windowSize int,
	fastLimit float64,
	slowLimit float64,
) *MAMA[T] {
	if windowSize < 1 {
		windowSize = 1
	}
	return &MAMA[T]{
		FastLimit: fastLimit,
		SlowLimit: slowLimit,
		window:    make([]float64, windowSize),
		ordered:   make([]float64, windowSize),
	}
}

func (m *MAMA[T]) Update(v T) T {
	m.locker.Lock()
	defer m.locker.Unlock()

	m.sum += float64(v) - m.window[m.next]
	m.window[m.next] = float64(v)
	m.next = (m.next + 1) % len(m.window)
	if m.count < len(m.window) {
		m.count++
		return T(m.sum / float64(m.count))
	}

	copy(m.ordered, m.window[m.next:])
	copy(m.ordered[len(m.window)-m.next:], m.window[:m.next])
	result := indicators.MAMA(m.ordered, m.FastLimit, m.SlowLimit)
	return T(result[len(result)-1])
}

// Valid is true once the window is filled.
func (m *MAMA[T]) Valid() bool {
	m.locker.Lock()
	defer m.locker.Unlock()
	return m.count >= len(m.window)
}
