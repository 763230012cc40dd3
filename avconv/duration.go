// duration.go provides utilities for converting between libav timestamps and seconds.

// Package avconv provides conversion utilities between libav and avblur values.
package avconv

import (
	"math"
	"time"

	"github.com/asticode/go-astiav"
)

const (
	// see https://ffmpeg.org/doxygen/trunk/group__lavu__time.html#ga2eaefe702f95f619ea6f2d08afa01be1
	avNoPTSValue = uint64(0x8000000000000000)
)

const (
	noDuration = time.Duration(math.MinInt64)

	// AV_TIME_BASE
	avTimeBase = 1_000_000
)

func init() {
	if avNoPTSValue != uint64(any(int64(math.MinInt64)).(int64)) { // to bypass the compiler check
		panic("avNoPTSValue changed")
	}
}

func Duration(t int64, timeBase astiav.Rational) time.Duration {
	if uint64(t) == avNoPTSValue {
		return noDuration
	}

	return time.Duration(float64(t) * timeBase.Float64() * float64(time.Second))
}

// ContainerDurationSeconds converts FormatContext.Duration (in AV_TIME_BASE
// units) into seconds; an unknown duration is 0.
func ContainerDurationSeconds(d int64) float64 {
	if d <= 0 || uint64(d) == avNoPTSValue {
		return 0
	}
	return float64(d) / avTimeBase
}

// StreamDurationSeconds returns the duration of the stream, or of the
// container if the stream does not know it.
func StreamDurationSeconds(fmtCtx *astiav.FormatContext, stream *astiav.Stream) float64 {
	if d := Duration(stream.Duration(), stream.TimeBase()); d != noDuration && d > 0 {
		return d.Seconds()
	}
	return ContainerDurationSeconds(fmtCtx.Duration())
}
