package types

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// Rational is an exact ratio, used for frame rates like 30000/1001.
type Rational struct {
	Num int64
	Den int64
}

func (r Rational) Reverse() Rational {
	return Rational{
		Num: r.Den,
		Den: r.Num,
	}
}

// RationalFromFloat64 returns the exact decimal fraction of fps (0.25 -> 1/4),
// snapping to the 1001-denominator family when fps is within 0.01 of it.
func RationalFromFloat64(fps float64) Rational {
	if float64(int64(fps)) == fps {
		return Rational{Num: int64(fps), Den: 1}
	}
	if ntsc := math.Ceil(fps) * 1000 / 1001; math.Abs(fps-ntsc) < 1e-2 {
		return Rational{Num: int64(math.Ceil(fps)) * 1000, Den: 1001}
	}
	rat, ok := new(big.Rat).SetString(strconv.FormatFloat(fps, 'f', -1, 64))
	if !ok || !rat.Num().IsInt64() || !rat.Denom().IsInt64() {
		return Rational{Num: int64(math.Round(fps * 1000)), Den: 1000}
	}
	return Rational{
		Num: rat.Num().Int64(),
		Den: rat.Denom().Int64(),
	}
}

// RationalFromString parses "N/D" or a decimal like "29.97".
func RationalFromString(s string) (*Rational, error) {
	var r Rational
	switch {
	case len(s) == 0:
		return nil, fmt.Errorf("unable to parse a frame rate from an empty string")
	case strings.Contains(s, "/"):
		num, den, _ := strings.Cut(s, "/")
		var err error
		if r.Num, err = strconv.ParseInt(num, 10, 64); err != nil {
			return nil, fmt.Errorf("unable to parse the numerator of %q: %w", s, err)
		}
		if r.Den, err = strconv.ParseInt(den, 10, 64); err != nil {
			return nil, fmt.Errorf("unable to parse the denominator of %q: %w", s, err)
		}
	default:
		fps, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("unable to parse a frame rate from %q: %w", s, err)
		}
		r = RationalFromFloat64(fps)
	}
	if r.Den == 0 {
		return nil, fmt.Errorf("denominator cannot be zero in %q", s)
	}
	return &r, nil
}

func (r Rational) Float64() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

func (r Rational) IsZero() bool {
	return r.Num == 0 || r.Den == 0
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}
