package avconv

import (
	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/avblur/types"
)

func RationalFromAstiav(r astiav.Rational) types.Rational {
	return types.Rational{Num: int64(r.Num()), Den: int64(r.Den())}
}

func RationalToAstiav(r types.Rational) astiav.Rational {
	return astiav.NewRational(int(r.Num), int(r.Den))
}
