// Package internal contains helpers private to avblur.
package internal

import (
	"context"
	"runtime"

	"github.com/xaionaro-go/avblur/logger"
)

// SetFinalizerFree frees libav objects which were not released explicitly
// (e.g. the consumer of a frame sequence never finished ranging over it).
func SetFinalizerFree[T interface{ Free() }](
	ctx context.Context,
	freer T,
) {
	runtime.SetFinalizer(freer, func(freer T) {
		logger.Debugf(ctx, "freeing %T", freer)
		freer.Free()
	})
}

// ClearFinalizer is used when the object was freed explicitly.
func ClearFinalizer[T any](obj T) {
	runtime.SetFinalizer(obj, nil)
}
