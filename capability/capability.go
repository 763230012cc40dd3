// capability.go implements the probe-then-commit selection of backends.

// Package capability selects the first working backend among ordered candidates.
package capability

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/xaionaro-go/avblur/logger"
	"github.com/xaionaro-go/avblur/types"
)

// Candidate is a backend which may be unavailable on the current machine.
type Candidate[T any] struct {
	Name string
	Open func(ctx context.Context) (T, error)
}

// FirstSupported opens the candidates in order and returns the first one
// which opened successfully.
func FirstSupported[T any](
	ctx context.Context,
	candidates ...Candidate[T],
) (_ret T, _name string, _err error) {
	logger.Tracef(ctx, "FirstSupported")
	defer func() { logger.Tracef(ctx, "/FirstSupported: %s %v", _name, _err) }()

	var errs []error
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return _ret, "", err
		}
		v, err := c.Open(ctx)
		if err == nil {
			logger.Debugf(ctx, "using '%s'", c.Name)
			return v, c.Name, nil
		}
		logger.Debugf(ctx, "'%s' is unavailable: %v", c.Name, err)
		errs = append(errs, fmt.Errorf("%s: %w", c.Name, err))
	}
	return _ret, "", errors.Join(append([]error{types.ErrCapabilityUnavailable}, errs...)...)
}

// Sequence is a lazy source of values which may turn out to be unsupported.
type Sequence[V any] struct {
	Name string
	Seq  iter.Seq2[V, error]
}

// FirstYielding commits to the first sequence that yields at least one
// value; later sequences are never started after that. A sequence which
// ends (or fails) before yielding anything is skipped. Errors of the last
// sequence are passed through as is.
func FirstYielding[V any](
	ctx context.Context,
	seqs ...Sequence[V],
) iter.Seq2[V, error] {
	return func(yield func(V, error) bool) {
		for idx, s := range seqs {
			isLast := idx == len(seqs)-1
			committed := false
			var skipErr error
			for v, err := range s.Seq {
				if !committed && err != nil && !isLast {
					skipErr = err
					break
				}
				if !committed {
					logger.Debugf(ctx, "committed to '%s'", s.Name)
					committed = true
				}
				if !yield(v, err) {
					return
				}
			}
			if committed {
				return
			}
			logger.Debugf(ctx, "'%s' yielded nothing (err: %v), trying the next one", s.Name, skipErr)
			if err := ctx.Err(); err != nil {
				var zero V
				yield(zero, err)
				return
			}
		}
	}
}
