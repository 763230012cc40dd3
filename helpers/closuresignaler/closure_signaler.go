// closure_signaler.go provides a close-once signal carrying the reason of the closure.

// Package closuresignaler provides a utility for signaling the closure of a resource.
package closuresignaler

import (
	"context"
	"sync"

	"github.com/xaionaro-go/avblur/logger"
)

type ClosureSignaler struct {
	closeOnce sync.Once
	c         chan struct{}
	reason    error
}

func New() *ClosureSignaler {
	return &ClosureSignaler{
		c: make(chan struct{}),
	}
}

func (c *ClosureSignaler) CloseChan() <-chan struct{} {
	return c.c
}

// Close closes the signal; only the reason of the first call is kept.
// It returns true if this call closed the signal.
func (c *ClosureSignaler) Close(ctx context.Context, reason error) bool {
	logger.Debugf(ctx, "Close: %v", reason)
	defer func() { logger.Debugf(ctx, "/Close: %v", reason) }()
	closed := false
	c.closeOnce.Do(func() {
		c.reason = reason
		close(c.c)
		closed = true
	})
	return closed
}

func (c *ClosureSignaler) IsClosed() bool {
	select {
	case <-c.c:
		return true
	default:
		return false
	}
}

// Reason returns the reason given to the first Close, or nil if not closed.
func (c *ClosureSignaler) Reason() error {
	if !c.IsClosed() {
		return nil
	}
	return c.reason
}
