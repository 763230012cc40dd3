// encoder.go defines the segment encoder contract and its shared lifecycle.

// Package segmentencoder encodes RGBA frames into video segments aligned to key frames.
package segmentencoder

import (
	"context"
	"fmt"
	"image"

	"github.com/xaionaro-go/avblur/logger"
	"github.com/xaionaro-go/avblur/types"
	"github.com/xaionaro-go/xsync"
)

// Encoder turns frames into an ordered list of segment files (in the media
// tool's workspace) which may be concatenated into one stream.
type Encoder interface {
	fmt.Stringer

	// Encode adds the next frame; the image is not retained.
	Encode(ctx context.Context, img *image.RGBA) error

	// Flush finishes encoding and returns the ordered segment files.
	Flush(ctx context.Context) ([]string, error)

	// Destroy removes all the files and releases the resources. It is allowed after Flush.
	Destroy(ctx context.Context) error
}

type State int

const (
	StateIdle = State(iota)
	StateEncoding
	StateFlushed
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEncoding:
		return "encoding"
	case StateFlushed:
		return "flushed"
	case StateDestroyed:
		return "destroyed"
	}
	return fmt.Sprintf("unknown_%d", int(s))
}

// backend is the strategy-specific part of an encoder.
type backend interface {
	fmt.Stringer
	encode(ctx context.Context, img *image.RGBA) error
	flush(ctx context.Context) ([]string, error)
	destroy(ctx context.Context) error
}

// encoder enforces the Idle -> Encoding -> Flushed|Destroyed lifecycle
// on top of a backend.
type encoder struct {
	locker  xsync.Mutex
	state   State
	backend backend
}

var _ Encoder = (*encoder)(nil)

func newEncoder(b backend) *encoder {
	return &encoder{backend: b}
}

func (e *encoder) String() string {
	return e.backend.String()
}

func (e *encoder) State(ctx context.Context) State {
	return xsync.DoR1(ctx, &e.locker, func() State {
		return e.state
	})
}

func (e *encoder) Encode(
	ctx context.Context,
	img *image.RGBA,
) error {
	return xsync.DoA2R1(ctx, &e.locker, e.encodeLocked, ctx, img)
}

func (e *encoder) encodeLocked(
	ctx context.Context,
	img *image.RGBA,
) (_err error) {
	logger.Tracef(ctx, "Encode")
	defer func() { logger.Tracef(ctx, "/Encode: %v", _err) }()
	switch e.state {
	case StateIdle, StateEncoding:
	default:
		return fmt.Errorf("cannot encode more frames in state %s: %w", e.state, types.ErrInvalidState)
	}
	if img == nil {
		return fmt.Errorf("no image given")
	}
	e.state = StateEncoding
	if err := e.backend.encode(ctx, img); err != nil {
		return types.ErrEncodeFailed{Err: err}
	}
	return nil
}

func (e *encoder) Flush(ctx context.Context) ([]string, error) {
	return xsync.DoA1R2(ctx, &e.locker, e.flushLocked, ctx)
}

func (e *encoder) flushLocked(ctx context.Context) (_ret []string, _err error) {
	logger.Debugf(ctx, "Flush")
	defer func() { logger.Debugf(ctx, "/Flush: %v %v", _ret, _err) }()
	switch e.state {
	case StateIdle, StateEncoding:
	default:
		return nil, fmt.Errorf("cannot flush in state %s: %w", e.state, types.ErrInvalidState)
	}
	e.state = StateFlushed
	segments, err := e.backend.flush(ctx)
	if err != nil {
		return nil, types.ErrEncodeFailed{Err: err}
	}
	return segments, nil
}

func (e *encoder) Destroy(ctx context.Context) error {
	return xsync.DoA1R1(ctx, &e.locker, e.destroyLocked, ctx)
}

func (e *encoder) destroyLocked(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Destroy")
	defer func() { logger.Debugf(ctx, "/Destroy: %v", _err) }()
	if e.state == StateDestroyed {
		return nil
	}
	e.state = StateDestroyed
	return e.backend.destroy(ctx)
}
