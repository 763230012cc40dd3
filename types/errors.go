package types

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCapabilityUnavailable means a backend probe failed; callers fall back.
	ErrCapabilityUnavailable = errors.New("capability unavailable")
	ErrConfigurationInvalid  = errors.New("invalid configuration")
	ErrInvalidState          = errors.New("invalid state")
	ErrMovedOut              = errors.New("the image was moved out")
)

type ErrModelInitFailed struct {
	Providers []string
	Err       error
}

func (e ErrModelInitFailed) Error() string {
	return fmt.Sprintf("model initialization failed on all providers (%s) with error(s): %v", strings.Join(e.Providers, ", "), e.Err)
}

func (e ErrModelInitFailed) Unwrap() error {
	return e.Err
}

// ErrCancelled is returned after a stop/abort. It matches context.Canceled.
type ErrCancelled struct {
	Reason string
}

func (e ErrCancelled) Error() string {
	if e.Reason == "" {
		return "cancelled: no reason given"
	}
	return fmt.Sprintf("cancelled: %s", e.Reason)
}

func (e ErrCancelled) Is(target error) bool {
	return target == context.Canceled
}

type ErrDecodeFailed struct {
	Err error
}

func (e ErrDecodeFailed) Error() string {
	return fmt.Sprintf("decoding failed: %v", e.Err)
}

func (e ErrDecodeFailed) Unwrap() error {
	return e.Err
}

type ErrEncodeFailed struct {
	Err error
}

func (e ErrEncodeFailed) Error() string {
	return fmt.Sprintf("encoding failed: %v", e.Err)
}

func (e ErrEncodeFailed) Unwrap() error {
	return e.Err
}

type ErrCacheCorrupt struct {
	Err error
}

func (e ErrCacheCorrupt) Error() string {
	return fmt.Sprintf("the persisted detection cache is corrupt: %v", e.Err)
}

func (e ErrCacheCorrupt) Unwrap() error {
	return e.Err
}
