// mediatool.go defines the contract of an external media tool working on a private file workspace.

// Package mediatool runs an external media tool (ffmpeg) against a private
// file workspace.
package mediatool

import (
	"context"
	"fmt"
	"io"
)

// Tool is a media tool with its own file workspace. All file names are
// relative to the workspace.
type Tool interface {
	fmt.Stringer

	WriteFile(ctx context.Context, name string, r io.Reader) error
	ReadFile(ctx context.Context, name string) ([]byte, error)
	DeleteFile(ctx context.Context, name string) error
	CreateDir(ctx context.Context, name string) error
	ListDir(ctx context.Context, name string) ([]string, error)
	DeleteDir(ctx context.Context, name string) error

	// Path returns the real path of a workspace file, for in-process codecs.
	Path(name string) string

	// Exec blocks until the subprocess exits. A non-zero exit code is
	// reported as ErrExitCode.
	Exec(ctx context.Context, args []string, opts ...ExecOption) error

	// OnLog registers a log listener; the returned function unregisters it.
	OnLog(listener func(line string)) (remove func())

	Close(ctx context.Context) error
}

type ErrExitCode struct {
	Code int
}

func (e ErrExitCode) Error() string {
	return fmt.Sprintf("exited with code=%d", e.Code)
}

// ProgressFunc receives the progress of an Exec in range [0, 1].
type ProgressFunc func(ratio float64)

type ExecOption interface {
	apply(*ExecConfig)
}

type ExecOptions []ExecOption

func (s ExecOptions) Config() ExecConfig {
	cfg := ExecConfig{}
	for _, opt := range s {
		opt.apply(&cfg)
	}
	return cfg
}

type ExecConfig struct {
	Progress ProgressFunc
}

type ExecOptionProgress ProgressFunc

func (opt ExecOptionProgress) apply(cfg *ExecConfig) {
	cfg.Progress = ProgressFunc(opt)
}

// WithProgress reports progress parsed from the tool's log.
func WithProgress(fn ProgressFunc) ExecOption {
	return ExecOptionProgress(fn)
}
