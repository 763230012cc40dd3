package mediatool

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/xaionaro-go/avblur/logger"
	"github.com/xaionaro-go/xsync"
)

const (
	DefaultFFmpegPath = "ffmpeg"
)

// FFmpeg runs the ffmpeg binary inside a private temporary directory.
type FFmpeg struct {
	BinaryPath  string
	DefaultArgs []string

	dir string

	listenersLocker xsync.Mutex
	listeners       map[uint64]func(string)
	nextListenerID  uint64
}

var _ Tool = (*FFmpeg)(nil)

func NewFFmpeg(
	ctx context.Context,
	binaryPath string,
) (*FFmpeg, error) {
	if binaryPath == "" {
		binaryPath = DefaultFFmpegPath
	}
	dir, err := os.MkdirTemp("", "avblur-")
	if err != nil {
		return nil, fmt.Errorf("unable to create a workspace directory: %w", err)
	}
	logger.Debugf(ctx, "ffmpeg workspace: %s", dir)
	return &FFmpeg{
		BinaryPath:  binaryPath,
		DefaultArgs: []string{"-nostdin", "-y"},
		dir:         dir,
		listeners:   map[uint64]func(string){},
	}, nil
}

func (f *FFmpeg) String() string {
	return fmt.Sprintf("FFmpeg(%s @ %s)", f.BinaryPath, f.dir)
}

func (f *FFmpeg) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(f.dir, filepath.FromSlash(name))
}

func (f *FFmpeg) WriteFile(
	ctx context.Context,
	name string,
	r io.Reader,
) (_err error) {
	logger.Tracef(ctx, "WriteFile(%s)", name)
	defer func() { logger.Tracef(ctx, "/WriteFile(%s): %v", name, _err) }()
	file, err := os.Create(f.Path(name))
	if err != nil {
		return fmt.Errorf("unable to create '%s': %w", name, err)
	}
	n, err := io.Copy(file, r)
	if err != nil {
		file.Close()
		return fmt.Errorf("unable to write '%s': %w", name, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("unable to close '%s': %w", name, err)
	}
	logger.Debugf(ctx, "wrote %s into '%s'", humanize.Bytes(uint64(n)), name)
	return nil
}

func (f *FFmpeg) ReadFile(
	ctx context.Context,
	name string,
) ([]byte, error) {
	b, err := os.ReadFile(f.Path(name))
	if err != nil {
		return nil, fmt.Errorf("unable to read '%s': %w", name, err)
	}
	logger.Tracef(ctx, "read %s from '%s'", humanize.Bytes(uint64(len(b))), name)
	return b, nil
}

func (f *FFmpeg) DeleteFile(
	ctx context.Context,
	name string,
) error {
	logger.Tracef(ctx, "DeleteFile(%s)", name)
	if err := os.Remove(f.Path(name)); err != nil {
		return fmt.Errorf("unable to delete '%s': %w", name, err)
	}
	return nil
}

func (f *FFmpeg) CreateDir(
	ctx context.Context,
	name string,
) error {
	logger.Tracef(ctx, "CreateDir(%s)", name)
	if err := os.MkdirAll(f.Path(name), 0o755); err != nil {
		return fmt.Errorf("unable to create directory '%s': %w", name, err)
	}
	return nil
}

func (f *FFmpeg) ListDir(
	ctx context.Context,
	name string,
) ([]string, error) {
	entries, err := os.ReadDir(f.Path(name))
	if err != nil {
		return nil, fmt.Errorf("unable to list directory '%s': %w", name, err)
	}
	result := make([]string, 0, len(entries))
	for _, e := range entries {
		result = append(result, e.Name())
	}
	return result, nil
}

func (f *FFmpeg) DeleteDir(
	ctx context.Context,
	name string,
) error {
	logger.Tracef(ctx, "DeleteDir(%s)", name)
	if err := os.RemoveAll(f.Path(name)); err != nil {
		return fmt.Errorf("unable to delete directory '%s': %w", name, err)
	}
	return nil
}

func (f *FFmpeg) OnLog(listener func(line string)) func() {
	ctx := xsync.WithNoLogging(context.Background(), true)
	id := xsync.DoR1(ctx, &f.listenersLocker, func() uint64 {
		f.nextListenerID++
		f.listeners[f.nextListenerID] = listener
		return f.nextListenerID
	})
	return func() {
		f.listenersLocker.Do(ctx, func() {
			delete(f.listeners, id)
		})
	}
}

func (f *FFmpeg) emitLog(ctx context.Context, line string) {
	logger.Tracef(ctx, "ffmpeg | %s", line)
	listeners := xsync.DoR1(xsync.WithNoLogging(ctx, true), &f.listenersLocker, func() []func(string) {
		result := make([]func(string), 0, len(f.listeners))
		for _, l := range f.listeners {
			result = append(result, l)
		}
		return result
	})
	for _, l := range listeners {
		l(line)
	}
}

func (f *FFmpeg) Exec(
	ctx context.Context,
	args []string,
	opts ...ExecOption,
) (_err error) {
	cfg := ExecOptions(opts).Config()
	fullArgs := append(append([]string{}, f.DefaultArgs...), args...)
	logger.Debugf(ctx, "running: %s '%s'", f.BinaryPath, strings.Join(fullArgs, "' '"))
	defer func() { logger.Debugf(ctx, "/running: %s: %v", f.BinaryPath, _err) }()

	cmd := exec.CommandContext(ctx, f.BinaryPath, fullArgs...)
	cmd.Dir = f.dir
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("unable to get the stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("unable to start '%s': %w", f.BinaryPath, err)
	}

	progress := &progressTracker{callback: cfg.Progress}
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(scanLogLines)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		f.emitLog(ctx, line)
		progress.onLine(line)
	}
	if err := scanner.Err(); err != nil {
		logger.Warnf(ctx, "unable to read the log of '%s': %v", f.BinaryPath, err)
		_, _ = io.Copy(io.Discard, stderr)
	}

	err = cmd.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return ErrExitCode{Code: exitErr.ExitCode()}
	}
	if err != nil {
		return fmt.Errorf("unable to wait for '%s': %w", f.BinaryPath, err)
	}
	progress.finish()
	return nil
}

// scanLogLines splits on '\n' and on '\r' (used by ffmpeg for progress lines).
func scanLogLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func (f *FFmpeg) Close(ctx context.Context) error {
	logger.Debugf(ctx, "removing the workspace %s", f.dir)
	if err := os.RemoveAll(f.dir); err != nil {
		return fmt.Errorf("unable to remove the workspace '%s': %w", f.dir, err)
	}
	return nil
}
