package mediatool

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTimestamps(t *testing.T) {
	t.Parallel()

	d, ok := ParseDuration("  Duration: 00:01:02.50, start: 0.000000, bitrate: 1205 kb/s")
	require.True(t, ok)
	require.InDelta(t, 62.5, d, 1e-9)

	tm, ok := ParseTime("frame=   10 fps=0.0 q=-0.0 size=N/A time=00:00:31.25 bitrate=N/A speed=62x")
	require.True(t, ok)
	require.InDelta(t, 31.25, tm, 1e-9)

	_, ok = ParseTime("Stream #0:0: Video: h264")
	require.False(t, ok)
}

func TestProgressTracker(t *testing.T) {
	t.Parallel()

	var got []float64
	p := &progressTracker{callback: func(r float64) { got = append(got, r) }}
	p.onLine("time=00:00:01.00")
	p.onLine("Duration: 00:00:10.00, start: 0")
	p.onLine("time=00:00:05.00")
	p.onLine("time=00:00:20.00")
	p.finish()
	require.Equal(t, []float64{0.5, 1}, got)
}

func TestScanLogLines(t *testing.T) {
	t.Parallel()

	var lines []string
	adv, tok, err := scanLogLines([]byte("a\rb\nc"), false)
	require.NoError(t, err)
	require.Equal(t, 2, adv)
	lines = append(lines, string(tok))
	_, tok, _ = scanLogLines([]byte("c"), true)
	lines = append(lines, string(tok))
	require.Equal(t, []string{"a", "c"}, lines)
}

func TestFFmpegWorkspace(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f, err := NewFFmpeg(ctx, "")
	require.NoError(t, err)
	defer f.Close(ctx)

	require.NoError(t, f.CreateDir(ctx, "sub"))
	require.NoError(t, f.WriteFile(ctx, "sub/a.raw", bytes.NewReader([]byte{1, 2, 3})))
	names, err := f.ListDir(ctx, "sub")
	require.NoError(t, err)
	require.Equal(t, []string{"a.raw"}, names)

	b, err := f.ReadFile(ctx, "sub/a.raw")
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, b)

	require.NoError(t, f.DeleteFile(ctx, "sub/a.raw"))
	_, err = f.ReadFile(ctx, "sub/a.raw")
	require.Error(t, err)
	require.NoError(t, f.DeleteDir(ctx, "sub"))
}

func TestFFmpegExec(t *testing.T) {
	t.Parallel()
	shPath, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("no shell available")
	}
	ctx := context.Background()

	f, err := NewFFmpeg(ctx, shPath)
	require.NoError(t, err)
	defer f.Close(ctx)
	f.DefaultArgs = nil

	var (
		mu    sync.Mutex
		lines []string
	)
	remove := f.OnLog(func(line string) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, line)
	})

	var progress []float64
	err = f.Exec(ctx, []string{"-c", `echo "Duration: 00:00:04.00, start: 0" >&2; printf 'time=00:00:01.00\r' >&2; echo done > out.txt`},
		WithProgress(func(r float64) { progress = append(progress, r) }))
	require.NoError(t, err)
	require.Equal(t, []float64{0.25, 1}, progress)

	b, err := f.ReadFile(ctx, "out.txt")
	require.NoError(t, err)
	require.Equal(t, "done", strings.TrimSpace(string(b)))

	remove()
	err = f.Exec(ctx, []string{"-c", "echo failing >&2; exit 3"})
	require.Equal(t, ErrExitCode{Code: 3}, err)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"Duration: 00:00:04.00, start: 0", "time=00:00:01.00"}, lines)
}
