package types

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMetadataPromise(t *testing.T) {
	t.Parallel()

	p := NewMetadataPromise()
	_, ok := p.Peek()
	require.False(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := p.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	first := NewMetadata(640, 480, "yuv420p", Rational{Num: 30000, Den: 1001}, 1.5)
	require.True(t, p.Resolve(first))
	require.False(t, p.Resolve(NewMetadata(1, 1, "rgba", Rational{Num: 1, Den: 1}, 1)))

	got, err := p.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, first, got)
	require.Equal(t, "30000/1001", got.FPSRatio)
}

func TestFramesPerBatch(t *testing.T) {
	t.Parallel()

	m := Metadata{FPS: 5}
	require.Equal(t, 10, m.FramesPerBatch(2))
	require.Equal(t, 1, m.FramesPerBatch(0.01))

	m.FPS = 29.97
	require.Equal(t, 60, m.FramesPerBatch(2))
}

func TestImageHandleMove(t *testing.T) {
	t.Parallel()

	released := 0
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	h := NewImageHandle(img, func(*image.RGBA) { released++ })

	moved := h.Move()
	require.True(t, h.IsEmpty())
	require.Same(t, img, moved.Image())

	h.Release()
	require.Zero(t, released)

	moved.Release()
	moved.Release()
	require.Equal(t, 1, released)
	require.Nil(t, moved.Image())
}

func TestErrCancelledIsContextCanceled(t *testing.T) {
	t.Parallel()

	err := error(ErrCancelled{Reason: "user abort"})
	require.True(t, errors.Is(err, context.Canceled))
	require.Contains(t, err.Error(), "user abort")
}

func TestHardwareDeviceTypeFromString(t *testing.T) {
	t.Parallel()

	v, err := HardwareDeviceTypeFromString(" CUDA ")
	require.NoError(t, err)
	require.Equal(t, HardwareDeviceTypeCUDA, v)

	v, err = HardwareDeviceTypeFromString("")
	require.NoError(t, err)
	require.Equal(t, HardwareDeviceTypeNone, v)

	_, err = HardwareDeviceTypeFromString("quantum")
	require.Error(t, err)
}
