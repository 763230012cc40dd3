package pool

import (
	"image"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRGBA(t *testing.T) {
	t.Parallel()

	p := NewRGBA(4, 3)
	img := p.Get()
	require.Equal(t, image.Rect(0, 0, 4, 3), img.Rect)
	require.Len(t, img.Pix, 4*3*4)

	p.Put(image.NewRGBA(image.Rect(0, 0, 2, 2)))
	p.Put(nil)
	p.Put(img)

	for range 10 {
		got := p.Get()
		require.Equal(t, image.Rect(0, 0, 4, 3), got.Rect)
	}
}
