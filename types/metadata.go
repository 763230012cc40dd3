package types

import (
	"context"
	"fmt"
	"math"
	"sync"
)

// BytesPerPixel is the size of one pixel of the RGBA buffers passed through the pipeline.
const BytesPerPixel = 4

// Metadata describes the video stream of a loaded file.
type Metadata struct {
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	PixFmt   string  `json:"pixFmt"`
	FPSRatio string  `json:"fpsRatio"`
	FPS      float64 `json:"fps"`
	Duration float64 `json:"duration"` // seconds
}

func NewMetadata(
	width, height int,
	pixFmt string,
	fps Rational,
	durationSeconds float64,
) Metadata {
	return Metadata{
		Width:    width,
		Height:   height,
		PixFmt:   pixFmt,
		FPSRatio: fps.String(),
		FPS:      fps.Float64(),
		Duration: durationSeconds,
	}
}

func (m Metadata) String() string {
	return fmt.Sprintf("%dx%d %s @ %s fps, %.3fs", m.Width, m.Height, m.PixFmt, m.FPSRatio, m.Duration)
}

// FrameSize returns the amount of bytes of one RGBA frame.
func (m Metadata) FrameSize() int {
	return m.Width * m.Height * BytesPerPixel
}

// FramesPerBatch is the amount of consecutive frames forming one segment.
func (m Metadata) FramesPerBatch(segmentSeconds float64) int {
	n := int(math.Round(segmentSeconds * m.FPS))
	if n < 1 {
		return 1
	}
	return n
}

// MetadataPromise is resolved exactly once, possibly concurrently with frame production.
type MetadataPromise struct {
	once  sync.Once
	ready chan struct{}
	value Metadata
}

func NewMetadataPromise() *MetadataPromise {
	return &MetadataPromise{
		ready: make(chan struct{}),
	}
}

// Resolve sets the value; only the first call has effect. Returns true if
// this call resolved the promise.
func (p *MetadataPromise) Resolve(m Metadata) bool {
	resolved := false
	p.once.Do(func() {
		p.value = m
		close(p.ready)
		resolved = true
	})
	return resolved
}

func (p *MetadataPromise) Wait(ctx context.Context) (Metadata, error) {
	select {
	case <-ctx.Done():
		return Metadata{}, ctx.Err()
	case <-p.ready:
		return p.value, nil
	}
}

func (p *MetadataPromise) Peek() (Metadata, bool) {
	select {
	case <-p.ready:
		return p.value, true
	default:
		return Metadata{}, false
	}
}
