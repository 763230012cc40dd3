package detectioncache

import (
	"context"
	"maps"
	"slices"
	"strconv"

	"github.com/xaionaro-go/avblur/logger"
	"github.com/xaionaro-go/avblur/types"
	"github.com/xaionaro-go/xsync"
	"golang.org/x/sync/singleflight"
)

// ComputeFunc produces the detections of a frame.
type ComputeFunc func(ctx context.Context) ([]types.Box, error)

// Bucket holds the detections of one file by one model, by frame index.
type Bucket struct {
	Key Key

	cache    *Cache
	locker   xsync.Mutex
	entries  map[int][]types.Box
	inFlight singleflight.Group
}

func newBucket(c *Cache, key Key) *Bucket {
	return &Bucket{
		Key:     key,
		cache:   c,
		entries: map[int][]types.Box{},
	}
}

func (b *Bucket) String() string {
	return b.Key.String()
}

// Get returns false if the frame was never computed. An empty box list is a valid result.
func (b *Bucket) Get(ctx context.Context, frameIndex int) ([]types.Box, bool) {
	return xsync.DoR2(xsync.WithNoLogging(ctx, true), &b.locker, func() ([]types.Box, bool) {
		boxes, ok := b.entries[frameIndex]
		return boxes, ok
	})
}

// Set stores the boxes and persists the whole cache.
func (b *Bucket) Set(ctx context.Context, frameIndex int, boxes []types.Box) error {
	if boxes == nil {
		boxes = []types.Box{}
	}
	b.locker.Do(xsync.WithNoLogging(ctx, true), func() {
		b.entries[frameIndex] = boxes
	})
	return b.cache.save(ctx)
}

// GetOrCompute returns the cached boxes or computes, stores and returns
// them. Concurrent calls for the same frame share one computation.
func (b *Bucket) GetOrCompute(
	ctx context.Context,
	frameIndex int,
	compute ComputeFunc,
) ([]types.Box, error) {
	if boxes, ok := b.Get(ctx, frameIndex); ok {
		return boxes, nil
	}
	v, err, shared := b.inFlight.Do(strconv.Itoa(frameIndex), func() (any, error) {
		if boxes, ok := b.Get(ctx, frameIndex); ok {
			return boxes, nil
		}
		boxes, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if err := b.Set(ctx, frameIndex, boxes); err != nil {
			logger.Errorf(ctx, "unable to persist the detections of frame %d: %v", frameIndex, err)
		}
		boxes, _ = b.Get(ctx, frameIndex)
		return boxes, nil
	})
	if shared {
		logger.Tracef(ctx, "frame %d: shared an in-flight computation", frameIndex)
	}
	if err != nil {
		return nil, err
	}
	return v.([]types.Box), nil
}

// Purge drops all the entries of the bucket and persists the cache.
func (b *Bucket) Purge(ctx context.Context) error {
	logger.Debugf(ctx, "purging %s", b)
	b.locker.Do(ctx, func() {
		b.entries = map[int][]types.Box{}
	})
	return b.cache.save(ctx)
}

func (b *Bucket) Size(ctx context.Context) int {
	return xsync.DoR1(xsync.WithNoLogging(ctx, true), &b.locker, func() int {
		return len(b.entries)
	})
}

// FrameIndexes returns the computed frame indexes in ascending order.
func (b *Bucket) FrameIndexes(ctx context.Context) []int {
	return xsync.DoR1(ctx, &b.locker, func() []int {
		return slices.Sorted(maps.Keys(b.entries))
	})
}

func (b *Bucket) snapshot(ctx context.Context) map[int][]types.Box {
	return xsync.DoR1(xsync.WithNoLogging(ctx, true), &b.locker, func() map[int][]types.Box {
		return maps.Clone(b.entries)
	})
}
