// cache.go implements the persisted memoization of detection results.

// Package detectioncache memoizes detection results per (model, file) and
// frame index in a persistent store.
package detectioncache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/xaionaro-go/avblur/logger"
	"github.com/xaionaro-go/avblur/types"
	"github.com/xaionaro-go/xsync"
)

const DefaultStorageKey = "detectionCache"

// Key identifies the detections of one file by one model.
type Key struct {
	ModelName string
	FileName  string
	FileSize  int64
}

func (k Key) String() string {
	return fmt.Sprintf("%s-%s-%d", k.ModelName, k.FileName, k.FileSize)
}

// Cache is the whole persisted document: buckets by key.
type Cache struct {
	store      Store
	storageKey string

	locker xsync.Mutex
	// buckets in use
	buckets map[string]*Bucket
	// persisted buckets not touched in this session, kept as is
	raw map[string]json.RawMessage
}

// New loads the document from the store. A missing or corrupt document
// results in an empty cache.
func New(
	ctx context.Context,
	store Store,
	storageKey string,
) *Cache {
	if storageKey == "" {
		storageKey = DefaultStorageKey
	}
	c := &Cache{
		store:      store,
		storageKey: storageKey,
		buckets:    map[string]*Bucket{},
		raw:        map[string]json.RawMessage{},
	}
	if err := c.load(ctx); err != nil {
		logger.Warnf(ctx, "starting with an empty detection cache: %v", err)
		c.raw = map[string]json.RawMessage{}
	}
	return c
}

func (c *Cache) load(ctx context.Context) error {
	b, ok, err := c.store.Get(ctx, c.storageKey)
	if err != nil {
		return types.ErrCacheCorrupt{Err: err}
	}
	if !ok || len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, &c.raw); err != nil {
		return types.ErrCacheCorrupt{Err: err}
	}
	logger.Debugf(ctx, "loaded the detection cache with %d entries", len(c.raw))
	return nil
}

// For returns the bucket of the file processed by the model.
func (c *Cache) For(
	ctx context.Context,
	fileName string,
	fileSize int64,
	modelName string,
) *Bucket {
	key := Key{ModelName: modelName, FileName: fileName, FileSize: fileSize}
	return xsync.DoA2R1(ctx, &c.locker, c.forLocked, ctx, key)
}

func (c *Cache) forLocked(ctx context.Context, key Key) *Bucket {
	k := key.String()
	if b, ok := c.buckets[k]; ok {
		return b
	}
	b := newBucket(c, key)
	if raw, ok := c.raw[k]; ok {
		if err := json.Unmarshal(raw, &b.entries); err != nil {
			logger.Warnf(ctx, "the entry '%s' is corrupt, starting it from scratch: %v", k, types.ErrCacheCorrupt{Err: err})
			b.entries = map[int][]types.Box{}
		}
		delete(c.raw, k)
	}
	c.buckets[k] = b
	return b
}

// Keys returns the sorted keys of all the persisted buckets.
func (c *Cache) Keys(ctx context.Context) []string {
	return xsync.DoR1(ctx, &c.locker, func() []string {
		result := make([]string, 0, len(c.raw)+len(c.buckets))
		for k := range c.raw {
			result = append(result, k)
		}
		for k := range c.buckets {
			result = append(result, k)
		}
		sort.Strings(result)
		return result
	})
}

func (c *Cache) save(ctx context.Context) error {
	return xsync.DoA1R1(ctx, &c.locker, c.saveLocked, ctx)
}

func (c *Cache) saveLocked(ctx context.Context) error {
	doc := make(map[string]any, len(c.raw)+len(c.buckets))
	for k, v := range c.raw {
		doc[k] = v
	}
	for k, b := range c.buckets {
		doc[k] = b.snapshot(ctx)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("unable to serialize the detection cache: %w", err)
	}
	if err := c.store.Set(ctx, c.storageKey, data); err != nil {
		return fmt.Errorf("unable to persist the detection cache: %w", err)
	}
	return nil
}
