package detectioncache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/xaionaro-go/avblur/logger"
	"github.com/xaionaro-go/xsync"
)

// Store is a persistent key-value store of whole documents.
type Store interface {
	// Get returns false if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// FileStore keeps each key in a separate JSON file of a directory.
type FileStore struct {
	Dir string
}

var _ Store = (*FileStore)(nil)

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("unable to create the directory '%s': %w", dir, err)
	}
	return &FileStore{Dir: dir}, nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.Dir, filepath.Base(key)+".json")
}

func (s *FileStore) Get(
	ctx context.Context,
	key string,
) ([]byte, bool, error) {
	b, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("unable to read '%s': %w", key, err)
	}
	return b, true, nil
}

func (s *FileStore) Set(
	ctx context.Context,
	key string,
	value []byte,
) (_err error) {
	logger.Tracef(ctx, "FileStore.Set(%s)", key)
	defer func() { logger.Tracef(ctx, "/FileStore.Set(%s): %v", key, _err) }()
	tmp, err := os.CreateTemp(s.Dir, filepath.Base(key)+".*.tmp")
	if err != nil {
		return fmt.Errorf("unable to create a temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		return fmt.Errorf("unable to write '%s': %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("unable to close '%s': %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), s.path(key)); err != nil {
		return fmt.Errorf("unable to replace '%s': %w", s.path(key), err)
	}
	return nil
}

// MemoryStore keeps the documents in memory.
type MemoryStore struct {
	locker xsync.Mutex
	values map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: map[string][]byte{}}
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		v  []byte
		ok bool
	)
	s.locker.Do(ctx, func() {
		v, ok = s.values[key]
		v = append([]byte(nil), v...)
	})
	return v, ok, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	s.locker.Do(ctx, func() {
		s.values[key] = append([]byte(nil), value...)
	})
	return nil
}
