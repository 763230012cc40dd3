// Package mediatooltest provides an in-memory mediatool.Tool for tests.
package mediatooltest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/xaionaro-go/avblur/mediatool"
)

// ExecFunc emulates one run of the tool; log lines may be emitted with Fake.Log.
type ExecFunc func(ctx context.Context, f *Fake, args []string) error

// Fake keeps files in memory and delegates Exec to a callback.
type Fake struct {
	mu        sync.Mutex
	files     map[string][]byte
	dirs      map[string]struct{}
	listeners map[int]func(string)
	nextID    int
	execs     [][]string
	ExecFunc  ExecFunc
}

var _ mediatool.Tool = (*Fake)(nil)

func New(execFunc ExecFunc) *Fake {
	return &Fake{
		files:     map[string][]byte{},
		dirs:      map[string]struct{}{},
		listeners: map[int]func(string){},
		ExecFunc:  execFunc,
	}
}

func (f *Fake) String() string { return "FakeMediaTool" }

func (f *Fake) Path(name string) string { return path.Join("/fake", name) }

func (f *Fake) WriteFile(_ context.Context, name string, r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.Put(name, b)
	return nil
}

// Put stores a file directly.
func (f *Fake) Put(name string, b []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[name] = append([]byte(nil), b...)
}

func (f *Fake) ReadFile(_ context.Context, name string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.files[name]
	if !ok {
		return nil, fmt.Errorf("'%s': %w", name, os.ErrNotExist)
	}
	return append([]byte(nil), b...), nil
}

func (f *Fake) DeleteFile(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.files[name]; !ok {
		return fmt.Errorf("'%s': %w", name, os.ErrNotExist)
	}
	delete(f.files, name)
	return nil
}

func (f *Fake) CreateDir(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs[name] = struct{}{}
	return nil
}

func (f *Fake) ListDir(_ context.Context, name string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := strings.TrimSuffix(name, "/") + "/"
	var result []string
	for k := range f.files {
		if strings.HasPrefix(k, prefix) {
			result = append(result, strings.TrimPrefix(k, prefix))
		}
	}
	sort.Strings(result)
	return result, nil
}

func (f *Fake) DeleteDir(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := strings.TrimSuffix(name, "/") + "/"
	for k := range f.files {
		if strings.HasPrefix(k, prefix) {
			delete(f.files, k)
		}
	}
	delete(f.dirs, name)
	return nil
}

func (f *Fake) Exec(ctx context.Context, args []string, _ ...mediatool.ExecOption) error {
	f.mu.Lock()
	f.execs = append(f.execs, append([]string(nil), args...))
	fn := f.ExecFunc
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx, f, args)
}

// Execs returns the arguments of every Exec call so far.
func (f *Fake) Execs() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.execs...)
}

// Files returns the sorted names of all stored files.
func (f *Fake) Files() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make([]string, 0, len(f.files))
	for k := range f.files {
		result = append(result, k)
	}
	sort.Strings(result)
	return result
}

func (f *Fake) OnLog(listener func(line string)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.listeners[id] = listener
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

// Log delivers a log line to the registered listeners.
func (f *Fake) Log(line string) {
	f.mu.Lock()
	listeners := make([]func(string), 0, len(f.listeners))
	for _, l := range f.listeners {
		listeners = append(listeners, l)
	}
	f.mu.Unlock()
	for _, l := range listeners {
		l(line)
	}
}

func (f *Fake) Close(context.Context) error { return nil }

// ArgAfter returns the argument following flag, or "" if absent.
func ArgAfter(args []string, flag string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}
