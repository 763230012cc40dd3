package model

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/xaionaro-go/avblur/logger"
)

// ByteSource provides the weight files of the models.
type ByteSource interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// FileNames returns the weight files of the model in concatenation order.
func (m Model) FileNames() []string {
	if m.Parts == 0 {
		return []string{m.Name + ".onnx"}
	}
	result := make([]string, 0, m.Parts)
	for i := range m.Parts {
		result = append(result, fmt.Sprintf("%s.onnx.%d", m.Name, i))
	}
	return result
}

// LoadWeights reads and concatenates the weight files of the model.
// progress (may be nil) is called after each part with (partsDone, partsTotal).
func LoadWeights(
	ctx context.Context,
	src ByteSource,
	m Model,
	progress func(done, total int),
) (_ret []byte, _err error) {
	logger.Debugf(ctx, "LoadWeights(%s)", m.Name)
	defer func() { logger.Debugf(ctx, "/LoadWeights(%s): %s %v", m.Name, humanize.Bytes(uint64(len(_ret))), _err) }()

	names := m.FileNames()
	var buf bytes.Buffer
	for idx, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := readInto(ctx, src, name, &buf); err != nil {
			return nil, err
		}
		if progress != nil {
			progress(idx+1, len(names))
		}
	}
	return buf.Bytes(), nil
}

func readInto(ctx context.Context, src ByteSource, name string, buf *bytes.Buffer) error {
	r, err := src.Open(ctx, name)
	if err != nil {
		return fmt.Errorf("unable to open '%s': %w", name, err)
	}
	defer r.Close()
	if _, err := io.Copy(buf, ctxReader{ctx: ctx, r: r}); err != nil {
		return fmt.Errorf("unable to read '%s': %w", name, err)
	}
	return nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

// DirSource reads the weight files from a local directory.
type DirSource string

func (d DirSource) Open(_ context.Context, name string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(string(d), name))
}

// MemorySource serves the weight files from memory.
type MemorySource map[string][]byte

func (s MemorySource) Open(_ context.Context, name string) (io.ReadCloser, error) {
	b, ok := s[name]
	if !ok {
		return nil, fmt.Errorf("'%s': %w", name, os.ErrNotExist)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}
