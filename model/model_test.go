package model

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCatalog(t *testing.T) {
	t.Parallel()

	require.Len(t, Models, 5)
	for _, m := range Models {
		require.NoError(t, m.Validate(), m.Name)
	}
	m, err := ByName(DefaultModelName)
	require.NoError(t, err)
	require.Equal(t, 0, m.LabelIndex("plate"))
	require.Equal(t, 1, m.LabelIndex("person"))
	require.Equal(t, -1, m.LabelIndex("cat"))
	require.Equal(t, "unknown", m.Label(7))
	require.InDelta(t, 0.8, m.RoundCornerRatio(1), 1e-9)

	_, err = ByName("nope")
	require.Error(t, err)
}

func TestFileNames(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"a.onnx"}, Model{Name: "a"}.FileNames())
	require.Equal(t, []string{"b.onnx.0", "b.onnx.1", "b.onnx.2"}, Model{Name: "b", Parts: 3}.FileNames())
}

func TestLoadWeights(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src := MemorySource{
		"m.onnx.0": []byte("ab"),
		"m.onnx.1": []byte("cd"),
		"m.onnx.2": []byte("e"),
	}
	var progress [][2]int
	b, err := LoadWeights(ctx, src, Model{Name: "m", Parts: 3}, func(done, total int) {
		progress = append(progress, [2]int{done, total})
	})
	require.NoError(t, err)
	require.Equal(t, "abcde", string(b))
	require.Equal(t, [][2]int{{1, 3}, {2, 3}, {3, 3}}, progress)

	_, err = LoadWeights(ctx, src, Model{Name: "m", Parts: 4}, nil)
	require.ErrorIs(t, err, os.ErrNotExist)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = LoadWeights(cancelled, src, Model{Name: "m", Parts: 3}, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestDirSource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "single.onnx"), []byte("weights"), 0o644))
	b, err := LoadWeights(context.Background(), DirSource(dir), Model{Name: "single"}, nil)
	require.NoError(t, err)
	require.Equal(t, "weights", string(b))
}
