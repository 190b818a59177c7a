package chart

import (
	"context"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_WritesPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gsr.png")

	require.NoError(t, Render(Config{Path: path, Width: 400, Height: 200}, []float64{10, 12, 25, 24, 18}))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	_, err = png.Decode(f)
	assert.NoError(t, err)
}

func TestUpdate_LatestWins(t *testing.T) {
	r := NewRenderer(Config{Path: filepath.Join(t.TempDir(), "gsr.png")}, nil)

	r.Update([]float64{1})
	r.Update([]float64{1, 2})
	r.Update([]float64{1, 2, 3})

	require.Len(t, r.updates, 1)
	assert.Equal(t, []float64{1, 2, 3}, <-r.updates)
}

func TestRun_RendersPendingOnShutdown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gsr.png")
	r := NewRenderer(Config{Path: path}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	r.Update([]float64{20, 21, 22})
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("renderer did not stop")
	}

	assert.GreaterOrEqual(t, r.Renders(), 1)
	assert.FileExists(t, path)
}
