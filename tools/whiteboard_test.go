package tools

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeWhiteboardFitsMaxSide(t *testing.T) {
	tests := []struct {
		name         string
		w, h         int
		wantW, wantH int
	}{
		{name: "small stays", w: 300, h: 200, wantW: 300, wantH: 200},
		{name: "wide shrinks", w: 2400, h: 600, wantW: 1200, wantH: 300},
		{name: "tall shrinks", w: 500, h: 2500, wantW: 240, wantH: 1200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeWhiteboard(image.NewRGBA(image.Rect(0, 0, tt.w, tt.h)))
			require.NoError(t, err)
			cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
			require.NoError(t, err)
			assert.Equal(t, tt.wantW, cfg.Width)
			assert.Equal(t, tt.wantH, cfg.Height)
		})
	}
}

func TestEncodeWhiteboardPaintsWhiteBackground(t *testing.T) {
	// A fully transparent drawing must come out white, not black.
	data, err := EncodeWhiteboard(image.NewNRGBA(image.Rect(0, 0, 10, 10)))
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	r, g, b, _ := img.At(5, 5).RGBA()
	assert.Greater(t, r>>8, uint32(240))
	assert.Greater(t, g>>8, uint32(240))
	assert.Greater(t, b>>8, uint32(240))
}

func TestFileWhiteboardExport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.png")
	img := image.NewRGBA(image.Rect(0, 0, 40, 20))
	img.Set(1, 1, color.Black)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	board := NewFileWhiteboard(path)
	data, name, err := board.Export(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	assert.True(t, strings.HasPrefix(name, "whiteboard-"))
	assert.True(t, strings.HasSuffix(name, ".jpg"))
}

func TestFileWhiteboardExportFailures(t *testing.T) {
	_, _, err := NewFileWhiteboard("").Export(context.Background())
	assert.Error(t, err)

	_, _, err = NewFileWhiteboard(filepath.Join(t.TempDir(), "missing.png")).Export(context.Background())
	assert.Error(t, err)
}
