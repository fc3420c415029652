package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"math"
	"os"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/image/draw"
)

const (
	whiteboardMaxSide = 1200
	whiteboardQuality = 70
)

// FileWhiteboard exports a whiteboard drawing saved on disk as a compact
// JPEG, the way it is uploaded for a WHITEBOARD answer.
type FileWhiteboard struct {
	mu   sync.Mutex
	path string
}

func NewFileWhiteboard(path string) *FileWhiteboard {
	return &FileWhiteboard{path: path}
}

func (w *FileWhiteboard) SetPath(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.path = path
}

func (w *FileWhiteboard) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.path
}

func (w *FileWhiteboard) Export(ctx context.Context) ([]byte, string, error) {
	path := w.Path()
	if path == "" {
		return nil, "", errors.New("no whiteboard drawing")
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("opening whiteboard: %w", err)
	}
	defer f.Close()
	src, _, err := image.Decode(f)
	if err != nil {
		return nil, "", fmt.Errorf("decoding whiteboard: %w", err)
	}
	data, err := EncodeWhiteboard(src)
	if err != nil {
		return nil, "", err
	}
	return data, fmt.Sprintf("whiteboard-%s.jpg", uuid.NewString()), nil
}

// EncodeWhiteboard fits img into 1200x1200 on a white background and
// encodes it as JPEG.
func EncodeWhiteboard(img image.Image) ([]byte, error) {
	sb := img.Bounds()
	w, h := sb.Dx(), sb.Dy()
	if w == 0 || h == 0 {
		return nil, errors.New("empty whiteboard image")
	}
	scale := min(1.0, float64(whiteboardMaxSide)/float64(w), float64(whiteboardMaxSide)/float64(h))
	dw := max(1, int(math.Round(float64(w)*scale)))
	dh := max(1, int(math.Round(float64(h)*scale)))

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, sb, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: whiteboardQuality}); err != nil {
		return nil, fmt.Errorf("encoding whiteboard: %w", err)
	}
	return buf.Bytes(), nil
}
