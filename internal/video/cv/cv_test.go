package cv

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/kikiluvv/vigil/internal/video"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMissing(t *testing.T) {
	b := New(zerolog.Nop(), nil)
	_, err := b.Open(filepath.Join(t.TempDir(), "missing.mp4"))
	assert.ErrorIs(t, err, video.ErrVideoNotFound)
}

func TestFallbackFPS(t *testing.T) {
	b := New(zerolog.Nop(), func(string) (float64, error) { return 25, nil })
	assert.Equal(t, 25.0, b.fallbackFPS("x.mp4"))

	b = New(zerolog.Nop(), nil)
	assert.Equal(t, video.DefaultFPS, b.fallbackFPS("x.mp4"))
}

func TestWriteImageAndPlot(t *testing.T) {
	dir := t.TempDir()
	b := New(zerolog.Nop(), nil)

	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	img.SetRGBA(1, 1, color.RGBA{R: 255, A: 255})
	jpg := filepath.Join(dir, "frame-0000.jpg")
	require.NoError(t, b.WriteImage(jpg, video.Frame{Image: img}))

	info, err := os.Stat(jpg)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	png := filepath.Join(dir, "plot.png")
	require.NoError(t, b.Plot(png, "Training Loss and Accuracy", []video.Series{
		{Name: "train_loss", Values: []float64{0.9, 0.5, 0.3}, Color: color.RGBA{R: 255, A: 255}},
		{Name: "val_acc", Values: []float64{0.4, 0.7, 0.8}, Color: color.RGBA{B: 255, A: 255}},
	}))
	_, err = os.Stat(png)
	assert.NoError(t, err)
}

func TestBounds(t *testing.T) {
	lo, hi, n := bounds([]video.Series{{Values: []float64{2, 5}}, {Values: []float64{1, 3, 4}}})
	assert.Equal(t, 1.0, lo)
	assert.Equal(t, 5.0, hi)
	assert.Equal(t, 3, n)

	lo, hi, _ = bounds(nil)
	assert.Equal(t, 0.0, lo)
	assert.Equal(t, 1.0, hi)
}
