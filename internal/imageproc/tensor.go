// Package imageproc converts decoded images into fixed-size classifier input.
package imageproc

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/nfnt/resize"
)

// DefaultSize is the square input edge expected by the backbone.
const DefaultSize = 224

// ImageNetMean is the per-channel RGB mean on the 0-255 scale.
var ImageNetMean = [3]float32{123.68, 116.779, 103.939}

// Tensor holds a Size x Size RGB image in HWC order.
type Tensor struct {
	Size int
	Pix  []uint8
}

// NewTensor allocates a zeroed tensor.
func NewTensor(size int) *Tensor {
	return &Tensor{Size: size, Pix: make([]uint8, size*size*3)}
}

// Normalize resizes img to size x size with bilinear interpolation and
// stores it as RGB. Aspect ratio is not preserved.
func Normalize(img image.Image, size int) (*Tensor, error) {
	if img == nil {
		return nil, fmt.Errorf("nil image")
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("empty image %dx%d", b.Dx(), b.Dy())
	}

	resized := resize.Resize(uint(size), uint(size), img, resize.Bilinear)
	return FromImage(resized), nil
}

// FromImage copies a square image into a tensor without resampling.
func FromImage(img image.Image) *Tensor {
	b := img.Bounds()
	t := NewTensor(b.Dx())

	rgba, ok := img.(*image.RGBA)
	if !ok {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}

	rb := rgba.Bounds()
	for y := 0; y < t.Size && y < rb.Dy(); y++ {
		for x := 0; x < t.Size && x < rb.Dx(); x++ {
			src := rgba.PixOffset(rb.Min.X+x, rb.Min.Y+y)
			dst := (y*t.Size + x) * 3
			t.Pix[dst] = rgba.Pix[src]
			t.Pix[dst+1] = rgba.Pix[src+1]
			t.Pix[dst+2] = rgba.Pix[src+2]
		}
	}
	return t
}

// At returns the pixel at (x, y).
func (t *Tensor) At(x, y int) (r, g, b uint8) {
	i := (y*t.Size + x) * 3
	return t.Pix[i], t.Pix[i+1], t.Pix[i+2]
}

// Set writes the pixel at (x, y).
func (t *Tensor) Set(x, y int, r, g, b uint8) {
	i := (y*t.Size + x) * 3
	t.Pix[i], t.Pix[i+1], t.Pix[i+2] = r, g, b
}

// Image returns an RGBA copy of the tensor.
func (t *Tensor) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, t.Size, t.Size))
	for y := 0; y < t.Size; y++ {
		for x := 0; x < t.Size; x++ {
			r, g, b := t.At(x, y)
			img.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: 255})
		}
	}
	return img
}

// CHW returns the tensor as planar float32 scaled to [0,1] with mean
// (given on the 0-255 scale) subtracted per channel.
func (t *Tensor) CHW(mean [3]float32) []float32 {
	plane := t.Size * t.Size
	out := make([]float32, 3*plane)
	for i := 0; i < plane; i++ {
		for c := 0; c < 3; c++ {
			out[c*plane+i] = (float32(t.Pix[i*3+c]) - mean[c]) / 255
		}
	}
	return out
}
