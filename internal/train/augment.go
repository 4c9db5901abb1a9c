package train

import (
	"math"
	"math/rand"

	"github.com/kikiluvv/vigil/internal/imageproc"
)

// AugmentConfig sets the ranges of the random affine transform applied to
// training images. Rotation and shear are in degrees; zoom and shift are
// fractions of the image size.
type AugmentConfig struct {
	Rotation float64 `yaml:"rotation"`
	Zoom     float64 `yaml:"zoom"`
	Shift    float64 `yaml:"shift"`
	Shear    float64 `yaml:"shear"`
	Flip     bool    `yaml:"flip"`
}

// DefaultAugment returns rotation 30, zoom 0.15, shift 0.2, shear 0.15 and
// horizontal flips.
func DefaultAugment() AugmentConfig {
	return AugmentConfig{Rotation: 30, Zoom: 0.15, Shift: 0.2, Shear: 0.15, Flip: true}
}

// Augmenter applies random affine transforms with nearest-edge fill.
type Augmenter struct {
	cfg AugmentConfig
	rng *rand.Rand
}

func NewAugmenter(cfg AugmentConfig, rng *rand.Rand) *Augmenter {
	return &Augmenter{cfg: cfg, rng: rng}
}

func (a *Augmenter) uniform(r float64) float64 {
	if r == 0 {
		return 0
	}
	return (a.rng.Float64()*2 - 1) * r
}

// Apply returns a transformed copy of t. The input is not modified.
func (a *Augmenter) Apply(t *imageproc.Tensor) *imageproc.Tensor {
	n := float64(t.Size)
	theta := a.uniform(a.cfg.Rotation) * math.Pi / 180
	shear := a.uniform(a.cfg.Shear) * math.Pi / 180
	zx := 1 + a.uniform(a.cfg.Zoom)
	zy := 1 + a.uniform(a.cfg.Zoom)
	tx := a.uniform(a.cfg.Shift) * n
	ty := a.uniform(a.cfg.Shift) * n
	flip := a.cfg.Flip && a.rng.Intn(2) == 1

	// Output pixel -> source pixel, around the image center.
	cos, sin := math.Cos(theta), math.Sin(theta)
	m00 := cos * zx
	m01 := (-sin + math.Sin(shear)*cos) * zy
	m10 := sin * zx
	m11 := (cos*math.Cos(shear) + math.Sin(shear)*sin) * zy
	c := (n - 1) / 2

	out := imageproc.NewTensor(t.Size)
	last := t.Size - 1
	for y := 0; y < t.Size; y++ {
		for x := 0; x < t.Size; x++ {
			dx, dy := float64(x)-c, float64(y)-c
			sx := int(math.Round(m00*dx + m01*dy + c + tx))
			sy := int(math.Round(m10*dx + m11*dy + c + ty))
			sx = clamp(sx, 0, last)
			sy = clamp(sy, 0, last)
			if flip {
				sx = last - sx
			}
			r, g, b := t.At(sx, sy)
			out.Set(x, y, r, g, b)
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
