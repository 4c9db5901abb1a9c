// Package dataset loads labeled still images into classifier-ready tensors.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/kikiluvv/vigil/internal/imageproc"
	"github.com/kikiluvv/vigil/internal/labels"
	"github.com/kikiluvv/vigil/pkg/util"
	"github.com/rs/zerolog"
)

// ErrEmptyDataset is returned when no usable image was found.
var ErrEmptyDataset = errors.New("dataset is empty")

// ImageExtensions are the still formats picked up by Build.
var ImageExtensions = []string{".jpg", ".jpeg", ".png"}

// Options controls Build.
type Options struct {
	Size   int
	Logger zerolog.Logger
}

// Dataset holds index-aligned tensors, labels and one-hot targets.
type Dataset struct {
	Paths   []string
	Tensors []*imageproc.Tensor
	Labels  []labels.Label
	Targets [][]float64
	Encoder *labels.Encoder
	Skipped int
}

// Len returns the number of samples.
func (d *Dataset) Len() int { return len(d.Tensors) }

// Counts returns the number of samples per label.
func (d *Dataset) Counts() map[labels.Label]int {
	counts := make(map[labels.Label]int)
	for _, l := range d.Labels {
		counts[l]++
	}
	return counts
}

// Build walks root in lexical order and loads every image whose parent
// directory names a known label. Images under other directories are
// skipped. Enumeration order is preserved.
func Build(ctx context.Context, root string, opts Options) (*Dataset, error) {
	if opts.Size <= 0 {
		opts.Size = imageproc.DefaultSize
	}
	log := opts.Logger.With().Str("component", "dataset").Logger()

	d := &Dataset{}
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() || !util.HasExtension(path, ImageExtensions) {
			return nil
		}

		label, err := labels.Parse(filepath.Base(filepath.Dir(path)))
		if err != nil {
			log.Debug().Str("path", path).Msg("Skipping image with unknown label")
			d.Skipped++
			return nil
		}

		tensor, err := load(path, opts.Size)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Skipping undecodable image")
			d.Skipped++
			return nil
		}

		d.Paths = append(d.Paths, path)
		d.Tensors = append(d.Tensors, tensor)
		d.Labels = append(d.Labels, label)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	if d.Len() == 0 {
		return nil, fmt.Errorf("%w: no labeled images under %s", ErrEmptyDataset, root)
	}

	enc, err := labels.Fit(d.Labels)
	if err != nil {
		return nil, err
	}
	if enc.Len() < len(labels.All) {
		return nil, fmt.Errorf("%w: need images for every label %v under %s, found only %v",
			ErrEmptyDataset, labels.All, root, enc.Classes())
	}
	if err := d.encode(enc); err != nil {
		return nil, err
	}

	log.Info().
		Int("images", d.Len()).
		Int("skipped", d.Skipped).
		Interface("classes", enc.Classes()).
		Msg("Dataset built")
	return d, nil
}

func (d *Dataset) encode(enc *labels.Encoder) error {
	d.Encoder = enc
	d.Targets = make([][]float64, len(d.Labels))
	for i, l := range d.Labels {
		v, err := enc.OneHot(l)
		if err != nil {
			return err
		}
		d.Targets[i] = v
	}
	return nil
}

// load decodes an image file into RGB and resizes it. Go's decoders
// already yield RGB(A), so no channel swap is needed here.
func load(path string, size int) (*imageproc.Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}
	return imageproc.Normalize(img, size)
}
