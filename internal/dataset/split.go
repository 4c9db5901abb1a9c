package dataset

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/kikiluvv/vigil/internal/imageproc"
	"github.com/kikiluvv/vigil/internal/labels"
)

const (
	DefaultTestFraction = 0.25
	DefaultSeed         = 42
)

// Split partitions the dataset into train and test subsets, stratified by
// label. Each class contributes round(n*testFraction) samples to the test
// set, at least one when the class has two or more samples. The same seed
// always yields the same split. Within each subset the original order is
// kept.
func (d *Dataset) Split(testFraction float64, seed int64) (train, test *Dataset, err error) {
	if testFraction <= 0 || testFraction >= 1 {
		return nil, nil, fmt.Errorf("test fraction %.3f outside (0,1)", testFraction)
	}

	rng := rand.New(rand.NewSource(seed))
	byClass := make(map[labels.Label][]int)
	for i, l := range d.Labels {
		byClass[l] = append(byClass[l], i)
	}

	var trainIdx, testIdx []int
	for _, l := range d.Encoder.Classes() {
		idx := byClass[l]
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

		n := int(math.Round(float64(len(idx)) * testFraction))
		if n == 0 && len(idx) >= 2 {
			n = 1
		}
		if n >= len(idx) {
			n = len(idx) - 1
		}
		testIdx = append(testIdx, idx[:n]...)
		trainIdx = append(trainIdx, idx[n:]...)
	}

	if len(trainIdx) == 0 || len(testIdx) == 0 {
		return nil, nil, fmt.Errorf("%w: %d samples cannot be split", ErrEmptyDataset, d.Len())
	}

	sort.Ints(trainIdx)
	sort.Ints(testIdx)
	return d.subset(trainIdx), d.subset(testIdx), nil
}

func (d *Dataset) subset(idx []int) *Dataset {
	s := &Dataset{
		Paths:   make([]string, len(idx)),
		Tensors: make([]*imageproc.Tensor, len(idx)),
		Labels:  make([]labels.Label, len(idx)),
		Targets: make([][]float64, len(idx)),
		Encoder: d.Encoder,
	}
	for i, j := range idx {
		if j < len(d.Paths) {
			s.Paths[i] = d.Paths[j]
		}
		s.Tensors[i] = d.Tensors[j]
		s.Labels[i] = d.Labels[j]
		s.Targets[i] = d.Targets[j]
	}
	return s
}
