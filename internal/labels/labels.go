// Package labels defines the closed label set and the encoder that maps
// labels to prediction indices.
package labels

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Label is a class name derived from a dataset directory.
type Label string

const (
	Violence    Label = "Violence"
	NonViolence Label = "NonViolence"
)

// All is the canonical label order. Encoders are fitted in this order.
var All = []Label{Violence, NonViolence}

// ErrUnknownLabel is returned for a label outside the label set.
var ErrUnknownLabel = errors.New("unknown label")

// Parse returns the Label for s, or ErrUnknownLabel.
func Parse(s string) (Label, error) {
	for _, l := range All {
		if string(l) == s {
			return l, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownLabel, s)
}

// Encoder maps labels to fixed indices.
type Encoder struct {
	classes []Label
	index   map[Label]int
}

type encoderFile struct {
	Classes     []Label `json:"classes"`
	Fingerprint string  `json:"fingerprint"`
}

// Fit builds an encoder over the observed labels, ordered canonically
// regardless of the order they were observed in.
func Fit(observed []Label) (*Encoder, error) {
	seen := make(map[Label]bool, len(All))
	for _, l := range observed {
		if _, err := Parse(string(l)); err != nil {
			return nil, err
		}
		seen[l] = true
	}

	var classes []Label
	for _, l := range All {
		if seen[l] {
			classes = append(classes, l)
		}
	}
	if len(classes) == 0 {
		return nil, errors.New("no labels to fit")
	}
	return newEncoder(classes), nil
}

// Default returns an encoder over the full label set.
func Default() *Encoder {
	return newEncoder(append([]Label(nil), All...))
}

func newEncoder(classes []Label) *Encoder {
	idx := make(map[Label]int, len(classes))
	for i, c := range classes {
		idx[c] = i
	}
	return &Encoder{classes: classes, index: idx}
}

// Classes returns the labels in index order.
func (e *Encoder) Classes() []Label {
	return append([]Label(nil), e.classes...)
}

// Len returns the number of classes.
func (e *Encoder) Len() int { return len(e.classes) }

// Index returns the position of l in prediction vectors.
func (e *Encoder) Index(l Label) (int, bool) {
	i, ok := e.index[l]
	return i, ok
}

// Label returns the label at index i.
func (e *Encoder) Label(i int) Label {
	return e.classes[i]
}

// OneHot encodes l as a vector of length Len.
func (e *Encoder) OneHot(l Label) ([]float64, error) {
	i, ok := e.index[l]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLabel, l)
	}
	v := make([]float64, len(e.classes))
	v[i] = 1
	return v, nil
}

// Fingerprint identifies the class order. Artifacts trained against one
// encoder are only compatible with an encoder of the same fingerprint.
func (e *Encoder) Fingerprint() string {
	names := make([]string, len(e.classes))
	for i, c := range e.classes {
		names[i] = string(c)
	}
	sum := sha256.Sum256([]byte(strings.Join(names, "\x00")))
	return hex.EncodeToString(sum[:8])
}

// Save writes the encoder as JSON.
func (e *Encoder) Save(path string) error {
	data, err := json.MarshalIndent(encoderFile{
		Classes:     e.classes,
		Fingerprint: e.Fingerprint(),
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Load reads an encoder written by Save. The stored fingerprint must match
// the class list.
func Load(path string) (*Encoder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f encoderFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if len(f.Classes) == 0 {
		return nil, fmt.Errorf("%s: no classes", path)
	}
	for _, c := range f.Classes {
		if _, err := Parse(string(c)); err != nil {
			return nil, err
		}
	}

	enc := newEncoder(f.Classes)
	if f.Fingerprint != "" && f.Fingerprint != enc.Fingerprint() {
		return nil, fmt.Errorf("%s: fingerprint %s does not match classes", path, f.Fingerprint)
	}
	return enc, nil
}
