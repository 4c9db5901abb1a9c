// Package model holds the frame classifier: a frozen ONNX backbone, a small
// trainable head and the label encoder, plus their on-disk artifacts.
package model

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kikiluvv/vigil/internal/imageproc"
	"github.com/kikiluvv/vigil/internal/inference"
	"github.com/kikiluvv/vigil/internal/labels"
	"github.com/kikiluvv/vigil/pkg/util"
	"github.com/rs/zerolog"
)

var (
	ErrModelNotFound     = errors.New("trained model not found")
	ErrIncompatibleModel = errors.New("incompatible model artifacts")
)

// Classifier predicts a probability per encoder class for a frame.
type Classifier struct {
	backbone FeatureExtractor
	head     *Head
	encoder  *labels.Encoder
}

var _ inference.Classifier = (*Classifier)(nil)

// NewClassifier assembles a classifier and checks that the parts agree.
func NewClassifier(backbone FeatureExtractor, head *Head, enc *labels.Encoder) (*Classifier, error) {
	if head.InputDim != backbone.Dim() {
		return nil, fmt.Errorf("%w: head takes %d features, backbone yields %d",
			ErrIncompatibleModel, head.InputDim, backbone.Dim())
	}
	if head.OutputDim != enc.Len() {
		return nil, fmt.Errorf("%w: head has %d outputs, encoder has %d classes",
			ErrIncompatibleModel, head.OutputDim, enc.Len())
	}
	return &Classifier{backbone: backbone, head: head, encoder: enc}, nil
}

// Classify implements inference.Classifier.
func (c *Classifier) Classify(ctx context.Context, t *imageproc.Tensor) (inference.Prediction, error) {
	features, err := c.backbone.Features(ctx, t)
	if err != nil {
		return nil, err
	}
	probs, err := c.head.Predict(features)
	if err != nil {
		return nil, err
	}
	return inference.Prediction(probs), nil
}

func (c *Classifier) Labels() *labels.Encoder { return c.encoder }
func (c *Classifier) InputSize() int          { return c.backbone.InputSize() }

// Close releases the backbone.
func (c *Classifier) Close() error {
	return c.backbone.Close()
}

// Exists reports whether dir holds a complete set of artifacts.
func Exists(dir string) bool {
	for _, name := range []string{ManifestFile, HeadFile, LabelsFile} {
		if !util.FileExists(filepath.Join(dir, name)) {
			return false
		}
	}
	return true
}

// Artifacts is the persisted form of a trained classifier.
type Artifacts struct {
	Manifest *Manifest
	Head     *Head
	Encoder  *labels.Encoder
}

// LoadArtifacts reads and cross-checks the manifest, head and encoder in dir.
func LoadArtifacts(dir string) (*Artifacts, error) {
	if !Exists(dir) {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, dir)
	}

	m, err := LoadManifest(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	head, err := LoadHead(filepath.Join(dir, HeadFile))
	if err != nil {
		return nil, err
	}
	enc, err := labels.Load(filepath.Join(dir, LabelsFile))
	if err != nil {
		return nil, err
	}

	a := &Artifacts{Manifest: m, Head: head, Encoder: enc}
	if err := a.check(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Artifacts) check() error {
	m := a.Manifest
	switch {
	case m.Version != FormatVersion:
		return fmt.Errorf("%w: format version %d, want %d", ErrIncompatibleModel, m.Version, FormatVersion)
	case m.LabelFingerprint != a.Encoder.Fingerprint():
		return fmt.Errorf("%w: label fingerprint %s does not match encoder %s",
			ErrIncompatibleModel, m.LabelFingerprint, a.Encoder.Fingerprint())
	case a.Head.OutputDim != a.Encoder.Len():
		return fmt.Errorf("%w: head has %d outputs, encoder has %d classes",
			ErrIncompatibleModel, a.Head.OutputDim, a.Encoder.Len())
	case a.Head.InputDim != m.FeatureDim:
		return fmt.Errorf("%w: head takes %d features, manifest declares %d",
			ErrIncompatibleModel, a.Head.InputDim, m.FeatureDim)
	}
	return nil
}

// BackbonePath resolves the manifest's backbone relative to dir.
func (a *Artifacts) BackbonePath(dir string) string {
	if filepath.IsAbs(a.Manifest.Backbone) {
		return a.Manifest.Backbone
	}
	return filepath.Join(dir, a.Manifest.Backbone)
}

// Save writes manifest, head and encoder into dir together.
func (a *Artifacts) Save(dir string) error {
	if err := util.EnsureDir(dir); err != nil {
		return err
	}
	a.Manifest.Version = FormatVersion
	a.Manifest.LabelFingerprint = a.Encoder.Fingerprint()
	a.Manifest.FeatureDim = a.Head.InputDim
	a.Manifest.HiddenDim = a.Head.HiddenDim

	if err := a.Head.Save(filepath.Join(dir, HeadFile)); err != nil {
		return fmt.Errorf("save head: %w", err)
	}
	if err := a.Encoder.Save(filepath.Join(dir, LabelsFile)); err != nil {
		return fmt.Errorf("save labels: %w", err)
	}
	if err := a.Manifest.Save(filepath.Join(dir, ManifestFile)); err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	return nil
}

// RelativeBackbone returns path relative to dir when it lies inside dir.
func RelativeBackbone(dir, path string) string {
	rel, err := filepath.Rel(dir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		if abs, err := filepath.Abs(path); err == nil {
			return abs
		}
		return path
	}
	return rel
}

// Load reads the artifacts in dir and opens the ONNX backbone they name.
func Load(logger zerolog.Logger, dir, runtimeLibrary string) (*Classifier, *Artifacts, error) {
	a, err := LoadArtifacts(dir)
	if err != nil {
		return nil, nil, err
	}

	opts := BackboneOptions{
		Path:           a.BackbonePath(dir),
		InputName:      a.Manifest.InputName,
		OutputName:     a.Manifest.OutputName,
		InputSize:      a.Manifest.InputSize,
		FeatureDim:     a.Manifest.FeatureDim,
		Mean:           a.Manifest.Mean,
		RuntimeLibrary: runtimeLibrary,
	}
	backbone, err := NewONNXBackbone(logger, opts)
	if err != nil {
		return nil, nil, err
	}

	clf, err := NewClassifier(backbone, a.Head, a.Encoder)
	if err != nil {
		backbone.Close()
		return nil, nil, err
	}
	return clf, a, nil
}
