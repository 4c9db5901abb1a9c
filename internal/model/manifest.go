package model

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FormatVersion is bumped whenever the artifact layout changes.
const FormatVersion = 1

const (
	ManifestFile = "manifest.yaml"
	HeadFile     = "head.json"
	LabelsFile   = "labels.json"
	BackboneFile = "backbone.onnx"
)

// Manifest records how a model was trained so inference can reproduce the
// same preprocessing.
type Manifest struct {
	Version          int        `yaml:"version"`
	Backbone         string     `yaml:"backbone"`
	InputName        string     `yaml:"input_name"`
	OutputName       string     `yaml:"output_name"`
	InputSize        int        `yaml:"input_size"`
	Mean             [3]float32 `yaml:"mean"`
	FeatureDim       int        `yaml:"feature_dim"`
	HiddenDim        int        `yaml:"hidden_dim"`
	LabelFingerprint string     `yaml:"label_fingerprint"`
	Epochs           int        `yaml:"epochs"`
	CreatedAt        time.Time  `yaml:"created_at"`
	RunID            string     `yaml:"run_id"`
}

// LoadManifest reads a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &m, nil
}

// Save writes the manifest as YAML.
func (m *Manifest) Save(path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
