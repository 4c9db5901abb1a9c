package model

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/kikiluvv/vigil/internal/imageproc"
	"github.com/rs/zerolog"
	ort "github.com/yalue/onnxruntime_go"
)

// FeatureExtractor maps a normalized frame to a fixed-width feature vector.
type FeatureExtractor interface {
	Features(ctx context.Context, t *imageproc.Tensor) ([]float64, error)
	Dim() int
	InputSize() int
	Close() error
}

// BackboneOptions describes the exported ONNX feature extractor.
type BackboneOptions struct {
	Path           string
	InputName      string
	OutputName     string
	InputSize      int
	FeatureDim     int
	Mean           [3]float32
	RuntimeLibrary string
}

// DefaultBackboneOptions matches an InceptionV3 export with global average
// pooling applied to its last convolutional block.
func DefaultBackboneOptions(path string) BackboneOptions {
	return BackboneOptions{
		Path:       path,
		InputName:  "input",
		OutputName: "features",
		InputSize:  imageproc.DefaultSize,
		FeatureDim: 2048,
		Mean:       imageproc.ImageNetMean,
	}
}

var runtimeMu sync.Mutex

func initRuntime(lib string) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if lib != "" {
		ort.SetSharedLibraryPath(lib)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}
	return nil
}

// ONNXBackbone runs a frozen feature extractor through ONNX Runtime.
// Calls are serialized; the session is not shared across goroutines.
type ONNXBackbone struct {
	mu      sync.Mutex
	logger  zerolog.Logger
	opts    BackboneOptions
	session *ort.DynamicAdvancedSession
}

// NewONNXBackbone loads the model at opts.Path.
func NewONNXBackbone(logger zerolog.Logger, opts BackboneOptions) (*ONNXBackbone, error) {
	if _, err := os.Stat(opts.Path); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: backbone %s", ErrModelNotFound, opts.Path)
	}
	if opts.InputSize <= 0 || opts.FeatureDim <= 0 {
		return nil, fmt.Errorf("invalid backbone dims: input %d, features %d", opts.InputSize, opts.FeatureDim)
	}

	if err := initRuntime(opts.RuntimeLibrary); err != nil {
		return nil, err
	}

	sess, err := ort.NewDynamicAdvancedSession(
		opts.Path,
		[]string{opts.InputName},
		[]string{opts.OutputName},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create backbone session: %w", err)
	}

	logger.Info().
		Str("model", opts.Path).
		Str("input", opts.InputName).
		Str("output", opts.OutputName).
		Int("feature_dim", opts.FeatureDim).
		Msg("Backbone loaded")

	return &ONNXBackbone{
		logger:  logger.With().Str("component", "backbone").Logger(),
		opts:    opts,
		session: sess,
	}, nil
}

func (b *ONNXBackbone) Dim() int       { return b.opts.FeatureDim }
func (b *ONNXBackbone) InputSize() int { return b.opts.InputSize }

// Features runs one frame through the backbone.
func (b *ONNXBackbone) Features(ctx context.Context, t *imageproc.Tensor) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.Size != b.opts.InputSize {
		return nil, fmt.Errorf("tensor size %d, backbone expects %d", t.Size, b.opts.InputSize)
	}

	size := int64(b.opts.InputSize)
	input, err := ort.NewTensor(ort.NewShape(1, 3, size, size), t.CHW(b.opts.Mean))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(b.opts.FeatureDim)))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer output.Destroy()

	b.mu.Lock()
	err = b.session.Run([]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output})
	b.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("backbone inference failed: %w", err)
	}

	data := output.GetData()
	if len(data) != b.opts.FeatureDim {
		return nil, fmt.Errorf("%w: backbone produced %d features, want %d", ErrIncompatibleModel, len(data), b.opts.FeatureDim)
	}

	features := make([]float64, len(data))
	for i, v := range data {
		features[i] = float64(v)
	}
	return features, nil
}

// Close releases the session and the ONNX environment.
func (b *ONNXBackbone) Close() error {
	b.logger.Debug().Msg("closing backbone session")
	if b.session != nil {
		if err := b.session.Destroy(); err != nil {
			return err
		}
		b.session = nil
	}

	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}
