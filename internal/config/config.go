package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type contextKey string

const configKey contextKey = "config"

// EnvPrefix namespaces environment overrides, e.g. VIGIL_BASE_DIR.
const EnvPrefix = "VIGIL_"

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds all application configuration
type Config struct {
	// Root of the dataset/input/output/model/logs tree
	BaseDir string `yaml:"base_dir" env:"BASE_DIR"`

	Extract   ExtractConfig   `yaml:"extract" envPrefix:"EXTRACT_"`
	Train     TrainConfig     `yaml:"train" envPrefix:"TRAIN_"`
	Inference InferenceConfig `yaml:"inference" envPrefix:"INFERENCE_"`
	Model     ModelConfig     `yaml:"model" envPrefix:"MODEL_"`
	FFmpeg    FFmpegConfig    `yaml:"ffmpeg" envPrefix:"FFMPEG_"`
	Logging   LoggingConfig   `yaml:"logging" envPrefix:"LOG_"`
	Metrics   MetricsConfig   `yaml:"metrics" envPrefix:"METRICS_"`
	Storage   StorageConfig   `yaml:"storage" envPrefix:"STORAGE_"`
}

type ExtractConfig struct {
	Stride int `yaml:"stride" env:"STRIDE"`
}

type TrainConfig struct {
	Epochs       int     `yaml:"epochs" env:"EPOCHS"`
	BatchSize    int     `yaml:"batch_size" env:"BATCH_SIZE"`
	LearningRate float64 `yaml:"learning_rate" env:"LEARNING_RATE"`
	Momentum     float64 `yaml:"momentum" env:"MOMENTUM"`
	HiddenUnits  int     `yaml:"hidden_units" env:"HIDDEN_UNITS"`
	Dropout      float64 `yaml:"dropout" env:"DROPOUT"`
	TestSplit    float64 `yaml:"test_split" env:"TEST_SPLIT"`
	Seed         int64   `yaml:"seed" env:"SEED"`
	Augment      bool    `yaml:"augment" env:"AUGMENT"`
}

type InferenceConfig struct {
	WindowSize int     `yaml:"window_size" env:"WINDOW_SIZE"`
	Threshold  float64 `yaml:"threshold" env:"THRESHOLD"`
	// Remux annotated output to H.264 with the source audio
	Remux bool `yaml:"remux" env:"REMUX"`
}

type ModelConfig struct {
	// ONNX feature extractor used for training. Relative paths resolve
	// against BaseDir; empty means <base>/model/backbone.onnx.
	BackbonePath   string `yaml:"backbone_path" env:"BACKBONE_PATH"`
	InputName      string `yaml:"input_name" env:"INPUT_NAME"`
	OutputName     string `yaml:"output_name" env:"OUTPUT_NAME"`
	InputSize      int    `yaml:"input_size" env:"INPUT_SIZE"`
	FeatureDim     int    `yaml:"feature_dim" env:"FEATURE_DIM"`
	RuntimeLibrary string `yaml:"runtime_library" env:"RUNTIME_LIBRARY"`
}

type FFmpegConfig struct {
	Threads int    `yaml:"threads" env:"THREADS"`
	Preset  string `yaml:"preset" env:"PRESET"`
	CRF     int    `yaml:"crf" env:"CRF"`
}

type LoggingConfig struct {
	// Tee JSON logs into the logs directory
	File bool `yaml:"file" env:"FILE"`
}

type MetricsConfig struct {
	// Prometheus textfile written after each run; empty disables
	TextfilePath string `yaml:"textfile_path" env:"TEXTFILE_PATH"`
}

type StorageConfig struct {
	S3       S3Config       `yaml:"s3" envPrefix:"S3_"`
	Postgres PostgresConfig `yaml:"postgres" envPrefix:"PG_"`
}

type S3Config struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Endpoint  string `yaml:"endpoint" env:"ENDPOINT"`
	AccessKey string `yaml:"access_key" env:"ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"SECRET_KEY"`
	UseSSL    bool   `yaml:"use_ssl" env:"USE_SSL"`
	Bucket    string `yaml:"bucket" env:"BUCKET"`
	// Upload annotated videos in addition to reports
	UploadVideos bool `yaml:"upload_videos" env:"UPLOAD_VIDEOS"`
}

type PostgresConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	URL     string `yaml:"url" env:"URL"`
}

// Load reads configuration from file or returns defaults, then applies
// VIGIL_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = findConfigFile()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	return cfg, nil
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
		}
	}

	check(c.Extract.Stride >= 1, "extract.stride must be >= 1, got %d", c.Extract.Stride)
	check(c.Inference.WindowSize >= 1, "inference.window_size must be >= 1, got %d", c.Inference.WindowSize)
	check(c.Inference.Threshold > 0 && c.Inference.Threshold < 1, "inference.threshold must be in (0,1), got %g", c.Inference.Threshold)
	check(c.Train.TestSplit > 0 && c.Train.TestSplit < 1, "train.test_split must be in (0,1), got %g", c.Train.TestSplit)
	check(c.Train.Epochs >= 1, "train.epochs must be >= 1, got %d", c.Train.Epochs)
	check(c.Train.BatchSize >= 1, "train.batch_size must be >= 1, got %d", c.Train.BatchSize)
	check(c.Train.LearningRate > 0, "train.learning_rate must be > 0, got %g", c.Train.LearningRate)
	check(c.Train.Dropout >= 0 && c.Train.Dropout < 1, "train.dropout must be in [0,1), got %g", c.Train.Dropout)
	check(c.Train.HiddenUnits >= 1, "train.hidden_units must be >= 1, got %d", c.Train.HiddenUnits)
	check(c.Model.InputSize >= 1, "model.input_size must be >= 1, got %d", c.Model.InputSize)
	check(c.Model.FeatureDim >= 1, "model.feature_dim must be >= 1, got %d", c.Model.FeatureDim)
	if c.Storage.S3.Enabled {
		check(c.Storage.S3.Endpoint != "" && c.Storage.S3.Bucket != "", "storage.s3 needs endpoint and bucket")
	}
	if c.Storage.Postgres.Enabled {
		check(c.Storage.Postgres.URL != "", "storage.postgres needs url")
	}

	return errors.Join(errs...)
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		BaseDir: ".",
		Extract: ExtractConfig{
			Stride: 5,
		},
		Train: TrainConfig{
			Epochs:       25,
			BatchSize:    32,
			LearningRate: 1e-4,
			Momentum:     0.9,
			HiddenUnits:  512,
			Dropout:      0.5,
			TestSplit:    0.25,
			Seed:         42,
			Augment:      true,
		},
		Inference: InferenceConfig{
			WindowSize: 128,
			Threshold:  0.5,
			Remux:      false,
		},
		Model: ModelConfig{
			InputName:  "input",
			OutputName: "features",
			InputSize:  224,
			FeatureDim: 2048,
		},
		FFmpeg: FFmpegConfig{
			Threads: 0,
			Preset:  "medium",
			CRF:     23,
		},
		Storage: StorageConfig{
			S3: S3Config{
				Bucket: "vigil",
			},
		},
	}
}

func findConfigFile() string {
	candidates := []string{
		"./config.yaml",
		"./config.yml",
		filepath.Join(os.Getenv("HOME"), ".vigil", "config.yaml"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// WithConfig stores config in context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from context
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey).(*Config); ok {
		return cfg
	}
	return defaultConfig()
}
