package pipeline

import (
	"context"
	"time"

	"github.com/kikiluvv/vigil/internal/ffmpeg"
	"github.com/kikiluvv/vigil/internal/inference"
	"github.com/kikiluvv/vigil/internal/labels"
	"github.com/kikiluvv/vigil/internal/metrics"
	"github.com/kikiluvv/vigil/internal/model"
	"github.com/kikiluvv/vigil/internal/reporter"
	"github.com/kikiluvv/vigil/internal/storage"
	"github.com/kikiluvv/vigil/internal/train"
	"github.com/kikiluvv/vigil/internal/video"
)

// LoadedClassifier is a classifier that holds native resources.
type LoadedClassifier interface {
	inference.Classifier
	Close() error
}

// ClassifierLoader opens the trained classifier stored in dir.
type ClassifierLoader func(dir string) (LoadedClassifier, error)

// BackboneFactory opens the feature extractor used for training.
type BackboneFactory func(opts model.BackboneOptions) (model.FeatureExtractor, error)

// Remuxer re-encodes an annotated video with its source audio.
type Remuxer interface {
	Remux(ctx context.Context, opts ffmpeg.RemuxOptions) error
}

// Deps are the collaborators a Pipeline drives. Opener, ImageWriter,
// LoadClassifier and OpenBackbone are required for the stages that use
// them; the rest are optional.
type Deps struct {
	Opener         video.Opener
	ImageWriter    video.ImageWriter
	Plotter        video.Plotter
	LoadClassifier ClassifierLoader
	OpenBackbone   BackboneFactory
	Remuxer        Remuxer
	Publisher      storage.Publisher
	Store          storage.VerdictStore
	Metrics        *metrics.Metrics
	Reporter       reporter.Reporter
}

// PredictOptions selects what Predict classifies.
type PredictOptions struct {
	// Video is a single file to classify instead of the input directory
	Video string
}

// TrainOptions overrides the configured backbone.
type TrainOptions struct {
	Backbone string
}

// TrainResult summarizes a training run.
type TrainResult struct {
	RunID      string
	ModelDir   string
	Samples    map[labels.Label]int
	Train      int
	Test       int
	Report     *train.ClassificationReport
	ReportPath string
	Elapsed    time.Duration
}

// Training artifact names, written next to the model.
const (
	ClassificationReportFile = "classification_report.txt"
	HistoryFile              = "training_history.csv"
	PlotFile                 = "training_plot.png"
)
