// Package inference classifies every frame of a video, smooths the
// per-frame predictions over a moving window and writes an annotated copy.
package inference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/kikiluvv/vigil/internal/imageproc"
	"github.com/kikiluvv/vigil/internal/labels"
	"github.com/kikiluvv/vigil/internal/reporter"
	"github.com/kikiluvv/vigil/internal/video"
	"github.com/kikiluvv/vigil/pkg/util"
	"github.com/rs/zerolog"
)

// DefaultThreshold is the exclusive decision threshold on the smoothed
// violence probability.
const DefaultThreshold = 0.5

// Classifier predicts class probabilities for a single normalized frame.
type Classifier interface {
	Classify(ctx context.Context, t *imageproc.Tensor) (Prediction, error)
	Labels() *labels.Encoder
	InputSize() int
}

// Observer receives per-frame timings. Implemented by the metrics package.
type Observer interface {
	ObserveFrame(d time.Duration, violent bool)
}

// Config controls smoothing.
type Config struct {
	WindowSize int
	Threshold  float64
}

// DefaultConfig returns a 128 frame window and a 0.5 threshold.
func DefaultConfig() Config {
	return Config{WindowSize: DefaultWindowSize, Threshold: DefaultThreshold}
}

// Engine runs videos through a classifier one at a time.
type Engine struct {
	logger     zerolog.Logger
	classifier Classifier
	opener     video.Opener
	cfg        Config
	reporter   reporter.Reporter
	observer   Observer
	violentIdx int
}

// Option configures an Engine.
type Option func(*Engine)

// WithReporter sends frame progress to r.
func WithReporter(r reporter.Reporter) Option {
	return func(e *Engine) { e.reporter = r }
}

// WithObserver records per-frame timings.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// New creates an Engine. The classifier's encoder must contain the
// Violence label.
func New(logger zerolog.Logger, classifier Classifier, opener video.Opener, cfg Config, opts ...Option) (*Engine, error) {
	idx, ok := classifier.Labels().Index(labels.Violence)
	if !ok {
		return nil, fmt.Errorf("%w: classifier has no %s class", labels.ErrUnknownLabel, labels.Violence)
	}
	if cfg.WindowSize < 1 {
		cfg.WindowSize = DefaultWindowSize
	}
	if cfg.Threshold <= 0 || cfg.Threshold >= 1 {
		cfg.Threshold = DefaultThreshold
	}

	e := &Engine{
		logger:     logger.With().Str("component", "inference").Logger(),
		classifier: classifier,
		opener:     opener,
		cfg:        cfg,
		reporter:   reporter.NullReporter{},
		violentIdx: idx,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Process classifies every frame of input and writes the annotated frames
// to output. A video that yields no frames produces a StatusEmpty verdict
// with 0%. Source and sink are released on every return path.
func (e *Engine) Process(ctx context.Context, input, output string) (v Verdict, err error) {
	v = Verdict{Video: filepath.Base(input), Output: output, Status: StatusError}
	log := e.logger.With().Str("video", v.Video).Logger()
	start := time.Now()

	src, err := e.opener.Open(input)
	if err != nil {
		if errors.Is(err, video.ErrVideoNotFound) {
			return v, err
		}
		log.Warn().Err(err).Msg("Video could not be opened, treating as empty")
		v.Status = StatusEmpty
		v.Output = ""
		return v, nil
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			log.Debug().Err(cerr).Msg("close source")
		}
	}()

	props := src.Properties()
	sink, err := e.opener.Create(output, props)
	if err != nil {
		return v, fmt.Errorf("create output: %w", err)
	}
	defer func() {
		if cerr := sink.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close output: %w", cerr)
		}
		// A video without frames leaves no output behind.
		if v.Frames == 0 {
			util.CleanupFiles(output)
			v.Output = ""
		}
	}()

	e.reporter.VideoStarted(reporter.VideoStartInfo{
		InputFile:   input,
		OutputFile:  output,
		TotalFrames: props.FrameCount,
		FPS:         props.FPS,
		Resolution:  fmt.Sprintf("%dx%d", props.Width, props.Height),
	})

	window := NewWindow(e.cfg.WindowSize)
	size := e.classifier.InputSize()

	for {
		if err := ctx.Err(); err != nil {
			return v, err
		}

		frame, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Warn().Err(err).Int("frame", v.Frames).Msg("Frame read failed, ending stream")
			break
		}

		frameStart := time.Now()
		tensor, err := imageproc.Normalize(frame.Image, size)
		if err != nil {
			return v, fmt.Errorf("normalize frame %d: %w", frame.Index, err)
		}
		pred, err := e.classifier.Classify(ctx, tensor)
		if err != nil {
			return v, fmt.Errorf("classify frame %d: %w", frame.Index, err)
		}
		if err := window.Push(pred); err != nil {
			return v, fmt.Errorf("frame %d: %w", frame.Index, err)
		}

		mean := window.Mean()
		prob := mean[e.violentIdx]
		violent := prob > e.cfg.Threshold

		if err := sink.Write(frame, video.Annotation{Violent: violent, Probability: prob}); err != nil {
			return v, fmt.Errorf("write frame %d: %w", frame.Index, err)
		}

		v.Frames++
		if violent {
			v.ViolentFrames++
		}
		if e.observer != nil {
			e.observer.ObserveFrame(time.Since(frameStart), violent)
		}
		e.reporter.FrameProgress(reporter.FrameProgress{
			Frames:      v.Frames,
			TotalFrames: props.FrameCount,
			Violent:     violent,
		})
	}

	v.Percentage = Percentage(v.ViolentFrames, v.Frames)
	v.Status = StatusOK
	if v.Frames == 0 {
		v.Status = StatusEmpty
	}

	log.Info().
		Int("frames", v.Frames).
		Int("violent", v.ViolentFrames).
		Float64("percentage", v.Percentage).
		Str("status", string(v.Status)).
		Dur("elapsed", time.Since(start)).
		Msg("Video classified")

	e.reporter.VideoComplete(reporter.VideoSummary{
		InputFile:     input,
		OutputFile:    output,
		Frames:        v.Frames,
		ViolentFrames: v.ViolentFrames,
		Percentage:    v.Percentage,
		Status:        string(v.Status),
		Elapsed:       time.Since(start),
	})
	return v, nil
}
