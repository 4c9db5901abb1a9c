// Package pipeline wires extraction, training and batch prediction
// together over the directory layout.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kikiluvv/vigil/internal/config"
	"github.com/kikiluvv/vigil/internal/dataset"
	"github.com/kikiluvv/vigil/internal/extract"
	"github.com/kikiluvv/vigil/internal/ffmpeg"
	"github.com/kikiluvv/vigil/internal/inference"
	"github.com/kikiluvv/vigil/internal/labels"
	"github.com/kikiluvv/vigil/internal/layout"
	"github.com/kikiluvv/vigil/internal/model"
	"github.com/kikiluvv/vigil/internal/report"
	"github.com/kikiluvv/vigil/internal/reporter"
	"github.com/kikiluvv/vigil/internal/storage"
	"github.com/kikiluvv/vigil/internal/train"
	"github.com/kikiluvv/vigil/internal/video"
	"github.com/kikiluvv/vigil/pkg/util"
)

// Pipeline orchestrates the setup, extract, train and predict stages
type Pipeline struct {
	logger zerolog.Logger
	cfg    *config.Config
	layout layout.Layout
	deps   Deps
}

// New creates a new pipeline instance
func New(logger zerolog.Logger, cfg *config.Config, deps Deps) *Pipeline {
	if cfg == nil {
		cfg = config.Default()
	}
	if deps.Reporter == nil {
		deps.Reporter = reporter.NullReporter{}
	}
	return &Pipeline{
		logger: logger.With().Str("component", "pipeline").Logger(),
		cfg:    cfg,
		layout: layout.New(cfg.BaseDir),
		deps:   deps,
	}
}

// Layout returns the directory layout the pipeline works in.
func (p *Pipeline) Layout() layout.Layout { return p.layout }

// Setup creates the directory tree.
func (p *Pipeline) Setup() error {
	if err := p.layout.Ensure(); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}
	for _, dir := range p.layout.Dirs() {
		p.logger.Debug().Str("dir", dir).Msg("Directory ready")
	}
	p.deps.Reporter.OperationComplete(fmt.Sprintf("Directories ready under %s", p.layout.Base))
	return nil
}

// Extract samples training frames from every labeled source directory.
func (p *Pipeline) Extract(ctx context.Context) (map[labels.Label]int, error) {
	start := time.Now()
	if err := p.layout.Ensure(); err != nil {
		return nil, fmt.Errorf("create directories: %w", err)
	}

	ex := extract.New(p.logger, p.deps.Opener, p.deps.ImageWriter, p.layout, p.cfg.Extract.Stride, p.deps.Reporter)
	counts, err := ex.Run(ctx)
	if m := p.deps.Metrics; m != nil {
		for label, n := range counts {
			m.ObserveExtracted(string(label), n)
		}
		m.ObserveStage("extract", time.Since(start))
		p.writeMetrics()
	}
	if err != nil {
		return counts, err
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	p.logger.Info().Int("frames", total).Dur("elapsed", time.Since(start)).Msg("Extraction complete")
	p.deps.Reporter.OperationComplete(fmt.Sprintf("Extracted %d frames", total))
	return counts, nil
}

func (p *Pipeline) backboneOptions(path string) model.BackboneOptions {
	opts := model.DefaultBackboneOptions(path)
	mc := p.cfg.Model
	if mc.InputName != "" {
		opts.InputName = mc.InputName
	}
	if mc.OutputName != "" {
		opts.OutputName = mc.OutputName
	}
	if mc.InputSize > 0 {
		opts.InputSize = mc.InputSize
	}
	if mc.FeatureDim > 0 {
		opts.FeatureDim = mc.FeatureDim
	}
	opts.RuntimeLibrary = mc.RuntimeLibrary
	return opts
}

// backbonePath picks the training backbone: the explicit option as given,
// then the configured path relative to the base directory, then the model
// directory default.
func (p *Pipeline) backbonePath(opts TrainOptions) string {
	if opts.Backbone != "" {
		return opts.Backbone
	}
	path := p.cfg.Model.BackbonePath
	if path == "" {
		return filepath.Join(p.layout.ModelDir(), model.BackboneFile)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(p.layout.Base, path)
	}
	return path
}

func (p *Pipeline) trainConfig() train.Config {
	tc := p.cfg.Train
	cfg := train.DefaultConfig()
	cfg.Epochs = tc.Epochs
	cfg.BatchSize = tc.BatchSize
	cfg.LearningRate = tc.LearningRate
	cfg.Momentum = tc.Momentum
	cfg.HiddenDim = tc.HiddenUnits
	cfg.Dropout = tc.Dropout
	cfg.Seed = tc.Seed
	if !tc.Augment {
		cfg.Augment = train.AugmentConfig{}
	}
	return cfg
}

// Train builds the dataset from extracted frames, fits the head and saves
// the model together with its evaluation.
func (p *Pipeline) Train(ctx context.Context, opts TrainOptions) (*TrainResult, error) {
	start := time.Now()
	runID := uuid.NewString()
	modelDir := p.layout.ModelDir()
	log := p.logger.With().Str("run_id", runID).Logger()

	backbonePath := p.backbonePath(opts)
	bopts := p.backboneOptions(backbonePath)

	p.deps.Reporter.StageProgress(reporter.StageProgress{Stage: "dataset", Message: "Loading frames"})
	data, err := dataset.Build(ctx, p.layout.FramesRoot(), dataset.Options{Size: bopts.InputSize, Logger: log})
	if err != nil {
		return nil, fmt.Errorf("build dataset: %w", err)
	}
	trainSet, testSet, err := data.Split(p.cfg.Train.TestSplit, p.cfg.Train.Seed)
	if err != nil {
		return nil, fmt.Errorf("split dataset: %w", err)
	}
	log.Info().
		Int("samples", data.Len()).
		Int("skipped", data.Skipped).
		Int("train", trainSet.Len()).
		Int("test", testSet.Len()).
		Msg("Dataset ready")

	backbone, err := p.deps.OpenBackbone(bopts)
	if err != nil {
		return nil, fmt.Errorf("open backbone: %w", err)
	}
	defer backbone.Close()

	p.deps.Reporter.StageProgress(reporter.StageProgress{Stage: "train", Message: "Fitting classification head"})
	cfg := p.trainConfig()
	res, err := train.New(log, backbone, cfg, p.deps.Reporter).Train(ctx, trainSet, testSet)
	if err != nil {
		return nil, fmt.Errorf("train: %w", err)
	}

	artifacts := &model.Artifacts{
		Manifest: &model.Manifest{
			Backbone:   model.RelativeBackbone(modelDir, backbonePath),
			InputName:  bopts.InputName,
			OutputName: bopts.OutputName,
			InputSize:  bopts.InputSize,
			Mean:       bopts.Mean,
			Epochs:     cfg.Epochs,
			CreatedAt:  time.Now().UTC(),
			RunID:      runID,
		},
		Head:    res.Head,
		Encoder: trainSet.Encoder,
	}
	if err := artifacts.Save(modelDir); err != nil {
		return nil, fmt.Errorf("save model: %w", err)
	}

	reportPath := filepath.Join(modelDir, ClassificationReportFile)
	if err := res.Report.Save(reportPath); err != nil {
		return nil, fmt.Errorf("save classification report: %w", err)
	}
	historyPath := filepath.Join(modelDir, HistoryFile)
	if err := res.History.WriteCSV(historyPath); err != nil {
		return nil, fmt.Errorf("save history: %w", err)
	}
	uploads := []string{reportPath, historyPath}
	if p.deps.Plotter != nil {
		plotPath := filepath.Join(modelDir, PlotFile)
		if err := p.deps.Plotter.Plot(plotPath, "Training Loss and Accuracy", res.History.Series()); err != nil {
			log.Warn().Err(err).Msg("Training plot not written")
		} else {
			uploads = append(uploads, plotPath)
		}
	}
	p.publish(ctx, runID, uploads...)

	if m := p.deps.Metrics; m != nil {
		m.ObserveStage("train", time.Since(start))
		p.writeMetrics()
	}

	log.Info().Dur("elapsed", time.Since(start)).Str("model", modelDir).Msg("Model saved")
	p.deps.Reporter.OperationComplete(fmt.Sprintf("Model saved to %s", modelDir))

	return &TrainResult{
		RunID:      runID,
		ModelDir:   modelDir,
		Samples:    data.Counts(),
		Train:      trainSet.Len(),
		Test:       testSet.Len(),
		Report:     res.Report,
		ReportPath: reportPath,
		Elapsed:    time.Since(start),
	}, nil
}

// videos returns the files Predict should classify.
func (p *Pipeline) videos(opts PredictOptions) ([]string, error) {
	if opts.Video != "" {
		if !util.FileExists(opts.Video) {
			return nil, fmt.Errorf("%w: %s", video.ErrVideoNotFound, opts.Video)
		}
		return []string{opts.Video}, nil
	}
	files, err := util.ListFiles(p.layout.InputDir(), video.Extensions)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("list %s: %w", p.layout.InputDir(), err)
	}
	return files, nil
}

// Predict classifies every input video, or only opts.Video, and writes the
// batch report. Failures of individual videos are recorded and the batch
// continues. A missing model is an error before any video is touched.
func (p *Pipeline) Predict(ctx context.Context, opts PredictOptions) (*report.Report, error) {
	start := time.Now()
	modelDir := p.layout.ModelDir()
	if !model.Exists(modelDir) {
		return nil, fmt.Errorf("%w: %s (run `vigil train` first)", model.ErrModelNotFound, modelDir)
	}

	files, err := p.videos(opts)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		p.logger.Warn().Str("dir", p.layout.InputDir()).Msg("No videos found")
		p.deps.Reporter.Warning(fmt.Sprintf("No videos found in %s", p.layout.InputDir()))
		return nil, nil
	}
	if err := util.EnsureDir(p.layout.OutputDir()); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	clf, err := p.deps.LoadClassifier(modelDir)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	defer clf.Close()

	engineOpts := []inference.Option{inference.WithReporter(p.deps.Reporter)}
	if p.deps.Metrics != nil {
		engineOpts = append(engineOpts, inference.WithObserver(p.deps.Metrics))
	}
	engine, err := inference.New(p.logger, clf, p.deps.Opener, inference.Config{
		WindowSize: p.cfg.Inference.WindowSize,
		Threshold:  p.cfg.Inference.Threshold,
	}, engineOpts...)
	if err != nil {
		return nil, err
	}

	rep := report.New(uuid.NewString())
	log := p.logger.With().Str("run_id", rep.RunID).Logger()
	p.deps.Reporter.BatchStarted(reporter.BatchStartInfo{
		TotalFiles: len(files),
		FileList:   files,
		OutputDir:  p.layout.OutputDir(),
	})

	for _, path := range files {
		v, err := p.predictOne(ctx, engine, path)
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		if err != nil {
			log.Error().Err(err).Str("video", path).Msg("Video failed")
			p.deps.Reporter.Error(reporter.ReporterError{
				Title:   "Video failed",
				Message: err.Error(),
				Context: path,
			})
			v.Status = inference.StatusError
			v.Error = err.Error()
		}
		rep.Add(v)
		p.record(ctx, rep.RunID, v)
	}

	reportPath := p.layout.ReportPath()
	if err := rep.Save(reportPath); err != nil {
		return rep, fmt.Errorf("write report: %w", err)
	}
	p.publish(ctx, rep.RunID, reportPath, report.JSONPath(reportPath))

	if m := p.deps.Metrics; m != nil {
		m.ObserveStage("predict", time.Since(start))
		p.writeMetrics()
	}

	p.deps.Reporter.BatchComplete(batchSummary(rep, reportPath, time.Since(start)))
	log.Info().Int("videos", len(files)).Str("report", reportPath).Msg("Batch complete")
	return rep, nil
}

// predictOne classifies one video and optionally remuxes the result.
func (p *Pipeline) predictOne(ctx context.Context, engine *inference.Engine, path string) (inference.Verdict, error) {
	output := p.layout.OutputVideoPath(path)
	remux := p.cfg.Inference.Remux && p.deps.Remuxer != nil
	annotated := output
	if remux {
		annotated = strings.TrimSuffix(output, filepath.Ext(output)) + ".annotated.avi"
	}

	v, err := engine.Process(ctx, path, annotated)
	if err != nil || !remux || v.Status != inference.StatusOK {
		return v, err
	}

	final := strings.TrimSuffix(output, filepath.Ext(output)) + ".mp4"
	err = p.deps.Remuxer.Remux(ctx, ffmpeg.RemuxOptions{
		Annotated: annotated,
		Source:    path,
		Output:    final,
		CRF:       p.cfg.FFmpeg.CRF,
		Preset:    p.cfg.FFmpeg.Preset,
	})
	if err != nil {
		if ctx.Err() != nil {
			return v, ctx.Err()
		}
		p.logger.Warn().Err(err).Str("video", v.Video).Msg("Remux failed, keeping annotated output")
		return v, nil
	}
	util.CleanupFiles(annotated)
	v.Output = final
	return v, nil
}

// record hands a verdict to the optional sinks. Failures there never fail
// the batch.
func (p *Pipeline) record(ctx context.Context, runID string, v inference.Verdict) {
	if p.deps.Metrics != nil {
		p.deps.Metrics.ObserveVerdict(v)
	}
	if p.deps.Store != nil {
		if err := p.deps.Store.SaveVerdict(ctx, runID, v); err != nil {
			p.logger.Warn().Err(err).Str("video", v.Video).Msg("Verdict not stored")
		}
	}
	if p.cfg.Storage.S3.UploadVideos && v.Status == inference.StatusOK && v.Output != "" {
		p.publish(ctx, runID, v.Output)
	}
}

func (p *Pipeline) publish(ctx context.Context, runID string, paths ...string) {
	if p.deps.Publisher == nil {
		return
	}
	for _, path := range paths {
		if err := p.deps.Publisher.Publish(ctx, storage.ObjectKey(runID, path), path); err != nil {
			p.logger.Warn().Err(err).Str("path", path).Msg("Upload failed")
		}
	}
}

func (p *Pipeline) writeMetrics() {
	if err := p.deps.Metrics.WriteTextfile(p.cfg.Metrics.TextfilePath); err != nil {
		p.logger.Warn().Err(err).Msg("Metrics textfile not written")
	}
}

func batchSummary(rep *report.Report, reportPath string, elapsed time.Duration) reporter.BatchSummary {
	s := reporter.BatchSummary{
		TotalFiles:    len(rep.Verdicts),
		TotalDuration: elapsed,
		ReportPath:    reportPath,
	}
	for _, v := range rep.Verdicts {
		if v.Status == inference.StatusOK {
			s.SuccessfulCount++
		}
		s.Results = append(s.Results, reporter.BatchResult{
			Filename:   v.Video,
			Percentage: v.Percentage,
			Status:     string(v.Status),
		})
	}
	return s
}
