package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kikiluvv/vigil/internal/config"
	"github.com/kikiluvv/vigil/internal/ffmpeg"
	"github.com/kikiluvv/vigil/internal/metrics"
	"github.com/kikiluvv/vigil/internal/model"
	"github.com/kikiluvv/vigil/internal/pipeline"
	"github.com/kikiluvv/vigil/internal/reporter"
	"github.com/kikiluvv/vigil/internal/storage"
	"github.com/kikiluvv/vigil/internal/video/cv"
)

// buildDeps wires OpenCV, ONNX Runtime, ffmpeg and the optional storage
// backends into pipeline dependencies.
func buildDeps(ctx context.Context, cfg *config.Config, logger zerolog.Logger, rep reporter.Reporter) (pipeline.Deps, func(), error) {
	cleanup := func() {}
	deps := pipeline.Deps{
		Metrics:  metrics.New(),
		Reporter: rep,
		LoadClassifier: func(dir string) (pipeline.LoadedClassifier, error) {
			clf, a, err := model.Load(logger, dir, cfg.Model.RuntimeLibrary)
			if err != nil {
				return nil, err
			}
			logger.Info().
				Str("run_id", a.Manifest.RunID).
				Time("trained", a.Manifest.CreatedAt).
				Strs("classes", labelNames(a)).
				Msg("Model loaded")
			return clf, nil
		},
		OpenBackbone: func(opts model.BackboneOptions) (model.FeatureExtractor, error) {
			return model.NewONNXBackbone(logger, opts)
		},
	}

	var probe cv.FPSProbe
	if ffmpeg.Available() {
		exec, err := ffmpeg.New(logger, cfg.FFmpeg.Threads)
		if err != nil {
			return deps, cleanup, err
		}
		probe = exec.ProbeFPS
		deps.Remuxer = exec
	} else if cfg.Inference.Remux {
		logger.Warn().Msg("ffmpeg not found, annotated videos will not be remuxed")
	}

	backend := cv.New(logger, probe)
	deps.Opener = backend
	deps.ImageWriter = backend
	deps.Plotter = backend

	if s3 := cfg.Storage.S3; s3.Enabled {
		pub, err := storage.NewS3Publisher(logger, storage.S3Config{
			Endpoint:  s3.Endpoint,
			AccessKey: s3.AccessKey,
			SecretKey: s3.SecretKey,
			UseSSL:    s3.UseSSL,
			Bucket:    s3.Bucket,
		})
		if err != nil {
			return deps, cleanup, err
		}
		if err := pub.EnsureBucket(ctx); err != nil {
			return deps, cleanup, err
		}
		deps.Publisher = pub
	}

	if pg := cfg.Storage.Postgres; pg.Enabled {
		store, err := storage.NewPostgresStore(ctx, pg.URL)
		if err != nil {
			return deps, cleanup, fmt.Errorf("verdict store: %w", err)
		}
		deps.Store = store
		cleanup = store.Close
	}

	return deps, cleanup, nil
}

func labelNames(a *model.Artifacts) []string {
	classes := a.Encoder.Classes()
	names := make([]string, len(classes))
	for i, c := range classes {
		names[i] = string(c)
	}
	return names
}
