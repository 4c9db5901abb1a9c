package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kikiluvv/vigil/internal/config"
	"github.com/kikiluvv/vigil/internal/dataset"
	"github.com/kikiluvv/vigil/internal/ffmpeg"
	"github.com/kikiluvv/vigil/internal/imageproc"
	"github.com/kikiluvv/vigil/internal/inference"
	"github.com/kikiluvv/vigil/internal/labels"
	"github.com/kikiluvv/vigil/internal/layout"
	"github.com/kikiluvv/vigil/internal/metrics"
	"github.com/kikiluvv/vigil/internal/model"
	"github.com/kikiluvv/vigil/internal/report"
	"github.com/kikiluvv/vigil/internal/video"
	"github.com/kikiluvv/vigil/internal/video/videotest"
)

var (
	red   = color.RGBA{R: 255, A: 255}
	green = color.RGBA{G: 255, A: 255}
)

// redClassifier calls a frame violent when its first pixel is red.
type redClassifier struct {
	closed bool
}

func (c *redClassifier) Classify(_ context.Context, t *imageproc.Tensor) (inference.Prediction, error) {
	if t.Pix[0] > 128 {
		return inference.Prediction{0.9, 0.1}, nil
	}
	return inference.Prediction{0.1, 0.9}, nil
}
func (c *redClassifier) Labels() *labels.Encoder { return labels.Default() }
func (c *redClassifier) InputSize() int          { return 8 }
func (c *redClassifier) Close() error {
	c.closed = true
	return nil
}

// colorBackbone returns mean red and green intensity in [0,1].
type colorBackbone struct{}

func (colorBackbone) Features(_ context.Context, t *imageproc.Tensor) ([]float64, error) {
	var r, g float64
	for i := 0; i < len(t.Pix); i += 3 {
		r += float64(t.Pix[i])
		g += float64(t.Pix[i+1])
	}
	n := float64(len(t.Pix)/3) * 255
	return []float64{r / n, g / n}, nil
}
func (colorBackbone) Dim() int       { return 2 }
func (colorBackbone) InputSize() int { return 6 }
func (colorBackbone) Close() error   { return nil }

type fakePlotter struct {
	path   string
	series []video.Series
}

func (p *fakePlotter) Plot(path, _ string, series []video.Series) error {
	p.path = path
	p.series = series
	return os.WriteFile(path, []byte("png"), 0644)
}

type fakePublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *fakePublisher) Publish(_ context.Context, key, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return nil
}

type fakeStore struct {
	runIDs   []string
	verdicts []inference.Verdict
}

func (s *fakeStore) SaveVerdict(_ context.Context, runID string, v inference.Verdict) error {
	s.runIDs = append(s.runIDs, runID)
	s.verdicts = append(s.verdicts, v)
	return nil
}
func (s *fakeStore) Close() {}

type fakeRemuxer struct {
	calls []ffmpeg.RemuxOptions
}

func (r *fakeRemuxer) Remux(_ context.Context, opts ffmpeg.RemuxOptions) error {
	r.calls = append(r.calls, opts)
	return nil
}

func solidFrames(n int, c color.RGBA) []image.Image {
	out := make([]image.Image, n)
	for i := range out {
		img := image.NewRGBA(image.Rect(0, 0, 8, 8))
		for y := 0; y < 8; y++ {
			for x := 0; x < 8; x++ {
				img.SetRGBA(x, y, c)
			}
		}
		out[i] = img
	}
	return out
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, nil, 0644))
}

func writePNG(t *testing.T, path string, c color.RGBA) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, solidFrames(1, c)[0]))
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.BaseDir = t.TempDir()
	return cfg
}

// saveModel writes placeholder artifacts so the model directory counts as
// trained.
func saveModel(t *testing.T, dir string) {
	t.Helper()
	a := &model.Artifacts{
		Manifest: &model.Manifest{Backbone: model.BackboneFile, InputSize: 8},
		Head:     model.NewHead(2, 4, 2, rand.New(rand.NewSource(1))),
		Encoder:  labels.Default(),
	}
	require.NoError(t, a.Save(dir))
}

func newPredictPipeline(t *testing.T, cfg *config.Config, opener *videotest.Opener, clf *redClassifier, deps Deps) *Pipeline {
	t.Helper()
	deps.Opener = opener
	deps.LoadClassifier = func(string) (LoadedClassifier, error) { return clf, nil }
	return New(zerolog.Nop(), cfg, deps)
}

func TestSetup(t *testing.T) {
	cfg := testConfig(t)
	p := New(zerolog.Nop(), cfg, Deps{})
	require.NoError(t, p.Setup())
	for _, dir := range p.Layout().Dirs() {
		assert.DirExists(t, dir)
	}
	require.NoError(t, p.Setup())
}

func TestPredictMissingModel(t *testing.T) {
	cfg := testConfig(t)
	loaded := false
	p := New(zerolog.Nop(), cfg, Deps{
		Opener: videotest.NewOpener(),
		LoadClassifier: func(string) (LoadedClassifier, error) {
			loaded = true
			return &redClassifier{}, nil
		},
	})
	touch(t, filepath.Join(p.Layout().InputDir(), "a.mp4"))

	_, err := p.Predict(context.Background(), PredictOptions{})
	assert.ErrorIs(t, err, model.ErrModelNotFound)
	assert.False(t, loaded)
	assert.NoFileExists(t, p.Layout().ReportPath())
}

func TestPredictMissingVideo(t *testing.T) {
	cfg := testConfig(t)
	p := newPredictPipeline(t, cfg, videotest.NewOpener(), &redClassifier{}, Deps{})
	saveModel(t, p.Layout().ModelDir())

	_, err := p.Predict(context.Background(), PredictOptions{Video: filepath.Join(cfg.BaseDir, "nope.mp4")})
	assert.ErrorIs(t, err, video.ErrVideoNotFound)
}

func TestPredictNoVideos(t *testing.T) {
	cfg := testConfig(t)
	p := newPredictPipeline(t, cfg, videotest.NewOpener(), &redClassifier{}, Deps{})
	saveModel(t, p.Layout().ModelDir())
	touch(t, filepath.Join(p.Layout().InputDir(), "notes.txt"))

	rep, err := p.Predict(context.Background(), PredictOptions{})
	require.NoError(t, err)
	assert.Nil(t, rep)
	assert.NoFileExists(t, p.Layout().ReportPath())
}

func TestPredictBatch(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.S3.UploadVideos = true
	cfg.Metrics.TextfilePath = filepath.Join(cfg.BaseDir, "vigil.prom")

	opener := videotest.NewOpener()
	clf := &redClassifier{}
	pub := &fakePublisher{}
	store := &fakeStore{}
	m := metrics.New()
	p := newPredictPipeline(t, cfg, opener, clf, Deps{Publisher: pub, Store: store, Metrics: m})
	l := p.Layout()
	saveModel(t, l.ModelDir())

	props := video.Properties{FPS: 30, Width: 8, Height: 8}
	fight := filepath.Join(l.InputDir(), "a.mp4")
	empty := filepath.Join(l.InputDir(), "b.avi")
	broken := filepath.Join(l.InputDir(), "C.mov")
	for _, path := range []string{fight, empty, broken, filepath.Join(l.InputDir(), "readme.txt")} {
		touch(t, path)
	}
	opener.Add(fight, &videotest.Source{Props: props, Images: solidFrames(10, red)})
	opener.Add(empty, &videotest.Source{Props: props})

	rep, err := p.Predict(context.Background(), PredictOptions{})
	require.NoError(t, err)
	require.Len(t, rep.Verdicts, 3)
	assert.True(t, clf.closed)

	assert.Equal(t, inference.StatusOK, rep.Verdicts[0].Status)
	assert.Equal(t, 100.0, rep.Verdicts[0].Percentage)
	assert.Equal(t, inference.StatusEmpty, rep.Verdicts[1].Status)
	assert.Equal(t, inference.StatusError, rep.Verdicts[2].Status)
	assert.NotEmpty(t, rep.Verdicts[2].Error)

	sink, ok := opener.Sink(l.OutputVideoPath(fight))
	require.True(t, ok)
	assert.Len(t, sink.Frames, 10)

	text, err := os.ReadFile(l.ReportPath())
	require.NoError(t, err)
	assert.Contains(t, string(text), "a.mp4      | 100.00%")
	assert.Contains(t, string(text), "b.avi      | unreadable")
	assert.Contains(t, string(text), "C.mov      | error")

	data, err := os.ReadFile(report.JSONPath(l.ReportPath()))
	require.NoError(t, err)
	var decoded report.Report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, rep.RunID, decoded.RunID)

	require.Len(t, store.verdicts, 3)
	assert.Equal(t, rep.RunID, store.runIDs[0])

	assert.Contains(t, pub.keys, rep.RunID+"/processed_a.mp4")
	assert.Contains(t, pub.keys, rep.RunID+"/"+filepath.Base(l.ReportPath()))
	assert.Contains(t, pub.keys, rep.RunID+"/"+filepath.Base(report.JSONPath(l.ReportPath())))

	prom, err := os.ReadFile(cfg.Metrics.TextfilePath)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `vigil_videos_processed_total{status="error"} 1`)
	assert.Contains(t, string(prom), `vigil_frames_classified_total{violent="true"} 10`)
}

func TestPredictSingleVideoWithRemux(t *testing.T) {
	cfg := testConfig(t)
	cfg.Inference.Remux = true

	opener := videotest.NewOpener()
	remuxer := &fakeRemuxer{}
	p := newPredictPipeline(t, cfg, opener, &redClassifier{}, Deps{Remuxer: remuxer})
	l := p.Layout()
	saveModel(t, l.ModelDir())

	src := filepath.Join(cfg.BaseDir, "elsewhere", "clip.avi")
	touch(t, src)
	opener.Add(src, &videotest.Source{
		Props:  video.Properties{FPS: 25, Width: 8, Height: 8},
		Images: append(solidFrames(3, green), solidFrames(1, red)...),
	})

	rep, err := p.Predict(context.Background(), PredictOptions{Video: src})
	require.NoError(t, err)
	require.Len(t, rep.Verdicts, 1)

	v := rep.Verdicts[0]
	assert.Equal(t, 4, v.Frames)
	assert.Equal(t, 0, v.ViolentFrames)
	assert.Equal(t, filepath.Join(l.OutputDir(), "processed_clip.mp4"), v.Output)

	require.Len(t, remuxer.calls, 1)
	call := remuxer.calls[0]
	assert.Equal(t, src, call.Source)
	assert.True(t, strings.HasSuffix(call.Annotated, ".annotated.avi"))
	_, ok := opener.Sink(call.Annotated)
	assert.True(t, ok)
}

func TestPredictCancelled(t *testing.T) {
	cfg := testConfig(t)
	opener := videotest.NewOpener()
	p := newPredictPipeline(t, cfg, opener, &redClassifier{}, Deps{})
	l := p.Layout()
	saveModel(t, l.ModelDir())

	src := filepath.Join(l.InputDir(), "a.mp4")
	touch(t, src)
	opener.Add(src, &videotest.Source{Props: video.Properties{FPS: 30, Width: 8, Height: 8}, Images: solidFrames(5, red)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Predict(ctx, PredictOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, l.ReportPath())
}

func TestExtract(t *testing.T) {
	cfg := testConfig(t)
	cfg.Extract.Stride = 5
	opener := videotest.NewOpener()
	m := metrics.New()
	p := New(zerolog.Nop(), cfg, Deps{Opener: opener, ImageWriter: opener, Metrics: m})
	l := p.Layout()

	v := filepath.Join(l.SourceDir(labels.Violence), "v1.mp4")
	n := filepath.Join(l.SourceDir(labels.NonViolence), "n1.avi")
	touch(t, v)
	touch(t, n)
	opener.Add(v, &videotest.Source{Images: solidFrames(12, red)})
	opener.Add(n, &videotest.Source{Images: solidFrames(5, green)})

	counts, err := p.Extract(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, counts[labels.Violence])
	assert.Equal(t, 1, counts[labels.NonViolence])

	images := opener.Images()
	assert.Contains(t, images, filepath.Join(l.FramesDir(labels.Violence), "v1-0010.jpg"))
	assert.Contains(t, images, filepath.Join(l.FramesDir(labels.NonViolence), "n1-0000.jpg"))
}

func trainConfig(t *testing.T) *config.Config {
	cfg := testConfig(t)
	cfg.Model.InputSize = 6
	cfg.Model.FeatureDim = 2
	cfg.Train.Epochs = 3
	cfg.Train.BatchSize = 4
	cfg.Train.HiddenUnits = 4
	cfg.Train.Augment = false
	return cfg
}

func writeFrames(t *testing.T, l layout.Layout, violent, nonViolent int) {
	t.Helper()
	for i := 0; i < violent; i++ {
		writePNG(t, filepath.Join(l.FramesDir(labels.Violence), fmt.Sprintf("v-%04d.png", i)), red)
	}
	for i := 0; i < nonViolent; i++ {
		writePNG(t, filepath.Join(l.FramesDir(labels.NonViolence), fmt.Sprintf("n-%04d.png", i)), green)
	}
}

// recordingBackbone returns a factory that records the options it was
// opened with.
func recordingBackbone(opened *model.BackboneOptions) BackboneFactory {
	return func(opts model.BackboneOptions) (model.FeatureExtractor, error) {
		*opened = opts
		return colorBackbone{}, nil
	}
}

func TestTrain(t *testing.T) {
	cfg := trainConfig(t)
	plotter := &fakePlotter{}
	var opened model.BackboneOptions
	p := New(zerolog.Nop(), cfg, Deps{Plotter: plotter, OpenBackbone: recordingBackbone(&opened)})
	l := p.Layout()
	writeFrames(t, l, 4, 4)

	res, err := p.Train(context.Background(), TrainOptions{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(l.ModelDir(), model.BackboneFile), opened.Path)
	assert.Equal(t, 6, opened.InputSize)
	assert.Equal(t, 6, res.Train)
	assert.Equal(t, 2, res.Test)
	assert.Equal(t, 4, res.Samples[labels.Violence])

	a, err := model.LoadArtifacts(l.ModelDir())
	require.NoError(t, err)
	assert.Equal(t, res.RunID, a.Manifest.RunID)
	assert.Equal(t, model.BackboneFile, a.Manifest.Backbone)
	assert.Equal(t, 3, a.Manifest.Epochs)

	assert.FileExists(t, filepath.Join(l.ModelDir(), ClassificationReportFile))
	assert.FileExists(t, filepath.Join(l.ModelDir(), HistoryFile))
	assert.Equal(t, filepath.Join(l.ModelDir(), PlotFile), plotter.path)
	assert.Len(t, plotter.series, 4)
}

func TestTrainBackboneFollowsBaseDir(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		option     string
		want       func(base string) string
		manifest   func(base string) string
	}{
		{
			name:     "default",
			want:     func(base string) string { return filepath.Join(base, "model", model.BackboneFile) },
			manifest: func(string) string { return model.BackboneFile },
		},
		{
			name:       "configured relative",
			configured: filepath.Join("weights", "inception.onnx"),
			want:       func(base string) string { return filepath.Join(base, "weights", "inception.onnx") },
			manifest:   func(base string) string { return filepath.Join(base, "weights", "inception.onnx") },
		},
		{
			name:       "option wins",
			configured: "ignored.onnx",
			option:     "/opt/models/backbone.onnx",
			want:       func(string) string { return "/opt/models/backbone.onnx" },
			manifest:   func(string) string { return "/opt/models/backbone.onnx" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := trainConfig(t)
			cfg.Model.BackbonePath = tt.configured
			var opened model.BackboneOptions
			p := New(zerolog.Nop(), cfg, Deps{OpenBackbone: recordingBackbone(&opened)})
			writeFrames(t, p.Layout(), 4, 4)

			_, err := p.Train(context.Background(), TrainOptions{Backbone: tt.option})
			require.NoError(t, err)
			assert.Equal(t, tt.want(cfg.BaseDir), opened.Path)

			a, err := model.LoadArtifacts(p.Layout().ModelDir())
			require.NoError(t, err)
			assert.Equal(t, tt.manifest(cfg.BaseDir), a.Manifest.Backbone)
		})
	}
}

func TestDefaultConfigTrainsFromBaseDir(t *testing.T) {
	cfg := config.Default()
	assert.Empty(t, cfg.Model.BackbonePath)

	cfg.BaseDir = t.TempDir()
	p := New(zerolog.Nop(), cfg, Deps{})
	assert.Equal(t, filepath.Join(cfg.BaseDir, "model", model.BackboneFile), p.backbonePath(TrainOptions{}))
}

func TestTrainRejectsSingleLabel(t *testing.T) {
	for name, frames := range map[string][2]int{
		"violence only":     {8, 0},
		"non-violence only": {0, 8},
	} {
		t.Run(name, func(t *testing.T) {
			cfg := trainConfig(t)
			p := New(zerolog.Nop(), cfg, Deps{
				OpenBackbone: func(model.BackboneOptions) (model.FeatureExtractor, error) {
					t.Fatal("backbone opened for a single-label dataset")
					return nil, nil
				},
			})
			writeFrames(t, p.Layout(), frames[0], frames[1])

			_, err := p.Train(context.Background(), TrainOptions{})
			assert.ErrorIs(t, err, dataset.ErrEmptyDataset)
			assert.False(t, model.Exists(p.Layout().ModelDir()))
		})
	}
}

func TestTrainWithoutFrames(t *testing.T) {
	cfg := testConfig(t)
	p := New(zerolog.Nop(), cfg, Deps{
		OpenBackbone: func(model.BackboneOptions) (model.FeatureExtractor, error) {
			t.Fatal("backbone opened without data")
			return nil, nil
		},
	})
	require.NoError(t, p.Setup())

	_, err := p.Train(context.Background(), TrainOptions{})
	assert.Error(t, err)
}
