package inference

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kikiluvv/vigil/internal/imageproc"
	"github.com/kikiluvv/vigil/internal/labels"
	"github.com/kikiluvv/vigil/internal/video"
	"github.com/kikiluvv/vigil/internal/video/videotest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedClassifier returns predictions in call order, repeating the last.
type scriptedClassifier struct {
	enc   *labels.Encoder
	preds []Prediction
	calls int
	err   error
}

func (c *scriptedClassifier) Classify(_ context.Context, t *imageproc.Tensor) (Prediction, error) {
	if c.err != nil {
		return nil, c.err
	}
	if t.Size != c.InputSize() {
		return nil, fmt.Errorf("tensor size %d", t.Size)
	}
	i := c.calls
	if i >= len(c.preds) {
		i = len(c.preds) - 1
	}
	c.calls++
	return c.preds[i], nil
}

func (c *scriptedClassifier) Labels() *labels.Encoder { return c.enc }
func (c *scriptedClassifier) InputSize() int          { return 8 }

type countingObserver struct {
	mu      sync.Mutex
	frames  int
	violent int
}

func (o *countingObserver) ObserveFrame(_ time.Duration, violent bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.frames++
	if violent {
		o.violent++
	}
}

func frames(n int) []image.Image {
	imgs := make([]image.Image, n)
	for i := range imgs {
		imgs[i] = image.NewRGBA(image.Rect(0, 0, 16, 12))
	}
	return imgs
}

func newEngine(t *testing.T, clf Classifier, opener video.Opener, opts ...Option) *Engine {
	t.Helper()
	e, err := New(zerolog.Nop(), clf, opener, DefaultConfig(), opts...)
	require.NoError(t, err)
	return e
}

func TestProcessAllViolent(t *testing.T) {
	opener := videotest.NewOpener()
	src := &videotest.Source{
		Props:  video.Properties{FPS: 30, Width: 16, Height: 12, FrameCount: 300},
		Images: frames(300),
	}
	opener.Add("in.mp4", src)
	obs := &countingObserver{}

	clf := &scriptedClassifier{enc: labels.Default(), preds: []Prediction{{1.0, 0.0}}}
	e := newEngine(t, clf, opener, WithObserver(obs))

	v, err := e.Process(context.Background(), "in.mp4", "processed_in.mp4")
	require.NoError(t, err)

	assert.Equal(t, StatusOK, v.Status)
	assert.Equal(t, 300, v.Frames)
	assert.Equal(t, 300, v.ViolentFrames)
	assert.Equal(t, "100.00", fmt.Sprintf("%.2f", v.Percentage))
	assert.Equal(t, 300, obs.violent)

	sink, ok := opener.Sink("processed_in.mp4")
	require.True(t, ok)
	assert.Equal(t, src.Props, sink.Props)
	require.Len(t, sink.Annotations, 300)
	for i, a := range sink.Annotations {
		assert.Equal(t, "Violence: true", a.Text())
		assert.Equal(t, video.ColorViolent, a.Color())
		assert.Equal(t, i, sink.Frames[i].Index)
	}
	assert.True(t, src.Closed())
	assert.True(t, sink.Closed())
}

func TestProcessThresholdIsExclusive(t *testing.T) {
	opener := videotest.NewOpener()
	opener.Add("in.mp4", &videotest.Source{Images: frames(10)})

	clf := &scriptedClassifier{enc: labels.Default(), preds: []Prediction{{0.5, 0.5}}}
	v, err := newEngine(t, clf, opener).Process(context.Background(), "in.mp4", "out.avi")
	require.NoError(t, err)

	assert.Equal(t, 0, v.ViolentFrames)
	assert.Equal(t, 0.0, v.Percentage)

	sink, _ := opener.Sink("out.avi")
	assert.Equal(t, video.ColorNonViolent, sink.Annotations[0].Color())
}

func TestProcessSmoothsOverWindow(t *testing.T) {
	// One violent spike is averaged away by the surrounding frames.
	preds := []Prediction{{0.0, 1.0}, {0.0, 1.0}, {1.0, 0.0}, {0.0, 1.0}}
	opener := videotest.NewOpener()
	opener.Add("in.mp4", &videotest.Source{Images: frames(4)})

	clf := &scriptedClassifier{enc: labels.Default(), preds: preds}
	v, err := newEngine(t, clf, opener).Process(context.Background(), "in.mp4", "out.avi")
	require.NoError(t, err)
	assert.Equal(t, 0, v.ViolentFrames)

	sink, _ := opener.Sink("out.avi")
	assert.InDelta(t, 1.0/3.0, sink.Annotations[2].Probability, 1e-12)
}

func TestProcessSmoothingDelaysOnset(t *testing.T) {
	// First frame violent, then sustained non-violent: only the first frame
	// is flagged.
	preds := []Prediction{{0.9, 0.1}, {0.0, 1.0}}
	opener := videotest.NewOpener()
	opener.Add("in.mp4", &videotest.Source{Images: frames(5)})

	clf := &scriptedClassifier{enc: labels.Default(), preds: preds}
	v, err := newEngine(t, clf, opener).Process(context.Background(), "in.mp4", "out.avi")
	require.NoError(t, err)
	assert.Equal(t, 1, v.ViolentFrames)
	assert.InDelta(t, 20.0, v.Percentage, 1e-9)
}

func TestProcessEmptyVideo(t *testing.T) {
	opener := videotest.NewOpener()
	src := &videotest.Source{}
	opener.Add("empty.mp4", src)

	clf := &scriptedClassifier{enc: labels.Default(), preds: []Prediction{{1, 0}}}
	v, err := newEngine(t, clf, opener).Process(context.Background(), "empty.mp4", "out.avi")
	require.NoError(t, err)

	assert.Equal(t, StatusEmpty, v.Status)
	assert.Equal(t, 0, v.Frames)
	assert.Equal(t, 0.0, v.Percentage)
	assert.True(t, src.Closed())
}

func TestProcessEmptyVideoRemovesOutput(t *testing.T) {
	opener := videotest.NewOpener()
	opener.Add("empty.mp4", &videotest.Source{})

	output := filepath.Join(t.TempDir(), "processed_empty.avi")
	require.NoError(t, os.WriteFile(output, []byte("header"), 0o644))

	clf := &scriptedClassifier{enc: labels.Default(), preds: []Prediction{{1, 0}}}
	v, err := newEngine(t, clf, opener).Process(context.Background(), "empty.mp4", output)
	require.NoError(t, err)

	assert.Equal(t, StatusEmpty, v.Status)
	assert.Empty(t, v.Output)
	assert.NoFileExists(t, output)
}

func TestProcessReadFailureEndsStream(t *testing.T) {
	opener := videotest.NewOpener()
	opener.Add("in.mp4", &videotest.Source{Images: frames(10), FailAt: 3})

	clf := &scriptedClassifier{enc: labels.Default(), preds: []Prediction{{1, 0}}}
	v, err := newEngine(t, clf, opener).Process(context.Background(), "in.mp4", "out.avi")
	require.NoError(t, err)
	assert.Equal(t, 3, v.Frames)
	assert.Equal(t, StatusOK, v.Status)
}

func TestProcessMissingVideo(t *testing.T) {
	clf := &scriptedClassifier{enc: labels.Default(), preds: []Prediction{{1, 0}}}
	v, err := newEngine(t, clf, videotest.NewOpener()).Process(context.Background(), "nope.mp4", "out.avi")
	assert.ErrorIs(t, err, video.ErrVideoNotFound)
	assert.Equal(t, StatusError, v.Status)
}

func TestProcessClassifierError(t *testing.T) {
	opener := videotest.NewOpener()
	src := &videotest.Source{Images: frames(2)}
	opener.Add("in.mp4", src)

	clf := &scriptedClassifier{enc: labels.Default(), err: errors.New("session failed")}
	v, err := newEngine(t, clf, opener).Process(context.Background(), "in.mp4", "out.avi")
	assert.Error(t, err)
	assert.Equal(t, StatusError, v.Status)
	assert.True(t, src.Closed())

	sink, _ := opener.Sink("out.avi")
	assert.True(t, sink.Closed())
}

func TestProcessCancelled(t *testing.T) {
	opener := videotest.NewOpener()
	opener.Add("in.mp4", &videotest.Source{Images: frames(5)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	clf := &scriptedClassifier{enc: labels.Default(), preds: []Prediction{{1, 0}}}
	_, err := newEngine(t, clf, opener).Process(ctx, "in.mp4", "out.avi")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRequiresViolenceClass(t *testing.T) {
	enc, err := labels.Fit([]labels.Label{labels.NonViolence})
	require.NoError(t, err)

	_, err = New(zerolog.Nop(), &scriptedClassifier{enc: enc}, videotest.NewOpener(), DefaultConfig())
	assert.ErrorIs(t, err, labels.ErrUnknownLabel)
}
