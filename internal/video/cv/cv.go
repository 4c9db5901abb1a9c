// Package cv implements video.Opener and video.ImageWriter on top of OpenCV.
package cv

import (
	"errors"
	"fmt"
	"image"
	"io"
	"os"

	"github.com/kikiluvv/vigil/internal/video"
	"github.com/rs/zerolog"
	"gocv.io/x/gocv"
)

const (
	// Codec matches the FourCC used for annotated output.
	Codec = "XVID"

	textScale     = 1.25
	textThickness = 3
)

var textOrigin = image.Pt(35, 50)

// FPSProbe returns a container frame rate when OpenCV reports none.
type FPSProbe func(path string) (float64, error)

// Backend opens videos with gocv.
type Backend struct {
	logger zerolog.Logger
	probe  FPSProbe
}

// New creates a Backend. probe may be nil.
func New(logger zerolog.Logger, probe FPSProbe) *Backend {
	return &Backend{
		logger: logger.With().Str("component", "cv").Logger(),
		probe:  probe,
	}
}

// Open starts decoding path.
func (b *Backend) Open(path string) (video.Source, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", video.ErrVideoNotFound, path)
		}
		return nil, err
	}

	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("open capture %s: %w", path, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("open capture %s: not opened", path)
	}

	props := video.Properties{
		FPS:        vc.Get(gocv.VideoCaptureFPS),
		Width:      int(vc.Get(gocv.VideoCaptureFrameWidth)),
		Height:     int(vc.Get(gocv.VideoCaptureFrameHeight)),
		FrameCount: int(vc.Get(gocv.VideoCaptureFrameCount)),
	}
	if props.FPS <= 0 {
		props.FPS = b.fallbackFPS(path)
	}

	b.logger.Debug().
		Str("path", path).
		Float64("fps", props.FPS).
		Int("width", props.Width).
		Int("height", props.Height).
		Int("frames", props.FrameCount).
		Msg("Opened video")

	return &capture{vc: vc, mat: gocv.NewMat(), props: props}, nil
}

func (b *Backend) fallbackFPS(path string) float64 {
	if b.probe != nil {
		fps, err := b.probe(path)
		if err == nil && fps > 0 {
			return fps
		}
		if err != nil {
			b.logger.Debug().Err(err).Str("path", path).Msg("ffprobe fallback failed")
		}
	}
	return video.DefaultFPS
}

// Create opens an XVID writer for annotated frames.
func (b *Backend) Create(path string, props video.Properties) (video.Sink, error) {
	fps := props.FPS
	if fps <= 0 {
		fps = video.DefaultFPS
	}
	vw, err := gocv.VideoWriterFile(path, Codec, fps, props.Width, props.Height, true)
	if err != nil {
		return nil, fmt.Errorf("create writer %s: %w", path, err)
	}
	if !vw.IsOpened() {
		vw.Close()
		return nil, fmt.Errorf("create writer %s: not opened", path)
	}
	return &writer{vw: vw, width: props.Width, height: props.Height}, nil
}

// WriteImage encodes f as an image file. The format follows the extension.
func (b *Backend) WriteImage(path string, f video.Frame) error {
	mat, err := gocv.ImageToMatRGB(f.Image)
	if err != nil {
		return fmt.Errorf("convert frame %d: %w", f.Index, err)
	}
	defer mat.Close()

	if !gocv.IMWrite(path, mat) {
		return fmt.Errorf("write image %s failed", path)
	}
	return nil
}

type capture struct {
	vc    *gocv.VideoCapture
	mat   gocv.Mat
	props video.Properties
	next  int
}

func (c *capture) Properties() video.Properties { return c.props }

func (c *capture) Next() (video.Frame, error) {
	if ok := c.vc.Read(&c.mat); !ok || c.mat.Empty() {
		return video.Frame{}, io.EOF
	}

	img, err := c.mat.ToImage()
	if err != nil {
		return video.Frame{}, fmt.Errorf("decode frame %d: %w", c.next, err)
	}
	f := video.Frame{Index: c.next, Image: img}
	c.next++
	return f, nil
}

func (c *capture) Close() error {
	return errors.Join(c.mat.Close(), c.vc.Close())
}

type writer struct {
	vw     *gocv.VideoWriter
	width  int
	height int
}

func (w *writer) Write(f video.Frame, a video.Annotation) error {
	mat, err := gocv.ImageToMatRGB(f.Image)
	if err != nil {
		return fmt.Errorf("convert frame %d: %w", f.Index, err)
	}
	defer mat.Close()

	if w.width > 0 && w.height > 0 && (mat.Cols() != w.width || mat.Rows() != w.height) {
		gocv.Resize(mat, &mat, image.Pt(w.width, w.height), 0, 0, gocv.InterpolationLinear)
	}

	gocv.PutText(&mat, a.Text(), textOrigin, gocv.FontHersheySimplex, textScale, a.Color(), textThickness)

	if err := w.vw.Write(mat); err != nil {
		return fmt.Errorf("write frame %d: %w", f.Index, err)
	}
	return nil
}

func (w *writer) Close() error {
	return w.vw.Close()
}
