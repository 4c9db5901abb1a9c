// Package video defines the frame source and sink abstractions used by the
// extractor and the inference engine. The OpenCV backed implementation lives
// in the cv subpackage.
package video

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

// ErrVideoNotFound is returned when a video path does not exist.
var ErrVideoNotFound = errors.New("video not found")

// DefaultFPS is used when neither the container nor ffprobe report a rate.
const DefaultFPS = 30.0

// Extensions are the container types processed in batch mode.
var Extensions = []string{".mp4", ".avi", ".mov", ".mkv"}

// Properties describes a decoded stream.
type Properties struct {
	FPS        float64
	Width      int
	Height     int
	FrameCount int
}

// Frame is a decoded image and its 0-based position in read order.
type Frame struct {
	Index int
	Image image.Image
}

// Source yields frames in order. Next returns io.EOF at end of stream.
type Source interface {
	Properties() Properties
	Next() (Frame, error)
	Close() error
}

// Sink accepts annotated frames in write order.
type Sink interface {
	Write(f Frame, a Annotation) error
	Close() error
}

// Opener opens sources and creates sinks for paths on disk.
type Opener interface {
	Open(path string) (Source, error)
	Create(path string, props Properties) (Sink, error)
}

// ImageWriter persists a single frame as an image file.
type ImageWriter interface {
	WriteImage(path string, f Frame) error
}

var (
	ColorViolent    = color.RGBA{R: 255, A: 255}
	ColorNonViolent = color.RGBA{G: 255, A: 255}
)

// Annotation is the overlay drawn onto an output frame.
type Annotation struct {
	Violent     bool
	Probability float64
}

// Text returns the overlay text, e.g. "Violence: true".
func (a Annotation) Text() string {
	return fmt.Sprintf("Violence: %t", a.Violent)
}

// Color returns red for violent frames and green otherwise.
func (a Annotation) Color() color.RGBA {
	if a.Violent {
		return ColorViolent
	}
	return ColorNonViolent
}

// Series is one line of a chart.
type Series struct {
	Name   string
	Values []float64
	Color  color.RGBA
}

// Plotter renders line charts to image files.
type Plotter interface {
	Plot(path, title string, series []Series) error
}
