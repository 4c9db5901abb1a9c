// Package videotest provides in-memory video sources, sinks and an opener
// for exercising code written against the video interfaces.
package videotest

import (
	"errors"
	"fmt"
	"image"
	"io"
	"sync"

	"github.com/kikiluvv/vigil/internal/video"
)

// Source replays a fixed list of images.
type Source struct {
	Props  video.Properties
	Images []image.Image
	// FailAt makes Next return an error at this index when > 0.
	FailAt int

	pos    int
	closed bool
}

func (s *Source) Properties() video.Properties { return s.Props }

func (s *Source) Next() (video.Frame, error) {
	if s.closed {
		return video.Frame{}, fmt.Errorf("source closed")
	}
	if s.FailAt > 0 && s.pos == s.FailAt {
		return video.Frame{}, fmt.Errorf("decode error at frame %d", s.pos)
	}
	if s.pos >= len(s.Images) {
		return video.Frame{}, io.EOF
	}
	f := video.Frame{Index: s.pos, Image: s.Images[s.pos]}
	s.pos++
	return f, nil
}

func (s *Source) Close() error {
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Source) Closed() bool { return s.closed }

// Sink records written frames and annotations.
type Sink struct {
	Props       video.Properties
	Frames      []video.Frame
	Annotations []video.Annotation

	closed bool
}

func (s *Sink) Write(f video.Frame, a video.Annotation) error {
	if s.closed {
		return fmt.Errorf("sink closed")
	}
	s.Frames = append(s.Frames, f)
	s.Annotations = append(s.Annotations, a)
	return nil
}

func (s *Sink) Close() error {
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Sink) Closed() bool { return s.closed }

// Opener serves Sources by path and records created sinks and written
// images. Safe for concurrent use.
type Opener struct {
	mu      sync.Mutex
	sources map[string]*Source
	sinks   map[string]*Sink
	images  map[string]video.Frame
}

// NewOpener returns an empty opener.
func NewOpener() *Opener {
	return &Opener{
		sources: make(map[string]*Source),
		sinks:   make(map[string]*Sink),
		images:  make(map[string]video.Frame),
	}
}

// Add registers src under path.
func (o *Opener) Add(path string, src *Source) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sources[path] = src
}

func (o *Opener) Open(path string) (video.Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	src, ok := o.sources[path]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", path, video.ErrVideoNotFound)
	}
	return src, nil
}

func (o *Opener) Create(path string, props video.Properties) (video.Sink, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	sink := &Sink{Props: props}
	o.sinks[path] = sink
	return sink, nil
}

func (o *Opener) WriteImage(path string, f video.Frame) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.images[path] = f
	return nil
}

// Sink returns the sink created for path.
func (o *Opener) Sink(path string) (*Sink, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sinks[path]
	return s, ok
}

// Images returns the frames written through WriteImage, keyed by path.
func (o *Opener) Images() map[string]video.Frame {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]video.Frame, len(o.images))
	for k, v := range o.images {
		out[k] = v
	}
	return out
}

// ReadAll drains src and returns every frame.
func ReadAll(src video.Source) ([]video.Frame, error) {
	var frames []video.Frame
	for {
		f, err := src.Next()
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
	}
}

var (
	_ video.Opener      = (*Opener)(nil)
	_ video.ImageWriter = (*Opener)(nil)
)
