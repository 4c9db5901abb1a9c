package inference

import "fmt"

// DefaultWindowSize is the number of recent predictions averaged per frame.
const DefaultWindowSize = 128

// Prediction holds one probability per encoder class, in encoder order.
type Prediction []float64

// Window is a bounded FIFO of predictions. Pushing onto a full window
// evicts the oldest entry.
type Window struct {
	buf   []Prediction
	start int
	n     int
	width int
}

// NewWindow returns an empty window holding at most size predictions.
func NewWindow(size int) *Window {
	if size < 1 {
		size = 1
	}
	return &Window{buf: make([]Prediction, size)}
}

// Push appends p, evicting the oldest prediction at capacity. All
// predictions in a window must have the same width.
func (w *Window) Push(p Prediction) error {
	if len(p) == 0 {
		return fmt.Errorf("empty prediction")
	}
	if w.n > 0 && len(p) != w.width {
		return fmt.Errorf("prediction width %d, window holds width %d", len(p), w.width)
	}
	w.width = len(p)

	if w.n < len(w.buf) {
		w.buf[(w.start+w.n)%len(w.buf)] = p
		w.n++
		return nil
	}
	w.buf[w.start] = p
	w.start = (w.start + 1) % len(w.buf)
	return nil
}

// Len returns the number of predictions held.
func (w *Window) Len() int { return w.n }

// Cap returns the window capacity.
func (w *Window) Cap() int { return len(w.buf) }

// Mean returns the element-wise mean of the held predictions, or nil when
// the window is empty.
func (w *Window) Mean() Prediction {
	if w.n == 0 {
		return nil
	}
	mean := make(Prediction, w.width)
	for i := 0; i < w.n; i++ {
		p := w.buf[(w.start+i)%len(w.buf)]
		for j, v := range p {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= float64(w.n)
	}
	return mean
}
