package model

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
)

// Head is the trainable classification head: a ReLU hidden layer followed
// by a softmax output. Weights are stored row-major, one row per output
// unit.
type Head struct {
	InputDim  int       `json:"input_dim"`
	HiddenDim int       `json:"hidden_dim"`
	OutputDim int       `json:"output_dim"`
	W1        []float64 `json:"w1"`
	B1        []float64 `json:"b1"`
	W2        []float64 `json:"w2"`
	B2        []float64 `json:"b2"`
}

// NewHead initializes a head with Glorot-uniform weights and zero biases.
func NewHead(in, hidden, out int, rng *rand.Rand) *Head {
	h := &Head{
		InputDim:  in,
		HiddenDim: hidden,
		OutputDim: out,
		W1:        make([]float64, hidden*in),
		B1:        make([]float64, hidden),
		W2:        make([]float64, out*hidden),
		B2:        make([]float64, out),
	}
	glorot(h.W1, in, hidden, rng)
	glorot(h.W2, hidden, out, rng)
	return h
}

func glorot(w []float64, fanIn, fanOut int, rng *rand.Rand) {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	for i := range w {
		w[i] = (rng.Float64()*2 - 1) * limit
	}
}

// Hidden computes the ReLU activations for x.
func (h *Head) Hidden(x []float64) []float64 {
	out := make([]float64, h.HiddenDim)
	for j := 0; j < h.HiddenDim; j++ {
		row := h.W1[j*h.InputDim : (j+1)*h.InputDim]
		sum := h.B1[j]
		for i, v := range x {
			sum += row[i] * v
		}
		if sum > 0 {
			out[j] = sum
		}
	}
	return out
}

// Output computes softmax probabilities from hidden activations.
func (h *Head) Output(hidden []float64) []float64 {
	logits := make([]float64, h.OutputDim)
	for k := 0; k < h.OutputDim; k++ {
		row := h.W2[k*h.HiddenDim : (k+1)*h.HiddenDim]
		sum := h.B2[k]
		for j, v := range hidden {
			sum += row[j] * v
		}
		logits[k] = sum
	}
	return Softmax(logits)
}

// Predict runs the head in inference mode (no dropout).
func (h *Head) Predict(x []float64) ([]float64, error) {
	if len(x) != h.InputDim {
		return nil, fmt.Errorf("feature width %d, head expects %d", len(x), h.InputDim)
	}
	return h.Output(h.Hidden(x)), nil
}

// Softmax returns a numerically stable softmax of logits.
func Softmax(logits []float64) []float64 {
	max := math.Inf(-1)
	for _, v := range logits {
		if v > max {
			max = v
		}
	}
	out := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		out[i] = math.Exp(v - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func (h *Head) validate() error {
	switch {
	case h.InputDim <= 0 || h.HiddenDim <= 0 || h.OutputDim <= 0:
		return fmt.Errorf("invalid head dims %d/%d/%d", h.InputDim, h.HiddenDim, h.OutputDim)
	case len(h.W1) != h.InputDim*h.HiddenDim || len(h.B1) != h.HiddenDim:
		return fmt.Errorf("hidden layer shape mismatch")
	case len(h.W2) != h.HiddenDim*h.OutputDim || len(h.B2) != h.OutputDim:
		return fmt.Errorf("output layer shape mismatch")
	}
	return nil
}

// Save writes the head as JSON.
func (h *Head) Save(path string) error {
	data, err := json.Marshal(h)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LoadHead reads a head written by Save and checks its shapes.
func LoadHead(path string) (*Head, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var h Head
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := h.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &h, nil
}
