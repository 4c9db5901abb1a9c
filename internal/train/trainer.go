// Package train fits the classification head on top of a frozen backbone.
package train

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/kikiluvv/vigil/internal/dataset"
	"github.com/kikiluvv/vigil/internal/labels"
	"github.com/kikiluvv/vigil/internal/model"
	"github.com/kikiluvv/vigil/internal/reporter"
	"github.com/rs/zerolog"
)

// Config holds the training hyperparameters.
type Config struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	Momentum     float64
	// Decay defaults to LearningRate/Epochs when zero.
	Decay     float64
	HiddenDim int
	Dropout   float64
	Seed      int64
	Augment   AugmentConfig
}

// DefaultConfig returns 25 epochs of batch 32 at lr 1e-4, momentum 0.9,
// a 512 unit hidden layer and dropout 0.5.
func DefaultConfig() Config {
	return Config{
		Epochs:       25,
		BatchSize:    32,
		LearningRate: 1e-4,
		Momentum:     0.9,
		HiddenDim:    512,
		Dropout:      0.5,
		Seed:         dataset.DefaultSeed,
		Augment:      DefaultAugment(),
	}
}

// Result is a trained head and its evaluation.
type Result struct {
	Head    *model.Head
	History History
	Report  *ClassificationReport
	Elapsed time.Duration
}

// Trainer runs mini-batch SGD over backbone features.
type Trainer struct {
	logger   zerolog.Logger
	backbone model.FeatureExtractor
	cfg      Config
	reporter reporter.Reporter
}

func New(logger zerolog.Logger, backbone model.FeatureExtractor, cfg Config, rep reporter.Reporter) *Trainer {
	if rep == nil {
		rep = reporter.NullReporter{}
	}
	if cfg.Decay == 0 && cfg.Epochs > 0 {
		cfg.Decay = cfg.LearningRate / float64(cfg.Epochs)
	}
	return &Trainer{
		logger:   logger.With().Str("component", "train").Logger(),
		backbone: backbone,
		cfg:      cfg,
		reporter: rep,
	}
}

type gradients struct {
	w1, b1, w2, b2 []float64
}

func newGradients(h *model.Head) *gradients {
	return &gradients{
		w1: make([]float64, len(h.W1)),
		b1: make([]float64, len(h.B1)),
		w2: make([]float64, len(h.W2)),
		b2: make([]float64, len(h.B2)),
	}
}

func (g *gradients) scale(f float64) {
	for _, s := range [][]float64{g.w1, g.b1, g.w2, g.b2} {
		for i := range s {
			s[i] *= f
		}
	}
}

// Train fits a fresh head on trainSet and evaluates it on testSet after
// every epoch. Augmentation is applied to the training stream only.
func (t *Trainer) Train(ctx context.Context, trainSet, testSet *dataset.Dataset) (*Result, error) {
	if t.cfg.Epochs < 1 || t.cfg.BatchSize < 1 {
		return nil, fmt.Errorf("epochs and batch size must be positive")
	}
	if trainSet.Len() == 0 || testSet.Len() == 0 {
		return nil, fmt.Errorf("%w: train %d, test %d", dataset.ErrEmptyDataset, trainSet.Len(), testSet.Len())
	}
	start := time.Now()
	rng := rand.New(rand.NewSource(t.cfg.Seed))
	classes := trainSet.Encoder.Len()
	if classes < len(labels.All) {
		return nil, fmt.Errorf("%w: encoder has %d of %d classes", dataset.ErrEmptyDataset, classes, len(labels.All))
	}

	head := model.NewHead(t.backbone.Dim(), t.cfg.HiddenDim, classes, rng)
	opt := NewSGD(t.cfg.LearningRate, t.cfg.Momentum, t.cfg.Decay)
	aug := NewAugmenter(t.cfg.Augment, rng)

	testFeatures, err := t.features(ctx, testSet)
	if err != nil {
		return nil, fmt.Errorf("validation features: %w", err)
	}

	t.logger.Info().
		Int("train", trainSet.Len()).
		Int("test", testSet.Len()).
		Int("epochs", t.cfg.Epochs).
		Int("batch", t.cfg.BatchSize).
		Float64("lr", t.cfg.LearningRate).
		Msg("Training head")

	var history History
	order := make([]int, trainSet.Len())
	for i := range order {
		order[i] = i
	}

	for epoch := 1; epoch <= t.cfg.Epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		var lossSum float64
		var correct int
		for b := 0; b < len(order); b += t.cfg.BatchSize {
			end := b + t.cfg.BatchSize
			if end > len(order) {
				end = len(order)
			}

			grads := newGradients(head)
			for _, i := range order[b:end] {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				x, err := t.backbone.Features(ctx, aug.Apply(trainSet.Tensors[i]))
				if err != nil {
					return nil, fmt.Errorf("features for %d: %w", i, err)
				}
				loss, probs := backprop(head, x, trainSet.Targets[i], t.cfg.Dropout, rng, grads)
				lossSum += loss
				if argmax(probs) == argmax(trainSet.Targets[i]) {
					correct++
				}
			}
			grads.scale(1 / float64(end-b))
			opt.Step(head, grads)
		}

		valLoss, valAcc, _ := evaluate(head, testFeatures, testSet.Targets)
		stats := EpochStats{
			Epoch:        epoch,
			TrainLoss:    lossSum / float64(len(order)),
			TrainAcc:     float64(correct) / float64(len(order)),
			ValLoss:      valLoss,
			ValAcc:       valAcc,
			LearningRate: opt.CurrentRate(),
		}
		history.Epochs = append(history.Epochs, stats)

		t.logger.Debug().
			Int("epoch", epoch).
			Float64("loss", stats.TrainLoss).
			Float64("acc", stats.TrainAcc).
			Float64("val_loss", stats.ValLoss).
			Float64("val_acc", stats.ValAcc).
			Msg("Epoch complete")
		t.reporter.EpochComplete(reporter.EpochSummary{
			Epoch:        epoch,
			Epochs:       t.cfg.Epochs,
			TrainLoss:    stats.TrainLoss,
			TrainAcc:     stats.TrainAcc,
			ValLoss:      stats.ValLoss,
			ValAcc:       stats.ValAcc,
			LearningRate: stats.LearningRate,
		})
	}

	_, _, predicted := evaluate(head, testFeatures, testSet.Targets)
	actual := make([]int, len(testSet.Targets))
	for i, y := range testSet.Targets {
		actual[i] = argmax(y)
	}
	report := NewClassificationReport(trainSet.Encoder.Classes(), actual, predicted)

	return &Result{Head: head, History: history, Report: report, Elapsed: time.Since(start)}, nil
}

// features extracts backbone features for every sample.
func (t *Trainer) features(ctx context.Context, d *dataset.Dataset) ([][]float64, error) {
	out := make([][]float64, d.Len())
	for i, tensor := range d.Tensors {
		x, err := t.backbone.Features(ctx, tensor)
		if err != nil {
			return nil, err
		}
		out[i] = x
	}
	return out, nil
}

// backprop runs one sample forward with dropout, accumulates gradients of
// the cross-entropy loss into g and returns the loss and probabilities.
func backprop(h *model.Head, x, y []float64, dropout float64, rng *rand.Rand, g *gradients) (float64, []float64) {
	hidden := h.Hidden(x)

	mask := make([]float64, len(hidden))
	keep := 1 - dropout
	for j := range hidden {
		if dropout <= 0 || rng.Float64() < keep {
			mask[j] = 1 / keep
		}
		hidden[j] *= mask[j]
	}

	probs := h.Output(hidden)
	loss := crossEntropy(probs, y)

	delta := make([]float64, h.OutputDim)
	for k := range delta {
		delta[k] = probs[k] - y[k]
		g.b2[k] += delta[k]
		row := g.w2[k*h.HiddenDim : (k+1)*h.HiddenDim]
		for j, v := range hidden {
			row[j] += delta[k] * v
		}
	}

	for j := 0; j < h.HiddenDim; j++ {
		if hidden[j] <= 0 {
			continue
		}
		var dh float64
		for k := 0; k < h.OutputDim; k++ {
			dh += h.W2[k*h.HiddenDim+j] * delta[k]
		}
		dh *= mask[j]
		g.b1[j] += dh
		row := g.w1[j*h.InputDim : (j+1)*h.InputDim]
		for i, v := range x {
			row[i] += dh * v
		}
	}
	return loss, probs
}

// evaluate returns mean loss, accuracy and the predicted class per sample.
func evaluate(h *model.Head, features, targets [][]float64) (float64, float64, []int) {
	var lossSum float64
	var correct int
	predicted := make([]int, len(features))
	for i, x := range features {
		probs := h.Output(h.Hidden(x))
		lossSum += crossEntropy(probs, targets[i])
		predicted[i] = argmax(probs)
		if predicted[i] == argmax(targets[i]) {
			correct++
		}
	}
	n := float64(len(features))
	return lossSum / n, float64(correct) / n, predicted
}

func crossEntropy(probs, y []float64) float64 {
	const eps = 1e-7
	var loss float64
	for k, t := range y {
		if t > 0 {
			loss -= t * math.Log(math.Max(probs[k], eps))
		}
	}
	return loss
}

func argmax(v []float64) int {
	best := 0
	for i := range v {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
