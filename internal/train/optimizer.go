package train

import "github.com/kikiluvv/vigil/internal/model"

// SGD is stochastic gradient descent with momentum and time-based decay:
// lr_t = lr / (1 + decay*t), where t counts updates.
type SGD struct {
	LearningRate float64
	Momentum     float64
	Decay        float64

	iterations int
	velocity   map[*float64][]float64
}

func NewSGD(lr, momentum, decay float64) *SGD {
	return &SGD{LearningRate: lr, Momentum: momentum, Decay: decay, velocity: make(map[*float64][]float64)}
}

// CurrentRate returns the decayed learning rate for the next update.
func (s *SGD) CurrentRate() float64 {
	return s.LearningRate / (1 + s.Decay*float64(s.iterations))
}

// Step applies grads to every parameter of head.
func (s *SGD) Step(head *model.Head, g *gradients) {
	lr := s.CurrentRate()
	s.update(head.W1, g.w1, lr)
	s.update(head.B1, g.b1, lr)
	s.update(head.W2, g.w2, lr)
	s.update(head.B2, g.b2, lr)
	s.iterations++
}

func (s *SGD) update(params, grads []float64, lr float64) {
	if len(params) == 0 {
		return
	}
	v, ok := s.velocity[&params[0]]
	if !ok {
		v = make([]float64, len(params))
		s.velocity[&params[0]] = v
	}
	for i := range params {
		v[i] = s.Momentum*v[i] - lr*grads[i]
		params[i] += v[i]
	}
}
