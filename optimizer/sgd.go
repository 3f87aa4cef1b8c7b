// Package optimizer provides the stochastic gradient descent with momentum
// used to train both model variants.
package optimizer

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// SGDConfig holds the optimizer hyperparameters.
type SGDConfig struct {
	LearningRate float64
	Momentum     float64
}

// DefaultSGDConfig returns the experiment defaults.
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.01,
		Momentum:     0.9,
	}
}

// SGD applies the momentum update
//
//	velocity = momentum*velocity + (1-momentum)*gradient
//	param    = param - learning_rate*velocity
//
// with one velocity buffer per parameter, initialized to zero and persisted
// across steps.
type SGD struct {
	LearningRate float64
	Momentum     float64

	velocity  []*mat.Dense
	stepCount uint64
}

// NewSGD creates an optimizer for the given parameter set. The shapes of
// params fix the velocity buffers; Step rejects gradients that disagree.
func NewSGD(config SGDConfig, params []*mat.Dense) (*SGD, error) {
	if config.LearningRate <= 0 {
		return nil, errors.Errorf("learning rate must be positive: %f", config.LearningRate)
	}
	if config.Momentum < 0 || config.Momentum >= 1 {
		return nil, errors.Errorf("momentum must be in [0, 1): %f", config.Momentum)
	}
	if len(params) == 0 {
		return nil, errors.New("no parameters provided")
	}

	velocity := make([]*mat.Dense, len(params))
	for i, p := range params {
		rows, cols := p.Dims()
		velocity[i] = mat.NewDense(rows, cols, nil)
	}
	return &SGD{
		LearningRate: config.LearningRate,
		Momentum:     config.Momentum,
		velocity:     velocity,
	}, nil
}

// Step applies one momentum update to every parameter in place.
func (s *SGD) Step(params, grads []*mat.Dense) error {
	if len(params) != len(s.velocity) {
		return errors.Errorf("expected %d parameters, got %d", len(s.velocity), len(params))
	}
	if len(grads) != len(params) {
		return errors.Errorf("gradient count (%d) does not match parameter count (%d)", len(grads), len(params))
	}

	for i, p := range params {
		pr, pc := p.Dims()
		gr, gc := grads[i].Dims()
		if pr != gr || pc != gc {
			return errors.Errorf("parameter %d shape (%d,%d) does not match gradient shape (%d,%d)", i, pr, pc, gr, gc)
		}

		v := s.velocity[i].RawMatrix().Data
		g := grads[i].RawMatrix().Data
		w := p.RawMatrix().Data
		for j := range v {
			v[j] = s.Momentum*v[j] + (1.0-s.Momentum)*g[j]
			w[j] -= s.LearningRate * v[j]
		}
	}

	s.stepCount++
	return nil
}

// StepCount returns the number of updates applied so far.
func (s *SGD) StepCount() uint64 {
	return s.stepCount
}
