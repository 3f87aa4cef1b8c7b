// Package training runs the fixed-epoch SGD loop over the in-distribution
// train set and evaluates the fitted model.
package training

import (
	"math/rand"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-bayes/dataset"
	"github.com/tsawler/go-bayes/model"
	"github.com/tsawler/go-bayes/optimizer"
)

// TrainerConfig holds the training-loop hyperparameters.
type TrainerConfig struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	Momentum     float64
}

// DefaultTrainerConfig returns the experiment defaults: 150 epochs of
// shuffled minibatches of 100, learning rate 0.01, momentum 0.9.
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		Epochs:       150,
		BatchSize:    100,
		LearningRate: 0.01,
		Momentum:     0.9,
	}
}

// Trainer owns the model parameters for the duration of Fit; nothing else
// mutates them. There is no early stopping, validation split, or
// checkpointing inside the loop; the epoch count is fixed.
type Trainer struct {
	model  model.Model
	config TrainerConfig
	opt    *optimizer.SGD
	rng    *rand.Rand
	log    *zap.SugaredLogger
}

// NewTrainer wires a model to an SGD optimizer. The logger receives the
// per-epoch progress lines; pass zap.NewNop().Sugar() to silence them.
func NewTrainer(m model.Model, config TrainerConfig, rng *rand.Rand, log *zap.SugaredLogger) (*Trainer, error) {
	if config.Epochs <= 0 {
		return nil, errors.Errorf("epoch count must be positive: %d", config.Epochs)
	}
	if rng == nil {
		return nil, errors.New("trainer requires a random source for shuffling")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	opt, err := optimizer.NewSGD(optimizer.SGDConfig{
		LearningRate: config.LearningRate,
		Momentum:     config.Momentum,
	}, paramValues(m))
	if err != nil {
		return nil, errors.Wrap(err, "creating optimizer")
	}
	return &Trainer{
		model:  m,
		config: config,
		opt:    opt,
		rng:    rng,
		log:    log,
	}, nil
}

// Fit runs the full fixed number of epochs over train and returns the mean
// training loss per epoch.
func (t *Trainer) Fit(train *dataset.Data) ([]float64, error) {
	it, err := NewBatchIterator(train, t.config.BatchSize, true, t.rng)
	if err != nil {
		return nil, err
	}
	if it.NumBatches() == 0 {
		return nil, errors.Errorf("train set of %d samples yields no full batch of %d", train.Len(), t.config.BatchSize)
	}

	params := paramValues(t.model)
	losses := make([]float64, 0, t.config.Epochs)
	for epoch := 1; epoch <= t.config.Epochs; epoch++ {
		it.Reset()

		var epochLoss float64
		var batches int
		for {
			batch, ok := it.Next()
			if !ok {
				break
			}
			loss, grads, err := t.model.Backward(batch.Images, batch.Labels)
			if err != nil {
				return nil, errors.Wrapf(err, "epoch %d batch %d", epoch, batches)
			}
			if err := t.opt.Step(params, grads); err != nil {
				return nil, errors.Wrapf(err, "epoch %d batch %d", epoch, batches)
			}
			epochLoss += loss
			batches++
		}

		meanLoss := epochLoss / float64(batches)
		losses = append(losses, meanLoss)
		t.log.Infow("epoch complete",
			"epoch", epoch,
			"of", t.config.Epochs,
			"training_loss", meanLoss,
		)
	}
	return losses, nil
}

func paramValues(m model.Model) []*mat.Dense {
	params := m.Params()
	values := make([]*mat.Dense, len(params))
	for i, p := range params {
		values[i] = p.Value
	}
	return values
}
