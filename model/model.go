// Package model implements the fixed two-layer network at the heart of the
// uncertainty experiment, in two interchangeable Bayesian-approximation
// variants: Monte-Carlo dropout over point weights, and an explicit
// diagonal-Gaussian variational posterior over the weight matrices.
package model

import (
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Mode selects the Bayesian approximation variant.
type Mode int

const (
	// Dropout uses point weights with stochastic dropout masks as the
	// posterior sampler (Gal's MC dropout).
	Dropout Mode = iota
	// Variational uses per-weight Gaussian mean/log-variance pairs fit
	// against a standard-normal prior.
	Variational
)

func (m Mode) String() string {
	switch m {
	case Dropout:
		return "dropout"
	case Variational:
		return "variational"
	default:
		return "unknown"
	}
}

// ParseMode converts a mode name used on the command line.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "dropout":
		return Dropout, nil
	case "variational":
		return Variational, nil
	default:
		return 0, errors.Errorf("unknown mode %q (want dropout or variational)", s)
	}
}

// Config holds the network hyperparameters. The experiment architecture is
// fixed; the sizes are configurable so tests can run small instances.
type Config struct {
	NumInputs   int     // image pixels
	NumHidden   int     // hidden layer width
	NumClasses  int     // output classes
	DropoutRate float64 // hidden activation drop probability (dropout mode)
	WeightDecay float64 // L2 coefficient (dropout mode)
}

// DefaultConfig returns the experiment constants: 784-512-2 with dropout
// rate 0.5 and weight decay 1e-2.
func DefaultConfig() Config {
	return Config{
		NumInputs:   784,
		NumHidden:   512,
		NumClasses:  2,
		DropoutRate: 0.5,
		WeightDecay: 1e-2,
	}
}

func (c Config) validate() error {
	if c.NumInputs <= 0 || c.NumHidden <= 0 || c.NumClasses <= 0 {
		return errors.Errorf("layer sizes must be positive: %d-%d-%d", c.NumInputs, c.NumHidden, c.NumClasses)
	}
	if c.DropoutRate < 0 || c.DropoutRate >= 1 {
		return errors.Errorf("dropout rate must be in [0, 1): %f", c.DropoutRate)
	}
	if c.WeightDecay < 0 {
		return errors.Errorf("weight decay cannot be negative: %f", c.WeightDecay)
	}
	return nil
}

// Param is a named trainable parameter. The optimizer mutates Value in
// place; nothing else writes to it after construction.
type Param struct {
	Name  string
	Value *mat.Dense
}

// Model is the contract shared by the two variants. A stochastic forward
// pass draws fresh randomness per call (and per batch row), which is what
// makes repeated passes on the same input a Monte-Carlo sample of the
// posterior predictive. The deterministic pass has no randomness and is
// bit-identical across calls.
type Model interface {
	// Mode reports the variant.
	Mode() Mode
	// Config reports the construction hyperparameters.
	Config() Config
	// ForwardStochastic returns batch x classes probabilities, one
	// independent stochastic draw per row.
	ForwardStochastic(x *mat.Dense) (*mat.Dense, error)
	// ForwardDeterministic returns batch x classes probabilities with no
	// randomness applied.
	ForwardDeterministic(x *mat.Dense) (*mat.Dense, error)
	// Loss computes the mode-specific training objective for a batch.
	Loss(x *mat.Dense, labels []int) (float64, error)
	// Backward computes the loss and its gradient with respect to every
	// parameter, ordered as Params().
	Backward(x *mat.Dense, labels []int) (float64, []*mat.Dense, error)
	// Params exposes the trainable parameters for the optimizer and for
	// checkpointing.
	Params() []Param
}

// New constructs a model of the requested variant. The caller supplies the
// random source so experiments and tests control seeding.
func New(mode Mode, cfg Config, rng *rand.Rand) (Model, error) {
	switch mode {
	case Dropout:
		return NewDropout(cfg, rng)
	case Variational:
		return NewVariational(cfg, rng)
	default:
		return nil, errors.Errorf("unknown mode %d", mode)
	}
}

func errShape(what string, want, got int) error {
	return errors.Errorf("shape mismatch: %s want %d, got %d", what, want, got)
}
