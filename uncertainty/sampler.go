// Package uncertainty approximates the posterior predictive distribution
// for single test images by repeated stochastic forward passes, and reduces
// the samples to the scalar statistics used for out-of-distribution
// detection.
package uncertainty

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-bayes/model"
)

// Sampler draws Monte-Carlo predictive samples from a trained model. The
// approximation quality scales with SampleCount; there is no adaptive
// stopping.
type Sampler struct {
	model       model.Model
	sampleCount int
}

// NewSampler wraps a trained model. sampleCount is the number of stochastic
// draws per image; the experiment defaults reuse the minibatch size, 100.
func NewSampler(m model.Model, sampleCount int) (*Sampler, error) {
	if sampleCount <= 0 {
		return nil, errors.Errorf("sample count must be positive: %d", sampleCount)
	}
	return &Sampler{model: m, sampleCount: sampleCount}, nil
}

// SampleResult holds the stochastic draws and the single deterministic pass
// for one image.
type SampleResult struct {
	// Probs is sampleCount x classes; each row is one independent draw
	// from the posterior predictive for the same input.
	Probs *mat.Dense
	// Deterministic is the no-randomness class distribution.
	Deterministic []float64
}

// Sample tiles image into a pseudo-batch of identical rows and runs one
// stochastic forward pass over it, so every row draws its own dropout mask
// or weight noise. A deterministic pass on the single image is returned
// alongside.
func (s *Sampler) Sample(image []float64) (*SampleResult, error) {
	if len(image) != s.model.Config().NumInputs {
		return nil, errors.Errorf("image has %d pixels, model expects %d", len(image), s.model.Config().NumInputs)
	}

	tiled := mat.NewDense(s.sampleCount, len(image), nil)
	for i := 0; i < s.sampleCount; i++ {
		tiled.SetRow(i, image)
	}
	probs, err := s.model.ForwardStochastic(tiled)
	if err != nil {
		return nil, errors.Wrap(err, "stochastic pass")
	}

	single := mat.NewDense(1, len(image), nil)
	single.SetRow(0, image)
	det, err := s.model.ForwardDeterministic(single)
	if err != nil {
		return nil, errors.Wrap(err, "deterministic pass")
	}

	detRow := make([]float64, s.model.Config().NumClasses)
	copy(detRow, det.RawRowView(0))
	return &SampleResult{Probs: probs, Deterministic: detRow}, nil
}
