package model

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// logFloor guards log(0) in the cross-entropy; dropout-mode probabilities
// are otherwise unclipped.
const logFloor = 1e-10

// DropoutModel is the MC-dropout variant: point-estimate weights with a
// Bernoulli mask re-sampled over the hidden activations on every stochastic
// forward pass. Kept activations are rescaled by 1/(1-rate) during
// stochastic passes so the deterministic pass is the plain identity.
type DropoutModel struct {
	cfg Config

	w1 *mat.Dense // inputs x hidden
	b1 *mat.Dense // 1 x hidden
	w2 *mat.Dense // hidden x classes
	b2 *mat.Dense // 1 x classes

	rng *rand.Rand
}

// NewDropout creates a dropout-mode model with Glorot-uniform weights and
// zero biases.
func NewDropout(cfg Config, rng *rand.Rand) (*DropoutModel, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &DropoutModel{
		cfg: cfg,
		w1:  glorotUniform(cfg.NumInputs, cfg.NumHidden, rng),
		b1:  mat.NewDense(1, cfg.NumHidden, nil),
		w2:  glorotUniform(cfg.NumHidden, cfg.NumClasses, rng),
		b2:  mat.NewDense(1, cfg.NumClasses, nil),
		rng: rng,
	}, nil
}

// Mode reports Dropout.
func (m *DropoutModel) Mode() Mode { return Dropout }

// Config reports the construction hyperparameters.
func (m *DropoutModel) Config() Config { return m.cfg }

// Params returns the parameters in optimizer order.
func (m *DropoutModel) Params() []Param {
	return []Param{
		{Name: "hidden.weight", Value: m.w1},
		{Name: "hidden.bias", Value: m.b1},
		{Name: "output.weight", Value: m.w2},
		{Name: "output.bias", Value: m.b2},
	}
}

// dropoutPass keeps the intermediates of one forward pass for backprop.
type dropoutPass struct {
	z1    *mat.Dense // pre-activation hidden, batch x hidden
	h     *mat.Dense // post ReLU (and mask, when stochastic)
	scale []float64  // applied mask scale per entry of h; nil when deterministic
	probs *mat.Dense // batch x classes
}

func (m *DropoutModel) forward(x *mat.Dense, stochastic bool) (*dropoutPass, error) {
	if err := checkBatch(m.cfg, x, nil); err != nil {
		return nil, err
	}
	rows, _ := x.Dims()

	z1 := mat.NewDense(rows, m.cfg.NumHidden, nil)
	z1.Mul(x, m.w1)
	addRowVector(z1, m.b1)

	h := mat.DenseCopyOf(z1)
	reluInPlace(h)

	var scale []float64
	if stochastic && m.cfg.DropoutRate > 0 {
		keep := 1.0 - m.cfg.DropoutRate
		data := h.RawMatrix().Data
		scale = make([]float64, len(data))
		for i := range data {
			if m.rng.Float64() < m.cfg.DropoutRate {
				data[i] = 0
			} else {
				scale[i] = 1.0 / keep
				data[i] *= scale[i]
			}
		}
	}

	probs := mat.NewDense(rows, m.cfg.NumClasses, nil)
	probs.Mul(h, m.w2)
	addRowVector(probs, m.b2)
	softmaxRows(probs)

	return &dropoutPass{z1: z1, h: h, scale: scale, probs: probs}, nil
}

// ForwardStochastic runs one dropout-sampled pass; each row of the batch
// draws its own mask.
func (m *DropoutModel) ForwardStochastic(x *mat.Dense) (*mat.Dense, error) {
	pass, err := m.forward(x, true)
	if err != nil {
		return nil, err
	}
	return pass.probs, nil
}

// ForwardDeterministic runs the network with dropout disabled.
func (m *DropoutModel) ForwardDeterministic(x *mat.Dense) (*mat.Dense, error) {
	pass, err := m.forward(x, false)
	if err != nil {
		return nil, err
	}
	return pass.probs, nil
}

// Loss is the mean categorical cross-entropy of a stochastic pass plus the
// weight-decay penalty over both weight matrices.
func (m *DropoutModel) Loss(x *mat.Dense, labels []int) (float64, error) {
	if err := checkBatch(m.cfg, x, labels); err != nil {
		return 0, err
	}
	pass, err := m.forward(x, true)
	if err != nil {
		return 0, err
	}
	return m.lossFromPass(pass, labels), nil
}

func (m *DropoutModel) lossFromPass(pass *dropoutPass, labels []int) float64 {
	ce := meanCrossEntropy(pass.probs, labels, logFloor)
	return ce + m.cfg.WeightDecay*(sumSquares(m.w1)+sumSquares(m.w2))
}

// Backward computes the loss of one stochastic pass and its gradients, in
// Params order. The gradients are hand-derived: softmax+cross-entropy
// collapses to (p - y)/batch at the output pre-activation, the dropout mask
// and ReLU gate the hidden backprop, and the weight-decay term contributes
// 2*decay*w.
func (m *DropoutModel) Backward(x *mat.Dense, labels []int) (float64, []*mat.Dense, error) {
	if err := checkBatch(m.cfg, x, labels); err != nil {
		return 0, nil, err
	}
	pass, err := m.forward(x, true)
	if err != nil {
		return 0, nil, err
	}
	loss := m.lossFromPass(pass, labels)

	rows, _ := x.Dims()
	batch := float64(rows)

	// dz2 = (probs - onehot(labels)) / batch
	dz2 := mat.DenseCopyOf(pass.probs)
	for i, label := range labels {
		row := dz2.RawRowView(i)
		row[label] -= 1.0
		for j := range row {
			row[j] /= batch
		}
	}

	gw2 := mat.NewDense(m.cfg.NumHidden, m.cfg.NumClasses, nil)
	gw2.Mul(pass.h.T(), dz2)
	addScaled(gw2, m.w2, 2.0*m.cfg.WeightDecay)

	gb2 := mat.NewDense(1, m.cfg.NumClasses, nil)
	colSumsInto(gb2, dz2)

	// Backprop through the mask scale and the ReLU gate.
	dh := mat.NewDense(rows, m.cfg.NumHidden, nil)
	dh.Mul(dz2, m.w2.T())
	dhData := dh.RawMatrix().Data
	z1Data := pass.z1.RawMatrix().Data
	for i := range dhData {
		if pass.scale != nil {
			dhData[i] *= pass.scale[i]
		}
		if z1Data[i] <= 0 {
			dhData[i] = 0
		}
	}

	gw1 := mat.NewDense(m.cfg.NumInputs, m.cfg.NumHidden, nil)
	gw1.Mul(x.T(), dh)
	addScaled(gw1, m.w1, 2.0*m.cfg.WeightDecay)

	gb1 := mat.NewDense(1, m.cfg.NumHidden, nil)
	colSumsInto(gb1, dh)

	return loss, []*mat.Dense{gw1, gb1, gw2, gb2}, nil
}

// addScaled adds alpha*src to dst in place.
func addScaled(dst, src *mat.Dense, alpha float64) {
	d := dst.RawMatrix().Data
	s := src.RawMatrix().Data
	for i := range d {
		d[i] += alpha * s[i]
	}
}
