package model

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// probClip bounds the predictive probabilities before the log in the
// variational negative log-likelihood.
const probClip = 1e-6

// VariationalModel approximates the weight posterior with an explicit
// diagonal Gaussian per weight matrix: each entry keeps a mean and a
// log-variance, and a stochastic forward pass realizes
// w = mean + exp(logvar)*eps with a fresh standard-normal eps per batch
// row. Biases are deterministic. The training objective is the clipped
// mean negative log-likelihood minus (DKL_hidden + DKL_output)/batch,
// where DKL = sum(1 + 2*logvar - mean^2 - exp(2*logvar))/2 against the
// standard-normal prior.
type VariationalModel struct {
	cfg Config

	w1Mu     *mat.Dense // inputs x hidden
	w1LogVar *mat.Dense
	w2Mu     *mat.Dense // hidden x classes
	w2LogVar *mat.Dense
	b1       *mat.Dense // 1 x hidden
	b2       *mat.Dense // 1 x classes

	rng *rand.Rand
}

// NewVariational creates a variational-mode model. Means and log-variances
// are both Glorot-uniform initialized, biases start at zero.
func NewVariational(cfg Config, rng *rand.Rand) (*VariationalModel, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &VariationalModel{
		cfg:      cfg,
		w1Mu:     glorotUniform(cfg.NumInputs, cfg.NumHidden, rng),
		w1LogVar: glorotUniform(cfg.NumInputs, cfg.NumHidden, rng),
		w2Mu:     glorotUniform(cfg.NumHidden, cfg.NumClasses, rng),
		w2LogVar: glorotUniform(cfg.NumHidden, cfg.NumClasses, rng),
		b1:       mat.NewDense(1, cfg.NumHidden, nil),
		b2:       mat.NewDense(1, cfg.NumClasses, nil),
		rng:      rng,
	}, nil
}

// Mode reports Variational.
func (m *VariationalModel) Mode() Mode { return Variational }

// Config reports the construction hyperparameters.
func (m *VariationalModel) Config() Config { return m.cfg }

// Params returns the parameters in optimizer order.
func (m *VariationalModel) Params() []Param {
	return []Param{
		{Name: "hidden.weight_mu", Value: m.w1Mu},
		{Name: "hidden.weight_logvar", Value: m.w1LogVar},
		{Name: "hidden.bias", Value: m.b1},
		{Name: "output.weight_mu", Value: m.w2Mu},
		{Name: "output.weight_logvar", Value: m.w2LogVar},
		{Name: "output.bias", Value: m.b2},
	}
}

// sampleScratch holds one batch row's realized weights and noise draws.
// Buffers are reused across rows to keep a batch at two weight matrices of
// extra memory instead of 2*batch.
type sampleScratch struct {
	eps1, eps2 []float64 // standard-normal draws per weight entry
	wt1, wt2   []float64 // realized weights, row-major
	sig1, sig2 []float64 // exp(logvar), refreshed once per call
	z1, h, dh  []float64 // 1 x hidden
	z2, p      []float64 // 1 x classes
}

func (m *VariationalModel) newScratch() *sampleScratch {
	in, hid, out := m.cfg.NumInputs, m.cfg.NumHidden, m.cfg.NumClasses
	s := &sampleScratch{
		eps1: make([]float64, in*hid),
		eps2: make([]float64, hid*out),
		wt1:  make([]float64, in*hid),
		wt2:  make([]float64, hid*out),
		sig1: make([]float64, in*hid),
		sig2: make([]float64, hid*out),
		z1:   make([]float64, hid),
		h:    make([]float64, hid),
		dh:   make([]float64, hid),
		z2:   make([]float64, out),
		p:    make([]float64, out),
	}
	for i, lv := range m.w1LogVar.RawMatrix().Data {
		s.sig1[i] = math.Exp(lv)
	}
	for i, lv := range m.w2LogVar.RawMatrix().Data {
		s.sig2[i] = math.Exp(lv)
	}
	return s
}

// sampleForward realizes fresh weights for one batch row and runs the
// network on image x (length NumInputs). Results land in the scratch
// buffers.
func (m *VariationalModel) sampleForward(s *sampleScratch, x []float64) {
	mu1 := m.w1Mu.RawMatrix().Data
	for i := range s.wt1 {
		s.eps1[i] = m.rng.NormFloat64()
		s.wt1[i] = mu1[i] + s.sig1[i]*s.eps1[i]
	}
	mu2 := m.w2Mu.RawMatrix().Data
	for i := range s.wt2 {
		s.eps2[i] = m.rng.NormFloat64()
		s.wt2[i] = mu2[i] + s.sig2[i]*s.eps2[i]
	}

	in, hid, out := m.cfg.NumInputs, m.cfg.NumHidden, m.cfg.NumClasses

	b1 := m.b1.RawRowView(0)
	copy(s.z1, b1)
	for i := 0; i < in; i++ {
		xi := x[i]
		if xi == 0 {
			continue
		}
		row := s.wt1[i*hid : (i+1)*hid]
		for j := 0; j < hid; j++ {
			s.z1[j] += xi * row[j]
		}
	}
	for j := 0; j < hid; j++ {
		if s.z1[j] > 0 {
			s.h[j] = s.z1[j]
		} else {
			s.h[j] = 0
		}
	}

	b2 := m.b2.RawRowView(0)
	copy(s.z2, b2)
	for j := 0; j < hid; j++ {
		hj := s.h[j]
		if hj == 0 {
			continue
		}
		row := s.wt2[j*out : (j+1)*out]
		for k := 0; k < out; k++ {
			s.z2[k] += hj * row[k]
		}
	}

	// Row softmax with max subtraction.
	maxVal := s.z2[0]
	for k := 1; k < out; k++ {
		if s.z2[k] > maxVal {
			maxVal = s.z2[k]
		}
	}
	var sum float64
	for k := 0; k < out; k++ {
		s.p[k] = math.Exp(s.z2[k] - maxVal)
		sum += s.p[k]
	}
	for k := 0; k < out; k++ {
		s.p[k] /= sum
	}
}

// ForwardStochastic draws one realized weight sample per batch row and
// returns the resulting batch x classes probabilities.
func (m *VariationalModel) ForwardStochastic(x *mat.Dense) (*mat.Dense, error) {
	if err := checkBatch(m.cfg, x, nil); err != nil {
		return nil, err
	}
	rows, _ := x.Dims()
	out := mat.NewDense(rows, m.cfg.NumClasses, nil)
	s := m.newScratch()
	for i := 0; i < rows; i++ {
		m.sampleForward(s, x.RawRowView(i))
		out.SetRow(i, s.p)
	}
	return out, nil
}

// ForwardDeterministic propagates through the posterior means with no
// noise. Used for evaluation and classical entropy only, never trained.
func (m *VariationalModel) ForwardDeterministic(x *mat.Dense) (*mat.Dense, error) {
	if err := checkBatch(m.cfg, x, nil); err != nil {
		return nil, err
	}
	rows, _ := x.Dims()

	h := mat.NewDense(rows, m.cfg.NumHidden, nil)
	h.Mul(x, m.w1Mu)
	addRowVector(h, m.b1)
	reluInPlace(h)

	probs := mat.NewDense(rows, m.cfg.NumClasses, nil)
	probs.Mul(h, m.w2Mu)
	addRowVector(probs, m.b2)
	softmaxRows(probs)
	return probs, nil
}

// dkl is sum(1 + 2*logvar - mean^2 - exp(2*logvar))/2 over all entries of
// one weight matrix; it vanishes when the posterior equals the
// standard-normal prior (mean 0, logvar 0).
func dkl(mu, logVar *mat.Dense) float64 {
	muData := mu.RawMatrix().Data
	lvData := logVar.RawMatrix().Data
	var sum float64
	for i := range muData {
		sum += 1.0 + 2.0*lvData[i] - muData[i]*muData[i] - math.Exp(2.0*lvData[i])
	}
	return sum / 2.0
}

func clipProb(p float64) float64 {
	if p < probClip {
		return probClip
	}
	if p > 1.0-probClip {
		return 1.0 - probClip
	}
	return p
}

// Loss runs one stochastic pass and returns the variational objective:
// mean clipped NLL minus the divergence terms scaled by the batch size.
func (m *VariationalModel) Loss(x *mat.Dense, labels []int) (float64, error) {
	if err := checkBatch(m.cfg, x, labels); err != nil {
		return 0, err
	}
	rows, _ := x.Dims()
	s := m.newScratch()
	var nll float64
	for i := 0; i < rows; i++ {
		m.sampleForward(s, x.RawRowView(i))
		nll += -math.Log(clipProb(s.p[labels[i]]))
	}
	nll /= float64(rows)
	return nll - (dkl(m.w1Mu, m.w1LogVar)+dkl(m.w2Mu, m.w2LogVar))/float64(rows), nil
}

// Backward computes the variational loss and hand-derived gradients, in
// Params order. Each batch row realizes its own weights, so the per-row
// contribution is backpropagated immediately and the noise buffers are
// reused; gradients through a realized weight split into the mean path
// (unchanged) and the log-variance path (scaled by eps*exp(logvar)).
func (m *VariationalModel) Backward(x *mat.Dense, labels []int) (float64, []*mat.Dense, error) {
	if err := checkBatch(m.cfg, x, labels); err != nil {
		return 0, nil, err
	}
	rows, _ := x.Dims()
	batch := float64(rows)
	in, hid, out := m.cfg.NumInputs, m.cfg.NumHidden, m.cfg.NumClasses

	gw1Mu := mat.NewDense(in, hid, nil)
	gw1Lv := mat.NewDense(in, hid, nil)
	gb1 := mat.NewDense(1, hid, nil)
	gw2Mu := mat.NewDense(hid, out, nil)
	gw2Lv := mat.NewDense(hid, out, nil)
	gb2 := mat.NewDense(1, out, nil)

	gw1MuData := gw1Mu.RawMatrix().Data
	gw1LvData := gw1Lv.RawMatrix().Data
	gb1Data := gb1.RawRowView(0)
	gw2MuData := gw2Mu.RawMatrix().Data
	gw2LvData := gw2Lv.RawMatrix().Data
	gb2Data := gb2.RawRowView(0)

	s := m.newScratch()
	dz2 := make([]float64, out)

	var nll float64
	for i := 0; i < rows; i++ {
		xRow := x.RawRowView(i)
		m.sampleForward(s, xRow)
		nll += -math.Log(clipProb(s.p[labels[i]]))

		// Output pre-activation gradient of the mean NLL.
		for k := 0; k < out; k++ {
			dz2[k] = s.p[k] / batch
		}
		dz2[labels[i]] -= 1.0 / batch

		for k := 0; k < out; k++ {
			gb2Data[k] += dz2[k]
		}
		for j := 0; j < hid; j++ {
			hj := s.h[j]
			base := j * out
			for k := 0; k < out; k++ {
				g := hj * dz2[k]
				gw2MuData[base+k] += g
				gw2LvData[base+k] += g * s.eps2[base+k] * s.sig2[base+k]
			}
		}

		// dh = dz2 * wt2^T, gated by the ReLU.
		for j := 0; j < hid; j++ {
			if s.z1[j] <= 0 {
				s.dh[j] = 0
				continue
			}
			base := j * out
			var sum float64
			for k := 0; k < out; k++ {
				sum += dz2[k] * s.wt2[base+k]
			}
			s.dh[j] = sum
		}

		for j := 0; j < hid; j++ {
			gb1Data[j] += s.dh[j]
		}
		for a := 0; a < in; a++ {
			xa := xRow[a]
			if xa == 0 {
				continue
			}
			base := a * hid
			for j := 0; j < hid; j++ {
				g := xa * s.dh[j]
				gw1MuData[base+j] += g
				gw1LvData[base+j] += g * s.eps1[base+j] * s.sig1[base+j]
			}
		}
	}
	nll /= batch

	// Gradient of -(DKL_hidden + DKL_output)/batch.
	addKLGrad(gw1MuData, gw1LvData, m.w1Mu, m.w1LogVar, batch)
	addKLGrad(gw2MuData, gw2LvData, m.w2Mu, m.w2LogVar, batch)

	loss := nll - (dkl(m.w1Mu, m.w1LogVar)+dkl(m.w2Mu, m.w2LogVar))/batch
	return loss, []*mat.Dense{gw1Mu, gw1Lv, gb1, gw2Mu, gw2Lv, gb2}, nil
}

// addKLGrad accumulates d(-dkl/batch): mu/batch into the mean gradient and
// (exp(2*logvar)-1)/batch into the log-variance gradient.
func addKLGrad(gMu, gLv []float64, mu, logVar *mat.Dense, batch float64) {
	muData := mu.RawMatrix().Data
	lvData := logVar.RawMatrix().Data
	for i := range gMu {
		gMu[i] += muData[i] / batch
		gLv[i] += (math.Exp(2.0*lvData[i]) - 1.0) / batch
	}
}
