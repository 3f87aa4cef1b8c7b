package model

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// glorotUniform draws a rows x cols matrix from U(-sqrt(6/(rows+cols)),
// +sqrt(6/(rows+cols))), the fan-based initializer used for every weight
// matrix in this network.
func glorotUniform(rows, cols int, rng *rand.Rand) *mat.Dense {
	limit := math.Sqrt(6.0 / float64(rows+cols))
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = (rng.Float64()*2.0 - 1.0) * limit
	}
	return mat.NewDense(rows, cols, data)
}

// addRowVector adds the 1 x c row vector bias to every row of m in place.
func addRowVector(m, bias *mat.Dense) {
	rows, cols := m.Dims()
	b := bias.RawRowView(0)
	for i := 0; i < rows; i++ {
		row := m.RawRowView(i)
		for j := 0; j < cols; j++ {
			row[j] += b[j]
		}
	}
}

// reluInPlace clamps negative entries of m to zero.
func reluInPlace(m *mat.Dense) {
	data := m.RawMatrix().Data
	for i, v := range data {
		if v < 0 {
			data[i] = 0
		}
	}
}

// softmaxRows normalizes each row of m into a probability vector in place,
// subtracting the row maximum before exponentiating for stability.
func softmaxRows(m *mat.Dense) {
	rows, cols := m.Dims()
	for i := 0; i < rows; i++ {
		row := m.RawRowView(i)
		maxVal := row[0]
		for j := 1; j < cols; j++ {
			if row[j] > maxVal {
				maxVal = row[j]
			}
		}
		var sum float64
		for j := 0; j < cols; j++ {
			row[j] = math.Exp(row[j] - maxVal)
			sum += row[j]
		}
		for j := 0; j < cols; j++ {
			row[j] /= sum
		}
	}
}

// sumSquares returns the sum of squared entries of m.
func sumSquares(m *mat.Dense) float64 {
	var sum float64
	for _, v := range m.RawMatrix().Data {
		sum += v * v
	}
	return sum
}

// meanCrossEntropy is the mean negative log probability assigned to the
// true classes. Probabilities below floor are clamped before the log.
func meanCrossEntropy(probs *mat.Dense, labels []int, floor float64) float64 {
	var total float64
	for i, label := range labels {
		p := probs.At(i, label)
		if p < floor {
			p = floor
		}
		total += -math.Log(p)
	}
	return total / float64(len(labels))
}

// colSumsInto accumulates the column sums of m into the 1 x c dst.
func colSumsInto(dst, m *mat.Dense) {
	rows, cols := m.Dims()
	out := dst.RawRowView(0)
	for i := 0; i < rows; i++ {
		row := m.RawRowView(i)
		for j := 0; j < cols; j++ {
			out[j] += row[j]
		}
	}
}

// checkBatch validates a batch against the configured input width and,
// when labels is non-nil, the image/label row correspondence.
func checkBatch(cfg Config, x *mat.Dense, labels []int) error {
	rows, cols := x.Dims()
	if cols != cfg.NumInputs {
		return errShape("input width", cfg.NumInputs, cols)
	}
	if labels != nil && rows != len(labels) {
		return errShape("label count", rows, len(labels))
	}
	for _, label := range labels {
		if label < 0 || label >= cfg.NumClasses {
			return errShape("class index", cfg.NumClasses-1, label)
		}
	}
	return nil
}
