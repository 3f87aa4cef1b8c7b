package uncertainty

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"

	"github.com/tsawler/go-bayes/dataset"
	"github.com/tsawler/go-bayes/model"
)

// Stats collects the per-sample uncertainty statistics for one true label.
// Slices grow by one entry per scored test sample, in scoring order, and
// are read-only once the record is built.
type Stats struct {
	// PredMean is the predictive mean of the probability assigned to
	// class 1, across the stochastic draws.
	PredMean []float64 `json:"pred_mean"`
	// PredStd is the population standard deviation of the same quantity.
	PredStd []float64 `json:"pred_std"`
	// BayesEntropy is the self-entropy -sum(p*ln p) of each draw's
	// probability vector, averaged over the draws.
	BayesEntropy []float64 `json:"bayes_entropy"`
	// ClassicEntropy is the self-entropy of the deterministic pass.
	ClassicEntropy []float64 `json:"classic_entropy"`
}

// Record keys the uncertainty statistics by the true label's digit string
// ('0'..'9').
type Record map[string]*Stats

// NewRecord creates an empty record with one bucket per digit class.
func NewRecord(numLabels int) Record {
	r := make(Record, numLabels)
	for i := 0; i < numLabels; i++ {
		r[strconv.Itoa(i)] = &Stats{}
	}
	return r
}

// Add reduces one image's sample result into the bucket for its true label.
func (r Record) Add(label int, res *SampleResult) error {
	stats, ok := r[strconv.Itoa(label)]
	if !ok {
		return errors.Errorf("no record bucket for label %d", label)
	}

	rows, cols := res.Probs.Dims()
	if cols < 2 {
		return errors.Errorf("expected at least 2 classes, got %d", cols)
	}

	classOne := make([]float64, rows)
	var entropySum float64
	for i := 0; i < rows; i++ {
		row := res.Probs.RawRowView(i)
		classOne[i] = row[1]
		entropySum += stat.Entropy(row)
	}

	stats.PredMean = append(stats.PredMean, stat.Mean(classOne, nil))
	stats.PredStd = append(stats.PredStd, stat.PopStdDev(classOne, nil))
	stats.BayesEntropy = append(stats.BayesEntropy, entropySum/float64(rows))
	stats.ClassicEntropy = append(stats.ClassicEntropy, stat.Entropy(res.Deterministic))
	return nil
}

// ByStatistic projects the record onto one named statistic, for the
// threshold sweep. Valid names: pred_mean, pred_std, bayes_entropy,
// classic_entropy.
func (r Record) ByStatistic(name string) (map[string][]float64, error) {
	out := make(map[string][]float64, len(r))
	for label, stats := range r {
		switch name {
		case "pred_mean":
			out[label] = stats.PredMean
		case "pred_std":
			out[label] = stats.PredStd
		case "bayes_entropy":
			out[label] = stats.BayesEntropy
		case "classic_entropy":
			out[label] = stats.ClassicEntropy
		default:
			return nil, errors.Errorf("unknown statistic %q", name)
		}
	}
	return out, nil
}

// SaveJSON writes the record for external consumers (histogram plotting is
// out of scope here).
func (r Record) SaveJSON(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating record file")
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return errors.Wrap(err, "encoding record")
	}
	return nil
}

// Score builds the full uncertainty record for every sample of the
// unfiltered test set, keyed by true label.
func Score(m model.Model, test *dataset.Data, sampleCount, numLabels int) (Record, error) {
	sampler, err := NewSampler(m, sampleCount)
	if err != nil {
		return nil, err
	}

	record := NewRecord(numLabels)
	for i := 0; i < test.Len(); i++ {
		res, err := sampler.Sample(test.Image(i))
		if err != nil {
			return nil, errors.Wrapf(err, "scoring test sample %d", i)
		}
		if err := record.Add(test.Labels[i], res); err != nil {
			return nil, err
		}
	}
	return record, nil
}
