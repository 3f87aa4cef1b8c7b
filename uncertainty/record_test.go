package uncertainty

import (
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-bayes/dataset"
)

func TestRecordAdd(t *testing.T) {
	record := NewRecord(10)

	// Two maximally disagreeing draws: class-1 probabilities 0 and 1.
	res := &SampleResult{
		Probs:         mat.NewDense(2, 2, []float64{1, 0, 0, 1}),
		Deterministic: []float64{0.5, 0.5},
	}
	if err := record.Add(7, res); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	stats := record["7"]
	if len(stats.PredMean) != 1 {
		t.Fatalf("expected one appended entry, got %d", len(stats.PredMean))
	}
	if got := stats.PredMean[0]; math.Abs(got-0.5) > 1e-12 {
		t.Errorf("predictive mean = %v, want 0.5", got)
	}
	// Population standard deviation of {0, 1} is 0.5 (not the sample 0.707).
	if got := stats.PredStd[0]; math.Abs(got-0.5) > 1e-12 {
		t.Errorf("predictive std = %v, want 0.5", got)
	}
	// Each draw is a point mass, so its self-entropy is zero.
	if got := stats.BayesEntropy[0]; got != 0 {
		t.Errorf("Bayesian entropy = %v, want 0", got)
	}
	// The deterministic pass is uniform: entropy ln 2.
	if got := stats.ClassicEntropy[0]; math.Abs(got-math.Ln2) > 1e-12 {
		t.Errorf("classical entropy = %v, want ln 2", got)
	}

	t.Run("other buckets stay empty", func(t *testing.T) {
		for label, s := range record {
			if label == "7" {
				continue
			}
			if len(s.PredMean) != 0 {
				t.Errorf("bucket %s has %d entries", label, len(s.PredMean))
			}
		}
	})

	t.Run("unknown label is rejected", func(t *testing.T) {
		if err := record.Add(42, res); err == nil {
			t.Error("expected error for label without a bucket")
		}
	})
}

func TestRecordByStatistic(t *testing.T) {
	record := NewRecord(3)
	record["2"].PredStd = append(record["2"].PredStd, 0.25)

	byLabel, err := record.ByStatistic("pred_std")
	if err != nil {
		t.Fatalf("ByStatistic failed: %v", err)
	}
	if len(byLabel) != 3 {
		t.Fatalf("got %d labels, want 3", len(byLabel))
	}
	if len(byLabel["2"]) != 1 || byLabel["2"][0] != 0.25 {
		t.Errorf("projected values %v, want [0.25]", byLabel["2"])
	}

	if _, err := record.ByStatistic("no_such_stat"); err == nil {
		t.Error("expected error for unknown statistic name")
	}
}

func TestScoreBuildsFullRecord(t *testing.T) {
	m := testModel(t, 3)

	images := mat.NewDense(6, 10, nil)
	rng := rand.New(rand.NewSource(4))
	for i := 0; i < 6; i++ {
		for j := 0; j < 10; j++ {
			images.Set(i, j, rng.Float64())
		}
	}
	labels := []int{0, 1, 2, 2, 9, 0}
	test := &dataset.Data{Images: images, Labels: labels}

	record, err := Score(m, test, 20, 10)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	counts := map[string]int{"0": 2, "1": 1, "2": 2, "9": 1}
	for label, want := range counts {
		if got := len(record[label].BayesEntropy); got != want {
			t.Errorf("label %s: %d entries, want %d", label, got, want)
		}
	}
	// Entropy statistics of a two-class prediction live in [0, ln 2].
	for label, stats := range record {
		for i, e := range stats.BayesEntropy {
			if e < 0 || e > math.Ln2+1e-9 {
				t.Errorf("label %s entry %d: Bayesian entropy %v outside [0, ln 2]", label, i, e)
			}
		}
	}
}

func TestRecordSaveJSON(t *testing.T) {
	record := NewRecord(2)
	record["0"].PredMean = append(record["0"].PredMean, 0.9)

	path := filepath.Join(t.TempDir(), "record.json")
	if err := record.SaveJSON(path); err != nil {
		t.Fatalf("SaveJSON failed: %v", err)
	}
}
