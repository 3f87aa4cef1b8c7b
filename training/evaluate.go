package training

import (
	"github.com/pkg/errors"

	"github.com/tsawler/go-bayes/dataset"
	"github.com/tsawler/go-bayes/model"
)

// TestResult holds the post-training evaluation over the in-distribution
// test set.
type TestResult struct {
	Loss     float64 // mean of the mode-specific loss over full batches
	Accuracy float64 // deterministic-pass argmax accuracy
}

// Evaluate iterates test in fixed-size unshuffled batches (trailing partial
// batch dropped) and reports the mean loss and classification accuracy.
func Evaluate(m model.Model, test *dataset.Data, batchSize int) (*TestResult, error) {
	it, err := NewBatchIterator(test, batchSize, false, nil)
	if err != nil {
		return nil, err
	}
	if it.NumBatches() == 0 {
		return nil, errors.Errorf("test set of %d samples yields no full batch of %d", test.Len(), batchSize)
	}

	var totalLoss float64
	var correct, seen, batches int
	for {
		batch, ok := it.Next()
		if !ok {
			break
		}
		loss, err := m.Loss(batch.Images, batch.Labels)
		if err != nil {
			return nil, errors.Wrap(err, "test loss")
		}
		totalLoss += loss
		batches++

		probs, err := m.ForwardDeterministic(batch.Images)
		if err != nil {
			return nil, errors.Wrap(err, "test forward")
		}
		for i, label := range batch.Labels {
			if argmaxRow(probs.RawRowView(i)) == label {
				correct++
			}
			seen++
		}
	}

	return &TestResult{
		Loss:     totalLoss / float64(batches),
		Accuracy: float64(correct) / float64(seen),
	}, nil
}

func argmaxRow(row []float64) int {
	best := 0
	for j := 1; j < len(row); j++ {
		if row[j] > row[best] {
			best = j
		}
	}
	return best
}
