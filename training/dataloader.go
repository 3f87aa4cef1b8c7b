package training

import (
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-bayes/dataset"
)

// Batch is one fixed-size minibatch of images with parallel labels.
type Batch struct {
	Images *mat.Dense
	Labels []int
}

// BatchIterator walks a dataset in fixed-size minibatches. A trailing
// partial batch is dropped, matching the training contract. When shuffle
// is set, the index order is re-drawn on every Reset.
type BatchIterator struct {
	data      *dataset.Data
	batchSize int
	shuffle   bool
	rng       *rand.Rand

	indices  []int
	position int
}

// NewBatchIterator creates an iterator over d. rng may be nil when shuffle
// is false.
func NewBatchIterator(d *dataset.Data, batchSize int, shuffle bool, rng *rand.Rand) (*BatchIterator, error) {
	if batchSize <= 0 {
		return nil, errors.Errorf("batch size must be positive: %d", batchSize)
	}
	if shuffle && rng == nil {
		return nil, errors.New("shuffling requires a random source")
	}

	indices := make([]int, d.Len())
	for i := range indices {
		indices[i] = i
	}
	it := &BatchIterator{
		data:      d,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rng,
		indices:   indices,
	}
	it.Reset()
	return it, nil
}

// NumBatches returns the number of full batches per epoch.
func (it *BatchIterator) NumBatches() int {
	return it.data.Len() / it.batchSize
}

// Reset rewinds the iterator for a new epoch, reshuffling if requested.
func (it *BatchIterator) Reset() {
	it.position = 0
	if it.shuffle {
		it.rng.Shuffle(len(it.indices), func(i, j int) {
			it.indices[i], it.indices[j] = it.indices[j], it.indices[i]
		})
	}
}

// Next returns the next full batch, or ok=false at the end of the epoch.
func (it *BatchIterator) Next() (batch *Batch, ok bool) {
	if it.position+it.batchSize > len(it.indices) {
		return nil, false
	}
	chosen := it.indices[it.position : it.position+it.batchSize]
	it.position += it.batchSize

	_, cols := it.data.Images.Dims()
	images := mat.NewDense(it.batchSize, cols, nil)
	labels := make([]int, it.batchSize)
	for row, idx := range chosen {
		images.SetRow(row, it.data.Image(idx))
		labels[row] = it.data.Labels[idx]
	}
	return &Batch{Images: images, Labels: labels}, true
}
