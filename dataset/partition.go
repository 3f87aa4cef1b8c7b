package dataset

import (
	"gonum.org/v1/gonum/mat"
)

// InDistributionLabels are the digit classes the classifier is trained on.
// Everything else is treated as out-of-distribution.
var InDistributionLabels = []int{0, 1}

// Split is the label-filtered partition of the raw train/test sources used
// by the experiment. TrainIn and TrainOut together recover the original
// train set; TestIn is the in-distribution subset of TestAll.
type Split struct {
	TrainIn  *Data // train samples with labels 0 or 1
	TrainOut *Data // train samples with any other label
	TestIn   *Data // test samples with labels 0 or 1
	TestAll  *Data // the unfiltered test set
}

// Partition splits the raw train and test collections into the
// in-distribution and out-of-distribution subsets. Row order within each
// subset follows the source order.
func Partition(train, test *Data) (*Split, error) {
	trainIn, err := Filter(train, isInDistribution)
	if err != nil {
		return nil, err
	}
	trainOut, err := Filter(train, func(label int) bool { return !isInDistribution(label) })
	if err != nil {
		return nil, err
	}
	testIn, err := Filter(test, isInDistribution)
	if err != nil {
		return nil, err
	}
	return &Split{
		TrainIn:  trainIn,
		TrainOut: trainOut,
		TestIn:   testIn,
		TestAll:  test,
	}, nil
}

func isInDistribution(label int) bool {
	for _, l := range InDistributionLabels {
		if label == l {
			return true
		}
	}
	return false
}

// Filter selects the samples whose label satisfies keep, preserving the
// image/label row correspondence and the original ordering.
func Filter(d *Data, keep func(label int) bool) (*Data, error) {
	var indices []int
	for i, label := range d.Labels {
		if keep(label) {
			indices = append(indices, i)
		}
	}
	if len(indices) == 0 {
		// mat.NewDense rejects zero rows; an empty subset carries no matrix.
		return &Data{Images: nil, Labels: nil}, nil
	}

	_, cols := d.Images.Dims()
	images := mat.NewDense(len(indices), cols, nil)
	labels := make([]int, len(indices))
	for row, idx := range indices {
		images.SetRow(row, d.Image(idx))
		labels[row] = d.Labels[idx]
	}
	return &Data{Images: images, Labels: labels}, nil
}
