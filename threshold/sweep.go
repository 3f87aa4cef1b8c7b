// Package threshold scans candidate decision thresholds over an
// uncertainty statistic and picks the operating point that best separates
// in-distribution from out-of-distribution samples.
package threshold

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// NumThresholds is the number of evenly spaced candidate thresholds
// swept over [0, 1].
const NumThresholds = 1000

// Result is the best operating point found by a sweep.
type Result struct {
	Threshold        float64
	BalancedAccuracy float64
}

// Sweep scans NumThresholds evenly spaced thresholds t over [0, 1] for one
// statistic. byLabel maps each true label to that label's recorded values;
// inLabels names the in-distribution labels, every other key is
// out-of-distribution. For each t,
//
//	in-accuracy  = mean over in-labels of the fraction of values < t
//	out-accuracy = mean over out-labels of the fraction of values >= t
//	balanced     = (in-accuracy + out-accuracy) / 2
//
// and the first threshold attaining the maximum balanced accuracy wins.
// The per-side divisors are the label-set cardinalities, not constants, so
// the sweep does not assume ten classes.
func Sweep(byLabel map[string][]float64, inLabels []string) (Result, error) {
	if len(byLabel) == 0 {
		return Result{}, errors.New("empty statistic map")
	}
	if len(inLabels) == 0 {
		return Result{}, errors.New("no in-distribution labels")
	}

	inSet := make(map[string]bool, len(inLabels))
	for _, l := range inLabels {
		if _, ok := byLabel[l]; !ok {
			return Result{}, errors.Errorf("in-distribution label %q not present in statistic map", l)
		}
		inSet[l] = true
	}
	numIn := len(inSet)
	numOut := len(byLabel) - numIn
	if numOut == 0 {
		return Result{}, errors.New("no out-of-distribution labels")
	}

	thresholds := floats.Span(make([]float64, NumThresholds), 0, 1)

	best := Result{Threshold: thresholds[0], BalancedAccuracy: -1}
	for _, t := range thresholds {
		var inAcc, outAcc float64
		for label, values := range byLabel {
			if inSet[label] {
				inAcc += fraction(values, func(v float64) bool { return v < t })
			} else {
				outAcc += fraction(values, func(v float64) bool { return v >= t })
			}
		}
		inAcc /= float64(numIn)
		outAcc /= float64(numOut)

		balanced := (inAcc + outAcc) / 2.0
		if balanced > best.BalancedAccuracy {
			best = Result{Threshold: t, BalancedAccuracy: balanced}
		}
	}
	return best, nil
}

// fraction returns the proportion of values satisfying pred; an empty
// slice counts as zero.
func fraction(values []float64, pred func(float64) bool) float64 {
	if len(values) == 0 {
		return 0
	}
	var n int
	for _, v := range values {
		if pred(v) {
			n++
		}
	}
	return float64(n) / float64(len(values))
}
