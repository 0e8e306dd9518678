package evaluate

import "math"

// MSE is the mean squared error of pred against actual.
func MSE(actual, pred []float64) float64 {
	var s float64
	for i := range actual {
		d := pred[i] - actual[i]
		s += d * d
	}
	return s / float64(len(actual))
}

// MAE is the mean absolute error of pred against actual.
func MAE(actual, pred []float64) float64 {
	var s float64
	for i := range actual {
		s += math.Abs(pred[i] - actual[i])
	}
	return s / float64(len(actual))
}

// R2 is the coefficient of determination. It is 0 when actual is constant.
func R2(actual, pred []float64) float64 {
	var mean float64
	for _, v := range actual {
		mean += v
	}
	mean /= float64(len(actual))

	var ssTot, ssRes float64
	for i, v := range actual {
		d := v - mean
		ssTot += d * d
		r := v - pred[i]
		ssRes += r * r
	}
	if ssTot == 0 {
		return 0
	}
	return 1 - ssRes/ssTot
}
