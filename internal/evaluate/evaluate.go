// Package evaluate scores a trained model on the held-out partition.
package evaluate

import (
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"text/tabwriter"

	"github.com/rotisserie/eris"
)

// SampleCount is how many example predictions a Report carries.
const SampleCount = 5

// Predictor produces one prediction per feature row.
type Predictor interface {
	Predict(X [][]float64) ([]float64, error)
}

// Sample is one held-out record with its prediction.
type Sample struct {
	Index     int
	Actual    float64
	Predicted float64
}

// Report holds the evaluation metrics.
type Report struct {
	N       int
	MSE     float64
	MAE     float64
	RMSE    float64
	R2      float64
	Samples []Sample
}

// Evaluate scores m on X and y. Samples are min(SampleCount, n) rows drawn
// without replacement using rng; they are informational only.
func Evaluate(m Predictor, X [][]float64, y []float64, rng *rand.Rand) (*Report, error) {
	if m == nil {
		return nil, eris.New("evaluate: nil model")
	}
	if len(X) == 0 {
		return nil, eris.New("evaluate: empty evaluation set")
	}
	if len(X) != len(y) {
		return nil, eris.Errorf("evaluate: %d rows but %d targets", len(X), len(y))
	}
	if rng == nil {
		return nil, eris.New("evaluate: nil random source")
	}

	pred, err := m.Predict(X)
	if err != nil {
		return nil, eris.Wrap(err, "evaluate: predict")
	}
	if len(pred) != len(y) {
		return nil, eris.Errorf("evaluate: model returned %d predictions for %d rows", len(pred), len(y))
	}

	r := &Report{
		N:   len(y),
		MSE: MSE(y, pred),
		MAE: MAE(y, pred),
		R2:  R2(y, pred),
	}
	r.RMSE = math.Sqrt(r.MSE)

	for _, idx := range rng.Perm(len(y))[:min(SampleCount, len(y))] {
		r.Samples = append(r.Samples, Sample{Index: idx, Actual: y[idx], Predicted: pred[idx]})
	}
	return r, nil
}

// WriteSamples renders the samples as an aligned actual/predicted table.
func (r *Report) WriteSamples(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "row\tactual\tpredicted\terror\t")
	for _, s := range r.Samples {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t\n",
			s.Index, FormatDollars(s.Actual), FormatDollars(s.Predicted), FormatDollars(s.Predicted-s.Actual))
	}
	return eris.Wrap(tw.Flush(), "evaluate: write samples")
}
