package nn

import (
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/mat"
)

// Adam holds the optimiser hyperparameters.
type Adam struct {
	LearningRate float64 `json:"learning_rate"`
	Beta1        float64 `json:"beta1"`
	Beta2        float64 `json:"beta2"`
	Epsilon      float64 `json:"epsilon"`
}

// DefaultAdam returns the optimiser settings the housing model trains with.
func DefaultAdam() Adam {
	return Adam{LearningRate: 0.0005, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-7}
}

// Validate checks the hyperparameters are usable.
func (a Adam) Validate() error {
	switch {
	case !(a.LearningRate > 0):
		return eris.Errorf("nn: adam learning rate must be positive, got %v", a.LearningRate)
	case a.Beta1 < 0 || a.Beta1 >= 1:
		return eris.Errorf("nn: adam beta1 must be in [0, 1), got %v", a.Beta1)
	case a.Beta2 < 0 || a.Beta2 >= 1:
		return eris.Errorf("nn: adam beta2 must be in [0, 1), got %v", a.Beta2)
	case !(a.Epsilon > 0):
		return eris.Errorf("nn: adam epsilon must be positive, got %v", a.Epsilon)
	}
	return nil
}

// stepSize is the bias-corrected learning rate for update number t (1-based).
func (a Adam) stepSize(t int) float64 {
	ft := float64(t)
	return a.LearningRate * math.Sqrt(1-math.Pow(a.Beta2, ft)) / (1 - math.Pow(a.Beta1, ft))
}

// update applies one Adam step to params in place, advancing the moment
// estimates m and v. All four matrices share one shape.
func (a Adam) update(params, grads, m, v *mat.Dense, lr float64) {
	var t mat.Dense
	t.Scale(1-a.Beta1, grads)
	m.Scale(a.Beta1, m)
	m.Add(m, &t)

	var sq mat.Dense
	sq.MulElem(grads, grads)
	sq.Scale(1-a.Beta2, &sq)
	v.Scale(a.Beta2, v)
	v.Add(v, &sq)

	var step mat.Dense
	step.Apply(func(i, j int, x float64) float64 {
		return lr * m.At(i, j) / (math.Sqrt(x) + a.Epsilon)
	}, v)
	params.Sub(params, &step)
}
