package dataset

import (
	"math"
	"math/rand/v2"

	"github.com/rotisserie/eris"

	"github.com/sells-group/housing-model/internal/model"
)

// Split partitions records into training and evaluation subsets using a
// permutation drawn from rng. ceil(fractionEval*n) records go to evaluation.
// Every record lands in exactly one subset; the same rng seed and input order
// always produce the same partition.
func Split(records []model.Record, fractionEval float64, rng *rand.Rand) (train, eval []model.Record, err error) {
	if fractionEval <= 0 || fractionEval >= 1 || math.IsNaN(fractionEval) {
		return nil, nil, eris.Errorf("dataset: eval fraction %v outside (0, 1)", fractionEval)
	}

	n := len(records)
	nEval := int(math.Ceil(fractionEval * float64(n)))
	if nEval == 0 || nEval >= n {
		return nil, nil, eris.Errorf("dataset: cannot split %d records with eval fraction %v", n, fractionEval)
	}

	perm := rng.Perm(n)
	eval = make([]model.Record, 0, nEval)
	train = make([]model.Record, 0, n-nEval)
	for i, idx := range perm {
		if i < nEval {
			eval = append(eval, records[idx])
		} else {
			train = append(train, records[idx])
		}
	}
	return train, eval, nil
}
