package trainer

import (
	"math"

	"github.com/sells-group/housing-model/internal/nn"
)

// EarlyStopping tracks the best validation loss seen so far and signals a
// stop once Patience epochs pass without a strict improvement.
type EarlyStopping struct {
	Patience int

	best      float64
	bestEpoch int
	wait      int
	weights   nn.Weights
}

// NewEarlyStopping returns a monitor with the given patience.
func NewEarlyStopping(patience int) *EarlyStopping {
	return &EarlyStopping{Patience: patience, best: math.Inf(1)}
}

// Observe records the validation loss of epoch. snapshot is called only when
// the loss improves, to capture the weights worth restoring. It returns true
// when training should stop.
func (e *EarlyStopping) Observe(epoch int, valLoss float64, snapshot func() nn.Weights) bool {
	if valLoss < e.best || (e.bestEpoch == 0 && !math.IsNaN(valLoss)) {
		e.best = valLoss
		e.bestEpoch = epoch
		e.wait = 0
		e.weights = snapshot()
		return false
	}
	e.wait++
	return e.wait >= e.Patience
}

// Best returns the lowest validation loss and the epoch it was seen at.
// bestEpoch is 0 when no epoch has been observed.
func (e *EarlyStopping) Best() (loss float64, epoch int) {
	return e.best, e.bestEpoch
}

// BestWeights returns the weights captured at the best epoch.
func (e *EarlyStopping) BestWeights() (nn.Weights, bool) {
	return e.weights, e.bestEpoch > 0
}
