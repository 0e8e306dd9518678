// Package trainer runs the epoch loop: mini-batch updates over a shuffled
// training slice, validation after each epoch, and early stopping.
package trainer

import (
	"math/rand/v2"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/housing-model/internal/nn"
)

// Learner is the model surface the trainer drives. *nn.Network implements it.
type Learner interface {
	TrainBatch(X [][]float64, y []float64) (loss, mae float64, err error)
	Evaluate(X [][]float64, y []float64) (mse, mae float64, err error)
	Snapshot() nn.Weights
	Restore(w nn.Weights) error
}

// Config controls a training run.
type Config struct {
	// Epochs caps the number of passes over the training slice. Default: 50.
	Epochs int
	// BatchSize is the mini-batch size. Default: 32.
	BatchSize int
	// Patience is how many epochs without val-loss improvement end the run.
	// Default: 10.
	Patience int
	// ValidationSplit is the trailing share of the input held out for
	// validation. Default: 0.2.
	ValidationSplit float64

	// OnStateChange is called on every state transition.
	OnStateChange func(from, to State)
}

// DefaultConfig returns the housing model training settings.
func DefaultConfig() Config {
	return Config{
		Epochs:          50,
		BatchSize:       32,
		Patience:        10,
		ValidationSplit: 0.2,
	}
}

// Validate checks the config values.
func (c Config) Validate() error {
	switch {
	case c.Epochs <= 0:
		return eris.Errorf("trainer: epochs must be positive, got %d", c.Epochs)
	case c.BatchSize <= 0:
		return eris.Errorf("trainer: batch size must be positive, got %d", c.BatchSize)
	case c.Patience <= 0:
		return eris.Errorf("trainer: patience must be positive, got %d", c.Patience)
	case !(c.ValidationSplit > 0 && c.ValidationSplit < 1):
		return eris.Errorf("trainer: validation split must be in (0, 1), got %v", c.ValidationSplit)
	}
	return nil
}

// EpochStats are the metrics of one completed epoch. Epoch is 1-based.
type EpochStats struct {
	Epoch    int
	Loss     float64
	MAE      float64
	ValLoss  float64
	ValMAE   float64
	Duration time.Duration
}

// EpochObserver receives each epoch's stats as soon as it completes.
type EpochObserver func(EpochStats)

// Result is the outcome of a finished run.
type Result struct {
	Model   Learner
	History []EpochStats
	// State is always Finished.
	State State
	// Stop is EarlyStopped or MaxEpochsReached.
	Stop State
	// BestEpoch and BestValLoss identify the epoch with the lowest val loss.
	BestEpoch   int
	BestValLoss float64
}

// Trainer fits a Learner. A Trainer runs once.
type Trainer struct {
	cfg       Config
	rng       *rand.Rand
	observers []EpochObserver
	state     State
}

// New returns a Trainer in the Initialized state. rng drives the per-epoch
// shuffle.
func New(cfg Config, rng *rand.Rand, observers ...EpochObserver) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, eris.New("trainer: nil random source")
	}
	return &Trainer{cfg: cfg, rng: rng, observers: observers, state: Initialized}, nil
}

// State returns the current state.
func (t *Trainer) State() State { return t.state }

func (t *Trainer) transition(to State) {
	if !t.state.next(to) {
		panic("trainer: invalid transition from " + t.state.String() + " to " + to.String())
	}
	from := t.state
	t.state = to
	zap.L().Debug("trainer: state change", zap.Stringer("from", from), zap.Stringer("to", to))
	if t.cfg.OnStateChange != nil {
		t.cfg.OnStateChange(from, to)
	}
}

// Run trains m on X and y. The trailing ValidationSplit share of the rows is
// held out for validation in the order given; the rest is reshuffled every
// epoch. On early stop the weights of the best epoch are restored; when the
// epoch cap ends the run the last weights are kept.
func (t *Trainer) Run(m Learner, X [][]float64, y []float64) (*Result, error) {
	if t.state != Initialized {
		return nil, eris.Errorf("trainer: run called in state %s", t.state)
	}
	if m == nil {
		return nil, eris.New("trainer: nil model")
	}
	if len(X) != len(y) {
		return nil, eris.Errorf("trainer: %d rows but %d targets", len(X), len(y))
	}

	split := int(float64(len(X)) * (1 - t.cfg.ValidationSplit))
	if split == 0 || split == len(X) {
		return nil, eris.Errorf("trainer: %d rows cannot be split %v for validation", len(X), t.cfg.ValidationSplit)
	}
	trainX, trainY := X[:split], y[:split]
	valX, valY := X[split:], y[split:]

	zap.L().Info("trainer: starting",
		zap.Int("train_rows", len(trainX)),
		zap.Int("val_rows", len(valX)),
		zap.Int("epochs", t.cfg.Epochs),
		zap.Int("batch_size", t.cfg.BatchSize),
		zap.Int("patience", t.cfg.Patience),
	)

	t.transition(Training)
	stopper := NewEarlyStopping(t.cfg.Patience)
	res := &Result{Model: m}

	batchX := make([][]float64, 0, t.cfg.BatchSize)
	batchY := make([]float64, 0, t.cfg.BatchSize)

	for epoch := 1; ; epoch++ {
		start := time.Now()
		perm := t.rng.Perm(len(trainX))

		var lossSum, maeSum float64
		for lo := 0; lo < len(perm); lo += t.cfg.BatchSize {
			hi := min(lo+t.cfg.BatchSize, len(perm))
			batchX, batchY = batchX[:0], batchY[:0]
			for _, idx := range perm[lo:hi] {
				batchX = append(batchX, trainX[idx])
				batchY = append(batchY, trainY[idx])
			}
			loss, mae, err := m.TrainBatch(batchX, batchY)
			if err != nil {
				return nil, eris.Wrapf(err, "trainer: epoch %d batch at %d", epoch, lo)
			}
			lossSum += loss * float64(hi-lo)
			maeSum += mae * float64(hi-lo)
		}

		valLoss, valMAE, err := m.Evaluate(valX, valY)
		if err != nil {
			return nil, eris.Wrapf(err, "trainer: validate epoch %d", epoch)
		}

		stats := EpochStats{
			Epoch:    epoch,
			Loss:     lossSum / float64(len(trainX)),
			MAE:      maeSum / float64(len(trainX)),
			ValLoss:  valLoss,
			ValMAE:   valMAE,
			Duration: time.Since(start),
		}
		res.History = append(res.History, stats)
		zap.L().Debug("trainer: epoch complete",
			zap.Int("epoch", epoch),
			zap.Float64("loss", stats.Loss),
			zap.Float64("mae", stats.MAE),
			zap.Float64("val_loss", stats.ValLoss),
			zap.Float64("val_mae", stats.ValMAE),
			zap.Duration("duration", stats.Duration),
		)
		for _, obs := range t.observers {
			obs(stats)
		}

		if stopper.Observe(epoch, valLoss, m.Snapshot) {
			best, ok := stopper.BestWeights()
			if ok {
				if err := m.Restore(best); err != nil {
					return nil, eris.Wrap(err, "trainer: restore best weights")
				}
			}
			t.transition(EarlyStopped)
			break
		}
		if epoch >= t.cfg.Epochs {
			t.transition(MaxEpochsReached)
			break
		}
	}

	res.Stop = t.state
	res.BestValLoss, res.BestEpoch = stopper.Best()
	t.transition(Finished)
	res.State = t.state

	zap.L().Info("trainer: finished",
		zap.Stringer("stop", res.Stop),
		zap.Int("epochs", len(res.History)),
		zap.Int("best_epoch", res.BestEpoch),
		zap.Float64("best_val_loss", res.BestValLoss),
	)
	return res, nil
}
