package trainer

// State is a stage of a training run.
type State int

const (
	// Initialized is the state before the first epoch.
	Initialized State = iota
	// Training means epochs are running.
	Training
	// EarlyStopped means validation loss stopped improving for Patience epochs.
	EarlyStopped
	// MaxEpochsReached means the epoch cap ended the run.
	MaxEpochsReached
	// Finished is the terminal state once the result is assembled.
	Finished
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case Training:
		return "training"
	case EarlyStopped:
		return "early-stopped"
	case MaxEpochsReached:
		return "max-epochs-reached"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// next reports whether the run may move from s to to.
func (s State) next(to State) bool {
	switch s {
	case Initialized:
		return to == Training
	case Training:
		return to == EarlyStopped || to == MaxEpochsReached
	case EarlyStopped, MaxEpochsReached:
		return to == Finished
	default:
		return false
	}
}
