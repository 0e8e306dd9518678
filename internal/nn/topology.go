// Package nn implements the small feed-forward regression network the trainer
// fits: dense layers, inverted dropout, MSE loss and the Adam optimiser.
// Parameters and activations are gonum dense matrices.
package nn

import (
	"github.com/rotisserie/eris"
)

// LayerKind identifies a layer type.
type LayerKind string

const (
	KindDense   LayerKind = "dense"
	KindDropout LayerKind = "dropout"
)

// Activation is the nonlinearity applied after a dense layer.
type Activation string

const (
	ReLU   Activation = "relu"
	Linear Activation = "linear"
)

// LayerSpec declares one layer. Units and Activation apply to dense layers,
// Rate to dropout layers.
type LayerSpec struct {
	Kind       LayerKind  `json:"kind"`
	Units      int        `json:"units,omitempty"`
	Activation Activation `json:"activation,omitempty"`
	Rate       float64    `json:"rate,omitempty"`
}

// Dense returns a dense layer spec.
func Dense(units int, act Activation) LayerSpec {
	return LayerSpec{Kind: KindDense, Units: units, Activation: act}
}

// Dropout returns a dropout layer spec.
func Dropout(rate float64) LayerSpec {
	return LayerSpec{Kind: KindDropout, Rate: rate}
}

// Topology is the full network description consumed by Build.
type Topology struct {
	Inputs    int         `json:"inputs"`
	Layers    []LayerSpec `json:"layers"`
	Optimizer Adam        `json:"optimizer"`
}

// HousingTopology is the price regressor: 128-64-32 ReLU tower with dropout
// after the first two blocks and a single linear output.
func HousingTopology(inputs int) Topology {
	return Topology{
		Inputs: inputs,
		Layers: []LayerSpec{
			Dense(128, ReLU),
			Dropout(0.3),
			Dense(64, ReLU),
			Dropout(0.2),
			Dense(32, ReLU),
			Dense(1, Linear),
		},
		Optimizer: DefaultAdam(),
	}
}

// Validate checks the topology can be built into a single-output regressor.
func (t Topology) Validate() error {
	if t.Inputs <= 0 {
		return eris.Errorf("nn: topology needs a positive input width, got %d", t.Inputs)
	}
	if len(t.Layers) == 0 {
		return eris.New("nn: topology has no layers")
	}
	for i, l := range t.Layers {
		switch l.Kind {
		case KindDense:
			if l.Units <= 0 {
				return eris.Errorf("nn: layer %d: dense layer needs positive units", i)
			}
			if l.Activation != ReLU && l.Activation != Linear {
				return eris.Errorf("nn: layer %d: unsupported activation %q", i, l.Activation)
			}
		case KindDropout:
			if l.Rate < 0 || l.Rate >= 1 {
				return eris.Errorf("nn: layer %d: dropout rate %v outside [0, 1)", i, l.Rate)
			}
		default:
			return eris.Errorf("nn: layer %d: unknown kind %q", i, l.Kind)
		}
	}
	last := t.Layers[len(t.Layers)-1]
	if last.Kind != KindDense || last.Units != 1 {
		return eris.New("nn: final layer must be a dense layer with one unit")
	}
	return t.Optimizer.Validate()
}
