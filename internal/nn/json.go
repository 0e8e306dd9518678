package nn

import (
	"encoding/json"
	"io"
	"math/rand/v2"

	"github.com/rotisserie/eris"
)

// LayerDoc is one layer of a weights document.
type LayerDoc struct {
	Name       string     `json:"name"`
	Kind       LayerKind  `json:"kind"`
	Units      int        `json:"units,omitempty"`
	Activation Activation `json:"activation,omitempty"`
	Rate       float64    `json:"rate,omitempty"`
	// Kernel is [inputs][units], flattened row-major.
	Kernel []float64 `json:"kernel,omitempty"`
	Bias   []float64 `json:"bias,omitempty"`
}

// Document is the plain JSON form of a trained network.
type Document struct {
	Inputs    int        `json:"inputs"`
	Steps     int        `json:"steps"`
	Optimizer Adam       `json:"optimizer"`
	Layers    []LayerDoc `json:"layers"`
}

// Document captures the network's topology and parameters.
func (n *Network) Document() Document {
	doc := Document{
		Inputs:    n.topology.Inputs,
		Steps:     n.steps,
		Optimizer: n.topology.Optimizer,
	}
	for _, l := range n.Layers() {
		ld := LayerDoc{Name: l.Name, Kind: l.Kind}
		switch l.Kind {
		case KindDense:
			ld.Units = l.Units
			ld.Activation = l.Activation
			ld.Kernel = l.Kernel
			ld.Bias = l.Bias
		case KindDropout:
			ld.Rate = l.Rate
		}
		doc.Layers = append(doc.Layers, ld)
	}
	return doc
}

// WriteJSON writes n as an indented weights document.
func WriteJSON(w io.Writer, n *Network) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(n.Document()), "nn: encode weights")
}

// LoadJSON rebuilds a network from a weights document. The result predicts
// exactly as the network that was written; its optimiser moments start fresh.
func LoadJSON(r io.Reader) (*Network, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, eris.Wrap(err, "nn: decode weights")
	}

	t := Topology{Inputs: doc.Inputs, Optimizer: doc.Optimizer}
	var w Weights
	for _, l := range doc.Layers {
		t.Layers = append(t.Layers, LayerSpec{Kind: l.Kind, Units: l.Units, Activation: l.Activation, Rate: l.Rate})
		if l.Kind == KindDense {
			w.Kernels = append(w.Kernels, l.Kernel)
			w.Biases = append(w.Biases, l.Bias)
		}
	}

	n, err := Build(t, rand.New(rand.NewPCG(0, 0)))
	if err != nil {
		return nil, eris.Wrap(err, "nn: rebuild network")
	}
	if err := n.Restore(w); err != nil {
		return nil, err
	}
	n.steps = doc.Steps
	return n, nil
}
