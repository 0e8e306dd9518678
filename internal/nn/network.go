package nn

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/mat"
)

type layer struct {
	name string
	spec LayerSpec
	in   int
	out  int

	kernel *mat.Dense // in x out, row i holds the weights leaving input i
	bias   *mat.Dense // 1 x out

	gradKernel *mat.Dense
	gradBias   *mat.Dense
	mKernel    *mat.Dense
	vKernel    *mat.Dense
	mBias      *mat.Dense
	vBias      *mat.Dense
}

// Network is a sequential stack of dense and dropout layers with a single
// linear output. It is not safe for concurrent use.
type Network struct {
	topology Topology
	layers   []*layer
	rng      *rand.Rand
	steps    int
}

// Build allocates a network for t. Kernels are Glorot-uniform samples drawn
// from rng and biases start at zero. rng also drives the dropout masks used
// by TrainBatch.
func Build(t Topology, rng *rand.Rand) (*Network, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, eris.New("nn: build needs a random source")
	}

	n := &Network{topology: t, rng: rng}
	in := t.Inputs
	counts := map[LayerKind]int{}
	for _, spec := range t.Layers {
		l := &layer{spec: spec, in: in, out: in, name: layerName(spec.Kind, counts[spec.Kind])}
		counts[spec.Kind]++

		if spec.Kind == KindDense {
			l.out = spec.Units
			limit := math.Sqrt(6 / float64(in+l.out))
			init := make([]float64, in*l.out)
			for i := range init {
				init[i] = (rng.Float64()*2 - 1) * limit
			}
			l.kernel = mat.NewDense(in, l.out, init)
			l.bias = mat.NewDense(1, l.out, nil)
			l.gradKernel = mat.NewDense(in, l.out, nil)
			l.gradBias = mat.NewDense(1, l.out, nil)
			l.mKernel = mat.NewDense(in, l.out, nil)
			l.vKernel = mat.NewDense(in, l.out, nil)
			l.mBias = mat.NewDense(1, l.out, nil)
			l.vBias = mat.NewDense(1, l.out, nil)
		}
		n.layers = append(n.layers, l)
		in = l.out
	}
	return n, nil
}

// layerName follows the dense, dense_1, dense_2 naming of layered model
// formats.
func layerName(kind LayerKind, idx int) string {
	if idx == 0 {
		return string(kind)
	}
	return fmt.Sprintf("%s_%d", kind, idx)
}

// Topology returns the description the network was built from.
func (n *Network) Topology() Topology {
	t := n.topology
	t.Layers = slices.Clone(t.Layers)
	return t
}

// Inputs is the expected feature vector width.
func (n *Network) Inputs() int { return n.topology.Inputs }

// Steps is the number of optimiser updates applied so far.
func (n *Network) Steps() int { return n.steps }

// ParamCount is the number of trainable parameters.
func (n *Network) ParamCount() int {
	var c int
	for _, l := range n.denseLayers() {
		c += l.in*l.out + l.out
	}
	return c
}

// trace keeps what backprop needs from a forward pass, indexed by layer.
type trace struct {
	inputs []*mat.Dense // input to each layer
	pre    []*mat.Dense // dense pre-activations
	masks  []*mat.Dense // dropout scale factors, nil when dropout was off
}

func (n *Network) forward(x *mat.Dense, train bool) (*mat.Dense, *trace) {
	tr := &trace{
		inputs: make([]*mat.Dense, len(n.layers)),
		pre:    make([]*mat.Dense, len(n.layers)),
		masks:  make([]*mat.Dense, len(n.layers)),
	}

	act := x
	for li, l := range n.layers {
		tr.inputs[li] = act
		rows, cols := act.Dims()

		switch l.spec.Kind {
		case KindDense:
			pre := mat.NewDense(rows, l.out, nil)
			pre.Mul(act, l.kernel)
			bias := l.bias.RawRowView(0)
			pre.Apply(func(_, j int, v float64) float64 { return v + bias[j] }, pre)
			tr.pre[li] = pre

			if l.spec.Activation == ReLU {
				a := mat.NewDense(rows, l.out, nil)
				a.Apply(func(_, _ int, v float64) float64 { return max(v, 0) }, pre)
				act = a
			} else {
				act = pre
			}

		case KindDropout:
			if !train || l.spec.Rate == 0 {
				continue
			}
			scale := 1 / (1 - l.spec.Rate)
			keep := make([]float64, rows*cols)
			for i := range keep {
				if n.rng.Float64() >= l.spec.Rate {
					keep[i] = scale
				}
			}
			mask := mat.NewDense(rows, cols, keep)
			dropped := mat.NewDense(rows, cols, nil)
			dropped.MulElem(act, mask)
			tr.masks[li] = mask
			act = dropped
		}
	}
	return act, tr
}

// batchMatrix copies X into a rows x Inputs matrix after checking its shape.
func (n *Network) batchMatrix(X [][]float64) (*mat.Dense, error) {
	if len(X) == 0 {
		return nil, eris.New("nn: empty batch")
	}
	width := n.topology.Inputs
	data := make([]float64, 0, len(X)*width)
	for i, x := range X {
		if len(x) != width {
			return nil, eris.Errorf("nn: row %d has %d features, network expects %d", i, len(x), width)
		}
		data = append(data, x...)
	}
	return mat.NewDense(len(X), width, data), nil
}

// Predict runs inference with dropout disabled.
func (n *Network) Predict(X [][]float64) ([]float64, error) {
	x, err := n.batchMatrix(X)
	if err != nil {
		return nil, err
	}
	out, _ := n.forward(x, false)
	return mat.Col(nil, 0, out), nil
}

// Evaluate returns the mean squared error and mean absolute error of the
// network's predictions on X, with dropout disabled.
func (n *Network) Evaluate(X [][]float64, y []float64) (mse, mae float64, err error) {
	if len(X) != len(y) {
		return 0, 0, eris.Errorf("nn: %d rows but %d targets", len(X), len(y))
	}
	preds, err := n.Predict(X)
	if err != nil {
		return 0, 0, err
	}
	for i, p := range preds {
		d := p - y[i]
		mse += d * d
		mae += math.Abs(d)
	}
	return mse / float64(len(y)), mae / float64(len(y)), nil
}

// TrainBatch runs one forward pass with dropout active, backpropagates the
// MSE gradient and applies one Adam update. It returns the batch loss and
// mean absolute error measured before the update.
func (n *Network) TrainBatch(X [][]float64, y []float64) (loss, mae float64, err error) {
	if len(X) != len(y) {
		return 0, 0, eris.Errorf("nn: %d rows but %d targets", len(X), len(y))
	}
	x, err := n.batchMatrix(X)
	if err != nil {
		return 0, 0, err
	}

	out, tr := n.forward(x, true)
	rows := len(X)
	size := float64(rows)
	delta := mat.NewDense(rows, 1, nil)
	for b := range rows {
		d := out.At(b, 0) - y[b]
		loss += d * d
		mae += math.Abs(d)
		delta.Set(b, 0, 2*d/size)
	}
	loss /= size
	mae /= size

	ones := make([]float64, rows)
	for i := range ones {
		ones[i] = 1
	}
	sumRows := mat.NewDense(1, rows, ones)

	for li := len(n.layers) - 1; li >= 0; li-- {
		l := n.layers[li]
		switch l.spec.Kind {
		case KindDense:
			if l.spec.Activation == ReLU {
				pre := tr.pre[li]
				delta.Apply(func(i, j int, v float64) float64 {
					if pre.At(i, j) <= 0 {
						return 0
					}
					return v
				}, delta)
			}
			l.gradKernel.Mul(tr.inputs[li].T(), delta)
			l.gradBias.Mul(sumRows, delta)
			if li == 0 {
				break
			}
			prev := mat.NewDense(rows, l.in, nil)
			prev.Mul(delta, l.kernel.T())
			delta = prev

		case KindDropout:
			if mask := tr.masks[li]; mask != nil {
				delta.MulElem(delta, mask)
			}
		}
	}

	n.steps++
	opt := n.topology.Optimizer
	lr := opt.stepSize(n.steps)
	for _, l := range n.denseLayers() {
		opt.update(l.kernel, l.gradKernel, l.mKernel, l.vKernel, lr)
		opt.update(l.bias, l.gradBias, l.mBias, l.vBias, lr)
	}
	return loss, mae, nil
}

// Weights is a copy of every dense layer's parameters, in layer order.
// Kernels are flattened row-major [in][out].
type Weights struct {
	Kernels [][]float64
	Biases  [][]float64
}

// Snapshot copies the current parameters.
func (n *Network) Snapshot() Weights {
	var w Weights
	for _, l := range n.denseLayers() {
		w.Kernels = append(w.Kernels, flatten(l.kernel))
		w.Biases = append(w.Biases, flatten(l.bias))
	}
	return w
}

// Restore overwrites the parameters with w. Optimiser state is left as is.
func (n *Network) Restore(w Weights) error {
	dense := n.denseLayers()
	if len(w.Kernels) != len(dense) || len(w.Biases) != len(dense) {
		return eris.Errorf("nn: weights cover %d layers, network has %d", len(w.Kernels), len(dense))
	}
	for i, l := range dense {
		if len(w.Kernels[i]) != l.in*l.out || len(w.Biases[i]) != l.out {
			return eris.Errorf("nn: weights for layer %s have the wrong shape", l.name)
		}
	}
	for i, l := range dense {
		l.kernel.Copy(mat.NewDense(l.in, l.out, w.Kernels[i]))
		l.bias.Copy(mat.NewDense(1, l.out, w.Biases[i]))
	}
	return nil
}

func (n *Network) denseLayers() []*layer {
	var out []*layer
	for _, l := range n.layers {
		if l.spec.Kind == KindDense {
			out = append(out, l)
		}
	}
	return out
}

// flatten copies m row by row.
func flatten(m *mat.Dense) []float64 {
	r, c := m.Dims()
	out := make([]float64, 0, r*c)
	for i := range r {
		out = append(out, m.RawRowView(i)...)
	}
	return out
}

// LayerInfo describes one layer for serialisation. Kernel is laid out
// [Inputs][Units] in row-major order.
type LayerInfo struct {
	Name       string
	Kind       LayerKind
	Inputs     int
	Units      int
	Activation Activation
	Rate       float64
	Kernel     []float64
	Bias       []float64
}

// Layers describes every layer, with copies of the dense parameters.
func (n *Network) Layers() []LayerInfo {
	out := make([]LayerInfo, len(n.layers))
	for i, l := range n.layers {
		out[i] = LayerInfo{
			Name:       l.name,
			Kind:       l.spec.Kind,
			Inputs:     l.in,
			Units:      l.out,
			Activation: l.spec.Activation,
			Rate:       l.spec.Rate,
		}
		if l.spec.Kind == KindDense {
			out[i].Kernel = flatten(l.kernel)
			out[i].Bias = flatten(l.bias)
		}
	}
	return out
}
