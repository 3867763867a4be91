// Package mlp builds small dense feed-forward classifiers on top of
// gorgonia. All of the numerical machinery (tensor algebra, automatic
// differentiation, solvers) is gorgonia's; this package only assembles
// the expression graph and drives the tape machine.
package mlp

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Config describes the shape of a network. InputSize, OutputSize and
// HiddenSizes are the three fields a checkpoint records, so a saved
// network can be rebuilt with a matching shape later.
type Config struct {
	InputSize   int
	OutputSize  int
	HiddenSizes []int

	// BatchSize is baked into the expression graph: a network only
	// accepts input batches of exactly this many samples. Use 1 for a
	// network that predicts single samples.
	BatchSize int

	// ForTraining adds the target node, the cross-entropy loss and the
	// gradient wiring to the graph. A network built without it is
	// forward-pass only, which is cheaper for evaluation.
	ForTraining bool
}

func (c Config) validate() error {
	if c.InputSize < 1 {
		return errors.Errorf("mlp: input size must be positive, got %d", c.InputSize)
	}
	if c.OutputSize < 1 {
		return errors.Errorf("mlp: output size must be positive, got %d", c.OutputSize)
	}
	for i, h := range c.HiddenSizes {
		if h < 1 {
			return errors.Errorf("mlp: hidden layer %d size must be positive, got %d", i, h)
		}
	}
	if c.BatchSize < 1 {
		return errors.Errorf("mlp: batch size must be positive, got %d", c.BatchSize)
	}
	return nil
}

// layerSizes returns the (fan-in, fan-out) pair for every layer,
// input to hidden layers to output.
func (c Config) layerSizes() [][2]int {
	sizes := make([]int, 0, len(c.HiddenSizes)+2)
	sizes = append(sizes, c.InputSize)
	sizes = append(sizes, c.HiddenSizes...)
	sizes = append(sizes, c.OutputSize)

	pairs := make([][2]int, len(sizes)-1)
	for i := range pairs {
		pairs[i] = [2]int{sizes[i], sizes[i+1]}
	}
	return pairs
}

// Network is a dense feed-forward classifier. Hidden layers use ReLU,
// the output layer uses softmax, and each layer folds its bias into the
// weight matrix by appending a column of ones to its input.
//
// The graph, including the batch size, is fixed at construction. Only
// the weight values change afterwards, either by training steps or by
// loading a state dict.
type Network struct {
	conf Config

	g       *G.ExprGraph
	input   *G.Node
	weights []*G.Node

	// target is only present on networks built for training.
	target *G.Node

	outVal  G.Value
	lossVal G.Value

	machine G.VM
}

// New builds the expression graph for the given shape and compiles it
// into a tape machine that is reused for every pass.
func New(conf Config) (*Network, error) {
	if err := conf.validate(); err != nil {
		return nil, err
	}

	n := &Network{conf: conf}
	n.g = G.NewGraph()

	// The input node is where batches get copied in before each run.
	n.input = G.NewMatrix(n.g, G.Float64, G.WithShape(conf.BatchSize, conf.InputSize), G.WithName("input"))

	// A single column of ones, concatenated onto every layer input so
	// the bias lives inside the weight matrix as its last row.
	bias := G.NewConstant(tensor.Ones(tensor.Float64, conf.BatchSize, 1), G.WithName("bias"))

	x := n.input
	pairs := conf.layerSizes()
	for i, pair := range pairs {
		w := G.NewMatrix(n.g, G.Float64,
			G.WithShape(pair[0]+1, pair[1]),
			G.WithName(WeightKey(i)),
			G.WithInit(G.GlorotN(1.0)),
		)
		n.weights = append(n.weights, w)

		x = G.Must(G.Concat(1, x, bias))
		x = G.Must(G.Mul(x, w))
		if i < len(pairs)-1 {
			x = G.Must(G.Rectify(x))
		}
	}

	// x now holds the logits. The softmax is spelled out from Exp and
	// Sum primitives; the probability node is output-only, no other op
	// consumes it.
	expZ := G.Must(G.Exp(x))
	sumExp := G.Must(G.Sum(expZ, 1))
	sumExpCol := G.Must(G.Reshape(sumExp, tensor.Shape{conf.BatchSize, 1}))
	probs := G.Must(G.BroadcastHadamardDiv(expZ, sumExpCol, nil, []byte{1}))

	// Read the output value so the machine does not overwrite it.
	G.Read(probs, &n.outVal)

	if conf.ForTraining {
		n.target = G.NewMatrix(n.g, G.Float64, G.WithShape(conf.BatchSize, conf.OutputSize), G.WithName("target"))

		// Cross-entropy in log-sum-exp form, taken from the logits:
		//   sum(t) * log(sum(exp(z))) - sum(t * z)
		// equals -sum(t * log(softmax(z))) for any targets, one-hot or
		// smoothed. The gradient flows through the logits only.
		logSumExp := G.Must(G.Log(sumExp))
		sumTZ := G.Must(G.Sum(G.Must(G.HadamardProd(x, n.target)), 1))
		sumT := G.Must(G.Sum(n.target, 1))
		perSample := G.Must(G.Sub(G.Must(G.HadamardProd(sumT, logSumExp)), sumTZ))
		loss := G.Must(G.Mean(perSample))
		G.Read(loss, &n.lossVal)

		if _, err := G.Grad(loss, n.weights...); err != nil {
			return nil, errors.Wrap(err, "mlp: building gradient nodes")
		}
	}

	// Compiling the machine once and resetting it per pass is much
	// faster than building a machine per pass.
	n.machine = G.NewTapeMachine(n.g, G.BindDualValues(n.weights...))

	return n, nil
}

// Config returns the shape the network was built with.
func (n *Network) Config() Config { return n.conf }

// Parameters returns the trainable weight nodes, one per layer.
func (n *Network) Parameters() G.Nodes {
	params := make(G.Nodes, len(n.weights))
	copy(params, n.weights)
	return params
}

// FitBatch runs one training step on a batch: forward pass, loss,
// backward pass, then a solver step over the weights. It returns the
// batch loss. The network must have been built with ForTraining.
func (n *Network) FitBatch(x, y tensor.Tensor, solver G.Solver) (float64, error) {
	if n.target == nil {
		panic("mlp: FitBatch called on a network built for inference")
	}

	n.machine.Reset()
	if err := G.Let(n.input, x); err != nil {
		return 0, errors.Wrap(err, "mlp: setting input batch")
	}
	if err := G.Let(n.target, y); err != nil {
		return 0, errors.Wrap(err, "mlp: setting target batch")
	}
	if err := n.machine.RunAll(); err != nil {
		return 0, errors.Wrap(err, "mlp: running training step")
	}
	if err := solver.Step(G.NodesToValueGrads(n.Parameters())); err != nil {
		return 0, errors.Wrap(err, "mlp: solver step")
	}

	return n.lossVal.Data().(float64), nil
}

// Predict runs a forward pass on a batch of exactly BatchSize samples
// and returns the softmax outputs as a (BatchSize, OutputSize) tensor.
func (n *Network) Predict(x tensor.Tensor) (tensor.Tensor, error) {
	n.machine.Reset()
	if err := G.Let(n.input, x); err != nil {
		return nil, errors.Wrap(err, "mlp: setting input batch")
	}
	if n.target != nil {
		// A training graph computes the loss as well, so the target
		// node needs a value. Zeros make the loss term vanish.
		zeros := tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(n.conf.BatchSize, n.conf.OutputSize))
		if err := G.Let(n.target, zeros); err != nil {
			return nil, errors.Wrap(err, "mlp: setting placeholder target")
		}
	}
	if err := n.machine.RunAll(); err != nil {
		return nil, errors.Wrap(err, "mlp: running forward pass")
	}

	// Copy the output out of the graph: the backing slice is reused on
	// the next run.
	data := append([]float64(nil), n.outVal.Data().([]float64)...)
	return tensor.New(tensor.WithShape(n.outVal.Shape()...), tensor.WithBacking(data)), nil
}

// PredictSingle predicts one sample on a network built with BatchSize 1.
// The input is a vector of InputSize values and the result is a vector
// of OutputSize class probabilities.
func (n *Network) PredictSingle(x tensor.Tensor) (tensor.Tensor, error) {
	if n.conf.BatchSize != 1 {
		panic("mlp: PredictSingle called on a network with batch size > 1")
	}

	// The graph wants a batch, so reshape the sample to a batch of one.
	batched := x.Clone().(tensor.Tensor)
	if err := batched.Reshape(append([]int{1}, x.Shape()...)...); err != nil {
		return nil, errors.Wrap(err, "mlp: reshaping sample to a batch of one")
	}

	out, err := n.Predict(batched)
	if err != nil {
		return nil, err
	}
	// Copy the dims out first: Reshape releases the tensor's old shape
	// slice, and out.Shape()[1:] aliases it.
	dims := append([]int(nil), out.Shape()[1:]...)
	if err := out.Reshape(dims...); err != nil {
		return nil, errors.Wrap(err, "mlp: reshaping prediction to a single sample")
	}
	return out, nil
}

// CopyWeightsTo copies this network's weights into dst, which must have
// the same layer shapes. The batch sizes may differ; this is how a
// trained network hands its weights to an evaluation network.
func (n *Network) CopyWeightsTo(dst *Network) error {
	if !sameShape(n.conf, dst.conf) {
		return errors.Errorf("mlp: cannot copy weights between different architectures %v and %v", n.conf.shapeString(), dst.conf.shapeString())
	}
	for i, w := range n.weights {
		if err := G.Let(dst.weights[i], w.Value()); err != nil {
			return errors.Wrapf(err, "mlp: copying weights for layer %d", i)
		}
	}
	return nil
}

// StateDict returns a flat name-to-tensor mapping of the weights,
// cloned so later training does not mutate the snapshot.
func (n *Network) StateDict() map[string]*tensor.Dense {
	state := make(map[string]*tensor.Dense, len(n.weights))
	for i, w := range n.weights {
		state[WeightKey(i)] = w.Value().(*tensor.Dense).Clone().(*tensor.Dense)
	}
	return state
}

// SetStateDict loads weights from a state dict produced by StateDict on
// a network of the same shape. Every layer must be present with a
// matching shape.
func (n *Network) SetStateDict(state map[string]*tensor.Dense) error {
	for i, w := range n.weights {
		key := WeightKey(i)
		d, ok := state[key]
		if !ok {
			return errors.Errorf("mlp: state dict is missing %q", key)
		}
		if !d.Shape().Eq(w.Shape()) {
			return errors.Errorf("mlp: state dict entry %q has shape %v, want %v", key, d.Shape(), w.Shape())
		}
		if err := G.Let(w, d.Clone().(*tensor.Dense)); err != nil {
			return errors.Wrapf(err, "mlp: loading weights for %q", key)
		}
	}
	return nil
}

// String renders the architecture, one layer per line.
func (n *Network) String() string {
	var b strings.Builder
	b.WriteString("Network(\n")
	pairs := n.conf.layerSizes()
	for i, pair := range pairs {
		act := "Rectify"
		if i == len(pairs)-1 {
			act = "SoftMax"
		}
		fmt.Fprintf(&b, "  (layers.%d): Linear(%d -> %d, %s)\n", i, pair[0], pair[1], act)
	}
	b.WriteString(")")
	return b.String()
}

func (c Config) shapeString() string {
	sizes := make([]string, 0, len(c.HiddenSizes)+2)
	sizes = append(sizes, fmt.Sprint(c.InputSize))
	for _, h := range c.HiddenSizes {
		sizes = append(sizes, fmt.Sprint(h))
	}
	sizes = append(sizes, fmt.Sprint(c.OutputSize))
	return strings.Join(sizes, "-")
}

func sameShape(a, b Config) bool {
	if a.InputSize != b.InputSize || a.OutputSize != b.OutputSize || len(a.HiddenSizes) != len(b.HiddenSizes) {
		return false
	}
	for i := range a.HiddenSizes {
		if a.HiddenSizes[i] != b.HiddenSizes[i] {
			return false
		}
	}
	return true
}

// WeightKey returns the state-dict key for a layer's weight matrix.
// The checkpoint format uses the same naming.
func WeightKey(layer int) string {
	return fmt.Sprintf("layers.%d.weight", layer)
}
