// Package checkpoint persists a trained network to disk and rebuilds
// it later. A checkpoint is the network's shape (input size, output
// size, hidden layer sizes) plus its flat state dict; the tensors are
// serialized with the tensor package's own gob encoding.
package checkpoint

import (
	"encoding/gob"
	"os"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/skreynolds/rlnd-gorgonia-introduction/mlp"
)

// Checkpoint is everything needed to rebuild a network of matching
// shape and restore its weights.
type Checkpoint struct {
	InputSize   int
	OutputSize  int
	HiddenSizes []int
	State       map[string]*tensor.Dense
}

// Save snapshots the network's shape and weights and writes them to
// path. The file is written to a temp name first and renamed into
// place, so a crash mid-write never leaves a truncated checkpoint
// behind.
func Save(path string, n *mlp.Network) error {
	conf := n.Config()
	c := &Checkpoint{
		InputSize:   conf.InputSize,
		OutputSize:  conf.OutputSize,
		HiddenSizes: conf.HiddenSizes,
		State:       n.StateDict(),
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrapf(err, "checkpoint: creating %s", tmp)
	}
	if err := gob.NewEncoder(f).Encode(c); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrapf(err, "checkpoint: encoding %s", path)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "checkpoint: closing %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "checkpoint: renaming into %s", path)
	}
	return nil
}

// Load reads a checkpoint from path and validates that the state dict
// is consistent with the recorded shape, so a bad file is rejected
// before any network gets built from it.
func Load(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "checkpoint: opening %s", path)
	}
	defer f.Close()

	c := &Checkpoint{}
	if err := gob.NewDecoder(f).Decode(c); err != nil {
		return nil, errors.Wrapf(err, "checkpoint: decoding %s", path)
	}
	if err := c.validate(); err != nil {
		return nil, errors.Wrapf(err, "checkpoint: %s", path)
	}
	return c, nil
}

// Rebuild constructs a network of the recorded shape and loads the
// saved weights into it. The batch size is the caller's choice: it is
// a property of the compiled graph, not of the checkpoint.
func (c *Checkpoint) Rebuild(batchSize int, forTraining bool) (*mlp.Network, error) {
	n, err := mlp.New(mlp.Config{
		InputSize:   c.InputSize,
		OutputSize:  c.OutputSize,
		HiddenSizes: c.HiddenSizes,
		BatchSize:   batchSize,
		ForTraining: forTraining,
	})
	if err != nil {
		return nil, errors.Wrap(err, "checkpoint: rebuilding network")
	}
	if err := n.SetStateDict(c.State); err != nil {
		return nil, errors.Wrap(err, "checkpoint: restoring weights")
	}
	return n, nil
}

func (c *Checkpoint) validate() error {
	numLayers := len(c.HiddenSizes) + 1
	if len(c.State) != numLayers {
		return errors.Errorf("state dict has %d entries, shape metadata implies %d layers", len(c.State), numLayers)
	}

	// Walk the layer chain and check each weight matrix against the
	// shape metadata. The +1 row is the folded-in bias.
	sizes := make([]int, 0, numLayers+1)
	sizes = append(sizes, c.InputSize)
	sizes = append(sizes, c.HiddenSizes...)
	sizes = append(sizes, c.OutputSize)

	for i := 0; i < numLayers; i++ {
		key := mlp.WeightKey(i)
		d, ok := c.State[key]
		if !ok {
			return errors.Errorf("state dict is missing %q", key)
		}
		want := tensor.Shape{sizes[i] + 1, sizes[i+1]}
		if !d.Shape().Eq(want) {
			return errors.Errorf("state dict entry %q has shape %v, want %v", key, d.Shape(), want)
		}
	}
	return nil
}
