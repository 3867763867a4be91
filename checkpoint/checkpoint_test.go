package checkpoint_test

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	G "gorgonia.org/gorgonia"
	T "gorgonia.org/tensor"

	"github.com/skreynolds/rlnd-gorgonia-introduction/checkpoint"
	"github.com/skreynolds/rlnd-gorgonia-introduction/mlp"
)

func trainedNetwork(t *testing.T) *mlp.Network {
	t.Helper()
	net, err := mlp.New(mlp.Config{
		InputSize:   4,
		OutputSize:  3,
		HiddenSizes: []int{6},
		BatchSize:   2,
		ForTraining: true,
	})
	require.NoError(t, err)

	// A few steps so the saved weights are not just the random init.
	x := T.New(T.WithShape(2, 4), T.WithBacking([]float64{
		0.1, 0.9, 0.2, 0.8,
		0.7, 0.3, 0.6, 0.4,
	}))
	y := T.New(T.WithShape(2, 3), T.WithBacking([]float64{
		1, 0, 0,
		0, 0, 1,
	}))
	solver := G.NewVanillaSolver(G.WithLearnRate(0.1))
	for i := 0; i < 3; i++ {
		_, err := net.FitBatch(x, y, solver)
		require.NoError(t, err)
	}
	return net
}

func TestSaveLoadRoundTrip(t *testing.T) {
	net := trainedNetwork(t)
	path := filepath.Join(t.TempDir(), "ckpt.gob")

	require.NoError(t, checkpoint.Save(path, net))

	c, err := checkpoint.Load(path)
	require.NoError(t, err)
	require.Equal(t, 4, c.InputSize)
	require.Equal(t, 3, c.OutputSize)
	require.Equal(t, []int{6}, c.HiddenSizes)
	require.Len(t, c.State, 2)

	// The rebuilt network must predict exactly like the original.
	rebuilt, err := c.Rebuild(2, false)
	require.NoError(t, err)

	x := T.New(T.WithShape(2, 4), T.WithBacking([]float64{
		0.5, 0.5, 0.5, 0.5,
		0.9, 0.1, 0.9, 0.1,
	}))
	want, err := net.Predict(x)
	require.NoError(t, err)
	got, err := rebuilt.Predict(x)
	require.NoError(t, err)
	require.InDeltaSlice(t, want.Data().([]float64), got.Data().([]float64), 1e-12)
}

func TestRebuildDifferentBatchSize(t *testing.T) {
	net := trainedNetwork(t)
	path := filepath.Join(t.TempDir(), "ckpt.gob")
	require.NoError(t, checkpoint.Save(path, net))

	c, err := checkpoint.Load(path)
	require.NoError(t, err)

	// Batch size is the caller's choice at rebuild time.
	single, err := c.Rebuild(1, false)
	require.NoError(t, err)

	in := T.New(T.WithShape(4), T.WithBacking([]float64{0.1, 0.2, 0.3, 0.4}))
	out, err := single.PredictSingle(in)
	require.NoError(t, err)
	require.Equal(t, []int{3}, []int(out.Shape()))
}

func TestRebuildForTraining(t *testing.T) {
	net := trainedNetwork(t)
	path := filepath.Join(t.TempDir(), "ckpt.gob")
	require.NoError(t, checkpoint.Save(path, net))

	c, err := checkpoint.Load(path)
	require.NoError(t, err)

	// Resuming training from a checkpoint.
	resumed, err := c.Rebuild(2, true)
	require.NoError(t, err)

	x := T.New(T.WithShape(2, 4), T.WithBacking([]float64{
		0.1, 0.9, 0.2, 0.8,
		0.7, 0.3, 0.6, 0.4,
	}))
	y := T.New(T.WithShape(2, 3), T.WithBacking([]float64{
		1, 0, 0,
		0, 0, 1,
	}))
	solver := G.NewVanillaSolver(G.WithLearnRate(0.1))
	_, err = resumed.FitBatch(x, y, solver)
	require.NoError(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := checkpoint.Load(filepath.Join(t.TempDir(), "nope.gob"))
	require.Error(t, err)
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.gob")
	require.NoError(t, os.WriteFile(path, []byte("not a checkpoint"), 0o644))

	_, err := checkpoint.Load(path)
	require.Error(t, err)
}

func TestLoadRejectsInconsistentState(t *testing.T) {
	// A checkpoint whose state dict does not match its recorded shape
	// must be rejected at load time, before any network is built.
	bad := &checkpoint.Checkpoint{
		InputSize:   4,
		OutputSize:  3,
		HiddenSizes: []int{6},
		State: map[string]*T.Dense{
			"layers.0.weight": T.New(T.Of(T.Float64), T.WithShape(5, 6)),
			"layers.1.weight": T.New(T.Of(T.Float64), T.WithShape(2, 2)), // wrong shape
		},
	}

	path := filepath.Join(t.TempDir(), "bad.gob")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, gob.NewEncoder(f).Encode(bad))
	require.NoError(t, f.Close())

	_, err = checkpoint.Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "layers.1.weight")
}

func TestRebuildRejectsMissingLayer(t *testing.T) {
	net := trainedNetwork(t)
	path := filepath.Join(t.TempDir(), "ckpt.gob")
	require.NoError(t, checkpoint.Save(path, net))

	c, err := checkpoint.Load(path)
	require.NoError(t, err)

	delete(c.State, "layers.1.weight")
	_, err = c.Rebuild(2, false)
	require.Error(t, err)
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	net := trainedNetwork(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "ckpt.gob")
	require.NoError(t, checkpoint.Save(path, net))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "ckpt.gob", entries[0].Name())
}
