package main

/*
Checkpoint Restore Example

Loads a checkpoint written by the MNIST training example, rebuilds a
network of the recorded shape, and shows that the restored weights
still classify: first the accuracy over the whole test set, then a few
individual predictions through a batch-of-one network, which is how you
would serve the model.

Here is some version info about my setup (other versions may work):
* `go 1.20.2`
* `gorgonia v0.9.17`
* `tensor v0.9.24`
*/

import (
	"flag"
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/gorgonia/examples/mnist"
	T "gorgonia.org/tensor"

	"github.com/skreynolds/rlnd-gorgonia-introduction/checkpoint"
	"github.com/skreynolds/rlnd-gorgonia-introduction/mlp"
	"github.com/skreynolds/rlnd-gorgonia-introduction/mnistdata"
)

var (
	ckptPath  = flag.String("checkpoint", "checkpoint.gob", "checkpoint file to load")
	dataDir   = flag.String("data", "data", "directory holding the MNIST files (downloaded if missing)")
	batchSize = flag.Int("batch", 100, "batch size for the accuracy pass")
	samples   = flag.Int("samples", 5, "number of individual test samples to predict")
)

func main() {
	flag.Parse()
	bs := *batchSize

	// ------------------------ Load the checkpoint ------------------------
	c, err := checkpoint.Load(*ckptPath)
	if err != nil {
		panic(err)
	}
	fmt.Printf("Loaded checkpoint: input %d, hidden %v, output %d\n", c.InputSize, c.HiddenSizes, c.OutputSize)

	// The checkpoint records the shape, so rebuilding needs no
	// knowledge of how the network was originally configured.
	evalNet, err := c.Rebuild(bs, false)
	if err != nil {
		panic(err)
	}
	fmt.Println(evalNet)

	// ------------------------ Evaluate on the test set ------------------------
	if err := mnistdata.Ensure(*dataDir); err != nil {
		panic(err)
	}
	testX, testY, err := mnist.Load("test", *dataDir, T.Float64)
	if err != nil {
		panic(err)
	}

	numBatches := testX.Shape()[0] / bs
	var total float64
	for b := 0; b < numBatches; b++ {
		start, end := b*bs, (b+1)*bs
		xb, err := testX.Slice(G.S(start, end))
		if err != nil {
			panic(err)
		}
		yb, err := testY.Slice(G.S(start, end))
		if err != nil {
			panic(err)
		}
		out, err := evalNet.Predict(xb)
		if err != nil {
			panic(err)
		}
		acc, err := mlp.Accuracy(out, yb.Materialize())
		if err != nil {
			panic(err)
		}
		total += acc
	}
	fmt.Printf("Test accuracy: %.3f\n", total/float64(numBatches))

	// ------------------------ Predict single samples ------------------------
	// A second rebuild with batch size 1, the shape you would use for
	// realtime prediction.
	single, err := c.Rebuild(1, false)
	if err != nil {
		panic(err)
	}

	fmt.Println("\nPredictions:")
	for i := 0; i < *samples; i++ {
		row, err := testX.Slice(G.S(i, i+1))
		if err != nil {
			panic(err)
		}
		sample := row.Materialize().Clone().(T.Tensor)
		if err := sample.Reshape(c.InputSize); err != nil {
			panic(err)
		}

		out, err := single.PredictSingle(sample)
		if err != nil {
			panic(err)
		}
		got, err := mlp.Argmax(out)
		if err != nil {
			panic(err)
		}

		label, err := testY.Slice(G.S(i, i+1))
		if err != nil {
			panic(err)
		}
		want, err := mlp.Argmax(label.Materialize())
		if err != nil {
			panic(err)
		}
		fmt.Printf("Sample: %d, Predicted: %d, Actual: %d\n", i, got, want)
	}
}
