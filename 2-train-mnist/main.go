package main

/*
MNIST Training Example

Trains the feed-forward classifier on MNIST with a standard epoch /
mini-batch loop, reports the test accuracy after every epoch, and saves
a checkpoint of the trained weights at the end.

The four MNIST files are downloaded into the data directory on first
run. Decoding and normalization are done by gorgonia's own MNIST
loader.

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
	dataDir    = flag.String("data", "data", "directory holding the MNIST files (downloaded if missing)")
	epochs     = flag.Int("epochs", 5, "number of passes over the training set")
	batchSize  = flag.Int("batch", 64, "mini-batch size")
	learnRate  = flag.Float64("lr", 0.003, "learning rate")
	solverName = flag.String("solver", "adam", "solver to use: adam or sgd")
	outPath    = flag.String("out", "checkpoint.gob", "where to write the checkpoint")
)

func main() {
	flag.Parse()

	// ------------------------ Load the dataset ------------------------
	if err := mnistdata.Ensure(*dataDir); err != nil {
		panic(err)
	}
	trainX, trainY, err := mnist.Load("train", *dataDir, T.Float64)
	if err != nil {
		panic(err)
	}
	testX, testY, err := mnist.Load("test", *dataDir, T.Float64)
	if err != nil {
		panic(err)
	}

	// ------------------------ Create the neural nets ------------------------
	// One network for training and one for evaluation, sharing weights
	// by copying after each epoch. The evaluation network has no loss
	// or gradient nodes, so its forward pass is cheaper.
	conf := mlp.Config{
		InputSize:   784,
		OutputSize:  10,
		HiddenSizes: []int{128, 64},
		BatchSize:   *batchSize,
	}
	trainConf := conf
	trainConf.ForTraining = true

	trainNet, err := mlp.New(trainConf)
	if err != nil {
		panic(err)
	}
	evalNet, err := mlp.New(conf)
	if err != nil {
		panic(err)
	}
	fmt.Println(trainNet)

	var solver G.Solver
	switch *solverName {
	case "adam":
		solver = G.NewAdamSolver(G.WithLearnRate(*learnRate))
	case "sgd":
		solver = G.NewVanillaSolver(G.WithLearnRate(*learnRate))
	default:
		panic(fmt.Sprintf("unknown solver %q (want adam or sgd)", *solverName))
	}

	// ------------------------ Train the neural net ------------------------
	// Any samples that don't fill a whole batch are dropped; the batch
	// size is baked into the graph.
	bs := *batchSize
	numBatches := trainX.Shape()[0] / bs
	for epoch := 1; epoch <= *epochs; epoch++ {
		var epochLoss float64
		for b := 0; b < numBatches; b++ {
			start, end := b*bs, (b+1)*bs
			xb, err := trainX.Slice(G.S(start, end))
			if err != nil {
				panic(err)
			}
			yb, err := trainY.Slice(G.S(start, end))
			if err != nil {
				panic(err)
			}
			loss, err := trainNet.FitBatch(xb, yb, solver)
			if err != nil {
				panic(err)
			}
			epochLoss += loss
		}

		if err := trainNet.CopyWeightsTo(evalNet); err != nil {
			panic(err)
		}
		acc, err := testAccuracy(evalNet, testX, testY, bs)
		if err != nil {
			panic(err)
		}
		fmt.Printf("Epoch: %d, Loss: %.4f, Test accuracy: %.3f\n", epoch, epochLoss/float64(numBatches), acc)
	}

	// ------------------------ Save a checkpoint ------------------------
	if err := checkpoint.Save(*outPath, trainNet); err != nil {
		panic(err)
	}
	fmt.Printf("Saved checkpoint to %s\n", *outPath)
}

// testAccuracy runs the whole test set through the network in batches
// and returns the fraction of correctly classified samples.
func testAccuracy(net *mlp.Network, xs, ys T.Tensor, batchSize int) (float64, error) {
	numBatches := xs.Shape()[0] / batchSize
	var total float64
	for b := 0; b < numBatches; b++ {
		start, end := b*batchSize, (b+1)*batchSize
		xb, err := xs.Slice(G.S(start, end))
		if err != nil {
			return 0, err
		}
		yb, err := ys.Slice(G.S(start, end))
		if err != nil {
			return 0, err
		}
		out, err := net.Predict(xb)
		if err != nil {
			return 0, err
		}
		acc, err := mlp.Accuracy(out, yb.Materialize())
		if err != nil {
			return 0, err
		}
		total += acc
	}
	return total / float64(numBatches), nil
}
