package main

/*
First Network Example

Builds a small feed-forward classifier, prints its architecture, and
performs a couple of manual training steps so you can watch the loss
move. No dataset is needed; the batch is random noise with random
labels, which is enough to see the mechanics of a step.

Here is some version info about my setup (other versions may work):
* `go 1.20.2`
* `gorgonia v0.9.17`
* `tensor v0.9.24`
*/

import (
	"fmt"
	"math/rand"

	G "gorgonia.org/gorgonia"
	T "gorgonia.org/tensor"

	"github.com/skreynolds/rlnd-gorgonia-introduction/mlp"
)

func main() {
	// ------------------------ Create the neural net ------------------------
	// A 784-input network sized for 28x28 images, two hidden layers,
	// ten output classes. The batch size is part of the compiled graph.
	net, err := mlp.New(mlp.Config{
		InputSize:   784,
		OutputSize:  10,
		HiddenSizes: []int{128, 64},
		BatchSize:   64,
		ForTraining: true,
	})
	if err != nil {
		panic(err)
	}

	// The first exercise: look at what you built.
	fmt.Println(net)

	// ------------------------ Create a random batch ------------------------
	// 64 samples of random pixels in [0, 1).
	xBacking := make([]float64, 64*784)
	for i := range xBacking {
		xBacking[i] = rand.Float64()
	}
	x := T.New(T.WithShape(64, 784), T.WithBacking(xBacking))

	// One-hot targets with a random class per sample.
	yBacking := make([]float64, 64*10)
	for i := 0; i < 64; i++ {
		yBacking[i*10+rand.Intn(10)] = 1
	}
	y := T.New(T.WithShape(64, 10), T.WithBacking(yBacking))

	// ------------------------ Take manual training steps ------------------------
	// A solver takes the gradients computed by the backward pass and
	// updates the weights. Plain gradient descent here.
	solver := G.NewVanillaSolver(G.WithLearnRate(0.01))

	// One call to FitBatch is one full step: forward pass, loss,
	// backward pass, weight update.
	for step := 1; step <= 5; step++ {
		loss, err := net.FitBatch(x, y, solver)
		if err != nil {
			panic(err)
		}
		fmt.Printf("Step: %d, Loss: %.4f\n", step, loss)
	}
}
