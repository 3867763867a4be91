package mlp

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gorgonia.org/tensor"
)

// Accuracy returns the fraction of rows in pred whose largest value
// sits at the same column as the largest value of the matching row in
// target. Both tensors must be (samples, classes) matrices of the same
// shape. Targets may be one-hot or smoothed; only the argmax matters.
func Accuracy(pred, target tensor.Tensor) (float64, error) {
	if pred.Dims() != 2 || target.Dims() != 2 {
		return 0, errors.Errorf("mlp: accuracy expects matrices, got %v and %v", pred.Shape(), target.Shape())
	}
	if !pred.Shape().Eq(target.Shape()) {
		return 0, errors.Errorf("mlp: accuracy shape mismatch: %v vs %v", pred.Shape(), target.Shape())
	}

	rows, cols := pred.Shape()[0], pred.Shape()[1]
	predData, ok := pred.Data().([]float64)
	if !ok {
		return 0, errors.Errorf("mlp: accuracy expects float64 tensors, got %v", pred.Dtype())
	}
	targetData, ok := target.Data().([]float64)
	if !ok {
		return 0, errors.Errorf("mlp: accuracy expects float64 tensors, got %v", target.Dtype())
	}

	correct := 0
	for i := 0; i < rows; i++ {
		row := predData[i*cols : (i+1)*cols]
		want := targetData[i*cols : (i+1)*cols]
		if floats.MaxIdx(row) == floats.MaxIdx(want) {
			correct++
		}
	}
	return float64(correct) / float64(rows), nil
}

// Argmax returns the index of the largest value in a probability
// vector, i.e. the predicted class.
func Argmax(v tensor.Tensor) (int, error) {
	data, ok := v.Data().([]float64)
	if !ok || len(data) == 0 {
		return 0, errors.Errorf("mlp: argmax expects a non-empty float64 vector, got %v", v.Shape())
	}
	return floats.MaxIdx(data), nil
}
