// Package model provides a small linear-regression model on synthetic data.
// Its gradients are computed in closed form so it can drive the training
// loop without an autodiff tape.
package model

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"

	"github.com/cwbudde/trainkit/internal/store"
)

// Variable names of the regression model.
const (
	WeightName = "linear/weight"
	BiasName   = "linear/bias"
)

// Dataset is a dense regression dataset.
type Dataset struct {
	X        [][]float32
	Y        []float32
	Features int
}

// Len returns the number of samples.
func (d *Dataset) Len() int {
	return len(d.Y)
}

// Synthetic generates n samples of y = x·w + b + noise with the given true
// weights and bias. Features are drawn from N(0, 1).
func Synthetic(n int, weights []float32, bias, noise float32, rng *rand.Rand) *Dataset {
	ds := &Dataset{
		X:        make([][]float32, n),
		Y:        make([]float32, n),
		Features: len(weights),
	}
	for i := 0; i < n; i++ {
		x := make([]float32, len(weights))
		y := bias
		for j := range x {
			x[j] = float32(rng.NormFloat64())
			y += x[j] * weights[j]
		}
		ds.X[i] = x
		ds.Y[i] = y + noise*float32(rng.NormFloat64())
	}
	return ds
}

// Regression is a linear model trained with mean squared error.
type Regression[B tensor.Backend] struct {
	weight    *nn.Parameter[B]
	bias      *nn.Parameter[B]
	vars      *store.Variables[B]
	train     *Dataset
	valid     *Dataset
	batchSize int
	backend   B
}

// NewRegression creates a zero-initialized model over train and valid.
func NewRegression[B tensor.Backend](train, valid *Dataset, batchSize int, backend B) (*Regression[B], error) {
	if train.Len() == 0 || valid.Len() == 0 {
		return nil, fmt.Errorf("datasets cannot be empty")
	}
	if train.Features != valid.Features {
		return nil, fmt.Errorf("feature mismatch: train %d, valid %d", train.Features, valid.Features)
	}
	if batchSize <= 0 || batchSize > train.Len() {
		return nil, fmt.Errorf("batch size %d out of range [1, %d]", batchSize, train.Len())
	}

	weight := nn.NewParameter(WeightName, tensor.Zeros[float32](tensor.Shape{train.Features}, backend))
	bias := nn.NewParameter(BiasName, tensor.Zeros[float32](tensor.Shape{1}, backend))

	vars := store.NewVariables[B]()
	if err := vars.Add(weight, bias); err != nil {
		return nil, err
	}

	return &Regression[B]{
		weight:    weight,
		bias:      bias,
		vars:      vars,
		train:     train,
		valid:     valid,
		batchSize: batchSize,
		backend:   backend,
	}, nil
}

// Variables returns the trainable variables.
func (r *Regression[B]) Variables() *store.Variables[B] {
	return r.vars
}

// Weights returns the current weights and bias.
func (r *Regression[B]) Weights() ([]float32, float32) {
	w := append([]float32(nil), r.weight.Tensor().Data()...)
	return w, r.bias.Tensor().Data()[0]
}

// StepsPerEpoch is the number of batches in the training set.
func (r *Regression[B]) StepsPerEpoch() int {
	return (r.train.Len() + r.batchSize - 1) / r.batchSize
}

// TrainStep computes the batch loss and its gradients for the batch that
// step selects. Batches cycle through the training set in order.
func (r *Regression[B]) TrainStep(step int) (float64, map[*tensor.RawTensor]*tensor.RawTensor, error) {
	start := (step % r.StepsPerEpoch()) * r.batchSize
	end := min(start+r.batchSize, r.train.Len())

	w, b := r.Weights()
	gradW := make([]float32, len(w))
	var gradB float32
	var loss float64

	n := float32(end - start)
	for i := start; i < end; i++ {
		diff := predict(r.train.X[i], w, b) - r.train.Y[i]
		loss += float64(diff * diff)
		for j, x := range r.train.X[i] {
			gradW[j] += 2 * diff * x / n
		}
		gradB += 2 * diff / n
	}

	gw, err := tensor.FromSlice[float32](gradW, tensor.Shape{len(gradW)}, r.backend)
	if err != nil {
		return 0, nil, fmt.Errorf("weight gradient: %w", err)
	}
	gb, err := tensor.FromSlice[float32]([]float32{gradB}, tensor.Shape{1}, r.backend)
	if err != nil {
		return 0, nil, fmt.Errorf("bias gradient: %w", err)
	}

	grads := map[*tensor.RawTensor]*tensor.RawTensor{
		r.weight.Tensor().Raw(): gw.Raw(),
		r.bias.Tensor().Raw():   gb.Raw(),
	}
	return loss / float64(n), grads, nil
}

// Validate returns the mean squared error on the validation set.
func (r *Regression[B]) Validate() (float64, error) {
	w, b := r.Weights()

	var loss float64
	for i, x := range r.valid.X {
		diff := predict(x, w, b) - r.valid.Y[i]
		loss += float64(diff * diff)
	}
	return loss / float64(r.valid.Len()), nil
}

func predict(x, w []float32, b float32) float32 {
	y := b
	for j := range x {
		y += x[j] * w[j]
	}
	return y
}
