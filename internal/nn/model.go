// Package nn implements the inference-only forward pass of the small
// convolutional classifier shared by every organ.
package nn

import (
	"context"
	"errors"
	"fmt"
)

// ErrShape reports an input or parameter whose size does not match the
// architecture.
var ErrShape = errors.New("shape mismatch")

// Architecture identifies the network layout in weight files.
const Architecture = "small_cnn"

const (
	inChannels = 3
	conv1Out   = 8
	conv2Out   = 16
	hiddenSize = 64
)

// Param is a named view over one parameter tensor of the network.
type Param struct {
	Name  string
	Shape []int
	Data  []float32
}

// SmallCNN is conv(3->8) relu pool, conv(8->16) relu pool, flatten,
// linear(->64) relu, linear(64->classes).
type SmallCNN struct {
	InputSize  int
	NumClasses int

	Conv1 Conv2D
	Conv2 Conv2D
	FC1   Linear
	FC2   Linear
}

// New allocates a zero-initialized network for square inputs of side
// inputSize, which must be a positive multiple of 4.
func New(inputSize, numClasses int) (*SmallCNN, error) {
	if inputSize <= 0 || inputSize%4 != 0 {
		return nil, fmt.Errorf("%w: input size %d is not a positive multiple of 4", ErrShape, inputSize)
	}
	if numClasses <= 0 {
		return nil, fmt.Errorf("%w: num classes must be positive, got %d", ErrShape, numClasses)
	}
	return &SmallCNN{
		InputSize:  inputSize,
		NumClasses: numClasses,
		Conv1:      newConv2D(inChannels, conv1Out),
		Conv2:      newConv2D(conv1Out, conv2Out),
		FC1:        newLinear(FlattenSize(inputSize), hiddenSize),
		FC2:        newLinear(hiddenSize, numClasses),
	}, nil
}

// FlattenSize is the length of the feature vector entering the first
// linear layer for a given input side.
func FlattenSize(inputSize int) int {
	side := inputSize / 4
	return conv2Out * side * side
}

// InputLen is the number of values a single input must carry.
func (m *SmallCNN) InputLen() int {
	return inChannels * m.InputSize * m.InputSize
}

// Params lists the parameters in canonical order using state-dict names.
// The returned slices alias the network's storage.
func (m *SmallCNN) Params() []Param {
	k := KernelSize
	return []Param{
		{Name: "features.0.weight", Shape: []int{conv1Out, inChannels, k, k}, Data: m.Conv1.Weight},
		{Name: "features.0.bias", Shape: []int{conv1Out}, Data: m.Conv1.Bias},
		{Name: "features.3.weight", Shape: []int{conv2Out, conv1Out, k, k}, Data: m.Conv2.Weight},
		{Name: "features.3.bias", Shape: []int{conv2Out}, Data: m.Conv2.Bias},
		{Name: "classifier.1.weight", Shape: []int{hiddenSize, m.FC1.In}, Data: m.FC1.Weight},
		{Name: "classifier.1.bias", Shape: []int{hiddenSize}, Data: m.FC1.Bias},
		{Name: "classifier.3.weight", Shape: []int{m.NumClasses, hiddenSize}, Data: m.FC2.Weight},
		{Name: "classifier.3.bias", Shape: []int{m.NumClasses}, Data: m.FC2.Bias},
	}
}

// Forward runs a single [3][S][S] input through the network and returns
// NumClasses logits. It never mutates the network.
func (m *SmallCNN) Forward(ctx context.Context, x []float32) ([]float32, error) {
	if len(x) != m.InputLen() {
		return nil, fmt.Errorf("%w: expected %d input values (3x%dx%d), got %d",
			ErrShape, m.InputLen(), m.InputSize, m.InputSize, len(x))
	}
	h, w := m.InputSize, m.InputSize

	act := m.Conv1.Apply(x, h, w)
	ReLU(act)
	act, h, w = MaxPool2(act, conv1Out, h, w)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	act = m.Conv2.Apply(act, h, w)
	ReLU(act)
	act, _, _ = MaxPool2(act, conv2Out, h, w)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hidden := m.FC1.Apply(act)
	ReLU(hidden)
	return m.FC2.Apply(hidden), nil
}
