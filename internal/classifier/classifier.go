package classifier

import (
	"errors"
	"fmt"
	"io"
)

// ErrInvalidInput is returned when inputs, labels or shapes do not match
// the classifier's architecture.
var ErrInvalidInput = errors.New("invalid classifier input")

// Architecture describes the two-stage convolutional network.
type Architecture struct {
	InputSize    int `json:"input_size" yaml:"input_size"`
	Channels     int `json:"channels" yaml:"channels"`
	Conv1Filters int `json:"conv1_filters" yaml:"conv1_filters"`
	Conv2Filters int `json:"conv2_filters" yaml:"conv2_filters"`
	KernelSize   int `json:"kernel_size" yaml:"kernel_size"`
	Hidden       int `json:"hidden" yaml:"hidden"`
	Classes      int `json:"classes" yaml:"classes"`
}

// Describer is implemented by classifiers that carry their architecture,
// such as a network restored from disk.
type Describer interface {
	Architecture() Architecture
}

// DefaultArchitecture is conv32 -> pool -> conv64 -> pool -> dense128 -> classes.
func DefaultArchitecture(classes int) Architecture {
	return Architecture{
		InputSize:    32,
		Channels:     3,
		Conv1Filters: 32,
		Conv2Filters: 64,
		KernelSize:   3,
		Hidden:       128,
		Classes:      classes,
	}
}

// InputLen is the number of values in one input tensor.
func (a Architecture) InputLen() int {
	return a.InputSize * a.InputSize * a.Channels
}

// FeatureSizes returns the spatial edge length after conv1, pool1, conv2
// and pool2 (valid convolutions, 2x2 pooling).
func (a Architecture) FeatureSizes() (conv1, pool1, conv2, pool2 int) {
	conv1 = a.InputSize - a.KernelSize + 1
	pool1 = conv1 / 2
	conv2 = pool1 - a.KernelSize + 1
	pool2 = conv2 / 2
	return
}

// FlatLen is the width of the flattened feature vector.
func (a Architecture) FlatLen() int {
	_, _, _, p2 := a.FeatureSizes()
	return p2 * p2 * a.Conv2Filters
}

// Validate rejects architectures whose feature maps collapse.
func (a Architecture) Validate() error {
	if a.InputSize <= 0 || a.Channels <= 0 || a.Conv1Filters <= 0 || a.Conv2Filters <= 0 ||
		a.KernelSize <= 0 || a.Hidden <= 0 || a.Classes <= 1 {
		return fmt.Errorf("%w: non-positive architecture dimension in %+v", ErrInvalidInput, a)
	}
	if _, _, _, p2 := a.FeatureSizes(); p2 < 1 {
		return fmt.Errorf("%w: input size %d too small for kernel %d", ErrInvalidInput, a.InputSize, a.KernelSize)
	}
	return nil
}

// Hyperparameters control the optimizer and batching.
type Hyperparameters struct {
	LearningRate float64 `json:"learning_rate" yaml:"learning_rate"`
	BatchSize    int     `json:"batch_size" yaml:"batch_size"`
	// Seed fixes weight initialization and shuffling; zero means random.
	Seed uint64 `json:"seed" yaml:"seed"`
}

// DefaultHyperparameters matches Adam's usual defaults with batches of 32.
func DefaultHyperparameters() Hyperparameters {
	return Hyperparameters{LearningRate: 0.001, BatchSize: 32}
}

// EpochMetrics is reported once per completed training pass.
type EpochMetrics struct {
	Epoch    int     `json:"epoch" yaml:"epoch"`
	Loss     float64 `json:"loss" yaml:"loss"`
	Accuracy float64 `json:"accuracy" yaml:"accuracy"`
}

// History is the ordered list of completed epochs.
type History []EpochMetrics

// Evaluation is the aggregate loss and accuracy over a labelled set.
type Evaluation struct {
	Loss     float64 `json:"loss" yaml:"loss"`
	Accuracy float64 `json:"accuracy" yaml:"accuracy"`
}

// Classifier is an image classifier over a fixed label space. Inputs are
// HWC float tensors matching the architecture's InputLen.
type Classifier interface {
	// Fit trains for the given number of epochs, calling onEpoch after each.
	Fit(inputs [][]float32, labels []int, epochs int, onEpoch func(EpochMetrics)) (History, error)
	Evaluate(inputs [][]float32, labels []int) (Evaluation, error)
	// Predict returns one probability row per input.
	Predict(inputs [][]float32) ([][]float64, error)
	Save(w io.Writer) error
}

// Builder constructs an untrained classifier.
type Builder func(Architecture, Hyperparameters) (Classifier, error)

// Loader restores a classifier saved with Classifier.Save.
type Loader func(path string) (Classifier, error)

// ArgMax returns the index of the largest probability and its value.
func ArgMax(probs []float64) (int, float64) {
	best := -1
	bestP := 0.0
	for i, p := range probs {
		if best < 0 || p > bestP {
			best, bestP = i, p
		}
	}
	return best, bestP
}
