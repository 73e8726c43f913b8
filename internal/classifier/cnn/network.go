// Package cnn is a small convolutional image classifier trained with Adam
// on sparse categorical cross-entropy.
package cnn

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/lehigh-university-libraries/trafficsign/internal/classifier"
)

// ErrDiverged is returned when the training loss stops being finite.
var ErrDiverged = errors.New("training diverged")

// evalChunk bounds the im2col working set of parallel evaluation.
const evalChunk = 64

// probFloor clips probabilities before taking the log.
const probFloor = 1e-7

// Network implements classifier.Classifier.
type Network struct {
	arch classifier.Architecture
	hp   classifier.Hyperparameters

	conv1  *conv2d
	conv2  *conv2d
	hidden *dense
	output *dense

	opt     *adam
	rng     *rand.Rand
	workers int
}

var _ classifier.Classifier = (*Network)(nil)

// New builds an untrained network with Glorot-uniform weights.
func New(arch classifier.Architecture, hp classifier.Hyperparameters) (*Network, error) {
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	defaults := classifier.DefaultHyperparameters()
	if hp.LearningRate <= 0 {
		hp.LearningRate = defaults.LearningRate
	}
	if hp.BatchSize <= 0 {
		hp.BatchSize = defaults.BatchSize
	}

	seed := hp.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	return &Network{
		arch:    arch,
		hp:      hp,
		conv1:   newConv2D(arch.Channels, arch.Conv1Filters, arch.KernelSize, rng),
		conv2:   newConv2D(arch.Conv1Filters, arch.Conv2Filters, arch.KernelSize, rng),
		hidden:  newDense(arch.FlatLen(), arch.Hidden, true, rng),
		output:  newDense(arch.Hidden, arch.Classes, false, rng),
		opt:     newAdam(hp.LearningRate),
		rng:     rng,
		workers: runtime.GOMAXPROCS(0),
	}, nil
}

// Build adapts New to classifier.Builder.
func Build(arch classifier.Architecture, hp classifier.Hyperparameters) (classifier.Classifier, error) {
	n, err := New(arch, hp)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// Architecture returns the network's shape.
func (n *Network) Architecture() classifier.Architecture {
	return n.arch
}

func (n *Network) params() []param {
	var ps []param
	ps = append(ps, n.conv1.params()...)
	ps = append(ps, n.conv2.params()...)
	ps = append(ps, n.hidden.params()...)
	ps = append(ps, n.output.params()...)
	return ps
}

type activations struct {
	input  *volume
	cols1  *mat.Dense
	conv1  *volume
	pool1  *volume
	arg1   []int
	cols2  *mat.Dense
	conv2  *volume
	pool2  *volume
	arg2   []int
	flat   *mat.Dense
	hidden *mat.Dense
	probs  *mat.Dense
}

// forward only reads weights, so concurrent calls are safe.
func (n *Network) forward(batch [][]float32) *activations {
	s := n.arch.InputSize
	in := newVolume(len(batch), s, s, n.arch.Channels)
	stride := n.arch.InputLen()
	for i, x := range batch {
		dst := in.data[i*stride : (i+1)*stride]
		for j, v := range x {
			dst[j] = float64(v)
		}
	}

	a := &activations{input: in}
	a.conv1, a.cols1 = n.conv1.forward(a.input)
	a.pool1, a.arg1 = maxPool(a.conv1)
	a.conv2, a.cols2 = n.conv2.forward(a.pool1)
	a.pool2, a.arg2 = maxPool(a.conv2)
	a.flat = mat.NewDense(a.pool2.n, a.pool2.h*a.pool2.w*a.pool2.c, a.pool2.data)
	a.hidden = n.hidden.forward(a.flat)
	a.probs = n.output.forward(a.hidden)
	softmaxRows(a.probs)
	return a
}

func (n *Network) backward(a *activations, labels []int) {
	batch := float64(len(labels))
	dLogits := mat.DenseCopyOf(a.probs)
	for i, y := range labels {
		row := dLogits.RawRowView(i)
		row[y] -= 1
		for j := range row {
			row[j] /= batch
		}
	}

	dHidden := n.output.backward(a.hidden, nil, dLogits)
	dFlat := n.hidden.backward(a.flat, a.hidden, dHidden)
	dConv2 := maxPoolBackward(rawData(dFlat), a.arg2, a.conv2)
	dPool1 := n.conv2.backward(a.pool1, a.cols2, a.conv2, dConv2.data, true)
	dConv1 := maxPoolBackward(dPool1.data, a.arg1, a.conv1)
	n.conv1.backward(a.input, a.cols1, a.conv1, dConv1.data, false)
}

// score returns the summed cross-entropy and the number of correct arg-max
// predictions for a batch.
func score(probs *mat.Dense, labels []int) (float64, int) {
	loss := 0.0
	correct := 0
	for i, y := range labels {
		row := probs.RawRowView(i)
		loss -= math.Log(math.Max(row[y], probFloor))
		if pred, _ := classifier.ArgMax(row); pred == y {
			correct++
		}
	}
	return loss, correct
}

func (n *Network) checkInputs(inputs [][]float32) error {
	if len(inputs) == 0 {
		return fmt.Errorf("%w: no inputs", classifier.ErrInvalidInput)
	}
	want := n.arch.InputLen()
	for i, x := range inputs {
		if len(x) != want {
			return fmt.Errorf("%w: input %d has %d values, want %d", classifier.ErrInvalidInput, i, len(x), want)
		}
	}
	return nil
}

func (n *Network) checkLabelled(inputs [][]float32, labels []int) error {
	if len(inputs) != len(labels) {
		return fmt.Errorf("%w: %d inputs but %d labels", classifier.ErrInvalidInput, len(inputs), len(labels))
	}
	if err := n.checkInputs(inputs); err != nil {
		return err
	}
	for i, y := range labels {
		if y < 0 || y >= n.arch.Classes {
			return fmt.Errorf("%w: label %d at %d outside [0, %d)", classifier.ErrInvalidInput, y, i, n.arch.Classes)
		}
	}
	return nil
}

// Fit runs mini-batch Adam over shuffled inputs for the given epochs.
func (n *Network) Fit(inputs [][]float32, labels []int, epochs int, onEpoch func(classifier.EpochMetrics)) (classifier.History, error) {
	if err := n.checkLabelled(inputs, labels); err != nil {
		return nil, err
	}
	if epochs <= 0 {
		return nil, fmt.Errorf("%w: epochs must be positive, got %d", classifier.ErrInvalidInput, epochs)
	}

	order := make([]int, len(inputs))
	for i := range order {
		order[i] = i
	}

	batch := make([][]float32, 0, n.hp.BatchSize)
	batchLabels := make([]int, 0, n.hp.BatchSize)
	history := make(classifier.History, 0, epochs)

	for epoch := 1; epoch <= epochs; epoch++ {
		n.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		lossSum := 0.0
		correct := 0
		for start := 0; start < len(order); start += n.hp.BatchSize {
			end := min(start+n.hp.BatchSize, len(order))
			batch, batchLabels = batch[:0], batchLabels[:0]
			for _, idx := range order[start:end] {
				batch = append(batch, inputs[idx])
				batchLabels = append(batchLabels, labels[idx])
			}

			act := n.forward(batch)
			l, c := score(act.probs, batchLabels)
			lossSum += l
			correct += c

			n.backward(act, batchLabels)
			n.opt.step(n.params())
		}

		m := classifier.EpochMetrics{
			Epoch:    epoch,
			Loss:     lossSum / float64(len(order)),
			Accuracy: float64(correct) / float64(len(order)),
		}
		if math.IsNaN(m.Loss) || math.IsInf(m.Loss, 0) {
			return history, fmt.Errorf("%w at epoch %d", ErrDiverged, epoch)
		}
		history = append(history, m)

		slog.Debug("Epoch complete", "epoch", epoch, "loss", m.Loss, "accuracy", m.Accuracy)
		if onEpoch != nil {
			onEpoch(m)
		}
	}

	return history, nil
}

type span struct{ start, end int }

func chunks(n int) []span {
	var out []span
	for start := 0; start < n; start += evalChunk {
		out = append(out, span{start, min(start+evalChunk, n)})
	}
	return out
}

// Evaluate scores inputs in parallel chunks; the reduction runs in chunk
// order so results do not depend on scheduling.
func (n *Network) Evaluate(inputs [][]float32, labels []int) (classifier.Evaluation, error) {
	if err := n.checkLabelled(inputs, labels); err != nil {
		return classifier.Evaluation{}, err
	}

	parts := chunks(len(inputs))
	losses := make([]float64, len(parts))
	corrects := make([]int, len(parts))

	var g errgroup.Group
	g.SetLimit(n.workers)
	for i, p := range parts {
		g.Go(func() error {
			act := n.forward(inputs[p.start:p.end])
			losses[i], corrects[i] = score(act.probs, labels[p.start:p.end])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return classifier.Evaluation{}, err
	}

	loss := 0.0
	correct := 0
	for i := range parts {
		loss += losses[i]
		correct += corrects[i]
	}
	return classifier.Evaluation{
		Loss:     loss / float64(len(inputs)),
		Accuracy: float64(correct) / float64(len(inputs)),
	}, nil
}

// Predict returns class probabilities for each input.
func (n *Network) Predict(inputs [][]float32) ([][]float64, error) {
	if err := n.checkInputs(inputs); err != nil {
		return nil, err
	}

	out := make([][]float64, len(inputs))
	var g errgroup.Group
	g.SetLimit(n.workers)
	for _, p := range chunks(len(inputs)) {
		g.Go(func() error {
			act := n.forward(inputs[p.start:p.end])
			for i := p.start; i < p.end; i++ {
				out[i] = mat.Row(nil, i-p.start, act.probs)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
