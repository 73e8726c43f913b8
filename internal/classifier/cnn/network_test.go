package cnn

import (
	"bytes"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lehigh-university-libraries/trafficsign/internal/classifier"
)

func tinyArch(classes int) classifier.Architecture {
	return classifier.Architecture{
		InputSize:    12,
		Channels:     3,
		Conv1Filters: 6,
		Conv2Filters: 8,
		KernelSize:   3,
		Hidden:       16,
		Classes:      classes,
	}
}

func solidInput(arch classifier.Architecture, r, g, b float32) []float32 {
	x := make([]float32, arch.InputLen())
	for i := 0; i < len(x); i += 3 {
		x[i], x[i+1], x[i+2] = r, g, b
	}
	return x
}

func randomInputs(arch classifier.Architecture, n int, seed uint64) [][]float32 {
	rng := rand.New(rand.NewPCG(seed, 1))
	out := make([][]float32, n)
	for i := range out {
		out[i] = make([]float32, arch.InputLen())
		for j := range out[i] {
			out[i][j] = rng.Float32()
		}
	}
	return out
}

func redBlue(arch classifier.Architecture, perClass int) ([][]float32, []int) {
	var inputs [][]float32
	var labels []int
	for i := 0; i < perClass; i++ {
		inputs = append(inputs, solidInput(arch, 1, 0, 0))
		labels = append(labels, 0)
		inputs = append(inputs, solidInput(arch, 0, 0, 1))
		labels = append(labels, 1)
	}
	return inputs, labels
}

func TestNewRejectsCollapsedArchitecture(t *testing.T) {
	arch := tinyArch(3)
	arch.InputSize = 6
	_, err := New(arch, classifier.Hyperparameters{Seed: 1})
	assert.ErrorIs(t, err, classifier.ErrInvalidInput)
}

func TestGradientsMatchFiniteDifferences(t *testing.T) {
	arch := tinyArch(4)
	n, err := New(arch, classifier.Hyperparameters{Seed: 42})
	require.NoError(t, err)

	inputs := randomInputs(arch, 3, 9)
	labels := []int{0, 3, 1}

	meanLoss := func() float64 {
		l, _ := score(n.forward(inputs).probs, labels)
		return l / float64(len(labels))
	}

	n.backward(n.forward(inputs), labels)
	params := n.params()

	const eps = 1e-5
	for pi, p := range params {
		analytic := append([]float64(nil), p.grad...)
		for _, j := range []int{0, len(p.value) / 2, len(p.value) - 1} {
			orig := p.value[j]
			p.value[j] = orig + eps
			plus := meanLoss()
			p.value[j] = orig - eps
			minus := meanLoss()
			p.value[j] = orig

			numeric := (plus - minus) / (2 * eps)
			tol := 1e-4 + 1e-3*math.Abs(numeric)
			assert.InDelta(t, numeric, analytic[j], tol, "param %d index %d", pi, j)
		}
	}
}

func TestFitLearnsSolidColors(t *testing.T) {
	arch := tinyArch(5)
	n, err := New(arch, classifier.Hyperparameters{LearningRate: 0.01, BatchSize: 4, Seed: 3})
	require.NoError(t, err)

	inputs, labels := redBlue(arch, 8)

	var seen []int
	history, err := n.Fit(inputs, labels, 15, func(m classifier.EpochMetrics) {
		seen = append(seen, m.Epoch)
	})
	require.NoError(t, err)
	require.Len(t, history, 15)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}, seen)
	assert.Less(t, history[14].Loss, history[0].Loss)

	eval, err := n.Evaluate(inputs, labels)
	require.NoError(t, err)
	assert.Equal(t, 1.0, eval.Accuracy)

	probs, err := n.Predict([][]float32{solidInput(arch, 1, 0, 0)})
	require.NoError(t, err)
	class, confidence := classifier.ArgMax(probs[0])
	assert.Equal(t, 0, class)
	assert.Greater(t, confidence, 0.5)
}

func TestFitIsDeterministicWithSeed(t *testing.T) {
	arch := tinyArch(3)
	inputs, labels := redBlue(arch, 4)

	run := func() classifier.History {
		n, err := New(arch, classifier.Hyperparameters{BatchSize: 3, Seed: 11})
		require.NoError(t, err)
		h, err := n.Fit(inputs, labels, 3, nil)
		require.NoError(t, err)
		return h
	}

	assert.Equal(t, run(), run())
}

func TestFitRejectsBadInput(t *testing.T) {
	arch := tinyArch(3)
	n, err := New(arch, classifier.Hyperparameters{Seed: 1})
	require.NoError(t, err)

	good := solidInput(arch, 1, 1, 1)
	tests := []struct {
		name   string
		inputs [][]float32
		labels []int
		epochs int
	}{
		{"no inputs", nil, nil, 1},
		{"length mismatch", [][]float32{good}, []int{0, 1}, 1},
		{"wrong tensor size", [][]float32{good[:10]}, []int{0}, 1},
		{"label out of range", [][]float32{good}, []int{3}, 1},
		{"zero epochs", [][]float32{good}, []int{0}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Fit(tt.inputs, tt.labels, tt.epochs, nil)
			assert.ErrorIs(t, err, classifier.ErrInvalidInput)
		})
	}
}

func TestPredictRowsAreDistributions(t *testing.T) {
	arch := tinyArch(7)
	n, err := New(arch, classifier.Hyperparameters{Seed: 5})
	require.NoError(t, err)

	// More than one chunk so the parallel path is exercised.
	inputs := randomInputs(arch, evalChunk*2+5, 2)
	probs, err := n.Predict(inputs)
	require.NoError(t, err)
	require.Len(t, probs, len(inputs))

	for i, row := range probs {
		require.Len(t, row, 7)
		sum := 0.0
		for _, p := range row {
			assert.GreaterOrEqual(t, p, 0.0)
			sum += p
		}
		assert.InDelta(t, 1.0, sum, 1e-9, "row %d", i)
	}

	single, err := n.Predict(inputs[evalChunk+1 : evalChunk+2])
	require.NoError(t, err)
	assert.InDeltaSlice(t, probs[evalChunk+1], single[0], 1e-12)
}

func TestEvaluateAcrossChunks(t *testing.T) {
	arch := tinyArch(3)
	n, err := New(arch, classifier.Hyperparameters{Seed: 8})
	require.NoError(t, err)

	inputs := randomInputs(arch, evalChunk+10, 4)
	labels := make([]int, len(inputs))
	for i := range labels {
		labels[i] = i % 3
	}

	eval, err := n.Evaluate(inputs, labels)
	require.NoError(t, err)

	loss, correct := score(n.forward(inputs).probs, labels)
	assert.InDelta(t, loss/float64(len(inputs)), eval.Loss, 1e-9)
	assert.InDelta(t, float64(correct)/float64(len(inputs)), eval.Accuracy, 1e-12)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	arch := tinyArch(4)
	n, err := New(arch, classifier.Hyperparameters{Seed: 21})
	require.NoError(t, err)
	inputs, labels := redBlue(arch, 2)
	_, err = n.Fit(inputs, labels, 2, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, n.Save(&buf))

	restored, err := Load(&buf)
	require.NoError(t, err)
	assert.Equal(t, arch, restored.Architecture())

	before, err := n.Predict(inputs)
	require.NoError(t, err)
	after, err := restored.Predict(inputs)
	require.NoError(t, err)
	for i := range before {
		assert.InDeltaSlice(t, before[i], after[i], 1e-12)
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	_, err := Load(bytes.NewReader([]byte("not a model")))
	assert.Error(t, err)
}

func TestOpenMissingFile(t *testing.T) {
	c, err := Open(t.TempDir() + "/missing.json.zst")
	assert.Error(t, err)
	assert.Nil(t, c)
}
