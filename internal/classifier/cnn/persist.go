package cnn

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"gonum.org/v1/gonum/mat"

	"github.com/lehigh-university-libraries/trafficsign/internal/classifier"
)

const artifactFormat = "trafficsign-cnn/v1"

type artifact struct {
	Format          string                     `json:"format"`
	Architecture    classifier.Architecture    `json:"architecture"`
	Hyperparameters classifier.Hyperparameters `json:"hyperparameters"`
	Layers          []layerState               `json:"layers"`
}

type layerState struct {
	Name    string    `json:"name"`
	Rows    int       `json:"rows"`
	Cols    int       `json:"cols"`
	Weights []float64 `json:"weights"`
	Bias    []float64 `json:"bias"`
}

type weighted struct {
	name string
	w    *mat.Dense
	b    []float64
}

func (n *Network) layers() []weighted {
	return []weighted{
		{"conv1", n.conv1.w, n.conv1.b},
		{"conv2", n.conv2.w, n.conv2.b},
		{"hidden", n.hidden.w, n.hidden.b},
		{"output", n.output.w, n.output.b},
	}
}

// Save writes the architecture and weights as zstd-compressed JSON.
func (n *Network) Save(w io.Writer) error {
	a := artifact{
		Format:          artifactFormat,
		Architecture:    n.arch,
		Hyperparameters: n.hp,
	}
	for _, l := range n.layers() {
		rows, cols := l.w.Dims()
		a.Layers = append(a.Layers, layerState{
			Name:    l.name,
			Rows:    rows,
			Cols:    cols,
			Weights: rawData(l.w),
			Bias:    l.b,
		})
	}

	enc, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}
	if err := json.NewEncoder(enc).Encode(a); err != nil {
		enc.Close()
		return fmt.Errorf("failed to encode model: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to flush model: %w", err)
	}
	return nil
}

// Load restores a network written by Save.
func Load(r io.Reader) (*Network, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer dec.Close()

	var a artifact
	if err := json.NewDecoder(dec).Decode(&a); err != nil {
		return nil, fmt.Errorf("failed to decode model artifact: %w", err)
	}
	if a.Format != artifactFormat {
		return nil, fmt.Errorf("unsupported model format %q", a.Format)
	}

	n, err := New(a.Architecture, a.Hyperparameters)
	if err != nil {
		return nil, fmt.Errorf("invalid model architecture: %w", err)
	}

	layers := n.layers()
	if len(a.Layers) != len(layers) {
		return nil, fmt.Errorf("model artifact has %d layers, want %d", len(a.Layers), len(layers))
	}
	for i, l := range layers {
		state := a.Layers[i]
		rows, cols := l.w.Dims()
		if state.Name != l.name || state.Rows != rows || state.Cols != cols ||
			len(state.Weights) != rows*cols || len(state.Bias) != len(l.b) {
			return nil, fmt.Errorf("model layer %q does not match architecture", state.Name)
		}
		copy(rawData(l.w), state.Weights)
		copy(l.b, state.Bias)
	}
	return n, nil
}

// LoadFile restores a network from path.
func LoadFile(path string) (*Network, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// Open adapts LoadFile to classifier.Loader.
func Open(path string) (classifier.Classifier, error) {
	n, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return n, nil
}
