package inference

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/lehigh-university-libraries/trafficsign/internal/catalog"
	"github.com/lehigh-university-libraries/trafficsign/internal/classifier"
	"github.com/lehigh-university-libraries/trafficsign/internal/classifier/cnn"
	"github.com/lehigh-university-libraries/trafficsign/internal/config"
	"github.com/lehigh-university-libraries/trafficsign/internal/images"
	"github.com/lehigh-university-libraries/trafficsign/internal/metrics"
	"github.com/lehigh-university-libraries/trafficsign/internal/results"
)

var (
	// ErrModelNotFound means no persisted model exists yet.
	ErrModelNotFound = errors.New("model not found")
	// ErrModelLoad means the persisted model exists but could not be read.
	ErrModelLoad = errors.New("failed to load model")
	// ErrImageNotFound means the image to classify does not exist.
	ErrImageNotFound = errors.New("image not found")
	// ErrInvalidImage means the image exists but cannot be decoded.
	ErrInvalidImage = errors.New("invalid image")
)

// Predictor classifies single images with a persisted model.
type Predictor struct {
	cfg     config.Config
	load    classifier.Loader
	metrics *metrics.Metrics
}

// Option customizes a Predictor.
type Option func(*Predictor)

// WithLoader replaces the default model loader.
func WithLoader(l classifier.Loader) Option {
	return func(p *Predictor) { p.load = l }
}

// WithMetrics counts predictions on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Predictor) { p.metrics = m }
}

func New(cfg config.Config, opts ...Option) *Predictor {
	p := &Predictor{cfg: cfg, load: cnn.Open}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Predict loads the model, classifies the image at path, writes
// prediction_result.json and returns the result.
func (p *Predictor) Predict(path string) (*results.InferenceResult, error) {
	model, err := p.loadModel()
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrImageNotFound, path)
	}
	tensor, err := images.Decode(path, p.inputSize(model))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}
	return p.predict(model, tensor, path)
}

// PredictReader is Predict for an image that is not on disk, such as an
// HTTP upload. name is only used for logging.
func (p *Predictor) PredictReader(r io.Reader, name string) (*results.InferenceResult, error) {
	model, err := p.loadModel()
	if err != nil {
		return nil, err
	}

	tensor, err := images.DecodeReader(r, p.inputSize(model))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidImage, name, err)
	}
	return p.predict(model, tensor, name)
}

func (p *Predictor) predict(model classifier.Classifier, tensor images.Tensor, name string) (*results.InferenceResult, error) {
	result, err := Classify(model, tensor)
	if err != nil {
		return nil, err
	}

	p.metrics.ObservePrediction(result.ClassID)
	slog.Info("Prediction complete", "image", name, "class_id", result.ClassID, "meaning", result.Meaning, "confidence", result.Confidence)

	if err := results.WriteInferenceResult(p.cfg.PredictionResultPath(), result); err != nil {
		return nil, fmt.Errorf("failed to save prediction result: %w", err)
	}
	return result, nil
}

// CheckModel returns ErrModelNotFound when no trained model exists yet.
func (p *Predictor) CheckModel() error {
	modelPath := p.cfg.ModelPath()
	if _, err := os.Stat(modelPath); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w at %s: run training first", ErrModelNotFound, modelPath)
	}
	return nil
}

func (p *Predictor) loadModel() (classifier.Classifier, error) {
	if err := p.CheckModel(); err != nil {
		return nil, err
	}
	modelPath := p.cfg.ModelPath()
	model, err := p.load(modelPath)
	if err != nil {
		return nil, fmt.Errorf("%w from %s: %w", ErrModelLoad, modelPath, err)
	}
	return model, nil
}

// inputSize is the edge length the model was trained on, falling back to
// the configured size for models that do not record it.
func (p *Predictor) inputSize(model classifier.Classifier) int {
	if d, ok := model.(classifier.Describer); ok && d.Architecture().InputSize > 0 {
		return d.Architecture().InputSize
	}
	return p.cfg.ImageSize
}

// Classify runs model on one normalized tensor and maps the winning class
// to its label.
func Classify(model classifier.Classifier, t images.Tensor) (*results.InferenceResult, error) {
	probs, err := model.Predict([][]float32{t.Pix})
	if err != nil {
		return nil, err
	}
	if len(probs) != 1 {
		return nil, fmt.Errorf("%w: expected one probability row, got %d", classifier.ErrInvalidInput, len(probs))
	}
	encoded, err := images.EncodeBase64(t)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	classID, confidence := classifier.ArgMax(probs[0])
	return &results.InferenceResult{
		Image:      encoded,
		Meaning:    catalog.Label(classID),
		Confidence: confidence,
		ClassID:    classID,
	}, nil
}
