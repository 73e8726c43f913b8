package training

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/lehigh-university-libraries/trafficsign/internal/classifier"
	"github.com/lehigh-university-libraries/trafficsign/internal/classifier/cnn"
	"github.com/lehigh-university-libraries/trafficsign/internal/config"
	"github.com/lehigh-university-libraries/trafficsign/internal/dataset"
	"github.com/lehigh-university-libraries/trafficsign/internal/images"
	"github.com/lehigh-university-libraries/trafficsign/internal/metrics"
	"github.com/lehigh-university-libraries/trafficsign/internal/results"
)

var (
	// ErrInsufficientTestData means the test split is smaller than the
	// number of sample predictions requested.
	ErrInsufficientTestData = errors.New("insufficient test data")
	// ErrTraining wraps failures of the classifier itself.
	ErrTraining = errors.New("training failed")
	// ErrPersist wraps failures writing the predictions report or model.
	ErrPersist = errors.New("failed to persist training artifacts")
)

// Result describes a completed training run.
type Result struct {
	RunID          string
	Message        string
	Evaluation     classifier.Evaluation
	History        classifier.History
	Predictions    []results.PredictionRecord
	Dataset        dataset.Summary
	RunSummaryPath string
}

func (r *Result) String() string {
	return r.Message
}

// Trainer drives dataset loading, fitting, evaluation and artifact output.
type Trainer struct {
	cfg     config.Config
	build   classifier.Builder
	metrics *metrics.Metrics
	runID   string
	now     func() time.Time
}

// Option customizes a Trainer.
type Option func(*Trainer)

// WithBuilder replaces the default CNN builder.
func WithBuilder(b classifier.Builder) Option {
	return func(t *Trainer) { t.build = b }
}

// WithMetrics records progress on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Trainer) { t.metrics = m }
}

// WithRunID uses id instead of a fresh UUID for the run.
func WithRunID(id string) Option {
	return func(t *Trainer) { t.runID = id }
}

// New creates a trainer for cfg.
func New(cfg config.Config, opts ...Option) *Trainer {
	t := &Trainer{
		cfg:   cfg,
		build: cnn.Build,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Train runs the full pipeline and returns the run's result. Its Message
// is the one-line summary printed by the CLI.
func (t *Trainer) Train() (res *Result, err error) {
	cfg := t.cfg
	started := t.now()
	runID := t.runID
	if runID == "" {
		runID = uuid.NewString()
	}

	defer func() {
		accuracy := 0.0
		if res != nil {
			accuracy = res.Evaluation.Accuracy
		}
		t.metrics.ObserveRun(err, accuracy)
	}()

	slog.Info("Starting training run", "run_id", runID, "dataset", cfg.DatasetDir, "epochs", cfg.Epochs)

	loader := dataset.NewLoader(cfg.DatasetDir, dataset.Options{
		MinImages:         cfg.MinImages,
		TrainFraction:     cfg.TrainFraction,
		ImageSize:         cfg.ImageSize,
		FailOnDecodeError: cfg.FailOnDecodeError,
	})
	split, err := loader.Load()
	if err != nil {
		return nil, err
	}
	t.metrics.ObserveSkipped(len(split.Summary.Classes) - split.Summary.ClassesLoaded)

	if err := dataset.WriteManifest(cfg.ManifestPath(), split.Manifest); err != nil {
		slog.Warn("Failed to save dataset manifest", "path", cfg.ManifestPath(), "error", err)
	}

	// Checked up front so a doomed run does not spend time fitting.
	if split.Test.Len() < cfg.SampleCount {
		return nil, fmt.Errorf("%w: need %d test samples for sample predictions, have %d",
			ErrInsufficientTestData, cfg.SampleCount, split.Test.Len())
	}

	model, err := t.build(cfg.Architecture, classifier.Hyperparameters{
		LearningRate: cfg.LearningRate,
		BatchSize:    cfg.BatchSize,
		Seed:         cfg.Seed,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to build classifier: %w", ErrTraining, err)
	}

	logPath := cfg.TrainingLogPath()
	var log []results.LogEntry
	history, err := model.Fit(split.Train.Inputs(), split.Train.Labels, cfg.Epochs, func(m classifier.EpochMetrics) {
		log = append(log, results.LogEntry(m))
		if err := results.WriteTrainingLog(logPath, log); err != nil {
			slog.Warn("Failed to save training log", "path", logPath, "error", err)
		}
		t.metrics.ObserveEpoch(m.Epoch, m.Loss, m.Accuracy)
		slog.Info("Epoch complete", "epoch", m.Epoch, "of", cfg.Epochs, "loss", m.Loss, "accuracy", m.Accuracy)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTraining, err)
	}

	evaluation, err := model.Evaluate(split.Test.Inputs(), split.Test.Labels)
	if err != nil {
		return nil, fmt.Errorf("%w: evaluation: %w", ErrTraining, err)
	}
	slog.Info("Evaluated on test split", "loss", evaluation.Loss, "accuracy", evaluation.Accuracy)

	records, err := t.samplePredictions(model, split.Test)
	if err != nil {
		return nil, err
	}

	if err := results.WritePredictions(cfg.PredictionsPath(), records); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersist, err)
	}
	if err := results.WriteFileAtomic(cfg.ModelPath(), model.Save); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersist, err)
	}
	slog.Info("Saved model", "path", cfg.ModelPath())

	res = &Result{
		RunID:       runID,
		Message:     fmt.Sprintf("Training completed successfully. Test accuracy: %.4f", evaluation.Accuracy),
		Evaluation:  evaluation,
		History:     history,
		Predictions: records,
		Dataset:     split.Summary,
	}

	summary := &results.RunSummary{
		ID:         runID,
		StartedAt:  started,
		FinishedAt: t.now(),
		Config: results.RunConfig{
			DatasetDir:   cfg.DatasetDir,
			Epochs:       cfg.Epochs,
			BatchSize:    cfg.BatchSize,
			LearningRate: cfg.LearningRate,
			Seed:         cfg.Seed,
			SampleCount:  cfg.SampleCount,
			Architecture: cfg.Architecture,
		},
		TrainSamples: split.Train.Len(),
		TestSamples:  split.Test.Len(),
		TestLoss:     evaluation.Loss,
		TestAccuracy: evaluation.Accuracy,
		History:      log,
		Classes:      split.Summary.Classes,
	}
	if path, err := results.SaveRunSummary(cfg.RunsDir(), summary); err != nil {
		slog.Warn("Failed to save run summary", "error", err)
	} else {
		res.RunSummaryPath = path
	}

	return res, nil
}

func (t *Trainer) samplePredictions(model classifier.Classifier, test dataset.Set) ([]results.PredictionRecord, error) {
	indices, err := SampleIndices(t.sampler(), test.Len(), t.cfg.SampleCount)
	if err != nil {
		return nil, err
	}

	batch := make([][]float32, len(indices))
	for i, idx := range indices {
		batch[i] = test.Images[idx].Pix
	}
	probs, err := model.Predict(batch)
	if err != nil {
		return nil, fmt.Errorf("%w: sample prediction: %w", ErrTraining, err)
	}

	records := make([]results.PredictionRecord, 0, len(indices))
	for i, idx := range indices {
		pred, _ := classifier.ArgMax(probs[i])
		encoded, err := images.EncodeBase64(test.Images[idx])
		if err != nil {
			return nil, fmt.Errorf("%w: failed to encode sample image: %w", ErrPersist, err)
		}
		records = append(records, results.PredictionRecord{
			Image:     encoded,
			TrueLabel: test.Labels[idx],
			PredLabel: pred,
		})
	}
	return records, nil
}

func (t *Trainer) sampler() *rand.Rand {
	if t.cfg.Seed != 0 {
		return rand.New(rand.NewPCG(t.cfg.Seed, 0x5eed))
	}
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// SampleIndices draws k distinct indices from [0, n) uniformly at random.
func SampleIndices(rng *rand.Rand, n, k int) ([]int, error) {
	if n < k {
		return nil, fmt.Errorf("%w: need %d samples, have %d", ErrInsufficientTestData, k, n)
	}
	return rng.Perm(n)[:k], nil
}
