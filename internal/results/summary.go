package results

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lehigh-university-libraries/trafficsign/internal/classifier"
	"github.com/lehigh-university-libraries/trafficsign/internal/dataset"
)

// RunConfig is the configuration section of a run summary.
type RunConfig struct {
	DatasetDir   string                  `yaml:"dataset_dir"`
	Epochs       int                     `yaml:"epochs"`
	BatchSize    int                     `yaml:"batch_size"`
	LearningRate float64                 `yaml:"learning_rate"`
	Seed         uint64                  `yaml:"seed"`
	SampleCount  int                     `yaml:"sample_count"`
	Architecture classifier.Architecture `yaml:"architecture"`
}

// RunSummary is written once per training run for later comparison.
type RunSummary struct {
	ID           string                 `yaml:"id"`
	StartedAt    time.Time              `yaml:"started_at"`
	FinishedAt   time.Time              `yaml:"finished_at"`
	Config       RunConfig              `yaml:"config"`
	TrainSamples int                    `yaml:"train_samples"`
	TestSamples  int                    `yaml:"test_samples"`
	TestLoss     float64                `yaml:"test_loss"`
	TestAccuracy float64                `yaml:"test_accuracy"`
	History      []LogEntry             `yaml:"history"`
	Classes      []dataset.ClassSummary `yaml:"classes"`
}

// SaveRunSummary writes s to <dir>/<timestamp>-<id>.yaml and returns the path.
func SaveRunSummary(dir string, s *RunSummary) (string, error) {
	timestamp := s.FinishedAt
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	id := s.ID
	if len(id) > 8 {
		id = id[:8]
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%s.yaml", timestamp.Format("2006-01-02_15-04-05"), id))

	data, err := yaml.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to marshal run summary: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create runs directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write run summary: %w", err)
	}
	return path, nil
}

// LoadRunSummary reads a summary written by SaveRunSummary.
func LoadRunSummary(path string) (*RunSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s RunSummary
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse run summary: %w", err)
	}
	return &s, nil
}
