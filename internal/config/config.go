package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/lehigh-university-libraries/trafficsign/internal/catalog"
	"github.com/lehigh-university-libraries/trafficsign/internal/classifier"
	"github.com/lehigh-university-libraries/trafficsign/internal/results"
)

// ErrInvalid wraps every configuration validation failure.
var ErrInvalid = errors.New("invalid configuration")

// EnvPrefix prefixes every environment override, e.g. TRAFFICSIGN_EPOCHS.
const EnvPrefix = "TRAFFICSIGN_"

// Config holds every tunable of a training or inference run.
type Config struct {
	DatasetDir        string                  `yaml:"dataset_dir"`
	OutputDir         string                  `yaml:"output_dir"`
	Epochs            int                     `yaml:"epochs"`
	BatchSize         int                     `yaml:"batch_size"`
	LearningRate      float64                 `yaml:"learning_rate"`
	SampleCount       int                     `yaml:"sample_count"`
	MinImages         int                     `yaml:"min_images"`
	TrainFraction     float64                 `yaml:"train_fraction"`
	ImageSize         int                     `yaml:"image_size"`
	Seed              uint64                  `yaml:"seed"`
	FailOnDecodeError bool                    `yaml:"fail_on_decode_error"`
	Architecture      classifier.Architecture `yaml:"architecture"`
}

// Default returns the settings of the reference GTSRB run.
func Default() Config {
	return Config{
		DatasetDir:    "GTSRB/Training",
		OutputDir:     ".",
		Epochs:        10,
		BatchSize:     32,
		LearningRate:  0.001,
		SampleCount:   5,
		MinImages:     10,
		TrainFraction: 0.8,
		ImageSize:     32,
		Architecture:  classifier.DefaultArchitecture(catalog.NumClasses),
	}
}

// Load layers an optional YAML file and TRAFFICSIGN_* environment
// variables over Default. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("%w: failed to parse %s: %v", ErrInvalid, path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	cfg.Normalize()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v, ok := os.LookupEnv(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s%s=%q is not an integer", ErrInvalid, EnvPrefix, name, v)
		}
		*dst = n
		return nil
	}

	str("DATASET_DIR", &c.DatasetDir)
	str("OUTPUT_DIR", &c.OutputDir)

	for name, dst := range map[string]*int{
		"EPOCHS":       &c.Epochs,
		"BATCH_SIZE":   &c.BatchSize,
		"SAMPLE_COUNT": &c.SampleCount,
		"MIN_IMAGES":   &c.MinImages,
		"IMAGE_SIZE":   &c.ImageSize,
	} {
		if err := num(name, dst); err != nil {
			return err
		}
	}

	if v, ok := os.LookupEnv(EnvPrefix + "LEARNING_RATE"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: %sLEARNING_RATE=%q is not a number", ErrInvalid, EnvPrefix, v)
		}
		c.LearningRate = f
	}
	if v, ok := os.LookupEnv(EnvPrefix + "SEED"); ok && v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %sSEED=%q is not an unsigned integer", ErrInvalid, EnvPrefix, v)
		}
		c.Seed = seed
	}
	if v, ok := os.LookupEnv(EnvPrefix + "FAIL_ON_DECODE_ERROR"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %sFAIL_ON_DECODE_ERROR=%q is not a boolean", ErrInvalid, EnvPrefix, v)
		}
		c.FailOnDecodeError = b
	}
	return nil
}

// Normalize fills unset architecture fields and ties the network's input
// and output sizes to the image size and the catalog.
func (c *Config) Normalize() {
	def := classifier.DefaultArchitecture(catalog.NumClasses)
	a := &c.Architecture
	if a.Channels == 0 {
		a.Channels = def.Channels
	}
	if a.Conv1Filters == 0 {
		a.Conv1Filters = def.Conv1Filters
	}
	if a.Conv2Filters == 0 {
		a.Conv2Filters = def.Conv2Filters
	}
	if a.KernelSize == 0 {
		a.KernelSize = def.KernelSize
	}
	if a.Hidden == 0 {
		a.Hidden = def.Hidden
	}
	a.InputSize = c.ImageSize
	a.Classes = catalog.NumClasses
}

// Validate rejects values no run could use.
func (c Config) Validate() error {
	switch {
	case c.DatasetDir == "":
		return fmt.Errorf("%w: dataset_dir is empty", ErrInvalid)
	case c.OutputDir == "":
		return fmt.Errorf("%w: output_dir is empty", ErrInvalid)
	case c.Epochs <= 0:
		return fmt.Errorf("%w: epochs must be positive, got %d", ErrInvalid, c.Epochs)
	case c.BatchSize <= 0:
		return fmt.Errorf("%w: batch_size must be positive, got %d", ErrInvalid, c.BatchSize)
	case c.LearningRate <= 0:
		return fmt.Errorf("%w: learning_rate must be positive, got %v", ErrInvalid, c.LearningRate)
	case c.SampleCount <= 0:
		return fmt.Errorf("%w: sample_count must be positive, got %d", ErrInvalid, c.SampleCount)
	case c.MinImages <= 0:
		return fmt.Errorf("%w: min_images must be positive, got %d", ErrInvalid, c.MinImages)
	case c.TrainFraction <= 0 || c.TrainFraction >= 1:
		return fmt.Errorf("%w: train_fraction must be in (0,1), got %v", ErrInvalid, c.TrainFraction)
	case c.ImageSize <= 0:
		return fmt.Errorf("%w: image_size must be positive, got %d", ErrInvalid, c.ImageSize)
	}
	if err := c.Architecture.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// OutputPath joins name onto the output directory.
func (c Config) OutputPath(name string) string {
	return filepath.Join(c.OutputDir, name)
}

func (c Config) TrainingLogPath() string      { return c.OutputPath(results.TrainingLogFile) }
func (c Config) PredictionsPath() string      { return c.OutputPath(results.PredictionsFile) }
func (c Config) PredictionResultPath() string { return c.OutputPath(results.PredictionResultFile) }
func (c Config) ModelPath() string            { return c.OutputPath(results.ModelFile) }
func (c Config) ManifestPath() string         { return c.OutputPath(results.ManifestFile) }
func (c Config) RunsDir() string              { return c.OutputPath(results.RunsDir) }
