package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "GTSRB/Training", cfg.DatasetDir)
	assert.Equal(t, 10, cfg.Epochs)
	assert.Equal(t, 5, cfg.SampleCount)
	assert.Equal(t, 32, cfg.Architecture.InputSize)
	assert.Equal(t, 43, cfg.Architecture.Classes)
	assert.Equal(t, filepath.Join(".", "training_log.json"), cfg.TrainingLogPath())
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trafficsign.yaml")
	content := `dataset_dir: /data/gtsrb
output_dir: /tmp/out
epochs: 3
batch_size: 8
architecture:
  conv1_filters: 8
  hidden: 32
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	t.Setenv("TRAFFICSIGN_EPOCHS", "7")
	t.Setenv("TRAFFICSIGN_SEED", "99")
	t.Setenv("TRAFFICSIGN_LEARNING_RATE", "0.01")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/gtsrb", cfg.DatasetDir)
	assert.Equal(t, 7, cfg.Epochs, "environment overrides the file")
	assert.Equal(t, 8, cfg.BatchSize)
	assert.Equal(t, uint64(99), cfg.Seed)
	assert.Equal(t, 0.01, cfg.LearningRate)
	assert.Equal(t, 8, cfg.Architecture.Conv1Filters)
	assert.Equal(t, 64, cfg.Architecture.Conv2Filters, "unset architecture fields keep defaults")
	assert.Equal(t, 32, cfg.Architecture.Hidden)
	assert.Equal(t, filepath.Join("/tmp/out", "model.json.zst"), cfg.ModelPath())
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"non numeric epochs", map[string]string{"TRAFFICSIGN_EPOCHS": "ten"}},
		{"zero epochs", map[string]string{"TRAFFICSIGN_EPOCHS": "0"}},
		{"negative seed", map[string]string{"TRAFFICSIGN_SEED": "-1"}},
		{"bad bool", map[string]string{"TRAFFICSIGN_FAIL_ON_DECODE_ERROR": "sometimes"}},
		{"image too small", map[string]string{"TRAFFICSIGN_IMAGE_SIZE": "8"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
