package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lehigh-university-libraries/trafficsign/internal/catalog"
	"github.com/lehigh-university-libraries/trafficsign/internal/classifier"
	"github.com/lehigh-university-libraries/trafficsign/internal/config"
	"github.com/lehigh-university-libraries/trafficsign/internal/dataset/datasettest"
	"github.com/lehigh-university-libraries/trafficsign/internal/inference"
	"github.com/lehigh-university-libraries/trafficsign/internal/results"
	"github.com/lehigh-university-libraries/trafficsign/internal/storage"
	"github.com/lehigh-university-libraries/trafficsign/internal/training"
)

type yieldClassifier struct{}

func (yieldClassifier) Fit([][]float32, []int, int, func(classifier.EpochMetrics)) (classifier.History, error) {
	return nil, nil
}

func (yieldClassifier) Evaluate([][]float32, []int) (classifier.Evaluation, error) {
	return classifier.Evaluation{}, nil
}

func (yieldClassifier) Predict(inputs [][]float32) ([][]float64, error) {
	out := make([][]float64, len(inputs))
	for i := range out {
		out[i] = make([]float64, catalog.NumClasses)
		out[i][13] = 0.8
		out[i][0] = 0.2
	}
	return out, nil
}

func (yieldClassifier) Save(io.Writer) error { return nil }

func newTestHandler(t *testing.T) (*Handler, http.Handler) {
	t.Helper()
	cfg := config.Default()
	cfg.OutputDir = t.TempDir()
	cfg.Normalize()
	h := New(cfg, nil)
	return h, h.Routes()
}

func do(t *testing.T, mux http.Handler, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestTrainAllowsOneRunAtATime(t *testing.T) {
	h, mux := newTestHandler(t)
	release := make(chan struct{})
	h.train = func(runID string) (*training.Result, error) {
		<-release
		return &training.Result{
			RunID:      runID,
			Message:    "Training completed successfully. Test accuracy: 0.9500",
			Evaluation: classifier.Evaluation{Accuracy: 0.95},
		}, nil
	}

	rec := do(t, mux, "POST", "/train", nil, "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	var started struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&started))
	require.NotEmpty(t, started.RunID)

	rec = do(t, mux, "POST", "/train", nil, "")
	require.Equal(t, http.StatusConflict, rec.Code)
	var conflict struct {
		RunID  string         `json:"run_id"`
		Status storage.Status `json:"status"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&conflict))
	assert.Equal(t, started.RunID, conflict.RunID)
	assert.Equal(t, storage.StatusRunning, conflict.Status)

	close(release)
	h.Wait()

	rec = do(t, mux, "GET", "/runs/"+started.RunID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var run storage.Run
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&run))
	assert.Equal(t, storage.StatusSucceeded, run.Status)
	assert.Equal(t, 0.95, run.TestAccuracy)

	rec = do(t, mux, "POST", "/train", nil, "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	h.Wait()
}

func TestTrainFailureIsRecorded(t *testing.T) {
	h, mux := newTestHandler(t)
	h.train = func(string) (*training.Result, error) {
		return nil, errors.New("no valid training data loaded")
	}

	rec := do(t, mux, "POST", "/train", nil, "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	h.Wait()

	rec = do(t, mux, "GET", "/runs", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []storage.Run
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&runs))
	require.Len(t, runs, 1)
	assert.Equal(t, storage.StatusFailed, runs[0].Status)
	assert.Equal(t, "no valid training data loaded", runs[0].Error)
}

func TestMethodsAndMissingRuns(t *testing.T) {
	_, mux := newTestHandler(t)

	tests := []struct {
		method, path string
		want         int
	}{
		{"GET", "/train", http.StatusMethodNotAllowed},
		{"POST", "/status", http.StatusMethodNotAllowed},
		{"GET", "/predict", http.StatusMethodNotAllowed},
		{"GET", "/runs/unknown", http.StatusNotFound},
		{"GET", "/status", http.StatusNotFound},
		{"GET", "/predictions", http.StatusNotFound},
		{"GET", "/healthcheck", http.StatusOK},
		{"GET", "/metrics", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := do(t, mux, tt.method, tt.path, nil, "")
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestStatusAndPredictions(t *testing.T) {
	h, mux := newTestHandler(t)
	require.NoError(t, results.WriteTrainingLog(h.cfg.TrainingLogPath(), []results.LogEntry{
		{Epoch: 1, Loss: 2.1, Accuracy: 0.4},
		{Epoch: 2, Loss: 1.3, Accuracy: 0.7},
	}))
	require.NoError(t, results.WritePredictions(h.cfg.PredictionsPath(), []results.PredictionRecord{
		{Image: "aGk=", TrueLabel: 3, PredLabel: 3},
	}))

	rec := do(t, mux, "GET", "/status", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var log []results.LogEntry
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&log))
	assert.Len(t, log, 2)

	rec = do(t, mux, "GET", "/predictions", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var records []results.PredictionRecord
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&records))
	require.Len(t, records, 1)
	assert.Equal(t, 3, records[0].PredLabel)
}

func multipartImage(t *testing.T, name string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func TestPredictUpload(t *testing.T) {
	h, mux := newTestHandler(t)

	path := filepath.Join(t.TempDir(), "sign.ppm")
	require.NoError(t, datasettest.WritePPM(path, 32, datasettest.Red))
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	body, contentType := multipartImage(t, "sign.ppm", data)
	rec := do(t, mux, "POST", "/predict", body, contentType)
	assert.Equal(t, http.StatusNotFound, rec.Code, "no model trained yet")

	require.NoError(t, os.WriteFile(h.cfg.ModelPath(), nil, 0644))
	h.predictor = inference.New(h.cfg, inference.WithLoader(func(string) (classifier.Classifier, error) {
		return yieldClassifier{}, nil
	}))

	body, contentType = multipartImage(t, "sign.ppm", data)
	rec = do(t, mux, "POST", "/predict", body, contentType)
	require.Equal(t, http.StatusOK, rec.Code)
	var result results.InferenceResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.Equal(t, "Yield", result.Meaning)
	assert.InDelta(t, 0.8, result.Confidence, 1e-12)

	body, contentType = multipartImage(t, "notes.txt", []byte("hello"))
	rec = do(t, mux, "POST", "/predict", body, contentType)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, mux, "POST", "/predict", strings.NewReader("x"), "text/plain")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPredictRejectsOversizedImages(t *testing.T) {
	h, mux := newTestHandler(t)
	require.NoError(t, os.WriteFile(h.cfg.ModelPath(), nil, 0644))
	h.predictor = inference.New(h.cfg, inference.WithLoader(func(string) (classifier.Classifier, error) {
		return yieldClassifier{}, nil
	}))

	header := append([]byte("P6\n8192 8192\n255\n"), 0, 0, 0)
	body, contentType := multipartImage(t, "huge.ppm", header)
	rec := do(t, mux, "POST", "/predict", body, contentType)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, contentType = multipartImage(t, "huge.ppm", bytes.Repeat([]byte{0}, maxUploadSize+2<<20))
	rec = do(t, mux, "POST", "/predict", body, contentType)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
