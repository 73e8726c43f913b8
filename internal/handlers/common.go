package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/lehigh-university-libraries/trafficsign/internal/config"
	"github.com/lehigh-university-libraries/trafficsign/internal/inference"
	"github.com/lehigh-university-libraries/trafficsign/internal/metrics"
	"github.com/lehigh-university-libraries/trafficsign/internal/storage"
	"github.com/lehigh-university-libraries/trafficsign/internal/training"
)

// maxUploadSize bounds images posted to /predict.
const maxUploadSize = 10 * 1024 * 1024

type Handler struct {
	cfg       config.Config
	runStore  *storage.RunStore
	predictor *inference.Predictor
	metrics   *metrics.Metrics
	train     func(runID string) (*training.Result, error)
	wg        sync.WaitGroup
}

func New(cfg config.Config, m *metrics.Metrics) *Handler {
	if m == nil {
		m = metrics.New()
	}
	return &Handler{
		cfg:       cfg,
		runStore:  storage.New(),
		predictor: inference.New(cfg, inference.WithMetrics(m)),
		metrics:   m,
		train: func(runID string) (*training.Result, error) {
			return training.New(cfg, training.WithMetrics(m), training.WithRunID(runID)).Train()
		},
	}
}

// Routes registers every endpoint on a new mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/train", h.HandleTrain)
	mux.HandleFunc("/status", h.HandleStatus)
	mux.HandleFunc("/predictions", h.HandlePredictions)
	mux.HandleFunc("/predict", h.HandlePredict)
	mux.HandleFunc("/runs", h.HandleRuns)
	mux.HandleFunc("/runs/", h.HandleRunDetail)
	mux.Handle("/metrics", h.metrics.Handler())
	mux.HandleFunc("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			slog.Error("Unable to write healthcheck", "err", err)
		}
	})
	return mux
}

// Wait blocks until background training runs have finished.
func (h *Handler) Wait() {
	if run, ok := h.runStore.Active(); ok {
		slog.Info("Waiting for training run to finish", "run_id", run.ID)
	}
	h.wg.Wait()
}

// Response helpers
func (h *Handler) writeJSON(w http.ResponseWriter, data interface{}) {
	h.writeJSONCode(w, http.StatusOK, data)
}

func (h *Handler) writeJSONCode(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Unable to encode JSON response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, message string, code int) {
	if code >= http.StatusInternalServerError {
		slog.Error(message)
	} else {
		slog.Warn(message)
	}
	h.writeJSONCode(w, code, map[string]string{"error": message})
}
