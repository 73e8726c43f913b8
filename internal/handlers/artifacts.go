package handlers

import (
	"errors"
	"io/fs"
	"net/http"

	"github.com/lehigh-university-libraries/trafficsign/internal/results"
)

// HandleStatus returns the training log written so far.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	entries, err := results.ReadTrainingLog(h.cfg.TrainingLogPath())
	if errors.Is(err, fs.ErrNotExist) {
		h.writeError(w, "Training log not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.writeError(w, "Failed to read training log: "+err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, entries)
}

// HandlePredictions returns the sample predictions of the last run.
func (h *Handler) HandlePredictions(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	records, err := results.ReadPredictions(h.cfg.PredictionsPath())
	if errors.Is(err, fs.ErrNotExist) {
		h.writeError(w, "Predictions not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.writeError(w, "Failed to read predictions: "+err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, records)
}
