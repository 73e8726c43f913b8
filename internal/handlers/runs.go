package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/lehigh-university-libraries/trafficsign/internal/storage"
)

// HandleTrain starts a training run in the background. Only one run may be
// active at a time.
func (h *Handler) HandleTrain(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	run, err := h.runStore.Start()
	if errors.Is(err, storage.ErrTrainingInProgress) {
		active, _ := h.runStore.Active()
		slog.Warn("Training already in progress", "run_id", active.ID)
		h.writeJSONCode(w, http.StatusConflict, map[string]any{
			"error":  "Training already in progress",
			"run_id": active.ID,
			"status": active.Status,
		})
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		res, err := h.train(run.ID)
		if err != nil {
			slog.Error("Training run failed", "run_id", run.ID, "error", err)
			h.runStore.Finish(run.ID, "", 0, err)
			return
		}
		slog.Info(res.Message, "run_id", run.ID)
		h.runStore.Finish(run.ID, res.Message, res.Evaluation.Accuracy, nil)
	}()

	response := map[string]any{
		"run_id":  run.ID,
		"status":  run.Status,
		"message": "Training started",
	}
	h.writeJSONCode(w, http.StatusAccepted, response)
}

func (h *Handler) HandleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		h.writeJSON(w, h.runStore.GetAll())
	default:
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) HandleRunDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	runID := strings.TrimPrefix(r.URL.Path, "/runs/")
	run, exists := h.runStore.Get(runID)
	if !exists {
		h.writeError(w, "Run not found", http.StatusNotFound)
		return
	}
	h.writeJSON(w, run)
}
