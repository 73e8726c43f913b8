package handlers

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/lehigh-university-libraries/trafficsign/internal/inference"
)

// HandlePredict classifies an image posted as multipart field "file".
func (h *Handler) HandlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Leave room for the multipart envelope around the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+1<<20)
	file, header, err := r.FormFile("file")
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		h.writeError(w, "File too large (max 10MB)", http.StatusRequestEntityTooLarge)
		return
	}
	if err != nil {
		h.writeError(w, "Failed to read file: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	fileData, err := io.ReadAll(io.LimitReader(file, maxUploadSize))
	if err != nil {
		h.writeError(w, "Failed to read file contents: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if len(fileData) >= maxUploadSize {
		h.writeError(w, "File too large (max 10MB)", http.StatusBadRequest)
		return
	}

	result, err := h.predictor.PredictReader(bytes.NewReader(fileData), header.Filename)
	switch {
	case errors.Is(err, inference.ErrModelNotFound):
		h.writeError(w, err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, inference.ErrInvalidImage):
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		h.writeError(w, "Prediction failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, result)
}
