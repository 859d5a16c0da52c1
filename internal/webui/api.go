package webui

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/mjpeg-studio/studio/internal/logging"
	"github.com/mjpeg-studio/studio/internal/session"
	"github.com/mjpeg-studio/studio/internal/status"
)

type captureRequest struct {
	URL     string `json:"url"`
	Seconds int    `json:"seconds"`
}

type statusResponse struct {
	Recording        bool           `json:"recording"`
	RemainingSeconds int            `json:"remainingSeconds,omitempty"`
	Status           status.Message `json:"status"`
	OutputDir        string         `json:"outputDir"`
}

func handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:    status.Last(),
		OutputDir: manager.Dir(),
	}
	if rec, ok := controller.Current(); ok {
		resp.Recording = true
		resp.RemainingSeconds = rec.Remaining(time.Now())
	}
	writeJSON(w, http.StatusOK, resp)
}

func handleMediaList(w http.ResponseWriter, r *http.Request) {
	items, err := manager.List()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func handleSnapshot(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCaptureRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if err := controller.Snapshot(resolveURL(req.URL)); err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func handleRecord(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCaptureRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	rec, err := controller.StartRecording(resolveURL(req.URL), req.Seconds)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":      rec.ID,
		"seconds": rec.Seconds,
	})
}

func handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := controller.CancelRecording(); err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

// decodeCaptureRequest parses the request body; an empty body stands for
// "all defaults".
func decodeCaptureRequest(r *http.Request) (captureRequest, error) {
	var req captureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return captureRequest{}, err
	}
	return req, nil
}

// resolveURL falls back to the most recently used library entry when the
// request names no stream.
func resolveURL(raw string) string {
	if raw != "" {
		return raw
	}
	if entry, ok := library.MostRecent(); ok {
		return entry.URL
	}
	return ""
}

// writeAPIError maps controller errors onto HTTP status codes.
func writeAPIError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrInvalidURL), errors.Is(err, session.ErrInvalidDuration):
		code = http.StatusBadRequest
	case errors.Is(err, session.ErrAlreadyRecording),
		errors.Is(err, session.ErrCaptureBusy),
		errors.Is(err, session.ErrNoActiveRecording):
		code = http.StatusConflict
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.ErrorLogger.Printf("Failed to encode response: %v", err)
	}
}
