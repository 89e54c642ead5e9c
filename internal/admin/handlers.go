package admin

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/goodtune/shibasync/internal/scheduler"
	"github.com/goodtune/shibasync/internal/storage"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      int       `json:"code"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusResponse is the body of GET /api/sync-status.
type StatusResponse struct {
	scheduler.Status
	Timestamp time.Time `json:"timestamp"`
}

// HistoryResponse is the body of GET /api/sync/history.
type HistoryResponse struct {
	Runs  []storage.Run `json:"runs"`
	Count int           `json:"count"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: s.now().UTC(),
	})
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, StatusResponse{
		Status:    s.syncer.Status(),
		Timestamp: s.now().UTC(),
	})
}

func (s *Server) handleSyncTrigger(w http.ResponseWriter, r *http.Request) {
	summary, err := s.syncer.Trigger(r.Context())
	switch {
	case errors.Is(err, scheduler.ErrBusy):
		s.writeError(w, http.StatusConflict, "Sync already running")
		return
	case err != nil:
		s.logger.Error().Err(err).Msg("Manual sync failed")
		s.writeError(w, http.StatusInternalServerError, "Failed to sync games: "+err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, summary)
}

func (s *Server) handleSyncHistory(w http.ResponseWriter, r *http.Request) {
	limit := DefaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	runs := []storage.Run{}
	if s.runs != nil {
		list, err := s.runs.List(r.Context(), limit)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to list sync runs")
			s.writeError(w, http.StatusInternalServerError, "Failed to load sync history")
			return
		}
		if list != nil {
			runs = list
		}
	}

	WriteJSON(w, http.StatusOK, HistoryResponse{Runs: runs, Count: len(runs)})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, http.StatusNotFound, "Route not found: "+r.URL.Path)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	WriteJSON(w, statusCode, ErrorResponse{
		Error:     http.StatusText(statusCode),
		Message:   message,
		Code:      statusCode,
		Timestamp: s.now().UTC(),
	})
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}
