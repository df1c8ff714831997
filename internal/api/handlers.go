// Package api provides the session and catalog endpoint handlers.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/carebridge/clinicflow/internal/models"
)

// startSessionHandler handles POST /sessions.
func (s *Server) startSessionHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("startSessionHandler invoked", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	var req models.StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("startSessionHandler invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	id, err := s.orchestrator.StartSession(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrMissingFields):
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		case errors.Is(err, models.ErrSessionExists):
			writeJSONResponse(w, http.StatusConflict, models.Error(err.Error()))
		case errors.Is(err, models.ErrRetrieverInit):
			writeJSONResponse(w, http.StatusInternalServerError, models.Error(err.Error()))
		default:
			slog.Error("startSessionHandler failed", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to start session"))
		}
		return
	}

	writeJSONResponse(w, http.StatusCreated, models.Success(models.StartSessionResult{SessionID: id}))
}

// sendMessageHandler handles POST /messages.
func (s *Server) sendMessageHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("sendMessageHandler invoked", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	var req models.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("sendMessageHandler invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	result, err := s.orchestrator.SendMessage(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrMissingFields):
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		case errors.Is(err, models.ErrSessionNotFound):
			writeJSONResponse(w, http.StatusNotFound, models.Error(err.Error()))
		case errors.Is(err, models.ErrSessionExpired):
			writeJSONResponse(w, http.StatusGone, models.Error(err.Error()))
		case errors.Is(err, models.ErrGenerationFailed):
			// Retryable: the turn committed nothing, the session is intact.
			writeJSONResponse(w, http.StatusBadGateway, models.Error(err.Error()))
		default:
			slog.Error("sendMessageHandler failed", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
		}
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

// upsertScriptHandler handles PUT /scripts: the prompt catalog admin surface.
func (s *Server) upsertScriptHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("upsertScriptHandler invoked", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPut {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	var req models.UpsertScriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("upsertScriptHandler invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("upsertScriptHandler validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	if err := s.st.SaveScript(models.Script{Key: req.Key, Body: req.Body}); err != nil {
		slog.Error("upsertScriptHandler save failed", "error", err, "key", req.Key)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save script"))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Script saved", nil))
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"state": "healthy"}))
}
