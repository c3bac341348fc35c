package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"tab-relay/internal/models"
	"tab-relay/internal/orchestrator"
	"tab-relay/internal/store"
)

const maxActionBody = 4 << 20

type server struct {
	ctrl    orchestrator.Controller
	metrics *orchestrator.Metrics
	log     *logrus.Entry
}

func newServer(ctrl orchestrator.Controller, metrics *orchestrator.Metrics, log *logrus.Entry) *server {
	return &server{ctrl: ctrl, metrics: metrics, log: log}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/actions", s.handleAction)
	mux.HandleFunc("/sessions/", s.handleSessionStatus)
	mux.HandleFunc("/metrics", s.handleMetrics)
	return mux
}

// handleAction dispatches a control message on its action field. Page agents post their
// results here from the profile origin, so the endpoint answers CORS preflights.
//
// Method: POST
// Path:   /actions
// Example:
//
//	curl -X POST localhost:8080/actions -d '{"action":"startSearch","sessionId":"s1","urls":["https://www.linkedin.com/in/x"]}'
func (s *server) handleAction(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxActionBody))
	if err != nil {
		writeJSON(w, models.ActionResponse{Error: "failed to read body"}, http.StatusBadRequest)
		return
	}
	var envelope models.ActionRequest
	if err := json.Unmarshal(body, &envelope); err != nil {
		writeJSON(w, models.ActionResponse{Error: "invalid JSON"}, http.StatusBadRequest)
		return
	}

	log := s.log.WithField("action", envelope.Action)
	switch envelope.Action {
	case models.ActionPing:
		writeJSON(w, s.ctrl.Ping(), http.StatusOK)

	case models.ActionKeepAlive:
		writeJSON(w, models.ActionResponse{Success: true, Message: "alive"}, http.StatusOK)

	case models.ActionStartSearch:
		var req models.StartSearchRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, models.ActionResponse{Error: "invalid JSON"}, http.StatusBadRequest)
			return
		}
		n, err := s.ctrl.StartSearch(r.Context(), req)
		switch {
		case errors.Is(err, orchestrator.ErrInvalidSearch):
			writeJSON(w, models.ActionResponse{Error: "Invalid search parameters"}, http.StatusBadRequest)
		case err != nil:
			log.WithError(err).Error("start search")
			writeJSON(w, models.ActionResponse{Error: "failed to start search"}, http.StatusInternalServerError)
		default:
			writeJSON(w, models.ActionResponse{
				Success: true,
				Message: fmt.Sprintf("Search started with %d URLs", n),
			}, http.StatusOK)
		}

	case models.ActionStopSearch:
		var req models.StopSearchRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, models.ActionResponse{Error: "invalid JSON"}, http.StatusBadRequest)
			return
		}
		err := s.ctrl.StopSearch(r.Context(), req.ID())
		switch {
		case errors.Is(err, store.ErrSessionNotFound):
			writeJSON(w, models.ActionResponse{Message: "Search not found"}, http.StatusOK)
		case err != nil:
			log.WithError(err).Error("stop search")
			writeJSON(w, models.ActionResponse{Error: "failed to stop search"}, http.StatusInternalServerError)
		default:
			writeJSON(w, models.ActionResponse{Success: true, Message: "Search stopped"}, http.StatusOK)
		}

	case models.ActionGetActiveSearches:
		ids, err := s.ctrl.ActiveSearches(r.Context())
		if err != nil {
			log.WithError(err).Error("list searches")
			writeJSON(w, models.ActionResponse{Error: "failed to list searches"}, http.StatusInternalServerError)
			return
		}
		writeJSON(w, models.ActiveSearchesResponse{Searches: ids}, http.StatusOK)

	case models.ActionExtractionComplete:
		var msg models.ExtractionComplete
		if err := json.Unmarshal(body, &msg); err != nil {
			writeJSON(w, models.ActionResponse{Error: "invalid JSON"}, http.StatusBadRequest)
			return
		}
		if err := s.ctrl.HandleExtractionComplete(r.Context(), msg); err != nil {
			log.WithError(err).Error("extraction result")
			writeJSON(w, models.ActionResponse{Error: "failed to record result"}, http.StatusInternalServerError)
			return
		}
		writeJSON(w, models.ActionResponse{Success: true, Message: "received"}, http.StatusOK)

	default:
		writeJSON(w, models.ActionResponse{Error: "Unknown action"}, http.StatusBadRequest)
	}
}

// handleSessionStatus returns the progress of a running session.
//
// Method: GET
// Path:   /sessions/{sessionID}
func (s *server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/sessions/"), "/")
	if sessionID == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	status, err := s.ctrl.Status(r.Context(), sessionID)
	if errors.Is(err, store.ErrSessionNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "failed to load session", http.StatusBadGateway)
		return
	}
	writeJSON(w, status, http.StatusOK)
}

// handleMetrics exposes orchestrator counters in Prometheus text format.
//
// Method: GET
// Path:   /metrics
func (s *server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	active := 0
	if ids, err := s.ctrl.ActiveSearches(r.Context()); err == nil {
		active = len(ids)
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	if err := s.metrics.WritePrometheus(w, active); err != nil {
		s.log.WithError(err).Warn("write metrics")
	}
}

func writeJSON(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}
