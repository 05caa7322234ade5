package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/persondata/internal/entities"
	"github.com/raaihank/persondata/internal/errs"
	"github.com/raaihank/persondata/internal/logger"
	"github.com/raaihank/persondata/internal/patterns"
	"github.com/raaihank/persondata/internal/redact"
)

type textRequest struct {
	Text string `json:"text"`
}

type anonymizeResponse struct {
	Text           string   `json:"text"`
	DetectedTypes  []string `json:"detected_types"`
	Mode           string   `json:"mode"`
	FallbackReason string   `json:"fallback_reason,omitempty"`
}

type detectResponse struct {
	DetectedTypes []string `json:"detected_types"`
}

type labelInfo struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Token string `json:"token"`
}

type labelsResponse struct {
	Patterns []labelInfo `json:"patterns"`
	Entities []labelInfo `json:"entities"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

// handleAnonymize redacts the posted text
func (s *Server) handleAnonymize(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeText(w, r)
	if !ok {
		return
	}

	res, err := s.service.AnonymizeResult(r.Context(), req.Text)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, anonymizeResponse{
		Text:           res.Text,
		DetectedTypes:  res.DetectedLabels,
		Mode:           res.Mode,
		FallbackReason: res.FallbackReason,
	})
}

// handleDetect lists the categories found in the posted text. Blank text has
// none.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeText(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, detectResponse{
		DetectedTypes: s.service.DetectedTypes(r.Context(), req.Text),
	})
}

// handleLabels lists every category the service can report
func (s *Server) handleLabels(w http.ResponseWriter, r *http.Request) {
	rules := s.service.Rules()
	resp := labelsResponse{
		Patterns: make([]labelInfo, 0, rules.Len()),
		Entities: make([]labelInfo, 0, 3),
	}
	for _, rule := range rules.Rules() {
		resp.Patterns = append(resp.Patterns, labelInfo{
			ID:    rule.ID,
			Label: patterns.DisplayLabel(rule.ID),
			Token: rule.Replacement,
		})
	}
	if s.service.NEREnabled() {
		for _, label := range []string{entities.LabelPerson, entities.LabelLocation, entities.LabelOrganization} {
			resp.Entities = append(resp.Entities, labelInfo{
				ID:    label,
				Label: patterns.DisplayLabel(label),
				Token: redact.Placeholder(label),
			})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleInfo reports version, model state and counters
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"name":        "persondata",
		"version":     Version,
		"uptime":      time.Since(s.started).Round(time.Second).String(),
		"ner_enabled": s.service.NEREnabled(),
		"rules":       s.service.Rules().IDs(),
		"service":     s.service.Stats(),
	}
	if s.model != nil {
		info["model"] = s.model.Stats()
	}
	if s.wsHub != nil {
		info["websocket"] = s.wsHub.GetStats()
	}
	writeJSON(w, http.StatusOK, info)
}

// decodeText reads a {"text": ...} body, answering 400 or 413 on failure.
func (s *Server) decodeText(w http.ResponseWriter, r *http.Request) (textRequest, bool) {
	var req textRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
			return req, false
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "request body must be JSON with a text field")
		return req, false
	}
	return req, true
}

// writeServiceError maps service errors to HTTP status codes
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var e *errs.Error
	switch {
	case errors.Is(err, errs.ErrEmptyInput):
		e = errs.ErrEmptyInput
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: errorBody{Type: e.Type, Message: e.Message, Code: e.Code}})
	case errors.As(err, &e):
		s.logger.Error("Request failed",
			zap.String("request_id", logger.RequestIDFromContext(r.Context())),
			zap.String("type", e.Type),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: errorBody{Type: e.Type, Message: e.Message, Code: e.Code}})
	default:
		s.logger.Error("Request failed",
			zap.String("request_id", logger.RequestIDFromContext(r.Context())),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorResponse{Error: errorBody{Type: kind, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
