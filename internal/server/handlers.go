package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/aristath/botstudio/internal/domain"
	"github.com/aristath/botstudio/internal/modules/refinement"
)

// handleHealth reports the status of the local stores
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.health))
	for _, h := range s.health {
		if err := h.QuickCheck(ctx); err != nil {
			checks[h.Name()] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[h.Name()] = "ok"
	}

	response := map[string]interface{}{
		"status":  "healthy",
		"service": "botstudio",
		"checks":  checks,
	}
	if status != http.StatusOK {
		response["status"] = "degraded"
	}
	s.writeJSON(w, status, response)
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError maps the error taxonomy onto HTTP status codes
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Int("status", status).Msg("Request failed")
	}
	s.writeJSON(w, status, map[string]string{
		"error":  domain.UserMessage(err, err.Error()),
		"detail": err.Error(),
	})
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAuthExpired), errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, refinement.ErrResultChanged):
		return http.StatusConflict
	case errors.Is(err, domain.ErrSaveAborted):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrTransport), errors.Is(err, domain.ErrRemoteFailure):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a request body into dst
func decodeJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domain.NewInvalidInput("body", err.Error())
	}
	return nil
}
