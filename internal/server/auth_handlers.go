package server

import (
	"net/http"
	"strings"

	"github.com/aristath/botstudio/internal/domain"
	"github.com/aristath/botstudio/internal/events"
)

type tokenRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]bool{
		"authenticated": s.credentials.Authenticated(),
	})
}

// handleSetToken installs a fresh token after the previous one expired
func (s *Server) handleSetToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		s.writeError(w, domain.NewInvalidInput("token", "must not be empty"))
		return
	}

	s.credentials.SetToken(token)
	s.log.Info().Msg("API token replaced")
	if s.bus != nil {
		s.bus.Emit(events.CredentialsUpdated, "auth", &events.CredentialsUpdatedData{})
	}
	w.WriteHeader(http.StatusNoContent)
}
