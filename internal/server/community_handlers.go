package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleCommunityList(w http.ResponseWriter, r *http.Request) {
	listing, err := s.studio.Community.Listing(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, listing)
}

// handleToggleLike answers with the item as it stands after the toggle, or
// after the revert when the backend refused it
func (s *Server) handleToggleLike(w http.ResponseWriter, r *http.Request) {
	item, err := s.studio.Community.ToggleLike(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleRecordDownload(w http.ResponseWriter, r *http.Request) {
	if err := s.studio.Community.RecordDownload(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
