package server

import (
	"net/http"

	"github.com/aristath/botstudio/internal/domain"
	"github.com/aristath/botstudio/internal/modules/clarification"
	"github.com/aristath/botstudio/internal/modules/workflow"
)

type clarifyRequest struct {
	Query   string                    `json:"query"`
	History []domain.ConversationTurn `json:"history,omitempty"`
	Mode    string                    `json:"mode,omitempty"`
}

type completeRequest struct {
	EnrichedQuery string         `json:"enriched_query"`
	Parameters    map[string]any `json:"parameters,omitempty"`
}

type startRequest struct {
	EnrichedQuery string         `json:"enriched_query"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	Mode          string         `json:"mode,omitempty"`
}

type refineRequest struct {
	Instructions string `json:"instructions"`
}

type saveRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type workflowStateResponse struct {
	workflow.Snapshot
	Result        *domain.WorkflowResult     `json:"result,omitempty"`
	Clarification *domain.ClarificationState `json:"clarification,omitempty"`
	BotID         string                     `json:"bot_id,omitempty"`
}

func (s *Server) handleWorkflowState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, workflowStateResponse{
		Snapshot:      s.studio.Workflow.Snapshot(),
		Result:        s.studio.Workflow.Result(),
		Clarification: s.studio.Clarification.Pending(),
		BotID:         s.studio.Persistence.ID(),
	})
}

func (s *Server) handleWorkflowSummary(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.studio.Summary())
}

func (s *Server) handleClarify(w http.ResponseWriter, r *http.Request) {
	var req clarifyRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	out, err := s.studio.Clarification.Submit(r.Context(), clarification.Input{
		Query:   req.Query,
		History: req.History,
		Mode:    req.Mode,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleClarifyComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.studio.Clarification.Complete(r.Context(), req.EnrichedQuery, req.Parameters); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, s.studio.Workflow.Snapshot())
}

func (s *Server) handleClarifyCancel(w http.ResponseWriter, r *http.Request) {
	s.studio.Clarification.Cancel()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWorkflowStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	err := s.studio.StartWorkflow(r.Context(), workflow.Request{
		EnrichedQuery: req.EnrichedQuery,
		Parameters:    req.Parameters,
		Mode:          req.Mode,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, s.studio.Workflow.Snapshot())
}

func (s *Server) handleWorkflowReset(w http.ResponseWriter, r *http.Request) {
	s.studio.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefine(w http.ResponseWriter, r *http.Request) {
	var req refineRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	out, err := s.studio.Refinement.Refine(r.Context(), req.Instructions)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSaveBot(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	res, err := s.studio.SaveCurrent(r.Context(), req.Name, req.Description, false)
	if err != nil {
		s.writeError(w, err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, res)
}
