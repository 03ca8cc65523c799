// Package pipeline provides the client for the remote multi-agent strategy
// pipeline. It is a thin request/response wrapper; all sequencing lives in
// the workflow modules.
package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/aristath/botstudio/internal/clients/transport"
	"github.com/aristath/botstudio/internal/domain"
)

// ClarifyRequest asks the pipeline whether a query needs disambiguation
type ClarifyRequest struct {
	Query               string                    `json:"query"`
	ConversationHistory []domain.ConversationTurn `json:"conversation_history,omitempty"`
}

// ClarifyResponse is the pipeline's verdict on a query
type ClarifyResponse struct {
	NeedsClarification bool           `json:"needs_clarification"`
	EnrichedQuery      string         `json:"enriched_query"`
	Parameters         map[string]any `json:"parameters,omitempty"`
	Questions          []string       `json:"questions,omitempty"`
}

// StartRequest starts a created session
type StartRequest struct {
	Query      string         `json:"query"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Mode       string         `json:"mode,omitempty"`
}

// StatusResponse is one poll of a session
type StatusResponse struct {
	Status      domain.SessionStatus   `json:"status"`
	CurrentStep string                 `json:"current_step,omitempty"`
	Message     string                 `json:"message,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Result      *domain.WorkflowResult `json:"result,omitempty"`
	BotID       string                 `json:"bot_id,omitempty"`
}

// FailureMessage returns the server-provided failure text, if any
func (s *StatusResponse) FailureMessage() string {
	if s.Error != "" {
		return s.Error
	}
	return s.Message
}

// RefineRequest carries a complete result back for another pass
type RefineRequest struct {
	SessionID     string                `json:"session_id"`
	CurrentResult domain.WorkflowResult `json:"current_result"`
	Instructions  string                `json:"instructions"`
}

// RefineResponse is the synchronous answer to a refinement
type RefineResponse struct {
	Strategy        domain.Strategy `json:"strategy"`
	GeneratedCode   string          `json:"generated_code"`
	BacktestResults map[string]any  `json:"backtest_results,omitempty"`
	InsightsConfig  map[string]any  `json:"insights_config,omitempty"`
	FinalAnalysis   string          `json:"final_analysis,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

// Client is the remote pipeline client
type Client struct {
	http *transport.Client
	log  zerolog.Logger
}

// NewClient creates a new pipeline client
func NewClient(baseURL string, opts transport.Options, log zerolog.Logger) *Client {
	l := log.With().Str("client", "pipeline").Logger()
	return &Client{
		http: transport.New(baseURL, opts, l),
		log:  l,
	}
}

// Clarify asks whether the query must be disambiguated before execution
func (c *Client) Clarify(ctx context.Context, req ClarifyRequest) (*ClarifyResponse, error) {
	var resp ClarifyResponse
	if err := c.http.Do(ctx, "clarify", http.MethodPost, "/api/clarify", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateSession creates a new server-side session and returns its id
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	var resp createSessionResponse
	if err := c.http.Do(ctx, "create-session", http.MethodPost, "/api/sessions", struct{}{}, &resp); err != nil {
		return "", err
	}
	if resp.SessionID == "" {
		return "", &domain.RemoteFailureError{Op: "create-session", StatusCode: http.StatusOK, Detail: "no session id returned"}
	}
	return resp.SessionID, nil
}

// StartSession starts the pipeline for a created session
func (c *Client) StartSession(ctx context.Context, sessionID string, req StartRequest) error {
	path := fmt.Sprintf("/api/sessions/%s/start", url.PathEscape(sessionID))
	return c.http.Do(ctx, "start-session", http.MethodPost, path, req, nil)
}

// PollStatus fetches the current status of a session
func (c *Client) PollStatus(ctx context.Context, sessionID string) (*StatusResponse, error) {
	path := fmt.Sprintf("/api/sessions/%s/status", url.PathEscape(sessionID))
	var resp StatusResponse
	if err := c.http.Do(ctx, "poll-status", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Refine runs a synchronous refinement pass over a complete result
func (c *Client) Refine(ctx context.Context, req RefineRequest) (*RefineResponse, error) {
	var resp RefineResponse
	if err := c.http.Do(ctx, "refine", http.MethodPost, "/api/refine", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
