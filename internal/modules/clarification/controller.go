// Package clarification runs the optional question-and-answer step between a
// free-text query and the start of a workflow.
package clarification

import (
	"context"
	"strings"
	"sync"

	"github.com/aristath/botstudio/internal/clients/pipeline"
	"github.com/aristath/botstudio/internal/domain"
	"github.com/aristath/botstudio/internal/events"
	"github.com/aristath/botstudio/internal/modules/workflow"
	"github.com/rs/zerolog"
)

const moduleName = "clarification"

// Clarifier asks the pipeline whether a query is specific enough
type Clarifier interface {
	Clarify(ctx context.Context, req pipeline.ClarifyRequest) (*pipeline.ClarifyResponse, error)
}

// WorkflowStarter receives resolved queries
type WorkflowStarter interface {
	StartWorkflow(ctx context.Context, req workflow.Request) error
}

// ExpiryNotifier is told when the clarify call reported expired credentials
type ExpiryNotifier interface {
	NotifyExpired()
}

// Input is a query as typed by the user
type Input struct {
	Query   string
	History []domain.ConversationTurn
	Mode    string
}

// Outcome tells the caller which way Submit went
type Outcome struct {
	Started bool                       `json:"started"`
	Pending *domain.ClarificationState `json:"pending,omitempty"`
}

type pendingState struct {
	state domain.ClarificationState
	mode  string
}

// Controller owns the transient clarification state. At most one
// clarification is pending at a time.
type Controller struct {
	clarifier Clarifier
	starter   WorkflowStarter
	expiry    ExpiryNotifier
	events    *events.Manager
	log       zerolog.Logger

	mu      sync.Mutex
	pending *pendingState
	seq     uint64 // Latest Submit wins over an older in-flight one
}

// NewController creates a controller. expiry may be nil.
func NewController(clarifier Clarifier, starter WorkflowStarter, expiry ExpiryNotifier, eventManager *events.Manager, log zerolog.Logger) *Controller {
	return &Controller{
		clarifier: clarifier,
		starter:   starter,
		expiry:    expiry,
		events:    eventManager,
		log:       log.With().Str("component", "clarification").Logger(),
	}
}

// Submit sends the query for clarification. When the pipeline has questions
// the state is kept pending; otherwise the workflow is started right away.
func (c *Controller) Submit(ctx context.Context, in Input) (Outcome, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return Outcome{}, domain.NewInvalidInput("query", "must not be empty")
	}

	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.mu.Unlock()

	resp, err := c.clarifier.Clarify(ctx, pipeline.ClarifyRequest{
		Query:               query,
		ConversationHistory: in.History,
	})
	if err != nil {
		c.mu.Lock()
		if seq == c.seq {
			c.pending = nil
		}
		c.mu.Unlock()
		if domain.IsAuthExpired(err) && c.expiry != nil {
			c.expiry.NotifyExpired()
		}
		c.log.Error().Err(err).Msg("Clarification failed")
		return Outcome{}, err
	}

	if resp.NeedsClarification {
		state := domain.ClarificationState{
			OriginalQuery:      query,
			NeedsClarification: true,
			Parameters:         resp.Parameters,
			Questions:          append([]string(nil), resp.Questions...),
		}

		c.mu.Lock()
		if seq != c.seq {
			c.mu.Unlock()
			c.log.Debug().Msg("Discarding superseded clarification response")
			return Outcome{}, nil
		}
		c.pending = &pendingState{state: state, mode: in.Mode}
		c.mu.Unlock()

		c.events.EmitTyped(moduleName, &events.ClarificationRequestedData{
			OriginalQuery: query,
			Questions:     state.Questions,
		})
		out := state
		return Outcome{Pending: &out}, nil
	}

	enriched := strings.TrimSpace(resp.EnrichedQuery)
	if enriched == "" {
		enriched = query
	}

	c.mu.Lock()
	if seq != c.seq {
		c.mu.Unlock()
		return Outcome{}, nil
	}
	c.pending = nil
	c.mu.Unlock()

	if err := c.starter.StartWorkflow(ctx, workflow.Request{
		EnrichedQuery: enriched,
		Parameters:    resp.Parameters,
		Mode:          in.Mode,
	}); err != nil {
		return Outcome{}, err
	}
	return Outcome{Started: true}, nil
}

// Complete resolves the pending clarification with the answers merged into
// an enriched query and starts the workflow. A malformed completion keeps
// the clarification pending.
func (c *Controller) Complete(ctx context.Context, enrichedQuery string, parameters map[string]any) error {
	c.mu.Lock()
	p := c.pending
	if p == nil {
		c.mu.Unlock()
		return domain.NewInvalidInput("clarification", "nothing pending")
	}
	enriched := strings.TrimSpace(enrichedQuery)
	if enriched == "" {
		c.mu.Unlock()
		return domain.NewInvalidInput("enriched_query", "must not be empty")
	}
	c.pending = nil
	c.seq++
	c.mu.Unlock()

	if parameters == nil {
		parameters = p.state.Parameters
	}

	c.log.Info().Str("original_query", p.state.OriginalQuery).Msg("Clarification completed")
	return c.starter.StartWorkflow(ctx, workflow.Request{
		EnrichedQuery: enriched,
		Parameters:    parameters,
		Mode:          p.mode,
	})
}

// Cancel drops the pending clarification, if any
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = nil
	c.seq++
}

// Pending returns a copy of the pending clarification, or nil
func (c *Controller) Pending() *domain.ClarificationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return nil
	}
	out := c.pending.state
	out.Questions = append([]string(nil), out.Questions...)
	return &out
}
