// Package refinement runs a single synchronous improvement pass over a
// completed workflow result.
package refinement

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/aristath/botstudio/internal/clients/pipeline"
	"github.com/aristath/botstudio/internal/domain"
	"github.com/aristath/botstudio/internal/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const moduleName = "refinement"

// ErrResultChanged is returned when the result was replaced (by a new
// workflow or a reset) while the refinement was in flight
var ErrResultChanged = errors.New("result changed during refinement")

// Refiner is the remote refine call
type Refiner interface {
	Refine(ctx context.Context, req pipeline.RefineRequest) (*pipeline.RefineResponse, error)
}

// ResultStore holds the current workflow result
type ResultStore interface {
	Result() *domain.WorkflowResult
	InstallResult(prev, next *domain.WorkflowResult) bool
}

// AutoSaver persists the current result without user interaction
type AutoSaver interface {
	AutoSave(ctx context.Context) error
}

// ExpiryNotifier is told when the refine call reported expired credentials
type ExpiryNotifier interface {
	NotifyExpired()
}

// Outcome is the result of a successful refinement
type Outcome struct {
	CorrelationID string                 `json:"correlation_id"`
	Result        *domain.WorkflowResult `json:"result"`
	Analysis      string                 `json:"analysis,omitempty"`
}

// Controller runs refinements one at a time and schedules the follow-up
// auto-save of each successful one.
type Controller struct {
	refiner Refiner
	results ResultStore
	saver   AutoSaver
	expiry  ExpiryNotifier
	events  *events.Manager
	delay   time.Duration
	log     zerolog.Logger
	newID   func() string

	refineMu sync.Mutex

	mu         sync.Mutex
	timers     map[*time.Timer]struct{}
	closed     bool
	pending    sync.WaitGroup
	saveCtx    context.Context
	saveCancel context.CancelFunc
}

// NewController creates a controller. saver and expiry may be nil.
func NewController(
	refiner Refiner,
	results ResultStore,
	saver AutoSaver,
	expiry ExpiryNotifier,
	eventManager *events.Manager,
	autoSaveDelay time.Duration,
	log zerolog.Logger,
) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		refiner:    refiner,
		results:    results,
		saver:      saver,
		expiry:     expiry,
		events:     eventManager,
		delay:      autoSaveDelay,
		newID:      uuid.NewString,
		timers:     make(map[*time.Timer]struct{}),
		saveCtx:    ctx,
		saveCancel: cancel,
		log:        log.With().Str("component", "refinement").Logger(),
	}
}

// Refine sends the current result back to the pipeline with instructions.
// On failure the current result is left as it was.
func (c *Controller) Refine(ctx context.Context, instructions string) (*Outcome, error) {
	instructions = strings.TrimSpace(instructions)
	if instructions == "" {
		return nil, domain.NewInvalidInput("instructions", "must not be empty")
	}

	c.refineMu.Lock()
	defer c.refineMu.Unlock()

	prev := c.results.Result()
	if prev == nil {
		return nil, domain.NewInvalidInput("result", "no completed workflow to refine")
	}

	correlationID := c.newID()
	c.log.Info().Str("correlation_id", correlationID).Msg("Refining strategy")

	resp, err := c.refiner.Refine(ctx, pipeline.RefineRequest{
		SessionID:     correlationID,
		CurrentResult: *prev,
		Instructions:  instructions,
	})
	if err != nil {
		if domain.IsAuthExpired(err) {
			if c.expiry != nil {
				c.expiry.NotifyExpired()
			}
			c.events.EmitTyped(moduleName, &events.AuthExpiredData{Operation: "refine"})
		}
		c.log.Error().Err(err).Str("correlation_id", correlationID).Msg("Refinement failed")
		return nil, err
	}

	next := applyRefinement(prev, resp)
	if !c.results.InstallResult(prev, next) {
		c.log.Warn().Str("correlation_id", correlationID).Msg("Discarding refinement of a replaced result")
		return nil, ErrResultChanged
	}

	c.events.EmitTyped(moduleName, &events.RefinementCompletedData{
		CorrelationID: correlationID,
		Analysis:      resp.FinalAnalysis,
	})
	c.scheduleAutoSave()

	return &Outcome{
		CorrelationID: correlationID,
		Result:        next,
		Analysis:      resp.FinalAnalysis,
	}, nil
}

// applyRefinement builds the refined result. The four refined fields are
// replaced together and the analysis history is carried forward. Entries the
// history already holds are not appended again, so a server that echoes the
// previous analysis back does not duplicate it.
func applyRefinement(prev *domain.WorkflowResult, resp *pipeline.RefineResponse) *domain.WorkflowResult {
	next := prev.Clone()
	history := next.Strategy.Analysis

	refined := (&domain.WorkflowResult{Strategy: resp.Strategy}).Clone().Strategy
	next.Strategy = refined
	next.Strategy.Analysis = appendAnalysis(history, append(refined.Analysis, resp.FinalAnalysis)...)

	next.GeneratedCode = resp.GeneratedCode
	next.BacktestResults = resp.BacktestResults
	next.InsightsConfig = resp.InsightsConfig
	return next
}

func appendAnalysis(history []string, entries ...string) []string {
	seen := make(map[string]bool, len(history)+len(entries))
	for _, a := range history {
		seen[a] = true
	}
	for _, a := range entries {
		a = strings.TrimSpace(a)
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		history = append(history, a)
	}
	return history
}

func (c *Controller) scheduleAutoSave() {
	if c.saver == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	c.pending.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(c.delay, func() {
		defer c.pending.Done()

		c.mu.Lock()
		delete(c.timers, timer)
		ctx := c.saveCtx
		c.mu.Unlock()

		if err := c.saver.AutoSave(ctx); err != nil {
			c.log.Warn().Err(err).Msg("Auto-save after refinement failed")
		}
	})
	c.timers[timer] = struct{}{}
}

// Wait blocks until every scheduled auto-save has run
func (c *Controller) Wait() {
	c.pending.Wait()
}

// Close cancels auto-saves that have not fired yet and waits for running ones
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	for t := range c.timers {
		if t.Stop() {
			c.pending.Done()
		}
	}
	c.timers = make(map[*time.Timer]struct{})
	c.saveCancel()
	c.mu.Unlock()

	c.pending.Wait()
}
