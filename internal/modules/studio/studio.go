// Package studio ties the workflow components of one dashboard together.
package studio

import (
	"context"
	"time"

	"github.com/aristath/botstudio/internal/auth"
	"github.com/aristath/botstudio/internal/domain"
	"github.com/aristath/botstudio/internal/events"
	"github.com/aristath/botstudio/internal/modules/clarification"
	"github.com/aristath/botstudio/internal/modules/community"
	"github.com/aristath/botstudio/internal/modules/persistence"
	"github.com/aristath/botstudio/internal/modules/refinement"
	"github.com/aristath/botstudio/internal/modules/workflow"
	"github.com/rs/zerolog"
)

// PipelineAPI is everything the studio needs from the pipeline service
type PipelineAPI interface {
	workflow.PipelineClient
	clarification.Clarifier
	refinement.Refiner
}

// DashboardAPI is everything the studio needs from the dashboard backend
type DashboardAPI interface {
	persistence.BotStore
	community.Backend
}

// Deps are the collaborators of a Studio
type Deps struct {
	Pipeline     PipelineAPI
	Dashboard    DashboardAPI
	Gate         auth.Gate
	Cache        community.Cache // Optional
	Events       *events.Manager
	NamePrompter persistence.NamePrompter // Optional
}

// Options holds the timing knobs
type Options struct {
	PollInterval  time.Duration
	PollTimeout   time.Duration
	AutoSaveDelay time.Duration
	Mode          string
}

// Studio owns one orchestrator and the controllers around it. Every new run
// of the orchestrator starts a new logical strategy with no persisted id.
type Studio struct {
	Clarification *clarification.Controller
	Workflow      *workflow.Orchestrator
	Refinement    *refinement.Controller
	Persistence   *persistence.Reconciler
	Community     *community.Service

	log zerolog.Logger
}

// New builds a studio
func New(deps Deps, opts Options, log zerolog.Logger) *Studio {
	s := &Studio{
		log: log.With().Str("component", "studio").Logger(),
	}

	s.Persistence = persistence.NewReconciler(deps.Dashboard, deps.Gate, deps.NamePrompter, deps.Events, log)
	s.Workflow = workflow.NewOrchestrator(deps.Pipeline, s.Persistence, deps.Gate, deps.Events, workflow.Options{
		PollInterval: opts.PollInterval,
		PollTimeout:  opts.PollTimeout,
		DefaultMode:  opts.Mode,
		OnNewRun:     s.Persistence.Reset,
	}, log)
	s.Clarification = clarification.NewController(deps.Pipeline, s, deps.Gate, deps.Events, log)
	s.Refinement = refinement.NewController(deps.Pipeline, s.Workflow, s, deps.Gate, deps.Events, opts.AutoSaveDelay, log)
	s.Community = community.NewService(deps.Dashboard, deps.Cache, deps.Gate, deps.Events, log)

	return s
}

// StartWorkflow begins a new logical strategy. The orchestrator drops the
// persisted identity of the previous strategy once its poll loop is gone.
func (s *Studio) StartWorkflow(ctx context.Context, req workflow.Request) error {
	return s.Workflow.Start(ctx, req)
}

// SaveCurrent saves the current result as a bot. An empty name asks the
// name prompter on manual saves and picks a default on auto saves.
func (s *Studio) SaveCurrent(ctx context.Context, name, description string, auto bool) (*persistence.SaveResult, error) {
	result := s.Workflow.Result()
	if result == nil {
		return nil, domain.NewInvalidInput("result", "no completed workflow to save")
	}
	bot := domain.BotFromResult(result, name, description, s.Workflow.SessionID())
	return s.Persistence.Save(ctx, bot, persistence.SaveOptions{Auto: auto})
}

// AutoSave saves the current result without user interaction
func (s *Studio) AutoSave(ctx context.Context) error {
	_, err := s.SaveCurrent(ctx, "", "", true)
	return err
}

// Summary projects the iteration history of the current result
func (s *Studio) Summary() workflow.Summary {
	return workflow.Summarize(s.Workflow.Result())
}

// Reset abandons everything in progress
func (s *Studio) Reset() {
	s.Clarification.Cancel()
	s.Workflow.Reset()
	s.Persistence.Reset()
	s.log.Info().Msg("Studio reset")
}

// Close stops background work
func (s *Studio) Close() {
	s.Refinement.Close()
	s.Workflow.Close()
}
