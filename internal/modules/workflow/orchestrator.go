package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/aristath/botstudio/internal/clients/pipeline"
	"github.com/aristath/botstudio/internal/domain"
	"github.com/aristath/botstudio/internal/events"
	"github.com/rs/zerolog"
)

const (
	moduleName = "workflow"

	msgWorkflowFailed = "Workflow failed"
	msgSessionExpired = "Session expired. Please sign in again."
	msgNoResult       = "Workflow completed without a result"
)

// PipelineClient is the subset of the pipeline client the orchestrator drives
type PipelineClient interface {
	CreateSession(ctx context.Context) (string, error)
	StartSession(ctx context.Context, sessionID string, req pipeline.StartRequest) error
	PollStatus(ctx context.Context, sessionID string) (*pipeline.StatusResponse, error)
}

// IdentityRecorder receives the bot id the pipeline auto-persisted on completion
type IdentityRecorder interface {
	Remember(botID string)
}

// ExpiryNotifier is told when a remote call reported expired credentials
type ExpiryNotifier interface {
	NotifyExpired()
}

// Options configures an Orchestrator
type Options struct {
	PollInterval time.Duration
	PollTimeout  time.Duration
	DefaultMode  string

	// OnNewRun runs inside Start once the previous loop and its in-flight
	// polls have exited, before the new session is created
	OnNewRun func()
}

// Orchestrator owns the lifecycle of one pipeline run at a time.
//
// Polls are numbered per generation. A poll response is applied only when
// its generation is still current and its sequence number is greater than
// the last applied one, so out-of-order responses can never move the state
// backwards.
type Orchestrator struct {
	client   PipelineClient
	identity IdentityRecorder
	expiry   ExpiryNotifier
	events   *events.Manager
	log      zerolog.Logger
	opts     Options
	now      func() time.Time

	startMu sync.Mutex // Serialises Start and Reset

	mu         sync.Mutex
	state      State
	session    *domain.Session
	result     *domain.WorkflowResult
	message    string
	generation uint64
	issuedSeq  uint64
	appliedSeq uint64
	cancel     context.CancelFunc
	loopDone   chan struct{}
	terminal   chan struct{}
}

// NewOrchestrator creates an idle orchestrator. identity and expiry may be nil.
func NewOrchestrator(
	client PipelineClient,
	identity IdentityRecorder,
	expiry ExpiryNotifier,
	eventManager *events.Manager,
	opts Options,
	log zerolog.Logger,
) *Orchestrator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 30 * time.Second
	}
	return &Orchestrator{
		client:   client,
		identity: identity,
		expiry:   expiry,
		events:   eventManager,
		opts:     opts,
		now:      time.Now,
		state:    StateIdle,
		log:      log.With().Str("component", "workflow_orchestrator").Logger(),
	}
}

// Start creates a session, starts it and begins polling. Any run already in
// flight is stopped first. Start returns once the session is accepted (or
// rejected); completion is observed through Snapshot, Wait or events.
func (o *Orchestrator) Start(ctx context.Context, req Request) error {
	query := strings.TrimSpace(req.EnrichedQuery)
	if query == "" {
		return domain.NewInvalidInput("query", "must not be empty")
	}
	mode := req.Mode
	if mode == "" {
		mode = o.opts.DefaultMode
	}

	o.startMu.Lock()
	defer o.startMu.Unlock()

	o.stopLoop()
	if o.opts.OnNewRun != nil {
		o.opts.OnNewRun()
	}

	o.mu.Lock()
	o.generation++
	gen := o.generation
	oldState := o.state
	o.state = StateCreating
	o.session = nil
	o.result = nil
	o.message = ""
	o.issuedSeq, o.appliedSeq = 0, 0
	o.closeTerminalLocked()
	o.terminal = make(chan struct{})
	o.mu.Unlock()
	o.emitState("", oldState, StateCreating)

	sessionID, err := o.client.CreateSession(ctx)
	if err != nil {
		o.failStart(gen, "", err)
		return err
	}

	o.mu.Lock()
	o.session = &domain.Session{
		ID:          sessionID,
		Status:      domain.SessionPending,
		CurrentStep: domain.StepParsing,
		CreatedAt:   o.now(),
	}
	o.state = StateStarting
	o.mu.Unlock()
	o.emitState(sessionID, StateCreating, StateStarting)

	o.log.Info().Str("session_id", sessionID).Str("mode", mode).Msg("Starting workflow session")

	err = o.client.StartSession(ctx, sessionID, pipeline.StartRequest{
		Query:      query,
		Parameters: req.Parameters,
		Mode:       mode,
	})
	if err != nil {
		o.failStart(gen, sessionID, err)
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	o.mu.Lock()
	o.session.Status = domain.SessionRunning
	o.state = StatePolling
	o.cancel = cancel
	o.loopDone = done
	o.mu.Unlock()
	o.emitState(sessionID, StateStarting, StatePolling)

	go o.pollLoop(loopCtx, gen, sessionID, done)
	return nil
}

// failStart moves a run that never reached polling into its terminal state
func (o *Orchestrator) failStart(gen uint64, sessionID string, err error) {
	o.mu.Lock()
	if gen != o.generation {
		o.mu.Unlock()
		return
	}
	oldState := o.state
	newState, msg := classifyFailure(err)
	o.finishLocked(newState, msg)
	o.mu.Unlock()

	o.log.Error().Err(err).Str("session_id", sessionID).Msg("Workflow failed to start")
	o.afterFinish(sessionID, oldState, newState, msg, err)
}

// pollLoop ticks at a fixed interval and issues one poll per tick. Polls may
// overlap when the remote is slower than the interval.
func (o *Orchestrator) pollLoop(ctx context.Context, gen uint64, sessionID string, done chan struct{}) {
	defer close(done)

	var inflight sync.WaitGroup
	defer inflight.Wait()

	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seq, ok := o.nextPoll(gen)
			if !ok {
				return
			}
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				o.poll(ctx, gen, seq, sessionID)
			}()
		}
	}
}

// nextPoll allocates the next sequence number for gen
func (o *Orchestrator) nextPoll(gen uint64) (uint64, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.generation || o.state != StatePolling {
		return 0, false
	}
	o.issuedSeq++
	return o.issuedSeq, true
}

func (o *Orchestrator) poll(ctx context.Context, gen, seq uint64, sessionID string) {
	pollCtx, cancel := context.WithTimeout(ctx, o.opts.PollTimeout)
	defer cancel()

	resp, err := o.client.PollStatus(pollCtx, sessionID)
	if ctx.Err() != nil {
		// Loop stopped while the poll was in flight
		return
	}
	o.applyPoll(gen, seq, resp, err)
}

// applyPoll folds one poll outcome into the state machine
func (o *Orchestrator) applyPoll(gen, seq uint64, resp *pipeline.StatusResponse, err error) {
	o.mu.Lock()
	if gen != o.generation || o.state != StatePolling || seq <= o.appliedSeq {
		o.mu.Unlock()
		o.log.Debug().Uint64("seq", seq).Msg("Discarding stale poll response")
		return
	}
	o.appliedSeq = seq
	sessionID := o.session.ID

	if err != nil {
		newState, msg := classifyFailure(err)
		o.finishLocked(newState, msg)
		o.mu.Unlock()
		o.log.Error().Err(err).Str("session_id", sessionID).Msg("Status poll failed")
		o.afterFinish(sessionID, StatePolling, newState, msg, err)
		return
	}

	o.session.Status = resp.Status

	switch resp.Status {
	case domain.SessionComplete:
		if resp.Result == nil {
			o.finishLocked(StateFailed, msgNoResult)
			o.mu.Unlock()
			o.afterFinish(sessionID, StatePolling, StateFailed, msgNoResult, nil)
			return
		}
		o.result = resp.Result.Clone()
		o.session.CurrentStep = domain.StepComplete
		o.finishLocked(StateComplete, "")
		completed := &events.WorkflowCompletedData{
			SessionID:    sessionID,
			StrategyName: o.result.Strategy.Name,
			BotID:        resp.BotID,
			Iterations:   len(o.result.IterationHistory),
		}
		o.mu.Unlock()

		if resp.BotID != "" {
			if o.identity != nil {
				o.identity.Remember(resp.BotID)
			}
		} else {
			o.log.Warn().Str("session_id", sessionID).Msg("Completed workflow carried no bot id, first save will create")
		}
		o.log.Info().Str("session_id", sessionID).Str("strategy", completed.StrategyName).Msg("Workflow completed")
		o.emitState(sessionID, StatePolling, StateComplete)
		o.emit(completed)

	case domain.SessionError, domain.SessionNotFound:
		msg := resp.FailureMessage()
		if msg == "" {
			msg = msgWorkflowFailed
		}
		o.finishLocked(StateFailed, msg)
		o.mu.Unlock()
		o.afterFinish(sessionID, StatePolling, StateFailed, msg, nil)

	default:
		step, ok := MapStep(resp.CurrentStep)
		oldStep := o.session.CurrentStep
		changed := ok && step != oldStep
		if changed {
			o.session.CurrentStep = step
		}
		o.mu.Unlock()

		if !ok && resp.CurrentStep != "" {
			o.log.Debug().Str("remote_step", resp.CurrentStep).Msg("Unrecognised step, keeping current")
		}
		if changed {
			o.emit(&events.WorkflowStepChangedData{
				SessionID: sessionID,
				OldStep:   string(oldStep),
				NewStep:   string(step),
			})
		}
	}
}

// finishLocked enters a terminal state and stops the loop without waiting for it
func (o *Orchestrator) finishLocked(state State, msg string) {
	o.state = state
	o.message = msg
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.closeTerminalLocked()
}

func (o *Orchestrator) closeTerminalLocked() {
	if o.terminal == nil {
		return
	}
	select {
	case <-o.terminal:
	default:
		close(o.terminal)
	}
}

// afterFinish emits the events of a failed run and notifies the gate on expiry
func (o *Orchestrator) afterFinish(sessionID string, oldState, newState State, msg string, err error) {
	o.emitState(sessionID, oldState, newState)
	if newState == StateAuthExpired {
		if o.expiry != nil {
			o.expiry.NotifyExpired()
		}
		op := "workflow"
		var authErr *domain.AuthExpiredError
		if errors.As(err, &authErr) {
			op = authErr.Op
		}
		o.emit(&events.AuthExpiredData{Operation: op})
		return
	}
	o.emit(&events.WorkflowFailedData{SessionID: sessionID, Message: msg})
}

// stopLoop cancels the running poll loop and waits for it to exit. Polls
// still in flight are invalidated by bumping the generation first.
func (o *Orchestrator) stopLoop() {
	o.mu.Lock()
	o.generation++
	cancel, done := o.cancel, o.loopDone
	o.cancel, o.loopDone = nil, nil
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Reset stops any run in flight and returns to idle, dropping the session
// and the result.
func (o *Orchestrator) Reset() {
	o.startMu.Lock()
	defer o.startMu.Unlock()

	o.stopLoop()

	o.mu.Lock()
	oldState := o.state
	o.state = StateIdle
	o.session = nil
	o.result = nil
	o.message = ""
	o.closeTerminalLocked()
	o.mu.Unlock()

	if oldState != StateIdle {
		o.emitState("", oldState, StateIdle)
	}
}

// Close stops the poll loop without touching the observable state
func (o *Orchestrator) Close() {
	o.startMu.Lock()
	defer o.startMu.Unlock()
	o.stopLoop()
}

// Snapshot returns a copy of the current state
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:     o.state,
		Message:   o.message,
		HasResult: o.result != nil,
	}
	if o.session != nil {
		s := *o.session
		snap.Session = &s
	}
	return snap
}

// Result returns the installed result. The value is shared and must be
// treated as read-only.
func (o *Orchestrator) Result() *domain.WorkflowResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.result
}

// SessionID returns the id of the current session, if any
func (o *Orchestrator) SessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return ""
	}
	return o.session.ID
}

// InstallResult atomically replaces the result, but only if the installed
// result is still prev. It reports whether the swap happened.
func (o *Orchestrator) InstallResult(prev, next *domain.WorkflowResult) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.result == nil || o.result != prev || next == nil {
		return false
	}
	o.result = next
	return true
}

// Wait blocks until the current run reaches a terminal state or ctx ends
func (o *Orchestrator) Wait(ctx context.Context) (Snapshot, error) {
	o.mu.Lock()
	ch := o.terminal
	o.mu.Unlock()

	if ch == nil {
		return o.Snapshot(), nil
	}
	select {
	case <-ch:
		return o.Snapshot(), nil
	case <-ctx.Done():
		return o.Snapshot(), ctx.Err()
	}
}

func (o *Orchestrator) emitState(sessionID string, oldState, newState State) {
	o.emit(&events.WorkflowStateChangedData{
		SessionID: sessionID,
		OldState:  string(oldState),
		NewState:  string(newState),
	})
}

func (o *Orchestrator) emit(data events.EventData) {
	o.events.EmitTyped(moduleName, data)
}

// classifyFailure maps a call error onto the terminal state and user message
func classifyFailure(err error) (State, string) {
	if domain.IsAuthExpired(err) {
		return StateAuthExpired, msgSessionExpired
	}
	return StateFailed, domain.UserMessage(err, msgWorkflowFailed)
}
