package workflow

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aristath/botstudio/internal/clients/pipeline"
	"github.com/aristath/botstudio/internal/domain"
	"github.com/aristath/botstudio/internal/events"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// fakePipeline serves queued poll responses per session. Once a queue is
// down to its last entry that entry is repeated.
type fakePipeline struct {
	mu        sync.Mutex
	nextID    int
	createErr error
	startErr  error
	pollErr   error
	queued    []*pipeline.StatusResponse
	statuses  map[string][]*pipeline.StatusResponse
	starts    []pipeline.StartRequest
	polls     map[string]int
}

func newFakePipeline(responses ...*pipeline.StatusResponse) *fakePipeline {
	return &fakePipeline{
		queued:   responses,
		statuses: make(map[string][]*pipeline.StatusResponse),
		polls:    make(map[string]int),
	}
}

func (f *fakePipeline) CreateSession(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.nextID++
	id := fmt.Sprintf("sess-%d", f.nextID)
	f.statuses[id] = append([]*pipeline.StatusResponse(nil), f.queued...)
	return id, nil
}

func (f *fakePipeline) StartSession(ctx context.Context, sessionID string, req pipeline.StartRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, req)
	return f.startErr
}

func (f *fakePipeline) PollStatus(ctx context.Context, sessionID string) (*pipeline.StatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls[sessionID]++
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	q := f.statuses[sessionID]
	if len(q) == 0 {
		return &pipeline.StatusResponse{Status: domain.SessionRunning}, nil
	}
	resp := q[0]
	if len(q) > 1 {
		f.statuses[sessionID] = q[1:]
	}
	return resp, nil
}

func (f *fakePipeline) pollCount(sessionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls[sessionID]
}

type fakeIdentity struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeIdentity) Remember(botID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, botID)
}

func (f *fakeIdentity) remembered() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...)
}

type fakeExpiry struct {
	mu    sync.Mutex
	count int
}

func (f *fakeExpiry) NotifyExpired() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
}

func (f *fakeExpiry) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

type harness struct {
	orch     *Orchestrator
	client   *fakePipeline
	identity *fakeIdentity
	expiry   *fakeExpiry
	bus      *events.Bus

	mu    sync.Mutex
	steps []string
}

func newHarness(t *testing.T, client *fakePipeline, interval time.Duration) *harness {
	t.Helper()
	bus := events.NewBus()
	h := &harness{
		client:   client,
		identity: &fakeIdentity{},
		expiry:   &fakeExpiry{},
		bus:      bus,
	}
	bus.Subscribe(events.WorkflowStepChanged, func(e *events.Event) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.steps = append(h.steps, e.Data.(*events.WorkflowStepChangedData).NewStep)
	})
	h.orch = NewOrchestrator(client, h.identity, h.expiry,
		events.NewManager(bus, zerolog.Nop()),
		Options{PollInterval: interval, PollTimeout: time.Second, DefaultMode: "fast"},
		zerolog.Nop())
	t.Cleanup(h.orch.Close)
	return h
}

func (h *harness) observedSteps() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.steps...)
}

// verifyNoLeaks must be called before newHarness so it runs after the
// orchestrator is closed
func verifyNoLeaks(t *testing.T) {
	t.Helper()
	t.Cleanup(func() { goleak.VerifyNone(t) })
}

func waitTerminal(t *testing.T, o *Orchestrator) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := o.Wait(ctx)
	require.NoError(t, err)
	return snap
}

func completeResponse(botID string) *pipeline.StatusResponse {
	return &pipeline.StatusResponse{
		Status: domain.SessionComplete,
		BotID:  botID,
		Result: &domain.WorkflowResult{
			Strategy:      domain.Strategy{Name: "RSI dip"},
			GeneratedCode: "class Strategy: pass",
		},
	}
}

func TestStart_RejectsEmptyQuery(t *testing.T) {
	verifyNoLeaks(t)

	h := newHarness(t, newFakePipeline(), 5*time.Millisecond)
	err := h.orch.Start(context.Background(), Request{EnrichedQuery: "   "})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, StateIdle, h.orch.Snapshot().State)
	assert.Empty(t, h.client.starts)
}

func TestOrchestrator_RunsToCompletion(t *testing.T) {
	verifyNoLeaks(t)

	client := newFakePipeline(
		&pipeline.StatusResponse{Status: domain.SessionRunning, CurrentStep: "coder"},
		&pipeline.StatusResponse{Status: domain.SessionRunning, CurrentStep: "backtesting"},
		completeResponse("bot-9"),
	)
	h := newHarness(t, client, 5*time.Millisecond)

	err := h.orch.Start(context.Background(), Request{
		EnrichedQuery: "  Buy when RSI < 30 on BTC 1h  ",
		Parameters:    map[string]any{"symbol": "BTC"},
	})
	require.NoError(t, err)

	snap := waitTerminal(t, h.orch)
	assert.Equal(t, StateComplete, snap.State)
	require.NotNil(t, snap.Session)
	assert.Equal(t, domain.StepComplete, snap.Session.CurrentStep)
	assert.Equal(t, domain.SessionComplete, snap.Session.Status)
	assert.True(t, snap.HasResult)
	assert.Equal(t, "RSI dip", h.orch.Result().Strategy.Name)
	assert.Equal(t, []string{"bot-9"}, h.identity.remembered())

	require.Len(t, client.starts, 1)
	assert.Equal(t, "Buy when RSI < 30 on BTC 1h", client.starts[0].Query)
	assert.Equal(t, "fast", client.starts[0].Mode)
	assert.Equal(t, "BTC", client.starts[0].Parameters["symbol"])

	order := map[string]int{"coding": 1, "backtesting": 2}
	last := 0
	for _, step := range h.observedSteps() {
		require.Contains(t, order, step)
		assert.Greater(t, order[step], last, "steps must only move forward")
		last = order[step]
	}
}

func TestOrchestrator_StartAuthExpiredSkipsPolling(t *testing.T) {
	verifyNoLeaks(t)

	client := newFakePipeline()
	client.startErr = &domain.AuthExpiredError{Op: "start-session", StatusCode: 403}
	h := newHarness(t, client, 5*time.Millisecond)

	var authEvents int
	h.bus.Subscribe(events.AuthExpired, func(e *events.Event) { authEvents++ })

	err := h.orch.Start(context.Background(), Request{EnrichedQuery: "query"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAuthExpired)

	snap := h.orch.Snapshot()
	assert.Equal(t, StateAuthExpired, snap.State)
	assert.Equal(t, 1, h.expiry.calls())
	assert.Equal(t, 1, authEvents)

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, client.pollCount("sess-1"))
}

func TestOrchestrator_CreateFailureUsesServerDetail(t *testing.T) {
	verifyNoLeaks(t)

	client := newFakePipeline()
	client.createErr = &domain.RemoteFailureError{Op: "create-session", StatusCode: 503, Detail: "pipeline overloaded"}
	h := newHarness(t, client, 5*time.Millisecond)

	err := h.orch.Start(context.Background(), Request{EnrichedQuery: "query"})
	require.Error(t, err)

	snap := h.orch.Snapshot()
	assert.Equal(t, StateFailed, snap.State)
	assert.Equal(t, "pipeline overloaded", snap.Message)
	assert.Nil(t, snap.Session)
	assert.Zero(t, h.expiry.calls())
}

func TestOrchestrator_ErrorStatusFails(t *testing.T) {
	testCases := []struct {
		name    string
		resp    *pipeline.StatusResponse
		wantMsg string
	}{
		{"server message", &pipeline.StatusResponse{Status: domain.SessionError, Error: "backtest crashed"}, "backtest crashed"},
		{"no message", &pipeline.StatusResponse{Status: domain.SessionError}, "Workflow failed"},
		{"session gone", &pipeline.StatusResponse{Status: domain.SessionNotFound}, "Workflow failed"},
		{"complete without result", &pipeline.StatusResponse{Status: domain.SessionComplete}, "Workflow completed without a result"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			verifyNoLeaks(t)

			h := newHarness(t, newFakePipeline(tc.resp), 5*time.Millisecond)
			require.NoError(t, h.orch.Start(context.Background(), Request{EnrichedQuery: "query"}))

			snap := waitTerminal(t, h.orch)
			assert.Equal(t, StateFailed, snap.State)
			assert.Equal(t, tc.wantMsg, snap.Message)
			assert.False(t, snap.HasResult)
		})
	}
}

func TestOrchestrator_PollAuthExpired(t *testing.T) {
	verifyNoLeaks(t)

	client := newFakePipeline()
	client.pollErr = &domain.AuthExpiredError{Op: "poll-status", StatusCode: 401}
	h := newHarness(t, client, 5*time.Millisecond)

	require.NoError(t, h.orch.Start(context.Background(), Request{EnrichedQuery: "query"}))

	snap := waitTerminal(t, h.orch)
	assert.Equal(t, StateAuthExpired, snap.State)
	assert.Equal(t, 1, h.expiry.calls())
}

func TestOrchestrator_TransportFailureDuringPoll(t *testing.T) {
	verifyNoLeaks(t)

	client := newFakePipeline()
	client.pollErr = &domain.TransportError{Op: "poll-status", Err: context.DeadlineExceeded}
	h := newHarness(t, client, 5*time.Millisecond)

	require.NoError(t, h.orch.Start(context.Background(), Request{EnrichedQuery: "query"}))

	snap := waitTerminal(t, h.orch)
	assert.Equal(t, StateFailed, snap.State)
	assert.Equal(t, "Workflow failed", snap.Message)
	assert.Zero(t, h.expiry.calls())
}

func TestOrchestrator_MissingBotIDIsNotFatal(t *testing.T) {
	verifyNoLeaks(t)

	h := newHarness(t, newFakePipeline(completeResponse("")), 5*time.Millisecond)
	require.NoError(t, h.orch.Start(context.Background(), Request{EnrichedQuery: "query"}))

	snap := waitTerminal(t, h.orch)
	assert.Equal(t, StateComplete, snap.State)
	assert.Empty(t, h.identity.remembered())
}

func TestOrchestrator_SecondStartStopsFirstLoop(t *testing.T) {
	verifyNoLeaks(t)

	client := newFakePipeline() // Runs forever
	h := newHarness(t, client, 2*time.Millisecond)

	require.NoError(t, h.orch.Start(context.Background(), Request{EnrichedQuery: "first"}))
	require.Eventually(t, func() bool { return client.pollCount("sess-1") > 0 }, time.Second, time.Millisecond)

	require.NoError(t, h.orch.Start(context.Background(), Request{EnrichedQuery: "second"}))
	firstPolls := client.pollCount("sess-1")

	require.Eventually(t, func() bool { return client.pollCount("sess-2") > 2 }, time.Second, time.Millisecond)
	assert.Equal(t, firstPolls, client.pollCount("sess-1"), "first session must not be polled after restart")
	assert.Equal(t, "sess-2", h.orch.SessionID())
	assert.Equal(t, StatePolling, h.orch.Snapshot().State)
}

func TestApplyPoll_DiscardsOutOfOrderResponses(t *testing.T) {
	verifyNoLeaks(t)

	h := newHarness(t, newFakePipeline(), time.Hour)
	require.NoError(t, h.orch.Start(context.Background(), Request{EnrichedQuery: "query"}))

	h.orch.mu.Lock()
	gen := h.orch.generation
	h.orch.mu.Unlock()

	seq1, ok := h.orch.nextPoll(gen)
	require.True(t, ok)
	seq2, ok := h.orch.nextPoll(gen)
	require.True(t, ok)
	seq3, ok := h.orch.nextPoll(gen)
	require.True(t, ok)

	// Responses arrive as 2, 1, 3
	h.orch.applyPoll(gen, seq2, &pipeline.StatusResponse{Status: domain.SessionRunning, CurrentStep: "backtesting"}, nil)
	h.orch.applyPoll(gen, seq1, &pipeline.StatusResponse{Status: domain.SessionRunning, CurrentStep: "coding"}, nil)

	snap := h.orch.Snapshot()
	assert.Equal(t, domain.StepBacktesting, snap.Session.CurrentStep)

	// A late failure from an older poll is also discarded
	h.orch.applyPoll(gen, seq1, nil, &domain.RemoteFailureError{Op: "poll-status", StatusCode: 500})
	assert.Equal(t, StatePolling, h.orch.Snapshot().State)

	h.orch.applyPoll(gen, seq3, completeResponse("bot-1"), nil)
	assert.Equal(t, StateComplete, h.orch.Snapshot().State)

	// Responses of a superseded generation are ignored
	h.orch.applyPoll(gen-1, seq3+1, &pipeline.StatusResponse{Status: domain.SessionError}, nil)
	assert.Equal(t, StateComplete, h.orch.Snapshot().State)
}

func TestApplyPoll_UnknownStepKeepsCurrent(t *testing.T) {
	verifyNoLeaks(t)

	h := newHarness(t, newFakePipeline(), time.Hour)
	require.NoError(t, h.orch.Start(context.Background(), Request{EnrichedQuery: "query"}))

	h.orch.mu.Lock()
	gen := h.orch.generation
	h.orch.mu.Unlock()

	seq, _ := h.orch.nextPoll(gen)
	h.orch.applyPoll(gen, seq, &pipeline.StatusResponse{Status: domain.SessionRunning, CurrentStep: "coding"}, nil)
	seq, _ = h.orch.nextPoll(gen)
	h.orch.applyPoll(gen, seq, &pipeline.StatusResponse{Status: domain.SessionRunning, CurrentStep: "quantum_annealer"}, nil)

	snap := h.orch.Snapshot()
	assert.Equal(t, StatePolling, snap.State)
	assert.Equal(t, domain.StepCoding, snap.Session.CurrentStep)
}

func TestOrchestrator_Reset(t *testing.T) {
	verifyNoLeaks(t)

	client := newFakePipeline()
	h := newHarness(t, client, 2*time.Millisecond)

	require.NoError(t, h.orch.Start(context.Background(), Request{EnrichedQuery: "query"}))
	require.Eventually(t, func() bool { return client.pollCount("sess-1") > 0 }, time.Second, time.Millisecond)

	h.orch.Reset()
	polls := client.pollCount("sess-1")

	snap := h.orch.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Nil(t, snap.Session)
	assert.Nil(t, h.orch.Result())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, polls, client.pollCount("sess-1"))

	snap, err := h.orch.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateIdle, snap.State)
}

func TestInstallResult_ComparesAgainstInstalled(t *testing.T) {
	verifyNoLeaks(t)

	h := newHarness(t, newFakePipeline(completeResponse("bot-1")), 2*time.Millisecond)
	assert.False(t, h.orch.InstallResult(nil, &domain.WorkflowResult{}), "nothing installed yet")

	require.NoError(t, h.orch.Start(context.Background(), Request{EnrichedQuery: "query"}))
	waitTerminal(t, h.orch)

	current := h.orch.Result()
	next := current.Clone()
	next.GeneratedCode = "refined"

	assert.False(t, h.orch.InstallResult(&domain.WorkflowResult{}, next))
	assert.True(t, h.orch.InstallResult(current, next))
	assert.Equal(t, "refined", h.orch.Result().GeneratedCode)
	assert.False(t, h.orch.InstallResult(current, next.Clone()), "stale base must not win")
}

// blockingIdentity holds Remember until released and records the order in
// which identity changes happen
type blockingIdentity struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once

	mu  sync.Mutex
	log []string
}

func (b *blockingIdentity) Remember(botID string) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	b.record("remember:" + botID)
}

func (b *blockingIdentity) record(entry string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log = append(b.log, entry)
}

func (b *blockingIdentity) entries() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.log...)
}

func TestStart_NewRunHookWaitsForLateIdentity(t *testing.T) {
	verifyNoLeaks(t)

	client := newFakePipeline(completeResponse("old-bot"))
	identity := &blockingIdentity{entered: make(chan struct{}), release: make(chan struct{})}
	orch := NewOrchestrator(client, identity, nil,
		events.NewManager(events.NewBus(), zerolog.Nop()),
		Options{
			PollInterval: 2 * time.Millisecond,
			PollTimeout:  time.Second,
			OnNewRun:     func() { identity.record("new-run") },
		},
		zerolog.Nop())
	t.Cleanup(orch.Close)

	require.NoError(t, orch.Start(context.Background(), Request{EnrichedQuery: "first"}))

	// Later sessions keep running
	client.mu.Lock()
	client.queued = nil
	client.mu.Unlock()

	<-identity.entered
	require.Equal(t, []string{"new-run"}, identity.entries())

	// The first run's completion is still handing over its bot id
	started := make(chan error, 1)
	go func() {
		started <- orch.Start(context.Background(), Request{EnrichedQuery: "second"})
	}()

	assert.Never(t, func() bool { return len(identity.entries()) > 1 }, 30*time.Millisecond, time.Millisecond,
		"second run must not begin before the first run's poll has finished")

	close(identity.release)
	require.NoError(t, <-started)

	assert.Equal(t, []string{"new-run", "remember:old-bot", "new-run"}, identity.entries())
	assert.Equal(t, "sess-2", orch.SessionID())
}
