package testing

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/aristath/botstudio/internal/domain"
)

// Route patterns served by FakeRemote
const (
	RouteClarify        = "POST /api/clarify"
	RouteCreateSession  = "POST /api/sessions"
	RouteStartSession   = "POST /api/sessions/{id}/start"
	RoutePollStatus     = "GET /api/sessions/{id}/status"
	RouteRefine         = "POST /api/refine"
	RouteCreateBot      = "POST /api/bots"
	RouteUpdateBot      = "PUT /api/bots/{id}"
	RouteListCommunity  = "GET /api/community"
	RouteToggleLike     = "POST /api/community/{id}/like"
	RouteRecordDownload = "POST /api/community/{id}/download"
)

type failure struct {
	status int
	detail string
}

// FakeRemote is an in-memory pipeline service and dashboard backend served
// over HTTP. Poll responses are queued per session; once a session's queue
// is down to one entry that entry is repeated.
type FakeRemote struct {
	server *httptest.Server

	mu       sync.Mutex
	clarify  map[string]any
	refine   map[string]any
	statuses []map[string]any
	queues   map[string][]map[string]any
	sessions int
	bots     map[string]domain.Bot
	botSeq   int
	items    []domain.SharedItem
	failures map[string][]failure
	calls    map[string]int
	tokens   []string
}

// NewFakeRemote starts a fake remote that is shut down with the test
func NewFakeRemote(t *testing.T) *FakeRemote {
	t.Helper()
	f := &FakeRemote{
		queues:   make(map[string][]map[string]any),
		bots:     make(map[string]domain.Bot),
		failures: make(map[string][]failure),
		calls:    make(map[string]int),
		items:    NewSharedItemFixtures(),
	}

	mux := http.NewServeMux()
	f.handle(mux, RouteClarify, f.handleClarify)
	f.handle(mux, RouteCreateSession, f.handleCreateSession)
	f.handle(mux, RouteStartSession, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "started"})
	})
	f.handle(mux, RoutePollStatus, f.handlePoll)
	f.handle(mux, RouteRefine, f.handleRefine)
	f.handle(mux, RouteCreateBot, f.handleCreateBot)
	f.handle(mux, RouteUpdateBot, f.handleUpdateBot)
	f.handle(mux, RouteListCommunity, func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		items := append([]domain.SharedItem(nil), f.items...)
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	})
	f.handle(mux, RouteToggleLike, f.handleToggleLike)
	f.handle(mux, RouteRecordDownload, f.handleDownload)

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

// URL is the base URL of both services
func (f *FakeRemote) URL() string {
	return f.server.URL
}

// SetClarifyResponse sets the body returned by clarify. By default the
// query is accepted as is.
func (f *FakeRemote) SetClarifyResponse(resp map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clarify = resp
}

// SetRefineResponse sets the body returned by refine
func (f *FakeRemote) SetRefineResponse(resp map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refine = resp
}

// QueueStatuses sets the poll responses of sessions created from now on
func (f *FakeRemote) QueueStatuses(statuses ...map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = statuses
}

// FailNext makes the next call of route answer with status and detail
func (f *FakeRemote) FailNext(route string, status int, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[route] = append(f.failures[route], failure{status: status, detail: detail})
}

// Calls returns how often route was hit
func (f *FakeRemote) Calls(route string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[route]
}

// Bot returns a stored bot
func (f *FakeRemote) Bot(id string) (domain.Bot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bots[id]
	return b, ok
}

// BotCount returns how many distinct bots exist
func (f *FakeRemote) BotCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bots)
}

// Tokens returns the Authorization headers seen, in order
func (f *FakeRemote) Tokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tokens...)
}

// CompleteStatus builds a complete poll response carrying result
func CompleteStatus(result *domain.WorkflowResult, botID string) map[string]any {
	return map[string]any{"status": "complete", "result": result, "bot_id": botID}
}

// RunningStatus builds an in-progress poll response
func RunningStatus(step string) map[string]any {
	return map[string]any{"status": "running", "current_step": step}
}

func (f *FakeRemote) handle(mux *http.ServeMux, route string, h http.HandlerFunc) {
	mux.HandleFunc(route, func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls[route]++
		f.tokens = append(f.tokens, r.Header.Get("Authorization"))
		var fail *failure
		if q := f.failures[route]; len(q) > 0 {
			fail = &q[0]
			f.failures[route] = q[1:]
		}
		f.mu.Unlock()

		if fail != nil {
			writeJSON(w, fail.status, map[string]any{"detail": fail.detail})
			return
		}
		h(w, r)
	})
}

func (f *FakeRemote) handleClarify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	resp := f.clarify
	f.mu.Unlock()

	if resp == nil {
		resp = map[string]any{"needs_clarification": false, "enriched_query": req.Query}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (f *FakeRemote) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.sessions++
	id := fmt.Sprintf("session-%d", f.sessions)
	f.queues[id] = append([]map[string]any(nil), f.statuses...)
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"session_id": id})
}

func (f *FakeRemote) handlePoll(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	f.mu.Lock()
	q, ok := f.queues[id]
	var resp map[string]any
	switch {
	case !ok:
		resp = map[string]any{"status": "not_found"}
	case len(q) == 0:
		resp = map[string]any{"status": "running"}
	default:
		resp = q[0]
		if len(q) > 1 {
			f.queues[id] = q[1:]
		}
	}
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func (f *FakeRemote) handleRefine(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	resp := f.refine
	f.mu.Unlock()

	if resp == nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"detail": "refine not configured"})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (f *FakeRemote) handleCreateBot(w http.ResponseWriter, r *http.Request) {
	var bot domain.Bot
	if err := json.NewDecoder(r.Body).Decode(&bot); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": err.Error()})
		return
	}

	f.mu.Lock()
	f.botSeq++
	bot.ID = fmt.Sprintf("bot-%d", f.botSeq)
	f.bots[bot.ID] = bot
	f.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{"id": bot.ID})
}

func (f *FakeRemote) handleUpdateBot(w http.ResponseWriter, r *http.Request) {
	var bot domain.Bot
	if err := json.NewDecoder(r.Body).Decode(&bot); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": err.Error()})
		return
	}
	bot.ID = r.PathValue("id")

	f.mu.Lock()
	f.bots[bot.ID] = bot
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"id": bot.ID})
}

func (f *FakeRemote) handleToggleLike(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.items {
		it := &f.items[i]
		if it.ID != id {
			continue
		}
		it.LikedByCurrentUser = !it.LikedByCurrentUser
		if it.LikedByCurrentUser {
			it.LikeCount++
		} else {
			it.LikeCount--
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	writeJSON(w, http.StatusNotFound, map[string]any{"detail": "item not found"})
}

func (f *FakeRemote) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.items {
		if f.items[i].ID == id {
			f.items[i].DownloadCount++
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]any{"detail": "item not found"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
