// Package workflow drives one remote pipeline run from session creation to
// a terminal outcome using request/response calls and a polling loop.
package workflow

import "github.com/aristath/botstudio/internal/domain"

// State is the orchestrator's lifecycle state
type State string

const (
	StateIdle        State = "idle"
	StateCreating    State = "creating"
	StateStarting    State = "starting"
	StatePolling     State = "polling"
	StateComplete    State = "complete"
	StateFailed      State = "failed"
	StateAuthExpired State = "auth_expired" // Needs re-authentication, distinct from Failed
)

// IsTerminal reports whether the run has finished
func (s State) IsTerminal() bool {
	return s == StateComplete || s == StateFailed || s == StateAuthExpired
}

// IsActive reports whether a run is in flight
func (s State) IsActive() bool {
	return s == StateCreating || s == StateStarting || s == StatePolling
}

// Snapshot is a consistent copy of the orchestrator's observable state
type Snapshot struct {
	State     State           `json:"state"`
	Session   *domain.Session `json:"session,omitempty"`
	Message   string          `json:"message,omitempty"`
	HasResult bool            `json:"has_result"`
}

// Request is a validated, enriched request ready for execution
type Request struct {
	EnrichedQuery string
	Parameters    map[string]any
	Mode          string // Empty = orchestrator default
}
