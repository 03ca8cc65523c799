// Package domain provides core domain models and types.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// SessionStatus is the remote pipeline's view of a session
type SessionStatus string

const (
	SessionPending  SessionStatus = "pending"
	SessionRunning  SessionStatus = "running"
	SessionComplete SessionStatus = "complete"
	SessionError    SessionStatus = "error"
	SessionNotFound SessionStatus = "not_found"
)

// IsTerminal reports whether no further polling is needed for this status.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionComplete || s == SessionError || s == SessionNotFound
}

// Step is a named stage of a pipeline run
type Step string

const (
	StepClarifying  Step = "clarifying"
	StepParsing     Step = "parsing"
	StepCoding      Step = "coding"
	StepBacktesting Step = "backtesting"
	StepAnalyzing   Step = "analyzing"
	StepComplete    Step = "complete"
)

// Session is the local handle for one in-flight pipeline run
type Session struct {
	ID          string        `json:"id"`
	Status      SessionStatus `json:"status"`
	CurrentStep Step          `json:"current_step"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Strategy is the structured strategy produced by the pipeline
type Strategy struct {
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
	Analysis    []string       `json:"analysis,omitempty"` // Appended to by every refinement
}

// IterationRecord is one pass of the pipeline's internal improve loop.
// StepResults maps an agent name to that agent's raw payload.
type IterationRecord struct {
	Index       int                       `json:"index"`
	StepResults map[string]map[string]any `json:"step_results"`
}

// WorkflowResult is the complete output of a finished pipeline run
type WorkflowResult struct {
	Strategy         Strategy          `json:"strategy"`
	GeneratedCode    string            `json:"generated_code"`
	BacktestResults  map[string]any    `json:"backtest_results,omitempty"`
	InsightsConfig   map[string]any    `json:"insights_config,omitempty"`
	IterationHistory []IterationRecord `json:"iteration_history,omitempty"`
}

// Clone returns a copy whose top-level maps and slices are not shared with r.
func (r *WorkflowResult) Clone() *WorkflowResult {
	if r == nil {
		return nil
	}
	out := &WorkflowResult{
		Strategy: Strategy{
			Name:        r.Strategy.Name,
			Description: r.Strategy.Description,
			Config:      cloneMap(r.Strategy.Config),
			Analysis:    append([]string(nil), r.Strategy.Analysis...),
		},
		GeneratedCode:   r.GeneratedCode,
		BacktestResults: cloneMap(r.BacktestResults),
		InsightsConfig:  cloneMap(r.InsightsConfig),
	}
	if r.IterationHistory != nil {
		out.IterationHistory = make([]IterationRecord, len(r.IterationHistory))
		for i, it := range r.IterationHistory {
			steps := make(map[string]map[string]any, len(it.StepResults))
			for agent, payload := range it.StepResults {
				steps[agent] = cloneMap(payload)
			}
			out.IterationHistory[i] = IterationRecord{Index: it.Index, StepResults: steps}
		}
	}
	return out
}

// Bot is a persisted strategy record. ID is empty until the first create succeeds.
type Bot struct {
	ID              string         `json:"id,omitempty"`
	Name            string         `json:"name"`
	Description     string         `json:"description,omitempty"`
	StrategyConfig  Strategy       `json:"strategy_config"`
	GeneratedCode   string         `json:"generated_code"`
	BacktestResults map[string]any `json:"backtest_results,omitempty"`
	InsightsConfig  map[string]any `json:"insights_config,omitempty"`
	SessionID       string         `json:"session_id,omitempty"`
}

// BotFromResult builds an unsaved bot record from a workflow result
func BotFromResult(r *WorkflowResult, name, description, sessionID string) Bot {
	if description == "" {
		description = r.Strategy.Description
	}
	return Bot{
		Name:            strings.TrimSpace(name),
		Description:     description,
		StrategyConfig:  r.Strategy,
		GeneratedCode:   r.GeneratedCode,
		BacktestResults: r.BacktestResults,
		InsightsConfig:  r.InsightsConfig,
		SessionID:       sessionID,
	}
}

// DefaultName picks a name for a bot saved without user input
func (b Bot) DefaultName(now time.Time) string {
	if name := strings.TrimSpace(b.StrategyConfig.Name); name != "" {
		return name
	}
	return fmt.Sprintf("Strategy %s", now.UTC().Format("2006-01-02 15:04"))
}

// SharedItem is a community-shared strategy. LikedByCurrentUser may briefly
// diverge from the server while a like toggle is in flight.
type SharedItem struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Description        string    `json:"description,omitempty"`
	Author             string    `json:"author,omitempty"`
	LikedByCurrentUser bool      `json:"liked_by_current_user"`
	LikeCount          int       `json:"like_count"`
	DownloadCount      int       `json:"download_count"`
	CreatedAt          time.Time `json:"created_at"`
}

// ConversationTurn is one message of the clarification dialogue
type ConversationTurn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// ClarificationState is the transient state of the clarification sub-flow
type ClarificationState struct {
	OriginalQuery      string         `json:"original_query"`
	NeedsClarification bool           `json:"needs_clarification"`
	EnrichedQuery      string         `json:"enriched_query,omitempty"`
	Parameters         map[string]any `json:"parameters,omitempty"`
	Questions          []string       `json:"questions,omitempty"`
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
