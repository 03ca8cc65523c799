// Package events provides event management functionality.
package events

import "time"

// EventType represents different event types
type EventType string

const (
	// Workflow lifecycle
	ClarificationRequested EventType = "CLARIFICATION_REQUESTED"
	WorkflowStateChanged   EventType = "WORKFLOW_STATE_CHANGED"
	WorkflowStepChanged    EventType = "WORKFLOW_STEP_CHANGED"
	WorkflowCompleted      EventType = "WORKFLOW_COMPLETED"
	WorkflowFailed         EventType = "WORKFLOW_FAILED"
	RefinementCompleted    EventType = "REFINEMENT_COMPLETED"

	// Credentials
	AuthExpired         EventType = "AUTH_EXPIRED"
	CredentialsRequired EventType = "CREDENTIALS_REQUIRED"
	CredentialsUpdated  EventType = "CREDENTIALS_UPDATED"

	// Persistence
	BotSaved      EventType = "BOT_SAVED"
	BotSaveFailed EventType = "BOT_SAVE_FAILED"

	// Community
	CommunityRefreshed EventType = "COMMUNITY_REFRESHED"
	LikeReverted       EventType = "LIKE_REVERTED"

	ErrorOccurred EventType = "ERROR_OCCURRED"
)

// Event represents a system event with typed data
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      EventData `json:"data,omitempty"`
}
