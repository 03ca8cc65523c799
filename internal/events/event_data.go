package events

// EventData is the interface that all event data types must implement
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// ClarificationRequestedData contains data for ClarificationRequested events
type ClarificationRequestedData struct {
	OriginalQuery string   `json:"original_query"`
	Questions     []string `json:"questions,omitempty"`
}

// EventType returns the event type for ClarificationRequestedData
func (d *ClarificationRequestedData) EventType() EventType {
	return ClarificationRequested
}

// WorkflowStateChangedData contains data for WorkflowStateChanged events
type WorkflowStateChangedData struct {
	SessionID string `json:"session_id,omitempty"`
	OldState  string `json:"old_state"`
	NewState  string `json:"new_state"`
}

// EventType returns the event type for WorkflowStateChangedData
func (d *WorkflowStateChangedData) EventType() EventType {
	return WorkflowStateChanged
}

// WorkflowStepChangedData contains data for WorkflowStepChanged events
type WorkflowStepChangedData struct {
	SessionID string `json:"session_id"`
	OldStep   string `json:"old_step,omitempty"`
	NewStep   string `json:"new_step"`
}

// EventType returns the event type for WorkflowStepChangedData
func (d *WorkflowStepChangedData) EventType() EventType {
	return WorkflowStepChanged
}

// WorkflowCompletedData contains data for WorkflowCompleted events
type WorkflowCompletedData struct {
	SessionID    string `json:"session_id"`
	StrategyName string `json:"strategy_name,omitempty"`
	BotID        string `json:"bot_id,omitempty"`
	Iterations   int    `json:"iterations"`
}

// EventType returns the event type for WorkflowCompletedData
func (d *WorkflowCompletedData) EventType() EventType {
	return WorkflowCompleted
}

// WorkflowFailedData contains data for WorkflowFailed events
type WorkflowFailedData struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// EventType returns the event type for WorkflowFailedData
func (d *WorkflowFailedData) EventType() EventType {
	return WorkflowFailed
}

// RefinementCompletedData contains data for RefinementCompleted events
type RefinementCompletedData struct {
	CorrelationID string `json:"correlation_id"`
	Analysis      string `json:"analysis,omitempty"`
}

// EventType returns the event type for RefinementCompletedData
func (d *RefinementCompletedData) EventType() EventType {
	return RefinementCompleted
}

// AuthExpiredData contains data for AuthExpired events
type AuthExpiredData struct {
	Operation string `json:"operation"`
}

// EventType returns the event type for AuthExpiredData
func (d *AuthExpiredData) EventType() EventType {
	return AuthExpired
}

// CredentialsRequiredData is emitted once per token when it expires
type CredentialsRequiredData struct{}

// EventType returns the event type for CredentialsRequiredData
func (d *CredentialsRequiredData) EventType() EventType {
	return CredentialsRequired
}

// CredentialsUpdatedData is emitted when a fresh token is installed
type CredentialsUpdatedData struct{}

// EventType returns the event type for CredentialsUpdatedData
func (d *CredentialsUpdatedData) EventType() EventType {
	return CredentialsUpdated
}

// BotSavedData contains data for BotSaved events
type BotSavedData struct {
	BotID   string `json:"bot_id"`
	Name    string `json:"name"`
	Created bool   `json:"created"`
	Auto    bool   `json:"auto"`
}

// EventType returns the event type for BotSavedData
func (d *BotSavedData) EventType() EventType {
	return BotSaved
}

// BotSaveFailedData contains data for BotSaveFailed events
type BotSaveFailedData struct {
	BotID string `json:"bot_id,omitempty"`
	Error string `json:"error"`
	Auto  bool   `json:"auto"`
}

// EventType returns the event type for BotSaveFailedData
func (d *BotSaveFailedData) EventType() EventType {
	return BotSaveFailed
}

// CommunityRefreshedData contains data for CommunityRefreshed events
type CommunityRefreshedData struct {
	Count int  `json:"count"`
	Stale bool `json:"stale"`
}

// EventType returns the event type for CommunityRefreshedData
func (d *CommunityRefreshedData) EventType() EventType {
	return CommunityRefreshed
}

// LikeRevertedData contains data for LikeReverted events
type LikeRevertedData struct {
	ItemID string `json:"item_id"`
	Liked  bool   `json:"liked"`
	Error  string `json:"error"`
}

// EventType returns the event type for LikeRevertedData
func (d *LikeRevertedData) EventType() EventType {
	return LikeReverted
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}
