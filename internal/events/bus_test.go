package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_SubscribeByType(t *testing.T) {
	bus := NewBus()
	var got []*Event
	cancel := bus.Subscribe(WorkflowStepChanged, func(e *Event) { got = append(got, e) })

	bus.Emit(WorkflowStepChanged, "workflow", &WorkflowStepChangedData{SessionID: "s", NewStep: "coding"})
	bus.Emit(WorkflowCompleted, "workflow", &WorkflowCompletedData{SessionID: "s"})

	require.Len(t, got, 1)
	assert.Equal(t, WorkflowStepChanged, got[0].Type)
	assert.Equal(t, "workflow", got[0].Module)
	assert.False(t, got[0].Timestamp.IsZero())
	data, ok := got[0].Data.(*WorkflowStepChangedData)
	require.True(t, ok)
	assert.Equal(t, "coding", data.NewStep)

	cancel()
	bus.Emit(WorkflowStepChanged, "workflow", &WorkflowStepChangedData{NewStep: "backtesting"})
	assert.Len(t, got, 1)
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus()
	count := 0
	cancel := bus.SubscribeAll(func(e *Event) { count++ })

	bus.Emit(BotSaved, "persistence", &BotSavedData{BotID: "b"})
	bus.Emit(LikeReverted, "community", &LikeRevertedData{ItemID: "i"})
	assert.Equal(t, 2, count)

	cancel()
	bus.Emit(BotSaved, "persistence", &BotSavedData{BotID: "b"})
	assert.Equal(t, 2, count)
}

func TestBus_HandlerMaySubscribeWhileEmitting(t *testing.T) {
	bus := NewBus()
	bus.Subscribe(AuthExpired, func(e *Event) {
		bus.Subscribe(AuthExpired, func(e *Event) {})
	})

	assert.NotPanics(t, func() {
		bus.Emit(AuthExpired, "workflow", &AuthExpiredData{Operation: "start-session"})
	})
}

func TestManager_EmitTypedLogsAndPublishes(t *testing.T) {
	var buf bytes.Buffer
	bus := NewBus()
	m := NewManager(bus, zerolog.New(&buf).Level(zerolog.DebugLevel))

	var got *Event
	bus.Subscribe(WorkflowFailed, func(e *Event) { got = e })

	m.EmitTyped("workflow", &WorkflowFailedData{SessionID: "s", Message: "boom"})

	require.NotNil(t, got)
	assert.Equal(t, WorkflowFailed, got.Type)
	assert.Contains(t, buf.String(), "WORKFLOW_FAILED")

	raw, err := json.Marshal(got)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"message":"boom"`)
}

func TestManager_EmitError(t *testing.T) {
	bus := NewBus()
	m := NewManager(bus, zerolog.Nop())

	var got *Event
	bus.Subscribe(ErrorOccurred, func(e *Event) { got = e })
	m.EmitError("community", errors.New("refresh failed"), map[string]interface{}{"item": "a"})

	require.NotNil(t, got)
	assert.Equal(t, "refresh failed", got.Data.(*ErrorEventData).Error)
}

func TestManager_NilIsNoop(t *testing.T) {
	var m *Manager
	assert.NotPanics(t, func() {
		m.EmitTyped("workflow", &WorkflowFailedData{Message: "x"})
	})
}
