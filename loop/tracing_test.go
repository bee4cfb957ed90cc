package loop

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenwick-labs/agentengine/llm"
)

func TestRunTraced_ForwardsEveryEventAndEndsWithOneTerminal(t *testing.T) {
	provider := llm.NewMockProvider("mock", llm.MockTurn{
		Response: llm.GenerateResponse{Text: "all done", FinishReason: llm.FinishStop},
	})
	l := &Loop{Provider: provider, Dispatcher: newTestDispatcher()}

	events := drain(l.RunTraced(context.Background(), "say hi", Config{}))

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventComplete, last.Kind)
	assert.True(t, last.IsTerminal())

	terminalCount := 0
	for _, e := range events {
		if e.IsTerminal() {
			terminalCount++
		}
	}
	assert.Equal(t, 1, terminalCount)
}

func TestRunTraced_WorksForNonCompleteTerminations(t *testing.T) {
	provider := llm.NewMockProvider("mock", llm.MockTurn{
		Response: llm.GenerateResponse{
			FinishReason: llm.FinishToolCalls,
			ToolCalls:    []llm.ToolCall{{ID: "1", Name: "missing"}},
		},
	})
	l := &Loop{Provider: provider, Dispatcher: newTestDispatcher()}

	events := drain(l.RunTraced(context.Background(), "do something", Config{MaxIterations: 1}))

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.True(t, last.IsTerminal())
	assert.NotEqual(t, EventComplete, last.Kind)
}
