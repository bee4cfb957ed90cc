package loop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenwick-labs/agentengine/dispatcher"
	"github.com/fenwick-labs/agentengine/lifecycle"
	"github.com/fenwick-labs/agentengine/llm"
	"github.com/fenwick-labs/agentengine/monitor"
	"github.com/fenwick-labs/agentengine/registry"
	"github.com/fenwick-labs/agentengine/tools"
)

func echoTool(name string, success bool) tools.Definition {
	return tools.Definition{
		Name: name,
		Execute: func(ctx context.Context, input map[string]any) (tools.Result, error) {
			return tools.Result{Success: success, Data: input}, nil
		},
	}
}

func clarifyTool(name, clarificationID string) tools.Definition {
	return tools.Definition{
		Name: name,
		Execute: func(ctx context.Context, input map[string]any) (tools.Result, error) {
			return tools.Result{Success: true, ClarificationID: clarificationID, Questions: []string{"which one?"}}, nil
		},
	}
}

func failingTool(name string) tools.Definition {
	return tools.Definition{
		Name: name,
		Execute: func(ctx context.Context, input map[string]any) (tools.Result, error) {
			return tools.Result{Success: false, Error: nil}, nil
		},
	}
}

func newTestDispatcher(defs ...tools.Definition) *dispatcher.Dispatcher {
	reg := registry.NewBaseRegistry[tools.Definition]()
	for _, d := range defs {
		_ = reg.Register(d.Name, d)
	}
	return dispatcher.New(reg, dispatcher.Hooks{}, nil)
}

func drain(ch <-chan Event) []Event {
	var out []Event
	for e := range ch {
		out = append(out, e)
	}
	return out
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}

// S1: single-turn completion.
func TestLoop_SingleTurnCompletion(t *testing.T) {
	provider := llm.NewMockProvider("mock", llm.MockTurn{
		Response: llm.GenerateResponse{Text: "all done", FinishReason: llm.FinishStop},
	})
	l := &Loop{Provider: provider, Dispatcher: newTestDispatcher()}

	events := drain(l.Run(context.Background(), "say hi", Config{}))

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventComplete, last.Kind)
	assert.True(t, last.IsTerminal())
	assert.Equal(t, "all done", last.Data["summary"])
	assert.Equal(t, 1, provider.CallCount())

	terminalCount := 0
	for _, e := range events {
		if e.IsTerminal() {
			terminalCount++
		}
	}
	assert.Equal(t, 1, terminalCount, "exactly one terminal event must appear")
}

// S2: tool call then completion.
func TestLoop_ToolCallThenCompletion(t *testing.T) {
	provider := llm.NewMockProvider("mock",
		llm.MockTurn{Response: llm.GenerateResponse{
			FinishReason: llm.FinishToolCalls,
			ToolCalls:    []llm.ToolCall{{ID: "1", Name: "ping", Args: map[string]any{"x": 1}}},
		}},
		llm.MockTurn{Response: llm.GenerateResponse{Text: "pinged", FinishReason: llm.FinishStop}},
	)
	l := &Loop{Provider: provider, Dispatcher: newTestDispatcher(echoTool("ping", true))}

	events := drain(l.Run(context.Background(), "ping something", Config{}))

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventComplete, last.Kind)
	assert.Equal(t, 2, provider.CallCount())

	ks := kinds(events)
	assert.Contains(t, ks, EventToolCall)
	assert.Contains(t, ks, EventTaskUpdate)
}

// S3: clarification interrupt ends the run without further iterations.
func TestLoop_ClarificationInterruptStopsTheLoop(t *testing.T) {
	provider := llm.NewMockProvider("mock", llm.MockTurn{Response: llm.GenerateResponse{
		FinishReason: llm.FinishToolCalls,
		ToolCalls:    []llm.ToolCall{{ID: "1", Name: "agent_clarify"}},
	}})
	l := &Loop{Provider: provider, Dispatcher: newTestDispatcher(clarifyTool("agent_clarify", "clar-1"))}

	events := drain(l.Run(context.Background(), "ambiguous task", Config{}))

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventClarificationNeeded, last.Kind)
	assert.Equal(t, "clar-1", last.Data["clarificationId"])
	assert.Equal(t, 1, provider.CallCount(), "the loop must stop at the interrupting turn, not generate again")
}

// S4: a repeated identical tool error triggers the monitor's loop
// detector, and the queued correction is surfaced as an event on a
// later THINK phase.
func TestLoop_ErrorLoopQueuesCorrection(t *testing.T) {
	mon := monitor.New(50, 2)
	provider := llm.NewMockProvider("mock",
		llm.MockTurn{Response: llm.GenerateResponse{
			FinishReason: llm.FinishToolCalls,
			ToolCalls:    []llm.ToolCall{{ID: "1", Name: "flaky"}},
		}},
		llm.MockTurn{Response: llm.GenerateResponse{
			FinishReason: llm.FinishToolCalls,
			ToolCalls:    []llm.ToolCall{{ID: "2", Name: "flaky"}},
		}},
		llm.MockTurn{Response: llm.GenerateResponse{Text: "gave up", FinishReason: llm.FinishStop}},
	)
	l := &Loop{
		Provider:   provider,
		Dispatcher: newTestDispatcher(failingTool("flaky")),
		Monitor:    mon,
	}

	events := drain(l.Run(context.Background(), "do the flaky thing", Config{MaxErrors: 10}))

	ks := kinds(events)
	assert.Contains(t, ks, EventCorrection, "after two identical failures the monitor must queue a correction surfaced as an event")
}

// A tool result produced in ACT is tracked by the lifecycle manager
// during OBSERVE.
func TestLoop_ToolResultFeedsBackIntoHistory(t *testing.T) {
	provider := llm.NewMockProvider("mock",
		llm.MockTurn{Response: llm.GenerateResponse{
			FinishReason: llm.FinishToolCalls,
			ToolCalls:    []llm.ToolCall{{ID: "1", Name: "ping"}},
		}},
		llm.MockTurn{Response: llm.GenerateResponse{Text: "ok", FinishReason: llm.FinishStop}},
	)
	lc := lifecycle.NewManager(lifecycle.DefaultThresholds())
	l := &Loop{Provider: provider, Dispatcher: newTestDispatcher(echoTool("ping", true)), Lifecycle: lc}

	events := drain(l.Run(context.Background(), "ping then stop", Config{}))

	last := events[len(events)-1]
	assert.Equal(t, EventComplete, last.Kind)
	snap := lc.Snapshot()
	require.Len(t, snap, 1, "the tool result must have been tracked by the lifecycle manager")
	assert.Equal(t, "ping", snap[0].ToolName)
}

func TestLoop_MaxIterationsReachedEmitsTimeout(t *testing.T) {
	provider := llm.NewMockProvider("mock", llm.MockTurn{Response: llm.GenerateResponse{
		FinishReason: llm.FinishToolCalls,
		ToolCalls:    []llm.ToolCall{{ID: "1", Name: "ping"}},
	}})
	l := &Loop{Provider: provider, Dispatcher: newTestDispatcher(echoTool("ping", true))}

	events := drain(l.Run(context.Background(), "loop forever", Config{MaxIterations: 2}))

	last := events[len(events)-1]
	assert.Equal(t, EventTimeout, last.Kind)
}

func TestLoop_MaxErrorsReachedEmitsFailed(t *testing.T) {
	provider := llm.NewMockProvider("mock", llm.MockTurn{Response: llm.GenerateResponse{
		FinishReason: llm.FinishToolCalls,
		ToolCalls:    []llm.ToolCall{{ID: "1", Name: "flaky"}},
	}})
	l := &Loop{Provider: provider, Dispatcher: newTestDispatcher(failingTool("flaky")), Monitor: monitor.New(50, 100)}

	events := drain(l.Run(context.Background(), "keep failing", Config{MaxErrors: 2, MaxIterations: 50}))

	last := events[len(events)-1]
	assert.Equal(t, EventFailed, last.Kind)
}

func TestLoop_CancelledContextEndsTheRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	provider := llm.NewMockProvider("mock", llm.MockTurn{Response: llm.GenerateResponse{Text: "x", FinishReason: llm.FinishStop}})
	l := &Loop{Provider: provider, Dispatcher: newTestDispatcher()}

	events := drain(l.Run(ctx, "anything", Config{}))

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventCancelled, last.Kind)
}

func TestLoop_EmitsSystemEventFirst(t *testing.T) {
	provider := llm.NewMockProvider("mock", llm.MockTurn{Response: llm.GenerateResponse{Text: "ok", FinishReason: llm.FinishStop}})
	l := &Loop{Provider: provider, Dispatcher: newTestDispatcher()}

	events := drain(l.Run(context.Background(), "task one", Config{}))

	require.NotEmpty(t, events)
	assert.Equal(t, EventSystem, events[0].Kind)
	assert.Equal(t, "task one", events[0].Data["task"])
}

func TestLoop_CheckpointIntervalEmitsCheckpointEvents(t *testing.T) {
	provider := llm.NewMockProvider("mock",
		llm.MockTurn{Response: llm.GenerateResponse{FinishReason: llm.FinishToolCalls, ToolCalls: []llm.ToolCall{{ID: "1", Name: "ping"}}}},
		llm.MockTurn{Response: llm.GenerateResponse{FinishReason: llm.FinishToolCalls, ToolCalls: []llm.ToolCall{{ID: "2", Name: "ping"}}}},
		llm.MockTurn{Response: llm.GenerateResponse{Text: "done", FinishReason: llm.FinishStop}},
	)
	l := &Loop{Provider: provider, Dispatcher: newTestDispatcher(echoTool("ping", true))}

	events := drain(l.Run(context.Background(), "checkpoint me", Config{CheckpointInterval: 1}))

	ks := kinds(events)
	assert.Contains(t, ks, EventCheckpoint)
}

func TestLoop_RunReturnsWithinReasonableTime(t *testing.T) {
	provider := llm.NewMockProvider("mock", llm.MockTurn{Response: llm.GenerateResponse{Text: "fast", FinishReason: llm.FinishStop}})
	l := &Loop{Provider: provider, Dispatcher: newTestDispatcher()}

	done := make(chan struct{})
	go func() {
		drain(l.Run(context.Background(), "quick", Config{}))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not complete in time")
	}
}
