package dispatcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func newTestRegistry(defs ...tools.Definition) *registry.BaseRegistry[tools.Definition] {
	reg := registry.NewBaseRegistry[tools.Definition]()
	for _, d := range defs {
		_ = reg.Register(d.Name, d)
	}
	return reg
}

func TestDispatch_UnknownToolReturnsError(t *testing.T) {
	d := New(newTestRegistry(), Hooks{}, nil)
	_, err := d.Dispatch(context.Background(), "nope", nil)
	assert.Error(t, err)
}

func TestDispatch_SuccessRunsPostToolUseHook(t *testing.T) {
	called := false
	hooks := Hooks{
		PostToolUse: []PostHook{func(ctx context.Context, hc HookContext) error {
			called = true
			assert.True(t, hc.Result.Success)
			return nil
		}},
	}
	d := New(newTestRegistry(echoTool("ping", true)), hooks, nil)

	outcome, err := d.Dispatch(context.Background(), "ping", map[string]any{"x": 1})
	require.NoError(t, err)
	assert.True(t, outcome.Executed)
	assert.True(t, called)
}

func TestDispatch_FailureRunsPostToolUseFailureHook(t *testing.T) {
	called := false
	hooks := Hooks{
		PostToolUseFailure: []PostHook{func(ctx context.Context, hc HookContext) error {
			called = true
			return nil
		}},
	}
	d := New(newTestRegistry(echoTool("ping", false)), hooks, nil)

	outcome, err := d.Dispatch(context.Background(), "ping", nil)
	require.NoError(t, err)
	assert.False(t, outcome.Result.Success)
	assert.True(t, called)
}

func TestDispatch_PreHookBlocksCall(t *testing.T) {
	executed := false
	blockingTool := tools.Definition{
		Name: "dangerous",
		Execute: func(ctx context.Context, input map[string]any) (tools.Result, error) {
			executed = true
			return tools.Result{Success: true}, nil
		},
	}
	hooks := Hooks{
		PreToolUse: []PreHook{func(ctx context.Context, hc HookContext) (PreToolUseOutcome, error) {
			return PreToolUseOutcome{Proceed: false, Reason: "too risky"}, nil
		}},
	}
	d := New(newTestRegistry(blockingTool), hooks, nil)

	outcome, err := d.Dispatch(context.Background(), "dangerous", nil)
	require.NoError(t, err)
	assert.True(t, outcome.Blocked)
	assert.Equal(t, "too risky", outcome.Reason)
	assert.False(t, executed)
}

func TestDispatch_PreHookErrorIsLoggedNotFatal(t *testing.T) {
	hooks := Hooks{
		PreToolUse: []PreHook{func(ctx context.Context, hc HookContext) (PreToolUseOutcome, error) {
			return PreToolUseOutcome{}, errors.New("hook blew up")
		}},
	}
	d := New(newTestRegistry(echoTool("ping", true)), hooks, nil)

	outcome, err := d.Dispatch(context.Background(), "ping", nil)
	require.NoError(t, err)
	assert.True(t, outcome.Executed)
}

func TestDispatch_ValidationFailureBlocksExecution(t *testing.T) {
	def := tools.Definition{
		Name: "strict",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []any{"id"},
		},
		Execute: func(ctx context.Context, input map[string]any) (tools.Result, error) {
			t.Fatal("must not execute when validation fails")
			return tools.Result{}, nil
		},
	}
	d := New(newTestRegistry(def), Hooks{}, nil)

	_, err := d.Dispatch(context.Background(), "strict", map[string]any{})
	assert.Error(t, err)
}

func TestDispatchTurn_ShortCircuitsOnClarification(t *testing.T) {
	clarify := tools.Definition{
		Name: "agent_clarify",
		Execute: func(ctx context.Context, input map[string]any) (tools.Result, error) {
			return tools.Result{Success: true, ClarificationID: "c1"}, nil
		},
	}
	second := tools.Definition{
		Name: "second_call",
		Execute: func(ctx context.Context, input map[string]any) (tools.Result, error) {
			t.Fatal("second call must not execute after a clarification interrupt")
			return tools.Result{}, nil
		},
	}
	d := New(newTestRegistry(clarify, second), Hooks{}, nil)

	dispatched, interruptedAt := d.DispatchTurn(context.Background(), []ProposedCall{
		{Name: "agent_clarify"},
		{Name: "second_call"},
	})

	require.Len(t, dispatched, 1)
	assert.Equal(t, 0, interruptedAt)
	assert.True(t, dispatched[0].Outcome.Result.IsClarification())
}

func TestDispatchTurn_RunsAllWhenNoInterrupt(t *testing.T) {
	d := New(newTestRegistry(echoTool("a", true), echoTool("b", true)), Hooks{}, nil)

	dispatched, interruptedAt := d.DispatchTurn(context.Background(), []ProposedCall{
		{Name: "a"}, {Name: "b"},
	})

	assert.Len(t, dispatched, 2)
	assert.Equal(t, -1, interruptedAt)
}
