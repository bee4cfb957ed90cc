package tools

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/fenwick-labs/agentengine/errs"
)

// Canonical tool names (spec §4.7).
const (
	NameContextRead   = "context_read"
	NameContextWrite  = "context_write"
	NameContextSearch = "context_search"
	NameTaskExecute   = "task_execute"
	NameStateSnapshot = "state_snapshot"
	NameAgentDelegate = "agent_delegate"
	NameAgentPlan     = "agent_plan"
	NameAgentClarify  = "agent_clarify"
)

// MemoryAccessor is the narrow surface context_read/write/search need
// from the engine's memory, kept independent of the context package's
// concrete type so this package has no dependency cycle risk.
type MemoryAccessor interface {
	Read(key string) (string, bool)
	Write(key, value string) error
	Search(query string, limit int) []string
}

// ActionExecutor is the narrow surface task_execute needs from an
// Action Adapter.
type ActionExecutor interface {
	Execute(ctx context.Context, action string, params map[string]any) (success bool, data map[string]any, errCode string, errMessage string, recoverable bool)
}

// StateSnapshotter is the narrow surface state_snapshot needs.
type StateSnapshotter interface {
	Snapshot(ctx context.Context, label string) (id string, summary string, err error)
}

// Delegator is the narrow surface agent_delegate needs from the
// Delegation Engine.
type Delegator interface {
	Delegate(ctx context.Context, task string, inputs map[string]any) (summary string, producedIDs []string, err error)
}

// PlanStore is the narrow surface agent_plan needs from taskState
// (spec §3.5).
type PlanStore interface {
	UpsertPlan(ctx context.Context, steps []string) (planID string, err error)
}

// decodeInput decodes a tool's raw JSON-shaped input map into a typed
// struct via mapstructure, weakly-typed so a JSON number (float64)
// lands in an int field and a single value lands in a slice field
// without the caller having to type-assert every key by hand.
func decodeInput[T any](input map[string]any) (T, error) {
	var out T
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return out, err
	}
	if err := decoder.Decode(input); err != nil {
		return out, err
	}
	return out, nil
}

type contextReadInput struct {
	Key string `mapstructure:"key"`
}

// NewContextRead builds the context_read tool.
func NewContextRead(mem MemoryAccessor) Definition {
	return Definition{
		Name:        NameContextRead,
		Description: "Read a value from engine memory by key.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"key": map[string]any{"type": "string"}},
			"required":   []any{"key"},
		},
		Execute: func(ctx context.Context, input map[string]any) (Result, error) {
			in, err := decodeInput[contextReadInput](input)
			if err != nil {
				return Result{}, errs.New(errs.CodeToolValidation, "invalid context_read input", err)
			}
			value, ok := mem.Read(in.Key)
			if !ok {
				return Result{Success: false, Error: errs.New(errs.CodeToolNotFound, fmt.Sprintf("no value for key %q", in.Key), nil)}, nil
			}
			return Result{Success: true, Data: map[string]any{"value": value}}, nil
		},
		Mutating: false,
	}
}

type contextWriteInput struct {
	Key   string `mapstructure:"key"`
	Value string `mapstructure:"value"`
}

// NewContextWrite builds the context_write tool.
func NewContextWrite(mem MemoryAccessor) Definition {
	return Definition{
		Name:        NameContextWrite,
		Description: "Write a value into engine memory under a key.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"key":   map[string]any{"type": "string"},
				"value": map[string]any{"type": "string"},
			},
			"required": []any{"key", "value"},
		},
		Execute: func(ctx context.Context, input map[string]any) (Result, error) {
			in, err := decodeInput[contextWriteInput](input)
			if err != nil {
				return Result{}, errs.New(errs.CodeToolValidation, "invalid context_write input", err)
			}
			if err := mem.Write(in.Key, in.Value); err != nil {
				return Result{Success: false, Error: errs.New(errs.CodeToolExecution, "failed to write memory", err)}, nil
			}
			return Result{Success: true, Data: map[string]any{"key": in.Key}}, nil
		},
		Mutating: true,
	}
}

type contextSearchInput struct {
	Query string `mapstructure:"query"`
	Limit int    `mapstructure:"limit"`
}

// NewContextSearch builds the context_search tool.
func NewContextSearch(mem MemoryAccessor) Definition {
	return Definition{
		Name:        NameContextSearch,
		Description: "Search engine memory for entries matching a query.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
				"limit": map[string]any{"type": "integer", "minimum": 1},
			},
			"required": []any{"query"},
		},
		Execute: func(ctx context.Context, input map[string]any) (Result, error) {
			in, err := decodeInput[contextSearchInput](input)
			if err != nil {
				return Result{}, errs.New(errs.CodeToolValidation, "invalid context_search input", err)
			}
			if in.Limit <= 0 {
				in.Limit = 10
			}
			matches := mem.Search(in.Query, in.Limit)
			items := make([]any, len(matches))
			for i, m := range matches {
				items[i] = m
			}
			return Result{Success: true, Data: map[string]any{"matches": items}}, nil
		},
		Mutating: false,
	}
}

type taskExecuteInput struct {
	Action string         `mapstructure:"action"`
	Params map[string]any `mapstructure:"params"`
}

// NewTaskExecute builds the task_execute tool, dispatching an action
// through the Action Adapter.
func NewTaskExecute(adapter ActionExecutor) Definition {
	return Definition{
		Name:        NameTaskExecute,
		Description: "Dispatch an action through the connected action adapter.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"action": map[string]any{"type": "string"},
				"params": map[string]any{"type": "object"},
			},
			"required": []any{"action"},
		},
		Execute: func(ctx context.Context, input map[string]any) (Result, error) {
			in, err := decodeInput[taskExecuteInput](input)
			if err != nil {
				return Result{}, errs.New(errs.CodeToolValidation, "invalid task_execute input", err)
			}

			success, data, code, message, recoverable := adapter.Execute(ctx, in.Action, in.Params)
			if !success {
				return Result{Success: false, Error: &errs.EngineError{
					Code: errs.Code(code), Message: message, Recoverable: recoverable,
				}}, nil
			}
			return Result{Success: true, Data: data}, nil
		},
		Mutating: true,
	}
}

type stateSnapshotInput struct {
	Label string `mapstructure:"label"`
}

// NewStateSnapshot builds the state_snapshot tool.
func NewStateSnapshot(snapper StateSnapshotter) Definition {
	return Definition{
		Name:        NameStateSnapshot,
		Description: "Create a named checkpoint of current engine/backend state.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"label": map[string]any{"type": "string"}},
		},
		Execute: func(ctx context.Context, input map[string]any) (Result, error) {
			in, err := decodeInput[stateSnapshotInput](input)
			if err != nil {
				return Result{}, errs.New(errs.CodeToolValidation, "invalid state_snapshot input", err)
			}
			id, summary, err := snapper.Snapshot(ctx, in.Label)
			if err != nil {
				return Result{Success: false, Error: errs.New(errs.CodeToolExecution, "failed to create snapshot", err)}, nil
			}
			return Result{Success: true, Data: map[string]any{"id": id, "summary": summary}}, nil
		},
		Mutating: false,
	}
}

type agentDelegateInput struct {
	Task   string         `mapstructure:"task"`
	Inputs map[string]any `mapstructure:"inputs"`
}

// NewAgentDelegate builds the agent_delegate tool.
func NewAgentDelegate(delegator Delegator) Definition {
	return Definition{
		Name:        NameAgentDelegate,
		Description: "Invoke a sub-agent to handle part of the task in isolation.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task":   map[string]any{"type": "string"},
				"inputs": map[string]any{"type": "object"},
			},
			"required": []any{"task"},
		},
		Execute: func(ctx context.Context, input map[string]any) (Result, error) {
			in, err := decodeInput[agentDelegateInput](input)
			if err != nil {
				return Result{}, errs.New(errs.CodeToolValidation, "invalid agent_delegate input", err)
			}
			summary, producedIDs, err := delegator.Delegate(ctx, in.Task, in.Inputs)
			if err != nil {
				return Result{Success: false, Error: errs.New(errs.CodeAgentExecutionFailed, "delegation failed", err)}, nil
			}
			ids := make([]any, len(producedIDs))
			for i, id := range producedIDs {
				ids[i] = id
			}
			return Result{Success: true, Data: map[string]any{"summary": summary, "producedIds": ids}}, nil
		},
		Mutating: true,
	}
}

type agentPlanInput struct {
	Steps []string `mapstructure:"steps"`
}

// NewAgentPlan builds the agent_plan tool.
func NewAgentPlan(store PlanStore) Definition {
	return Definition{
		Name:        NameAgentPlan,
		Description: "Create or update the current task plan.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"steps": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
			"required": []any{"steps"},
		},
		Execute: func(ctx context.Context, input map[string]any) (Result, error) {
			in, err := decodeInput[agentPlanInput](input)
			if err != nil {
				return Result{}, errs.New(errs.CodeToolValidation, "invalid agent_plan input", err)
			}
			planID, err := store.UpsertPlan(ctx, in.Steps)
			if err != nil {
				return Result{Success: false, Error: errs.New(errs.CodeToolExecution, "failed to update plan", err)}, nil
			}
			return Result{Success: true, Data: map[string]any{"planId": planID}}, nil
		},
		Mutating: true,
	}
}

type agentClarifyInput struct {
	Questions []string `mapstructure:"questions"`
	Options   []string `mapstructure:"options"`
	Reason    string   `mapstructure:"reason"`
}

// NewAgentClarify builds the agent_clarify tool. Unlike the others,
// its result is always a clarification interrupt (spec §4.7): the
// dispatcher treats it as terminal for the turn.
func NewAgentClarify() Definition {
	return Definition{
		Name:        NameAgentClarify,
		Description: "Ask the user a clarifying question before proceeding.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"questions": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"options":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"reason":    map[string]any{"type": "string"},
			},
			"required": []any{"questions"},
		},
		Execute: func(ctx context.Context, input map[string]any) (Result, error) {
			in, err := decodeInput[agentClarifyInput](input)
			if err != nil {
				return Result{}, errs.New(errs.CodeToolValidation, "invalid agent_clarify input", err)
			}
			return Result{
				Success:         true,
				ClarificationID: newClarificationID(),
				Questions:       in.Questions,
				Options:         in.Options,
				Reason:          in.Reason,
				Type:            "clarification",
			}, nil
		},
		Mutating: false,
	}
}
