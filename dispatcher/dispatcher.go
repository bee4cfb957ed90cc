// Package dispatcher implements the Tool Dispatcher & Hooks (spec
// §4.7): schema-validated tool execution wrapped by ordered
// pre/post hook chains, with clarification interrupts short-circuiting
// a turn.
package dispatcher

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/fenwick-labs/agentengine/errs"
	"github.com/fenwick-labs/agentengine/registry"
	"github.com/fenwick-labs/agentengine/tools"
)

// Event identifies a hook point in the tool dispatch lifecycle.
type Event string

const (
	EventSessionStart      Event = "SessionStart"
	EventPreToolUse        Event = "PreToolUse"
	EventPostToolUse       Event = "PostToolUse"
	EventPostToolUseFailure Event = "PostToolUseFailure"
	EventSessionEnd        Event = "SessionEnd"
)

// PreToolUseOutcome is a PreToolUse hook's return value. Proceed=false
// blocks the tool call.
type PreToolUseOutcome struct {
	Proceed bool
	Reason  string
}

// HookContext carries the data a hook handler needs.
type HookContext struct {
	ToolName string
	Input    map[string]any
	Result   *tools.Result // nil for Pre/SessionStart/SessionEnd
	Err      error         // non-nil for PostToolUseFailure
}

// PreHook is invoked before a tool executes; returning proceed=false
// blocks the call.
type PreHook func(ctx context.Context, hc HookContext) (PreToolUseOutcome, error)

// PostHook is invoked after a tool executes (success or failure).
// Errors from a PostHook are logged, never surfaced to the caller,
// and never block the already-completed tool call.
type PostHook func(ctx context.Context, hc HookContext) error

// LifecycleHook is invoked at SessionStart/SessionEnd.
type LifecycleHook func(ctx context.Context) error

// Hooks holds the ordered handler chains for each event.
type Hooks struct {
	SessionStart       []LifecycleHook
	PreToolUse         []PreHook
	PostToolUse        []PostHook
	PostToolUseFailure []PostHook
	SessionEnd         []LifecycleHook
}

// Dispatcher validates and executes tool calls through a registry of
// Definitions, running the configured hook chains around each call.
type Dispatcher struct {
	tools  *registry.BaseRegistry[tools.Definition]
	hooks  Hooks
	logger hclog.Logger
}

// New constructs a Dispatcher over toolRegistry with the given hooks.
// A nil logger falls back to a named default hclog logger, matching
// the teacher's convention of a per-component named logger.
func New(toolRegistry *registry.BaseRegistry[tools.Definition], hooks Hooks, logger hclog.Logger) *Dispatcher {
	if logger == nil {
		logger = hclog.Default().Named("dispatcher")
	}
	return &Dispatcher{tools: toolRegistry, hooks: hooks, logger: logger}
}

// RunSessionStart runs every SessionStart hook in registration order,
// returning the first error encountered (if any).
func (d *Dispatcher) RunSessionStart(ctx context.Context) error {
	for _, h := range d.hooks.SessionStart {
		if err := h(ctx); err != nil {
			return err
		}
	}
	return nil
}

// RunSessionEnd runs every SessionEnd hook, logging (not propagating)
// any error so teardown always completes.
func (d *Dispatcher) RunSessionEnd(ctx context.Context) {
	for _, h := range d.hooks.SessionEnd {
		if err := h(ctx); err != nil {
			d.logger.Warn("session end hook failed", "error", err)
		}
	}
}

// Outcome is Dispatch's return value: either the tool's own Result,
// or Blocked=true if a PreToolUse hook vetoed the call.
type Outcome struct {
	Blocked  bool
	Reason   string
	Result   tools.Result
	Executed bool
}

// Dispatch runs PreToolUse hooks (any proceed=false blocks the call
// before validation and execution), validates input against the
// tool's schema, executes the tool, then runs PostToolUse or
// PostToolUseFailure hooks depending on the result.
func (d *Dispatcher) Dispatch(ctx context.Context, toolName string, input map[string]any) (Outcome, error) {
	def, ok := d.tools.Get(toolName)
	if !ok {
		return Outcome{}, errs.New(errs.CodeToolNotFound, fmt.Sprintf("tool %q is not registered", toolName), nil)
	}

	hc := HookContext{ToolName: toolName, Input: input}
	for _, pre := range d.hooks.PreToolUse {
		outcome, err := pre(ctx, hc)
		if err != nil {
			d.logger.Warn("pre-tool-use hook errored", "tool", toolName, "error", err)
			continue
		}
		if !outcome.Proceed {
			return Outcome{Blocked: true, Reason: outcome.Reason}, nil
		}
	}

	if err := def.Validate(input); err != nil {
		return Outcome{}, err
	}

	result, err := def.Execute(ctx, input)
	if err != nil {
		hc.Err = err
		d.runPostHooks(ctx, d.hooks.PostToolUseFailure, hc)
		return Outcome{}, errs.New(errs.CodeToolExecution, "tool execution failed", err)
	}

	hc.Result = &result
	if result.Success {
		d.runPostHooks(ctx, d.hooks.PostToolUse, hc)
	} else {
		d.runPostHooks(ctx, d.hooks.PostToolUseFailure, hc)
	}

	return Outcome{Result: result, Executed: true}, nil
}

func (d *Dispatcher) runPostHooks(ctx context.Context, hooks []PostHook, hc HookContext) {
	for _, post := range hooks {
		if err := post(ctx, hc); err != nil {
			d.logger.Warn("post-tool-use hook errored", "tool", hc.ToolName, "error", err)
		}
	}
}

// ProposedCall is one tool call the LLM proposed in a single turn.
type ProposedCall struct {
	Name string
	Args map[string]any
}

// DispatchedCall pairs a ProposedCall with its Outcome.
type DispatchedCall struct {
	Call    ProposedCall
	Outcome Outcome
	Err     error
}

// DispatchTurn dispatches each proposed call in order, stopping
// immediately after the first clarification interrupt (spec §4.7):
// remaining calls in the turn are not executed and do not appear in
// the returned slice beyond the interrupting one.
func (d *Dispatcher) DispatchTurn(ctx context.Context, calls []ProposedCall) (dispatched []DispatchedCall, interruptedAt int) {
	interruptedAt = -1
	for i, call := range calls {
		outcome, err := d.Dispatch(ctx, call.Name, call.Args)
		dispatched = append(dispatched, DispatchedCall{Call: call, Outcome: outcome, Err: err})

		if err != nil || outcome.Blocked {
			continue
		}
		if outcome.Result.IsClarification() {
			interruptedAt = i
			break
		}
	}
	return dispatched, interruptedAt
}
