// Package loop implements the Loop Orchestrator (spec §4.1): the
// THINK/GENERATE/ACT/OBSERVE/DECIDE state machine that drives one
// agent run to a single terminal event, emitting a lazy stream of
// progress events along the way.
package loop

import (
	"time"

	"github.com/google/uuid"
)

// EventKind names one point in the loop's progress stream (spec
// §4.1/§6.1).
type EventKind string

const (
	EventSystem              EventKind = "system"
	EventThinking            EventKind = "thinking"
	EventContext             EventKind = "context"
	EventReasoning           EventKind = "reasoning"
	EventPlan                EventKind = "plan"
	EventStepStart           EventKind = "step_start"
	EventStepComplete        EventKind = "step_complete"
	EventActing              EventKind = "acting"
	EventObserving           EventKind = "observing"
	EventBlocked             EventKind = "blocked"
	EventToolCall            EventKind = "tool_call"
	EventToolResult          EventKind = "tool_result"
	EventTaskUpdate          EventKind = "task_update"
	EventContextInjected     EventKind = "context_injected"
	EventCorrection          EventKind = "correction"
	EventClarificationNeeded EventKind = "clarification_needed"
	EventAliasResolving      EventKind = "alias_resolving"
	EventAliasResolved       EventKind = "alias_resolved"
	EventCheckpoint          EventKind = "checkpoint"
	EventDelegating          EventKind = "delegating"
	EventDelegationComplete  EventKind = "delegation_complete"
	EventRecovery            EventKind = "recovery"
	EventWarning             EventKind = "warning"
	EventError               EventKind = "error"
	EventComplete            EventKind = "complete"
	EventFailed              EventKind = "failed"
	EventTimeout             EventKind = "timeout"
	EventCancelled           EventKind = "cancelled"
)

// terminalKinds is the fixed set of event kinds that end a run (spec
// §4.1: "the sequence is finite and always ends with exactly one
// terminal event").
var terminalKinds = map[EventKind]bool{
	EventComplete:  true,
	EventFailed:    true,
	EventTimeout:   true,
	EventCancelled: true,
	EventClarificationNeeded: true,
}

// Event is one entry in the loop's progress stream.
type Event struct {
	ID        string
	Kind      EventKind
	Iteration int
	Timestamp time.Time
	Data      map[string]any
}

func newEvent(kind EventKind, iteration int, data map[string]any) Event {
	if data == nil {
		data = map[string]any{}
	}
	return Event{ID: uuid.NewString(), Kind: kind, Iteration: iteration, Timestamp: time.Now(), Data: data}
}

func (e Event) IsTerminal() bool { return terminalKinds[e.Kind] }
