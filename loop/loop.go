package loop

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fenwick-labs/agentengine/adapter"
	memctx "github.com/fenwick-labs/agentengine/context"
	"github.com/fenwick-labs/agentengine/dispatcher"
	"github.com/fenwick-labs/agentengine/errs"
	"github.com/fenwick-labs/agentengine/lifecycle"
	"github.com/fenwick-labs/agentengine/llm"
	"github.com/fenwick-labs/agentengine/monitor"
	"github.com/fenwick-labs/agentengine/resolver"
	"github.com/fenwick-labs/agentengine/tools"
)

// HistoryEntry is one capped loop-state history record (spec §3.5).
type HistoryEntry struct {
	Tool   string
	Result string
	Data   map[string]any
}

// State is the loop's own state (spec §3.5); the Context Manager owns
// messages separately and is never referenced from here directly.
type State struct {
	Iteration        int
	Errors           []errs.EngineError
	History          []HistoryEntry
	TaskState        []string
	StartTime        time.Time
	LastStateSnapshot *monitor.StateSnapshot
	IsFirstIteration bool

	AwarenessVersion int
	AwarenessStale   bool
	Awareness        *adapter.Awareness
}

const maxHistoryEntries = 50

func (s *State) appendHistory(tool, result string, data map[string]any) {
	s.History = append(s.History, HistoryEntry{Tool: tool, Result: result, Data: data})
	if len(s.History) > maxHistoryEntries {
		s.History = s.History[len(s.History)-maxHistoryEntries:]
	}
}

// Config configures one Run call.
type Config struct {
	SystemPrompt       string
	Model              string
	MaxTokens          int
	Temperature        float64
	MaxIterations      int // default 25
	MaxErrors          int // default 3
	CheckpointInterval int // 0 disables checkpoint events
	Tools              []llm.ToolDefinition

	// MutatingTools names every tool whose execution invalidates
	// adapter awareness (spec §3.5's mutation effect rule); tools not
	// listed are treated as read-only (version bump only).
	MutatingTools map[string]bool

	ResourceRegistry resolver.Registry
	ResolverOptions  resolver.Options
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 25
	}
	if c.MaxErrors <= 0 {
		c.MaxErrors = 3
	}
	return c
}

// Loop wires every component the TOAD state machine depends on.
type Loop struct {
	Context    *memctx.Manager
	Provider   llm.Provider
	Dispatcher *dispatcher.Dispatcher
	Adapter    adapter.Adapter // optional; nil disables awareness/state-snapshot steps
	Monitor    *monitor.Monitor
	Lifecycle  *lifecycle.Manager
}

// Run executes one agent run to completion, returning a channel of
// progress events that always ends with exactly one terminal event
// (spec §4.1's contract).
func (l *Loop) Run(ctx context.Context, task string, cfg Config) <-chan Event {
	cfg = cfg.withDefaults()
	events := make(chan Event, 16)

	go func() {
		defer close(events)
		state := &State{StartTime: time.Now(), IsFirstIteration: true, AwarenessStale: true}
		emit := func(kind EventKind, data map[string]any) {
			ev := newEvent(kind, state.Iteration, data)
			select {
			case events <- ev:
				return
			default:
			}
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		}

		emit(EventSystem, map[string]any{"task": task})

		resolvedTask := task
		currentTask := task

		for {
			if ctx.Err() != nil {
				emit(EventCancelled, map[string]any{"reason": ctx.Err().Error()})
				return
			}

			resolvedTask = l.think(ctx, state, currentTask, cfg, emit)

			resp, genErr := l.generateWithRetry(ctx, state, cfg, resolvedTask, emit)
			if genErr != nil {
				code, _ := errs.CodeOf(genErr)
				emit(EventFailed, map[string]any{"reason": genErr.Error(), "code": string(code)})
				return
			}

			preDecision := decide(decideInput{
				Cancelled:     ctx.Err() != nil,
				NoToolCalls:   len(resp.ToolCalls) == 0,
				FinishedStop:  resp.FinishReason == llm.FinishStop,
				Summary:       cleanSummary(resp.Text),
				ErrorCount:    len(state.Errors),
				MaxErrors:     cfg.MaxErrors,
				Iteration:     state.Iteration,
				MaxIterations: cfg.MaxIterations,
			})
			switch preDecision.Kind {
			case DecisionCancelled:
				emit(EventCancelled, map[string]any{"reason": preDecision.Reason})
				return
			case DecisionComplete:
				emit(EventComplete, map[string]any{"summary": preDecision.Summary})
				return
			case DecisionFailed:
				emit(EventFailed, map[string]any{"reason": preDecision.Reason, "errors": len(state.Errors)})
				return
			case DecisionTimeout:
				emit(EventTimeout, map[string]any{"reason": preDecision.Reason})
				return
			}

			interruptID, actErr := l.act(ctx, state, resp, cfg, emit)
			if actErr != nil {
				state.Errors = append(state.Errors, *errs.New(errs.CodeAgentExecutionFailed, actErr.Error(), actErr))
			}

			l.observe(ctx, state, cfg)

			final := decide(decideInput{
				Cancelled:       ctx.Err() != nil,
				NoToolCalls:     len(resp.ToolCalls) == 0,
				FinishedStop:    resp.FinishReason == llm.FinishStop,
				Interrupted:     interruptID != "",
				ClarificationID: interruptID,
				ErrorCount:      len(state.Errors),
				MaxErrors:       cfg.MaxErrors,
				Iteration:       state.Iteration,
				MaxIterations:   cfg.MaxIterations,
			})

			switch final.Kind {
			case DecisionCancelled:
				emit(EventCancelled, map[string]any{"reason": final.Reason})
				return
			case DecisionInterrupted:
				// act already emitted clarification_needed, the run's terminal event.
				return
			case DecisionFailed:
				emit(EventFailed, map[string]any{"reason": final.Reason, "errors": len(state.Errors)})
				return
			case DecisionTimeout:
				emit(EventTimeout, map[string]any{"reason": final.Reason})
				return
			}

			state.Iteration++
			state.IsFirstIteration = false
			if cfg.CheckpointInterval > 0 && state.Iteration%cfg.CheckpointInterval == 0 {
				emit(EventCheckpoint, map[string]any{"iteration": state.Iteration})
			}
			currentTask = task // subsequent THINK phases re-resolve aliases against the original task
		}
	}()

	return events
}

// think implements the THINK phase (spec §4.1).
func (l *Loop) think(ctx context.Context, state *State, task string, cfg Config, emit func(EventKind, map[string]any)) string {
	emit(EventThinking, map[string]any{})

	if l.Adapter != nil && (state.Awareness == nil || state.AwarenessStale) {
		aw, err := l.Adapter.GetAwareness(ctx, adapter.AwarenessOptions{IncludeSkeleton: true, IncludeRelevant: true, MaxTokens: 2000})
		if err == nil {
			state.Awareness = &aw
			state.AwarenessStale = aw.Stale
			emit(EventContext, map[string]any{"awareness": aw.Skeleton})
		} else {
			emit(EventWarning, map[string]any{"warning": "awareness fetch failed: " + err.Error()})
		}
	}

	if l.Adapter != nil {
		snap, err := l.Adapter.GetState(ctx, adapter.StateSnapshotOptions{})
		if err == nil {
			state.LastStateSnapshot = &monitor.StateSnapshot{
				IDs:    toIDSet(snap.Data),
				Fields: toFieldMap(snap.Data),
			}
		}
		// on failure, lastStateSnapshot is left at its previous value
		// (spec §4.1 THINK step 2: "fallback to previous on failure").
	}

	if l.Lifecycle != nil {
		report := l.Lifecycle.AgeResults(state.Iteration)
		if len(report.Compressed)+len(report.Archived)+len(report.Evicted) > 0 {
			emit(EventContextInjected, map[string]any{
				"compressed": report.Compressed, "archived": report.Archived,
				"evicted": report.Evicted, "tokensSaved": report.TokensSaved,
			})
		}
	}

	var ephemeral []string
	ephemeral = append(ephemeral, formatStateSummary(state))
	if len(state.TaskState) > 0 {
		ephemeral = append(ephemeral, formatTaskList(state.TaskState))
	}
	if l.Monitor != nil {
		if corrections, ok := l.Monitor.PopPendingCorrections(); ok {
			ephemeral = append(ephemeral, corrections)
			emit(EventCorrection, map[string]any{"text": corrections})
		}
	}
	if l.Context != nil {
		for _, text := range ephemeral {
			l.Context.AddMessage(memctx.NewMessage(memctx.RoleSystem, memctx.TierEphemeral, text, memctx.PriorityLow), nil)
		}
	}

	resolvedTask := task
	if l.Context != nil && cfg.ResourceRegistry != nil && len(resolver.AliasNames(task)) > 0 {
		emit(EventAliasResolving, map[string]any{"aliases": resolver.AliasNames(task)})
		result := resolver.Resolve(ctx, task, cfg.ResourceRegistry, cfg.ResolverOptions)
		resolvedTask = result.ResolvedText
		block := result.ContextBlock
		if ratio := cfg.ResolverOptions.ResourceBudgetRatio; ratio > 0 {
			block = resolver.FitContextBlock(block, l.Context.GetBudget().Remaining(), ratio)
		}
		if block != "" {
			l.Context.AddMessage(memctx.NewMessage(memctx.RoleSystem, memctx.TierResources, block, memctx.PriorityNormal), nil)
		}
		emit(EventAliasResolved, map[string]any{"values": result.Values, "errors": len(result.Errors)})
	}

	userMessage := assembleUserMessage(resolvedTask, state)
	if l.Context != nil {
		l.Context.AddUserMessage(userMessage, nil)
	}

	return resolvedTask
}

// generateWithRetry implements GENERATE plus the retry-on-error
// semantics from spec §4.1's failure-semantics paragraph: generation
// errors retry in place (same iteration) except api-key-missing,
// which is immediately fatal.
func (l *Loop) generateWithRetry(ctx context.Context, state *State, cfg Config, resolvedTask string, emit func(EventKind, map[string]any)) (llm.GenerateResponse, error) {
	for {
		req := llm.GenerateRequest{
			Model:        cfg.Model,
			SystemPrompt: cfg.SystemPrompt,
			UserMessage:  resolvedTask,
			Tools:        cfg.Tools,
			MaxTokens:    cfg.MaxTokens,
			Temperature:  cfg.Temperature,
		}
		if l.Context != nil {
			req.History = toLLMHistory(l.Context.ToAPIFormat())
		}

		resp, err := l.Provider.Generate(ctx, req)
		if err == nil {
			emit(EventReasoning, map[string]any{"text": resp.Text, "toolCalls": len(resp.ToolCalls)})
			return resp, nil
		}

		if code, ok := errs.CodeOf(err); ok && code == errs.CodeAgentAPIKeyMissing {
			return llm.GenerateResponse{}, err
		}

		state.Errors = append(state.Errors, *errs.New(errs.CodeAgentGenerationFailed, err.Error(), err))
		emit(EventRecovery, map[string]any{"error": err.Error(), "errorCount": len(state.Errors)})

		if len(state.Errors) >= cfg.MaxErrors {
			return llm.GenerateResponse{}, err
		}
	}
}

// act implements the ACT phase, returning the clarificationId of the
// first clarification interrupt seen in this turn (empty if none).
func (l *Loop) act(ctx context.Context, state *State, resp llm.GenerateResponse, cfg Config, emit func(EventKind, map[string]any)) (string, error) {
	if len(resp.ToolCalls) == 0 {
		return "", nil
	}

	calls := make([]dispatcher.ProposedCall, len(resp.ToolCalls))
	for i, tc := range resp.ToolCalls {
		calls[i] = dispatcher.ProposedCall{Name: tc.Name, Args: tc.Args}
	}

	dispatched, _ := l.Dispatcher.DispatchTurn(ctx, calls)

	var interruptID string
	var firstErr error
	for _, d := range dispatched {
		emit(EventActing, map[string]any{"tool": d.Call.Name, "input": d.Call.Args})

		if d.Outcome.Blocked {
			emit(EventBlocked, map[string]any{"tool": d.Call.Name, "reason": d.Outcome.Reason})
			continue
		}
		if d.Err != nil {
			if firstErr == nil {
				firstErr = d.Err
			}
			emit(EventError, map[string]any{"tool": d.Call.Name, "error": d.Err.Error()})
			continue
		}

		emit(EventToolCall, map[string]any{"tool": d.Call.Name, "input": d.Call.Args})

		if d.Outcome.Result.IsClarification() {
			interruptID = d.Outcome.Result.ClarificationID
			emit(EventClarificationNeeded, map[string]any{"clarificationId": interruptID, "questions": d.Outcome.Result.Questions})
			break
		}

		emit(EventObserving, map[string]any{"tool": d.Call.Name, "success": d.Outcome.Result.Success})

		resultText := resultToText(d.Outcome.Result)
		if l.Context != nil {
			l.Context.AddToolResult(d.Call.Name, d.Call.Name, resultText, !d.Outcome.Result.Success)
		}
		state.appendHistory(d.Call.Name, resultText, d.Outcome.Result.Data)

		if !d.Outcome.Result.Success && firstErr == nil {
			if d.Outcome.Result.Error != nil {
				firstErr = d.Outcome.Result.Error
			} else {
				firstErr = fmt.Errorf("tool %q failed", d.Call.Name)
			}
		}

		if cfg.MutatingTools[d.Call.Name] {
			state.AwarenessStale = true
		}
		state.AwarenessVersion++

		emit(EventTaskUpdate, map[string]any{"tool": d.Call.Name})
	}

	return interruptID, firstErr
}

// observe implements the OBSERVE phase's validation/lifecycle-tracking
// half (result application already happened inline in act, since the
// dispatcher already returns structured results per call). Only the
// most recent history entry is processed: it is fed to the error-loop
// detector, checked against lastStateSnapshot via the echo monitor
// (spec §4.5), where a result claiming an identifier or field value
// the snapshot doesn't recognize queues a correction for the next
// THINK, and added to the lifecycle manager. Earlier results from the
// same turn are neither validated nor tracked, and a turn that
// produced no result processes the previous turn's entry again.
func (l *Loop) observe(ctx context.Context, state *State, cfg Config) {
	if len(state.History) == 0 {
		return
	}
	latest := state.History[len(state.History)-1]

	if l.Monitor != nil {
		if loopResult := l.Monitor.DetectErrorLoop(latest.Result, latest.Tool); loopResult != nil {
			l.Monitor.AddRepeatedErrorCorrection(latest.Tool, loopResult.Count)
		}

		if state.LastStateSnapshot != nil {
			validation := monitor.ValidateToolResult(toMonitorResult(latest.Data), *state.LastStateSnapshot)
			for _, issue := range validation.Issues {
				if issue.Type == monitor.IssueInvalidID || issue.Type == monitor.IssueStaleState {
					l.Monitor.AddInvalidIdCorrection(issue.Claimed)
				}
			}
		}
	}

	if l.Lifecycle != nil {
		l.Lifecycle.Add(fmt.Sprintf("%s-%d", latest.Tool, state.Iteration), latest.Tool, latest.Result, false, state.Iteration)
	}
}

// idKeys are the conventional tool/adapter result keys carrying
// identifiers the echo monitor checks against lastStateSnapshot.ids
// (spec §6.4's elementIds convention).
var idKeys = []string{"elementIds", "ids", "resourceIds"}

// toIDSet extracts the referenced-identifier set from a state
// snapshot's data, per the elementIds convention (spec §6.4).
func toIDSet(data map[string]any) map[string]bool {
	out := make(map[string]bool)
	for _, key := range idKeys {
		raw, ok := data[key]
		if !ok {
			continue
		}
		for _, id := range toStringSlice(raw) {
			out[id] = true
		}
	}
	return out
}

// toMonitorResult adapts a tool result's raw data into the shape
// ValidateToolResult checks against lastStateSnapshot.
func toMonitorResult(data map[string]any) monitor.ToolResult {
	var ids []string
	fields := make(map[string]string)
	for k, v := range data {
		if isIDKey(k) {
			ids = append(ids, toStringSlice(v)...)
			continue
		}
		fields[k] = fmt.Sprintf("%v", v)
	}
	return monitor.ToolResult{ReferencedIDs: ids, Fields: fields}
}

func isIDKey(key string) bool {
	for _, k := range idKeys {
		if k == key {
			return true
		}
	}
	return false
}

func toStringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	case string:
		return []string{vv}
	default:
		return nil
	}
}

func toFieldMap(data map[string]any) map[string]string {
	out := make(map[string]string, len(data))
	for k, v := range data {
		if isIDKey(k) {
			continue
		}
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}

func formatStateSummary(state *State) string {
	if state.LastStateSnapshot == nil {
		return "State: unknown (no snapshot available yet)."
	}
	return fmt.Sprintf("State: %d known fields.", len(state.LastStateSnapshot.Fields))
}

func formatTaskList(tasks []string) string {
	return "Task list:\n- " + strings.Join(tasks, "\n- ")
}

func assembleUserMessage(resolvedTask string, state *State) string {
	var b strings.Builder
	b.WriteString(resolvedTask)
	if state.Awareness != nil {
		b.WriteString("\n\nAwareness: ")
		b.WriteString(state.Awareness.Skeleton)
	}
	if n := len(state.History); n > 0 {
		b.WriteString("\n\nRecent history:\n")
		start := n - 5
		if start < 0 {
			start = 0
		}
		for _, h := range state.History[start:] {
			b.WriteString(fmt.Sprintf("- %s: %s\n", h.Tool, h.Result))
		}
	}
	return b.String()
}

func toLLMHistory(messages []*memctx.Message) []llm.Message {
	out := make([]llm.Message, len(messages))
	for i, m := range messages {
		out[i] = llm.Message{Role: string(m.Role), Text: m.Text, ToolName: m.Metadata["tool_name"]}
	}
	return out
}

func resultToText(r tools.Result) string {
	if !r.Success {
		if r.Error != nil {
			return r.Error.Message
		}
		return "tool failed"
	}
	return fmt.Sprintf("%v", r.Data)
}

func cleanSummary(text string) string {
	return strings.TrimSpace(text)
}
