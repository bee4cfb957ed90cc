// Package monitor implements the Echo-Poisoning & Staleness Monitor
// (spec §4.5): validation of tool results against the last known
// state snapshot, detection of repeated-error loops, and a staleness
// report used when resuming a session from a checkpoint.
package monitor

import (
	"fmt"
	"sync"
	"time"
)

// IssueType classifies a problem found by ValidateToolResult.
type IssueType string

const (
	IssueInvalidID  IssueType = "invalid_id"
	IssueStaleState IssueType = "stale_state"
)

// Issue is one problem surfaced while validating a tool result
// against the last known snapshot.
type Issue struct {
	Type    IssueType
	Claimed string
}

// ValidationResult is ValidateToolResult's return value.
type ValidationResult struct {
	Valid  bool
	Issues []Issue
}

// StateSnapshot is the last known ground truth the monitor validates
// tool results against.
type StateSnapshot struct {
	IDs    map[string]bool
	Fields map[string]string // field name -> last known value, for contradiction checks
}

// ToolResult is the minimal shape the monitor needs from a dispatched
// tool's result to check it for echoes of stale or invented state.
type ToolResult struct {
	ReferencedIDs []string
	Fields        map[string]string
}

// ValidateToolResult checks result against lastSnapshot: any
// referenced identifier absent from the snapshot is an invalid_id
// issue; any field whose claimed value contradicts the snapshot's
// last known value is a stale_state issue.
func ValidateToolResult(result ToolResult, lastSnapshot StateSnapshot) ValidationResult {
	var issues []Issue

	for _, id := range result.ReferencedIDs {
		if lastSnapshot.IDs == nil || !lastSnapshot.IDs[id] {
			issues = append(issues, Issue{Type: IssueInvalidID, Claimed: id})
		}
	}

	for field, claimed := range result.Fields {
		known, ok := lastSnapshot.Fields[field]
		if ok && known != claimed {
			issues = append(issues, Issue{Type: IssueStaleState, Claimed: fmt.Sprintf("%s=%s", field, claimed)})
		}
	}

	return ValidationResult{Valid: len(issues) == 0, Issues: issues}
}

// ErrorLoopResult is DetectErrorLoop's return value.
type ErrorLoopResult struct {
	Detected bool
	Count    int
	Message  string
}

// fingerprint is one recent tool-call observation: the scope it was
// recorded under and its error message (empty if it succeeded). Tool
// arguments are not part of it; loop.observe records the tool name as
// the scope.
type fingerprint struct {
	scope   string
	message string
}

// Monitor maintains the FIFO of recent fingerprints and the queue of
// pending corrections for the next THINK phase. Safe for concurrent
// use.
type Monitor struct {
	mu sync.Mutex

	history    []fingerprint
	historyCap int

	loopThreshold int

	pending []string
}

// New constructs a Monitor. historyCap bounds the fingerprint FIFO;
// loopThreshold is N in "N consecutive identical errors" (spec §4.5
// default 3).
func New(historyCap, loopThreshold int) *Monitor {
	if historyCap <= 0 {
		historyCap = 50
	}
	if loopThreshold <= 0 {
		loopThreshold = 3
	}
	return &Monitor{historyCap: historyCap, loopThreshold: loopThreshold}
}

// DetectErrorLoop records one observation (message, scope) and checks
// whether the last loopThreshold observations for this scope are an
// identical error message.
func (m *Monitor) DetectErrorLoop(message, scope string) *ErrorLoopResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, fingerprint{scope: scope, message: message})
	if len(m.history) > m.historyCap {
		m.history = m.history[len(m.history)-m.historyCap:]
	}

	if message == "" {
		return nil
	}

	count := 0
	for i := len(m.history) - 1; i >= 0; i-- {
		f := m.history[i]
		if f.scope != scope {
			continue
		}
		if f.message != message {
			break
		}
		count++
		if count >= m.loopThreshold {
			break
		}
	}

	if count < m.loopThreshold {
		return nil
	}

	return &ErrorLoopResult{
		Detected: true,
		Count:    count,
		Message:  message,
	}
}

// AddInvalidIdCorrection queues a correction noting that id does not
// exist, for injection into the ephemeral tier before the next THINK.
func (m *Monitor) AddInvalidIdCorrection(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, fmt.Sprintf(
		"Correction: the identifier %q does not exist in the current state. Do not reference it again; re-read the current state before acting.", id))
}

// AddRepeatedErrorCorrection queues a correction noting that the same
// error recurred count times for scope.
func (m *Monitor) AddRepeatedErrorCorrection(scope string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, fmt.Sprintf(
		"Correction: the action %q has failed identically %d times in a row. Stop retrying it verbatim; change your approach or ask for clarification.", scope, count))
}

// PopPendingCorrections returns and clears all queued corrections,
// joined into one ephemeral-tier message, or ("", false) if none are
// pending.
func (m *Monitor) PopPendingCorrections() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return "", false
	}
	text := ""
	for i, c := range m.pending {
		if i > 0 {
			text += "\n"
		}
		text += c
	}
	m.pending = nil
	return text, true
}

// StalenessLevel classifies how old a session is for resumption
// purposes (spec §4.5).
type StalenessLevel string

const (
	StalenessLow      StalenessLevel = "low"
	StalenessMedium   StalenessLevel = "medium"
	StalenessHigh     StalenessLevel = "high"
	StalenessCritical StalenessLevel = "critical"
)

// StalenessReport is produced when resuming a session from a
// checkpoint.
type StalenessReport struct {
	Age            time.Duration
	Level          StalenessLevel
	Contradictions []Issue
	CanResume      bool
	Recommendation string
}

// ComputeStalenessReport classifies age into a level (≤1h low, ≤1d
// medium, ≤4d high, else critical) and folds in any contradictions
// found by comparing the checkpoint's claimed state against a freshly
// fetched snapshot. Critical staleness forces canResume=false
// regardless of contradictions.
func ComputeStalenessReport(age time.Duration, contradictions []Issue) StalenessReport {
	var level StalenessLevel
	switch {
	case age <= time.Hour:
		level = StalenessLow
	case age <= 24*time.Hour:
		level = StalenessMedium
	case age <= 4*24*time.Hour:
		level = StalenessHigh
	default:
		level = StalenessCritical
	}

	canResume := level != StalenessCritical
	recommendation := recommendationFor(level, len(contradictions) > 0)

	return StalenessReport{
		Age:            age,
		Level:          level,
		Contradictions: contradictions,
		CanResume:      canResume,
		Recommendation: recommendation,
	}
}

func recommendationFor(level StalenessLevel, hasContradictions bool) string {
	switch level {
	case StalenessLow:
		if hasContradictions {
			return "Resume, but re-validate the referenced state before acting on it."
		}
		return "Safe to resume as-is."
	case StalenessMedium:
		return "Resume, but refresh the state snapshot before the first action."
	case StalenessHigh:
		return "Resume only after a full state re-fetch; treat prior claims as unverified."
	default:
		return "Do not resume; start a fresh session and re-derive state from the backend."
	}
}
