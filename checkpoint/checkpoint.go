// Package checkpoint implements the optional persisted state layout
// (spec §6.4): a JSON document capturing everything needed to resume
// a session, plus the staleness check every loader must run before
// resuming (spec §4.5).
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	memctx "github.com/fenwick-labs/agentengine/context"
	"github.com/fenwick-labs/agentengine/monitor"
)

// LastStateSnapshotMeta is the metadata.lastStateSnapshot block from
// spec §6.4.
type LastStateSnapshotMeta struct {
	ElementCount int       `json:"elementCount,omitempty"`
	ElementIDs   []string  `json:"elementIds,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Metadata is the checkpoint's metadata block.
type Metadata struct {
	LastStateSnapshot LastStateSnapshotMeta `json:"lastStateSnapshot"`
}

// State is one persisted checkpoint document (spec §6.4).
type State struct {
	SessionID string            `json:"sessionId"`
	UpdatedAt time.Time         `json:"updatedAt"`
	Messages  []*memctx.Message `json:"messages"`
	Budget    BudgetSnapshot    `json:"budget"`
	Resources map[string]string `json:"resources"`
	TaskState []string          `json:"taskState"`
	Metadata  Metadata          `json:"metadata"`
}

// BudgetSnapshot is the serializable view of a context.TokenBudget.
type BudgetSnapshot struct {
	MaxTokens   int                    `json:"maxTokens"`
	Allocations map[memctx.Tier]int    `json:"allocations"`
}

// Capture builds a State document from a live Context Manager, loop
// state, and the resolver's last-resolved values.
func Capture(sessionID string, mgr *memctx.Manager, resources map[string]string, taskState []string, lastSnapshot *monitor.StateSnapshot) State {
	snap := mgr.Snapshot()

	var messages []*memctx.Message
	for _, t := range memctx.AllTiers {
		messages = append(messages, snap[t]...)
	}

	budget := mgr.GetBudget()
	allocations := make(map[memctx.Tier]int, len(budget.Allocations))
	for t, n := range budget.Allocations {
		allocations[t] = n
	}

	meta := Metadata{}
	if lastSnapshot != nil {
		ids := make([]string, 0, len(lastSnapshot.IDs))
		for id, present := range lastSnapshot.IDs {
			if present {
				ids = append(ids, id)
			}
		}
		meta.LastStateSnapshot = LastStateSnapshotMeta{
			ElementCount: len(ids),
			ElementIDs:   ids,
			Timestamp:    time.Now(),
		}
	}

	return State{
		SessionID: sessionID,
		UpdatedAt: time.Now(),
		Messages:  messages,
		Budget:    BudgetSnapshot{MaxTokens: budget.MaxTokens, Allocations: allocations},
		Resources: resources,
		TaskState: taskState,
		Metadata:  meta,
	}
}

// Marshal renders a State document as indented JSON.
func Marshal(s State) ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// Unmarshal parses a State document from JSON.
func Unmarshal(data []byte) (State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("checkpoint: failed to parse state: %w", err)
	}
	return s, nil
}

// Store persists and loads checkpoint documents. The Backend is
// pluggable (filesystem, object storage, a database row) so the
// package itself stays storage-agnostic, matching the teacher's
// Storage/RecoveryManager split (v2/checkpoint/recovery.go delegates
// all I/O to a separate Storage type).
type Backend interface {
	Save(ctx context.Context, sessionID string, data []byte) error
	Load(ctx context.Context, sessionID string) ([]byte, error)
	Delete(ctx context.Context, sessionID string) error
}

// Store wraps a Backend with the JSON (de)serialization and staleness
// checks every resume must go through.
type Store struct {
	backend Backend
}

// NewStore constructs a Store over backend.
func NewStore(backend Backend) *Store {
	return &Store{backend: backend}
}

// Save persists state through the backend.
func (s *Store) Save(ctx context.Context, state State) error {
	data, err := Marshal(state)
	if err != nil {
		return fmt.Errorf("checkpoint: failed to marshal state: %w", err)
	}
	return s.backend.Save(ctx, state.SessionID, data)
}

// Delete removes a checkpoint.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	return s.backend.Delete(ctx, sessionID)
}

// ResumeResult is Load's return value: the parsed state plus the
// staleness report that must be consulted before acting on it (spec
// §6.4: "loaders must compute a staleness report before resuming").
type ResumeResult struct {
	State     State
	Staleness monitor.StalenessReport
}

// Load fetches and parses a checkpoint, computing its staleness
// report against now. Contradictions are left empty here since
// detecting them requires a freshly fetched adapter snapshot, which
// only the caller (with an Adapter in hand) can obtain; callers that
// have one should call ComputeStalenessReport themselves instead with
// the real contradiction list once they've re-validated the
// checkpoint's lastStateSnapshot against a live fetch.
func (s *Store) Load(ctx context.Context, sessionID string) (ResumeResult, error) {
	data, err := s.backend.Load(ctx, sessionID)
	if err != nil {
		return ResumeResult{}, fmt.Errorf("checkpoint: failed to load %s: %w", sessionID, err)
	}
	state, err := Unmarshal(data)
	if err != nil {
		return ResumeResult{}, err
	}

	age := time.Since(state.UpdatedAt)
	report := monitor.ComputeStalenessReport(age, nil)

	return ResumeResult{State: state, Staleness: report}, nil
}
