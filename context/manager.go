package context

import (
	"fmt"
	"sort"
	"sync"
)

// OverflowError is returned by PrepareForRequest when compression and
// eviction cannot bring content within budget (spec §4.2).
type OverflowError struct {
	Overflow int
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("context: cannot fit request within budget, overflow=%d tokens", e.Overflow)
}

// Allocator is the subset of memory.Allocate the manager depends on,
// expressed as a function type so this package never imports memory
// (memory already imports context; a direct dependency back would
// cycle).
type Allocator func(totalBudget int, tierConfigs map[Tier]TierConfig, currentByTier map[Tier][]*Message, incoming []*Message, reservations int) AllocateResult

// AllocateResult mirrors memory.AllocateResult's shape without
// importing the memory package.
type AllocateResult struct {
	Allocations map[Tier]int
	Retained    map[Tier][]*Message
	ToCompress  []*Message
	ToEvict     []*Message
	Success     bool
	Overflow    int
}

// Compressor compresses a set of messages, used by the manager's
// compress-until-fit loop. Expressed as a function type for the same
// import-direction reason as Allocator.
type Compressor func(messages []*Message, targetTokens int) []*Message

// PreparedRequest is the Context Manager's contract output: everything
// needed to call an LLM provider, guaranteed to fit the budget.
type PreparedRequest struct {
	Messages        []*Message
	SystemPrompt    string
	BudgetBreakdown map[Tier]int
}

// ManagerOptions configures a Manager's dependencies.
type ManagerOptions struct {
	TotalBudget int
	Allocate    Allocator
	Compress    Compressor
	TierConfigs map[Tier]TierConfig // defaults to DefaultTierConfigs(TotalBudget) if nil
}

// Manager mediates all access to messages and the token budget (spec
// §4.2). It owns every Message in the engine; no other package holds
// a canonical copy.
type Manager struct {
	mu          sync.Mutex
	byTier      map[Tier][]*Message
	byID        map[string]*Message
	budget      *TokenBudget
	tierConfigs map[Tier]TierConfig
	allocate    Allocator
	compress    Compressor
}

// NewManager constructs a Manager over opts.
func NewManager(opts ManagerOptions) *Manager {
	tierConfigs := opts.TierConfigs
	if tierConfigs == nil {
		tierConfigs = DefaultTierConfigs(opts.TotalBudget)
	}
	m := &Manager{
		byTier:      map[Tier][]*Message{},
		byID:        map[string]*Message{},
		budget:      NewTokenBudget(opts.TotalBudget),
		tierConfigs: tierConfigs,
		allocate:    opts.Allocate,
		compress:    opts.Compress,
	}
	for _, t := range AllTiers {
		m.byTier[t] = nil
	}
	return m
}

// AddSystemMessage appends a critical-priority system-tier message.
func (m *Manager) AddSystemMessage(text string) *Message {
	return m.AddMessage(NewMessage(RoleSystem, TierSystem, text, PriorityCritical), nil)
}

// AddUserMessage appends a normal-priority recent-tier message.
func (m *Manager) AddUserMessage(text string, meta map[string]string) *Message {
	msg := NewMessage(RoleUser, TierRecent, text, PriorityNormal)
	return m.AddMessage(msg, meta)
}

// AddAssistantMessage appends a high-priority recent-tier message.
func (m *Manager) AddAssistantMessage(text string, meta map[string]string) *Message {
	msg := NewMessage(RoleAssistant, TierRecent, text, PriorityHigh)
	return m.AddMessage(msg, meta)
}

// AddToolResult appends a recent-tier tool message tagged with
// toolName for tool-aware compression (spec §4.2).
func (m *Manager) AddToolResult(callID, toolName, content string, isError bool) *Message {
	msg := NewMessage(RoleTool, TierRecent, content, PriorityNormal)
	msg.Metadata["tool_name"] = toolName
	msg.Metadata["call_id"] = callID
	if isError {
		msg.Metadata["is_error"] = "true"
	}
	return m.AddMessage(msg, nil)
}

// AddMessage appends msg to its own Tier, copying meta into
// msg.Metadata. msg.Tokens is stored as given; no estimate is made.
func (m *Manager) AddMessage(msg *Message, meta map[string]string) *Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, v := range meta {
		msg.Metadata[k] = v
	}

	m.byTier[msg.Tier] = append(m.byTier[msg.Tier], msg)
	m.byID[msg.ID] = msg
	return msg
}

// GetBudget returns the manager's token budget tracker.
func (m *Manager) GetBudget() *TokenBudget {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.budget
}

// Clear removes every message from every tier. Reservations on the
// budget survive, per spec §3.3/§4.2.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range AllTiers {
		m.byTier[t] = nil
	}
	m.byID = map[string]*Message{}
	m.budget.Reset()
}

// ToAPIFormat renders every tier as a flat slice suitable for an LLM
// provider call, in the order system, tools, resources, recent,
// archived, ephemeral, keeping insertion order within each tier.
func (m *Manager) ToAPIFormat() []*Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Message
	out = append(out, m.byTier[TierSystem]...)
	out = append(out, m.byTier[TierTools]...)
	out = append(out, m.byTier[TierResources]...)
	out = append(out, m.byTier[TierRecent]...)
	out = append(out, m.byTier[TierArchived]...)
	out = append(out, m.byTier[TierEphemeral]...)
	return out
}

// PrepareForRequestOptions tunes one PrepareForRequest call.
type PrepareForRequestOptions struct {
	SystemPrompt string
	Reservations int
	MaxAttempts  int // compress-then-recheck retries before giving up; default 3
}

// PrepareForRequest runs the allocator (spec §4.3); whenever it
// reports success=false, the manager compresses the tiers flagged
// ToCompress and retries, up to MaxAttempts times, surfacing an
// OverflowError if it still cannot fit (spec §4.2's "re-checks until
// fit is achieved or an OverflowError is surfaced").
func (m *Manager) PrepareForRequest(opts PrepareForRequestOptions) (PreparedRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	reservations := opts.Reservations
	if reservations == 0 {
		reservations = m.budget.ReservedTotal()
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		result := m.allocate(m.budget.MaxTokens, m.tierConfigs, m.byTier, nil, reservations)

		if result.Success {
			m.applyRetained(result.Retained)
			return PreparedRequest{
				Messages:        m.orderedMessages(),
				SystemPrompt:    opts.SystemPrompt,
				BudgetBreakdown: result.Allocations,
			}, nil
		}

		if len(result.ToCompress) == 0 || m.compress == nil {
			return PreparedRequest{}, &OverflowError{Overflow: result.Overflow}
		}

		m.compressInPlace(result.ToCompress)
	}

	return PreparedRequest{}, &OverflowError{Overflow: -1}
}

func (m *Manager) applyRetained(retained map[Tier][]*Message) {
	if retained == nil {
		return
	}
	for _, t := range AllTiers {
		if kept, ok := retained[t]; ok {
			m.byTier[t] = kept
		}
	}
}

// compressInPlace replaces to-compress messages' tier contents with
// the compressor's output, keyed by identity to avoid touching
// messages not selected for compression.
func (m *Manager) compressInPlace(toCompress []*Message) {
	targets := make(map[string]bool, len(toCompress))
	for _, msg := range toCompress {
		targets[msg.ID] = true
	}

	for _, t := range AllTiers {
		var selected, rest []*Message
		for _, msg := range m.byTier[t] {
			if targets[msg.ID] {
				selected = append(selected, msg)
			} else {
				rest = append(rest, msg)
			}
		}
		if len(selected) == 0 {
			continue
		}
		compressed := m.compress(selected, m.tierConfigs[t].MaxTokens)
		m.byTier[t] = append(rest, compressed...)
		sort.SliceStable(m.byTier[t], func(i, j int) bool {
			return m.byTier[t][i].Timestamp.Before(m.byTier[t][j].Timestamp)
		})
	}
}

func (m *Manager) orderedMessages() []*Message {
	var out []*Message
	out = append(out, m.byTier[TierSystem]...)
	out = append(out, m.byTier[TierTools]...)
	out = append(out, m.byTier[TierResources]...)
	out = append(out, m.byTier[TierRecent]...)
	out = append(out, m.byTier[TierArchived]...)
	out = append(out, m.byTier[TierEphemeral]...)
	return out
}

// Snapshot returns a defensive copy of each tier's messages, useful
// for the allocator/tests without exposing the manager's internal
// slices for external mutation.
func (m *Manager) Snapshot() map[Tier][]*Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[Tier][]*Message, len(m.byTier))
	for t, msgs := range m.byTier {
		out[t] = append([]*Message(nil), msgs...)
	}
	return out
}
