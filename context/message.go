// Package context owns the engine's message and token-budget data
// model (spec §3.1-§3.3) and the Context Manager that mediates all
// access to it (spec §4.2). The package is named context, mirroring
// the teacher's own context package (conversation history); callers
// import it under an alias (e.g. memctx) to avoid colliding with the
// standard library's context package in the same file.
package context

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Priority is the 0-100 retention priority scale from spec §3.1.
type Priority int

const (
	PriorityCritical  Priority = 100
	PriorityHigh      Priority = 75
	PriorityNormal    Priority = 50
	PriorityLow       Priority = 25
	PriorityEphemeral Priority = 10
)

// BlockType identifies a content block kind within a message.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockImage      BlockType = "image"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is one ordered piece of a message's content (spec
// §3.1: "an ordered sequence of content blocks").
type ContentBlock struct {
	Type       BlockType
	Text       string
	ImageRef   string
	ToolCallID string
	ToolName   string
	IsError    bool
}

// Tier names the six ordered memory tiers (spec §3.2).
type Tier string

const (
	TierSystem     Tier = "system"
	TierTools      Tier = "tools"
	TierResources  Tier = "resources"
	TierRecent     Tier = "recent"
	TierArchived   Tier = "archived"
	TierEphemeral  Tier = "ephemeral"
)

// AllTiers lists every tier in declaration order. The allocator does
// not use this order: it ranks tiers by TierConfig.Priority (system >
// tools > recent > resources > archived > ephemeral, per spec §4.3's
// static priority weights).
var AllTiers = []Tier{TierSystem, TierTools, TierResources, TierRecent, TierArchived, TierEphemeral}

// Message is the engine's unit of context (spec §3.1).
type Message struct {
	ID           string
	Role         Role
	Tier         Tier
	Text         string
	Blocks       []ContentBlock
	Tokens       int
	Priority     Priority
	Timestamp    time.Time
	Compressible bool
	Metadata     map[string]string
}

// NewMessage creates a message with a fresh ID and the given tier,
// role and priority. Tokens are left at zero; callers estimate and set
// them via SetTokens once content is final (spec §3.1's invariant:
// "tokens recomputed when content mutates").
func NewMessage(role Role, tier Tier, text string, priority Priority) *Message {
	return &Message{
		ID:           uuid.NewString(),
		Role:         role,
		Tier:         tier,
		Text:         text,
		Priority:     priority,
		Timestamp:    time.Now(),
		Compressible: true,
		Metadata:     map[string]string{},
	}
}

// SetTokens sets the cached token estimate. Panics in development
// builds are avoided; negative input is clamped to zero to preserve
// the invariant "tokens >= 0" from spec §3.1.
func (m *Message) SetTokens(n int) {
	if n < 0 {
		n = 0
	}
	m.Tokens = n
}

// Key returns the dedup key for this message within a tier: spec §3.1
// says "role and content together uniquely identify a message for
// deduplication within a tier".
func (m *Message) Key() string {
	return fmt.Sprintf("%s:%s", m.Role, m.Text)
}

// Clone returns a deep-enough copy safe for independent mutation by a
// caller (metadata map and blocks slice are copied).
func (m *Message) Clone() *Message {
	clone := *m
	clone.Metadata = make(map[string]string, len(m.Metadata))
	for k, v := range m.Metadata {
		clone.Metadata[k] = v
	}
	clone.Blocks = append([]ContentBlock(nil), m.Blocks...)
	return &clone
}
