package context

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func alwaysFitAllocator(totalBudget int, tierConfigs map[Tier]TierConfig, currentByTier map[Tier][]*Message, incoming []*Message, reservations int) AllocateResult {
	retained := map[Tier][]*Message{}
	for t, msgs := range currentByTier {
		retained[t] = msgs
	}
	return AllocateResult{Allocations: map[Tier]int{}, Retained: retained, Success: true}
}

func TestManager_AddMessagesPlaceInExpectedTiers(t *testing.T) {
	m := NewManager(ManagerOptions{TotalBudget: 10_000, Allocate: alwaysFitAllocator})

	sysMsg := m.AddSystemMessage("be helpful")
	userMsg := m.AddUserMessage("hello", nil)
	asstMsg := m.AddAssistantMessage("hi there", nil)
	toolMsg := m.AddToolResult("call-1", "search", "results", false)

	assert.Equal(t, TierSystem, sysMsg.Tier)
	assert.Equal(t, PriorityCritical, sysMsg.Priority)
	assert.Equal(t, TierRecent, userMsg.Tier)
	assert.Equal(t, PriorityNormal, userMsg.Priority)
	assert.Equal(t, TierRecent, asstMsg.Tier)
	assert.Equal(t, PriorityHigh, asstMsg.Priority)
	assert.Equal(t, "search", toolMsg.Metadata["tool_name"])
}

func TestManager_PrepareForRequestSucceedsOnFastPath(t *testing.T) {
	m := NewManager(ManagerOptions{TotalBudget: 10_000, Allocate: alwaysFitAllocator})
	m.AddSystemMessage("system prompt")
	m.AddUserMessage("hello", nil)

	req, err := m.PrepareForRequest(PrepareForRequestOptions{SystemPrompt: "system prompt"})
	require.NoError(t, err)
	assert.Len(t, req.Messages, 2)
}

func TestManager_PrepareForRequestCompressesThenSucceeds(t *testing.T) {
	calls := 0
	allocate := func(totalBudget int, tierConfigs map[Tier]TierConfig, currentByTier map[Tier][]*Message, incoming []*Message, reservations int) AllocateResult {
		calls++
		if calls == 1 {
			return AllocateResult{Success: false, ToCompress: currentByTier[TierRecent], Overflow: 500}
		}
		retained := map[Tier][]*Message{TierRecent: currentByTier[TierRecent]}
		return AllocateResult{Success: true, Retained: retained}
	}
	compress := func(messages []*Message, targetTokens int) []*Message {
		out := make([]*Message, len(messages))
		for i, msg := range messages {
			clone := msg.Clone()
			clone.Text = "compressed"
			out[i] = clone
		}
		return out
	}

	m := NewManager(ManagerOptions{TotalBudget: 10_000, Allocate: allocate, Compress: compress})
	m.AddUserMessage("a very long message that needs compressing", nil)

	req, err := m.PrepareForRequest(PrepareForRequestOptions{})
	require.NoError(t, err)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "compressed", req.Messages[0].Text)
	assert.Equal(t, 2, calls)
}

func TestManager_PrepareForRequestReturnsOverflowWhenNothingToCompress(t *testing.T) {
	allocate := func(totalBudget int, tierConfigs map[Tier]TierConfig, currentByTier map[Tier][]*Message, incoming []*Message, reservations int) AllocateResult {
		return AllocateResult{Success: false, Overflow: 1000}
	}
	m := NewManager(ManagerOptions{TotalBudget: 10_000, Allocate: allocate})
	m.AddUserMessage("hello", nil)

	_, err := m.PrepareForRequest(PrepareForRequestOptions{})
	require.Error(t, err)
	var overflowErr *OverflowError
	require.ErrorAs(t, err, &overflowErr)
	assert.Equal(t, 1000, overflowErr.Overflow)
}

func TestManager_PrepareForRequestGivesUpAfterMaxAttempts(t *testing.T) {
	allocate := func(totalBudget int, tierConfigs map[Tier]TierConfig, currentByTier map[Tier][]*Message, incoming []*Message, reservations int) AllocateResult {
		return AllocateResult{Success: false, ToCompress: currentByTier[TierRecent], Overflow: 10}
	}
	compress := func(messages []*Message, targetTokens int) []*Message { return messages }

	m := NewManager(ManagerOptions{TotalBudget: 10_000, Allocate: allocate, Compress: compress})
	m.AddUserMessage("hello", nil)

	_, err := m.PrepareForRequest(PrepareForRequestOptions{MaxAttempts: 2})
	assert.Error(t, err)
}

func TestManager_ClearPreservesReservations(t *testing.T) {
	m := NewManager(ManagerOptions{TotalBudget: 10_000, Allocate: alwaysFitAllocator})
	m.AddUserMessage("hello", nil)
	m.GetBudget().Reserve("response", 500, "response reserve")

	m.Clear()

	assert.Empty(t, m.ToAPIFormat())
	assert.Equal(t, 500, m.GetBudget().ReservedTotal())
}

func TestManager_ToAPIFormatOrdersByTier(t *testing.T) {
	m := NewManager(ManagerOptions{TotalBudget: 10_000, Allocate: alwaysFitAllocator})
	m.AddUserMessage("user turn", nil)
	m.AddSystemMessage("system prompt")

	out := m.ToAPIFormat()
	require.Len(t, out, 2)
	assert.Equal(t, TierSystem, out[0].Tier)
	assert.Equal(t, TierRecent, out[1].Tier)
}
