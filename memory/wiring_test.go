package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memctx "github.com/fenwick-labs/agentengine/context"
)

func TestAsContextAllocator_DelegatesToAllocate(t *testing.T) {
	allocator := AsContextAllocator()
	msg := memctx.NewMessage(memctx.RoleUser, memctx.TierRecent, "hi", memctx.PriorityNormal)
	msg.SetTokens(5)

	result := allocator(10_000, memctx.DefaultTierConfigs(10_000), map[memctx.Tier][]*memctx.Message{memctx.TierRecent: {msg}}, nil, 0)
	assert.True(t, result.Success)
	require.Contains(t, result.Retained, memctx.TierRecent)
	assert.Len(t, result.Retained[memctx.TierRecent], 1)
}

func TestAsContextCompressor_CompressesOverBudgetMessages(t *testing.T) {
	compressor := AsContextCompressor(CompressOptions{})

	var messages []*memctx.Message
	for i := 0; i < 5; i++ {
		msg := memctx.NewMessage(memctx.RoleUser, memctx.TierRecent, "some moderately long line of conversation text", memctx.PriorityNormal)
		msg.SetTokens(EstimateTokens(msg.Text))
		msg.Timestamp = msg.Timestamp.Add(time.Duration(i) * time.Second)
		messages = append(messages, msg)
	}

	out := compressor(messages, 10)
	totalAfter := 0
	for _, m := range out {
		totalAfter += m.Tokens
	}
	totalBefore := 0
	for _, m := range messages {
		totalBefore += m.Tokens
	}
	assert.LessOrEqual(t, totalAfter, totalBefore)
}
