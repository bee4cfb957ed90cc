package memory

import (
	"context"

	memctx "github.com/fenwick-labs/agentengine/context"
)

// AsContextAllocator adapts Allocate to the context.Allocator function
// type the Context Manager depends on. memory already imports context
// for its message types, so this adapter lives here rather than in
// context (which must not import memory back).
func AsContextAllocator() memctx.Allocator {
	return func(totalBudget int, tierConfigs map[memctx.Tier]memctx.TierConfig, currentByTier map[memctx.Tier][]*memctx.Message, incoming []*memctx.Message, reservations int) memctx.AllocateResult {
		res := Allocate(AllocateInput{
			TotalBudget:   totalBudget,
			TierConfigs:   tierConfigs,
			CurrentByTier: currentByTier,
			Incoming:      incoming,
			Reservations:  reservations,
		})
		return memctx.AllocateResult{
			Allocations: res.Allocations,
			Retained:    res.Retained,
			ToCompress:  res.ToCompress,
			ToEvict:     res.ToEvict,
			Success:     res.Success,
			Overflow:    res.Overflow,
		}
	}
}

// AsContextCompressor adapts Compress to the context.Compressor
// function type, picking a strategy per call via
// GetRecommendedStrategy so the Context Manager's compress-until-fit
// loop doesn't need to know about compression strategies at all.
func AsContextCompressor(opts CompressOptions) memctx.Compressor {
	return func(messages []*memctx.Message, targetTokens int) []*memctx.Message {
		current := totalTokens(messages)
		o := opts
		o.TargetTokens = targetTokens
		if o.Strategy == "" {
			o.Strategy = GetRecommendedStrategy(targetTokens, current, messages, o.Summarizer != nil)
		}

		result, err := Compress(context.Background(), messages, o)
		if err != nil {
			// Compression failure degrades to truncation rather than
			// propagating, since the Context Manager's overflow path
			// already handles "still doesn't fit" by retrying/erroring.
			return truncateMessages(messages, targetTokens)
		}
		return result.Compressed
	}
}
