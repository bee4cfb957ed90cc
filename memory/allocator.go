package memory

import (
	"sort"

	memctx "github.com/fenwick-labs/agentengine/context"
)

// AllocateInput is the allocator's request record (spec §4.3).
type AllocateInput struct {
	TotalBudget  int
	TierConfigs  map[memctx.Tier]memctx.TierConfig
	CurrentByTier map[memctx.Tier][]*memctx.Message
	Incoming     []*memctx.Message // attached to the recent tier
	Reservations int
}

// AllocateResult is the allocator's response record (spec §4.3).
type AllocateResult struct {
	Allocations map[memctx.Tier]int
	Retained    map[memctx.Tier][]*memctx.Message
	ToCompress  []*memctx.Message
	ToEvict     []*memctx.Message
	Success     bool
	Overflow    int
}

// Allocate implements the §4.3 algorithm: fast-path when everything
// fits, else prioritised allocation by static tier weight with
// per-tier greedy retention by (priority desc, timestamp desc),
// re-sorted to timestamp-ascending before return.
func Allocate(in AllocateInput) AllocateResult {
	available := in.TotalBudget - in.Reservations
	if available <= 0 {
		return AllocateResult{
			Allocations: zeroAllocations(in.TierConfigs),
			Success:     false,
			Overflow:    -available + 1,
		}
	}

	currentUsage := make(map[memctx.Tier]int, len(in.CurrentByTier))
	totalCurrent := 0
	for tier, msgs := range in.CurrentByTier {
		u := totalTokens(msgs)
		currentUsage[tier] = u
		totalCurrent += u
	}
	incomingTokens := totalTokens(in.Incoming)

	if totalCurrent+incomingTokens <= available {
		return fastPathAllocate(in, available, currentUsage)
	}

	return prioritisedAllocate(in, available, currentUsage)
}

func zeroAllocations(configs map[memctx.Tier]memctx.TierConfig) map[memctx.Tier]int {
	out := make(map[memctx.Tier]int, len(configs))
	for tier := range configs {
		out[tier] = 0
	}
	return out
}

// fastPathAllocate allocates each tier its optimal percentage share
// (capped by tier max), attaches incoming to recent, and retains
// everything (spec §4.3 step 2), each tier sorted by timestamp
// ascending as in the prioritised path.
func fastPathAllocate(in AllocateInput, available int, currentUsage map[memctx.Tier]int) AllocateResult {
	allocations := make(map[memctx.Tier]int, len(in.TierConfigs))
	retained := make(map[memctx.Tier][]*memctx.Message, len(in.CurrentByTier))

	for tier, cfg := range in.TierConfigs {
		want := int(float64(available) * cfg.Allocation)
		if cfg.MaxTokens > 0 && want > cfg.MaxTokens {
			want = cfg.MaxTokens
		}
		if want < currentUsage[tier] {
			want = currentUsage[tier]
		}
		allocations[tier] = want
	}

	for tier, msgs := range in.CurrentByTier {
		kept := append([]*memctx.Message(nil), msgs...)
		sort.SliceStable(kept, func(i, j int) bool { return kept[i].Timestamp.Before(kept[j].Timestamp) })
		retained[tier] = kept
	}

	retained[memctx.TierRecent] = append(retained[memctx.TierRecent], in.Incoming...)
	allocations[memctx.TierRecent] += totalTokens(in.Incoming)

	return AllocateResult{
		Allocations: allocations,
		Retained:    retained,
		Success:     true,
	}
}

// prioritisedAllocate implements spec §4.3 step 3: seed each tier with
// its minimum, grant extra tokens in static-priority order, then
// greedily retain messages within each tier's grant.
func prioritisedAllocate(in AllocateInput, available int, currentUsage map[memctx.Tier]int) AllocateResult {
	tiers := sortedTiersByPriority(in.TierConfigs)

	allocations := make(map[memctx.Tier]int, len(tiers))
	remaining := available

	for _, tier := range tiers {
		cfg := in.TierConfigs[tier]
		allocations[tier] = cfg.MinTokens
		remaining -= cfg.MinTokens
	}
	if remaining < 0 {
		remaining = 0
	}

	for _, tier := range tiers {
		cfg := in.TierConfigs[tier]
		extraCap := cfg.MaxTokens - cfg.MinTokens
		if extraCap < 0 {
			extraCap = 0
		}
		usageExtra := currentUsage[tier] - cfg.MinTokens
		if usageExtra < 0 {
			usageExtra = 0
		}

		grant := minInt3(usageExtra, extraCap, remaining)
		if grant < 0 {
			grant = 0
		}
		allocations[tier] += grant
		remaining -= grant
	}

	retained := make(map[memctx.Tier][]*memctx.Message, len(in.CurrentByTier))
	var toCompress, toEvict []*memctx.Message
	var overflow int

	for _, tier := range tiers {
		cfg := in.TierConfigs[tier]
		msgs := append([]*memctx.Message(nil), in.CurrentByTier[tier]...)

		sort.SliceStable(msgs, func(i, j int) bool {
			if msgs[i].Priority != msgs[j].Priority {
				return msgs[i].Priority > msgs[j].Priority
			}
			return msgs[i].Timestamp.After(msgs[j].Timestamp)
		})

		budget := allocations[tier]
		var kept []*memctx.Message
		used := 0
		for _, m := range msgs {
			if used+m.Tokens > budget {
				if cfg.Compressible && m.Compressible {
					toCompress = append(toCompress, m)
				} else {
					toEvict = append(toEvict, m)
				}
				overflow += m.Tokens
				continue
			}
			kept = append(kept, m)
			used += m.Tokens
		}

		sort.SliceStable(kept, func(i, j int) bool { return kept[i].Timestamp.Before(kept[j].Timestamp) })
		retained[tier] = kept
	}

	if len(in.Incoming) > 0 {
		retained[memctx.TierRecent] = makeRoomForIncoming(retained[memctx.TierRecent], in.Incoming, allocations[memctx.TierRecent], &toEvict)
		allocations[memctx.TierRecent] = totalTokens(retained[memctx.TierRecent])
	}

	return AllocateResult{
		Allocations: allocations,
		Retained:    retained,
		ToCompress:  toCompress,
		ToEvict:     toEvict,
		Success:     overflow <= 0,
		Overflow:    overflow,
	}
}

// makeRoomForIncoming evicts the oldest retained "recent" messages
// until the incoming batch fits within budget (spec §4.3 step 3's
// "make room for incoming by evicting the oldest in recent").
func makeRoomForIncoming(retained []*memctx.Message, incoming []*memctx.Message, budget int, evicted *[]*memctx.Message) []*memctx.Message {
	incomingTokens := totalTokens(incoming)
	used := totalTokens(retained)

	i := 0
	for used+incomingTokens > budget && i < len(retained) {
		used -= retained[i].Tokens
		*evicted = append(*evicted, retained[i])
		i++
	}

	kept := append([]*memctx.Message(nil), retained[i:]...)
	kept = append(kept, incoming...)
	return kept
}

func sortedTiersByPriority(configs map[memctx.Tier]memctx.TierConfig) []memctx.Tier {
	tiers := make([]memctx.Tier, 0, len(configs))
	for tier := range configs {
		tiers = append(tiers, tier)
	}
	sort.Slice(tiers, func(i, j int) bool {
		return configs[tiers[i]].Priority > configs[tiers[j]].Priority
	})
	return tiers
}

func minInt3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
