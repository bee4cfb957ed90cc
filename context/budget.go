package context

import "sort"

// TierConfig describes one memory tier's allocation policy (spec §3.2).
type TierConfig struct {
	Tier         Tier
	MinTokens    int
	MaxTokens    int
	Allocation   float64 // default percentage share of totalBudget, e.g. 0.08 for system's 8%
	Compressible bool
	Evictable    bool
	Priority     int // static priority weight used by the allocator (spec §4.3)
}

// DefaultTierConfigs returns the six tiers with the defaults from spec
// §3.2 and the static priority weights from spec §4.3's prioritised
// allocation step. Allocations sum to 1.0 (8+6+10+45+25+6=100%).
func DefaultTierConfigs(totalBudget int) map[Tier]TierConfig {
	mk := func(tier Tier, alloc float64, compressible, evictable bool, priority int) TierConfig {
		max := int(float64(totalBudget) * alloc)
		return TierConfig{
			Tier:         tier,
			MinTokens:    0,
			MaxTokens:    max,
			Allocation:   alloc,
			Compressible: compressible,
			Evictable:    evictable,
			Priority:     priority,
		}
	}

	return map[Tier]TierConfig{
		TierSystem:    mk(TierSystem, 0.08, false, false, 100),
		TierTools:     mk(TierTools, 0.06, true, true, 80),
		TierResources: mk(TierResources, 0.10, true, true, 60),
		TierRecent:    mk(TierRecent, 0.45, true, true, 70),
		TierArchived:  mk(TierArchived, 0.25, true, true, 40),
		TierEphemeral: mk(TierEphemeral, 0.06, false, true, 10),
	}
}

// Reservation is an explicit hold against the budget that survives
// Reset (spec §3.3: "Reservations... survive reset()").
type Reservation struct {
	ID     string
	Tokens int
	Label  string
}

// TokenBudget tracks the overall budget, per-category allocations and
// reservations (spec §3.3).
type TokenBudget struct {
	MaxTokens    int
	Allocations  map[Tier]int
	Reservations map[string]Reservation
}

// NewTokenBudget creates a budget with zeroed allocations.
func NewTokenBudget(maxTokens int) *TokenBudget {
	return &TokenBudget{
		MaxTokens:    maxTokens,
		Allocations:  map[Tier]int{},
		Reservations: map[string]Reservation{},
	}
}

// Reserve adds or replaces a named reservation.
func (b *TokenBudget) Reserve(id string, tokens int, label string) {
	b.Reservations[id] = Reservation{ID: id, Tokens: tokens, Label: label}
}

// ReleaseReservation removes a named reservation.
func (b *TokenBudget) ReleaseReservation(id string) {
	delete(b.Reservations, id)
}

// Used returns the sum of allocations plus reservations.
func (b *TokenBudget) Used() int {
	total := 0
	for _, v := range b.Allocations {
		total += v
	}
	for _, r := range b.Reservations {
		total += r.Tokens
	}
	return total
}

// Remaining returns max(0, maxTokens - used), per spec §3.3.
func (b *TokenBudget) Remaining() int {
	r := b.MaxTokens - b.Used()
	if r < 0 {
		return 0
	}
	return r
}

// ReservedTotal sums only the reservations (used by the allocator's
// "available = totalBudget - reservations" step, spec §4.3).
func (b *TokenBudget) ReservedTotal() int {
	total := 0
	for _, r := range b.Reservations {
		total += r.Tokens
	}
	return total
}

// Reset clears per-tier allocations but preserves reservations (spec
// §3.3).
func (b *TokenBudget) Reset() {
	b.Allocations = map[Tier]int{}
}

// SetAllocation records how many tokens a tier currently holds.
func (b *TokenBudget) SetAllocation(tier Tier, tokens int) {
	b.Allocations[tier] = tokens
}

// SortedReservations returns reservations ordered by ID for
// deterministic reporting/testing.
func (b *TokenBudget) SortedReservations() []Reservation {
	out := make([]Reservation, 0, len(b.Reservations))
	for _, r := range b.Reservations {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
