// Package delegation implements the Delegation Engine (spec §4.8): an
// ordered heuristic rule set that chooses an execution strategy for a
// task, plus isolated and parallel-isolated sub-loop execution that
// returns only a summarized result to the parent.
package delegation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// Strategy is the chosen execution mode for a delegated task.
type Strategy string

const (
	StrategyDirect           Strategy = "direct"
	StrategyIsolated         Strategy = "isolated"
	StrategyParallelIsolated Strategy = "parallel-isolated"
)

// TaskProfile is the decision engine's input: everything the ordered
// rule set needs to know about a proposed task.
type TaskProfile struct {
	UserOverride         Strategy // non-empty short-circuits every rule
	EstimatedOperations  int
	Specialization       bool // task implies a specialist skill
	MultipleGoals        bool
	HighRiskVerb         bool // delete/replace-all/clear-style action
	IndependentSubtasks  int  // count of subtasks with no sequential dependency
	SpecialistsImplied   int
	RemainingTokenBudget int
}

// Decision is the decision engine's output.
type Decision struct {
	Strategy   Strategy
	Reason     string
	Confidence float64
	Warnings   []string
}

// Decide applies the ordered rule set from spec §4.8. Exactly one
// rule fires (the first whose precondition holds), matching spec §8
// property 4.
func Decide(p TaskProfile) Decision {
	if p.UserOverride != "" {
		return Decision{Strategy: p.UserOverride, Reason: "user override", Confidence: 1.0}
	}
	if p.EstimatedOperations <= 3 && !p.Specialization && !p.MultipleGoals {
		return Decision{Strategy: StrategyDirect, Reason: "few operations, no specialization, single goal", Confidence: 0.9}
	}
	if p.HighRiskVerb {
		return Decision{Strategy: StrategyIsolated, Reason: "high-risk action requires isolation", Confidence: 0.85}
	}
	if p.IndependentSubtasks >= 2 {
		return Decision{Strategy: StrategyParallelIsolated, Reason: "two or more independent subtasks", Confidence: 0.8}
	}
	if p.SpecialistsImplied >= 2 {
		return Decision{Strategy: StrategyIsolated, Reason: "multiple specialists implied", Confidence: 0.75}
	}
	if p.RemainingTokenBudget < 20_000 && p.EstimatedOperations > 5 {
		return Decision{Strategy: StrategyIsolated, Reason: "low remaining budget with many operations", Confidence: 0.7}
	}
	if p.EstimatedOperations > 10 {
		return Decision{Strategy: StrategyIsolated, Reason: "high operation count", Confidence: 0.7}
	}
	if p.SpecialistsImplied == 1 {
		return Decision{Strategy: StrategyDirect, Reason: "single specialist, moderate operations", Confidence: 0.6}
	}
	return Decision{Strategy: StrategyDirect, Reason: "default", Confidence: 0.5}
}

// WorkRegion bounds a contract's effect, used to check for overlap
// between parallel-isolated contracts and to scope adapter access.
type WorkRegion struct {
	Bounds []string // opaque identifiers (e.g. ids, region names); empty means unbounded
}

// Overlaps reports whether a and b share any bound.
func (a WorkRegion) Overlaps(b WorkRegion) bool {
	if len(a.Bounds) == 0 || len(b.Bounds) == 0 {
		return false
	}
	set := make(map[string]bool, len(a.Bounds))
	for _, s := range a.Bounds {
		set[s] = true
	}
	for _, s := range b.Bounds {
		if set[s] {
			return true
		}
	}
	return false
}

// Limits bounds a sub-agent's isolated execution.
type Limits struct {
	MaxIterations int
	MaxTokens     int
	TimeoutMs     int
}

// Contract is one sub-agent delegation unit.
type Contract struct {
	ID           string
	SystemPrompt string
	Task         string
	Inputs       map[string]any
	Limits       Limits
	WorkRegion   WorkRegion
}

// ContractResult is the only information a parent ever sees from a
// delegated sub-loop (spec §4.8: "the parent never sees the
// sub-agent's messages").
type ContractResult struct {
	ContractID  string
	Success     bool
	Summary     string
	ProducedIDs []string
	TokensUsed  int
	DurationMs  int64
	Error       string
}

// Runner executes one contract in an isolated sub-loop and returns
// only its summarized result. It is a function type so that
// delegation does not import loop; the caller supplies the
// implementation (cmd/engine's subLoopDelegator runs a fresh loop.Loop
// on the contract's task with its iteration limit).
type Runner func(ctx context.Context, contract Contract) ContractResult

// RunIsolated executes a single contract via runner, enforcing
// contract.Limits.TimeoutMs as a wall-clock deadline.
func RunIsolated(ctx context.Context, runner Runner, contract Contract) ContractResult {
	if contract.Limits.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(contract.Limits.TimeoutMs)*time.Millisecond)
		defer cancel()
	}
	return runner(ctx, contract)
}

// RunParallelIsolated runs every contract concurrently via runner,
// rejecting the whole batch if any two contracts have overlapping
// bounded work regions, and returns results in contract order
// regardless of completion order (spec §4.8: "Aggregate results in
// contract order").
func RunParallelIsolated(ctx context.Context, runner Runner, contracts []Contract) ([]ContractResult, error) {
	if err := checkDisjointRegions(contracts); err != nil {
		return nil, err
	}

	results := make([]ContractResult, len(contracts))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range contracts {
		i, c := i, c
		g.Go(func() error {
			results[i] = RunIsolated(gctx, runner, c)
			return nil
		})
	}
	_ = g.Wait() // runner reports failure inside ContractResult, never as a Go error

	return results, nil
}

func checkDisjointRegions(contracts []Contract) error {
	for i := 0; i < len(contracts); i++ {
		for j := i + 1; j < len(contracts); j++ {
			if contracts[i].WorkRegion.Overlaps(contracts[j].WorkRegion) {
				return fmt.Errorf("delegation: contracts %q and %q have overlapping work regions", contracts[i].ID, contracts[j].ID)
			}
		}
	}
	return nil
}

// SortContractsByID returns a copy of contracts sorted by ID, useful
// for deterministic test fixtures.
func SortContractsByID(contracts []Contract) []Contract {
	out := append([]Contract(nil), contracts...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
