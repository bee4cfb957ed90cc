package delegation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecide_UserOverrideWins(t *testing.T) {
	d := Decide(TaskProfile{UserOverride: StrategyIsolated, EstimatedOperations: 1})
	assert.Equal(t, StrategyIsolated, d.Strategy)
	assert.Equal(t, "user override", d.Reason)
}

func TestDecide_FewOpsNoSpecializationSingleGoalIsDirect(t *testing.T) {
	d := Decide(TaskProfile{EstimatedOperations: 2})
	assert.Equal(t, StrategyDirect, d.Strategy)
}

func TestDecide_HighRiskVerbIsIsolated(t *testing.T) {
	d := Decide(TaskProfile{EstimatedOperations: 5, HighRiskVerb: true})
	assert.Equal(t, StrategyIsolated, d.Strategy)
	assert.Equal(t, "high-risk action requires isolation", d.Reason)
}

func TestDecide_TwoIndependentSubtasksIsParallelIsolated(t *testing.T) {
	d := Decide(TaskProfile{EstimatedOperations: 5, IndependentSubtasks: 2})
	assert.Equal(t, StrategyParallelIsolated, d.Strategy)
}

func TestDecide_TwoSpecialistsIsIsolated(t *testing.T) {
	d := Decide(TaskProfile{EstimatedOperations: 5, SpecialistsImplied: 2})
	assert.Equal(t, StrategyIsolated, d.Strategy)
}

func TestDecide_LowBudgetManyOpsIsIsolated(t *testing.T) {
	d := Decide(TaskProfile{EstimatedOperations: 6, RemainingTokenBudget: 10_000})
	assert.Equal(t, StrategyIsolated, d.Strategy)
	assert.Equal(t, "low remaining budget with many operations", d.Reason)
}

func TestDecide_HighOperationCountIsIsolated(t *testing.T) {
	d := Decide(TaskProfile{EstimatedOperations: 11, RemainingTokenBudget: 1_000_000})
	assert.Equal(t, StrategyIsolated, d.Strategy)
	assert.Equal(t, "high operation count", d.Reason)
}

func TestDecide_SingleSpecialistModerateOpsIsDirect(t *testing.T) {
	d := Decide(TaskProfile{EstimatedOperations: 5, SpecialistsImplied: 1, RemainingTokenBudget: 1_000_000})
	assert.Equal(t, StrategyDirect, d.Strategy)
	assert.Equal(t, "single specialist, moderate operations", d.Reason)
}

func TestDecide_DefaultFallsThroughToDirect(t *testing.T) {
	d := Decide(TaskProfile{EstimatedOperations: 4, Specialization: true, RemainingTokenBudget: 1_000_000})
	assert.Equal(t, StrategyDirect, d.Strategy)
	assert.Equal(t, "default", d.Reason)
}

func TestWorkRegion_OverlapsDetectsSharedBound(t *testing.T) {
	a := WorkRegion{Bounds: []string{"file:a.go", "file:b.go"}}
	b := WorkRegion{Bounds: []string{"file:b.go"}}
	c := WorkRegion{Bounds: []string{"file:c.go"}}
	assert.True(t, a.Overlaps(b))
	assert.False(t, a.Overlaps(c))
}

func TestWorkRegion_UnboundedNeverOverlaps(t *testing.T) {
	a := WorkRegion{}
	b := WorkRegion{Bounds: []string{"file:a.go"}}
	assert.False(t, a.Overlaps(b))
}

func TestRunIsolated_ReturnsRunnerResult(t *testing.T) {
	runner := func(ctx context.Context, c Contract) ContractResult {
		return ContractResult{ContractID: c.ID, Success: true, Summary: "done"}
	}
	res := RunIsolated(context.Background(), runner, Contract{ID: "c1"})
	assert.True(t, res.Success)
	assert.Equal(t, "c1", res.ContractID)
}

func TestRunIsolated_TimeoutPropagatesToRunner(t *testing.T) {
	runner := func(ctx context.Context, c Contract) ContractResult {
		select {
		case <-ctx.Done():
			return ContractResult{ContractID: c.ID, Success: false, Error: "timed out"}
		case <-time.After(200 * time.Millisecond):
			return ContractResult{ContractID: c.ID, Success: true}
		}
	}
	res := RunIsolated(context.Background(), runner, Contract{ID: "c1", Limits: Limits{TimeoutMs: 20}})
	assert.False(t, res.Success)
	assert.Equal(t, "timed out", res.Error)
}

func TestRunParallelIsolated_RejectsOverlappingRegions(t *testing.T) {
	runner := func(ctx context.Context, c Contract) ContractResult {
		return ContractResult{ContractID: c.ID, Success: true}
	}
	contracts := []Contract{
		{ID: "a", WorkRegion: WorkRegion{Bounds: []string{"x"}}},
		{ID: "b", WorkRegion: WorkRegion{Bounds: []string{"x"}}},
	}
	_, err := RunParallelIsolated(context.Background(), runner, contracts)
	assert.Error(t, err)
}

func TestRunParallelIsolated_AggregatesInContractOrder(t *testing.T) {
	var mu sync.Mutex
	started := map[string]bool{}

	runner := func(ctx context.Context, c Contract) ContractResult {
		mu.Lock()
		started[c.ID] = true
		mu.Unlock()

		if c.ID == "slow" {
			time.Sleep(30 * time.Millisecond)
		}
		return ContractResult{ContractID: c.ID, Success: true, Summary: c.ID}
	}

	contracts := []Contract{
		{ID: "slow", WorkRegion: WorkRegion{Bounds: []string{"region-1"}}},
		{ID: "fast", WorkRegion: WorkRegion{Bounds: []string{"region-2"}}},
	}

	results, err := RunParallelIsolated(context.Background(), runner, contracts)
	require.NoError(t, err)
	require.Len(t, results, 2)
	// Order matches input contract order even though "fast" finishes first.
	assert.Equal(t, "slow", results[0].ContractID)
	assert.Equal(t, "fast", results[1].ContractID)
	assert.True(t, started["slow"])
	assert.True(t, started["fast"])
}

func TestSortContractsByID_IsDeterministic(t *testing.T) {
	contracts := []Contract{{ID: "z"}, {ID: "a"}, {ID: "m"}}
	sorted := SortContractsByID(contracts)
	assert.Equal(t, []string{"a", "m", "z"}, []string{sorted[0].ID, sorted[1].ID, sorted[2].ID})
	// Original slice is untouched.
	assert.Equal(t, "z", contracts[0].ID)
}
