package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/fenwick-labs/agentengine/delegation"
	"github.com/fenwick-labs/agentengine/dispatcher"
	"github.com/fenwick-labs/agentengine/llm"
	"github.com/fenwick-labs/agentengine/loop"
	"github.com/fenwick-labs/agentengine/monitor"
)

// subLoopDelegator implements tools.Delegator by running a fresh,
// isolated Loop per delegated task through delegation.RunIsolated
// (spec §4.8): the caller only ever sees the sub-loop's summarized
// result, never its messages.
type subLoopDelegator struct {
	provider      llm.Provider
	dispatcher    *dispatcher.Dispatcher
	monitor       *monitor.Monitor
	maxIterations int
	maxErrors     int
}

func (d *subLoopDelegator) Delegate(ctx context.Context, task string, inputs map[string]any) (string, []string, error) {
	contract := delegation.Contract{
		ID:     uuid.NewString(),
		Task:   task,
		Inputs: inputs,
		Limits: delegation.Limits{MaxIterations: d.maxIterations},
	}

	result := delegation.RunIsolated(ctx, d.runContract, contract)
	if !result.Success {
		return "", nil, fmt.Errorf("%s", result.Error)
	}
	return result.Summary, result.ProducedIDs, nil
}

// runContract is the delegation.Runner: a sub-Loop sharing the
// parent's provider/dispatcher/monitor but starting from a clean
// State, scoped to contract.Task.
func (d *subLoopDelegator) runContract(ctx context.Context, contract delegation.Contract) delegation.ContractResult {
	sub := &loop.Loop{Provider: d.provider, Dispatcher: d.dispatcher, Monitor: d.monitor}
	cfg := loop.Config{MaxIterations: contract.Limits.MaxIterations, MaxErrors: d.maxErrors}

	result := delegation.ContractResult{ContractID: contract.ID}
	for ev := range sub.Run(ctx, contract.Task, cfg) {
		if !ev.IsTerminal() {
			continue
		}
		if ev.Kind == loop.EventComplete {
			result.Success = true
			if summary, ok := ev.Data["summary"].(string); ok {
				result.Summary = summary
			}
		} else if reason, ok := ev.Data["reason"].(string); ok {
			result.Error = fmt.Sprintf("%s: %s", ev.Kind, reason)
		} else {
			result.Error = fmt.Sprintf("sub-loop ended with %s", ev.Kind)
		}
	}
	return result
}
