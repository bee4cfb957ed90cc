package main

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// planStore is an in-memory tools.PlanStore backing agent_plan: each
// call replaces the active plan and returns a fresh plan id (spec
// §3.5's taskState).
type planStore struct {
	mu    sync.Mutex
	steps []string
}

func newPlanStore() *planStore { return &planStore{} }

func (p *planStore) UpsertPlan(ctx context.Context, steps []string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = steps
	return uuid.NewString(), nil
}
