package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fenwick-labs/agentengine/adapter"
)

// mockBackend is the in-process domain backend the CLI and server
// exercise when no real Action Adapter is configured (SPEC_FULL.md's
// "mock/local adapter"): an in-memory page of elements addressable by
// id, the same shape the echo monitor's elementIds/elementCount
// convention (spec §6.4) expects from a browser-tool-calling backend.
type mockBackend struct {
	mu       sync.Mutex
	elements map[string]string // id -> tag
	seq      int
}

func newMockBackend() *mockBackend {
	return &mockBackend{elements: map[string]string{}}
}

func (b *mockBackend) Connect(ctx context.Context) error    { return nil }
func (b *mockBackend) Disconnect(ctx context.Context) error { return nil }

func (b *mockBackend) Execute(ctx context.Context, action string, params map[string]any) (map[string]any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch action {
	case "create_element":
		b.seq++
		id := fmt.Sprintf("el-%d", b.seq)
		tag, _ := params["tag"].(string)
		if tag == "" {
			tag = "div"
		}
		b.elements[id] = tag
		return map[string]any{"createdId": id, "elementIds": b.idList(), "elementCount": len(b.elements)}, nil

	case "delete_element":
		id, _ := params["id"].(string)
		if _, ok := b.elements[id]; !ok {
			return nil, fmt.Errorf("no element with id %q", id)
		}
		delete(b.elements, id)
		return map[string]any{"elementIds": b.idList(), "elementCount": len(b.elements)}, nil

	case "click":
		id, _ := params["id"].(string)
		if _, ok := b.elements[id]; !ok {
			return nil, fmt.Errorf("no element with id %q", id)
		}
		return map[string]any{"clicked": id}, nil

	default:
		return nil, fmt.Errorf("unsupported action %q", action)
	}
}

func (b *mockBackend) idList() []string {
	ids := make([]string, 0, len(b.elements))
	for id := range b.elements {
		ids = append(ids, id)
	}
	return ids
}

func (b *mockBackend) GetState(ctx context.Context, opts adapter.StateSnapshotOptions) (adapter.StateSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return adapter.StateSnapshot{
		ID:        fmt.Sprintf("snap-%d", b.seq),
		Timestamp: time.Now(),
		Summary:   fmt.Sprintf("%d elements on page", len(b.elements)),
		Data: map[string]any{
			"elementCount": len(b.elements),
			"elementIds":   b.idList(),
		},
	}, nil
}

func (b *mockBackend) GetAwareness(ctx context.Context, opts adapter.AwarenessOptions) (adapter.Awareness, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return adapter.Awareness{
		Skeleton: fmt.Sprintf("Page has %d elements.", len(b.elements)),
		Version:  b.seq,
	}, nil
}

func (b *mockBackend) Actions() []adapter.ActionDefinition {
	return []adapter.ActionDefinition{
		{Name: "create_element", Description: "Create a new page element.", Category: "dom"},
		{Name: "delete_element", Description: "Remove a page element by id.", Category: "dom"},
		{Name: "click", Description: "Click a page element by id.", Category: "interaction"},
	}
}

var _ adapter.Backend = (*mockBackend)(nil)
