package main

import (
	"context"

	"github.com/fenwick-labs/agentengine/adapter"
)

// adapterSnapshotter adapts an adapter.Adapter's GetState into the
// tools.StateSnapshotter surface state_snapshot needs.
type adapterSnapshotter struct {
	adapter adapter.Adapter
}

func (a *adapterSnapshotter) Snapshot(ctx context.Context, label string) (string, string, error) {
	snap, err := a.adapter.GetState(ctx, adapter.StateSnapshotOptions{})
	if err != nil {
		return "", "", err
	}
	summary := snap.Summary
	if label != "" {
		summary = label + ": " + summary
	}
	return snap.ID, summary, nil
}
