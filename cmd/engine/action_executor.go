package main

import (
	"context"

	"github.com/fenwick-labs/agentengine/adapter"
)

// adapterExecutor adapts an adapter.Adapter's Execute into the
// tools.ActionExecutor surface task_execute needs.
type adapterExecutor struct {
	adapter adapter.Adapter
}

func (a *adapterExecutor) Execute(ctx context.Context, action string, params map[string]any) (bool, map[string]any, string, string, bool) {
	result := a.adapter.Execute(ctx, action, params, adapter.ExecuteOptions{})
	if result.Error != nil {
		return false, nil, string(result.Error.Code), result.Error.Message, result.Error.Recoverable
	}
	return result.Success, result.Data, "", "", false
}
