// Package adapter defines the Action Adapter interface contract
// (spec §4.9): the seam between the engine and a concrete domain
// backend, with a mandatory circuit breaker protecting every Execute
// call.
package adapter

import (
	"context"
	"sync"
	"time"

	"github.com/fenwick-labs/agentengine/errs"
)

// ConnectionState mirrors the adapter's connection lifecycle.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
)

// ActionDefinition describes one action a backend supports.
type ActionDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
	Category    string
}

// ExecuteOptions configures one Execute call.
type ExecuteOptions struct {
	Timeout time.Duration
}

// ExecuteError is the structured error shape carried in
// ExecuteResult.Error.
type ExecuteError struct {
	Code        errs.Code
	Message     string
	Recoverable bool
}

// ExecuteResult is Execute's return value.
type ExecuteResult struct {
	Success  bool
	Data     map[string]any
	Error    *ExecuteError
	Metadata struct {
		DurationMs int64
	}
}

// StateSnapshotOptions configures GetState.
type StateSnapshotOptions struct {
	Format string
	Depth  int
}

// StateSnapshot is GetState's return value.
type StateSnapshot struct {
	ID         string
	Timestamp  time.Time
	Summary    string
	Data       map[string]any
	TokensUsed int
}

// AwarenessOptions configures GetAwareness.
type AwarenessOptions struct {
	IncludeSkeleton bool
	IncludeRelevant bool
	MaxTokens       int
	ContextHint     string
}

// Awareness is GetAwareness's return value: the adapter's compact
// picture of current backend state, used to seed the THINK phase.
type Awareness struct {
	Skeleton string
	Relevant []string
	Version  int
	Stale    bool
}

// Adapter is the contract every Action Adapter implementation must
// satisfy (spec §4.9). Execute is expected to be wrapped by a
// CircuitBreaker by the concrete implementation (see
// CircuitBreakingAdapter below) rather than by callers.
type Adapter interface {
	Connect(ctx context.Context) (bool, error)
	Disconnect(ctx context.Context) error
	IsConnected() bool
	State() ConnectionState

	Execute(ctx context.Context, action string, params map[string]any, opts ExecuteOptions) ExecuteResult
	GetState(ctx context.Context, opts StateSnapshotOptions) (StateSnapshot, error)
	GetAwareness(ctx context.Context, opts AwarenessOptions) (Awareness, error)

	GetAvailableActions() []ActionDefinition
	SupportsAction(name string) bool
	GetActionSchema(name string) (ActionDefinition, bool)
}

// Backend is the minimal surface a concrete domain backend must
// expose for CircuitBreakingAdapter to wrap it with connection
// lifecycle and circuit-breaker protection.
type Backend interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Execute(ctx context.Context, action string, params map[string]any) (map[string]any, error)
	GetState(ctx context.Context, opts StateSnapshotOptions) (StateSnapshot, error)
	GetAwareness(ctx context.Context, opts AwarenessOptions) (Awareness, error)
	Actions() []ActionDefinition
}

// CircuitBreakingAdapter wraps a Backend with the connection state
// machine and a mandatory circuit breaker around Execute, so every
// concrete adapter gets the spec §4.9 breaker behavior for free.
type CircuitBreakingAdapter struct {
	backend Backend
	breaker *CircuitBreaker

	mu    sync.Mutex
	state ConnectionState
}

// NewCircuitBreakingAdapter wraps backend with a breaker built from
// config (zero value takes spec defaults).
func NewCircuitBreakingAdapter(backend Backend, config CircuitBreakerConfig) *CircuitBreakingAdapter {
	return &CircuitBreakingAdapter{
		backend: backend,
		breaker: NewCircuitBreaker(config),
		state:   StateDisconnected,
	}
}

func (a *CircuitBreakingAdapter) Connect(ctx context.Context) (bool, error) {
	a.mu.Lock()
	a.state = StateConnecting
	a.mu.Unlock()

	err := a.backend.Connect(ctx)

	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		a.state = StateError
		return false, err
	}
	a.state = StateConnected
	return true, nil
}

func (a *CircuitBreakingAdapter) Disconnect(ctx context.Context) error {
	err := a.backend.Disconnect(ctx)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = StateDisconnected
	return err
}

func (a *CircuitBreakingAdapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state == StateConnected
}

func (a *CircuitBreakingAdapter) State() ConnectionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Execute runs the action through the circuit breaker. While the
// breaker is open, the backend is never touched and a CIRCUIT_OPEN
// error is returned.
func (a *CircuitBreakingAdapter) Execute(ctx context.Context, action string, params map[string]any, opts ExecuteOptions) ExecuteResult {
	start := time.Now()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	data, err := RunWithBreaker(a.breaker, ctx, func(ctx context.Context) (map[string]any, error) {
		return a.backend.Execute(ctx, action, params)
	})

	result := ExecuteResult{Metadata: struct{ DurationMs int64 }{DurationMs: time.Since(start).Milliseconds()}}

	if err == ErrCircuitOpen {
		ee := CircuitOpenError()
		result.Error = &ExecuteError{Code: ee.Code, Message: ee.Message, Recoverable: ee.Recoverable}
		return result
	}
	if err != nil {
		code, ok := errs.CodeOf(err)
		if !ok {
			code = errs.CodeAdapterExecution
		}
		result.Error = &ExecuteError{
			Code:        code,
			Message:     err.Error(),
			Recoverable: errs.IsRecoverable(err),
		}
		return result
	}

	result.Success = true
	result.Data = data
	return result
}

func (a *CircuitBreakingAdapter) GetState(ctx context.Context, opts StateSnapshotOptions) (StateSnapshot, error) {
	return a.backend.GetState(ctx, opts)
}

func (a *CircuitBreakingAdapter) GetAwareness(ctx context.Context, opts AwarenessOptions) (Awareness, error) {
	return a.backend.GetAwareness(ctx, opts)
}

func (a *CircuitBreakingAdapter) GetAvailableActions() []ActionDefinition {
	return a.backend.Actions()
}

func (a *CircuitBreakingAdapter) SupportsAction(name string) bool {
	for _, def := range a.backend.Actions() {
		if def.Name == name {
			return true
		}
	}
	return false
}

func (a *CircuitBreakingAdapter) GetActionSchema(name string) (ActionDefinition, bool) {
	for _, def := range a.backend.Actions() {
		if def.Name == name {
			return def, true
		}
	}
	return ActionDefinition{}, false
}

var _ Adapter = (*CircuitBreakingAdapter)(nil)
