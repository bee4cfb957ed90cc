package llm

import (
	"context"
	"fmt"
)

// MockTurn is one scripted response a MockProvider returns in
// sequence, used to drive deterministic loop tests (spec §8 scenarios
// S1-S4).
type MockTurn struct {
	Response GenerateResponse
	Err      error
}

// MockProvider is a stateless, scripted Provider for tests: each
// Generate call consumes the next MockTurn in Turns, repeating the
// last turn once exhausted.
type MockProvider struct {
	Model string
	Turns []MockTurn

	calls int
	Seen  []GenerateRequest
}

// NewMockProvider constructs a MockProvider that returns turns in
// order.
func NewMockProvider(model string, turns ...MockTurn) *MockProvider {
	return &MockProvider{Model: model, Turns: turns}
}

func (m *MockProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	m.Seen = append(m.Seen, req)

	if len(m.Turns) == 0 {
		return GenerateResponse{}, fmt.Errorf("llm: mock provider has no scripted turns")
	}

	idx := m.calls
	if idx >= len(m.Turns) {
		idx = len(m.Turns) - 1
	}
	m.calls++

	turn := m.Turns[idx]
	if turn.Err != nil {
		return GenerateResponse{}, turn.Err
	}
	return turn.Response, nil
}

func (m *MockProvider) ModelName() string { return m.Model }

// CallCount returns how many times Generate has been invoked.
func (m *MockProvider) CallCount() int { return m.calls }

var _ Provider = (*MockProvider)(nil)
