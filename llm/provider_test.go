package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockProvider_ReturnsScriptedTurnsInOrder(t *testing.T) {
	p := NewMockProvider("mock-1",
		MockTurn{Response: GenerateResponse{Text: "first", FinishReason: FinishStop}},
		MockTurn{Response: GenerateResponse{Text: "second", FinishReason: FinishStop}},
	)

	r1, err := p.Generate(context.Background(), GenerateRequest{})
	require.NoError(t, err)
	assert.Equal(t, "first", r1.Text)

	r2, err := p.Generate(context.Background(), GenerateRequest{})
	require.NoError(t, err)
	assert.Equal(t, "second", r2.Text)

	// Exhausted: repeats the last turn.
	r3, err := p.Generate(context.Background(), GenerateRequest{})
	require.NoError(t, err)
	assert.Equal(t, "second", r3.Text)
}

func TestMockProvider_RecordsSeenRequests(t *testing.T) {
	p := NewMockProvider("mock-1", MockTurn{Response: GenerateResponse{FinishReason: FinishStop}})
	_, _ = p.Generate(context.Background(), GenerateRequest{UserMessage: "hello"})
	require.Len(t, p.Seen, 1)
	assert.Equal(t, "hello", p.Seen[0].UserMessage)
}

func TestRegistry_RegisterAndDefault(t *testing.T) {
	reg := NewRegistry()
	p := NewMockProvider("mock-1")

	require.NoError(t, reg.RegisterProvider("mock", p))
	require.NoError(t, reg.SetDefault("mock"))

	got, ok := reg.Default()
	require.True(t, ok)
	assert.Equal(t, "mock-1", got.ModelName())
}

func TestRegistry_SetDefaultRejectsUnregistered(t *testing.T) {
	reg := NewRegistry()
	err := reg.SetDefault("missing")
	assert.Error(t, err)
}

func TestRegistry_RegisterRejectsNilProvider(t *testing.T) {
	reg := NewRegistry()
	err := reg.RegisterProvider("mock", nil)
	assert.Error(t, err)
}
