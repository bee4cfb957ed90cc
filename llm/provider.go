// Package llm defines the LLM Provider interface contract (spec
// §4.10): a stateless (or optionally stateful) seam to a chat-
// completion backend used by the GENERATE phase of the TOAD loop.
package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/fenwick-labs/agentengine/registry"
)

// FinishReason classifies why Generate stopped producing output.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
	FinishError         FinishReason = "error"
)

// Message is one entry of conversation history passed to Generate.
type Message struct {
	Role       string
	Text       string
	ToolName   string
	ToolCallID string
}

// ToolDefinition describes one callable tool offered to the model.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolCall is one tool invocation the model proposed.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// Usage reports token accounting for one Generate call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// GenerateRequest is Generate's input record.
type GenerateRequest struct {
	Model        string
	SystemPrompt string
	UserMessage  string
	Tools        []ToolDefinition
	History      []Message
	MaxTokens    int
	Temperature  float64
}

// GenerateResponse is Generate's output record.
type GenerateResponse struct {
	Text         string
	ToolCalls    []ToolCall
	FinishReason FinishReason
	Usage        Usage
}

// Provider is the contract every LLM backend implements. A provider
// may be purely stateless (history passed explicitly on every call,
// as GenerateRequest.History) or additionally support the optional
// stateful history-append methods for backends that maintain their
// own conversation state.
type Provider interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error)
	ModelName() string
}

// StatefulProvider is the optional extension for providers that track
// their own history rather than relying solely on GenerateRequest.History.
type StatefulProvider interface {
	Provider
	AddToolCallToHistory(name string, args map[string]any)
	AddToolResultToHistory(name string, result any)
}

// Registry is the shared generic registry instantiated for Provider,
// used to register multiple named backends (openai, anthropic, mock,
// ...) the way the teacher's llms.LLMRegistry does.
type Registry struct {
	*registry.BaseRegistry[Provider]
	mu               sync.RWMutex
	defaultProvider  string
}

// NewRegistry constructs an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{BaseRegistry: registry.NewBaseRegistry[Provider]()}
}

// RegisterProvider registers a named provider instance.
func (r *Registry) RegisterProvider(name string, p Provider) error {
	if name == "" {
		return fmt.Errorf("llm: provider name cannot be empty")
	}
	if p == nil {
		return fmt.Errorf("llm: provider cannot be nil")
	}
	return r.Register(name, p)
}

// SetDefault marks name as the default provider, returning an error if
// it isn't registered.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.Get(name); !ok {
		return fmt.Errorf("llm: cannot set default to unregistered provider %q", name)
	}
	r.defaultProvider = name
	return nil
}

// Default returns the default provider, if one has been set and is
// still registered.
func (r *Registry) Default() (Provider, bool) {
	r.mu.RLock()
	name := r.defaultProvider
	r.mu.RUnlock()
	if name == "" {
		return nil, false
	}
	return r.Get(name)
}
