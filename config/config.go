// Package config provides the engine's configuration document: YAML
// load/validate, environment-variable overlay, and the defaults every
// other package's Options/Config struct is built from.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ModelTier names a coarse cost/quality tier for provider selection,
// independent of any specific model name.
type ModelTier string

const (
	TierFast     ModelTier = "fast"
	TierBalanced ModelTier = "balanced"
	TierPowerful ModelTier = "powerful"
)

// Config is the engine's single unified configuration document,
// the way the teacher's Config is the single entry point for an
// agent deployment.
type Config struct {
	Version     string            `yaml:"version,omitempty"`
	Name        string            `yaml:"name,omitempty"`
	Metadata    map[string]string `yaml:"metadata,omitempty"`

	Global  GlobalSettings          `yaml:"global,omitempty"`
	Engine  EngineSettings          `yaml:"engine,omitempty"`
	Server  ServerSettings          `yaml:"server,omitempty"`
	Hooks   HookSettings            `yaml:"hooks,omitempty"`
	LLMs    map[string]LLMSettings  `yaml:"llms,omitempty"`
}

// Validate checks the configuration and returns the first error found.
func (c *Config) Validate() error {
	if err := c.Global.Validate(); err != nil {
		return fmt.Errorf("global settings validation failed: %w", err)
	}
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine settings validation failed: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server settings validation failed: %w", err)
	}
	for name, llm := range c.LLMs {
		if err := llm.Validate(); err != nil {
			return fmt.Errorf("llm %q validation failed: %w", name, err)
		}
	}
	return nil
}

// SetDefaults fills every unset field with the engine's spec-derived
// defaults.
func (c *Config) SetDefaults() {
	c.Global.SetDefaults()
	c.Engine.SetDefaults()
	c.Server.SetDefaults()
	if c.LLMs == nil {
		c.LLMs = map[string]LLMSettings{}
	}
	if len(c.LLMs) == 0 {
		c.LLMs["default"] = LLMSettings{Tier: TierBalanced}
	}
	for name := range c.LLMs {
		l := c.LLMs[name]
		l.SetDefaults()
		c.LLMs[name] = l
	}
}

// GlobalSettings holds cross-cutting settings applied to every
// component.
type GlobalSettings struct {
	Logging LoggingConfig `yaml:"logging,omitempty"`
}

func (c *GlobalSettings) Validate() error {
	return c.Logging.Validate()
}

func (c *GlobalSettings) SetDefaults() {
	c.Logging.SetDefaults()
}

// LoggingConfig configures the slog.Logger that `engine serve` builds
// for its own log lines; the engine's components are not given it.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`  // debug|info|warn|error
	Format string `yaml:"format,omitempty"` // text|json
}

func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Level)
	}
	switch c.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log format %q", c.Format)
	}
	return nil
}

func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
}

// EngineSettings configures the Loop Orchestrator, token budget, tier
// allocations, lifecycle thresholds, and circuit breaker thresholds
// (spec §3.2/§3.3/§4.3/§4.4/§4.9).
type EngineSettings struct {
	MaxIterations      int `yaml:"max_iterations,omitempty"`
	MaxErrors          int `yaml:"max_errors,omitempty"`
	CheckpointInterval int `yaml:"checkpoint_interval,omitempty"`

	TotalTokenBudget int `yaml:"total_token_budget,omitempty"`

	TierAllocations map[string]float64 `yaml:"tier_allocations,omitempty"`

	Lifecycle LifecycleSettings `yaml:"lifecycle,omitempty"`
	Monitor   MonitorSettings   `yaml:"monitor,omitempty"`
	Breaker   BreakerSettings   `yaml:"circuit_breaker,omitempty"`
}

func (c *EngineSettings) Validate() error {
	if c.MaxIterations < 0 {
		return fmt.Errorf("max_iterations must be >= 0")
	}
	if c.MaxErrors < 0 {
		return fmt.Errorf("max_errors must be >= 0")
	}
	var sum float64
	for _, v := range c.TierAllocations {
		if v < 0 || v > 1 {
			return fmt.Errorf("tier allocation %v out of range [0,1]", v)
		}
		sum += v
	}
	if len(c.TierAllocations) > 0 && (sum < 0.99 || sum > 1.01) {
		return fmt.Errorf("tier allocations must sum to ~1.0, got %.4f", sum)
	}
	return nil
}

func (c *EngineSettings) SetDefaults() {
	if c.MaxIterations == 0 {
		c.MaxIterations = 25
	}
	if c.MaxErrors == 0 {
		c.MaxErrors = 3
	}
	if c.TotalTokenBudget == 0 {
		c.TotalTokenBudget = 100000
	}
	if c.TierAllocations == nil {
		c.TierAllocations = map[string]float64{
			"system": 0.08, "tools": 0.06, "resources": 0.10,
			"recent": 0.45, "archived": 0.25, "ephemeral": 0.06,
		}
	}
	c.Lifecycle.SetDefaults()
	c.Monitor.SetDefaults()
	c.Breaker.SetDefaults()
}

// LifecycleSettings configures the Tool-Result Lifecycle's age
// thresholds and per-stage token caps (spec §4.4 defaults).
type LifecycleSettings struct {
	RecentAtTurns   int `yaml:"recent_at_turns,omitempty"`
	ArchivedAtTurns int `yaml:"archived_at_turns,omitempty"`
	EvictedAtTurns  int `yaml:"evicted_at_turns,omitempty"`

	ImmediateMaxTokens int `yaml:"immediate_max_tokens,omitempty"`
	RecentMaxTokens    int `yaml:"recent_max_tokens,omitempty"`
	ArchivedMaxTokens  int `yaml:"archived_max_tokens,omitempty"`
}

func (c *LifecycleSettings) SetDefaults() {
	if c.RecentAtTurns == 0 {
		c.RecentAtTurns = 1
	}
	if c.ArchivedAtTurns == 0 {
		c.ArchivedAtTurns = 5
	}
	if c.EvictedAtTurns == 0 {
		c.EvictedAtTurns = 15
	}
	if c.ImmediateMaxTokens == 0 {
		c.ImmediateMaxTokens = 5000
	}
	if c.RecentMaxTokens == 0 {
		c.RecentMaxTokens = 500
	}
	if c.ArchivedMaxTokens == 0 {
		c.ArchivedMaxTokens = 100
	}
}

// MonitorSettings configures the Echo-Poisoning & Staleness Monitor
// (spec §4.5 defaults).
type MonitorSettings struct {
	HistoryCap    int `yaml:"history_cap,omitempty"`
	LoopThreshold int `yaml:"loop_threshold,omitempty"`
}

func (c *MonitorSettings) SetDefaults() {
	if c.HistoryCap == 0 {
		c.HistoryCap = 50
	}
	if c.LoopThreshold == 0 {
		c.LoopThreshold = 3
	}
}

// BreakerSettings configures the Action Adapter's circuit breaker
// (spec §4.9, property 6: opens after 5 consecutive failures).
type BreakerSettings struct {
	FailureThreshold int           `yaml:"failure_threshold,omitempty"`
	OpenDuration     time.Duration `yaml:"open_duration,omitempty"`
}

func (c *BreakerSettings) SetDefaults() {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.OpenDuration == 0 {
		c.OpenDuration = 30 * time.Second
	}
}

// ServerSettings configures the HTTP/SSE projection (spec §6.2).
type ServerSettings struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`
}

func (c *ServerSettings) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	return nil
}

func (c *ServerSettings) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
}

// HookSettings names hooks to register by the registered name they
// were compiled/plugged in under (spec §4.7); the engine resolves
// these against whatever hook implementations the host binary links
// in.
type HookSettings struct {
	PreToolUse         []string `yaml:"pre_tool_use,omitempty"`
	PostToolUse        []string `yaml:"post_tool_use,omitempty"`
	PostToolUseFailure []string `yaml:"post_tool_use_failure,omitempty"`
}

// LLMSettings configures one named LLM provider entry (spec §4.10).
type LLMSettings struct {
	Provider    string    `yaml:"provider,omitempty"`
	Model       string    `yaml:"model,omitempty"`
	Tier        ModelTier `yaml:"tier,omitempty"`
	APIKeyEnv   string    `yaml:"api_key_env,omitempty"`
	MaxTokens   int       `yaml:"max_tokens,omitempty"`
	Temperature float64   `yaml:"temperature,omitempty"`
}

func (c *LLMSettings) Validate() error {
	switch c.Tier {
	case "", TierFast, TierBalanced, TierPowerful:
	default:
		return fmt.Errorf("invalid model tier %q", c.Tier)
	}
	return nil
}

func (c *LLMSettings) SetDefaults() {
	if c.Tier == "" {
		c.Tier = TierBalanced
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
}

// RequiredAPIKey returns the environment variable this provider needs
// and whether it is set, for the §6.3 "missing key produces the
// dedicated fatal error code" check.
func (c *LLMSettings) RequiredAPIKey() (envVar string, present bool) {
	if c.APIKeyEnv == "" {
		return "", true
	}
	_, ok := os.LookupEnv(c.APIKeyEnv)
	return c.APIKeyEnv, ok
}

// Load reads and parses a YAML config document from path, applying
// defaults and validating the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses a YAML config document already in memory.
func LoadFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse yaml: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
