// Package config holds all formcoach configuration: one YAML file, one
// struct, environment overrides for secrets and paths.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all formcoach configuration.
type Config struct {
	// LLM provider for question generation and analysis stages
	LLM LLMConfig `yaml:"llm"`

	// Web search for the research stage
	Search SearchConfig `yaml:"search"`

	// Embedding engine for semantic knowledge retrieval
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Knowledge and session storage
	Store StoreConfig `yaml:"store"`

	// HTTP server
	Server ServerConfig `yaml:"server"`

	// Dialogue behavior
	Dialogue DialogueConfig `yaml:"dialogue"`

	// Run loop safety envelope
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the completion backend.
type LLMConfig struct {
	Provider string `yaml:"provider"` // nim, anthropic, none
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
	Retries  int    `yaml:"retries"`
}

// SearchConfig configures Brave web search.
type SearchConfig struct {
	APIKey     string `yaml:"api_key"`
	Endpoint   string `yaml:"endpoint"`
	Timeout    string `yaml:"timeout"`
	MaxResults int    `yaml:"max_results"`
}

// EmbeddingConfig configures the semantic retrieval engine. An empty model
// means the provider's default.
type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // none, nim, genai
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
}

// StoreConfig configures the SQLite store and the corpus directory.
type StoreConfig struct {
	Path      string `yaml:"path"`
	CorpusDir string `yaml:"corpus_dir"`
	Watch     bool   `yaml:"watch"`
}

// ServerConfig configures the HTTP server and session lifecycle.
type ServerConfig struct {
	Addr            string `yaml:"addr"`
	SessionTTL      string `yaml:"session_ttl"`
	SweepInterval   string `yaml:"sweep_interval"`
	ReadTimeout     string `yaml:"read_timeout"`
	WriteTimeout    string `yaml:"write_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// DialogueConfig configures questioning behavior.
type DialogueConfig struct {
	MinOptionalFields int           `yaml:"min_optional_fields"`
	OptionalBudgetMin int           `yaml:"optional_budget_min"`
	OptionalBudgetMax int           `yaml:"optional_budget_max"`
	Shuffle           ShuffleConfig `yaml:"shuffle"`
}

// ShuffleConfig controls per-session question-order variety.
type ShuffleConfig struct {
	Enabled bool  `yaml:"enabled"`
	Seed    int64 `yaml:"seed"`
}

// OrchestratorConfig holds the run loop safety knobs.
type OrchestratorConfig struct {
	MaxIterations         int    `yaml:"max_iterations"`
	MaxStagesPerRequest   int    `yaml:"max_stages_per_request"`
	ProgressCheckInterval int    `yaml:"progress_check_interval"`
	StageTimeout          string `yaml:"stage_timeout"`
}

// LoggingConfig configures the category loggers.
type LoggingConfig struct {
	Dir     string `yaml:"dir"`
	Level   string `yaml:"level"` // debug, info, warn, error
	Console bool   `yaml:"console"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider: "none",
			Model:    "nvidia/llama-3.1-nemotron-nano-8b-v1",
			BaseURL:  "https://integrate.api.nvidia.com/v1",
			Timeout:  "60s",
			Retries:  3,
		},
		Search: SearchConfig{
			Endpoint:   "https://api.search.brave.com/res/v1/web/search",
			Timeout:    "10s",
			MaxResults: 5,
		},
		Embedding: EmbeddingConfig{
			Provider: "none",
		},
		Store: StoreConfig{
			Path:  "formcoach.db",
			Watch: true,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			SessionTTL:      "30m",
			SweepInterval:   "5m",
			ReadTimeout:     "30s",
			WriteTimeout:    "120s",
			ShutdownTimeout: "5s",
		},
		Dialogue: DialogueConfig{
			MinOptionalFields: 2,
			OptionalBudgetMin: 3,
			OptionalBudgetMax: 4,
			Shuffle:           ShuffleConfig{Enabled: true},
		},
		Orchestrator: OrchestratorConfig{
			MaxIterations:         50,
			MaxStagesPerRequest:   10,
			ProgressCheckInterval: 5,
			StageTimeout:          "60s",
		},
		Logging: LoggingConfig{
			Dir:     ".formcoach/logs",
			Level:   "info",
			Console: false,
		},
	}
}

// Load reads configuration from a YAML file, starting from defaults. A
// missing file is not an error; environment overrides always apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides. Provider keys
// are checked in priority order; the last provider with a key set wins.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("NVIDIA_API_KEY"); key != "" {
		c.LLM.APIKey = key
		if c.LLM.Provider == "" || c.LLM.Provider == "none" {
			c.LLM.Provider = "nim"
		}
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "anthropic"
	}

	if key := os.Getenv("BRAVE_API_KEY"); key != "" {
		c.Search.APIKey = key
	}

	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Embedding.APIKey = key
		if c.Embedding.Provider == "" || c.Embedding.Provider == "none" {
			c.Embedding.Provider = "genai"
		}
	}

	if path := os.Getenv("FORMCOACH_DB"); path != "" {
		c.Store.Path = path
	}
	if dir := os.Getenv("FORMCOACH_CORPUS_DIR"); dir != "" {
		c.Store.CorpusDir = dir
	}
	if addr := os.Getenv("FORMCOACH_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if level := os.Getenv("FORMCOACH_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// Validate rejects configurations the process cannot run with.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "nim", "anthropic", "none":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	switch c.Embedding.Provider {
	case "nim", "genai", "none":
	default:
		return fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider)
	}
	if c.LLM.Provider != "none" && c.LLM.APIKey == "" {
		return fmt.Errorf("llm provider %q configured without an api key", c.LLM.Provider)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store path must not be empty")
	}
	if c.Dialogue.OptionalBudgetMax < c.Dialogue.OptionalBudgetMin {
		return fmt.Errorf("dialogue optional budget max %d below min %d",
			c.Dialogue.OptionalBudgetMax, c.Dialogue.OptionalBudgetMin)
	}
	if c.Orchestrator.MaxIterations <= 0 || c.Orchestrator.MaxStagesPerRequest <= 0 {
		return fmt.Errorf("orchestrator caps must be positive")
	}
	return nil
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 60*time.Second)
}

// GetSearchTimeout returns the web search timeout as a duration.
func (c *Config) GetSearchTimeout() time.Duration {
	return parseDuration(c.Search.Timeout, 10*time.Second)
}

// GetStageTimeout returns the per-stage execution timeout as a duration.
func (c *Config) GetStageTimeout() time.Duration {
	return parseDuration(c.Orchestrator.StageTimeout, 60*time.Second)
}

// GetSessionTTL returns how long an idle server session survives.
func (c *Config) GetSessionTTL() time.Duration {
	return parseDuration(c.Server.SessionTTL, 30*time.Minute)
}

// GetSweepInterval returns how often idle sessions are reaped.
func (c *Config) GetSweepInterval() time.Duration {
	return parseDuration(c.Server.SweepInterval, 5*time.Minute)
}

// GetReadTimeout returns the HTTP read timeout.
func (c *Config) GetReadTimeout() time.Duration {
	return parseDuration(c.Server.ReadTimeout, 30*time.Second)
}

// GetWriteTimeout returns the HTTP write timeout. Writes span a whole
// pipeline run, so this is much longer than the read timeout.
func (c *Config) GetWriteTimeout() time.Duration {
	return parseDuration(c.Server.WriteTimeout, 120*time.Second)
}

// GetShutdownTimeout returns how long graceful shutdown may take.
func (c *Config) GetShutdownTimeout() time.Duration {
	return parseDuration(c.Server.ShutdownTimeout, 5*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
