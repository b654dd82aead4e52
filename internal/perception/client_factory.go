package perception

import (
	"fmt"
	"os"
	"time"
)

// Provider identifies an LLM backend.
type Provider string

const (
	ProviderNIM       Provider = "nim"
	ProviderAnthropic Provider = "anthropic"
)

// ProviderConfig holds the resolved provider and API key.
type ProviderConfig struct {
	Provider   Provider
	APIKey     string
	Model      string        // optional model override
	BaseURL    string        // optional endpoint override
	Timeout    time.Duration // optional request timeout override
	MaxRetries int           // optional 429 retry cap override
}

// DetectProvider resolves a provider from environment variables.
// Priority: NVIDIA_API_KEY > ANTHROPIC_API_KEY.
func DetectProvider() (*ProviderConfig, error) {
	providers := []struct {
		envVar   string
		provider Provider
	}{
		{"NVIDIA_API_KEY", ProviderNIM},
		{"ANTHROPIC_API_KEY", ProviderAnthropic},
	}

	for _, p := range providers {
		if key := os.Getenv(p.envVar); key != "" {
			return &ProviderConfig{Provider: p.provider, APIKey: key}, nil
		}
	}

	return nil, fmt.Errorf("no API key found; set NVIDIA_API_KEY or ANTHROPIC_API_KEY")
}

// NewClientFromEnv creates an LLM client from environment variables.
func NewClientFromEnv() (LLMClient, error) {
	cfg, err := DetectProvider()
	if err != nil {
		return nil, err
	}
	return NewClientFromConfig(cfg)
}

// NewClientFromConfig creates an LLM client from a provider config.
func NewClientFromConfig(cfg *ProviderConfig) (LLMClient, error) {
	switch cfg.Provider {
	case ProviderNIM:
		nc := DefaultNIMConfig(cfg.APIKey)
		if cfg.Model != "" {
			nc.Model = cfg.Model
		}
		if cfg.BaseURL != "" {
			nc.BaseURL = cfg.BaseURL
		}
		if cfg.Timeout > 0 {
			nc.Timeout = cfg.Timeout
		}
		if cfg.MaxRetries > 0 {
			nc.MaxRetries = cfg.MaxRetries
		}
		return NewNIMClientWithConfig(nc), nil

	case ProviderAnthropic:
		ac := DefaultAnthropicConfig(cfg.APIKey)
		if cfg.Model != "" {
			ac.Model = cfg.Model
		}
		if cfg.BaseURL != "" {
			ac.BaseURL = cfg.BaseURL
		}
		if cfg.Timeout > 0 {
			ac.Timeout = cfg.Timeout
		}
		return NewAnthropicClientWithConfig(ac), nil

	default:
		return nil, fmt.Errorf("unknown provider: %s (valid: nim, anthropic)", cfg.Provider)
	}
}
