package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable the loader reads, so host environment
// cannot leak into assertions.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"NVIDIA_API_KEY", "ANTHROPIC_API_KEY", "BRAVE_API_KEY", "GEMINI_API_KEY",
		"FORMCOACH_DB", "FORMCOACH_CORPUS_DIR", "FORMCOACH_ADDR", "FORMCOACH_LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "none", cfg.LLM.Provider)
	assert.Equal(t, "nvidia/llama-3.1-nemotron-nano-8b-v1", cfg.LLM.Model)
	assert.Equal(t, "https://integrate.api.nvidia.com/v1", cfg.LLM.BaseURL)
	assert.Equal(t, 3, cfg.LLM.Retries)
	assert.Equal(t, 5, cfg.Search.MaxResults)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "formcoach.db", cfg.Store.Path)
	assert.True(t, cfg.Store.Watch)
	assert.Equal(t, 2, cfg.Dialogue.MinOptionalFields)
	assert.Equal(t, 3, cfg.Dialogue.OptionalBudgetMin)
	assert.Equal(t, 4, cfg.Dialogue.OptionalBudgetMax)
	assert.Equal(t, 50, cfg.Orchestrator.MaxIterations)
	assert.Equal(t, 10, cfg.Orchestrator.MaxStagesPerRequest)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadMergesYAMLOverDefaults(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "formcoach.yaml")
	yaml := `
llm:
  provider: nim
  api_key: test-key
server:
  addr: ":9999"
store:
  corpus_dir: ./corpus
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "nim", cfg.LLM.Provider)
	assert.Equal(t, "test-key", cfg.LLM.APIKey)
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, "./corpus", cfg.Store.CorpusDir)
	// Unspecified fields keep their defaults
	assert.Equal(t, "nvidia/llama-3.1-nemotron-nano-8b-v1", cfg.LLM.Model)
	assert.Equal(t, "formcoach.db", cfg.Store.Path)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm: [not a mapping"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Run("NVIDIA_API_KEY selects nim when no provider chosen", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("NVIDIA_API_KEY", "nv-key")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "nv-key", cfg.LLM.APIKey)
		assert.Equal(t, "nim", cfg.LLM.Provider)
	})

	t.Run("NVIDIA_API_KEY keeps an explicit provider", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("NVIDIA_API_KEY", "nv-key")

		cfg := DefaultConfig()
		cfg.LLM.Provider = "anthropic"
		cfg.applyEnvOverrides()

		assert.Equal(t, "nv-key", cfg.LLM.APIKey)
		assert.Equal(t, "anthropic", cfg.LLM.Provider)
	})

	t.Run("ANTHROPIC_API_KEY wins over NVIDIA_API_KEY", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("NVIDIA_API_KEY", "nv-key")
		t.Setenv("ANTHROPIC_API_KEY", "ant-key")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "ant-key", cfg.LLM.APIKey)
		assert.Equal(t, "anthropic", cfg.LLM.Provider)
	})

	t.Run("BRAVE_API_KEY fills search", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("BRAVE_API_KEY", "brave-key")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "brave-key", cfg.Search.APIKey)
	})

	t.Run("GEMINI_API_KEY enables genai embeddings", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("GEMINI_API_KEY", "gem-key")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "gem-key", cfg.Embedding.APIKey)
		assert.Equal(t, "genai", cfg.Embedding.Provider)
	})

	t.Run("FORMCOACH paths and addr", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("FORMCOACH_DB", "/tmp/other.db")
		t.Setenv("FORMCOACH_CORPUS_DIR", "/tmp/corpus")
		t.Setenv("FORMCOACH_ADDR", ":7070")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "/tmp/other.db", cfg.Store.Path)
		assert.Equal(t, "/tmp/corpus", cfg.Store.CorpusDir)
		assert.Equal(t, ":7070", cfg.Server.Addr)
	})
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(c *Config) {}, ""},
		{"unknown llm provider", func(c *Config) { c.LLM.Provider = "carrier-pigeon" }, "unknown llm provider"},
		{"provider without key", func(c *Config) { c.LLM.Provider = "nim" }, "without an api key"},
		{"unknown embedding provider", func(c *Config) { c.Embedding.Provider = "magic" }, "unknown embedding provider"},
		{"empty store path", func(c *Config) { c.Store.Path = "" }, "store path"},
		{"inverted budget", func(c *Config) { c.Dialogue.OptionalBudgetMax = 1 }, "optional budget"},
		{"zero iteration cap", func(c *Config) { c.Orchestrator.MaxIterations = 0 }, "caps must be positive"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
			}
		})
	}
}

func TestDurationGetters(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "60s", cfg.LLM.Timeout)
	assert.Equal(t, float64(60), cfg.GetLLMTimeout().Seconds())
	assert.Equal(t, float64(10), cfg.GetSearchTimeout().Seconds())
	assert.Equal(t, float64(60), cfg.GetStageTimeout().Seconds())
	assert.Equal(t, float64(1800), cfg.GetSessionTTL().Seconds())

	cfg.Server.SessionTTL = "garbage"
	assert.Equal(t, float64(1800), cfg.GetSessionTTL().Seconds())
	cfg.Orchestrator.StageTimeout = "-5s"
	assert.Equal(t, float64(60), cfg.GetStageTimeout().Seconds())
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)

	cfg := DefaultConfig()
	cfg.Server.Addr = ":6060"
	cfg.Store.CorpusDir = "corpus"

	path := filepath.Join(t.TempDir(), "nested", "formcoach.yaml")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
