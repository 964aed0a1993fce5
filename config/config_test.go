package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agentrelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFileDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "quality", cfg.Router.Criteria)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFileParsesYAML(t *testing.T) {
	path := writeConfig(t, `
providers:
  openai:
    api_key: sk-test
  ollama:
    enabled: true
    base_url: http://ollama:11434/v1
router:
  criteria: cost
  breaker:
    max_failures: 3
    timeout: 10s
server:
  addr: ":9090"
  dev_mode: true
`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.Providers.OpenAI.APIKey)
	require.NotNil(t, cfg.Providers.Ollama.Enabled)
	assert.True(t, *cfg.Providers.Ollama.Enabled)
	assert.Equal(t, "cost", cfg.Router.Criteria)
	assert.Equal(t, uint32(3), cfg.Router.Breaker.MaxFailures)
	assert.Equal(t, 10*time.Second, cfg.Router.Breaker.Timeout)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.True(t, cfg.Server.DevMode)
}

func TestLoadFileExpandsEnv(t *testing.T) {
	t.Setenv("TEST_GROQ_KEY", "gsk-expanded")
	path := writeConfig(t, `
providers:
  groq:
    api_key: ${TEST_GROQ_KEY}
`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "gsk-expanded", cfg.Providers.Groq.APIKey)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "ak-env")
	t.Setenv("AGENTRELAY_ADDR", ":7070")
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "ak-env", cfg.Providers.Anthropic.APIKey)
	assert.Equal(t, ":7070", cfg.Server.Addr)
}

func TestBuildProvidersOmitsUnconfigured(t *testing.T) {
	cfg := defaults()
	providers := BuildProviders(&cfg, nil)
	assert.Empty(t, providers)
}

func TestBuildProvidersIncludesKeyedVendors(t *testing.T) {
	cfg := defaults()
	cfg.Providers.OpenAI.APIKey = "sk-1"
	cfg.Providers.Anthropic.APIKey = "ak-1"
	cfg.Providers.Groq.APIKey = "gsk-1"

	providers := BuildProviders(&cfg, nil)
	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.Name()
	}
	assert.Equal(t, []string{"anthropic", "openai", "groq"}, names)
}

func TestBuildProvidersOllamaOptIn(t *testing.T) {
	cfg := defaults()
	providers := BuildProviders(&cfg, nil)
	assert.Empty(t, providers)

	enabled := true
	cfg.Providers.Ollama.Enabled = &enabled
	providers = BuildProviders(&cfg, nil)
	require.Len(t, providers, 1)
	assert.Equal(t, "ollama", providers[0].Name())
}

func TestBuildProvidersDisabledFlagWins(t *testing.T) {
	cfg := defaults()
	cfg.Providers.OpenAI.APIKey = "sk-1"
	disabled := false
	cfg.Providers.OpenAI.Enabled = &disabled

	providers := BuildProviders(&cfg, nil)
	assert.Empty(t, providers)
}
