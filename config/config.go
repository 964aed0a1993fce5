// Package config loads the YAML + environment configuration and builds the
// provider set from it. A provider with no credentials is omitted from the
// build, never an error.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/provider"
	anthropicprovider "github.com/hupe1980/agentrelay/provider/anthropic"
	"github.com/hupe1980/agentrelay/provider/openaicompat"
)

// Config is the root configuration document.
type Config struct {
	Providers ProvidersConfig `yaml:"providers"`
	Router    RouterConfig    `yaml:"router"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ProviderConfig configures one vendor. Enabled defaults to true for keyed
// vendors; Ollama needs no key and is opt-in via the enabled flag instead.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	Enabled *bool  `yaml:"enabled"`
}

func (p ProviderConfig) enabled(def bool) bool {
	if p.Enabled != nil {
		return *p.Enabled
	}
	return def
}

// ProvidersConfig holds the per-vendor blocks.
type ProvidersConfig struct {
	OpenAI     ProviderConfig `yaml:"openai"`
	Anthropic  ProviderConfig `yaml:"anthropic"`
	Google     ProviderConfig `yaml:"google"`
	Groq       ProviderConfig `yaml:"groq"`
	OpenRouter ProviderConfig `yaml:"openrouter"`
	Ollama     ProviderConfig `yaml:"ollama"`
}

// RouterConfig tunes routing defaults.
type RouterConfig struct {
	Criteria string        `yaml:"criteria"`
	Breaker  BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the per-provider circuit breakers.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// ServerConfig tunes the HTTP server.
type ServerConfig struct {
	Addr         string   `yaml:"addr"`
	DevMode      bool     `yaml:"dev_mode"`
	AllowOrigins []string `yaml:"allow_origins"`
}

// LoggingConfig tunes the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaults() Config {
	return Config{
		Router: RouterConfig{
			Criteria: "quality",
		},
		Server: ServerConfig{
			Addr:         ":8080",
			AllowOrigins: []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the config file (AGENTRELAY_CONFIG, default
// config/agentrelay.yaml), expands ${ENV} references inside it, then applies
// environment overrides. A missing file yields defaults plus environment.
func Load() (*Config, error) {
	path := os.Getenv("AGENTRELAY_CONFIG")
	if path == "" {
		path = "config/agentrelay.yaml"
	}
	return LoadFile(path)
}

// LoadFile is Load with an explicit path.
func LoadFile(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Providers.OpenAI.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Providers.Anthropic.APIKey = v
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		cfg.Providers.Google.APIKey = v
	}
	if v := os.Getenv("GROQ_API_KEY"); v != "" {
		cfg.Providers.Groq.APIKey = v
	}
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		cfg.Providers.OpenRouter.APIKey = v
	}
	if v := os.Getenv("OLLAMA_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Providers.Ollama.Enabled = &b
		}
	}
	if v := os.Getenv("AGENTRELAY_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("AGENTRELAY_DEV"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Server.DevMode = b
		}
	}
}

// BuildProviders constructs the provider set the config names: every keyed
// vendor with credentials, plus Ollama when its enabled flag is set. Each
// adapter is wrapped in a circuit breaker. The returned slice preserves the
// quality ranking order so registration order is stable.
func BuildProviders(cfg *Config, logger logging.Logger) []provider.Provider {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	breaker := provider.BreakerConfig{
		MaxFailures: cfg.Router.Breaker.MaxFailures,
		Timeout:     cfg.Router.Breaker.Timeout,
	}
	wrap := func(p provider.Provider) provider.Provider {
		return provider.NewCircuitBreaker(p, breaker, logger)
	}

	var out []provider.Provider

	if c := cfg.Providers.Anthropic; c.APIKey != "" && c.enabled(true) {
		out = append(out, wrap(anthropicprovider.New(func(o *anthropicprovider.Options) {
			o.APIKey = c.APIKey
			if c.Model != "" {
				o.DefaultModel = anthropic.Model(c.Model)
			}
		})))
	}
	if c := cfg.Providers.OpenAI; c.APIKey != "" && c.enabled(true) {
		out = append(out, wrap(openaicompat.New(func(o *openaicompat.Options) {
			o.Name = "openai"
			o.APIKey = c.APIKey
			o.BaseURL = c.BaseURL
			if c.Model != "" {
				o.DefaultModel = c.Model
			}
		})))
	}
	if c := cfg.Providers.Google; c.APIKey != "" && c.enabled(true) {
		out = append(out, wrap(openaicompat.New(func(o *openaicompat.Options) {
			o.Name = "google"
			o.APIKey = c.APIKey
			o.BaseURL = orDefault(c.BaseURL, openaicompat.GoogleBaseURL)
			o.DefaultModel = orDefault(c.Model, "gemini-2.0-flash")
			o.EmbedModel = "text-embedding-004"
		})))
	}
	if c := cfg.Providers.Groq; c.APIKey != "" && c.enabled(true) {
		out = append(out, wrap(openaicompat.New(func(o *openaicompat.Options) {
			o.Name = "groq"
			o.APIKey = c.APIKey
			o.BaseURL = orDefault(c.BaseURL, openaicompat.GroqBaseURL)
			o.DefaultModel = orDefault(c.Model, "llama-3.3-70b-versatile")
			o.EmbedModel = ""
		})))
	}
	if c := cfg.Providers.OpenRouter; c.APIKey != "" && c.enabled(true) {
		out = append(out, wrap(openaicompat.New(func(o *openaicompat.Options) {
			o.Name = "openrouter"
			o.APIKey = c.APIKey
			o.BaseURL = orDefault(c.BaseURL, openaicompat.OpenRouterBaseURL)
			o.DefaultModel = orDefault(c.Model, "openrouter/auto")
			o.EmbedModel = ""
		})))
	}
	// Ollama serves locally without a key, so it is opt-in rather than
	// key-gated.
	if c := cfg.Providers.Ollama; c.enabled(false) {
		out = append(out, wrap(openaicompat.New(func(o *openaicompat.Options) {
			o.Name = "ollama"
			o.APIKey = c.APIKey
			o.BaseURL = orDefault(c.BaseURL, openaicompat.OllamaBaseURL)
			o.DefaultModel = orDefault(c.Model, "llama3.2")
			o.EmbedModel = "nomic-embed-text"
			o.DefaultPrice = provider.ModelPrice{}
		})))
	}
	return out
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
