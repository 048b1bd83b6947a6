// Package config provides configuration management for entitylink.
// Settings load in three layers: built-in defaults, an optional YAML file,
// and environment variables with the ENTITYLINK_ prefix. Later layers win,
// so a deployment can ship a config file and still override one value per
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scrypster/entitylink/internal/llm"
)

// Config holds all configuration settings for the entitylink resolver.
type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	LLM      LLMConfig      `yaml:"llm"`
	Resolver ResolverConfig `yaml:"resolver"`
}

// StorageConfig contains database configuration.
type StorageConfig struct {
	Engine      string `yaml:"engine"`       // Storage engine: sqlite, postgres (default: sqlite)
	SQLitePath  string `yaml:"sqlite_path"`  // SQLite database path (default: ./data/entitylink.db)
	PostgresDSN string `yaml:"postgres_dsn"` // Postgres connection string
}

// LLMConfig contains oracle and embedding provider configuration.
type LLMConfig struct {
	Provider             string `yaml:"provider"`               // LLM provider: ollama, openai, anthropic, or empty for none (default: ollama)
	OllamaURL            string `yaml:"ollama_url"`             // Ollama API URL (default: http://localhost:11434)
	OllamaModel          string `yaml:"ollama_model"`           // Ollama model for matching (default: qwen2.5:7b)
	OllamaEmbeddingModel string `yaml:"ollama_embedding_model"` // Ollama model for embeddings (default: nomic-embed-text)
	OpenAIAPIKey         string `yaml:"openai_api_key"`         // OpenAI API key
	OpenAIModel          string `yaml:"openai_model"`           // OpenAI model name (default: gpt-4o-mini)
	OpenAIEmbeddingModel string `yaml:"openai_embedding_model"` // OpenAI embedding model (default: text-embedding-3-small)
	AnthropicAPIKey      string `yaml:"anthropic_api_key"`      // Anthropic API key
	AnthropicModel       string `yaml:"anthropic_model"`        // Anthropic model name (default: claude-haiku-4-5-20251001)
	TimeoutSeconds       int    `yaml:"timeout_seconds"`        // Per-request timeout (default: 30)
}

// ResolverConfig contains resolution pipeline tuning.
type ResolverConfig struct {
	MentionCacheSize   int     `yaml:"mention_cache_size"`   // Bounded mention embedding cache capacity (default: 10000)
	ItemTimeoutSeconds int     `yaml:"item_timeout_seconds"` // Per-item timeout for batch resolution (default: 30)
	PrewarmRate        float64 `yaml:"prewarm_rate"`         // Embedding pre-warm calls per second (default: 5)
}

// Load builds configuration from defaults and environment variables.
func Load() *Config {
	cfg := defaults()
	cfg.applyEnv()
	return cfg
}

// LoadFile builds configuration from defaults, the given YAML file, and
// environment variables, in that precedence order.
func LoadFile(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	cfg.applyEnv()
	return cfg, nil
}

// ProviderConfig translates the LLM section into the provider selector the
// llm factory consumes.
func (c *Config) ProviderConfig() llm.ProviderConfig {
	pc := llm.ProviderConfig{
		Provider: c.LLM.Provider,
		Timeout:  time.Duration(c.LLM.TimeoutSeconds) * time.Second,
	}
	switch c.LLM.Provider {
	case "ollama":
		pc.BaseURL = c.LLM.OllamaURL
		pc.Model = c.LLM.OllamaModel
		pc.EmbeddingModel = c.LLM.OllamaEmbeddingModel
	case "openai":
		pc.APIKey = c.LLM.OpenAIAPIKey
		pc.Model = c.LLM.OpenAIModel
		pc.EmbeddingModel = c.LLM.OpenAIEmbeddingModel
	case "anthropic":
		pc.APIKey = c.LLM.AnthropicAPIKey
		pc.Model = c.LLM.AnthropicModel
	}
	return pc
}

func defaults() *Config {
	return &Config{
		Storage: StorageConfig{
			Engine:     "sqlite",
			SQLitePath: "./data/entitylink.db",
		},
		LLM: LLMConfig{
			Provider:             "ollama",
			OllamaURL:            "http://localhost:11434",
			OllamaModel:          "qwen2.5:7b",
			OllamaEmbeddingModel: "nomic-embed-text",
			OpenAIModel:          "gpt-4o-mini",
			OpenAIEmbeddingModel: "text-embedding-3-small",
			AnthropicModel:       "claude-haiku-4-5-20251001",
			TimeoutSeconds:       30,
		},
		Resolver: ResolverConfig{
			MentionCacheSize:   10000,
			ItemTimeoutSeconds: 30,
			PrewarmRate:        5.0,
		},
	}
}

// applyEnv overrides configuration with ENTITYLINK_ environment variables.
func (c *Config) applyEnv() {
	c.Storage.Engine = getEnv("ENTITYLINK_STORAGE_ENGINE", c.Storage.Engine)
	c.Storage.SQLitePath = getEnv("ENTITYLINK_SQLITE_PATH", c.Storage.SQLitePath)
	c.Storage.PostgresDSN = getEnv("ENTITYLINK_POSTGRES_DSN", c.Storage.PostgresDSN)

	c.LLM.Provider = getEnv("ENTITYLINK_LLM_PROVIDER", c.LLM.Provider)
	c.LLM.OllamaURL = getEnv("ENTITYLINK_OLLAMA_URL", c.LLM.OllamaURL)
	c.LLM.OllamaModel = getEnv("ENTITYLINK_OLLAMA_MODEL", c.LLM.OllamaModel)
	c.LLM.OllamaEmbeddingModel = getEnv("ENTITYLINK_EMBEDDING_MODEL", c.LLM.OllamaEmbeddingModel)
	c.LLM.OpenAIAPIKey = getEnv("ENTITYLINK_OPENAI_API_KEY", c.LLM.OpenAIAPIKey)
	c.LLM.OpenAIModel = getEnv("ENTITYLINK_OPENAI_MODEL", c.LLM.OpenAIModel)
	c.LLM.OpenAIEmbeddingModel = getEnv("ENTITYLINK_OPENAI_EMBEDDING_MODEL", c.LLM.OpenAIEmbeddingModel)
	c.LLM.AnthropicAPIKey = getEnv("ENTITYLINK_ANTHROPIC_API_KEY", c.LLM.AnthropicAPIKey)
	c.LLM.AnthropicModel = getEnv("ENTITYLINK_ANTHROPIC_MODEL", c.LLM.AnthropicModel)
	c.LLM.TimeoutSeconds = getEnvInt("ENTITYLINK_LLM_TIMEOUT_SECONDS", c.LLM.TimeoutSeconds)

	c.Resolver.MentionCacheSize = getEnvInt("ENTITYLINK_MENTION_CACHE_SIZE", c.Resolver.MentionCacheSize)
	c.Resolver.ItemTimeoutSeconds = getEnvInt("ENTITYLINK_ITEM_TIMEOUT_SECONDS", c.Resolver.ItemTimeoutSeconds)
	c.Resolver.PrewarmRate = getEnvFloat("ENTITYLINK_PREWARM_RATE", c.Resolver.PrewarmRate)
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. A value that cannot be parsed as an integer returns the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value. A value that cannot be parsed as a float returns the default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
