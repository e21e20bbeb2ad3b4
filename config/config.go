// Package config loads Memoria's process configuration from the
// environment (optionally via a .env file), following the env-var
// idiom with typed getEnv* helpers and explicit defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Environment distinguishes development from production behavior:
// production forbids the simple embedding variant and requires an
// API key on the HTTP surface.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// Config is the fully resolved, read-only-after-startup process
// configuration.
type Config struct {
	ReplyLLMAPIKey string
	EmbeddingAPIKey string
	APIKey          string
	Environment     Environment

	EmbeddingModel   string // remote-llm | local-transformer | simple
	EmbeddingBaseURL string
	DataDir          string

	MemoryExtractThreshold int
	MaxContextMemories     int

	Host    string
	Port    string
	Workers int

	ExtractionWorkers     int
	ExtractionWindow      int
	LLMTimeout            time.Duration
	ShutdownTimeout       time.Duration
}

// Load reads .env (if present) then the environment, validating the
// combination of environment, embedding model, and thresholds. A
// non-nil error here is always a config_invalid startup failure; the
// caller is expected to exit non-zero.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ReplyLLMAPIKey:  os.Getenv("REPLY_LLM_API_KEY"),
		EmbeddingAPIKey: os.Getenv("EMBEDDING_API_KEY"),
		APIKey:          os.Getenv("API_KEY"),
		Environment:     Environment(getEnv("ENVIRONMENT", string(EnvDevelopment))),

		EmbeddingModel:   getEnv("EMBEDDING_MODEL", "simple"),
		EmbeddingBaseURL: getEnv("EMBEDDING_BASE_URL", "https://api.anthropic.com/v1"),
		DataDir:          getEnv("DATA_DIR", "./data"),

		MemoryExtractThreshold: getEnvInt("MEMORY_EXTRACT_THRESHOLD", 4),
		MaxContextMemories:     getEnvInt("MAX_CONTEXT_MEMORIES", 5),

		Host:    getEnv("HOST", "0.0.0.0"),
		Port:    getEnv("PORT", "8080"),
		Workers: getEnvInt("WORKERS", 4),

		LLMTimeout:      time.Duration(getEnvInt("LLM_TIMEOUT_SECONDS", 30)) * time.Second,
		ShutdownTimeout: time.Duration(getEnvInt("SHUTDOWN_TIMEOUT_SECONDS", 10)) * time.Second,
	}
	cfg.ExtractionWorkers = getEnvInt("EXTRACTION_WORKERS", cfg.Workers)
	cfg.ExtractionWindow = getEnvInt("EXTRACTION_WINDOW", cfg.MemoryExtractThreshold*2)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ReplyLLMAPIKey == "" {
		return fmt.Errorf("config: REPLY_LLM_API_KEY is required")
	}
	if c.Environment != EnvDevelopment && c.Environment != EnvProduction {
		return fmt.Errorf("config: ENVIRONMENT must be %q or %q, got %q", EnvDevelopment, EnvProduction, c.Environment)
	}
	switch c.EmbeddingModel {
	case "remote-llm", "local-transformer", "simple":
	default:
		return fmt.Errorf("config: EMBEDDING_MODEL must be one of remote-llm, local-transformer, simple, got %q", c.EmbeddingModel)
	}
	if c.Environment == EnvProduction {
		if c.EmbeddingModel == "simple" {
			return fmt.Errorf("config: the simple embedding variant is forbidden in production mode")
		}
		if c.APIKey == "" {
			return fmt.Errorf("config: API_KEY is required in production mode")
		}
	}
	if c.MemoryExtractThreshold < 1 {
		return fmt.Errorf("config: MEMORY_EXTRACT_THRESHOLD must be >= 1")
	}
	if c.MaxContextMemories < 1 {
		return fmt.Errorf("config: MAX_CONTEXT_MEMORIES must be >= 1")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
