package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        string
	Environment string
	CORSOrigins string
	LogDir      string
	LogMaxFiles int
	// Store Configuration
	StoreBackend       string // "chromem" or "postgres"
	DatabaseURL        string
	TablePrefix        string
	EmbeddingDims      int
	StoreMaxRetries    int
	StoreRetryDelay    time.Duration
	StoreTimeout       time.Duration
	CascadeMaxAttempts int
	// Auth Configuration
	JWKSURL         string // Empty disables JWT verification (dev only)
	JWTRequiredRole string // Empty accepts any role
	// LLM Configuration
	LLMProvider      string
	AnthropicAPIKey  string
	SummarizerModel  string
	SummarizeTimeout time.Duration
	// Chat settings (settings file, env overrides)
	SettingsFile string
	Chat         ChatSettings
}

func Load() (*Config, error) {
	env := getEnv("ENVIRONMENT", "dev")

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		Environment:        env,
		CORSOrigins:        getEnv("CORS_ORIGINS", "http://localhost:3000"),
		LogDir:             getEnv("LOG_DIR", ""),
		LogMaxFiles:        getEnvInt("LOG_MAX_FILES", DefaultLogMaxFiles),
		StoreBackend:       getEnv("STORE_BACKEND", "chromem"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		TablePrefix:        getTablePrefix(env),
		EmbeddingDims:      getEnvInt("EMBEDDING_DIMS", 384),
		StoreMaxRetries:    getEnvInt("STORE_MAX_RETRIES", 3),
		StoreRetryDelay:    getEnvDuration("STORE_RETRY_DELAY", 100*time.Millisecond),
		StoreTimeout:       getEnvDuration("STORE_TIMEOUT", 10*time.Second),
		CascadeMaxAttempts: getEnvInt("CASCADE_MAX_ATTEMPTS", 3),
		JWKSURL:            getEnv("JWKS_URL", ""),
		JWTRequiredRole:    getEnv("JWT_REQUIRED_ROLE", ""),
		LLMProvider:        getEnv("LLM_PROVIDER", ""),
		AnthropicAPIKey:    getEnv("ANTHROPIC_API_KEY", ""),
		SummarizerModel:    getEnv("SUMMARIZER_MODEL", "claude-haiku-4-5-20251001"),
		SummarizeTimeout:   getEnvDuration("SUMMARIZE_TIMEOUT", 30*time.Second),
		SettingsFile:       getEnv("SETTINGS_FILE", ""),
	}

	// Without a key the summarizer falls back to the lorem mock provider.
	// Outside dev a keyless anthropic provider is left for startup to report.
	switch {
	case cfg.LLMProvider == "" && cfg.AnthropicAPIKey != "":
		cfg.LLMProvider = "anthropic"
	case cfg.LLMProvider == "", cfg.LLMProvider == "anthropic" && cfg.AnthropicAPIKey == "" && env == "dev":
		cfg.LLMProvider = "lorem"
		cfg.SummarizerModel = "lorem-fast"
	}

	chat, err := LoadChatSettings(cfg.SettingsFile)
	if err != nil {
		return nil, err
	}
	if cfg.Chat, err = chat.withEnvOverrides(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// CORSOriginList splits CORSOrigins on commas, dropping blanks
func (c *Config) CORSOriginList() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// getTablePrefix returns the table prefix based on environment
func getTablePrefix(env string) string {
	// Allow manual override via TABLE_PREFIX env var
	if prefix := os.Getenv("TABLE_PREFIX"); prefix != "" {
		return prefix
	}

	switch env {
	case "prod":
		return "prod_"
	case "test":
		return "test_"
	default:
		return "dev_"
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
