package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	apperrors "caregraph/backend/pkg/errors"
)

// ReferenceDateToday makes age derivation use the wall clock instead of a fixed date.
const ReferenceDateToday = "today"

// Config holds all application configuration
type Config struct {
	// App
	Port     string
	Env      string
	LogLevel string

	// Neo4j
	Neo4jURI            string
	Neo4jUser           string
	Neo4jPassword       string
	Neo4jDatabase       string
	Neo4jMaxPoolSize    int
	Neo4jTimeoutSeconds int

	// Embeddings
	EmbeddingProvider       string // ollama or openai
	EmbeddingBaseURL        string
	EmbeddingAPIKey         string
	EmbeddingModel          string
	EmbeddingDimension      int
	EmbeddingBatchSize      int
	EmbeddingMaxConcurrency int

	// Pipeline
	BatchSize     int
	Workers       int
	ReferenceDate string
	DataDir       string
	DataFormat    string // csv or xlsx

	// Scoring
	TopK           int
	EligiblePayers []string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Port:                    getEnv("PORT", "8080"),
		Env:                     getEnv("ENV", "development"),
		LogLevel:                getEnv("LOG_LEVEL", ""),
		Neo4jURI:                getEnv("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:               getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword:           getEnv("NEO4J_PASSWORD", "password"),
		Neo4jDatabase:           getEnv("NEO4J_DATABASE", ""),
		Neo4jMaxPoolSize:        getEnvInt("NEO4J_MAX_POOL_SIZE", 50),
		Neo4jTimeoutSeconds:     getEnvInt("NEO4J_TIMEOUT_SECONDS", 10),
		EmbeddingProvider:       strings.ToLower(getEnv("EMBEDDING_PROVIDER", "ollama")),
		EmbeddingBaseURL:        getEnv("EMBEDDING_BASE_URL", "http://localhost:11434"),
		EmbeddingAPIKey:         getEnv("EMBEDDING_API_KEY", ""),
		EmbeddingModel:          getEnv("EMBEDDING_MODEL", "all-minilm"),
		EmbeddingDimension:      getEnvInt("EMBEDDING_DIM", 384),
		EmbeddingBatchSize:      getEnvInt("EMBEDDING_BATCH_SIZE", 128),
		EmbeddingMaxConcurrency: getEnvInt("EMBEDDING_MAX_CONCURRENCY", 2),
		BatchSize:               getEnvInt("BATCH_SIZE", 1000),
		Workers:                 getEnvInt("WORKERS", 4),
		ReferenceDate:           getEnv("REFERENCE_DATE", "2025-05-16"),
		DataDir:                 getEnv("DATA_DIR", "./data"),
		DataFormat:              strings.ToLower(getEnv("DATA_FORMAT", "csv")),
		TopK:                    getEnvInt("TOP_K", 5),
		EligiblePayers:          getEnvList("ELIGIBLE_PAYERS", []string{"Medicare", "Medicaid"}),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	if c.Neo4jURI == "" {
		return apperrors.NewConfigMissingRequired("NEO4J_URI")
	}
	if c.Neo4jUser == "" {
		return apperrors.NewConfigMissingRequired("NEO4J_USER")
	}
	switch c.EmbeddingProvider {
	case "ollama", "openai":
	default:
		return apperrors.NewConfigValidationFailed("EMBEDDING_PROVIDER", "must be ollama or openai")
	}
	switch c.DataFormat {
	case "csv", "xlsx":
	default:
		return apperrors.NewConfigValidationFailed("DATA_FORMAT", "must be csv or xlsx")
	}
	positive := map[string]int{
		"EMBEDDING_DIM":             c.EmbeddingDimension,
		"EMBEDDING_BATCH_SIZE":      c.EmbeddingBatchSize,
		"EMBEDDING_MAX_CONCURRENCY": c.EmbeddingMaxConcurrency,
		"BATCH_SIZE":                c.BatchSize,
		"WORKERS":                   c.Workers,
		"TOP_K":                     c.TopK,
	}
	for field, v := range positive {
		if v <= 0 {
			return apperrors.NewConfigValidationFailed(field, "must be positive")
		}
	}
	if _, err := c.Reference(); err != nil {
		return apperrors.NewConfigValidationFailed("REFERENCE_DATE", err.Error())
	}
	if len(c.EligiblePayers) == 0 {
		return apperrors.NewConfigMissingRequired("ELIGIBLE_PAYERS")
	}
	return nil
}

// Reference resolves the configured reference date used for age derivation.
func (c *Config) Reference() (time.Time, error) {
	if strings.EqualFold(c.ReferenceDate, ReferenceDateToday) {
		now := time.Now().UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	return time.Parse("2006-01-02", c.ReferenceDate)
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
