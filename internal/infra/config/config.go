package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Env        string
	Port       string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBMaxConns int
	DBMinConns int

	DiversityEnabled       bool
	DiversityLambda        float64
	DiversityMinCandidates int
	DiversityTopK          int

	ModelMode                string
	ModelPath                string
	ModelConfidenceThreshold float64

	AnalyticsBufferSize int
	AnalyticsMaxRetries int

	ResultsCacheURL        string
	ResultsCacheTTLSeconds int

	OTelLogsEnabled bool
}

func Load() *Config {
	return &Config{
		Env:        getEnv("ENV", "development"),
		Port:       getEnv("PORT", "9020"),
		DBHost:     getEnv("DB_HOST", "rank-db"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "rank_user"),
		DBPassword: getSecret("DB_PASSWORD", "DB_PASSWORD_FILE", "rank_password"),
		DBName:     getEnv("DB_NAME", "rank_db"),
		DBMaxConns: getEnvInt("DB_MAX_CONNS", 10),
		DBMinConns: getEnvInt("DB_MIN_CONNS", 2),

		DiversityEnabled:       getEnvBool("DIVERSITY_ENABLED", true),
		DiversityLambda:        getEnvFloat("DIVERSITY_LAMBDA", 0.7),
		DiversityMinCandidates: getEnvInt("DIVERSITY_MIN_CANDIDATES", 4),
		DiversityTopK:          getEnvInt("DIVERSITY_TOP_K", 0),

		ModelMode:                getEnv("MODEL_MODE", "shadow"),
		ModelPath:                getEnv("MODEL_PATH", "models/ranker_v1.json"),
		ModelConfidenceThreshold: getEnvFloat("MODEL_CONFIDENCE_THRESHOLD", 0.8),

		AnalyticsBufferSize: getEnvInt("ANALYTICS_BUFFER", 1024),
		AnalyticsMaxRetries: getEnvInt("ANALYTICS_RETRIES", 3),

		ResultsCacheURL:        getEnv("RESULTS_CACHE_URL", ""),
		ResultsCacheTTLSeconds: getEnvInt("RESULTS_CACHE_TTL_SECONDS", 300),

		OTelLogsEnabled: getEnvBool("OTEL_LOGS_ENABLED", false),
	}
}

// DSN builds the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "postgres://" + c.DBUser + ":" + c.DBPassword + "@" + c.DBHost + ":" + c.DBPort + "/" + c.DBName + "?sslmode=disable"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getSecret(envKey, fileEnvKey, fallback string) string {
	if value, ok := os.LookupEnv(envKey); ok {
		return value
	}

	if filePath, ok := os.LookupEnv(fileEnvKey); ok {
		content, err := os.ReadFile(filePath)
		if err == nil {
			return strings.TrimSpace(string(content))
		}
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}
