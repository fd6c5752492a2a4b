package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port         string
	ModelDir     string
	ManifestPath string
	TemplateDir  string

	// InputGuard renders missing or malformed form fields as a message on the
	// form page instead of failing the request.
	InputGuard   bool
	StrictModels bool

	LogLevel  string
	LogFormat string

	CORSOrigin   string
	APIKeyHash   string
	// APIRateLimit is "<n>/min" per client; empty or "unlimited" disables it.
	APIRateLimit string

	RedisURL      string
	RedisPassword string
	CacheTTL      time.Duration

	HistoryBackend string
	DatabaseURL    string
	MongoURI       string
	MongoDatabase  string
	Snowflake      Snowflake

	AWSRegion string
}

type Snowflake struct {
	Account   string
	User      string
	Password  string
	Database  string
	Schema    string
	Warehouse string
}

// Load reads an optional .env file and builds the configuration from the
// process environment.
func Load() Config {
	godotenv.Load()

	return Config{
		Port:         getEnv("API_PORT", "8080"),
		ModelDir:     getEnv("MODEL_DIR", "model"),
		ManifestPath: os.Getenv("MODEL_MANIFEST"),
		TemplateDir:  os.Getenv("TEMPLATE_DIR"),

		InputGuard:   getEnvBool("INPUT_GUARD", true),
		StrictModels: getEnvBool("STRICT_MODELS", false),

		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "text")),

		CORSOrigin:   getEnv("CORS_ORIGIN", "http://localhost:8080"),
		APIKeyHash:   os.Getenv("API_KEY_HASH"),
		APIRateLimit: os.Getenv("API_RATE_LIMIT"),

		RedisURL:      os.Getenv("REDIS_URL"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		CacheTTL:      getEnvDuration("CACHE_TTL", 10*time.Minute),

		HistoryBackend: strings.ToLower(getEnv("HISTORY_BACKEND", "memory")),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		MongoURI:       getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:  getEnv("MONGO_DATABASE", "formpredict"),
		Snowflake: Snowflake{
			Account:   os.Getenv("SNOWFLAKE_ACCOUNT"),
			User:      os.Getenv("SNOWFLAKE_USER"),
			Password:  os.Getenv("SNOWFLAKE_PASSWORD"),
			Database:  os.Getenv("SNOWFLAKE_DATABASE"),
			Schema:    getEnv("SNOWFLAKE_SCHEMA", "PUBLIC"),
			Warehouse: os.Getenv("SNOWFLAKE_WAREHOUSE"),
		},

		AWSRegion: getEnv("AWS_REGION", "us-east-1"),
	}
}

// IsProduction auto-detects production environment
func IsProduction() bool {
	if os.Getenv("APP_ENV") == "production" {
		return true
	}
	if db := os.Getenv("DATABASE_URL"); db != "" && !strings.Contains(db, "localhost") {
		return true
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
