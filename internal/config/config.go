package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string // PostgreSQL; when empty SQLitePath is used
	SQLitePath  string
	RedisURL    string

	// Moderation
	BannedWordsFile string
	BannedWords     []string // inline list, merged with the file

	// Message pipeline
	MessageRateLimit  int
	MessageRateWindow time.Duration
	SessionTTL        time.Duration
	FileBaseURL       string
	MentionTargets    []string

	// HTTP rate limiting
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     // Enable auto-blocking after repeated violations
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		SQLitePath:         getEnv("SQLITE_PATH", "./data/chat.db"),
		RedisURL:           os.Getenv("REDIS_URL"),
		BannedWordsFile:    getEnv("BANNED_WORDS_FILE", "configs/banned_words.txt"),
		BannedWords:        getList("BANNED_WORDS"),
		MessageRateLimit:   getInt("MESSAGE_RATE_LIMIT", 10000),
		MessageRateWindow:  getDuration("MESSAGE_RATE_WINDOW", time.Minute),
		SessionTTL:         getDuration("SESSION_TTL", 24*time.Hour),
		FileBaseURL:        os.Getenv("FILE_BASE_URL"),
		MentionTargets:     getList("MENTION_TARGETS"),
		RateLimitWhitelist: getList("RATE_LIMIT_WHITELIST"),
		AutoBlockEnabled:   getEnv("AUTO_BLOCK_ENABLED", "false") == "true",
	}

	// In production, require database and redis URLs
	if cfg.Env == "production" {
		if cfg.DatabaseURL == "" {
			panic("DATABASE_URL is required in production")
		}
		if cfg.RedisURL == "" {
			panic("REDIS_URL is required in production")
		}
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getList parses a comma-separated variable, dropping blank entries.
func getList(key string) []string {
	var out []string
	for _, entry := range strings.Split(os.Getenv(key), ",") {
		if entry = strings.TrimSpace(entry); entry != "" {
			out = append(out, entry)
		}
	}
	return out
}

func getInt(key string, defaultValue int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return defaultValue
	}
	return n
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}
