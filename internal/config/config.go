package config

import (
	"fmt"
	"os"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	DatabaseURL string
	Port        string
	LogLevel    string

	// BotSecret is the value the webhook's "bot" header must carry.
	BotSecret string
	// RESTAPIKey authenticates calls to the chat platform's REST API.
	RESTAPIKey string
	// GeminiAPIKey authenticates calls to the LLM.
	GeminiAPIKey string
	GeminiModel  string

	// JWTSecret signs magic tokens; MagicTokenTTL bounds their lifetime.
	JWTSecret     string
	MagicTokenTTL time.Duration

	// FrontendURL is the base of the web UI linked from chat buttons.
	FrontendURL string

	// Block id overrides for non-production bot configurations.
	SelectChildrenBlockID string
	ProposeBlockID        string
	ConfirmBlockID        string
	MonthEndBlockID       string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnvOrDefault("PORT", "8080"),
		LogLevel:    getEnvOrDefault("LOG_LEVEL", "info"),
		BotSecret:   getEnvOrDefault("BOT_SECRET", "moamoa"),
		GeminiModel: getEnvOrDefault("GEMINI_MODEL", ""),
		FrontendURL: getEnvOrDefault("FRONTEND_URL", "https://moamoa.kids"),

		SelectChildrenBlockID: os.Getenv("SELECT_CHILDREN_BLOCK_ID"),
		ProposeBlockID:        os.Getenv("PROPOSE_BLOCK_ID"),
		ConfirmBlockID:        os.Getenv("CONFIRM_BLOCK_ID"),
		MonthEndBlockID:       os.Getenv("MONTH_END_BLOCK_ID"),
	}

	// Required environment variables
	if cfg.DatabaseURL = os.Getenv("DATABASE_URL"); cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	if cfg.RESTAPIKey = os.Getenv("REST_API_KEY"); cfg.RESTAPIKey == "" {
		return nil, fmt.Errorf("REST_API_KEY environment variable is required")
	}
	if cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY"); cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}
	if cfg.JWTSecret = os.Getenv("JWT_SECRET"); cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	ttl, err := time.ParseDuration(getEnvOrDefault("MAGIC_TOKEN_TTL", "24h"))
	if err != nil {
		return nil, fmt.Errorf("MAGIC_TOKEN_TTL must be a duration: %w", err)
	}
	cfg.MagicTokenTTL = ttl

	return cfg, nil
}

// getEnvOrDefault returns environment variable value or default if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
