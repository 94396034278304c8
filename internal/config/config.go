package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// PlatformCredentials holds one platform's OAuth client settings. The base URLs
// default to the real platform endpoints and are only overridden in tests.
type PlatformCredentials struct {
	ClientID          string
	ClientSecret      string
	RedirectURL       string
	AuthURL           string
	APIBaseURL        string
	RequestsPerSecond int
}

// Enabled reports whether the platform was configured.
func (p PlatformCredentials) Enabled() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

// TelegramCredentials configures the Telegram channel adapter.
type TelegramCredentials struct {
	BotToken          string
	BotUsername       string
	RequestsPerSecond int
}

// Platforms groups the credentials of every supported platform.
type Platforms struct {
	Instagram PlatformCredentials
	Facebook  PlatformCredentials
	LinkedIn  PlatformCredentials
	X         PlatformCredentials
	TikTok    PlatformCredentials
	YouTube   PlatformCredentials
	Telegram  TelegramCredentials
}

// Delivery holds retry and concurrency policy for the orchestrator.
type Delivery struct {
	LeaseDuration       time.Duration
	MaxAttempts         int
	MaxRateLimitRetries int
	RetryBaseDelay      time.Duration
	RetryMaxDelay       time.Duration
	Workers             int
}

// Recurrence bounds how far ahead recurring schedules are materialized.
type Recurrence struct {
	Horizon  time.Duration
	MaxAhead int
}

// Config holds the application configuration.
type Config struct {
	AppEnv          string
	Port            string
	LogLevel        string
	Version         string
	DatabaseDSN     string
	MongoURI        string
	MongoDatabase   string
	RedisURL        string
	SentryDSN       string
	JWTSecret       string
	DefaultLanguage string
	AutoMigrate     bool

	SweepSpec       string
	SweepTimezone   string
	ProfileSyncSpec string

	Delivery   Delivery
	Recurrence Recurrence
	Platforms  Platforms
}

// LoadConfig loads configuration from environment variables.
// A .env file is loaded when present; variables already set in the
// environment take precedence.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		AppEnv:          getEnv("APP_ENV", "development"),
		Port:            getEnv("PORT", "8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		Version:         getEnv("VERSION", "dev"),
		DatabaseDSN:     getEnv("DATABASE_DSN", ""),
		MongoURI:        getEnv("MONGO_URI", ""),
		MongoDatabase:   getEnv("MONGO_DATABASE", "publisher"),
		RedisURL:        getEnv("REDIS_URL", ""),
		SentryDSN:       getEnv("SENTRY_DSN", ""),
		JWTSecret:       getEnv("JWT_SECRET", ""),
		DefaultLanguage: getEnv("DEFAULT_LANGUAGE", "en"),
		AutoMigrate:     getEnvBool("AUTO_MIGRATE", true),
		SweepSpec:       getEnv("SWEEP_SPEC", "@every 30s"),
		SweepTimezone:   getEnv("SWEEP_TIMEZONE", "UTC"),
		ProfileSyncSpec: getEnv("PROFILE_SYNC_SPEC", "0 */6 * * *"),
		Delivery: Delivery{
			LeaseDuration:       getEnvDuration("LEASE_DURATION", 5*time.Minute),
			MaxAttempts:         getEnvInt("MAX_DELIVERY_ATTEMPTS", 3),
			MaxRateLimitRetries: getEnvInt("MAX_RATE_LIMIT_RETRIES", 5),
			RetryBaseDelay:      getEnvDuration("RETRY_BASE_DELAY", time.Minute),
			RetryMaxDelay:       getEnvDuration("RETRY_MAX_DELAY", 30*time.Minute),
			Workers:             getEnvInt("DELIVERY_WORKERS", 4),
		},
		Recurrence: Recurrence{
			Horizon:  getEnvDuration("RECURRENCE_HORIZON", 14*24*time.Hour),
			MaxAhead: getEnvInt("RECURRENCE_MAX_AHEAD", 10),
		},
		Platforms: Platforms{
			Instagram: platformFromEnv("INSTAGRAM", 5),
			Facebook:  platformFromEnv("FACEBOOK", 5),
			LinkedIn:  platformFromEnv("LINKEDIN", 2),
			X:         platformFromEnv("X", 1),
			TikTok:    platformFromEnv("TIKTOK", 2),
			YouTube:   platformFromEnv("YOUTUBE", 2),
			Telegram: TelegramCredentials{
				BotToken:          getEnv("TELEGRAM_BOT_TOKEN", ""),
				BotUsername:       getEnv("TELEGRAM_BOT_USERNAME", ""),
				RequestsPerSecond: getEnvInt("TELEGRAM_REQUESTS_PER_SECOND", 20),
			},
		},
	}

	if cfg.DatabaseDSN == "" {
		return nil, fmt.Errorf("DATABASE_DSN is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.Delivery.MaxAttempts < 1 {
		return nil, fmt.Errorf("MAX_DELIVERY_ATTEMPTS must be at least 1")
	}
	if cfg.Delivery.Workers < 1 {
		return nil, fmt.Errorf("DELIVERY_WORKERS must be at least 1")
	}
	if cfg.MongoURI == "" {
		log.Println("Warning: MONGO_URI is not set. Events are logged only and time suggestions use platform defaults.")
	}
	if cfg.RedisURL == "" {
		log.Println("Warning: REDIS_URL is not set. Idempotency falls back to the database only.")
	}
	if cfg.SentryDSN == "" {
		log.Println("Warning: SENTRY_DSN is not set. Error tracking disabled.")
	}

	return cfg, nil
}

func platformFromEnv(prefix string, defaultRPS int) PlatformCredentials {
	return PlatformCredentials{
		ClientID:          getEnv(prefix+"_CLIENT_ID", ""),
		ClientSecret:      getEnv(prefix+"_CLIENT_SECRET", ""),
		RedirectURL:       getEnv(prefix+"_REDIRECT_URL", ""),
		AuthURL:           getEnv(prefix+"_AUTH_URL", ""),
		APIBaseURL:        getEnv(prefix+"_API_BASE_URL", ""),
		RequestsPerSecond: getEnvInt(prefix+"_REQUESTS_PER_SECOND", defaultRPS),
	}
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
		log.Printf("Warning: invalid integer for %s, using %d", key, defaultValue)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
		log.Printf("Warning: invalid boolean for %s, using %t", key, defaultValue)
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
		log.Printf("Warning: invalid duration for %s, using %s", key, defaultValue)
	}
	return defaultValue
}
