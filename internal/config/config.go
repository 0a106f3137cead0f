package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // CAMPUS_TIMEZONE on hosts without zoneinfo

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Config holds all configuration for the portal processes
type Config struct {
	// HTTP Configuration
	HTTP HTTPConfig

	// Database Configuration
	Database DatabaseConfig

	// Redis Configuration (asynq queue and optional realtime fan-out)
	Redis RedisConfig

	// Auth Configuration
	Auth AuthConfig

	// Realtime Configuration
	Realtime RealtimeConfig

	// Storage Configuration
	Storage StorageConfig

	// Reminder Configuration
	Reminders RemindersConfig

	// Logging Configuration
	Logging LoggingConfig
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Addr          string
	PublicBaseURL string
	CORSOrigins   []string
	// TimeZone reads form date-times that carry no offset
	TimeZone *time.Location
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Address string // Redis address (host:port)
}

// AuthConfig holds session token configuration
type AuthConfig struct {
	JWTSecret  string
	SessionTTL time.Duration
	// GeneratedSecret is true when no JWT_SECRET was provided and a random one was made up
	GeneratedSecret bool
}

// RealtimeConfig selects how insert notifications are fanned out
type RealtimeConfig struct {
	Backend     string // memory, redis
	PostgresURL string // optional LISTEN/NOTIFY source
	PGChannel   string
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	Dir string
}

// RemindersConfig holds the calendar reminder schedule
type RemindersConfig struct {
	Schedule string // standard 5-field cron expression
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level  string
	Format string // json, console
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env files (fails silently if files don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	sessionTTL, err := time.ParseDuration(getenv("SESSION_TTL", "24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid SESSION_TTL: %w", err)
	}
	if sessionTTL <= 0 {
		return nil, fmt.Errorf("SESSION_TTL must be positive")
	}

	realtimeBackend := strings.ToLower(getenv("REALTIME_BACKEND", "redis"))
	if realtimeBackend != "memory" && realtimeBackend != "redis" {
		return nil, fmt.Errorf("invalid REALTIME_BACKEND %q (want memory or redis)", realtimeBackend)
	}

	schedule := getenv("REMINDER_SCHEDULE", "0 7 * * *")
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid REMINDER_SCHEDULE: %w", err)
	}

	timeZone, err := time.LoadLocation(getenv("CAMPUS_TIMEZONE", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("invalid CAMPUS_TIMEZONE: %w", err)
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	generated := false
	if jwtSecret == "" {
		jwtSecret, err = randomSecret()
		if err != nil {
			return nil, err
		}
		generated = true
	}

	return &Config{
		HTTP: HTTPConfig{
			Addr:          getenv("HTTP_ADDR", ":8080"),
			PublicBaseURL: strings.TrimRight(getenv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
			CORSOrigins:   splitList(getenv("CORS_ORIGINS", "http://localhost:5173")),
			TimeZone:      timeZone,
		},
		Database: DatabaseConfig{
			URL: getenv("DATABASE_URL", "portal.sqlite"),
		},
		Redis: RedisConfig{
			Address: getenv("REDIS_ADDRESS", "localhost:6379"),
		},
		Auth: AuthConfig{
			JWTSecret:       jwtSecret,
			SessionTTL:      sessionTTL,
			GeneratedSecret: generated,
		},
		Realtime: RealtimeConfig{
			Backend:     realtimeBackend,
			PostgresURL: os.Getenv("REALTIME_PG_URL"),
			PGChannel:   getenv("REALTIME_PG_CHANNEL", "portal_changes"),
		},
		Storage: StorageConfig{
			Dir: getenv("STORAGE_DIR", "./uploads"),
		},
		Reminders: RemindersConfig{
			Schedule: schedule,
		},
		Logging: LoggingConfig{
			Level:  getenv("LOG_LEVEL", "info"),
			Format: getenv("LOG_FORMAT", "json"),
		},
	}, nil
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
