package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default; only DATABASE_URL is required.
type Config struct {
	// Server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Database
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// Redis backs the idempotency cache. An empty address keeps the cache
	// in process memory, which is fine for a single instance.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// How long resolved idempotency keys stay cached.
	IdempotencyTTL time.Duration

	// Delivery workers (one pool shared across all channel types)
	WorkerCount int
	SendTimeout time.Duration
	PollTimeout time.Duration

	// Rate limiting: maximum sends per second per channel
	RateLimit int

	// Queue capacities (standard band; the express band is sized off these)
	MainQueueSize       int
	RetryQueueSize      int
	DeadLetterQueueSize int
	PoisonQueueSize     int

	// Janitor cron schedules
	PromoteSchedule string
	PurgeSchedule   string

	// Bulk sends
	BulkMaxRecipients int
	BulkConcurrency   int

	// SMTP provider
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	// Telegram provider
	TelegramToken   string
	TelegramBaseURL string

	// Webhook gateways for sms and push
	SMSGatewayURL  string
	PushGatewayURL string

	ProviderTimeout time.Duration
}

func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		ReadTimeout:     getDuration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getDuration("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		DatabaseURL: dbURL,
		DBMaxConns:  int32(getInt("DB_MAX_CONNS", 25)),
		DBMinConns:  int32(getInt("DB_MIN_CONNS", 5)),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),

		IdempotencyTTL: getDuration("IDEMPOTENCY_TTL", 24*time.Hour),

		WorkerCount: getInt("WORKER_COUNT", 10),
		SendTimeout: getDuration("SEND_TIMEOUT", 30*time.Second),
		PollTimeout: getDuration("POLL_TIMEOUT", 5*time.Second),

		RateLimit: getInt("RATE_LIMIT_PER_CHANNEL", 100),

		MainQueueSize:       getInt("MAIN_QUEUE_SIZE", 5000),
		RetryQueueSize:      getInt("RETRY_QUEUE_SIZE", 2000),
		DeadLetterQueueSize: getInt("DEAD_LETTER_QUEUE_SIZE", 2000),
		PoisonQueueSize:     getInt("POISON_QUEUE_SIZE", 500),

		PromoteSchedule: getEnv("PROMOTE_SCHEDULE", "@every 30s"),
		PurgeSchedule:   getEnv("PURGE_SCHEDULE", "@every 1h"),

		BulkMaxRecipients: getInt("BULK_MAX_RECIPIENTS", 1000),
		BulkConcurrency:   getInt("BULK_CONCURRENCY", 16),

		SMTPHost:     getEnv("SMTP_HOST", "localhost"),
		SMTPPort:     getInt("SMTP_PORT", 587),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", "no-reply@notify-relay.local"),

		TelegramToken:   getEnv("TELEGRAM_TOKEN", ""),
		TelegramBaseURL: getEnv("TELEGRAM_BASE_URL", "https://api.telegram.org"),

		SMSGatewayURL:  getEnv("SMS_GATEWAY_URL", "http://localhost:9091/sms"),
		PushGatewayURL: getEnv("PUSH_GATEWAY_URL", "http://localhost:9091/push"),

		ProviderTimeout: getDuration("PROVIDER_TIMEOUT", 10*time.Second),
	}, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
