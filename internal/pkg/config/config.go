package config

import (
	"time"

	"github.com/ManuelReschke/ExpandFox/internal/pkg/env"
)

type Config struct {
	Server   Server
	Database Database
	Cache    Cache
	Billing  Billing
	Quota    Quota
	Jobs     Jobs
}

type Server struct {
	Host            string
	Port            string
	InternalToken   string
	RateLimitMax    int
	RateLimitWindow time.Duration
}

type Database struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string
}

type Cache struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Billing configures webhook verification and the payment provider client.
type Billing struct {
	Provider           string
	WebhookSecret      string
	SignatureTolerance time.Duration
	ProviderBaseURL    string
	ProviderAPIKey     string
	ProviderTimeout    time.Duration
}

type Quota struct {
	SnapshotTTL time.Duration
}

type Jobs struct {
	Enabled             bool
	Workers             int
	PeriodResetSchedule string
	ReplaySchedule      string
	ReplayOlderThan     time.Duration
	BatchSize           int
}

// Load builds the configuration from the environment. env.SetupEnvFile should run first.
func Load() Config {
	return Config{
		Server: Server{
			Host:            env.GetEnv("APP_HOST", "0.0.0.0"),
			Port:            env.GetEnv("APP_PORT", "4000"),
			InternalToken:   env.GetEnv("INTERNAL_API_TOKEN", ""),
			RateLimitMax:    env.GetEnvInt("API_RATE_LIMIT_MAX", 300),
			RateLimitWindow: env.GetEnvDuration("API_RATE_LIMIT_WINDOW", time.Minute),
		},
		Database: Database{
			User:     env.GetEnv("DB_USER", ""),
			Password: env.GetEnv("DB_PASSWORD", ""),
			Host:     env.GetEnv("DB_HOST", "127.0.0.1"),
			Port:     env.GetEnv("DB_PORT", "3306"),
			Name:     env.GetEnv("DB_NAME", ""),
		},
		Cache: Cache{
			Host:     env.GetEnv("CACHE_HOST", "localhost"),
			Port:     env.GetEnv("CACHE_PORT", "6379"),
			Password: env.GetEnv("CACHE_PASSWORD", ""),
			DB:       env.GetEnvInt("CACHE_DB", 0),
		},
		Billing: Billing{
			Provider:           env.GetEnv("BILLING_PROVIDER", "stripe"),
			WebhookSecret:      env.GetEnv("BILLING_WEBHOOK_SECRET", ""),
			SignatureTolerance: env.GetEnvDuration("BILLING_SIGNATURE_TOLERANCE", 5*time.Minute),
			ProviderBaseURL:    env.GetEnv("BILLING_PROVIDER_BASE_URL", "https://api.stripe.com"),
			ProviderAPIKey:     env.GetEnv("BILLING_PROVIDER_API_KEY", ""),
			ProviderTimeout:    env.GetEnvDuration("BILLING_PROVIDER_TIMEOUT", 10*time.Second),
		},
		Quota: Quota{
			SnapshotTTL: env.GetEnvDuration("QUOTA_SNAPSHOT_TTL", 30*time.Second),
		},
		Jobs: Jobs{
			Enabled:             env.GetEnvBool("JOBS_ENABLED", true),
			Workers:             env.GetEnvInt("JOB_WORKERS", 2),
			PeriodResetSchedule: env.GetEnv("JOB_PERIOD_RESET_SCHEDULE", "0 */15 * * * *"),
			ReplaySchedule:      env.GetEnv("JOB_WEBHOOK_REPLAY_SCHEDULE", "30 */5 * * * *"),
			ReplayOlderThan:     env.GetEnvDuration("JOB_WEBHOOK_REPLAY_OLDER_THAN", 10*time.Minute),
			BatchSize:           env.GetEnvInt("JOB_BATCH_SIZE", 200),
		},
	}
}
