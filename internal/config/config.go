// Package config loads service configuration from the environment once at
// startup; the resulting struct is treated as immutable.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server
	Port     string
	BaseURL  string
	DBPath   string
	LogLevel string

	// Stripe
	StripeSecretKey     string
	StripeWebhookSecret string
	RegionPriceCents    int64
	Currency            string

	// Email (Postmark)
	PostmarkToken string
	FromEmail     string

	// Access grants
	GrantSigningSecret string
	ValidityWindow     time.Duration
	LinkTTL            time.Duration
	// RegionFallback, when set to a canonical region id, is attributed to
	// purchase events whose region cannot be resolved. Left empty, such
	// events are rejected and logged. Empty is the default on purpose.
	RegionFallback string

	// Rate limiting
	RateLimitPerMinute int

	// Backups (optional; disabled unless bucket+credentials are set)
	S3Endpoint       string
	S3Bucket         string
	S3Region         string
	S3AccessKey      string
	S3SecretKey      string
	BackupPassphrase string
	BackupHourUTC    int
	RetentionDays    int
}

// Load reads configuration from the environment. ACCESS_SIGNING_SECRET is
// required; everything else has a development-friendly default.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.GrantSigningSecret = os.Getenv("ACCESS_SIGNING_SECRET")
	if cfg.GrantSigningSecret == "" {
		return nil, fmt.Errorf("required environment variable ACCESS_SIGNING_SECRET is not set")
	}

	cfg.Port = getEnvString("PORT", "8080")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:"+cfg.Port)
	cfg.DBPath = getEnvString("DB_PATH", "access.db")
	cfg.LogLevel = os.Getenv("LOG_LEVEL")

	cfg.StripeSecretKey = os.Getenv("STRIPE_SECRET_KEY")
	cfg.StripeWebhookSecret = os.Getenv("STRIPE_WEBHOOK_SECRET")
	cfg.RegionPriceCents = getEnvInt64("REGION_PRICE_CENTS", 495)
	cfg.Currency = getEnvString("CURRENCY", "eur")

	cfg.PostmarkToken = os.Getenv("POSTMARK_TOKEN")
	cfg.FromEmail = getEnvString("FROM_EMAIL", "map@streetartmap.amsterdam")

	cfg.ValidityWindow = getEnvDuration("VALIDITY_WINDOW", 30*24*time.Hour)
	cfg.LinkTTL = getEnvDuration("LINK_TTL", 30*time.Minute)
	cfg.RegionFallback = os.Getenv("REGION_FALLBACK")

	cfg.RateLimitPerMinute = getEnvInt("RATE_LIMIT_PER_MINUTE", 10)

	cfg.S3Endpoint = os.Getenv("S3_ENDPOINT")
	cfg.S3Bucket = os.Getenv("S3_BUCKET")
	cfg.S3Region = getEnvString("S3_REGION", "auto")
	cfg.S3AccessKey = os.Getenv("S3_ACCESS_KEY")
	cfg.S3SecretKey = os.Getenv("S3_SECRET_KEY")
	cfg.BackupPassphrase = os.Getenv("BACKUP_PASSPHRASE")
	cfg.BackupHourUTC = getEnvInt("BACKUP_HOUR_UTC", 3)
	cfg.RetentionDays = getEnvInt("BACKUP_RETENTION_DAYS", 30)

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
