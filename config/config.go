package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string

	// Logging
	LogLevel  string
	LogFormat string

	// Redis configuration
	RedisURL string

	// Platform REST API
	PlatformBaseURL string
	PlatformTimeout time.Duration

	// Locale negotiation
	DefaultLocale    string
	SupportedLocales []string

	// Session configuration
	SessionTTL time.Duration

	// QR configuration
	QRMaxAmount        decimal.Decimal
	QRStatusRetention  time.Duration
	QRDialogErrorCodes []string

	// Listing configuration
	ReportMaxRangeDays int

	// PubNub configuration
	PubNubPublishKey    string
	PubNubSubscribeKey  string
	PubNubSecretKey     string
	PubNubUserID        string
	PubNubNotifyChannel string

	// Kafka audit stream
	KafkaBrokers    []string
	KafkaAuditTopic string

	// Monitoring
	EnableMetrics    bool
	MetricsPort      string
	MetricsRateLimit int
}

func LoadConfig() *Config {
	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		// Redis
		RedisURL: getEnv("REDIS_URL", "localhost:6379"),

		// Platform
		PlatformBaseURL: getEnv("PLATFORM_BASE_URL", "http://localhost:8080"),
		PlatformTimeout: getEnvAsDuration("PLATFORM_TIMEOUT", "10s"),

		// Locale
		DefaultLocale:    getEnv("DEFAULT_LOCALE", "en"),
		SupportedLocales: getEnvAsSlice("SUPPORTED_LOCALES", "en,lo,th"),

		// Session
		SessionTTL: getEnvAsDuration("SESSION_TTL", "8h"),

		// QR
		QRMaxAmount:        getEnvAsDecimal("QR_MAX_AMOUNT", "10000000"),
		QRStatusRetention:  getEnvAsDuration("QR_STATUS_RETENTION", "10m"),
		QRDialogErrorCodes: getEnvAsSlice("QR_DIALOG_ERROR_CODES", "QR_AMOUNT_LIMIT_EXCEEDED,MERCHANT_INACTIVE"),

		// Listing
		ReportMaxRangeDays: getEnvAsInt("REPORT_MAX_RANGE_DAYS", 730),

		// PubNub
		PubNubPublishKey:    getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey:  getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:     getEnv("PUBNUB_SECRET_KEY", ""),
		PubNubUserID:        getEnv("PUBNUB_USER_ID", "emoney-portal"),
		PubNubNotifyChannel: getEnv("PUBNUB_NOTIFY_CHANNEL", "qr-payment-notifications"),

		// Kafka
		KafkaBrokers:    getEnvAsSlice("KAFKA_BROKERS", ""),
		KafkaAuditTopic: getEnv("KAFKA_AUDIT_TOPIC", "portal.audit"),

		// Monitoring
		EnableMetrics:    getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:      getEnv("METRICS_PORT", "9090"),
		MetricsRateLimit: getEnvAsInt("METRICS_RATE_LIMIT", 30),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}

// getEnvAsSlice splits a comma separated value, dropping blanks.
func getEnvAsSlice(key string, defaultValue string) []string {
	valueStr := getEnv(key, defaultValue)
	parts := strings.Split(valueStr, ",")
	values := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			values = append(values, p)
		}
	}
	return values
}

func getEnvAsDecimal(key string, defaultValue string) decimal.Decimal {
	valueStr := getEnv(key, defaultValue)
	if value, err := decimal.NewFromString(valueStr); err == nil {
		return value
	}
	return decimal.RequireFromString(defaultValue)
}
