// Package config loads Core configuration from the environment,
// falling back to a ./.env file in development (joho/godotenv).
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Lock     LockConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port        string
	Host        string
	Environment string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
	URL      string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	Database int
}

type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
	Topics        KafkaTopics
}

// KafkaTopics maps one topic per inbound event type (§6.1), plus the
// dead-letter topic the DLQ replay worker publishes to.
type KafkaTopics struct {
	PricingUpdated    string
	PaymentLifecycle  string
	SupplierLifecycle string
	RefundIssued      string
	RefundLifecycle   string
	PartnerAdjustment string
	DeadLetter        string
}

// LockConfig selects the ScopeLocker implementation: in-process
// sharded mutex by default, or a Redis-backed distributed lock when
// Distributed is true (horizontal scale-out across Core instances).
type LockConfig struct {
	Distributed bool
	Shards      int
	TTL         time.Duration
	RetryDelay  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads configuration from the environment, first loading a
// .env file if present (missing .env is not an error).
func Load() *Config {
	_ = godotenv.Load()

	lockTTL, _ := time.ParseDuration(getEnv("SCOPE_LOCK_TTL", "5s"))
	retryDelay, _ := time.ParseDuration(getEnv("SCOPE_LOCK_RETRY_DELAY", "20ms"))
	shards, _ := strconv.Atoi(getEnv("SCOPE_LOCK_SHARDS", "256"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	return &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8090"),
			Host:        getEnv("SERVER_HOST", "0.0.0.0"),
			Environment: getEnv("GO_ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "uprl"),
			Password: getEnv("DB_PASSWORD", "uprl_password"),
			Name:     getEnv("DB_NAME", "uprl_core"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			URL:      getEnv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			Database: redisDB,
		},
		Kafka: KafkaConfig{
			Brokers:       strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "uprl-core"),
			Topics: KafkaTopics{
				PricingUpdated:    getEnv("TOPIC_PRICING_UPDATED", "pricing.updated"),
				PaymentLifecycle:  getEnv("TOPIC_PAYMENT_LIFECYCLE", "payment.lifecycle"),
				SupplierLifecycle: getEnv("TOPIC_SUPPLIER_LIFECYCLE", "supplier.lifecycle"),
				RefundIssued:      getEnv("TOPIC_REFUND_ISSUED", "refund.issued"),
				RefundLifecycle:   getEnv("TOPIC_REFUND_LIFECYCLE", "refund.lifecycle"),
				PartnerAdjustment: getEnv("TOPIC_PARTNER_ADJUSTMENT", "partner.adjustment"),
				DeadLetter:        getEnv("TOPIC_DEAD_LETTER", "uprl.dlq"),
			},
		},
		Lock: LockConfig{
			Distributed: getEnv("SCOPE_LOCK_DISTRIBUTED", "false") == "true",
			Shards:      shards,
			TTL:         lockTTL,
			RetryDelay:  retryDelay,
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
