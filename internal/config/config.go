// Package config centralises configuration parsing for the collector binaries.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures runtime configuration values. Precedence: environment, then the YAML
// file named by CONFIG_FILE, then defaults.
type Config struct {
	HTTPAddress       string        `yaml:"http_address"`
	DatabaseURL       string        `yaml:"database_url"`
	APIKey            string        `yaml:"api_key"`
	JWTSecret         string        `yaml:"jwt_secret"`
	JWTIssuer         string        `yaml:"jwt_issuer"`
	KafkaBrokers      []string      `yaml:"kafka_brokers"`
	UploadTopic       string        `yaml:"upload_topic"`
	BatchTopic        string        `yaml:"batch_topic"`
	ConsumerGroupID   string        `yaml:"consumer_group_id"`
	MetricsAddress    string        `yaml:"metrics_address"`
	NotifyEnabled     bool          `yaml:"notify_enabled"`
	RedisAddr         string        `yaml:"redis_addr"` // empty disables the batch cache
	RedisPassword     string        `yaml:"redis_password"`
	RedisDB           int           `yaml:"redis_db"`
	BatchCacheTTL     time.Duration `yaml:"batch_cache_ttl"`
	InfluxURL         string        `yaml:"influx_url"`
	InfluxDB          string        `yaml:"influx_db"`
	InfluxMeasurement string        `yaml:"influx_measurement"`
	ExportBatchSize   int           `yaml:"export_batch_size"`
	LogLevel          string        `yaml:"log_level"`
	LogFormat         string        `yaml:"log_format"`
}

// Defaults returns the local development configuration.
func Defaults() Config {
	return Config{
		HTTPAddress:       ":8000",
		APIKey:            "dev-secret",
		KafkaBrokers:      []string{"localhost:9092"},
		UploadTopic:       "sensor_uploads",
		BatchTopic:        "sensor_batches",
		ConsumerGroupID:   "magcollector-uploads",
		MetricsAddress:    ":9195",
		BatchCacheTTL:     5 * time.Minute,
		InfluxURL:         "http://localhost:8086",
		InfluxDB:          "magdata",
		InfluxMeasurement: "magnetic",
		ExportBatchSize:   5000,
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

// Load reads CONFIG_FILE (if set) and the environment.
func Load() (Config, error) {
	return LoadFile(os.Getenv("CONFIG_FILE"))
}

// LoadFile layers the YAML file at path (skipped when empty) and the environment over Defaults.
func LoadFile(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.HTTPAddress = getEnv("HTTP_ADDRESS", cfg.HTTPAddress)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = postgresURLFromEnv()
	}
	cfg.APIKey = getEnv("API_KEY", cfg.APIKey)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.JWTIssuer = getEnv("JWT_ISSUER", cfg.JWTIssuer)
	if brokers, ok := os.LookupEnv("KAFKA_BROKERS"); ok && brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	cfg.UploadTopic = getEnv("UPLOAD_TOPIC", cfg.UploadTopic)
	cfg.BatchTopic = getEnv("BATCH_TOPIC", cfg.BatchTopic)
	cfg.ConsumerGroupID = getEnv("CONSUMER_GROUP_ID", cfg.ConsumerGroupID)
	cfg.MetricsAddress = getEnv("METRICS_ADDRESS", cfg.MetricsAddress)
	cfg.NotifyEnabled = getBoolEnv("NOTIFY_ENABLED", cfg.NotifyEnabled)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = getIntEnv("REDIS_DB", cfg.RedisDB)
	cfg.BatchCacheTTL = getDurationEnv("BATCH_CACHE_TTL", cfg.BatchCacheTTL)
	cfg.InfluxURL = getEnv("INFLUX_URL", cfg.InfluxURL)
	cfg.InfluxDB = getEnv("INFLUX_DB", cfg.InfluxDB)
	cfg.InfluxMeasurement = getEnv("INFLUX_MEASUREMENT", cfg.InfluxMeasurement)
	cfg.ExportBatchSize = getIntEnv("EXPORT_BATCH_SIZE", cfg.ExportBatchSize)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)
	return cfg, nil
}

func postgresURLFromEnv() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(getEnv("POSTGRES_USER", "maguser"), getEnv("POSTGRES_PASSWORD", "magpass")),
		Host:     net.JoinHostPort(getEnv("POSTGRES_HOST", "localhost"), getEnv("POSTGRES_PORT", "5432")),
		Path:     "/" + getEnv("POSTGRES_DB", "magdb"),
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBoolEnv(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}
