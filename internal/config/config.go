package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Store selects the counter store backend: "redis" (production) or
	// "memory" (single-process development only).
	Store string `json:"store"`

	Server   ServerConfig   `json:"server"`
	Redis    RedisConfig    `json:"redis"`
	Postgres PostgresConfig `json:"postgres"`
	Kafka    KafkaConfig    `json:"kafka"`
	Backend  BackendConfig  `json:"backend"`
	Auth     AuthConfig     `json:"auth"`
	Limits   LimitsConfig   `json:"limits"`
	Monitor  MonitorConfig  `json:"monitor"`
}

type ServerConfig struct {
	Port        string `json:"port"`
	Environment string `json:"environment"`
}

type RedisConfig struct {
	Host      string `json:"host"`
	Port      string `json:"port"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	TimeoutMs int    `json:"timeout_ms"`
}

func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

func (r RedisConfig) Timeout() time.Duration {
	if r.TimeoutMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(r.TimeoutMs) * time.Millisecond
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled"`
	Brokers []string `json:"brokers"`
	Topic   string   `json:"topic"`
}

type BackendConfig struct {
	Target string `json:"target"`
}

type AuthConfig struct {
	JWTSecret   string `json:"jwt_secret"`
	ExpiryHours int    `json:"expiry_hours"`
}

// LimitOverride adjusts a single (type,tier) pair of the built-in policy
// table. Zero fields leave the default untouched.
type LimitOverride struct {
	Type                 string `json:"type"`
	Tier                 string `json:"tier"`
	RequestsPerMinute    int    `json:"requests_per_minute"`
	RequestsPerHour      int    `json:"requests_per_hour"`
	RequestsPerDay       int    `json:"requests_per_day"`
	BurstAllowance       int    `json:"burst_allowance"`
	BlockDurationMinutes int    `json:"block_duration_minutes"`
}

// EndpointRule maps a request path prefix to a limit type. Rules are
// evaluated in order; the first match wins.
type EndpointRule struct {
	Prefix string `json:"prefix"`
	Type   string `json:"type"`
}

type LimitsConfig struct {
	Overrides          []LimitOverride `json:"overrides"`
	TrustedCIDRs       []string        `json:"trusted_cidrs"`
	SensitiveEndpoints []string        `json:"sensitive_endpoints"`
	ExcludedPaths      []string        `json:"excluded_paths"`
	EndpointRules      []EndpointRule  `json:"endpoint_rules"`
}

type MonitorConfig struct {
	BufferSize            int     `json:"buffer_size"`
	DDoSRequestsPerSecond float64 `json:"ddos_requests_per_second"`
	ViolationThreshold    int     `json:"violation_threshold"`
	AnomalyMinSamples     int     `json:"anomaly_min_samples"`
	AnomalyStdDevs        float64 `json:"anomaly_std_devs"`
	AlertRetentionHours   int     `json:"alert_retention_hours"`
	SlackWebhookURL       string  `json:"slack_webhook_url"`
	AlertWebhookURL       string  `json:"alert_webhook_url"`
	AlertEmail            string  `json:"alert_email"`
}

func Load(path string) (*Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	config.applyDefaults()
	config.applyEnv()

	return &config, nil
}

// Default returns the built-in configuration with env overrides applied,
// for deployments that configure everything through the environment.
func Default() *Config {
	var config Config
	config.applyDefaults()
	config.applyEnv()
	return &config
}

func (c *Config) applyDefaults() {
	if c.Store == "" {
		c.Store = "redis"
	}
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.Environment == "" {
		c.Server.Environment = "development"
	}
	if c.Redis.Host == "" {
		c.Redis.Host = "localhost"
	}
	if c.Redis.Port == "" {
		c.Redis.Port = "6379"
	}
	if c.Auth.ExpiryHours == 0 {
		c.Auth.ExpiryHours = 24
	}
	if c.Monitor.BufferSize == 0 {
		c.Monitor.BufferSize = 5000
	}
	if c.Monitor.DDoSRequestsPerSecond == 0 {
		c.Monitor.DDoSRequestsPerSecond = 100
	}
	if c.Monitor.ViolationThreshold == 0 {
		c.Monitor.ViolationThreshold = 3
	}
	if c.Monitor.AnomalyMinSamples == 0 {
		c.Monitor.AnomalyMinSamples = 100
	}
	if c.Monitor.AnomalyStdDevs == 0 {
		c.Monitor.AnomalyStdDevs = 3
	}
	if c.Monitor.AlertRetentionHours == 0 {
		c.Monitor.AlertRetentionHours = 24
	}
	if len(c.Limits.SensitiveEndpoints) == 0 {
		c.Limits.SensitiveEndpoints = []string{
			"/api/auth/login",
			"/api/auth/register",
			"/api/auth/password-reset",
			"/admin/login",
		}
	}
	if len(c.Limits.ExcludedPaths) == 0 {
		c.Limits.ExcludedPaths = []string{"/health", "/metrics"}
	}
}

// Env vars override the file so secrets stay out of config.json.
func (c *Config) applyEnv() {
	c.Server.Port = getEnv("SERVER_PORT", c.Server.Port)
	c.Server.Environment = getEnv("ENVIRONMENT", c.Server.Environment)
	c.Redis.Host = getEnv("REDIS_HOST", c.Redis.Host)
	c.Redis.Port = getEnv("REDIS_PORT", c.Redis.Port)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)
	c.Postgres.DSN = getEnv("POSTGRES_DSN", c.Postgres.DSN)
	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Backend.Target = getEnv("BACKEND_TARGET", c.Backend.Target)
	c.Kafka.Topic = getEnv("KAFKA_TOPIC", c.Kafka.Topic)
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = []string{brokers}
		c.Kafka.Enabled = true
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
