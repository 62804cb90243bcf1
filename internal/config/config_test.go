package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, `{}`))
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Store)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Environment)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.Equal(t, 24, cfg.Auth.ExpiryHours)

	assert.Equal(t, 5000, cfg.Monitor.BufferSize)
	assert.Equal(t, float64(100), cfg.Monitor.DDoSRequestsPerSecond)
	assert.Equal(t, 3, cfg.Monitor.ViolationThreshold)
	assert.Equal(t, 24, cfg.Monitor.AlertRetentionHours)

	assert.Contains(t, cfg.Limits.SensitiveEndpoints, "/api/auth/login")
	assert.Contains(t, cfg.Limits.SensitiveEndpoints, "/admin/login")
	assert.Equal(t, []string{"/health", "/metrics"}, cfg.Limits.ExcludedPaths)
}

func TestLoad_FileValuesWinOverDefaults(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, `{
		"store": "memory",
		"server": {"port": "9090", "environment": "production"},
		"redis": {"host": "redis.internal", "port": "6380", "timeout_ms": 250},
		"limits": {
			"trusted_cidrs": ["10.0.0.0/8"],
			"sensitive_endpoints": ["/api/v2/login"],
			"overrides": [
				{"type": "auth", "tier": "premium", "requests_per_minute": 50}
			]
		},
		"monitor": {"ddos_requests_per_second": 250.5}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr())
	assert.Equal(t, 250*time.Millisecond, cfg.Redis.Timeout())
	assert.Equal(t, []string{"10.0.0.0/8"}, cfg.Limits.TrustedCIDRs)
	assert.Equal(t, []string{"/api/v2/login"}, cfg.Limits.SensitiveEndpoints)
	assert.Equal(t, 250.5, cfg.Monitor.DDoSRequestsPerSecond)

	require.Len(t, cfg.Limits.Overrides, 1)
	assert.Equal(t, "auth", cfg.Limits.Overrides[0].Type)
	assert.Equal(t, 50, cfg.Limits.Overrides[0].RequestsPerMinute)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("SERVER_PORT", "7070")
	t.Setenv("REDIS_HOST", "cache.internal")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("KAFKA_BROKERS", "kafka.internal:9092")

	cfg, err := Load(writeConfigFile(t, `{
		"server": {"port": "9090"},
		"auth": {"jwt_secret": "from-file"}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, "cache.internal", cfg.Redis.Host)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"kafka.internal:9092"}, cfg.Kafka.Brokers)
}

func TestLoad_BadEnvIntFallsBack(t *testing.T) {
	t.Setenv("REDIS_DB", "not-a-number")

	cfg, err := Load(writeConfigFile(t, `{"redis": {"db": 4}}`))
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Redis.DB)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	_, err = Load(writeConfigFile(t, `{not json`))
	require.Error(t, err)
}

func TestDefault_MatchesEmptyFile(t *testing.T) {
	t.Setenv("SERVER_PORT", "7070")

	fromFile, err := Load(writeConfigFile(t, `{}`))
	require.NoError(t, err)

	assert.Equal(t, fromFile, Default())
}

func TestRedisConfig_TimeoutDefault(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, RedisConfig{}.Timeout())
}
