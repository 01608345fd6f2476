package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configKeys = []string{
	"DATABASE_URL", "PORT", "JWT_SECRET", "TOKEN_TTL", "REDIS_URL", "BALANCE_CACHE_TTL",
	"KAFKA_BROKERS", "KAFKA_TOPIC", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "RIVER_WORKERS",
}

// clearEnv blanks every variable Load reads; t.Setenv restores them afterwards.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Contains(t, cfg.DatabaseURL, "postgres://")
	assert.True(t, cfg.UsingDevSecret())
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Empty(t, cfg.RedisURL)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORSOrigins)
	assert.Equal(t, 20.0, cfg.RateLimitRPS)
	assert.Equal(t, 40, cfg.RateLimitBurst)
}

func TestLoad_FromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("BALANCE_CACHE_TTL", "5s")
	t.Setenv("RATE_LIMIT_RPS", "2.5")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.False(t, cfg.UsingDevSecret())
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 5*time.Second, cfg.BalanceCacheTTL)
	assert.Equal(t, 2.5, cfg.RateLimitRPS)
}

func TestLoad_EnvFileDoesNotOverrideEnvironment(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("PORT=7000\nREDIS_URL=redis://cache:6379/0\n"), 0o600))
	t.Setenv("PORT", "9191")
	// godotenv only fills variables that are unset, so drop the blank one.
	require.NoError(t, os.Unsetenv("REDIS_URL"))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9191", cfg.Port)
	assert.Equal(t, "redis://cache:6379/0", cfg.RedisURL)
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}

func TestLoad_InvalidNumbers(t *testing.T) {
	for key, val := range map[string]string{
		"TOKEN_TTL":        "a day",
		"RATE_LIMIT_BURST": "many",
		"RATE_LIMIT_RPS":   "fast",
	} {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, val)
			_, err := Load("")
			assert.ErrorContains(t, err, key)
		})
	}
}
