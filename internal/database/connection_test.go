package database

import (
	"testing"
	"time"

	"github.com/BradenHooton/warden/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDatabaseConfig() *config.DatabaseConfig {
	return &config.DatabaseConfig{
		Host:              "db.internal",
		Port:              5433,
		User:              "warden",
		Password:          "secret",
		Name:              "warden_test",
		SSLMode:           "disable",
		MaxConns:          12,
		MinConns:          2,
		MaxConnLifetime:   10 * time.Minute,
		MaxConnIdleTime:   2 * time.Minute,
		HealthCheckPeriod: 30 * time.Second,
	}
}

func TestPoolConfig_AppliesPoolSettings(t *testing.T) {
	pc, err := poolConfig(testDatabaseConfig())
	require.NoError(t, err)

	assert.Equal(t, int32(12), pc.MaxConns)
	assert.Equal(t, int32(2), pc.MinConns)
	assert.Equal(t, 10*time.Minute, pc.MaxConnLifetime)
	assert.Equal(t, 2*time.Minute, pc.MaxConnIdleTime)
	assert.Equal(t, 30*time.Second, pc.HealthCheckPeriod)

	assert.Equal(t, "db.internal", pc.ConnConfig.Host)
	assert.Equal(t, uint16(5433), pc.ConnConfig.Port)
	assert.Equal(t, "warden_test", pc.ConnConfig.Database)
}

func TestPoolConfig_SessionsRunInUTC(t *testing.T) {
	pc, err := poolConfig(testDatabaseConfig())
	require.NoError(t, err)

	assert.Equal(t, "UTC", pc.ConnConfig.RuntimeParams["timezone"])
	assert.Equal(t, "warden", pc.ConnConfig.RuntimeParams["application_name"])
}

func TestPoolConfig_RejectsInvalidSSLMode(t *testing.T) {
	cfg := testDatabaseConfig()
	cfg.SSLMode = "sometimes"

	_, err := poolConfig(cfg)

	assert.Error(t, err)
}
