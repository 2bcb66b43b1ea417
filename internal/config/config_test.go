package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "turbo"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateRejectsDuplicatePrincipals(t *testing.T) {
	cfg := Defaults()
	cfg.Engine.Escrow = cfg.Engine.Custody
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "distinct principals")
}

func TestValidateRejectsMalformedPrincipal(t *testing.T) {
	cfg := Defaults()
	cfg.Engine.Treasury = "not-a-principal"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "treasury")
}

func TestValidateDevModeSkipsBackends(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "dev"
	cfg.Postgres = PostgresConfig{}
	cfg.Redis = RedisConfig{}
	require.NoError(t, cfg.Validate())
}

func TestValidateArchiveNeedsS3(t *testing.T) {
	cfg := Defaults()
	cfg.Archive.Enabled = true
	cfg.S3.Bucket = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BITBOND_MODE", "dev")
	t.Setenv("BITBOND_SERVER_PORT", "9001")
	t.Setenv("BITBOND_ENGINE_BLOCKS_PER_DAY", "10")
	t.Setenv("BITBOND_SERVER_RATE_WINDOW", "2m")
	t.Setenv("BITBOND_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "dev", cfg.Mode)
	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, uint64(10), cfg.Engine.BlocksPerDay)
	assert.Equal(t, 2*time.Minute, cfg.Server.RateWindow.Duration)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}
