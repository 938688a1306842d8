package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, "3000", cfg.AppPort)
	assert.Equal(t, BackendDynamo, cfg.StoreBackend)
	assert.Equal(t, 24*time.Hour, cfg.Verification.TokenTTL)
	assert.Equal(t, 3, cfg.Insights.RefreshLimit)
	assert.Equal(t, 25, cfg.Insights.ListMax)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("VERIFICATION_TOKEN_TTL", "90m")
	t.Setenv("INSIGHT_REFRESH_WINDOW", "120")
	t.Setenv("AUDIT_WORKERS", "4")
	t.Setenv("DYNAMO_BOOTSTRAP", "false")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg := Load()
	assert.Equal(t, 90*time.Minute, cfg.Verification.TokenTTL)
	assert.Equal(t, 2*time.Minute, cfg.Insights.RefreshWindow)
	assert.Equal(t, 4, cfg.Audit.Workers)
	assert.False(t, cfg.BootstrapTables)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoad_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("AUDIT_BUFFER_SIZE", "lots")
	t.Setenv("VERIFICATION_TOKEN_TTL", "soon")

	cfg := Load()
	assert.Equal(t, 1024, cfg.Audit.BufferSize)
	assert.Equal(t, 24*time.Hour, cfg.Verification.TokenTTL)
}

func TestValidate_Production(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("STORE_BACKEND", BackendMemory)

	err := Load().Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "TOKEN_PEPPER")
	assert.ErrorContains(t, err, "memory backends")

	t.Setenv("STORE_BACKEND", BackendDynamo)
	t.Setenv("TOKEN_PEPPER", strings.Repeat("x", 32))
	assert.NoError(t, Load().Validate())
}

func TestValidate_UnknownBackend(t *testing.T) {
	t.Setenv("RATE_LIMIT_BACKEND", "memcached")
	assert.ErrorContains(t, Load().Validate(), "RATE_LIMIT_BACKEND")
}
