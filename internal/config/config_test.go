package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BILLING_PROVIDER", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("PUBLIC_BASE_URL", "https://billing.example.com/")

	cfg := Load()
	assert.Equal(t, ProviderMemory, cfg.BillingProvider)
	assert.False(t, cfg.Redis.Enabled())
	assert.Equal(t, "https://billing.example.com", cfg.PublicBaseURL)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("BILLING_PROVIDER", "Stripe")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("SCHEDULER_ENABLED", "off")
	t.Setenv("DATABASE_MAX_OPEN_CONN", "not-a-number")

	cfg := Load()
	assert.Equal(t, ProviderStripe, cfg.BillingProvider)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.False(t, cfg.SchedulerEnabled)
	assert.Equal(t, 20, cfg.DBMaxOpenConn)
}
