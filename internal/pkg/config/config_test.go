package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ManuelReschke/ExpandFox/internal/pkg/env"
)

func TestLoadDefaults(t *testing.T) {
	env.Env = map[string]string{}
	defer func() { env.Env = nil }()

	cfg := Load()

	assert.Equal(t, "4000", cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.Billing.SignatureTolerance)
	assert.Equal(t, 10*time.Second, cfg.Billing.ProviderTimeout)
	assert.Equal(t, 30*time.Second, cfg.Quota.SnapshotTTL)
	assert.True(t, cfg.Jobs.Enabled)
	assert.Equal(t, 2, cfg.Jobs.Workers)
}

func TestLoadOverrides(t *testing.T) {
	env.Env = map[string]string{
		"BILLING_WEBHOOK_SECRET":   "whsec_test",
		"BILLING_PROVIDER_TIMEOUT": "3s",
		"JOB_WORKERS":              "5",
		"JOBS_ENABLED":             "false",
		"INTERNAL_API_TOKEN":       "tok",
	}
	defer func() { env.Env = nil }()

	cfg := Load()

	assert.Equal(t, "whsec_test", cfg.Billing.WebhookSecret)
	assert.Equal(t, 3*time.Second, cfg.Billing.ProviderTimeout)
	assert.Equal(t, 5, cfg.Jobs.Workers)
	assert.False(t, cfg.Jobs.Enabled)
	assert.Equal(t, "tok", cfg.Server.InternalToken)
}
