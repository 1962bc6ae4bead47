package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAndEnvOverrides(t *testing.T) {
	t.Setenv("APP_QUEUE_BATCH_SIZE", "25")
	t.Setenv("APP_QUEUE_DRAIN_INTERVAL", "45s")
	t.Setenv("APP_TRUST_MODE", "development")

	cfg, err := Load("bridge-test")
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.QueueBatchSize)
	assert.Equal(t, 45*time.Second, cfg.QueueDrainInterval)
	assert.Equal(t, TrustModeDevelopment, cfg.TrustMode)
	assert.Equal(t, 3, cfg.QueueMaxAttempts)
	assert.Equal(t, 30*24*time.Hour, cfg.QueueRetention)
	assert.Equal(t, 65*time.Minute, cfg.WelcomeDelay)
	assert.Equal(t, 24*time.Hour, cfg.SyncWindow)
	assert.Equal(t, 2*time.Second, cfg.SyncOrderDelay)
	assert.False(t, cfg.SyncOnStartup)
	assert.False(t, cfg.SyncStartupApply, "startup sync never applies without opting in")
}

func TestConfig_AllowUnsignedWebhooks(t *testing.T) {
	t.Run("ProductionWithoutSecretFailsClosed", func(t *testing.T) {
		cfg := &Config{TrustMode: TrustModeProduction}
		assert.False(t, cfg.AllowUnsignedWebhooks())
	})
	t.Run("DevelopmentWithoutSecretPassesThrough", func(t *testing.T) {
		cfg := &Config{TrustMode: TrustModeDevelopment}
		assert.True(t, cfg.AllowUnsignedWebhooks())
	})
	t.Run("DevelopmentWithSecretStillVerifies", func(t *testing.T) {
		cfg := &Config{TrustMode: TrustModeDevelopment, ShopifyWebhookSecret: "s3cret"}
		assert.False(t, cfg.AllowUnsignedWebhooks())
	})
}

func TestConfig_AllowedOrigins(t *testing.T) {
	cfg := &Config{AdminAllowedOrigins: " https://a.example , ,https://b.example"}
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins())

	empty := &Config{}
	assert.Empty(t, empty.AllowedOrigins())
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{
		PostgresDSN:      "postgres://x",
		TrustMode:        TrustModeProduction,
		QueueMaxAttempts: 3,
		QueueBatchSize:   10,
		AdminJWTSecret:   "real-secret",
	}
	assert.NoError(t, valid.Validate())

	bad := valid
	bad.TrustMode = "staging"
	bad.QueueMaxAttempts = 0
	err := bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TRUST_MODE")
	assert.Contains(t, err.Error(), "QUEUE_MAX_ATTEMPTS")

	defaultSecret := valid
	defaultSecret.AdminJWTSecret = defaultJWTSecret
	assert.ErrorContains(t, defaultSecret.Validate(), "ADMIN_JWT_SECRET")
}

func TestConfig_ValidateStartupApplyNeedsStartupSync(t *testing.T) {
	cfg := Config{
		PostgresDSN:      "postgres://x",
		TrustMode:        TrustModeProduction,
		QueueMaxAttempts: 3,
		QueueBatchSize:   10,
		AdminJWTSecret:   "real-secret",
		SyncStartupApply: true,
	}
	assert.ErrorContains(t, cfg.Validate(), "SYNC_STARTUP_APPLY")

	cfg.SyncOnStartup = true
	assert.NoError(t, cfg.Validate())
}
