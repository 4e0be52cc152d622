package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8081", cfg.Port)
	assert.Equal(t, 15*time.Minute, cfg.Cart.TTL)
	assert.Equal(t, 60*time.Second, cfg.Publisher.LeaseTTL)
	assert.Equal(t, "resell", cfg.Refund.ResalePolicy)
	assert.Equal(t, "fee_only", cfg.Refund.RedeemedMode)
	assert.Equal(t, 5432, cfg.Database.Port)
}

func TestLoadNestedPrefixes(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("CART_TTL", "5m")
	t.Setenv("PUBLISHER_BATCH_SIZE", "7")
	t.Setenv("REFUND_RESALE_POLICY", "nullify")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5*time.Minute, cfg.Cart.TTL)
	assert.Equal(t, 7, cfg.Publisher.BatchSize)
	assert.Equal(t, "nullify", cfg.Refund.ResalePolicy)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("LOG_LEVEL=debug\n"), 0o600))
	t.Setenv("LOG_LEVEL", "")
	require.NoError(t, os.Unsetenv("LOG_LEVEL"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	require.NoError(t, os.Unsetenv("LOG_LEVEL"))
}

func TestLoadMissingEnvFileIsIgnored(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}

func TestValidateRejectsUnknownPolicy(t *testing.T) {
	t.Setenv("REFUND_REDEEMED_MODE", "sometimes")

	_, err := Load("")
	assert.ErrorContains(t, err, "REFUND_REDEEMED_MODE")
}
