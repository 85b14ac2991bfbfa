package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("RPC_URL", "http://localhost:8545")
	t.Setenv("CHAIN_ID", "16602")
	t.Setenv("MERCHANT_REGISTRY", "0x1111111111111111111111111111111111111111")
	t.Setenv("POLICY_REGISTRY", "0x2222222222222222222222222222222222222222")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, int64(1000), cfg.Retry.BaseDelayMs)
	assert.Equal(t, int64(200), cfg.Retry.JitterMs)
	assert.True(t, cfg.Upstream.RequireHTTPS)
	assert.Equal(t, 100, cfg.Yield.HistoryLimit)
	assert.Equal(t, "redis", cfg.Yield.Store)
	assert.Equal(t, int64(16602), cfg.Chain.ChainID)
}

func TestLoad_EnvOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("CHAIN_RETRY_ATTEMPTS", "5")
	t.Setenv("UPSTREAM_REQUIRE_HTTPS", "false")
	t.Setenv("YIELD_WATCH_ADDRESSES", " 0xaaa, ,0xbbb ")
	t.Setenv("YIELD_STORE", "file")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.False(t, cfg.Upstream.RequireHTTPS)
	assert.Equal(t, []string{"0xaaa", "0xbbb"}, cfg.Yield.Addresses())
	assert.Equal(t, "file", cfg.Yield.Store)
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("RPC_URL", "")
	t.Setenv("MERCHANT_REGISTRY", "")
	t.Setenv("POLICY_REGISTRY", "")
	t.Setenv("CHAIN_ID", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required config missing")
}

func TestLoad_InvalidStore(t *testing.T) {
	setRequired(t)
	t.Setenv("YIELD_STORE", "s3")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "YIELD_STORE")
}

func TestLoad_HistoryLimitBounds(t *testing.T) {
	for _, v := range []string{"0", "101", "500"} {
		setRequired(t)
		t.Setenv("YIELD_HISTORY_LIMIT", v)

		_, err := Load()
		require.Error(t, err, v)
		assert.Contains(t, err.Error(), "YIELD_HISTORY_LIMIT", v)
	}

	setRequired(t)
	t.Setenv("YIELD_HISTORY_LIMIT", "100")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Yield.HistoryLimit)
}

func TestYieldConfig_Enabled(t *testing.T) {
	y := YieldConfig{Vault: "0xv", StableToken: "0xs"}
	assert.False(t, y.Enabled())
	y.WatchAddresses = "0xa"
	assert.True(t, y.Enabled())
}
