package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testContract = "0x1234567890123456789012345678901234567890"

func TestDefaultConfigNeedsContract(t *testing.T) {
	cfg := DefaultConfig()

	err := cfg.ValidateConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flash_loan.contract")

	cfg.DryRun = true
	assert.NoError(t, cfg.ValidateConfig())
}

func TestValidateConfigCollectsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FlashLoan.Contract = testContract
	cfg.InputAmount = "ten"
	cfg.ReferenceStable = "GUSD"
	cfg.RPCRateLimit.BurstSize = 0
	cfg.MaxGasPrice = "-1"

	err := cfg.ValidateConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input_amount")
	assert.Contains(t, err.Error(), "reference_stable")
	assert.Contains(t, err.Error(), "burst size")
	assert.Contains(t, err.Error(), "max_gas_price")
}

func TestTokenPairsAndReference(t *testing.T) {
	cfg := DefaultConfig()

	pairs := cfg.TokenPairs()
	require.Len(t, pairs, 2)
	assert.Equal(t, "DAI/WETH", pairs[0].String())
	assert.Equal(t, uint8(6), pairs[1].Stable.Decimals)

	ref, err := cfg.ReferenceToken()
	require.NoError(t, err)
	assert.Equal(t, "DAI", ref.Symbol)

	amount, err := cfg.InputAmountUnits()
	require.NoError(t, err)
	assert.Equal(t, "10000", amount.String())

	maxGas, err := cfg.MaxGasPriceWei()
	require.NoError(t, err)
	assert.Nil(t, maxGas)

	assert.True(t, cfg.ExecutablePairs()["DAI"])
	assert.False(t, cfg.ExecutablePairs()["USDT"])
}

func TestLoadConfigJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bot.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"input_amount": "5000",
		"min_profit": "1000",
		"flash_loan": {"contract": "`+testContract+`", "solo": "`+MainnetDydxSolo+`", "execute_pairs": ["DAI", "USDT"]}
	}`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "5000", cfg.InputAmount)
	assert.Equal(t, 15*time.Second, cfg.PriceRefreshInterval.Std())
	assert.True(t, cfg.ExecutablePairs()["USDT"])

	minProfit, err := cfg.MinProfitAmount()
	require.NoError(t, err)
	assert.Equal(t, "1000", minProfit.String())
}

func TestLoadConfigYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
dry_run: true
price_refresh_interval: 30s
stables:
  - symbol: DAI
    address: "`+MainnetDAI+`"
    decimals: 18
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, 30*time.Second, cfg.PriceRefreshInterval.Std())
	assert.Len(t, cfg.TokenPairs(), 1)
}

func TestLoadConfigJSONDurations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"dry_run": true,
		"price_refresh_interval": "30s",
		"network_timeout": 2000000000,
		"rpc_rate_limit": {"requests_per_second": 10, "burst_size": 4, "wait_timeout": "750ms"}
	}`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.PriceRefreshInterval.Std())
	assert.Equal(t, 2*time.Second, cfg.NetworkTimeout.Std())
	assert.Equal(t, 750*time.Millisecond, cfg.RPCRateLimit.WaitTimeout.Std())

	require.NoError(t, os.WriteFile(path, []byte(`{"price_refresh_interval": "soon"}`), 0o644))
	_, err = LoadConfig(path)
	assert.ErrorContains(t, err, "invalid duration")
}

func TestLoadConfigOverridesBeforeValidation(t *testing.T) {
	t.Setenv(EnvFlashloan, "")
	t.Setenv(EnvDryRun, "")

	path := filepath.Join(t.TempDir(), "bot.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"telemetry": {"enabled": true, "url": "https://example.invalid"}}`), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flash_loan.contract")

	cfg, err := LoadConfig(path, WithDryRun(), WithoutTelemetry())
	require.NoError(t, err)
	assert.True(t, cfg.DryRun)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv(EnvFlashloan, testContract)
	t.Setenv(EnvWSURL, "wss://example.invalid/ws")

	dir := t.TempDir()
	path := filepath.Join(dir, "bot.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "wss://example.invalid/ws", cfg.WSEndpoint)
	assert.Equal(t, testContract, cfg.FlashLoan.Contract)
}

func TestGetRequiredEnv(t *testing.T) {
	t.Setenv(EnvPrivateKey, "")
	_, err := GetRequiredEnv(EnvPrivateKey)
	assert.ErrorContains(t, err, "PRIVATE_KEY not set")

	t.Setenv(EnvPrivateKey, "abc")
	value, err := GetRequiredEnv(EnvPrivateKey)
	require.NoError(t, err)
	assert.Equal(t, "abc", value)
}

func TestLoadSecureConfig(t *testing.T) {
	t.Setenv(EnvPrivateKey, "")
	_, err := LoadSecureConfig()
	assert.ErrorContains(t, err, "private key not found")

	t.Setenv(EnvPrivateKey, "0xabc123")
	secure, err := LoadSecureConfig()
	require.NoError(t, err)
	assert.Equal(t, "abc123", secure.PrivateKey)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("INITIALSTATE_ACCESS_KEY=access\nINITIALSTATE_BUCKET_KEY=bucket\n"), 0o644))
	t.Setenv(EnvTelemetryAccess, "")
	t.Setenv(EnvTelemetryBucket, "")
	os.Unsetenv(EnvTelemetryAccess)
	os.Unsetenv(EnvTelemetryBucket)

	require.NoError(t, LoadEnv(path))
	access, bucket := TelemetryKeys()
	assert.Equal(t, "access", access)
	assert.Equal(t, "bucket", bucket)
}
