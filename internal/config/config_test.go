package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nexo-Options/nexo-hardcore-beta/internal/access"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const minimal = `
vault:
  owner: Owner
grants:
  admin: [owner]
  strategy: [strategy]
treasury:
  benchmark: "100000"
  max_lock_period: 720h
`

func TestLoad_DefaultsAndFile(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, minimal))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":9090", cfg.Server.GRPCAddr)
	assert.Equal(t, 10*time.Millisecond, cfg.Engine.PersistFlushTimeout)
	assert.Equal(t, "0 */5 * * * *", cfg.Snapshot.Cron)
	assert.Equal(t, "USDC", cfg.Assets.Settlement.Symbol)
	assert.EqualValues(t, 18, cfg.Assets.Stake.Decimals)
	assert.Equal(t, 720*time.Hour, cfg.Treasury.MaxLockPeriod)

	ec, err := cfg.EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, "100000000000", ec.Treasury.Benchmark.String())
	assert.Equal(t, access.Address("owner"), ec.Vault.Owner)
	assert.Equal(t, []access.Address{"strategy"}, ec.Grants[access.RoleStrategy])
	assert.EqualValues(t, 10_000, ec.Treasury.MaxUtilizationBps)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Error(t, cfg.Validate(), "no owner and no admin")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("NEXO_HTTP_ADDR", ":18080")
	t.Setenv("NEXO_PERSIST_BATCH_SIZE", "7")
	t.Setenv("NEXO_NATS_DISABLED", "true")
	t.Setenv("NEXO_TREASURY_MIN", "250.5")

	cfg, err := config.Load(writeConfig(t, minimal))
	require.NoError(t, err)
	assert.Equal(t, ":18080", cfg.Server.HTTPAddr)
	assert.Equal(t, 7, cfg.Engine.PersistBatchSize)
	assert.True(t, cfg.NATS.Disabled)

	ec, err := cfg.EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, "250500000", ec.Treasury.MinimumBalance.String())
}

func TestLoad_BadEnvInt(t *testing.T) {
	t.Setenv("NEXO_LRU_CAPACITY", "lots")
	_, err := config.Load("")
	assert.Error(t, err)
}

func TestLoad_NegativeLockPeriodDisablesBound(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, minimal+"  max_utilization_bps: 5000\n"))
	require.NoError(t, err)
	cfg.Treasury.MaxLockPeriod = -1
	require.NoError(t, cfg.Validate())

	ec, err := cfg.EngineConfig()
	require.NoError(t, err)
	assert.Zero(t, ec.Treasury.MaxLockPeriod)
	assert.EqualValues(t, 5000, ec.Treasury.MaxUtilizationBps)
}

func TestValidate_Rejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"same addresses", func(c *config.Config) { c.Vault.Address = "TREASURY" }},
		{"utilization above 100%", func(c *config.Config) { c.Treasury.MaxUtilizationBps = 10_001 }},
		{"bad cron", func(c *config.Config) { c.Audit.Cron = "every minute" }},
		{"unknown role", func(c *config.Config) { c.Grants["king"] = []string{"x"} }},
		{"negative minimum", func(c *config.Config) { c.Treasury.MinimumBalance = "-1" }},
		{"excess precision", func(c *config.Config) { c.Treasury.Benchmark = "0.0000001" }},
		{"same symbols", func(c *config.Config) { c.Assets.Stake.Symbol = "USDC" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := config.Load(writeConfig(t, minimal))
			require.NoError(t, err)
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_ShippedConfig(t *testing.T) {
	cfg, err := config.Load("../../configs/config.yaml")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":9091", cfg.Server.MetricsAddr)
	assert.Equal(t, []string{"treasury"}, cfg.Grants["insurer"])
}
