package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	cfg := New()
	assert.Equal(t, Development, cfg.Env)
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, 50.0, cfg.Budget.DailyCapUSD)
	require.NoError(t, cfg.Validate())
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := []byte("server:\n  port: 9100\nbudget:\n  daily_cap_usd: 12.5\nrouter:\n  explore_rate: 2\n")
	require.NoError(t, os.WriteFile(path, contents, 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 12.5, cfg.Budget.DailyCapUSD)
	assert.Equal(t, 1.0, cfg.Router.ExploreRate, "explore rate clamps to 1")
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := []byte("server:\n  port: 9100\nbudget:\n  daily_cap_usd: 12.5\n")
	require.NoError(t, os.WriteFile(path, contents, 0o644))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("SERVER_PORT", "9200")
	t.Setenv("BUDGET_DAILY_CAP_USD", "99")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, 99.0, cfg.Budget.DailyCapUSD)
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := New()
	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresDSNInProduction(t *testing.T) {
	cfg := New()
	cfg.Env = Production
	assert.Error(t, cfg.Validate())
	cfg.Database.DSN = "postgres://localhost/engine"
	assert.NoError(t, cfg.Validate())
}
