package config

import (
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_AppliesDefaultsWithNoEnvOverrides(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ModeRun, cfg.Mode)
	assert.Equal(t, []string{"BTC-USD", "ETH-USD"}, cfg.Symbols)
	assert.True(t, cfg.Risk.MaxPositionPct.Equal(decimal.RequireFromString("0.20")))
	assert.Equal(t, 5, cfg.Risk.MaxConsecutiveLoss)
	assert.True(t, cfg.Observability.Enabled)
}

func TestLoad_EnvVarsOverrideDefaults(t *testing.T) {
	t.Setenv("AGENT_MODE", "backtest")
	t.Setenv("AGENT_RISK_MAX_CONSECUTIVE_LOSSES", "2")
	t.Setenv("AGENT_OBSERVABILITY_ENABLED", "false")
	defer func() {
		os.Unsetenv("AGENT_MODE")
		os.Unsetenv("AGENT_RISK_MAX_CONSECUTIVE_LOSSES")
		os.Unsetenv("AGENT_OBSERVABILITY_ENABLED")
	}()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ModeBacktest, cfg.Mode)
	assert.Equal(t, 2, cfg.Risk.MaxConsecutiveLoss)
	assert.False(t, cfg.Observability.Enabled)
}

func TestMustDecimal_InvalidStringFallsBackToZero(t *testing.T) {
	assert.True(t, mustDecimal("not-a-number").IsZero())
	assert.True(t, mustDecimal("0.05").Equal(decimal.RequireFromString("0.05")))
}
