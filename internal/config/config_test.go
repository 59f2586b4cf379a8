package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalYAML = `
reasoning:
  model: gpt-4o-mini
dispatch:
  url: https://gateway.example.com/webhook
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, ":9985", cfg.App.HTTPAddr)
	assert.Equal(t, 45, cfg.Scheduler.IntervalSeconds)
	assert.Equal(t, 2, cfg.Scheduler.StrategyPauseSeconds)
	assert.Equal(t, "https://fapi.binance.com", cfg.Market.RESTBaseURL)
	assert.Equal(t, "1h", cfg.Market.CandleInterval)
	assert.Equal(t, 100, cfg.Market.CandleLimit)
	assert.Equal(t, "/data/db/helmsman.db", cfg.Store.Path)
	assert.InDelta(t, 10000.0, cfg.Dispatch.TWAPThresholdUSD, 1e-9)
	assert.Equal(t, 5, cfg.Dispatch.TWAPSlices)
	assert.Equal(t, 300, cfg.Dispatch.TWAPDurationSeconds)
	assert.InDelta(t, 0.02, cfg.Reasoning.CostPerCallUSD, 1e-9)
}

func TestLoadExplicitValuesOverrideDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
app:
  http_addr: ":8080"
scheduler:
  interval_seconds: 60
market:
  candle_interval: 15m
  candle_limit: 200
reasoning:
  model: deepseek-chat
dispatch:
  url: https://gateway.example.com/webhook
  twap_slices: 8
`))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.App.HTTPAddr)
	assert.Equal(t, 60, cfg.Scheduler.IntervalSeconds)
	assert.Equal(t, "15m", cfg.Market.CandleInterval)
	assert.Equal(t, 200, cfg.Market.CandleLimit)
	assert.Equal(t, "deepseek-chat", cfg.Reasoning.Model)
	assert.Equal(t, 8, cfg.Dispatch.TWAPSlices)
}

func TestLoadRejectsShortInterval(t *testing.T) {
	_, err := Load(writeConfig(t, `
scheduler:
  interval_seconds: 3
reasoning:
  model: gpt-4o-mini
dispatch:
  url: https://gateway.example.com/webhook
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interval_seconds")
}

func TestLoadRejectsMissingDispatchURL(t *testing.T) {
	_, err := Load(writeConfig(t, `
reasoning:
  model: gpt-4o-mini
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dispatch.url")
}

func TestLoadRejectsCandleLimitOutOfRange(t *testing.T) {
	_, err := Load(writeConfig(t, `
market:
  candle_limit: 10
reasoning:
  model: gpt-4o-mini
dispatch:
  url: https://gateway.example.com/webhook
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "candle_limit")
}

func TestLoadEmptyPredictBaseURLAllowed(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)
	assert.Empty(t, cfg.Predict.BaseURL)
	assert.Equal(t, 10, cfg.Predict.TimeoutSeconds)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadEmptyPath(t *testing.T) {
	_, err := Load("  ")
	require.Error(t, err)
}
