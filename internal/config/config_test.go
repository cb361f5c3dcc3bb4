// File: internal/config/config_test.go
package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfigValidates(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 10.0, cfg.Cost.DailyCostLimitUSD)
	assert.Equal(t, 100.0, cfg.Cost.MonthlyCostLimitUSD)
	assert.Equal(t, 0.05, cfg.Generator.ImprovementThreshold)
	assert.Equal(t, "file", cfg.Metrics.Backend)
	assert.Equal(t, 10, cfg.Repository.MaxRuleBackups)
}

func TestCostConfigValidation(t *testing.T) {
	cfg := NewDefaultConfig()

	cfg.Cost.DailyCostLimitUSD = 0
	assert.Error(t, cfg.Validate())

	cfg = NewDefaultConfig()
	cfg.Cost.CriticalThresholdPct = 0.5 // below warning
	assert.Error(t, cfg.Validate())

	cfg = NewDefaultConfig()
	cfg.Cost.CallsPerMinute = 0
	assert.Error(t, cfg.Validate())
}

func TestMetricsBackendValidation(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Metrics.Backend = "redis"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metrics.backend")
}

func TestNewConfigFromViperPullsAPIKeyFromEnv(t *testing.T) {
	t.Setenv("PULSE_LLM_API_KEY", "test-key")

	v := viper.New()
	SetDefaults(v)
	v.Set("llm.models", map[string]any{
		"gemini-2.5-pro": map[string]any{
			"provider": "gemini",
			"model":    "gemini-2.5-pro",
		},
	})

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)
	require.Contains(t, cfg.LLM.Models, "gemini-2.5-pro")
	assert.Equal(t, "test-key", cfg.LLM.Models["gemini-2.5-pro"].APIKey)
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: 5433, User: "u", Password: "pw", DBName: "pulse", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5433 user=u password=pw dbname=pulse sslmode=disable", p.DSN())
}
