package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentbruecke/matchengine/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "dev", cfg.AppEnv)
	assert.True(t, cfg.IsDev())
	assert.Equal(t, 60.0, cfg.MaxDistanceKM)
	assert.Equal(t, 30.0, cfg.LLMGateDistanceKM)
	assert.Equal(t, 27.0, cfg.GeoRoleRadiusKM)
	assert.Equal(t, 3, cfg.LLMConcurrency)
	assert.Equal(t, 0.50, cfg.LLMScoreMin)
	assert.Equal(t, 0.008, cfg.MicroAdjustRate)
	assert.Equal(t, 2.0, cfg.WeightMin)
	assert.Equal(t, 50.0, cfg.WeightMax)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("GEO_ROLE_RADIUS_KM", "12.5")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProd())
	assert.Equal(t, 12.5, cfg.GeoRoleRadiusKM)
	assert.True(t, cfg.LLMEnabled())
}

func TestLLMEnabled_False(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.False(t, cfg.LLMEnabled())
}
