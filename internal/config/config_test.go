// Package config_test tests the config package.
package config_test

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/your-org/fortress-bot/internal/config"
	"gopkg.in/yaml.v3"
)

// validYAML returns a minimal configuration that passes validation.
func validYAML(minScore float64) string {
	return fmt.Sprintf(`
dry_run: true
leverage: 5
max_open_positions: 3
scan:
  min_score: %.1f
risk:
  scalp:
    risk_fraction: 0.01
    max_exposure_fraction: 0.1
  trend:
    risk_fraction: 0.02
    max_exposure_fraction: 0.2
supervisor:
  scalp:
    max_hold: 60m
    stagnation_after: 10m
    stagnation_min_roi: 2
  trend:
    max_hold: 48h
    harvest_enabled: "true"
    harvest_roi: 3
    trailing_distance_pct: 1.5
circuit_breaker:
  drawdown_pct: -1
`, minScore)
}

// Helper function to create a dummy config file with specific content
func createDummyConfigFile(t *testing.T, path, content string) {
	t.Helper()
	err := os.WriteFile(path, []byte(content), 0644)
	require.NoError(t, err)
}

func TestLoadConfig_DefaultsApplied(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	createDummyConfigFile(t, configPath, validYAML(80))

	cfg, err := config.LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.Loops.RegimeInterval.D())
	assert.Equal(t, time.Minute, cfg.Loops.ScanInterval.D())
	assert.Equal(t, config.RegimeModeTrendProxy, cfg.Regime.Mode)
	assert.Equal(t, "BTCUSDT", cfg.Regime.ReferenceSymbol)
	assert.Equal(t, 50, cfg.Regime.FastEMA)
	assert.Equal(t, 200, cfg.Regime.SlowEMA)
	assert.Equal(t, 9, cfg.Regime.ScalpEndHour)
	assert.Equal(t, 30, cfg.Scan.TopN)
	assert.Equal(t, 24*time.Hour, cfg.CircuitBreaker.Cooldown.D())
	assert.Equal(t, 60*time.Minute, cfg.Supervisor.Scalp.MaxHold.D())
	assert.Equal(t, config.BasisLeveraged, cfg.Supervisor.Scalp.StagnationBasis)
	assert.Equal(t, config.BasisPrice, cfg.Supervisor.Trend.HarvestBasis)
	assert.Equal(t, config.BasisLeveraged, cfg.Supervisor.Scalp.TrailingBasis)
	assert.Zero(t, cfg.Supervisor.Scalp.TrailingActivationROI, "ROI trailing is off unless configured")
	assert.Equal(t, 0.5, cfg.Supervisor.Trend.HarvestFraction, "harvest fraction defaults to half")
	assert.True(t, bool(cfg.Supervisor.Trend.HarvestEnabled))
	assert.False(t, cfg.Database.Enabled())
}

func TestLoadConfig_ShippedConfigIsValid(t *testing.T) {
	cfg, err := config.LoadConfig("../../config/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxOpenPositions)
	assert.Equal(t, 95.0, cfg.Scan.OverrideScore)
	assert.Equal(t, 2.0, cfg.Supervisor.Scalp.TrailingActivationROI)
	assert.Equal(t, 1.0, cfg.Supervisor.Scalp.TrailingDistanceROI)
}

func TestLoadConfig_TrailingROINeedsDistance(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	createDummyConfigFile(t, configPath, `
max_open_positions: 3
scan:
  min_score: 80
risk:
  scalp:
    risk_fraction: 0.01
    max_exposure_fraction: 0.1
  trend:
    risk_fraction: 0.02
    max_exposure_fraction: 0.2
supervisor:
  scalp:
    max_hold: 60m
    trailing_activation_roi: 2
  trend:
    max_hold: 48h
circuit_breaker:
  drawdown_pct: -1
`)

	_, err := config.LoadConfig(configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "supervisor.scalp.trailing_distance_roi is required")
}

// TestLoadConfig_EnvVarOverride tests if environment variables correctly override yaml values.
func TestLoadConfig_EnvVarOverride(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	createDummyConfigFile(t, configPath, validYAML(80)+`
log_level: "info"
database:
  host: "localhost"
  user: "user_from_file"
`)

	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DB_HOST", "db.from.env")
	t.Setenv("DB_USER", "user_from_env")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("API_KEY", "key_from_env")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("DRY_RUN", "true")

	cfg, err := config.LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel, "LOG_LEVEL should be overridden by env var")
	assert.Equal(t, "db.from.env", cfg.Database.Host)
	assert.Equal(t, "user_from_env", cfg.Database.User)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, "key_from_env", cfg.APIKey)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "", cfg.Database.Password, "DB_PASSWORD should be empty as it was not in file or env")
}

func TestLoadConfig_MissingRequiredThresholds(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	createDummyConfigFile(t, configPath, `
max_open_positions: 0
supervisor:
  scalp:
    max_hold: 10m
    stagnation_after: 20m
circuit_breaker:
  drawdown_pct: 1
`)

	_, err := config.LoadConfig(configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_open_positions must be positive")
	assert.Contains(t, err.Error(), "scan.min_score is required")
	assert.Contains(t, err.Error(), "risk.trend.risk_fraction")
	assert.Contains(t, err.Error(), "supervisor.trend.max_hold is required")
	assert.Contains(t, err.Error(), "supervisor.scalp.stagnation_after must be shorter than max_hold")
	assert.Contains(t, err.Error(), "circuit_breaker.drawdown_pct must be negative")
}

func TestLoadConfig_LiveModeRequiresKeys(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	createDummyConfigFile(t, configPath, validYAML(80))
	t.Setenv("DRY_RUN", "false")
	t.Setenv("API_KEY", "")
	t.Setenv("API_SECRET", "")

	_, err := config.LoadConfig(configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API_KEY and API_SECRET")
}

// TestConfigReloading tests the dynamic reloading of configuration.
func TestConfigReloading(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	createDummyConfigFile(t, configPath, validYAML(10))
	initialCfg, err := config.LoadConfig(configPath)
	require.NoError(t, err, "Initial config loading should succeed")
	require.Equal(t, 10.0, initialCfg.Scan.MinScore)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(50 * time.Millisecond)
		createDummyConfigFile(t, configPath, validYAML(20))
		_, err := config.ReloadConfig(configPath)
		assert.NoError(t, err, "Config reloading should succeed")
	}()

	// Continuously read the config to check for race conditions and see the update
	var finalScore float64
	for i := 0; i < 100; i++ {
		if currentCfg := config.GetConfig(); currentCfg.Scan.MinScore == 20.0 {
			finalScore = currentCfg.Scan.MinScore
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	wg.Wait()

	assert.Equal(t, 20.0, finalScore, "min score should have been updated to 20.0")

	// A broken file keeps the previous value.
	createDummyConfigFile(t, configPath, "max_open_positions: [")
	_, err = config.ReloadConfig(configPath)
	assert.Error(t, err)
	assert.Equal(t, 20.0, config.GetConfig().Scan.MinScore)
}

func TestDuration_UnmarshalYAML(t *testing.T) {
	var v struct {
		A config.Duration `yaml:"a"`
		B config.Duration `yaml:"b"`
		C config.Duration `yaml:"c"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("a: 90s\nb: 120\nc: 1.5\n"), &v))
	assert.Equal(t, 90*time.Second, v.A.D())
	assert.Equal(t, 2*time.Minute, v.B.D())
	assert.Equal(t, 1500*time.Millisecond, v.C.D())

	assert.Error(t, yaml.Unmarshal([]byte("a: soon\n"), &v))
}

func TestFlexBool_UnmarshalYAML(t *testing.T) {
	cases := map[string]bool{
		"v: true":    true,
		`v: "false"`: false,
		"v: 1":       true,
		"v: 0.0":     false,
	}
	for input, want := range cases {
		var v struct {
			V config.FlexBool `yaml:"v"`
		}
		require.NoError(t, yaml.Unmarshal([]byte(input), &v), input)
		assert.Equal(t, want, bool(v.V), input)
	}
}

func TestROIBasis_RejectsUnknown(t *testing.T) {
	var v struct {
		B config.ROIBasis `yaml:"b"`
	}
	assert.Error(t, yaml.Unmarshal([]byte("b: gross"), &v))
	require.NoError(t, yaml.Unmarshal([]byte("b: price"), &v))
	assert.Equal(t, config.BasisPrice, v.B)
}
