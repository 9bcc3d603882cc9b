// Package config handles application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// Regime classification modes.
const (
	RegimeModeTrendProxy = "trend_proxy"
	RegimeModeClock      = "clock"
)

// Config defines the structure for all application configuration.
type Config struct {
	DryRun           FlexBool         `yaml:"dry_run"`
	Leverage         float64          `yaml:"leverage"`
	MaxOpenPositions int              `yaml:"max_open_positions"`
	LogLevel         string           `yaml:"log_level"`
	Loops            LoopConfig       `yaml:"loops"`
	Regime           RegimeConfig     `yaml:"regime"`
	Scan             ScanConfig       `yaml:"scan"`
	Risk             RiskConfig       `yaml:"risk"`
	Supervisor       SupervisorConfig `yaml:"supervisor"`
	CircuitBreaker   BreakerConfig    `yaml:"circuit_breaker"`
	Fees             FeeConfig        `yaml:"fees"`
	Paper            PaperConfig      `yaml:"paper"`
	Exchange         ExchangeConfig   `yaml:"exchange"`
	HTTP             HTTPConfig       `yaml:"http"`
	Database         DatabaseConfig   `yaml:"database"`
	DBWriter         DBWriterConfig   `yaml:"db_writer"`
	Redis            RedisConfig      `yaml:"redis"`
	Journal          JournalConfig    `yaml:"journal"`
	APIKey           string           `yaml:"-"` // Loaded from env
	APISecret        string           `yaml:"-"` // Loaded from env
}

// LoopConfig holds the schedule of the orchestrator's loops.
type LoopConfig struct {
	RegimeInterval  Duration `yaml:"regime_interval"`
	MonitorInterval Duration `yaml:"monitor_interval"`
	ScanInterval    Duration `yaml:"scan_interval"`
	ReportInterval  Duration `yaml:"report_interval"`
	SafetyInterval  Duration `yaml:"safety_interval"`
	ErrorBackoff    Duration `yaml:"error_backoff"`
	UnknownWait     Duration `yaml:"unknown_wait"`
}

// RegimeConfig configures the market regime classifier.
type RegimeConfig struct {
	Mode            string `yaml:"mode"`
	ReferenceSymbol string `yaml:"reference_symbol"`
	Interval        string `yaml:"interval"`
	HistoryLimit    int    `yaml:"history_limit"`
	MinHistory      int    `yaml:"min_history"`
	FastEMA         int    `yaml:"fast_ema"`
	SlowEMA         int    `yaml:"slow_ema"`
	ScalpStartHour  int    `yaml:"scalp_start_hour"`
	ScalpEndHour    int    `yaml:"scalp_end_hour"`
}

// ScanConfig configures the candidate scanner.
type ScanConfig struct {
	TopN          int      `yaml:"top_n"`
	Interval      string   `yaml:"interval"`
	HistoryLimit  int      `yaml:"history_limit"`
	Workers       int      `yaml:"workers"`
	MinScore      float64  `yaml:"min_score"`
	OverrideScore float64  `yaml:"override_score"`
	Blacklist     []string `yaml:"blacklist"`
}

// SizingConf is the per-regime sizing pair.
type SizingConf struct {
	RiskFraction        float64 `yaml:"risk_fraction"`
	MaxExposureFraction float64 `yaml:"max_exposure_fraction"`
}

// RiskConfig configures position sizing.
type RiskConfig struct {
	MinNotional float64    `yaml:"min_notional"`
	Scalp       SizingConf `yaml:"scalp"`
	Trend       SizingConf `yaml:"trend"`
}

// ProfileConfig holds the exit thresholds of one supervision profile.
// ROI thresholds are percentages.
type ProfileConfig struct {
	MaxHold             Duration `yaml:"max_hold"`
	StagnationAfter     Duration `yaml:"stagnation_after"`
	StagnationMinROI    float64  `yaml:"stagnation_min_roi"`
	StagnationBasis     ROIBasis `yaml:"stagnation_basis"`
	HarvestEnabled      FlexBool `yaml:"harvest_enabled"`
	HarvestROI          float64  `yaml:"harvest_roi"`
	HarvestBasis        ROIBasis `yaml:"harvest_basis"`
	HarvestFraction     float64  `yaml:"harvest_fraction"`
	TrailingDistancePct float64  `yaml:"trailing_distance_pct"`

	// ROI trailing exit: once the best ROI reaches TrailingActivationROI, a
	// retrace of more than TrailingDistanceROI from it closes the position.
	TrailingActivationROI float64  `yaml:"trailing_activation_roi"`
	TrailingDistanceROI   float64  `yaml:"trailing_distance_roi"`
	TrailingBasis         ROIBasis `yaml:"trailing_basis"`
}

// SupervisorConfig holds both supervision profiles.
type SupervisorConfig struct {
	Scalp ProfileConfig `yaml:"scalp"`
	Trend ProfileConfig `yaml:"trend"`
}

// BreakerConfig configures the account-level circuit breaker.
type BreakerConfig struct {
	DrawdownPct          float64  `yaml:"drawdown_pct"`
	Cooldown             Duration `yaml:"cooldown"`
	DailyProfitTargetPct float64  `yaml:"daily_profit_target_pct"`
}

// FeeConfig holds exchange fee rates as fractions.
type FeeConfig struct {
	Maker float64 `yaml:"maker"`
	Taker float64 `yaml:"taker"`
}

// PaperConfig configures the dry-run engine.
type PaperConfig struct {
	InitialBalance float64 `yaml:"initial_balance"`
}

// ExchangeConfig holds the exchange endpoints.
type ExchangeConfig struct {
	RESTURL        string   `yaml:"rest_url"`
	WSURL          string   `yaml:"ws_url"`
	PriceStream    FlexBool `yaml:"price_stream"`
	QuoteAsset     string   `yaml:"quote_asset"`
	RecvWindowMs   int      `yaml:"recv_window_ms"`
	RequestTimeout Duration `yaml:"request_timeout"`
}

// HTTPConfig configures the health/status server.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig holds TimescaleDB connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

// Enabled reports whether a database is configured.
func (d DatabaseConfig) Enabled() bool {
	return d.Host != "" && d.Name != ""
}

// URL returns the postgres connection URL.
func (d DatabaseConfig) URL() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", d.User, d.Password, d.Host, d.Port, d.Name, sslMode)
}

// DBWriterConfig holds batching settings for the journal writer.
type DBWriterConfig struct {
	BatchSize            int `yaml:"batch_size"`
	WriteIntervalSeconds int `yaml:"write_interval_seconds"`
}

// RedisConfig configures ledger persistence.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// JournalConfig configures the CSV trade journal.
type JournalConfig struct {
	CSVPath string `yaml:"csv_path"`
}

var current atomic.Value

// LoadConfig loads configuration from the specified YAML file path
// and environment variables, applies defaults and validates it.
func LoadConfig(configPath string) (*Config, error) {
	cfg := &Config{
		// Default values
		LogLevel: "info",
		DryRun:   true,
	}

	// Read YAML file
	file, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	err = yaml.Unmarshal(file, cfg)
	if err != nil {
		return nil, err
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	current.Store(cfg)
	return cfg, nil
}

// ReloadConfig re-reads the configuration file and atomically replaces the
// value returned by GetConfig. On error the previous value is kept.
func ReloadConfig(configPath string) (*Config, error) {
	return LoadConfig(configPath)
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	cfg, _ := current.Load().(*Config)
	return cfg
}

// Load sensitive data and overrides from environment variables
func applyEnv(cfg *Config) {
	if apiKey := os.Getenv("API_KEY"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	if apiSecret := os.Getenv("API_SECRET"); apiSecret != "" {
		cfg.APISecret = apiSecret
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if dryRun := os.Getenv("DRY_RUN"); dryRun != "" {
		if b, err := strconv.ParseBool(dryRun); err == nil {
			cfg.DryRun = FlexBool(b)
		}
	}
	if dbHost := os.Getenv("DB_HOST"); dbHost != "" {
		cfg.Database.Host = dbHost
	}
	if dbPort := os.Getenv("DB_PORT"); dbPort != "" {
		if p, err := strconv.Atoi(dbPort); err == nil {
			cfg.Database.Port = p
		}
	}
	if dbUser := os.Getenv("DB_USER"); dbUser != "" {
		cfg.Database.User = dbUser
	}
	if dbPassword := os.Getenv("DB_PASSWORD"); dbPassword != "" {
		cfg.Database.Password = dbPassword
	}
	if dbName := os.Getenv("DB_NAME"); dbName != "" {
		cfg.Database.Name = dbName
	}
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		cfg.Redis.Addr = redisAddr
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		cfg.Redis.Password = redisPassword
	}
}

func setDuration(d *Duration, def time.Duration) {
	if *d <= 0 {
		*d = Duration(def)
	}
}

func setInt(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

func setString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Leverage <= 0 {
		cfg.Leverage = 1
	}

	setDuration(&cfg.Loops.RegimeInterval, 5*time.Minute)
	setDuration(&cfg.Loops.MonitorInterval, time.Second)
	setDuration(&cfg.Loops.ScanInterval, time.Minute)
	setDuration(&cfg.Loops.ReportInterval, 5*time.Minute)
	setDuration(&cfg.Loops.SafetyInterval, time.Minute)
	setDuration(&cfg.Loops.ErrorBackoff, 10*time.Second)
	setDuration(&cfg.Loops.UnknownWait, 10*time.Second)

	setString(&cfg.Regime.Mode, RegimeModeTrendProxy)
	setString(&cfg.Regime.ReferenceSymbol, "BTCUSDT")
	setString(&cfg.Regime.Interval, "1h")
	setInt(&cfg.Regime.HistoryLimit, 250)
	setInt(&cfg.Regime.MinHistory, 50)
	setInt(&cfg.Regime.FastEMA, 50)
	setInt(&cfg.Regime.SlowEMA, 200)
	if cfg.Regime.ScalpEndHour == 0 && cfg.Regime.ScalpStartHour == 0 {
		cfg.Regime.ScalpEndHour = 9
	}

	setInt(&cfg.Scan.TopN, 30)
	setString(&cfg.Scan.Interval, "5m")
	setInt(&cfg.Scan.HistoryLimit, 100)
	setInt(&cfg.Scan.Workers, 4)

	for _, p := range []*ProfileConfig{&cfg.Supervisor.Scalp, &cfg.Supervisor.Trend} {
		if p.StagnationBasis == "" {
			p.StagnationBasis = BasisLeveraged
		}
		if p.HarvestBasis == "" {
			p.HarvestBasis = BasisPrice
		}
		if p.TrailingBasis == "" {
			p.TrailingBasis = BasisLeveraged
		}
		if p.HarvestEnabled && p.HarvestFraction == 0 {
			p.HarvestFraction = 0.5
		}
	}

	setDuration(&cfg.CircuitBreaker.Cooldown, 24*time.Hour)

	if cfg.Paper.InitialBalance <= 0 {
		cfg.Paper.InitialBalance = 1000
	}

	setString(&cfg.Exchange.RESTURL, "https://fapi.binance.com")
	setString(&cfg.Exchange.WSURL, "wss://fstream.binance.com/ws/!markPrice@arr@1s")
	setString(&cfg.Exchange.QuoteAsset, "USDT")
	setInt(&cfg.Exchange.RecvWindowMs, 5000)
	setDuration(&cfg.Exchange.RequestTimeout, 10*time.Second)

	setString(&cfg.HTTP.Addr, ":8080")
	setInt(&cfg.Database.Port, 5432)
	setInt(&cfg.DBWriter.BatchSize, 100)
	setInt(&cfg.DBWriter.WriteIntervalSeconds, 1)
	setString(&cfg.Redis.Prefix, "fortress")
}

// Validate reports configuration errors that must stop the process at startup.
func (c *Config) Validate() error {
	var errs []error
	if c.MaxOpenPositions <= 0 {
		errs = append(errs, errors.New("max_open_positions must be positive"))
	}
	if c.Scan.MinScore <= 0 {
		errs = append(errs, errors.New("scan.min_score is required"))
	}
	if c.Scan.OverrideScore != 0 && c.Scan.OverrideScore < c.Scan.MinScore {
		errs = append(errs, errors.New("scan.override_score must not be below scan.min_score"))
	}
	for name, s := range map[string]SizingConf{"scalp": c.Risk.Scalp, "trend": c.Risk.Trend} {
		if s.RiskFraction <= 0 || s.RiskFraction > 1 {
			errs = append(errs, fmt.Errorf("risk.%s.risk_fraction must be in (0, 1]", name))
		}
		if s.MaxExposureFraction <= 0 {
			errs = append(errs, fmt.Errorf("risk.%s.max_exposure_fraction must be positive", name))
		}
	}
	for name, p := range map[string]ProfileConfig{"scalp": c.Supervisor.Scalp, "trend": c.Supervisor.Trend} {
		if p.MaxHold <= 0 {
			errs = append(errs, fmt.Errorf("supervisor.%s.max_hold is required", name))
		}
		if p.StagnationAfter > 0 && p.StagnationAfter >= p.MaxHold {
			errs = append(errs, fmt.Errorf("supervisor.%s.stagnation_after must be shorter than max_hold", name))
		}
		if p.HarvestEnabled {
			if p.HarvestROI <= 0 {
				errs = append(errs, fmt.Errorf("supervisor.%s.harvest_roi is required when harvesting", name))
			}
			if p.HarvestFraction <= 0 || p.HarvestFraction >= 1 {
				errs = append(errs, fmt.Errorf("supervisor.%s.harvest_fraction must be in (0, 1)", name))
			}
		}
		if p.TrailingDistancePct < 0 {
			errs = append(errs, fmt.Errorf("supervisor.%s.trailing_distance_pct must not be negative", name))
		}
		if p.TrailingActivationROI < 0 || p.TrailingDistanceROI < 0 {
			errs = append(errs, fmt.Errorf("supervisor.%s.trailing_activation_roi and trailing_distance_roi must not be negative", name))
		}
		if p.TrailingActivationROI > 0 && p.TrailingDistanceROI <= 0 {
			errs = append(errs, fmt.Errorf("supervisor.%s.trailing_distance_roi is required with trailing_activation_roi", name))
		}
	}
	if c.CircuitBreaker.DrawdownPct >= 0 {
		errs = append(errs, errors.New("circuit_breaker.drawdown_pct must be negative"))
	}
	switch c.Regime.Mode {
	case RegimeModeTrendProxy:
		if c.Regime.FastEMA >= c.Regime.SlowEMA {
			errs = append(errs, errors.New("regime.fast_ema must be shorter than regime.slow_ema"))
		}
	case RegimeModeClock:
		if c.Regime.ScalpStartHour < 0 || c.Regime.ScalpEndHour > 24 || c.Regime.ScalpStartHour >= c.Regime.ScalpEndHour {
			errs = append(errs, errors.New("regime scalp hours must satisfy 0 <= start < end <= 24"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown regime.mode %q", c.Regime.Mode))
	}
	if !c.DryRun && (c.APIKey == "" || c.APISecret == "") {
		errs = append(errs, errors.New("API_KEY and API_SECRET are required when dry_run is false"))
	}
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}
