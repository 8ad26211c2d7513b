// Package config loads the agent's single immutable configuration struct.
package config

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Mode selects the top-level run mode of cmd/agent.
type Mode string

const (
	ModeRun       Mode = "run"
	ModeBacktest  Mode = "backtest"
	ModeOptimize  Mode = "optimize"
)

// BrokerConfig groups the settings needed to reach a trading venue.
type BrokerConfig struct {
	Name       string        `mapstructure:"name"`
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	APISecret  string        `mapstructure:"api_secret"`
	Paper      bool          `mapstructure:"paper"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// RiskConfig groups every limit the RiskManager enforces.
type RiskConfig struct {
	MaxPositionPct      decimal.Decimal `mapstructure:"max_position_pct"`
	MaxSectorPct        decimal.Decimal `mapstructure:"max_sector_pct"`
	MaxDailyDrawdownPct decimal.Decimal `mapstructure:"max_daily_drawdown_pct"`
	MaxTotalDrawdownPct decimal.Decimal `mapstructure:"max_total_drawdown_pct"`
	MaxConsecutiveLoss  int             `mapstructure:"max_consecutive_losses"`
	PDTGuardEnabled     bool            `mapstructure:"pdt_guard_enabled"`
}

// ThrottleConfig groups the order-rate limiter's parameters.
type ThrottleConfig struct {
	OrdersPerSecond float64 `mapstructure:"orders_per_second"`
	Burst           int     `mapstructure:"burst"`
}

// ObservabilityConfig toggles the telemetry HTTP surface.
type ObservabilityConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// AdaptiveConfig controls the adaptive re-optimization trigger loop.
type AdaptiveConfig struct {
	Enabled              bool          `mapstructure:"enabled"`
	CheckInterval        time.Duration `mapstructure:"check_interval"`
	SharpeFloor          float64       `mapstructure:"sharpe_floor"`
	DrawdownTriggerPct   decimal.Decimal `mapstructure:"drawdown_trigger_pct"`
	MinTradesForEval     int           `mapstructure:"min_trades_for_eval"`
}

// AppConfig is the single immutable configuration struct loaded once at startup.
type AppConfig struct {
	Mode          Mode
	Environment   string
	Symbols       []string
	Broker        BrokerConfig
	Risk          RiskConfig
	Throttle      ThrottleConfig
	Observability ObservabilityConfig
	Adaptive      AdaptiveConfig
	Analyst       AnalystDefaults
	DataDir       string
}

// AnalystDefaults seeds an AnalystConfig (pkg/types) before optimization overrides it.
type AnalystDefaults struct {
	StrategyMode        string
	RiskPerTradePercent decimal.Decimal
	MaxPositionSizePct  decimal.Decimal
	RiskAppetiteScore   int
}

// Load builds an AppConfig from defaults overridden by AGENT_-prefixed environment
// variables, following the teacher's viper-driven config loader: AutomaticEnv with a
// "." -> "_" key replacer, defaults set in code, no config file required.
func Load() (AppConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", string(ModeRun))
	v.SetDefault("environment", "development")
	v.SetDefault("symbols", []string{"BTC-USD", "ETH-USD"})
	v.SetDefault("data_dir", "./data")

	v.SetDefault("broker.name", "paper")
	v.SetDefault("broker.base_url", "")
	v.SetDefault("broker.paper", true)
	v.SetDefault("broker.dial_timeout", 10*time.Second)

	v.SetDefault("risk.max_position_pct", "0.20")
	v.SetDefault("risk.max_sector_pct", "0.40")
	v.SetDefault("risk.max_daily_drawdown_pct", "0.03")
	v.SetDefault("risk.max_total_drawdown_pct", "0.15")
	v.SetDefault("risk.max_consecutive_losses", 5)
	v.SetDefault("risk.pdt_guard_enabled", true)

	v.SetDefault("throttle.orders_per_second", 2.0)
	v.SetDefault("throttle.burst", 5)

	v.SetDefault("observability.enabled", true)
	v.SetDefault("observability.listen_addr", ":9090")

	v.SetDefault("adaptive.enabled", true)
	v.SetDefault("adaptive.check_interval", 6*time.Hour)
	v.SetDefault("adaptive.sharpe_floor", 0.5)
	v.SetDefault("adaptive.drawdown_trigger_pct", "0.08")
	v.SetDefault("adaptive.min_trades_for_eval", 30)

	v.SetDefault("analyst.strategy_mode", "dual_sma")
	v.SetDefault("analyst.risk_per_trade_percent", "0.01")
	v.SetDefault("analyst.max_position_size_pct", "0.20")
	v.SetDefault("analyst.risk_appetite_score", 5)

	cfg := AppConfig{
		Mode:        Mode(v.GetString("mode")),
		Environment: v.GetString("environment"),
		Symbols:     v.GetStringSlice("symbols"),
		DataDir:     v.GetString("data_dir"),
		Broker: BrokerConfig{
			Name:        v.GetString("broker.name"),
			BaseURL:     v.GetString("broker.base_url"),
			APIKey:      v.GetString("broker.api_key"),
			APISecret:   v.GetString("broker.api_secret"),
			Paper:       v.GetBool("broker.paper"),
			DialTimeout: v.GetDuration("broker.dial_timeout"),
		},
		Risk: RiskConfig{
			MaxPositionPct:      mustDecimal(v.GetString("risk.max_position_pct")),
			MaxSectorPct:        mustDecimal(v.GetString("risk.max_sector_pct")),
			MaxDailyDrawdownPct: mustDecimal(v.GetString("risk.max_daily_drawdown_pct")),
			MaxTotalDrawdownPct: mustDecimal(v.GetString("risk.max_total_drawdown_pct")),
			MaxConsecutiveLoss:  v.GetInt("risk.max_consecutive_losses"),
			PDTGuardEnabled:     v.GetBool("risk.pdt_guard_enabled"),
		},
		Throttle: ThrottleConfig{
			OrdersPerSecond: v.GetFloat64("throttle.orders_per_second"),
			Burst:           v.GetInt("throttle.burst"),
		},
		Observability: ObservabilityConfig{
			Enabled:    v.GetBool("observability.enabled"),
			ListenAddr: v.GetString("observability.listen_addr"),
		},
		Adaptive: AdaptiveConfig{
			Enabled:            v.GetBool("adaptive.enabled"),
			CheckInterval:      v.GetDuration("adaptive.check_interval"),
			SharpeFloor:        v.GetFloat64("adaptive.sharpe_floor"),
			DrawdownTriggerPct: mustDecimal(v.GetString("adaptive.drawdown_trigger_pct")),
			MinTradesForEval:   v.GetInt("adaptive.min_trades_for_eval"),
		},
		Analyst: AnalystDefaults{
			StrategyMode:        v.GetString("analyst.strategy_mode"),
			RiskPerTradePercent: mustDecimal(v.GetString("analyst.risk_per_trade_percent")),
			MaxPositionSizePct:  mustDecimal(v.GetString("analyst.max_position_size_pct")),
			RiskAppetiteScore:   v.GetInt("analyst.risk_appetite_score"),
		},
	}
	return cfg, nil
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
