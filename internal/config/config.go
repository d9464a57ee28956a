package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/rewired-gh/confluence/internal/analysis"
	"github.com/rewired-gh/confluence/internal/binance"
	"github.com/rewired-gh/confluence/internal/indicator"
	"github.com/rewired-gh/confluence/internal/logger"
	"github.com/rewired-gh/confluence/internal/monitor"
	"github.com/rewired-gh/confluence/internal/telegram"
)

// Config represents the complete application configuration
type Config struct {
	Exchange   ExchangeConfig   `mapstructure:"exchange" yaml:"exchange"`
	Monitor    MonitorConfig    `mapstructure:"monitor" yaml:"monitor"`
	Indicators IndicatorsConfig `mapstructure:"indicators" yaml:"indicators"`
	Signal     SignalConfig     `mapstructure:"signal" yaml:"signal"`
	Risk       RiskConfig       `mapstructure:"risk" yaml:"risk"`
	Telegram   TelegramConfig   `mapstructure:"telegram" yaml:"telegram"`
	Storage    StorageConfig    `mapstructure:"storage" yaml:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
}

// ExchangeConfig holds Binance market data configuration
type ExchangeConfig struct {
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url"`
	APIKey         string        `mapstructure:"api_key" yaml:"api_key"`
	APISecret      string        `mapstructure:"api_secret" yaml:"api_secret"`
	Testnet        bool          `mapstructure:"testnet" yaml:"testnet"`
	Interval       string        `mapstructure:"interval" yaml:"interval"`
	BarsLimit      int           `mapstructure:"bars_limit" yaml:"bars_limit"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base" yaml:"retry_delay_base"`
}

// MonitorConfig holds monitoring behavior configuration
type MonitorConfig struct {
	Symbols      []string      `mapstructure:"symbols" yaml:"symbols"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	Cooldown     time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
	Concurrency  int           `mapstructure:"concurrency" yaml:"concurrency"`
}

// IndicatorsConfig holds indicator windows
type IndicatorsConfig struct {
	RSIPeriod         int     `mapstructure:"rsi_period" yaml:"rsi_period"`
	EMAFast           int     `mapstructure:"ema_fast" yaml:"ema_fast"`
	EMASlow           int     `mapstructure:"ema_slow" yaml:"ema_slow"`
	EMASignal         int     `mapstructure:"ema_signal" yaml:"ema_signal"`
	BBPeriod          int     `mapstructure:"bb_period" yaml:"bb_period"`
	BBStdDev          float64 `mapstructure:"bb_std_dev" yaml:"bb_std_dev"`
	ADXPeriod         int     `mapstructure:"adx_period" yaml:"adx_period"`
	ADXTrendThreshold float64 `mapstructure:"adx_trend_threshold" yaml:"adx_trend_threshold"`
	StochK            int     `mapstructure:"stoch_k" yaml:"stoch_k"`
	StochD            int     `mapstructure:"stoch_d" yaml:"stoch_d"`
}

// SignalConfig holds confluence thresholds
type SignalConfig struct {
	RSIOversold      float64 `mapstructure:"rsi_oversold" yaml:"rsi_oversold"`
	VolumeMultiplier float64 `mapstructure:"volume_multiplier" yaml:"volume_multiplier"`
	MinConditions    int     `mapstructure:"min_conditions" yaml:"min_conditions"`
	StrongConditions int     `mapstructure:"strong_conditions" yaml:"strong_conditions"`
	SqueezeLookback  int     `mapstructure:"squeeze_lookback" yaml:"squeeze_lookback"`
}

// RiskConfig holds stop loss and take profit settings
type RiskConfig struct {
	StopLossPct    float64 `mapstructure:"stop_loss_pct" yaml:"stop_loss_pct"`
	TakeProfit1Pct float64 `mapstructure:"take_profit_1_pct" yaml:"take_profit_1_pct"`
	TakeProfit2Pct float64 `mapstructure:"take_profit_2_pct" yaml:"take_profit_2_pct"`
	MinRiskReward  float64 `mapstructure:"min_risk_reward" yaml:"min_risk_reward"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	Enabled             bool          `mapstructure:"enabled" yaml:"enabled"`
	BotToken            string        `mapstructure:"bot_token" yaml:"bot_token"`
	ChatID              string        `mapstructure:"chat_id" yaml:"chat_id"`
	Timeout             time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries          int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelayBase      time.Duration `mapstructure:"retry_delay_base" yaml:"retry_delay_base"`
	StartupNotification bool          `mapstructure:"startup_notification" yaml:"startup_notification"`
	ErrorNotifications  bool          `mapstructure:"error_notifications" yaml:"error_notifications"`
}

// StorageConfig holds signal journal configuration
type StorageConfig struct {
	DBPath     string `mapstructure:"db_path" yaml:"db_path"`
	MaxSignals int    `mapstructure:"max_signals" yaml:"max_signals"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

const envPrefix = "CONFLUENCE"

// legacyEnv maps the environment variable names of the original bot onto config keys.
var legacyEnv = map[string]string{
	"telegram.bot_token":  "TELEGRAM_TOKEN",
	"telegram.chat_id":    "CHAT_ID",
	"exchange.api_key":    "BINANCE_API_KEY",
	"exchange.api_secret": "BINANCE_API_SECRET",
	"monitor.symbols":     "SYMBOLS",
	"exchange.interval":   "INTERVAL",
}

// Interval values accepted by the Binance klines endpoint.
var validIntervals = map[string]bool{
	"1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "2h": true, "4h": true, "6h": true, "8h": true, "12h": true,
	"1d": true, "3d": true, "1w": true, "1M": true,
}

// Load reads configuration from file and environment variables.
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	return load(path, ".env")
}

func load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	// Environment overrides: CONFLUENCE_MONITOR_COOLDOWN=10m etc.
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		if err := v.BindEnv(key, envName(key), legacy); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", legacy, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// CHECK_INTERVAL is a bare number of seconds, which the duration hook rejects.
	if _, set := os.LookupEnv(envName("monitor.poll_interval")); !set {
		if raw, ok := os.LookupEnv("CHECK_INTERVAL"); ok && raw != "" {
			secs, err := strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid CHECK_INTERVAL %q: %w", raw, err)
			}
			v.Set("monitor.poll_interval", time.Duration(secs)*time.Second)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.normalize()

	return &cfg, nil
}

func envName(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// normalize trims and upper-cases symbols, dropping empties and duplicates.
func (c *Config) normalize() {
	seen := make(map[string]bool, len(c.Monitor.Symbols))
	symbols := make([]string, 0, len(c.Monitor.Symbols))
	for _, s := range c.Monitor.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		symbols = append(symbols, s)
	}
	c.Monitor.Symbols = symbols
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Exchange defaults
	v.SetDefault("exchange.base_url", "")
	v.SetDefault("exchange.api_key", "")
	v.SetDefault("exchange.api_secret", "")
	v.SetDefault("exchange.testnet", false)
	v.SetDefault("exchange.interval", "5m")
	v.SetDefault("exchange.bars_limit", 200)
	v.SetDefault("exchange.timeout", "30s")
	v.SetDefault("exchange.max_retries", 3)
	v.SetDefault("exchange.retry_delay_base", "1s")

	// Monitor defaults
	v.SetDefault("monitor.symbols", []string{"BTCUSDT", "ETHUSDT", "BNBUSDT", "ADAUSDT", "SOLUSDT"})
	v.SetDefault("monitor.poll_interval", "5m")
	v.SetDefault("monitor.cooldown", "30m")
	v.SetDefault("monitor.concurrency", 1)

	// Indicator defaults
	v.SetDefault("indicators.rsi_period", 14)
	v.SetDefault("indicators.ema_fast", 12)
	v.SetDefault("indicators.ema_slow", 26)
	v.SetDefault("indicators.ema_signal", 9)
	v.SetDefault("indicators.bb_period", 20)
	v.SetDefault("indicators.bb_std_dev", 2.0)
	v.SetDefault("indicators.adx_period", 14)
	v.SetDefault("indicators.adx_trend_threshold", 25.0)
	v.SetDefault("indicators.stoch_k", 14)
	v.SetDefault("indicators.stoch_d", 3)

	// Signal defaults
	v.SetDefault("signal.rsi_oversold", 30.0)
	v.SetDefault("signal.volume_multiplier", 1.5)
	v.SetDefault("signal.min_conditions", 3)
	v.SetDefault("signal.strong_conditions", 5)
	v.SetDefault("signal.squeeze_lookback", 5)

	// Risk defaults
	v.SetDefault("risk.stop_loss_pct", 0.02)
	v.SetDefault("risk.take_profit_1_pct", 0.03)
	v.SetDefault("risk.take_profit_2_pct", 0.06)
	v.SetDefault("risk.min_risk_reward", 1.5)

	// Telegram defaults
	v.SetDefault("telegram.enabled", true)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.timeout", "30s")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")
	v.SetDefault("telegram.startup_notification", true)
	v.SetDefault("telegram.error_notifications", true)

	// Storage defaults
	v.SetDefault("storage.db_path", ":memory:")
	v.SetDefault("storage.max_signals", 1000)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Exchange config
	if !validIntervals[c.Exchange.Interval] {
		return fmt.Errorf("exchange.interval %q is not a supported kline interval", c.Exchange.Interval)
	}
	if c.Exchange.Timeout <= 0 {
		return fmt.Errorf("exchange.timeout must be positive")
	}
	if c.Exchange.MaxRetries < 1 {
		return fmt.Errorf("exchange.max_retries must be at least 1")
	}
	if c.Exchange.RetryDelayBase <= 0 {
		return fmt.Errorf("exchange.retry_delay_base must be positive")
	}

	// Validate analysis parameters before bars_limit, which depends on them
	params := c.IndicatorParams()
	if err := params.Validate(); err != nil {
		return fmt.Errorf("indicators: %w", err)
	}
	if err := c.Thresholds().Validate(); err != nil {
		return fmt.Errorf("signal: %w", err)
	}
	if err := c.RiskParams().Validate(); err != nil {
		return fmt.Errorf("risk: %w", err)
	}
	if minBars := params.MinBars(); c.Exchange.BarsLimit < minBars || c.Exchange.BarsLimit > 1000 {
		return fmt.Errorf("exchange.bars_limit must be between %d and 1000", minBars)
	}

	// Validate Monitor config
	if len(c.Monitor.Symbols) == 0 {
		return fmt.Errorf("monitor.symbols must contain at least one symbol")
	}
	if c.Monitor.PollInterval < time.Second {
		return fmt.Errorf("monitor.poll_interval must be at least 1 second")
	}
	if c.Monitor.Cooldown < 0 {
		return fmt.Errorf("monitor.cooldown must not be negative")
	}
	if c.Monitor.Concurrency < 1 {
		return fmt.Errorf("monitor.concurrency must be at least 1")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
		if _, err := strconv.ParseInt(c.Telegram.ChatID, 10, 64); err != nil {
			return fmt.Errorf("telegram.chat_id must be numeric")
		}
		if c.Telegram.Timeout <= 0 {
			return fmt.Errorf("telegram.timeout must be positive")
		}
		if c.Telegram.MaxRetries < 1 {
			return fmt.Errorf("telegram.max_retries must be at least 1")
		}
	}

	// Validate Storage config
	if c.Storage.MaxSignals < 0 {
		return fmt.Errorf("storage.max_signals must not be negative")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// Warnings reports settings that are allowed but likely to cause trouble.
func (c *Config) Warnings() []string {
	var warnings []string
	if n := len(c.Monitor.Symbols); n > 10 {
		warnings = append(warnings, fmt.Sprintf("monitoring %d symbols may hit exchange rate limits", n))
	}
	if c.Monitor.PollInterval < time.Minute {
		warnings = append(warnings, fmt.Sprintf("poll interval %v is below 60s and may hit exchange rate limits", c.Monitor.PollInterval))
	}
	return warnings
}

// Redacted renders the configuration as YAML with secrets masked.
func (c *Config) Redacted() (string, error) {
	cp := *c
	cp.Exchange.APIKey = mask(cp.Exchange.APIKey)
	cp.Exchange.APISecret = mask(cp.Exchange.APISecret)
	cp.Telegram.BotToken = mask(cp.Telegram.BotToken)

	out, err := yaml.Marshal(&cp)
	if err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}
	return string(out), nil
}

func mask(secret string) string {
	switch {
	case secret == "":
		return ""
	case len(secret) <= 8:
		return "****"
	default:
		return "****" + secret[len(secret)-4:]
	}
}

// IndicatorParams returns the indicator windows.
func (c *Config) IndicatorParams() indicator.Params {
	return indicator.Params{
		RSIPeriod: c.Indicators.RSIPeriod,
		EMAFast:   c.Indicators.EMAFast,
		EMASlow:   c.Indicators.EMASlow,
		EMASignal: c.Indicators.EMASignal,
		BBPeriod:  c.Indicators.BBPeriod,
		BBStdDev:  c.Indicators.BBStdDev,
		ADXPeriod: c.Indicators.ADXPeriod,
		StochK:    c.Indicators.StochK,
		StochD:    c.Indicators.StochD,
	}
}

// Thresholds returns the confluence thresholds.
func (c *Config) Thresholds() analysis.Thresholds {
	return analysis.Thresholds{
		ADXTrend:         c.Indicators.ADXTrendThreshold,
		RSIOversold:      c.Signal.RSIOversold,
		VolumeMultiplier: c.Signal.VolumeMultiplier,
		MinConditions:    c.Signal.MinConditions,
		StrongConditions: c.Signal.StrongConditions,
		SqueezeLookback:  c.Signal.SqueezeLookback,
	}
}

// RiskParams returns the risk level settings.
func (c *Config) RiskParams() analysis.RiskParams {
	return analysis.RiskParams{
		StopLossPct:    c.Risk.StopLossPct,
		TakeProfit1Pct: c.Risk.TakeProfit1Pct,
		TakeProfit2Pct: c.Risk.TakeProfit2Pct,
		MinRiskReward:  c.Risk.MinRiskReward,
	}
}

// OrchestratorConfig returns the cycle orchestrator settings.
func (c *Config) OrchestratorConfig() monitor.Config {
	return monitor.Config{
		Interval:     c.Exchange.Interval,
		BarsLimit:    c.Exchange.BarsLimit,
		Cooldown:     c.Monitor.Cooldown,
		FetchTimeout: c.Exchange.Timeout,
		SendTimeout:  c.Telegram.Timeout,
		Concurrency:  c.Monitor.Concurrency,
	}
}

// BinanceConfig returns the market data client settings.
func (c *Config) BinanceConfig() binance.ClientConfig {
	return binance.ClientConfig{
		BaseURL:        c.Exchange.BaseURL,
		APIKey:         c.Exchange.APIKey,
		APISecret:      c.Exchange.APISecret,
		Testnet:        c.Exchange.Testnet,
		Timeout:        c.Exchange.Timeout,
		MaxRetries:     c.Exchange.MaxRetries,
		RetryDelayBase: c.Exchange.RetryDelayBase,
	}
}

// TelegramClientConfig returns the Telegram client settings.
func (c *Config) TelegramClientConfig() telegram.Config {
	return telegram.Config{
		BotToken:       c.Telegram.BotToken,
		ChatID:         c.Telegram.ChatID,
		Timeout:        c.Telegram.Timeout,
		MaxRetries:     c.Telegram.MaxRetries,
		RetryDelayBase: c.Telegram.RetryDelayBase,
	}
}

// LogFile returns the rotated log file settings.
func (c *Config) LogFile() logger.FileOptions {
	return logger.FileOptions{
		Path:       c.Logging.File,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAgeDays: c.Logging.MaxAgeDays,
	}
}
