package infra

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"perp_exec/internal/domain"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultUserAgent identifies the client to the venue
	DefaultUserAgent = "perp-exec/1.0"
)

// Config는 애플리케이션의 모든 설정을 담습니다.
// LoadConfig로 로드된 후에 환경 변수를 통해 민감 내용을 덮어씁니다.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Exchange struct {
		RestURL   string `yaml:"rest_url"`
		WSHost    string `yaml:"ws_host"`
		APIKey    string `yaml:"api_key"`
		APISecret string `yaml:"api_secret"`
	} `yaml:"exchange"`

	Trading struct {
		Symbol          string          `yaml:"symbol"`
		PositionSizeUSD decimal.Decimal `yaml:"position_size_usd"`
		Leverage        int             `yaml:"leverage"`
		TakeProfitPct   decimal.Decimal `yaml:"take_profit_pct"`
		StopLossPct     decimal.Decimal `yaml:"stop_loss_pct"`
		LoopSleepMS     int             `yaml:"loop_sleep_ms"`
	} `yaml:"trading"`

	Execution struct {
		EntryMaxAttempts int                `yaml:"entry_max_attempts"`
		ExitMaxAttempts  int                `yaml:"exit_max_attempts"`
		DwellMS          int                `yaml:"dwell_ms"`
		FillGraceMS      int                `yaml:"fill_grace_ms"`
		SettleMS         int                `yaml:"settle_ms"`
		ExitOffsetPct    decimal.Decimal    `yaml:"exit_offset_pct"`
		MarketOffsetPct  decimal.Decimal    `yaml:"market_offset_pct"`
		QuoteWaitLimit   int                `yaml:"quote_wait_limit"`
		Symbol           *domain.SymbolSpec `yaml:"symbol_spec"`
	} `yaml:"execution"`

	Feed struct {
		ReconnectBaseMS int `yaml:"reconnect_base_ms"`
		ReconnectMaxMS  int `yaml:"reconnect_max_ms"`
		ReadyTimeoutSec int `yaml:"ready_timeout_sec"`
	} `yaml:"feed"`

	Storage struct {
		Driver string `yaml:"driver"` // sqlite, postgres
		DSN    string `yaml:"dsn"`
	} `yaml:"storage"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Profiling struct {
		ServerAddress string `yaml:"server_address"`
	} `yaml:"profiling"`

	Paper struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"paper"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// DefaultConfig returns the stock settings.
func DefaultConfig() *Config {
	var cfg Config
	cfg.App.Name = "perp-exec"
	cfg.App.Version = "1.0.0"

	cfg.Exchange.RestURL = "https://api.extended.exchange"
	cfg.Exchange.WSHost = "wss://api.extended.exchange"

	cfg.Trading.Symbol = "BTC-USD"
	cfg.Trading.PositionSizeUSD = decimal.NewFromInt(100)
	cfg.Trading.Leverage = 2
	cfg.Trading.TakeProfitPct = decimal.NewFromFloat(2.0)
	cfg.Trading.StopLossPct = decimal.NewFromFloat(-1.0)
	cfg.Trading.LoopSleepMS = 2000

	cfg.Execution.EntryMaxAttempts = 10
	cfg.Execution.ExitMaxAttempts = 20
	cfg.Execution.FillGraceMS = 1000
	cfg.Execution.SettleMS = 2000
	cfg.Execution.ExitOffsetPct = decimal.NewFromFloat(0.05)
	cfg.Execution.MarketOffsetPct = decimal.NewFromFloat(1.0)
	cfg.Execution.QuoteWaitLimit = 30

	cfg.Feed.ReconnectBaseMS = 2000
	cfg.Feed.ReconnectMaxMS = 30000
	cfg.Feed.ReadyTimeoutSec = 10

	cfg.Storage.Driver = "sqlite"
	cfg.Logging.Level = "info"
	cfg.Logging.Dir = "logs"
	return &cfg
}

// LoadConfig는 설정 파일을 읽고 파싱합니다.
// A missing file is not fatal: defaults plus environment are used.
func LoadConfig(path string) (*Config, error) {
	// .env is optional, same as the process environment it feeds
	_ = godotenv.Load()

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &domain.ConfigError{Field: path, Err: err}
		}
	case errors.Is(err, os.ErrNotExist):
		slog.Warn("Config file missing, using defaults", slog.String("path", path), slog.Any("error", domain.ErrConfigNotFound))
	default:
		return nil, err
	}

	// 4원칙: 보안 우선 - 환경 변수 오버라이드 지원
	overrideWithEnv(cfg)

	// 5원칙: 설정 유효성 검사
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if !hasPrefix(c.Exchange.RestURL, "http://") && !hasPrefix(c.Exchange.RestURL, "https://") {
		return &domain.ConfigError{Field: "exchange.rest_url", Err: fmt.Errorf("invalid REST URL: %q", c.Exchange.RestURL)}
	}
	if !hasPrefix(c.Exchange.WSHost, "ws://") && !hasPrefix(c.Exchange.WSHost, "wss://") {
		return &domain.ConfigError{Field: "exchange.ws_host", Err: fmt.Errorf("invalid WS host: %q", c.Exchange.WSHost)}
	}
	if strings.TrimSpace(c.Trading.Symbol) == "" {
		return &domain.ConfigError{Field: "trading.symbol", Err: domain.ErrInvalidSymbol}
	}
	if !c.Trading.PositionSizeUSD.IsPositive() {
		return &domain.ConfigError{Field: "trading.position_size_usd", Err: errors.New("must be positive")}
	}
	if c.Trading.Leverage < 1 {
		return &domain.ConfigError{Field: "trading.leverage", Err: errors.New("must be >= 1")}
	}
	if !c.Trading.TakeProfitPct.IsPositive() {
		return &domain.ConfigError{Field: "trading.take_profit_pct", Err: errors.New("must be positive")}
	}
	if c.Trading.StopLossPct.IsZero() {
		return &domain.ConfigError{Field: "trading.stop_loss_pct", Err: errors.New("must be non-zero")}
	}
	if c.Trading.LoopSleepMS <= 0 {
		return &domain.ConfigError{Field: "trading.loop_sleep_ms", Err: errors.New("must be positive")}
	}
	if c.Execution.EntryMaxAttempts < 1 || c.Execution.ExitMaxAttempts < 1 {
		return &domain.ConfigError{Field: "execution.max_attempts", Err: errors.New("must be >= 1")}
	}
	switch c.Storage.Driver {
	case "", "sqlite", "postgres":
	default:
		return &domain.ConfigError{Field: "storage.driver", Err: fmt.Errorf("unsupported driver %q", c.Storage.Driver)}
	}
	return nil
}

// LoopSleep is the pause between engine attempts.
func (c *Config) LoopSleep() time.Duration {
	return time.Duration(c.Trading.LoopSleepMS) * time.Millisecond
}

// Dwell is how long an order rests before it is checked. Defaults to twice the loop sleep.
func (c *Config) Dwell() time.Duration {
	if c.Execution.DwellMS > 0 {
		return time.Duration(c.Execution.DwellMS) * time.Millisecond
	}
	return 2 * c.LoopSleep()
}

// SymbolSpec returns the configured rounding rules or the ones inferred from the symbol.
func (c *Config) SymbolSpec() domain.SymbolSpec {
	if c.Execution.Symbol != nil {
		return *c.Execution.Symbol
	}
	return domain.DefaultSymbolSpec(c.Trading.Symbol)
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("X10_API_KEY"); key != "" {
		cfg.Exchange.APIKey = key
	}
	if secret := os.Getenv("X10_API_SECRET"); secret != "" {
		cfg.Exchange.APISecret = secret
	}
	if url := os.Getenv("X10_BASE_URL"); url != "" {
		cfg.Exchange.RestURL = url
	}
	if host := os.Getenv("EXTENDED_WS_HOST"); host != "" {
		cfg.Exchange.WSHost = host
	}
	if sym := os.Getenv("EXTENDED_SYMBOL"); sym != "" {
		cfg.Trading.Symbol = sym
	}
}
