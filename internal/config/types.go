package config

import (
	"strings"
	"time"
)

// Config 是 stratlab 的主配置。
type Config struct {
	App        AppConfig        `toml:"app"`
	Backtest   BacktestConfig   `toml:"backtest"`
	Optimizer  OptimizerConfig  `toml:"optimizer"`
	Storage    StorageConfig    `toml:"storage"`
	Cache      CacheConfig      `toml:"cache"`
	Market     MarketConfig     `toml:"market"`
	Strategies StrategiesConfig `toml:"strategies"`
	Report     ReportConfig     `toml:"report"`
	Usage      UsageConfig      `toml:"usage"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	HTTPAddr  string `toml:"http_addr"`
	LogPath   string `toml:"log_path"`
}

// BacktestConfig 是回测引擎的默认参数。
type BacktestConfig struct {
	InitialCapital float64 `toml:"initial_capital"`
	CommissionRate float64 `toml:"commission_rate"`
	SlippageRate   float64 `toml:"slippage_rate"`
	RiskFreeRate   float64 `toml:"risk_free_rate"`
	PeriodsPerYear float64 `toml:"periods_per_year"`
	MinBars        int     `toml:"min_bars"`
}

type OptimizerConfig struct {
	Metric        string `toml:"metric"`
	MaxIterations int    `toml:"max_iterations"`
	TopN          int    `toml:"top_n"`
	Seed          int64  `toml:"seed"`
	Parallelism   int    `toml:"parallelism"`
	Generations   int    `toml:"generations"`
}

type StorageConfig struct {
	DatabasePath string        `toml:"database_path"`
	CSVRoot      string        `toml:"csv_root"`
	Candles      CandlesConfig `toml:"candles"`
}

// CandlesConfig 选择 K 线存储后端。
type CandlesConfig struct {
	Backend     string `toml:"backend"`
	Root        string `toml:"root"`
	PostgresDSN string `toml:"postgres_dsn"`
}

type CacheConfig struct {
	Backend       string `toml:"backend"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	TTLSeconds    int    `toml:"ttl_seconds"`
	Prefix        string `toml:"prefix"`
}

// TTL 返回缓存有效期。
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

type MarketConfig struct {
	DefaultSource   string         `toml:"default_source"`
	Sources         []MarketSource `toml:"sources"`
	RateLimitPerMin int            `toml:"rate_limit_per_min"`
	MaxBatch        int            `toml:"max_batch"`
	MaxConcurrent   int            `toml:"max_concurrent"`
}

type MarketSource struct {
	Name        string `toml:"name"`
	Enabled     bool   `toml:"enabled"`
	RESTBaseURL string `toml:"rest_base_url"`
	APIKey      string `toml:"api_key"`
	APISecret   string `toml:"api_secret"`
}

// EnabledSources 返回启用的行情源。
func (m MarketConfig) EnabledSources() []MarketSource {
	out := make([]MarketSource, 0, len(m.Sources))
	for _, src := range m.Sources {
		if src.Enabled && strings.TrimSpace(src.Name) != "" {
			out = append(out, src)
		}
	}
	return out
}

type StrategiesConfig struct {
	LibraryPath string `toml:"library_path"`
	Watch       bool   `toml:"watch"`
}

type ReportConfig struct {
	Dir                  string `toml:"dir"`
	PNG                  bool   `toml:"png"`
	Width                int    `toml:"width"`
	Height               int    `toml:"height"`
	ChromeTimeoutSeconds int    `toml:"chrome_timeout_seconds"`
}

type UsageConfig struct {
	PricePerKBWrite       float64 `toml:"price_per_kb_write"`
	PricePerKBRead        float64 `toml:"price_per_kb_read"`
	PricePerSecondCompute float64 `toml:"price_per_second_compute"`
}

// keySet 记录配置文件中显式出现过的键（小写、点分）。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	_, ok := k[strings.ToLower(strings.TrimSpace(path))]
	return ok
}
