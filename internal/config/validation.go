package config

import (
	"fmt"
	"strings"

	"stratlab/internal/metrics"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	checks := []func() error{
		c.App.validate,
		c.Backtest.validate,
		c.Optimizer.validate,
		c.Storage.validate,
		c.Cache.validate,
		c.Market.validate,
		c.Report.validate,
		c.Usage.validate,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (a AppConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(a.LogLevel)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("app.log_level must be one of debug|info|warn|error, got %q", a.LogLevel)
	}
	switch strings.ToLower(strings.TrimSpace(a.LogFormat)) {
	case "text", "json":
		return nil
	}
	return fmt.Errorf("app.log_format must be text or json, got %q", a.LogFormat)
}

func (b BacktestConfig) validate() error {
	rate := func(name string, v float64) error {
		if v < 0 || v >= 1 {
			return fmt.Errorf("backtest.%s must be in [0,1), got %v", name, v)
		}
		return nil
	}
	if !(b.InitialCapital > 0) {
		return fmt.Errorf("backtest.initial_capital must be > 0, got %v", b.InitialCapital)
	}
	if err := rate("commission_rate", b.CommissionRate); err != nil {
		return err
	}
	if err := rate("slippage_rate", b.SlippageRate); err != nil {
		return err
	}
	if err := rate("risk_free_rate", b.RiskFreeRate); err != nil {
		return err
	}
	if !(b.PeriodsPerYear > 0) {
		return fmt.Errorf("backtest.periods_per_year must be > 0, got %v", b.PeriodsPerYear)
	}
	if b.MinBars < 2 {
		return fmt.Errorf("backtest.min_bars must be >= 2, got %d", b.MinBars)
	}
	return nil
}

func (o OptimizerConfig) validate() error {
	if !metrics.Known(o.Metric) {
		return fmt.Errorf("optimizer.metric %q is not a known metric", o.Metric)
	}
	if o.MaxIterations <= 0 {
		return fmt.Errorf("optimizer.max_iterations must be > 0")
	}
	if o.TopN <= 0 {
		return fmt.Errorf("optimizer.top_n must be > 0")
	}
	if o.Parallelism < 1 {
		return fmt.Errorf("optimizer.parallelism must be >= 1")
	}
	if o.Generations < 1 {
		return fmt.Errorf("optimizer.generations must be >= 1")
	}
	return nil
}

func (s StorageConfig) validate() error {
	if strings.TrimSpace(s.DatabasePath) == "" {
		return fmt.Errorf("storage.database_path is required")
	}
	switch s.Candles.Backend {
	case "sqlite", "parquet", "memory":
		if s.Candles.Backend != "memory" && strings.TrimSpace(s.Candles.Root) == "" {
			return fmt.Errorf("storage.candles.root is required for backend %s", s.Candles.Backend)
		}
	case "postgres":
		if strings.TrimSpace(s.Candles.PostgresDSN) == "" {
			return fmt.Errorf("storage.candles.postgres_dsn is required for backend postgres")
		}
	default:
		return fmt.Errorf("storage.candles.backend must be sqlite|parquet|postgres|memory, got %q", s.Candles.Backend)
	}
	return nil
}

func (c CacheConfig) validate() error {
	switch c.Backend {
	case "memory", "none":
	case "redis":
		if strings.TrimSpace(c.RedisAddr) == "" {
			return fmt.Errorf("cache.redis_addr is required for backend redis")
		}
	default:
		return fmt.Errorf("cache.backend must be memory|redis|none, got %q", c.Backend)
	}
	if c.TTLSeconds < 0 {
		return fmt.Errorf("cache.ttl_seconds must be >= 0")
	}
	return nil
}

func (m MarketConfig) validate() error {
	if m.RateLimitPerMin <= 0 {
		return fmt.Errorf("market.rate_limit_per_min must be > 0")
	}
	if m.MaxBatch <= 0 {
		return fmt.Errorf("market.max_batch must be > 0")
	}
	if m.MaxConcurrent <= 0 {
		return fmt.Errorf("market.max_concurrent must be > 0")
	}
	seen := make(map[string]bool, len(m.Sources))
	for _, src := range m.Sources {
		if seen[src.Name] {
			return fmt.Errorf("market.sources contains duplicate name %s", src.Name)
		}
		seen[src.Name] = true
		switch src.Name {
		case "binance":
		case "alpaca":
			if src.Enabled && (src.APIKey == "" || src.APISecret == "") {
				return fmt.Errorf("market.sources.alpaca requires api_key and api_secret")
			}
		default:
			return fmt.Errorf("market.sources: unsupported source %q", src.Name)
		}
	}
	if len(m.Sources) > 0 && !seen[m.DefaultSource] {
		return fmt.Errorf("market.default_source %q is not configured", m.DefaultSource)
	}
	return nil
}

func (r ReportConfig) validate() error {
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("report.width/height must be > 0")
	}
	if r.ChromeTimeoutSeconds <= 0 {
		return fmt.Errorf("report.chrome_timeout_seconds must be > 0")
	}
	return nil
}

func (u UsageConfig) validate() error {
	if u.PricePerKBWrite < 0 || u.PricePerKBRead < 0 || u.PricePerSecondCompute < 0 {
		return fmt.Errorf("usage prices must be >= 0")
	}
	return nil
}
