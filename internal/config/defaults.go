package config

import (
	"fmt"
	"strings"
)

// 默认值常量
const (
	defaultAppEnv        = "dev"
	defaultAppLogLevel   = "info"
	defaultAppLogFormat  = "text"
	defaultAppHTTPAddr   = ":9991"
	defaultDatabasePath  = "data/stratlab.db"
	defaultCandleBackend = "sqlite"
	defaultCandleRoot    = "data/candles"
	defaultCacheBackend  = "memory"
	defaultRedisAddr     = "127.0.0.1:6379"
	defaultCacheTTL      = 3600
	defaultCachePrefix   = "stratlab"
	defaultMarketName    = "binance"
	defaultMarketREST    = "https://fapi.binance.com"
	defaultAlpacaREST    = "https://data.alpaca.markets"
	defaultRateLimit     = 480
	defaultMaxBatch      = 1000
	defaultMaxConcurrent = 2
	defaultReportDir     = "data/reports"
	defaultReportWidth   = 1280
	defaultReportHeight  = 720
	defaultChromeTimeout = 30
)

// Default 返回只包含默认值的配置。
func Default() *Config {
	var c Config
	c.applyDefaults(nil)
	return &c
}

// applyDefaults 为所有子配置应用默认值，文件中显式设置过的键保持不变。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
	c.Optimizer.applyDefaults(keys)
	c.Storage.applyDefaults(keys)
	c.Cache.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Strategies.applyDefaults(keys)
	c.Report.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		floatFieldDefault("backtest.initial_capital", &b.InitialCapital, 100000),
		floatFieldDefault("backtest.commission_rate", &b.CommissionRate, 0.001),
		floatFieldDefault("backtest.slippage_rate", &b.SlippageRate, 0.0005),
		floatFieldDefault("backtest.risk_free_rate", &b.RiskFreeRate, 0.02),
		floatFieldDefault("backtest.periods_per_year", &b.PeriodsPerYear, 252),
		intFieldDefault("backtest.min_bars", &b.MinBars, 50),
	)
}

func (o *OptimizerConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("optimizer.metric", &o.Metric, "sharpe_ratio"),
		intFieldDefault("optimizer.max_iterations", &o.MaxIterations, 50),
		intFieldDefault("optimizer.top_n", &o.TopN, 5),
		intFieldDefault("optimizer.parallelism", &o.Parallelism, 1),
		intFieldDefault("optimizer.generations", &o.Generations, 3),
		fieldDefault{
			key:   "optimizer.seed",
			need:  func() bool { return o.Seed == 0 },
			apply: func() { o.Seed = 42 },
		},
	)
}

func (s *StorageConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("storage.database_path", &s.DatabasePath, defaultDatabasePath),
		stringFieldDefault("storage.candles.backend", &s.Candles.Backend, defaultCandleBackend),
		stringFieldDefault("storage.candles.root", &s.Candles.Root, defaultCandleRoot),
	)
	s.Candles.Backend = strings.ToLower(strings.TrimSpace(s.Candles.Backend))
}

func (c *CacheConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("cache.backend", &c.Backend, defaultCacheBackend),
		stringFieldDefault("cache.redis_addr", &c.RedisAddr, defaultRedisAddr),
		stringFieldDefault("cache.prefix", &c.Prefix, defaultCachePrefix),
		intFieldDefault("cache.ttl_seconds", &c.TTLSeconds, defaultCacheTTL),
	)
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("market.rate_limit_per_min", &m.RateLimitPerMin, defaultRateLimit),
		intFieldDefault("market.max_batch", &m.MaxBatch, defaultMaxBatch),
		intFieldDefault("market.max_concurrent", &m.MaxConcurrent, defaultMaxConcurrent),
	)
	if len(m.Sources) == 0 && !keys.isSet("market.sources") {
		m.Sources = []MarketSource{{Name: defaultMarketName, Enabled: true, RESTBaseURL: defaultMarketREST}}
	}
	for i := range m.Sources {
		src := &m.Sources[i]
		src.Name = strings.ToLower(strings.TrimSpace(src.Name))
		if src.Name == "" {
			if i == 0 {
				src.Name = defaultMarketName
			} else {
				src.Name = fmt.Sprintf("market_%d", i)
			}
		}
		if src.RESTBaseURL == "" {
			switch src.Name {
			case "binance":
				src.RESTBaseURL = defaultMarketREST
			case "alpaca":
				src.RESTBaseURL = defaultAlpacaREST
			}
		}
	}
	if strings.TrimSpace(m.DefaultSource) == "" {
		m.DefaultSource = firstEnabledMarket(m.Sources)
	}
	m.DefaultSource = strings.ToLower(strings.TrimSpace(m.DefaultSource))
}

func (s *StrategiesConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys, boolFieldDefault("strategies.watch", &s.Watch, true))
}

func (r *ReportConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("report.dir", &r.Dir, defaultReportDir),
		intFieldDefault("report.width", &r.Width, defaultReportWidth),
		intFieldDefault("report.height", &r.Height, defaultReportHeight),
		intFieldDefault("report.chrome_timeout_seconds", &r.ChromeTimeoutSeconds, defaultChromeTimeout),
	)
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return strings.TrimSpace(*target) == "" },
		apply: func() { *target = def },
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target == 0 },
		apply: func() { *target = def },
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target == 0 },
		apply: func() { *target = def },
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:   key,
		apply: func() { *target = def },
	}
}

func firstEnabledMarket(sources []MarketSource) string {
	for _, src := range sources {
		if src.Enabled && src.Name != "" {
			return src.Name
		}
	}
	if len(sources) > 0 && sources[0].Name != "" {
		return sources[0].Name
	}
	return defaultMarketName
}
