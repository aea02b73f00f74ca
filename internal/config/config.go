// Package config 读取 YAML 配置：解析 include、合并文件、叠加环境变量、填充默认值并校验。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// EnvPath 是指定配置文件路径的环境变量。
const EnvPath = "STRATLAB_CONFIG"

// DefaultPath 是未设置 STRATLAB_CONFIG 时使用的配置文件。
const DefaultPath = "configs/config.yaml"

// envBindings 把敏感或部署相关的键映射到环境变量，环境变量优先于文件。
var envBindings = map[string]string{
	"app.http_addr":                "STRATLAB_HTTP_ADDR",
	"app.log_level":                "STRATLAB_LOG_LEVEL",
	"app.log_format":               "STRATLAB_LOG_FORMAT",
	"storage.database_path":        "STRATLAB_DATABASE_PATH",
	"storage.candles.backend":      "STRATLAB_CANDLE_BACKEND",
	"storage.candles.postgres_dsn": "STRATLAB_POSTGRES_DSN",
	"cache.backend":                "STRATLAB_CACHE_BACKEND",
	"cache.redis_addr":             "STRATLAB_REDIS_ADDR",
	"cache.redis_password":         "STRATLAB_REDIS_PASSWORD",
}

// 行情源密钥写在列表里，无法通过 BindEnv 绑定，单独处理。
const (
	envAlpacaKey    = "STRATLAB_ALPACA_API_KEY"
	envAlpacaSecret = "STRATLAB_ALPACA_API_SECRET"
)

// PathFromEnv 返回配置文件路径。
func PathFromEnv() string {
	if p := strings.TrimSpace(os.Getenv(EnvPath)); p != "" {
		return p
	}
	return DefaultPath
}

// Load 读取配置文件及其 include，后出现的文件覆盖先出现的。
func Load(path string) (*Config, error) {
	files, err := includeChain(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigType("yaml")
	for _, file := range files {
		if err := mergeFile(v, file); err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", file, err)
		}
	}
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	setKeys := make(keySet)
	setKeys.collect("", v.AllSettings())
	cfg.applyDefaults(setKeys)
	cfg.Market.applySecretEnv()
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func mergeFile(v *viper.Viper, path string) error {
	tmp := viper.New()
	tmp.SetConfigFile(path)
	if err := tmp.ReadInConfig(); err != nil {
		return err
	}
	return v.MergeConfigMap(tmp.AllSettings())
}

func (m *MarketConfig) applySecretEnv() {
	key, secret := os.Getenv(envAlpacaKey), os.Getenv(envAlpacaSecret)
	if key == "" && secret == "" {
		return
	}
	for i := range m.Sources {
		if !strings.EqualFold(m.Sources[i].Name, "alpaca") {
			continue
		}
		if key != "" {
			m.Sources[i].APIKey = key
		}
		if secret != "" {
			m.Sources[i].APISecret = secret
		}
	}
}

// includeChain 返回按加载顺序排列的文件：被 include 的文件在前，入口文件在最后。
func includeChain(path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w := includeWalker{done: map[string]bool{}, active: map[string]bool{}}
	if err := w.walk(abs); err != nil {
		return nil, err
	}
	return w.order, nil
}

type includeWalker struct {
	done   map[string]bool
	active map[string]bool
	order  []string
}

func (w *includeWalker) walk(path string) error {
	path = filepath.Clean(path)
	if w.active[path] {
		return fmt.Errorf("include cycle detected: %s", path)
	}
	if w.done[path] {
		return nil
	}
	w.active[path] = true
	includes, err := readIncludes(path)
	if err != nil {
		return fmt.Errorf("parsing include failed (%s): %w", path, err)
	}
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		if err := w.walk(inc); err != nil {
			return err
		}
	}
	delete(w.active, path)
	w.done[path] = true
	w.order = append(w.order, path)
	return nil
}

func readIncludes(path string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	raw := v.Get("include")
	if raw == nil {
		return nil, nil
	}
	if _, isList := raw.([]any); !isList {
		if _, isStrings := raw.([]string); !isStrings {
			return nil, fmt.Errorf("include must be a string array")
		}
	}
	items, err := cast.ToStringSliceE(raw)
	if err != nil {
		return nil, fmt.Errorf("include only supports strings: %w", err)
	}
	out := items[:0]
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out, nil
}

// collect 把 viper 的嵌套 map 展开为点分键。
func (k keySet) collect(prefix string, node any) {
	switch val := node.(type) {
	case map[string]any:
		for key, child := range val {
			k.collect(joinKey(prefix, key), child)
		}
	case map[any]any:
		for key, child := range val {
			if s, ok := key.(string); ok {
				k.collect(joinKey(prefix, s), child)
			}
		}
	case []any:
		k.mark(prefix)
		for _, item := range val {
			k.collect(prefix, item)
		}
	default:
		k.mark(prefix)
	}
}

func joinKey(prefix, key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	if prefix == "" || key == "" {
		return prefix + key
	}
	return prefix + "." + key
}
