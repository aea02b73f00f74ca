package strategy

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"stratlab/internal/logger"
)

// LibraryFile 是策略库 YAML 的顶层结构。
type LibraryFile struct {
	Strategies []Strategy `yaml:"strategies"`
}

var (
	prebuiltOnce sync.Once
	prebuilt     []Strategy
	prebuiltErr  error
)

// Prebuilt 返回内置策略（按定义顺序），每次返回独立副本。
func Prebuilt() ([]Strategy, error) {
	prebuiltOnce.Do(func() {
		raw, err := assets.ReadFile("assets/prebuilt.yaml")
		if err != nil {
			prebuiltErr = err
			return
		}
		prebuilt, prebuiltErr = decodeLibrary(raw)
	})
	if prebuiltErr != nil {
		return nil, prebuiltErr
	}
	out := make([]Strategy, len(prebuilt))
	for i, s := range prebuilt {
		out[i] = s.Clone()
	}
	return out, nil
}

// PrebuiltByName 按名称查找内置策略，大小写不敏感。
func PrebuiltByName(name string) (Strategy, bool) {
	all, err := Prebuilt()
	if err != nil {
		return Strategy{}, false
	}
	return findByName(all, name)
}

func findByName(list []Strategy, name string) (Strategy, bool) {
	name = strings.TrimSpace(name)
	for _, s := range list {
		if strings.EqualFold(s.Name, name) {
			return s.Clone(), true
		}
	}
	return Strategy{}, false
}

// decodeLibrary 严格解析 YAML（未知字段报错），逐条校验。
func decodeLibrary(raw []byte) ([]Strategy, error) {
	var file LibraryFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("parse strategy library failed: %w", err)
	}
	seen := map[string]bool{}
	for i := range file.Strategies {
		s := &file.Strategies[i]
		s.RiskLevel = strings.ToUpper(strings.TrimSpace(s.RiskLevel))
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("strategy %q: %w", s.Name, err)
		}
		key := strings.ToLower(s.Name)
		if seen[key] {
			return nil, fmt.Errorf("duplicate strategy name %q", s.Name)
		}
		seen[key] = true
	}
	return file.Strategies, nil
}

// Snapshot 是用户策略库的一次加载结果。
type Snapshot struct {
	Version    int64
	LoadedAt   time.Time
	Strategies []Strategy
}

// Get 按名称查找。
func (s Snapshot) Get(name string) (Strategy, bool) {
	return findByName(s.Strategies, name)
}

// ChangeListener 在策略库重载后触发。
type ChangeListener func(Snapshot)

// Library 管理用户自定义策略库文件，支持热加载。
type Library struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// OpenLibrary 读取策略库；watch 为 true 时监听文件变化并自动重载。
func OpenLibrary(path string, watch bool) (*Library, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("strategy library requires path")
	}
	l := &Library{path: path}
	if err := l.reload(); err != nil {
		return nil, err
	}
	if watch {
		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read strategy library failed: %w", err)
		}
		v.OnConfigChange(func(evt fsnotify.Event) {
			if err := l.reload(); err != nil {
				logger.Errorf("[strategy] library reload failed (%s): %v", evt.Op, err)
				return
			}
			l.notifyListeners()
		})
		v.WatchConfig()
		l.v = v
	}
	return l, nil
}

// Snapshot 返回当前策略集。
func (l *Library) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneSnapshot(l.snapshot)
}

// Get 按名称查找用户策略。
func (l *Library) Get(name string) (Strategy, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return findByName(l.snapshot.Strategies, name)
}

// Names 返回排序后的策略名。
func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.snapshot.Strategies))
	for _, s := range l.snapshot.Strategies {
		out = append(out, s.Name)
	}
	sort.Strings(out)
	return out
}

// Subscribe 注册重载回调。
func (l *Library) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

// Reload 手动触发重载。
func (l *Library) Reload() error {
	if err := l.reload(); err != nil {
		return err
	}
	l.notifyListeners()
	return nil
}

func (l *Library) reload() error {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("read strategy library failed: %w", err)
	}
	list, err := decodeLibrary(raw)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.snapshot = Snapshot{
		Version:    l.snapshot.Version + 1,
		LoadedAt:   time.Now(),
		Strategies: list,
	}
	l.mu.Unlock()
	logger.Infof("[strategy] library loaded %d strategies from %s", len(list), filepath.Base(l.path))
	return nil
}

func (l *Library) notifyListeners() {
	l.mu.RLock()
	snap := cloneSnapshot(l.snapshot)
	listeners := append([]ChangeListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer safeRecover("strategy library listener")
			cb(snap)
		}(fn)
	}
}

func cloneSnapshot(src Snapshot) Snapshot {
	dst := Snapshot{Version: src.Version, LoadedAt: src.LoadedAt, Strategies: make([]Strategy, len(src.Strategies))}
	for i, s := range src.Strategies {
		dst.Strategies[i] = s.Clone()
	}
	return dst
}

func safeRecover(tag string) {
	if r := recover(); r != nil {
		logger.Errorf("%s panic: %v", tag, r)
	}
}
