// Package logger 包装 log/slog，提供全局级别与输出格式控制以及 printf 风格的快捷函数。
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Format 是日志输出格式。
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

type state struct {
	mu     sync.RWMutex
	out    io.Writer
	format Format
	log    *slog.Logger
}

var (
	level  slog.LevelVar
	global = &state{out: os.Stdout, format: FormatText}
)

func init() {
	level.Set(slog.LevelInfo)
	global.rebuild()
}

// rebuild 需在持有写锁或初始化时调用。
func (s *state) rebuild() {
	opts := &slog.HandlerOptions{Level: &level}
	var h slog.Handler
	if s.format == FormatJSON {
		h = slog.NewJSONHandler(s.out, opts)
	} else {
		h = slog.NewTextHandler(s.out, opts)
	}
	s.log = slog.New(h)
}

// SetOutput 替换输出目标，保留当前格式。
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	global.mu.Lock()
	global.out = w
	global.rebuild()
	global.mu.Unlock()
}

// SetFormat 切换 text/json 输出，未知值按 text 处理。
func SetFormat(format string) {
	f := ParseFormat(format)
	global.mu.Lock()
	global.format = f
	global.rebuild()
	global.mu.Unlock()
}

func ParseFormat(format string) Format {
	if strings.EqualFold(strings.TrimSpace(format), string(FormatJSON)) {
		return FormatJSON
	}
	return FormatText
}

// SetLevel 设置全局日志级别，未知值回退到 info。
func SetLevel(lvl string) {
	level.Set(ParseLevel(lvl))
}

func ParseLevel(lvl string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func Enabled(lvl slog.Level) bool {
	return lvl >= level.Level()
}

// Slog 返回当前的 *slog.Logger，用于输出带字段的结构化日志。
func Slog() *slog.Logger {
	global.mu.RLock()
	defer global.mu.RUnlock()
	return global.log
}

func Debugf(format string, v ...any) { logf(slog.LevelDebug, format, v...) }
func Infof(format string, v ...any)  { logf(slog.LevelInfo, format, v...) }
func Warnf(format string, v ...any)  { logf(slog.LevelWarn, format, v...) }
func Errorf(format string, v ...any) { logf(slog.LevelError, format, v...) }

func logf(lvl slog.Level, format string, v ...any) {
	if !Enabled(lvl) {
		return
	}
	Slog().Log(context.Background(), lvl, fmt.Sprintf(format, v...))
}
