package app

import (
	"fmt"
	"io"
	"os"
	"strings"

	brcfg "stratlab/internal/config"
	"stratlab/internal/strategy"
)

type StartupSummary struct {
	HTTPAddr   string
	Database   string
	Candles    CandleSummary
	Cache      string
	Sources    []string
	Default    string
	Prebuilt   []string
	Library    []string
	ReportDir  string
	ReportPNG  bool
	Optimizer  brcfg.OptimizerConfig
	InitialCap float64
}

type CandleSummary struct {
	Backend string
	Root    string
}

func newStartupSummary(cfg *brcfg.Config, stack *MarketStack, lib *strategy.Library) *StartupSummary {
	s := &StartupSummary{
		HTTPAddr:   cfg.App.HTTPAddr,
		Database:   cfg.Storage.DatabasePath,
		Candles:    CandleSummary{Backend: cfg.Storage.Candles.Backend, Root: cfg.Storage.Candles.Root},
		Cache:      cfg.Cache.Backend,
		Default:    cfg.Market.DefaultSource,
		ReportDir:  cfg.Report.Dir,
		ReportPNG:  cfg.Report.PNG,
		Optimizer:  cfg.Optimizer,
		InitialCap: cfg.Backtest.InitialCapital,
	}
	if stack != nil {
		s.Sources = stack.Sources
	}
	if builtin, err := strategy.Prebuilt(); err == nil {
		for _, st := range builtin {
			s.Prebuilt = append(s.Prebuilt, st.Name)
		}
	}
	if lib != nil {
		s.Library = lib.Names()
	}
	return s
}

func (s *StartupSummary) Print() {
	s.Fprint(os.Stdout)
}

// Fprint 输出启动摘要。
func (s *StartupSummary) Fprint(w io.Writer) {
	title := "启动配置摘要 (STARTUP SUMMARY)"
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "%*s\n", 40+len(title)/2, title)
	fmt.Fprintln(w, strings.Repeat("=", 80))

	fmt.Fprintln(w, "[服务 (SERVICE)]")
	fmt.Fprintf(w, "  HTTP 地址: %s\n", s.HTTPAddr)
	fmt.Fprintf(w, "  数据库: %s\n", s.Database)
	fmt.Fprintf(w, "  缓存: %s\n", s.Cache)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[K线数据 (CANDLES)]")
	fmt.Fprintf(w, "  存储后端: %s (%s)\n", s.Candles.Backend, s.Candles.Root)
	fmt.Fprintf(w, "  行情源: %s\n", formatList(s.Sources))
	fmt.Fprintf(w, "  默认源: %s\n", orDash(s.Default))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[策略 (STRATEGIES)]")
	fmt.Fprintf(w, "  内置: %s\n", formatList(s.Prebuilt))
	fmt.Fprintf(w, "  策略库: %s\n", formatList(s.Library))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[回测与优化 (BACKTEST & OPTIMIZER)]")
	fmt.Fprintf(w, "  初始资金: %.2f\n", s.InitialCap)
	fmt.Fprintf(w, "  优化指标: %s  最大组合: %d  TopN: %d  并行: %d  代数: %d\n",
		s.Optimizer.Metric, s.Optimizer.MaxIterations, s.Optimizer.TopN, s.Optimizer.Parallelism, s.Optimizer.Generations)
	png := "off"
	if s.ReportPNG {
		png = "on"
	}
	fmt.Fprintf(w, "  报告目录: %s (png %s)\n", s.ReportDir, png)
	fmt.Fprintln(w, strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
