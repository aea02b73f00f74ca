// stratlab-backtest 在本地 CSV 或已入库 K 线上运行单次回测、参数优化或多代演化，结果以 JSON 输出。
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"stratlab/internal/backtest"
	"stratlab/internal/config"
	"stratlab/internal/kvstore"
	"stratlab/internal/logger"
	"stratlab/internal/marketdata"
	"stratlab/internal/optimizer"
	"stratlab/internal/report"
	"stratlab/internal/runner"
	"stratlab/internal/store/gormstore"
)

type options struct {
	mode         string
	configPath   string
	strategyName string
	strategyFile string
	csvPath      string
	symbol       string
	interval     string
	metric       string
	iterations   int
	topN         int
	seed         int64
	generations  int
	parallelism  int
	reportDir    string
	save         bool
	logLevel     string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("stratlab-backtest", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.mode, "mode", "backtest", "backtest | optimize | evolve")
	fs.StringVar(&o.configPath, "config", "", "配置文件，留空使用默认参数")
	fs.StringVar(&o.strategyName, "strategy", "", "内置或策略库中的策略名")
	fs.StringVar(&o.strategyFile, "strategy-file", "", "JSON 策略文档")
	fs.StringVar(&o.csvPath, "csv", "", "OHLCV CSV 文件")
	fs.StringVar(&o.symbol, "symbol", "", "从本地 K 线存储读取的交易对")
	fs.StringVar(&o.interval, "interval", "1h", "K 线周期")
	fs.StringVar(&o.metric, "metric", "", "优化指标")
	fs.IntVar(&o.iterations, "iterations", 0, "最多评估的参数组合数")
	fs.IntVar(&o.topN, "top", 0, "保留的最优组合数")
	fs.Int64Var(&o.seed, "seed", -1, "抽样随机种子，负数使用配置值")
	fs.IntVar(&o.generations, "generations", 0, "演化代数")
	fs.IntVar(&o.parallelism, "parallel", 0, "并行回测数")
	fs.StringVar(&o.reportDir, "report", "", "写出 HTML 报告的目录")
	fs.BoolVar(&o.save, "save", false, "结果写入配置中的数据库")
	fs.StringVar(&o.logLevel, "log-level", "warn", "日志级别")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	o.mode = strings.ToLower(strings.TrimSpace(o.mode))
	switch o.mode {
	case "backtest", "optimize", "evolve":
	default:
		return o, fmt.Errorf("unknown mode %q", o.mode)
	}
	if (o.strategyName == "") == (o.strategyFile == "") {
		return o, fmt.Errorf("exactly one of -strategy or -strategy-file is required")
	}
	if (o.csvPath == "") == (o.symbol == "") {
		return o, fmt.Errorf("exactly one of -csv or -symbol is required")
	}
	return o, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	logger.SetOutput(stderr)
	logger.SetLevel(o.logLevel)

	cfg := config.Default()
	if o.configPath != "" {
		if cfg, err = config.Load(o.configPath); err != nil {
			return err
		}
	}

	rcfg := runner.Config{
		Settings: backtest.Settings{
			InitialCapital: cfg.Backtest.InitialCapital,
			CommissionRate: cfg.Backtest.CommissionRate,
			SlippageRate:   cfg.Backtest.SlippageRate,
			RiskFreeRate:   cfg.Backtest.RiskFreeRate,
			PeriodsPerYear: cfg.Backtest.PeriodsPerYear,
			MinBars:        cfg.Backtest.MinBars,
		},
		Optimizer: optimizer.Options{
			Metric:        cfg.Optimizer.Metric,
			MaxIterations: cfg.Optimizer.MaxIterations,
			TopN:          cfg.Optimizer.TopN,
			Seed:          cfg.Optimizer.Seed,
			Parallelism:   cfg.Optimizer.Parallelism,
		},
		Generations: cfg.Optimizer.Generations,
		Cache:       kvstore.NewMemory(""),
		LocalFiles:  true,
	}
	if o.reportDir != "" {
		rcfg.Reports = report.NewRenderer(report.Options{
			Dir:           o.reportDir,
			PNG:           cfg.Report.PNG,
			Width:         cfg.Report.Width,
			Height:        cfg.Report.Height,
			ChromeTimeout: time.Duration(cfg.Report.ChromeTimeoutSeconds) * time.Second,
		})
	}
	if o.save {
		store, err := gormstore.NewGormStore(cfg.Storage.DatabasePath)
		if err != nil {
			return err
		}
		defer store.Close()
		rcfg.Store = store
	}
	if o.symbol != "" {
		candles, err := marketdata.OpenStore(ctx, marketdata.StoreConfig{
			Backend:     cfg.Storage.Candles.Backend,
			Root:        cfg.Storage.Candles.Root,
			PostgresDSN: cfg.Storage.Candles.PostgresDSN,
		})
		if err != nil {
			return err
		}
		defer candles.Close()
		if rcfg.Market, err = marketdata.NewService(marketdata.ServiceConfig{Store: candles}); err != nil {
			return err
		}
	}
	r, err := runner.New(rcfg)
	if err != nil {
		return err
	}

	ref := runner.StrategyRef{Name: o.strategyName}
	if o.strategyFile != "" {
		raw, err := os.ReadFile(o.strategyFile)
		if err != nil {
			return err
		}
		ref = runner.StrategyRef{Document: raw}
	}
	data := runner.SeriesRef{CSVPath: o.csvPath, Symbol: o.symbol, Interval: o.interval}

	var out any
	switch o.mode {
	case "backtest":
		res, err := r.Backtest(ctx, runner.BacktestRequest{
			StrategyRef: ref,
			Data:        data,
			Save:        o.save,
			Report:      o.reportDir != "",
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(stderr, report.Summary(res.Strategy, res.Result))
		out = res
	case "optimize", "evolve":
		req := runner.OptimizeRequest{
			StrategyRef: ref,
			Data:        data,
			OptimizeOverride: runner.OptimizeOverride{
				Metric:        o.metric,
				MaxIterations: o.iterations,
				TopN:          o.topN,
				Parallelism:   o.parallelism,
			},
			Generations: o.generations,
		}
		if o.seed >= 0 {
			req.Seed = &o.seed
		}
		if o.mode == "optimize" {
			out, err = r.Optimize(ctx, req)
		} else {
			out, err = r.Evolve(ctx, req)
		}
		if err != nil {
			return err
		}
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
