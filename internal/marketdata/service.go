package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"stratlab/internal/logger"
	"stratlab/internal/market"
	"stratlab/internal/pkg/errs"
	"stratlab/internal/pkg/symbol"
)

// ServiceConfig 配置 Service。
type ServiceConfig struct {
	Store           CandleStore
	Sources         map[string]CandleSource
	DefaultExchange string
	RateLimitPerMin int
	MaxBatch        int
	MaxConcurrent   int
	// BreakerThreshold 是数据源连续失败多少次后熔断，BreakerCooldown 是熔断时长。
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// Service 负责管理补数任务、协调拉取与写库，并向回测提供 Series。
type Service struct {
	store           CandleStore
	sources         map[string]CandleSource
	defaultExchange string
	maxBatch        int

	limiter *rate.Limiter
	sem     chan struct{}

	mu   sync.RWMutex
	jobs map[string]*FetchJob
	wg   sync.WaitGroup

	baseCtx context.Context
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("candle store is required")
	}
	ratePerSec := rate.Limit(float64(cfg.RateLimitPerMin) / 60.0)
	if cfg.RateLimitPerMin <= 0 {
		ratePerSec = 8
	}
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 1000
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	svc := &Service{
		store:           cfg.Store,
		sources:         make(map[string]CandleSource),
		defaultExchange: strings.ToLower(cfg.DefaultExchange),
		maxBatch:        maxBatch,
		limiter:         rate.NewLimiter(ratePerSec, 1),
		sem:             make(chan struct{}, maxConcurrent),
		jobs:            make(map[string]*FetchJob),
		baseCtx:         context.Background(),
	}
	for k, v := range cfg.Sources {
		if v != nil {
			svc.sources[strings.ToLower(k)] = guard(v, cfg.BreakerThreshold, cfg.BreakerCooldown)
		}
	}
	if _, ok := svc.sources[svc.defaultExchange]; !ok {
		names := svc.SourceNames()
		svc.defaultExchange = ""
		if len(names) > 0 {
			svc.defaultExchange = names[0]
		}
	}
	return svc, nil
}

// SetContext 注入宿主 ctx，用于任务取消。
func (s *Service) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *Service) ctx() context.Context {
	if s.baseCtx == nil {
		return context.Background()
	}
	return s.baseCtx
}

// SourceNames 返回已注册数据源，按名称排序。
func (s *Service) SourceNames() []string {
	out := make([]string, 0, len(s.sources))
	for k := range s.sources {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Store 返回底层 K 线存储。
func (s *Service) Store() CandleStore { return s.store }

// SubmitFetch 提交拉取任务；若区间已完整只做一致性检查。
func (s *Service) SubmitFetch(params FetchParams) (FetchJob, error) {
	params.Symbol = symbol.Key(params.Symbol)
	if params.Symbol == "" {
		return FetchJob{}, fmt.Errorf("symbol is required")
	}
	tf, err := ParseTimeframe(params.Timeframe)
	if err != nil {
		return FetchJob{}, err
	}
	params.Timeframe = tf.Key
	exchange := strings.ToLower(params.Exchange)
	if exchange == "" {
		exchange = s.defaultExchange
	}
	src := s.sources[exchange]
	if src == nil {
		return FetchJob{}, fmt.Errorf("unknown candle source %q", params.Exchange)
	}
	params.Exchange = exchange
	start, end := tf.AlignRange(params.Start, params.End)
	if start == end {
		return FetchJob{}, fmt.Errorf("start and end must span at least one %s candle", tf.Key)
	}
	params.Start = start
	params.End = end

	report, err := CheckIntegrity(s.ctx(), s.store, params.Symbol, params.Timeframe, tf, start, end)
	if err != nil {
		return FetchJob{}, err
	}
	total := report.Expected
	now := time.Now()
	job := &FetchJob{
		ID:        uuid.NewString(),
		Status:    JobStatusPending,
		Params:    params,
		Total:     total,
		Completed: min(report.Present, total),
		StartedAt: now,
		UpdatedAt: now,
		Missing:   append([]Gap{}, report.Gaps...),
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	logger.Infof("[market] job %s submitted: %s %s [%d,%d] expected=%d gaps=%d",
		job.ID, params.Symbol, params.Timeframe, params.Start, params.End, total, len(report.Gaps))

	if total == 0 || report.Complete() {
		s.setJobStatus(job.ID, JobStatusDone, "data already complete", report.Gaps)
		snap, _ := s.JobSnapshot(job.ID)
		return snap, nil
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runJob(job.ID, tf, report, src)
	}()
	snap, _ := s.JobSnapshot(job.ID)
	return snap, nil
}

// Wait 阻塞直到所有已提交任务结束。
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) runJob(jobID string, tf Timeframe, report IntegrityReport, source CandleSource) {
	select {
	case s.sem <- struct{}{}:
	case <-s.ctx().Done():
		s.setJobStatus(jobID, JobStatusFailed, "service stopped", nil)
		return
	}
	defer func() { <-s.sem }()

	job, ok := s.JobSnapshot(jobID)
	if !ok {
		return
	}
	logger.Infof("[market] job %s started, gaps=%d", jobID, len(report.Gaps))
	s.updateJob(jobID, func(j *FetchJob) {
		j.Status = JobStatusRunning
		j.Message = ""
	})

	params := job.Params
	ctx := s.ctx()
	step := tf.StepMillis()
	var warnings []string

	for _, gap := range report.Gaps {
		cursor := gap.From
		for cursor <= gap.To {
			if err := ctx.Err(); err != nil {
				s.setJobStatus(jobID, JobStatusFailed, err.Error(), nil)
				return
			}
			if err := s.limiter.Wait(ctx); err != nil {
				s.setJobStatus(jobID, JobStatusFailed, err.Error(), nil)
				return
			}
			remaining := int((gap.To-cursor)/step) + 1
			if remaining > s.maxBatch {
				remaining = s.maxBatch
			}
			data, err := source.Fetch(ctx, FetchRequest{
				Symbol:   params.Symbol,
				Interval: tf.SourceInterval,
				Start:    cursor,
				End:      gap.To + step - 1,
				Limit:    remaining,
			})
			if err != nil {
				s.setJobStatus(jobID, JobStatusFailed, fmt.Sprintf("%s fetch failed: %v", source.Name(), err), nil)
				return
			}
			data = clip(data, cursor, gap.To)
			if len(data) == 0 {
				warnings = append(warnings, fmt.Sprintf("range [%d,%d] returned no candles", cursor, gap.To))
				break
			}
			inserted, err := s.store.InsertCandles(ctx, params.Symbol, params.Timeframe, data)
			if err != nil {
				s.setJobStatus(jobID, JobStatusFailed, fmt.Sprintf("store write failed: %v", err), nil)
				return
			}
			cursor = data[len(data)-1].OpenTime + step
			s.updateJob(jobID, func(j *FetchJob) {
				j.Completed = min(j.Completed+int64(inserted), j.Total)
				j.UpdatedAt = time.Now()
				if warnings != nil {
					j.Warnings = append([]string{}, warnings...)
				}
			})
		}
	}

	final, err := CheckIntegrity(ctx, s.store, params.Symbol, params.Timeframe, tf, params.Start, params.End)
	status, message := JobStatusDone, "fetch complete"
	if err != nil {
		status = JobStatusFailed
		message = "integrity check failed: " + err.Error()
	} else if !final.Complete() {
		status = JobStatusPartial
		message = "finished with gaps"
	}
	s.updateJob(jobID, func(j *FetchJob) {
		j.Status = status
		j.Message = message
		j.Missing = append([]Gap{}, final.Gaps...)
		if err == nil {
			j.Completed = final.Present
		}
		j.UpdatedAt = time.Now()
		if len(warnings) > 0 {
			j.Warnings = append([]string{}, warnings...)
		}
	})
	logger.Infof("[market] job %s finished: status=%s gaps=%d", jobID, status, len(final.Gaps))
}

// clip 去掉数据源返回的区间外 K 线。
func clip(list []market.Candle, from, to int64) []market.Candle {
	out := list[:0:0]
	for _, c := range list {
		if c.OpenTime >= from && c.OpenTime <= to {
			out = append(out, c)
		}
	}
	return out
}

func (s *Service) setJobStatus(jobID, status, message string, gaps []Gap) {
	s.updateJob(jobID, func(j *FetchJob) {
		j.Status = status
		j.Message = message
		j.Missing = append([]Gap{}, gaps...)
		j.UpdatedAt = time.Now()
	})
	if status == JobStatusFailed {
		logger.Warnf("[market] job %s failed: %s", jobID, message)
	}
}

func (s *Service) updateJob(id string, fn func(*FetchJob)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok && fn != nil {
		fn(job)
	}
}

// JobSnapshot 返回任务副本。
func (s *Service) JobSnapshot(id string) (FetchJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return FetchJob{}, false
	}
	return job.copy(), true
}

// JobsSnapshot 返回所有任务的拷贝，按提交时间升序。
func (s *Service) JobsSnapshot() []FetchJob {
	s.mu.RLock()
	out := make([]FetchJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.copy())
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// ManifestInfo 读取本地 manifest。
func (s *Service) ManifestInfo(ctx context.Context, code, timeframe string) (Manifest, error) {
	if code == "" || timeframe == "" {
		return Manifest{}, errors.New("symbol/timeframe is required")
	}
	return s.store.Manifest(ctx, symbol.Key(code), timeframe)
}

// QueryCandles 读取指定区间 K 线。
func (s *Service) QueryCandles(ctx context.Context, code, timeframe string, start, end int64, limit int) ([]market.Candle, error) {
	if code == "" || timeframe == "" {
		return nil, errors.New("symbol/timeframe is required")
	}
	return s.store.QueryCandles(ctx, symbol.Key(code), timeframe, start, end, limit)
}

// LoadSeries 把本地 K 线区间转换为回测使用的 Series。start/end 为 0 时取全部数据。
func (s *Service) LoadSeries(ctx context.Context, code, timeframe string, start, end int64) (market.Series, error) {
	tf, err := ParseTimeframe(timeframe)
	if err != nil {
		return market.Series{}, err
	}
	sym := symbol.Key(code)
	if start == 0 && end == 0 {
		m, err := s.store.Manifest(ctx, sym, tf.Key)
		if err != nil {
			return market.Series{}, err
		}
		if m.Rows == 0 {
			return market.Series{}, fmt.Errorf("%w: no candles stored for %s@%s", errs.ErrNotFound, sym, tf.Key)
		}
		start, end = m.MinTime, m.MaxTime
	}
	if end == 0 {
		end = time.Now().UnixMilli()
	}
	candles, err := s.store.RangeCandles(ctx, sym, tf.Key, start, end)
	if err != nil {
		return market.Series{}, err
	}
	if len(candles) == 0 {
		return market.Series{}, fmt.Errorf("%w: no candles stored for %s@%s in [%d,%d]", errs.ErrNotFound, sym, tf.Key, start, end)
	}
	return market.FromCandles(sym, tf.Key, candles)
}
