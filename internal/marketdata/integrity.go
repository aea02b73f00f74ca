package marketdata

import (
	"context"
	"sort"
)

// Gap 是缺失的闭区间 [From, To]（开盘时间，Unix ms）。
type Gap struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// IntegrityReport 描述区间内 K 线的完整度。
type IntegrityReport struct {
	Expected int64 `json:"expected"`
	Present  int64 `json:"present"`
	Gaps     []Gap `json:"gaps"`
}

func (r IntegrityReport) Complete() bool {
	return len(r.Gaps) == 0
}

// CheckIntegrity 把已有的开盘时间与周期网格对比，返回缺口。start/end 需已对齐。
func CheckIntegrity(ctx context.Context, store CandleStore, symbol, timeframe string, tf Timeframe, start, end int64) (IntegrityReport, error) {
	times, err := store.LoadOpenTimes(ctx, symbol, timeframe, start, end)
	if err != nil {
		return IntegrityReport{}, err
	}
	return findGaps(times, tf.StepMillis(), start, end), nil
}

func findGaps(times []int64, step, start, end int64) IntegrityReport {
	report := IntegrityReport{}
	if step <= 0 || end < start {
		return report
	}
	report.Expected = (end-start)/step + 1
	present := make(map[int64]struct{}, len(times))
	for _, t := range times {
		if t >= start && t <= end && (t-start)%step == 0 {
			present[t] = struct{}{}
		}
	}
	report.Present = int64(len(present))
	sorted := make([]int64, 0, len(present))
	for t := range present {
		sorted = append(sorted, t)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	cursor := start
	for _, t := range sorted {
		if t > cursor {
			report.Gaps = append(report.Gaps, Gap{From: cursor, To: t - step})
		}
		cursor = t + step
	}
	if cursor <= end {
		report.Gaps = append(report.Gaps, Gap{From: cursor, To: end})
	}
	return report
}
