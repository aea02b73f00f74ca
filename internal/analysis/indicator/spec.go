package indicator

import (
	"fmt"
	"strings"

	"stratlab/internal/pkg/errs"
)

// Kind 是指标类型。
type Kind string

const (
	KindSMA       Kind = "SMA"
	KindEMA       Kind = "EMA"
	KindRSI       Kind = "RSI"
	KindMACD      Kind = "MACD"
	KindBollinger Kind = "BOLLINGER"
)

// 默认参数，与常见行情软件一致。
const (
	DefaultPeriod       = 20
	DefaultRSIPeriod    = 14
	DefaultFastPeriod   = 12
	DefaultSlowPeriod   = 26
	DefaultSignalPeriod = 9
	DefaultNumStd       = 2.0
	DefaultColumn       = "Close"
)

// Spec 描述一个需要计算的指标。
type Spec struct {
	Type         string   `json:"type" yaml:"type"`
	Period       int      `json:"period,omitempty" yaml:"period,omitempty"`
	Column       string   `json:"column,omitempty" yaml:"column,omitempty"`
	FastPeriod   int      `json:"fast_period,omitempty" yaml:"fast_period,omitempty"`
	SlowPeriod   int      `json:"slow_period,omitempty" yaml:"slow_period,omitempty"`
	SignalPeriod int      `json:"signal_period,omitempty" yaml:"signal_period,omitempty"`
	NumStd       *float64 `json:"num_std,omitempty" yaml:"num_std,omitempty"`
	Name         string   `json:"name,omitempty" yaml:"name,omitempty"`
}

// Kind 返回标准化类型，BB 视为 BOLLINGER；未知类型返回 false。
func (s Spec) Kind() (Kind, bool) {
	switch strings.ToUpper(strings.TrimSpace(s.Type)) {
	case "SMA":
		return KindSMA, true
	case "EMA":
		return KindEMA, true
	case "RSI":
		return KindRSI, true
	case "MACD":
		return KindMACD, true
	case "BOLLINGER", "BB":
		return KindBollinger, true
	default:
		return "", false
	}
}

// Std 返回布林带宽度倍数，未设置时为 DefaultNumStd；显式的 0 保留。
func (s Spec) Std() float64 {
	if s.NumStd == nil {
		return DefaultNumStd
	}
	return *s.NumStd
}

// Normalized 填充缺省参数。
func (s Spec) Normalized() Spec {
	if strings.TrimSpace(s.Column) == "" {
		s.Column = DefaultColumn
	}
	kind, _ := s.Kind()
	if s.Period == 0 {
		s.Period = DefaultPeriod
		if kind == KindRSI {
			s.Period = DefaultRSIPeriod
		}
	}
	switch kind {
	case KindMACD:
		if s.FastPeriod == 0 {
			s.FastPeriod = DefaultFastPeriod
		}
		if s.SlowPeriod == 0 {
			s.SlowPeriod = DefaultSlowPeriod
		}
		if s.SignalPeriod == 0 {
			s.SignalPeriod = DefaultSignalPeriod
		}
	case KindBollinger:
		if s.NumStd == nil {
			std := DefaultNumStd
			s.NumStd = &std
		}
	}
	return s
}

// Columns 返回该指标写入的列名。
func (s Spec) Columns() []string {
	s = s.Normalized()
	kind, ok := s.Kind()
	if !ok {
		return nil
	}
	name := strings.TrimSpace(s.Name)
	switch kind {
	case KindMACD:
		prefix := "MACD"
		if name != "" {
			prefix = name
		}
		return []string{prefix + "_Line", prefix + "_Signal", prefix + "_Histogram"}
	case KindBollinger:
		prefix := "BB"
		if name != "" {
			prefix = name
		}
		return []string{prefix + "_Upper", prefix + "_Middle", prefix + "_Lower"}
	default:
		if name != "" {
			return []string{name}
		}
		return []string{fmt.Sprintf("%s_%d", kind, s.Period)}
	}
}

// Compute 对 source 计算指标，返回与 Columns 顺序一致的序列。
func Compute(spec Spec, source []float64) ([][]float64, error) {
	spec = spec.Normalized()
	kind, ok := spec.Kind()
	if !ok {
		return nil, errs.InvalidStrategy("unknown indicator type", spec.Type)
	}
	switch kind {
	case KindSMA:
		out, err := SMA(source, spec.Period)
		return [][]float64{out}, err
	case KindEMA:
		out, err := EMA(source, spec.Period)
		return [][]float64{out}, err
	case KindRSI:
		out, err := RSI(source, spec.Period)
		return [][]float64{out}, err
	case KindMACD:
		res, err := MACD(source, spec.FastPeriod, spec.SlowPeriod, spec.SignalPeriod)
		if err != nil {
			return nil, err
		}
		return [][]float64{res.Line, res.Signal, res.Histogram}, nil
	default:
		res, err := Bollinger(source, spec.Period, spec.Std())
		if err != nil {
			return nil, err
		}
		return [][]float64{res.Upper, res.Middle, res.Lower}, nil
	}
}
