package metrics

import (
	"math"
	"sort"
)

// Mean 返回算术平均，空切片为 NaN。
func Mean(v []float64) float64 {
	if len(v) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

// StdDev 计算标准差，ddof=1 为样本标准差，ddof=0 为总体标准差。
// 样本数不足时返回 NaN；所有值相同时精确返回 0。
func StdDev(v []float64, ddof int) float64 {
	n := len(v)
	if n-ddof <= 0 {
		return math.NaN()
	}
	lo, hi := v[0], v[0]
	for _, x := range v[1:] {
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	if lo == hi {
		return 0
	}
	m := Mean(v)
	ss := 0.0
	for _, x := range v {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(n-ddof))
}

// Median 返回中位数（偶数个取中间两数均值），不修改入参。
func Median(v []float64) float64 {
	if len(v) == 0 {
		return math.NaN()
	}
	s := append([]float64(nil), v...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}

// MinMax 返回最小值与最大值。
func MinMax(v []float64) (float64, float64) {
	if len(v) == 0 {
		return math.NaN(), math.NaN()
	}
	lo, hi := v[0], v[0]
	for _, x := range v[1:] {
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}
	return lo, hi
}
