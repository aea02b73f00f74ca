package optimizer

import (
	"math"
	"math/rand"

	"stratlab/internal/strategy"
)

// floydThreshold 以上的网格不再展开整表排列，改用 Floyd 抽样。
const floydThreshold = 1 << 20

// Values 展开一个参数的取值：count = ceil((max+step-min)/step)，values[i] = min+i*step。
func Values(p strategy.Param) []float64 {
	if !(p.Step > 0) || p.Max < p.Min {
		return nil
	}
	count := int(math.Ceil((p.Max+p.Step-p.Min)/p.Step - 1e-9))
	if count < 1 {
		count = 1
	}
	out := make([]float64, count)
	for i := range out {
		out[i] = tidy(p.Min + float64(i)*p.Step)
	}
	return out
}

// tidy 去掉累加步长带来的浮点尾差，整数值保持为整数。
func tidy(v float64) float64 {
	r := math.Round(v*1e9) / 1e9
	if math.Abs(r-math.Round(r)) < 1e-9 {
		return math.Round(r)
	}
	return r
}

// Grid 是按参数名排序的笛卡尔积，最后一个参数变化最快。
type Grid struct {
	Names  []string
	Values [][]float64
	total  int
}

// NewGrid 根据参数空间构造网格。
func NewGrid(space map[string]strategy.Param) Grid {
	g := Grid{Names: strategy.ParamNames(space), total: 1}
	g.Values = make([][]float64, len(g.Names))
	for i, name := range g.Names {
		g.Values[i] = Values(space[name])
		g.total = mulSaturating(g.total, len(g.Values[i]))
	}
	if len(g.Names) == 0 {
		g.total = 0
	}
	return g
}

// Total 是组合总数，超出 int 范围时饱和。
func (g Grid) Total() int { return g.total }

// At 按混合进制解码第 idx 个组合。
func (g Grid) At(idx int) map[string]float64 {
	out := make(map[string]float64, len(g.Names))
	for i := len(g.Names) - 1; i >= 0; i-- {
		n := len(g.Values[i])
		out[g.Names[i]] = g.Values[i][idx%n]
		idx /= n
	}
	return out
}

// Indices 返回需要评估的组合下标。总数不超过 limit 时按顺序全部返回，
// 否则用 seed 做无放回均匀抽样，结果顺序即抽样顺序。
func (g Grid) Indices(limit int, seed int64) []int {
	total := g.total
	if total <= limit || limit <= 0 {
		out := make([]int, total)
		for i := range out {
			out[i] = i
		}
		return out
	}
	rng := rand.New(rand.NewSource(seed))
	if total <= floydThreshold {
		return rng.Perm(total)[:limit]
	}
	chosen := make(map[int]struct{}, limit)
	out := make([]int, 0, limit)
	for j := total - limit; j < total; j++ {
		v := rng.Intn(j + 1)
		if _, dup := chosen[v]; dup {
			v = j
		}
		chosen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func mulSaturating(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	if a > math.MaxInt/b {
		return math.MaxInt
	}
	return a * b
}
