package backtest

// 持仓状态。
const (
	Flat = 0
	Long = 1
)

// Positions 按时间顺序逐根扫描入场/出场信号，得到 0/1 持仓序列。
// 空仓时入场优先，持仓时出场优先。首根同样参与扫描，但其持仓变化不计成本。
func Positions(entry, exit []bool) []int {
	n := len(entry)
	if len(exit) < n {
		n = len(exit)
	}
	out := make([]int, n)
	state := Flat
	for i := 0; i < n; i++ {
		switch {
		case state == Flat && entry[i]:
			state = Long
		case state == Long && exit[i]:
			state = Flat
		}
		out[i] = state
	}
	return out
}
