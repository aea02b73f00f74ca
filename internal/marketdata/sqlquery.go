package marketdata

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"stratlab/internal/market"
)

const candleColumns = `open_time, close_time, open, high, low, close, volume, trades`

// manifestColumns 从 candles 表聚合出 Manifest 的统计字段。
const manifestColumns = `COALESCE(MIN(open_time), 0), COALESCE(MAX(open_time), 0), COUNT(*), COALESCE(MAX(synced_at), 0)`

// sqlDialect 区分 sqlite（每个文件一个 symbol@timeframe）与 postgres（共用一张表）。
type sqlDialect struct {
	dollar bool
	shared bool
}

var (
	dialectSQLite   = sqlDialect{}
	dialectPostgres = sqlDialect{dollar: true, shared: true}
)

func (d sqlDialect) placeholder(n int) string {
	if d.dollar {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// keyColumns 是唯一约束所在的列。
func (d sqlDialect) keyColumns() []string {
	if d.shared {
		return []string{"symbol", "timeframe", "open_time"}
	}
	return []string{"open_time"}
}

// upsertSQL 生成单行写入语句，重复 open_time 覆盖旧值。参数顺序见 upsertArgs。
func (d sqlDialect) upsertSQL() string {
	cols := strings.Split(candleColumns+", synced_at", ", ")
	if d.shared {
		cols = append([]string{"symbol", "timeframe"}, cols...)
	}
	keys := d.keyColumns()
	holders := make([]string, len(cols))
	var updates []string
	for i, col := range cols {
		holders[i] = d.placeholder(i + 1)
		if !slices.Contains(keys, col) {
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", col, col))
		}
	}
	return fmt.Sprintf("INSERT INTO candles (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		strings.Join(cols, ", "), strings.Join(holders, ", "), strings.Join(keys, ", "), strings.Join(updates, ", "))
}

func (d sqlDialect) upsertArgs(sym, tf string, c market.Candle, syncedAt int64) []any {
	args := []any{c.OpenTime, c.CloseTime, c.Open, c.High, c.Low, c.Close, c.Volume, c.Trades, syncedAt}
	if d.shared {
		args = append([]any{sym, tf}, args...)
	}
	return args
}

// candleSQL 逐步拼出针对 candles 表的 SELECT。
type candleSQL struct {
	d     sqlDialect
	where []string
	args  []any
}

func newCandleSQL(d sqlDialect, sym, tf string) *candleSQL {
	q := &candleSQL{d: d}
	if d.shared {
		q.add("symbol = %s", sym)
		q.add("timeframe = %s", tf)
	}
	return q
}

// add 追加一个条件，cond 中每个 %s 依次替换为参数占位符。
func (q *candleSQL) add(cond string, args ...any) *candleSQL {
	holders := make([]any, len(args))
	for i, a := range args {
		q.args = append(q.args, a)
		holders[i] = q.d.placeholder(len(q.args))
	}
	q.where = append(q.where, fmt.Sprintf(cond, holders...))
	return q
}

// between 限定闭区间 [start, end]。
func (q *candleSQL) between(start, end int64) *candleSQL {
	if end < start {
		start, end = end, start
	}
	return q.add("open_time BETWEEN %s AND %s", start, end)
}

// window 按 QueryCandles 的语义加条件，返回 true 表示需倒序取最近的 limit 根。
func (q *candleSQL) window(start, end int64) bool {
	switch {
	case start > 0 && end > 0:
		q.between(start, end)
		return false
	case start > 0:
		q.add("open_time >= %s", start)
		return false
	case end > 0:
		q.add("open_time <= %s", end)
	}
	return true
}

func (q *candleSQL) selectFrom(cols string) *strings.Builder {
	b := &strings.Builder{}
	b.WriteString("SELECT " + cols + " FROM candles")
	if len(q.where) > 0 {
		b.WriteString(" WHERE " + strings.Join(q.where, " AND "))
	}
	return b
}

// query 返回按 open_time 排序的 SQL 与参数；limit ≤ 0 表示不限制。
func (q *candleSQL) query(cols string, desc bool, limit int) (string, []any) {
	b := q.selectFrom(cols)
	b.WriteString(" ORDER BY open_time")
	if desc {
		b.WriteString(" DESC")
	}
	args := slices.Clip(q.args)
	if limit > 0 {
		args = append(args, limit)
		b.WriteString(" LIMIT " + q.d.placeholder(len(args)))
	}
	return b.String(), args
}

// manifest 返回聚合统计的 SQL 与参数。
func (q *candleSQL) manifest() (string, []any) {
	return q.selectFrom(manifestColumns).String(), q.args
}

// candleDest 返回与 candleColumns 对应的扫描目标。
func candleDest(c *market.Candle) []any {
	return []any{&c.OpenTime, &c.CloseTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Trades}
}

func manifestDest(m *Manifest) []any {
	return []any{&m.MinTime, &m.MaxTime, &m.Rows, &m.LastSyncAt}
}

func reverseCandles(list []market.Candle) {
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
}
