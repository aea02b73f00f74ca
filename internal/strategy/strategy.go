package strategy

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"stratlab/internal/analysis/indicator"
	"stratlab/internal/condition"
	"stratlab/internal/logger"
	"stratlab/internal/market"
	"stratlab/internal/pkg/errs"
)

// 风险等级。
const (
	RiskLow    = "LOW"
	RiskMedium = "MEDIUM"
	RiskHigh   = "HIGH"
)

// Rule 是一条入场或出场规则。
type Rule struct {
	Condition   string `json:"condition" yaml:"condition"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Config 是可回测的策略定义。
type Config struct {
	Indicators []indicator.Spec   `json:"indicators" yaml:"indicators"`
	EntryRules Rule               `json:"entry_rules" yaml:"entry_rules"`
	ExitRules  Rule               `json:"exit_rules" yaml:"exit_rules"`
	Constants  map[string]float64 `json:"constants,omitempty" yaml:"constants,omitempty"`
}

// Binding 指定参数写入的位置：指标字段或常量，二选一。
type Binding struct {
	Indicator *int   `json:"indicator,omitempty" yaml:"indicator,omitempty"`
	Field     string `json:"field,omitempty" yaml:"field,omitempty"`
	Constant  string `json:"constant,omitempty" yaml:"constant,omitempty"`
}

// Param 是一个可优化参数的取值范围。
type Param struct {
	Min     float64 `json:"min" yaml:"min"`
	Max     float64 `json:"max" yaml:"max"`
	Step    float64 `json:"step" yaml:"step"`
	Default float64 `json:"default" yaml:"default"`
	Bind    Binding `json:"bind" yaml:"bind"`
}

// 可绑定的指标字段。
const (
	FieldPeriod       = "period"
	FieldFastPeriod   = "fast_period"
	FieldSlowPeriod   = "slow_period"
	FieldSignalPeriod = "signal_period"
	FieldNumStd       = "num_std"
)

// Strategy 是目录中的一条策略记录。
type Strategy struct {
	ID                  string           `json:"id,omitempty" yaml:"id,omitempty"`
	Name                string           `json:"name" yaml:"name"`
	Description         string           `json:"description,omitempty" yaml:"description,omitempty"`
	Category            string           `json:"category,omitempty" yaml:"category,omitempty"`
	RiskLevel           string           `json:"risk_level,omitempty" yaml:"risk_level,omitempty"`
	Tags                []string         `json:"tags,omitempty" yaml:"tags,omitempty"`
	Config              Config           `json:"config" yaml:"config"`
	OptimizableParams   map[string]Param `json:"optimizable_params,omitempty" yaml:"optimizable_params,omitempty"`
	ParentStrategy      string           `json:"parent_strategy,omitempty" yaml:"parent_strategy,omitempty"`
	Generation          int              `json:"generation,omitempty" yaml:"generation,omitempty"`
	PerformanceSnapshot json.RawMessage  `json:"performance_snapshot,omitempty" yaml:"-"`
	ExpectedWinRate     float64          `json:"expected_win_rate,omitempty" yaml:"expected_win_rate,omitempty"`
	ExpectedSharpe      float64          `json:"expected_sharpe,omitempty" yaml:"expected_sharpe,omitempty"`
	IsActive            bool             `json:"is_active" yaml:"is_active"`
	CreatedAt           time.Time        `json:"created_at,omitempty" yaml:"-"`
	UpdatedAt           time.Time        `json:"updated_at,omitempty" yaml:"-"`
}

// Defaults 返回各参数的默认值。
func (s Strategy) Defaults() map[string]float64 {
	out := make(map[string]float64, len(s.OptimizableParams))
	for name, p := range s.OptimizableParams {
		out[name] = p.Default
	}
	return out
}

// Validate 校验元数据、参数绑定与配置本身。
func (s Strategy) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errs.InvalidStrategy("strategy name is required", "")
	}
	switch strings.ToUpper(s.RiskLevel) {
	case "", RiskLow, RiskMedium, RiskHigh:
	default:
		return errs.InvalidStrategy("unknown risk level", s.RiskLevel)
	}
	if _, err := s.Config.Compile(); err != nil {
		return err
	}
	for _, name := range ParamNames(s.OptimizableParams) {
		if err := s.OptimizableParams[name].validate(name, s.Config); err != nil {
			return err
		}
	}
	return nil
}

func (p Param) validate(name string, cfg Config) error {
	if p.Step <= 0 || math.IsNaN(p.Step) {
		return errs.InvalidStrategy("parameter step must be positive", name)
	}
	if p.Max < p.Min {
		return errs.InvalidStrategy("parameter max is below min", name)
	}
	b := p.Bind
	switch {
	case b.Constant != "" && b.Indicator != nil:
		return errs.InvalidStrategy("parameter binds both an indicator and a constant", name)
	case b.Constant != "":
		return nil
	case b.Indicator == nil:
		return errs.InvalidStrategy("parameter has no binding", name)
	}
	if *b.Indicator < 0 || *b.Indicator >= len(cfg.Indicators) {
		return errs.InvalidStrategy(fmt.Sprintf("binding points at indicator %d of %d", *b.Indicator, len(cfg.Indicators)), name)
	}
	switch b.Field {
	case FieldPeriod, FieldFastPeriod, FieldSlowPeriod, FieldSignalPeriod, FieldNumStd:
		return nil
	}
	return errs.InvalidStrategy("unknown binding field", b.Field)
}

// Clone 深拷贝。
func (s Strategy) Clone() Strategy {
	out := s
	out.Tags = append([]string(nil), s.Tags...)
	out.Config = s.Config.Clone()
	if s.OptimizableParams != nil {
		out.OptimizableParams = make(map[string]Param, len(s.OptimizableParams))
		for k, p := range s.OptimizableParams {
			if p.Bind.Indicator != nil {
				idx := *p.Bind.Indicator
				p.Bind.Indicator = &idx
			}
			out.OptimizableParams[k] = p
		}
	}
	out.PerformanceSnapshot = append(json.RawMessage(nil), s.PerformanceSnapshot...)
	return out
}

// Clone 深拷贝配置。
func (c Config) Clone() Config {
	out := c
	out.Indicators = append([]indicator.Spec(nil), c.Indicators...)
	if c.Constants != nil {
		out.Constants = make(map[string]float64, len(c.Constants))
		for k, v := range c.Constants {
			out.Constants[k] = v
		}
	}
	return out
}

// Column 是一个指标输出列及其来源。
type Column struct {
	Name      string
	Indicator int
	Output    int
}

// Compiled 是解析完成、可直接求值的配置。
type Compiled struct {
	Config  Config
	Columns []Column
	Entry   *condition.Expr
	Exit    *condition.Expr
}

// Columns 列出所有已知类型指标的输出列（未知类型跳过）。
func (c Config) Columns() []Column {
	var out []Column
	for i, spec := range c.Indicators {
		for j, name := range spec.Columns() {
			out = append(out, Column{Name: name, Indicator: i, Output: j})
		}
	}
	return out
}

// Compile 解析规则并检查列、常量引用是否都有来源。
func (c Config) Compile() (*Compiled, error) {
	for _, spec := range c.Indicators {
		if _, ok := spec.Kind(); !ok {
			logger.Warnf("[strategy] unknown indicator type %q skipped", spec.Type)
		}
	}
	cols := c.Columns()
	known := make(map[string]bool, len(cols)+len(market.PriceColumns))
	for _, p := range market.PriceColumns {
		known[p] = true
	}
	for _, col := range cols {
		if known[col.Name] {
			return nil, errs.InvalidStrategy("duplicate column", col.Name)
		}
		known[col.Name] = true
	}
	entry, err := parseRule("entry", c.EntryRules)
	if err != nil {
		return nil, err
	}
	exit, err := parseRule("exit", c.ExitRules)
	if err != nil {
		return nil, err
	}
	for _, e := range []*condition.Expr{entry, exit} {
		for _, name := range e.Columns() {
			if !known[name] {
				return nil, errs.InvalidStrategy("unknown column", name)
			}
		}
		for _, name := range e.Constants() {
			if _, ok := c.Constants[name]; !ok {
				return nil, errs.InvalidStrategy("unknown constant", "$"+name)
			}
		}
	}
	return &Compiled{Config: c, Columns: cols, Entry: entry, Exit: exit}, nil
}

func parseRule(which string, r Rule) (*condition.Expr, error) {
	if strings.TrimSpace(r.Condition) == "" {
		return nil, errs.InvalidStrategy(which+" condition is empty", "")
	}
	return condition.Parse(r.Condition)
}

// Apply 按显式绑定写入参数，并把被改名的指标列同步到规则里。
func (c Config) Apply(space map[string]Param, values map[string]float64) (Config, error) {
	out := c.Clone()
	before := make([][]string, len(out.Indicators))
	for i, spec := range out.Indicators {
		before[i] = spec.Columns()
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p, ok := space[name]
		if !ok {
			return Config{}, errs.InvalidStrategy("unknown parameter", name)
		}
		if err := p.validate(name, out); err != nil {
			return Config{}, err
		}
		v := values[name]
		if p.Bind.Constant != "" {
			if out.Constants == nil {
				out.Constants = map[string]float64{}
			}
			out.Constants[p.Bind.Constant] = v
			continue
		}
		spec := &out.Indicators[*p.Bind.Indicator]
		switch p.Bind.Field {
		case FieldPeriod:
			spec.Period = int(math.Round(v))
		case FieldFastPeriod:
			spec.FastPeriod = int(math.Round(v))
		case FieldSlowPeriod:
			spec.SlowPeriod = int(math.Round(v))
		case FieldSignalPeriod:
			spec.SignalPeriod = int(math.Round(v))
		case FieldNumStd:
			std := v
			spec.NumStd = &std
		}
	}

	renames := map[string]string{}
	for i, spec := range out.Indicators {
		after := spec.Columns()
		for j := range after {
			if j < len(before[i]) && before[i][j] != after[j] {
				renames[before[i][j]] = after[j]
			}
		}
	}
	if len(renames) > 0 {
		var err error
		if out.EntryRules.Condition, err = condition.Rename(out.EntryRules.Condition, renames); err != nil {
			return Config{}, err
		}
		if out.ExitRules.Condition, err = condition.Rename(out.ExitRules.Condition, renames); err != nil {
			return Config{}, err
		}
	}
	seen := map[string]bool{}
	for _, col := range out.Columns() {
		if seen[col.Name] {
			return Config{}, errs.InvalidStrategy("parameters produce duplicate column", col.Name)
		}
		seen[col.Name] = true
	}
	return out, nil
}

// ParamNames 返回排序后的参数名。
func ParamNames(space map[string]Param) []string {
	out := make([]string, 0, len(space))
	for name := range space {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
