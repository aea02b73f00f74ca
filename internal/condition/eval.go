package condition

import (
	"fmt"
	"math"

	"stratlab/internal/pkg/errs"
)

// Env 提供求值所需的列与常量。
type Env interface {
	Len() int
	Column(name string) ([]float64, bool)
	Constant(name string) (float64, bool)
}

// Frame 是基于 map 的 Env 实现。
type Frame struct {
	N         int
	Columns   map[string][]float64
	Constants map[string]float64
}

func (f Frame) Len() int { return f.N }

func (f Frame) Column(name string) ([]float64, bool) {
	v, ok := f.Columns[name]
	return v, ok
}

func (f Frame) Constant(name string) (float64, bool) {
	v, ok := f.Constants[name]
	return v, ok
}

// tri 为三值逻辑：false / true / undefined。
type tri int8

const (
	triFalse tri = iota
	triTrue
	triUnknown
)

func triOf(b bool) tri {
	if b {
		return triTrue
	}
	return triFalse
}

type value struct {
	num  []float64
	bits []tri
}

// Check 确认表达式引用的列与常量在 env 中都存在。
func (e *Expr) Check(env Env) error {
	for _, c := range e.columns {
		if _, ok := env.Column(c); !ok {
			return errs.InvalidStrategy("unknown column", c)
		}
	}
	for _, c := range e.constants {
		if _, ok := env.Constant(c); !ok {
			return errs.InvalidStrategy("unknown constant", "$"+c)
		}
	}
	return nil
}

// Evaluate 对每根 Bar 求值；未定义的结果视为 false。
func (e *Expr) Evaluate(env Env) ([]bool, error) {
	if err := e.Check(env); err != nil {
		return nil, err
	}
	v, err := eval(e.root, env)
	if err != nil {
		return nil, err
	}
	out := make([]bool, env.Len())
	for i, b := range v.bits {
		out[i] = b == triTrue
	}
	return out, nil
}

func eval(n node, env Env) (value, error) {
	size := env.Len()
	switch x := n.(type) {
	case numLit:
		return value{num: filled(size, x.v)}, nil
	case boolLit:
		bits := make([]tri, size)
		for i := range bits {
			bits[i] = triOf(x.v)
		}
		return value{bits: bits}, nil
	case colRef:
		col, ok := env.Column(x.name)
		if !ok {
			return value{}, errs.InvalidStrategy("unknown column", x.name)
		}
		if len(col) != size {
			return value{}, fmt.Errorf("column %s has %d values, want %d", x.name, len(col), size)
		}
		return value{num: col}, nil
	case constRef:
		c, ok := env.Constant(x.name)
		if !ok {
			return value{}, errs.InvalidStrategy("unknown constant", "$"+x.name)
		}
		return value{num: filled(size, c)}, nil
	case negNode:
		v, err := eval(x.x, env)
		if err != nil {
			return value{}, err
		}
		return value{num: mapNum(v.num, func(f float64) float64 { return -f })}, nil
	case absNode:
		v, err := eval(x.x, env)
		if err != nil {
			return value{}, err
		}
		return value{num: mapNum(v.num, math.Abs)}, nil
	case shiftNode:
		v, err := eval(x.x, env)
		if err != nil {
			return value{}, err
		}
		return shift(v, x.n), nil
	case notNode:
		v, err := eval(x.x, env)
		if err != nil {
			return value{}, err
		}
		bits := make([]tri, len(v.bits))
		for i, b := range v.bits {
			switch b {
			case triTrue:
				bits[i] = triFalse
			case triFalse:
				bits[i] = triTrue
			default:
				bits[i] = triUnknown
			}
		}
		return value{bits: bits}, nil
	case cmpNode:
		l, err := eval(x.l, env)
		if err != nil {
			return value{}, err
		}
		r, err := eval(x.r, env)
		if err != nil {
			return value{}, err
		}
		bits := make([]tri, size)
		for i := range bits {
			a, b := l.num[i], r.num[i]
			if math.IsNaN(a) || math.IsNaN(b) {
				bits[i] = triUnknown
				continue
			}
			bits[i] = triOf(compare(x.op, a, b))
		}
		return value{bits: bits}, nil
	case logicNode:
		l, err := eval(x.l, env)
		if err != nil {
			return value{}, err
		}
		r, err := eval(x.r, env)
		if err != nil {
			return value{}, err
		}
		bits := make([]tri, size)
		for i := range bits {
			if x.and {
				bits[i] = and3(l.bits[i], r.bits[i])
			} else {
				bits[i] = or3(l.bits[i], r.bits[i])
			}
		}
		return value{bits: bits}, nil
	}
	return value{}, fmt.Errorf("condition: unknown node %T", n)
}

func compare(op cmpOp, a, b float64) bool {
	switch op {
	case opLT:
		return a < b
	case opLE:
		return a <= b
	case opGT:
		return a > b
	case opGE:
		return a >= b
	case opEQ:
		return a == b
	default:
		return a != b
	}
}

func and3(a, b tri) tri {
	if a == triFalse || b == triFalse {
		return triFalse
	}
	if a == triTrue && b == triTrue {
		return triTrue
	}
	return triUnknown
}

func or3(a, b tri) tri {
	if a == triTrue || b == triTrue {
		return triTrue
	}
	if a == triFalse && b == triFalse {
		return triFalse
	}
	return triUnknown
}

func shift(v value, n int) value {
	if v.bits != nil {
		out := make([]tri, len(v.bits))
		for i := range out {
			if i < n {
				out[i] = triUnknown
			} else {
				out[i] = v.bits[i-n]
			}
		}
		return value{bits: out}
	}
	out := make([]float64, len(v.num))
	for i := range out {
		if i < n {
			out[i] = math.NaN()
		} else {
			out[i] = v.num[i-n]
		}
	}
	return value{num: out}
}

func filled(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func mapNum(in []float64, f func(float64) float64) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = f(v)
	}
	return out
}
