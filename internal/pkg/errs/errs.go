package errs

import (
	"errors"
	"fmt"
)

// 引擎错误分类，调用方通过 errors.Is 判断。
var (
	ErrInsufficientData     = errors.New("insufficient data")
	ErrInvalidStrategy      = errors.New("invalid strategy")
	ErrIndicatorCalculation = errors.New("indicator calculation failure")
	ErrBacktestFailure      = errors.New("backtest failure")
	ErrOptimizationFailure  = errors.New("optimization failure")
	ErrNotFound             = errors.New("not found")
	ErrInvalidData          = errors.New("invalid price data")
)

// DataError 描述数据长度不足，携带所需的最小长度。
type DataError struct {
	What     string
	Required int
	Got      int
}

func (e *DataError) Error() string {
	return fmt.Sprintf("insufficient data for %s: need at least %d points, got %d", e.What, e.Required, e.Got)
}

func (e *DataError) Unwrap() error { return ErrInsufficientData }

// InsufficientData 构造 DataError。
func InsufficientData(what string, required, got int) error {
	return &DataError{What: what, Required: required, Got: got}
}

// StrategyError 描述非法策略，Token 为出错的列名/片段。
type StrategyError struct {
	Token  string
	Reason string
}

func (e *StrategyError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("invalid strategy: %s", e.Reason)
	}
	return fmt.Sprintf("invalid strategy: %s %q", e.Reason, e.Token)
}

func (e *StrategyError) Unwrap() error { return ErrInvalidStrategy }

// InvalidStrategy 构造 StrategyError。
func InvalidStrategy(reason, token string) error {
	return &StrategyError{Token: token, Reason: reason}
}

// IndicatorError 描述指标内部的数值失败。
type IndicatorError struct {
	Indicator string
	Reason    string
}

func (e *IndicatorError) Error() string {
	return fmt.Sprintf("indicator %s: %s", e.Indicator, e.Reason)
}

func (e *IndicatorError) Unwrap() error { return ErrIndicatorCalculation }

// IndicatorFailure 构造 IndicatorError。
func IndicatorFailure(indicator, reason string) error {
	return &IndicatorError{Indicator: indicator, Reason: reason}
}

// Backtest 将任意错误包装为 ErrBacktestFailure，同时保留原因链。
func Backtest(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrBacktestFailure) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrBacktestFailure, err)
}

// InvalidData 将价格数据的解析或校验错误标记为 ErrInvalidData。
func InvalidData(err error) error {
	if err == nil || errors.Is(err, ErrInvalidData) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrInvalidData, err)
}

// IsClientError 判断错误是否来自调用方输入。
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidStrategy) || errors.Is(err, ErrInsufficientData) || errors.Is(err, ErrInvalidData)
}
