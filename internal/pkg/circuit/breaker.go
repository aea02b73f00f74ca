// Package circuit 提供按连续失败次数熔断的断路器。
package circuit

import (
	"errors"
	"sync"
	"time"

	"stratlab/internal/logger"
)

// ErrOpen 表示断路器处于打开状态，调用被拒绝。
var ErrOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

// Breaker 在连续失败 threshold 次后打开，cooldown 过后放行一次试探调用。
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	onChange    func(name string, from, to State)
}

func New(name string, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 1
	}
	return &Breaker{name: name, threshold: threshold, cooldown: cooldown, now: time.Now}
}

// OnStateChange 注册状态变化回调，回调在锁外同步执行。
func (b *Breaker) OnStateChange(fn func(name string, from, to State)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow 判断本次调用是否放行。
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	allowed, change := b.allowLocked()
	b.mu.Unlock()
	b.emit(change)
	return allowed
}

func (b *Breaker) allowLocked() (bool, *transition) {
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastFailure) >= b.cooldown {
			return true, b.moveLocked(StateHalfOpen)
		}
		return false, nil
	default:
		return true, nil
	}
}

func (b *Breaker) Success() {
	b.mu.Lock()
	b.failures = 0
	var change *transition
	if b.state != StateClosed {
		change = b.moveLocked(StateClosed)
	}
	b.mu.Unlock()
	b.emit(change)
}

func (b *Breaker) Failure() {
	b.mu.Lock()
	b.failures++
	b.lastFailure = b.now()
	var change *transition
	switch {
	case b.state == StateHalfOpen:
		change = b.moveLocked(StateOpen)
	case b.state == StateClosed && b.failures >= b.threshold:
		change = b.moveLocked(StateOpen)
	}
	b.mu.Unlock()
	b.emit(change)
}

// Do 在放行时执行 fn 并记录结果；打开时返回 ErrOpen。
// isFailure 为 nil 时任何非空错误都计为失败。
func (b *Breaker) Do(fn func() error, isFailure func(error) bool) error {
	if !b.Allow() {
		return ErrOpen
	}
	err := fn()
	if err != nil && (isFailure == nil || isFailure(err)) {
		b.Failure()
		return err
	}
	b.Success()
	return err
}

type transition struct {
	from, to State
	failures int
	fn       func(string, State, State)
}

func (b *Breaker) moveLocked(to State) *transition {
	from := b.state
	b.state = to
	return &transition{from: from, to: to, failures: b.failures, fn: b.onChange}
}

func (b *Breaker) emit(t *transition) {
	if t == nil {
		return
	}
	if t.fn != nil {
		t.fn(b.name, t.from, t.to)
		return
	}
	logger.Warnf("[circuit] %s: %s -> %s (failures=%d/%d, cooldown=%s)", b.name, t.from, t.to, t.failures, b.threshold, b.cooldown)
}
