package circuit

import (
	"sync"
	"time"

	"helmsman/internal/logger"
)

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

// LossBreaker 短窗口亏损熔断：窗口内聚集 threshold 笔大额亏损则打开，
// 冷却 cooldown 后进入半开，出现一笔盈利交易即恢复。
type LossBreaker struct {
	mu       sync.Mutex
	state    State
	name     string
	window   time.Duration
	cooldown time.Duration

	threshold int
	losses    []time.Time
	openedAt  time.Time

	nowFn func() time.Time
}

func NewLossBreaker(name string, threshold int, window, cooldown time.Duration) *LossBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if window <= 0 {
		window = time.Hour
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Minute
	}
	return &LossBreaker{
		name:      name,
		state:     StateClosed,
		threshold: threshold,
		window:    window,
		cooldown:  cooldown,
		nowFn:     time.Now,
	}
}

// Allow 返回当前是否允许新交易通过。
func (b *LossBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if b.nowFn().Sub(b.openedAt) > b.cooldown {
			b.transition(StateHalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

// RecordLoss 记录一笔大额亏损。
func (b *LossBreaker) RecordLoss() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.nowFn()
	b.losses = append(b.losses, now)
	b.prune(now)
	switch b.state {
	case StateClosed:
		if len(b.losses) >= b.threshold {
			b.openedAt = now
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.openedAt = now
		b.transition(StateOpen)
	}
}

// RecordWin 记录一笔盈利，半开状态下恢复闭合。
func (b *LossBreaker) RecordWin() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.losses = nil
		b.transition(StateClosed)
	}
}

func (b *LossBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *LossBreaker) prune(now time.Time) {
	cutoff := now.Add(-b.window)
	kept := b.losses[:0]
	for _, t := range b.losses {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.losses = kept
}

func (b *LossBreaker) transition(to State) {
	from := b.state
	b.state = to
	logger.Warnf("LossBreaker %s state change: %s -> %s (losses=%d/%d window=%s)",
		b.name, from, to, len(b.losses), b.threshold, b.window)
}
