package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock 便于推进时间而不真正 sleep。
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreaker(threshold int, window, cooldown time.Duration) (*LossBreaker, *fakeClock) {
	b := NewLossBreaker("test", threshold, window, cooldown)
	clock := &fakeClock{now: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)}
	b.nowFn = func() time.Time { return clock.now }
	return b, clock
}

func TestBreakerOpensAfterThresholdLosses(t *testing.T) {
	b, clock := newTestBreaker(3, time.Hour, 30*time.Minute)

	b.RecordLoss()
	b.RecordLoss()
	assert.True(t, b.Allow())
	assert.Equal(t, StateClosed, b.State())

	clock.advance(time.Minute)
	b.RecordLoss()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreakerLossesOutsideWindowIgnored(t *testing.T) {
	b, clock := newTestBreaker(3, time.Hour, 30*time.Minute)

	b.RecordLoss()
	b.RecordLoss()
	// 前两笔滑出窗口后，第三笔不足以触发。
	clock.advance(2 * time.Hour)
	b.RecordLoss()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreakerCooldownToHalfOpen(t *testing.T) {
	b, clock := newTestBreaker(2, time.Hour, 30*time.Minute)
	b.RecordLoss()
	b.RecordLoss()
	assert.False(t, b.Allow())

	clock.advance(31 * time.Minute)
	assert.True(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreakerHalfOpenWinCloses(t *testing.T) {
	b, clock := newTestBreaker(2, time.Hour, 30*time.Minute)
	b.RecordLoss()
	b.RecordLoss()
	clock.advance(31 * time.Minute)
	assert.True(t, b.Allow())

	b.RecordWin()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreakerHalfOpenLossReopens(t *testing.T) {
	b, clock := newTestBreaker(2, time.Hour, 30*time.Minute)
	b.RecordLoss()
	b.RecordLoss()
	clock.advance(31 * time.Minute)
	assert.True(t, b.Allow()) // 进入半开

	b.RecordLoss()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreakerWinWhileClosedIsNoop(t *testing.T) {
	b, _ := newTestBreaker(2, time.Hour, 30*time.Minute)
	b.RecordWin()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerStateString(t *testing.T) {
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "OPEN", StateOpen.String())
	assert.Equal(t, "HALF-OPEN", StateHalfOpen.String())
}
