package market

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"helmsman/internal/logger"
)

// Fetcher 带重试的快照采集器：3 次尝试，指数退避起步 1s。
type Fetcher struct {
	Source   Source
	Interval string
	Limit    int
	Depth    int

	nowFn func() time.Time
}

func NewFetcher(src Source, interval string, limit, depth int) *Fetcher {
	if limit <= 0 {
		limit = 100
	}
	if depth <= 0 {
		depth = 20
	}
	return &Fetcher{Source: src, Interval: interval, Limit: limit, Depth: depth, nowFn: time.Now}
}

// GetSnapshot 拉取并校验单标的快照。盘口失败不致命（Book 为 nil）。
func (f *Fetcher) GetSnapshot(ctx context.Context, symbol string) (Snapshot, error) {
	var candles []Candle
	op := func() error {
		var err error
		candles, err = f.Source.FetchHistory(ctx, symbol, f.Interval, f.Limit)
		return err
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.RandomizationFactor = 0
	retries := backoff.WithContext(backoff.WithMaxRetries(policy, 2), ctx)
	if err := backoff.Retry(op, retries); err != nil {
		return Snapshot{}, fmt.Errorf("fetch history %s: %w", symbol, err)
	}

	dur, _ := ParseIntervalDuration(f.Interval)
	if err := ValidateCandles(candles, dur, f.nowFn().UTC()); err != nil {
		return Snapshot{}, fmt.Errorf("validate %s: %w", symbol, err)
	}

	book, err := f.Source.FetchOrderBook(ctx, symbol, f.Depth)
	if err != nil {
		logger.Warnf("[market] orderbook fetch failed symbol=%s: %v", symbol, err)
		book = nil
	}
	return BuildSnapshot(symbol, candles, book), nil
}
