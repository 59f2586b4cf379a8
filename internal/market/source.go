package market

import "context"

// Source 抽象行情来源（REST）。
type Source interface {
	FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	FetchOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error)
}
