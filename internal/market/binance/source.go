package binance

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"helmsman/internal/market"
	"helmsman/internal/pkg/convert"
	"helmsman/internal/types"
)

const maxHistoryLimit = 1500

// Source 基于 go-binance SDK 实现 market.Source。
type Source struct {
	client *futures.Client
}

type Config struct {
	RESTBaseURL string
	HTTPTimeout time.Duration
}

func New(cfg Config) *Source {
	client := futures.NewClient("", "")
	if base := strings.TrimSpace(cfg.RESTBaseURL); base != "" {
		client.BaseURL = base
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client.HTTPClient = &http.Client{Timeout: timeout}
	return &Source{client: client}
}

func (s *Source) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	symbol = types.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	kls, err := s.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      convert.ParseFloat(kl.Open),
			High:      convert.ParseFloat(kl.High),
			Low:       convert.ParseFloat(kl.Low),
			Close:     convert.ParseFloat(kl.Close),
			Volume:    convert.ParseFloat(kl.Volume),
			Trades:    kl.TradeNum,
		})
	}
	return out, nil
}

func (s *Source) FetchOrderBook(ctx context.Context, symbol string, depth int) (*market.OrderBook, error) {
	symbol = types.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if depth <= 0 {
		depth = 20
	}
	res, err := s.client.NewDepthService().Symbol(symbol).Limit(depth).Do(ctx)
	if err != nil {
		return nil, err
	}
	book := &market.OrderBook{
		Symbol:    symbol,
		Bids:      make([]market.BookLevel, 0, len(res.Bids)),
		Asks:      make([]market.BookLevel, 0, len(res.Asks)),
		FetchedAt: time.Now().UTC(),
	}
	for _, b := range res.Bids {
		book.Bids = append(book.Bids, market.BookLevel{
			Price:    convert.ParseFloat(b.Price),
			Quantity: convert.ParseFloat(b.Quantity),
		})
	}
	for _, a := range res.Asks {
		book.Asks = append(book.Asks, market.BookLevel{
			Price:    convert.ParseFloat(a.Price),
			Quantity: convert.ParseFloat(a.Quantity),
		})
	}
	return book, nil
}
