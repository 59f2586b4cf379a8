package types

import "time"

type PositionSnapshot struct {
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	EntryPrice    float64 `json:"entry_price"`
	Quantity      float64 `json:"quantity"`
	Leverage      float64 `json:"leverage,omitempty"`
	CurrentPrice  float64 `json:"current_price,omitempty"`
	PositionValue float64 `json:"position_value"`
	UnrealizedPn  float64 `json:"unrealized_pn"`
	OpenedAt      int64   `json:"opened_at,omitempty"`
}

type AccountSnapshot struct {
	Total     float64   `json:"total"`
	Available float64   `json:"available"`
	Used      float64   `json:"used"`
	Currency  string    `json:"currency"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ClosedTrade 已平仓交易（Kelly 与回撤计算的输入）。
type ClosedTrade struct {
	StrategyID string    `json:"strategy_id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	PnL        float64   `json:"pnl"`
	SizeUSD    float64   `json:"size_usd"`
	ClosedAt   time.Time `json:"closed_at"`
}
