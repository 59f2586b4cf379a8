package risk

import (
	"github.com/shopspring/decimal"

	"helmsman/internal/market"
)

// 中文说明：
// 交易成本估算：按决策方向吃盘口，直到吃满名义金额或簿被吃穿，
// 得到加权成交均价相对中间价的滑点 bp，再叠加 taker 费与固定机会成本。

// CostEstimate 各分项以基点（bp）计。
type CostEstimate struct {
	SlippageBps    float64 `json:"slippage_bps"`
	TakerFeeBps    float64 `json:"taker_fee_bps"`
	OpportunityBps float64 `json:"opportunity_bps"`
	TotalBps       float64 `json:"total_bps"`
	FilledUSD      float64 `json:"filled_usd"`
	BookExhausted  bool    `json:"book_exhausted"`
}

const (
	// Binance USD-M taker 默认档位。
	DefaultTakerFeeBps = 4.0
	// 下单到成交之间的固定机会成本假设。
	DefaultOpportunityBps = 2.0
)

// EstimateCost 估算按 side 方向市价吃单 sizeUSD 名义金额的总成本。
// side 为 LONG 吃 asks，否则吃 bids。盘口空或中间价为 0 时返回 (zero, false)。
func EstimateCost(book *market.OrderBook, side string, sizeUSD, takerFeeBps, opportunityBps float64) (CostEstimate, bool) {
	if book == nil || sizeUSD <= 0 {
		return CostEstimate{}, false
	}
	mid := book.MidPrice()
	if mid == 0 {
		return CostEstimate{}, false
	}
	levels := book.Bids
	if side == "LONG" {
		levels = book.Asks
	}
	if len(levels) == 0 {
		return CostEstimate{}, false
	}
	if takerFeeBps <= 0 {
		takerFeeBps = DefaultTakerFeeBps
	}
	if opportunityBps < 0 {
		opportunityBps = DefaultOpportunityBps
	}

	target := decimal.NewFromFloat(sizeUSD)
	remaining := target
	notional := decimal.Zero // Σ price×qty（已成交部分）
	quantity := decimal.Zero
	exhausted := true
	for _, lvl := range levels {
		price := decimal.NewFromFloat(lvl.Price)
		qty := decimal.NewFromFloat(lvl.Quantity)
		if price.IsZero() || qty.IsZero() {
			continue
		}
		levelNotional := price.Mul(qty)
		if levelNotional.GreaterThanOrEqual(remaining) {
			fillQty := remaining.Div(price)
			notional = notional.Add(remaining)
			quantity = quantity.Add(fillQty)
			remaining = decimal.Zero
			exhausted = false
			break
		}
		notional = notional.Add(levelNotional)
		quantity = quantity.Add(qty)
		remaining = remaining.Sub(levelNotional)
	}
	if quantity.IsZero() {
		return CostEstimate{}, false
	}
	avgPrice := notional.Div(quantity)
	midDec := decimal.NewFromFloat(mid)
	slippage := avgPrice.Sub(midDec).Abs().Div(midDec).Mul(decimal.NewFromInt(10000))

	est := CostEstimate{
		TakerFeeBps:    takerFeeBps,
		OpportunityBps: opportunityBps,
		BookExhausted:  exhausted,
	}
	est.SlippageBps, _ = slippage.Float64()
	est.FilledUSD, _ = target.Sub(remaining).Float64()
	est.TotalBps = est.SlippageBps + est.TakerFeeBps + est.OpportunityBps
	return est, true
}
