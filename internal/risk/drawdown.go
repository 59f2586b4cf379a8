package risk

import (
	"sort"

	"helmsman/internal/types"
)

// DrawdownStats 由已平仓交易的时间序列重建的权益曲线摘要。
type DrawdownStats struct {
	Trades      int     `json:"trades"`
	StartEquity float64 `json:"start_equity"`
	Equity      float64 `json:"equity"`
	PeakEquity  float64 `json:"peak_equity"`
	DrawdownPct float64 `json:"drawdown_pct"`
	MaxDDPct    float64 `json:"max_dd_pct"`
}

// Drawdown 按平仓时间升序回放 P&L，跟踪峰值与当前回撤百分比。
// startEquity <= 0 时取 10000 作为记账起点（只影响比例的分母基准）。
func Drawdown(trades []types.ClosedTrade, startEquity float64) DrawdownStats {
	if startEquity <= 0 {
		startEquity = 10000
	}
	ordered := make([]types.ClosedTrade, len(trades))
	copy(ordered, trades)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].ClosedAt.Before(ordered[j].ClosedAt)
	})

	stats := DrawdownStats{
		Trades:      len(ordered),
		StartEquity: startEquity,
		Equity:      startEquity,
		PeakEquity:  startEquity,
	}
	for _, t := range ordered {
		stats.Equity += t.PnL
		if stats.Equity > stats.PeakEquity {
			stats.PeakEquity = stats.Equity
		}
		if stats.PeakEquity > 0 {
			dd := (stats.PeakEquity - stats.Equity) / stats.PeakEquity * 100
			if dd > stats.MaxDDPct {
				stats.MaxDDPct = dd
			}
		}
	}
	if stats.PeakEquity > 0 {
		stats.DrawdownPct = (stats.PeakEquity - stats.Equity) / stats.PeakEquity * 100
	}
	return stats
}
