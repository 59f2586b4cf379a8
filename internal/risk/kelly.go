package risk

import (
	"math"

	"helmsman/internal/types"
)

const (
	// Kelly 分数的应用区间。
	KellyFloor   = 0.005
	KellyCeiling = 0.10

	kellyMinTrades = 30
	kellyMaxTrades = 100
)

// KellyResult 保留中间量用于审计。
type KellyResult struct {
	Applied  bool
	Trades   int
	WinRate  float64
	AvgWin   float64
	AvgLoss  float64
	EdgeB    float64
	Raw      float64 // (p·b − q)/b
	Fraction float64 // 分数化并 clamp 后
}

// KellySize 基于最近已平仓交易重算仓位。样本不足 30 笔时原样返回。
// 应用公式：size = base × (fraction / 0.01)，即 1% Kelly 对应基准仓位。
func KellySize(trades []types.ClosedTrade, baseSize, fractional float64) (float64, KellyResult) {
	if len(trades) > kellyMaxTrades {
		trades = trades[len(trades)-kellyMaxTrades:]
	}
	res := KellyResult{Trades: len(trades)}
	if len(trades) < kellyMinTrades {
		return baseSize, res
	}
	if fractional <= 0 {
		fractional = 0.25
	}
	var wins, losses int
	var winSum, lossSum float64
	for _, t := range trades {
		if t.PnL > 0 {
			wins++
			winSum += t.PnL
		} else if t.PnL < 0 {
			losses++
			lossSum += -t.PnL
		}
	}
	if wins == 0 || losses == 0 {
		// 全盈或全亏的样本没有可用的赔率比。
		return baseSize, res
	}
	p := float64(wins) / float64(len(trades))
	q := 1 - p
	avgWin := winSum / float64(wins)
	avgLoss := lossSum / float64(losses)
	b := avgWin / avgLoss
	raw := (p*b - q) / b

	res.WinRate = p
	res.AvgWin = avgWin
	res.AvgLoss = avgLoss
	res.EdgeB = b
	res.Raw = raw

	if raw <= 0 {
		// 负期望：退到下限而不是清零，保持与历史行为一致。
		res.Applied = true
		res.Fraction = KellyFloor
		return baseSize * (KellyFloor / 0.01), res
	}
	f := raw * fractional
	f = math.Max(KellyFloor, math.Min(KellyCeiling, f))
	res.Applied = true
	res.Fraction = f
	return baseSize * (f / 0.01), res
}
