package risk

import (
	"helmsman/internal/types"
)

// 中文说明：
// 组合集中度：单标的占比与固定分组的关联资产占比（无完整价格历史时的启发式）。
// 分母为现有持仓总市值，不含拟新开仓位：新仓位若计入分母会抬高自身的占比上界，
// 约束随仓位变大而变松，这里只把拟开仓金额计入分子。

// correlatedGroups 高相关资产的固定分组启发式。
var correlatedGroups = map[string][]string{
	"btc-beta": {"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT"},
	"l2":       {"ARBUSDT", "OPUSDT", "MATICUSDT", "STRKUSDT"},
	"meme":     {"DOGEUSDT", "SHIBUSDT", "PEPEUSDT", "WIFUSDT"},
}

// PortfolioValue 现有持仓总市值。
func PortfolioValue(positions []types.PositionSnapshot) float64 {
	total := 0.0
	for _, p := range positions {
		total += p.PositionValue
	}
	return total
}

// SymbolShare 拟开仓后该标的市值占组合的百分比。组合为空时返回 0（首仓放行）。
func SymbolShare(positions []types.PositionSnapshot, symbol string, proposedUSD float64) float64 {
	total := PortfolioValue(positions)
	if total <= 0 {
		return 0
	}
	symbol = types.NormalizeSymbol(symbol)
	existing := 0.0
	for _, p := range positions {
		if types.NormalizeSymbol(p.Symbol) == symbol {
			existing += p.PositionValue
		}
	}
	return (existing + proposedUSD) / total * 100
}

// ClassShare 拟开仓标的所属固定分组的持仓占比（百分比）。
// 标的不属于任何分组时返回 0。
func ClassShare(positions []types.PositionSnapshot, symbol string, proposedUSD float64) (string, float64) {
	symbol = types.NormalizeSymbol(symbol)
	group, members := groupOf(symbol)
	if group == "" {
		return "", 0
	}
	total := PortfolioValue(positions)
	if total <= 0 {
		return group, 0
	}
	inGroup := map[string]bool{}
	for _, m := range members {
		inGroup[m] = true
	}
	exposure := 0.0
	for _, p := range positions {
		if inGroup[types.NormalizeSymbol(p.Symbol)] {
			exposure += p.PositionValue
		}
	}
	return group, (exposure + proposedUSD) / total * 100
}

func groupOf(symbol string) (string, []string) {
	for name, members := range correlatedGroups {
		for _, m := range members {
			if m == symbol {
				return name, members
			}
		}
	}
	return "", nil
}
