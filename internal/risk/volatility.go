package risk

// VolatilitySize 波动率定仓：size = 账户余额 × 单笔风险比例 / (ATR × 乘数 / 入场价)。
// 启用且 ATR 可用时替换（而非叠加）之前的仓位；任一输入不可用返回 (0,false)。
func VolatilitySize(accountBalance, riskPerTrade, atr, atrMultiplier, entryPrice float64) (float64, bool) {
	if accountBalance <= 0 || riskPerTrade <= 0 || atr <= 0 || atrMultiplier <= 0 || entryPrice <= 0 {
		return 0, false
	}
	stopDistance := atr * atrMultiplier / entryPrice
	if stopDistance <= 0 {
		return 0, false
	}
	return accountBalance * riskPerTrade / stopDistance, true
}
