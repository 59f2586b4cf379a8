package risk

// ProfileMultiplier 将 0~100 的风险值映射为仓位乘数：
// [0,20] 0.5x、(20,40) 线性过渡、[40,60] 基准 1.0x、(60,80) 线性过渡、[80,100] 3.0x。
// 单调非减。
func ProfileMultiplier(riskValue int) float64 {
	v := float64(riskValue)
	switch {
	case v <= 20:
		return 0.5
	case v < 40:
		return 0.5 + (v-20)/20*0.5
	case v <= 60:
		return 1.0
	case v < 80:
		return 1.0 + (v-60)/20*2.0
	default:
		return 3.0
	}
}
