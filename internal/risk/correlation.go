package risk

import "math"

// Pearson 计算两个等长收益率序列的相关系数；长度不一致取较短者，
// 样本小于 2 或方差为零返回 0。
func Pearson(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return 0
	}
	a = a[len(a)-n:]
	b = b[len(b)-n:]

	var sumA, sumB float64
	for i := 0; i < n; i++ {
		sumA += a[i]
		sumB += b[i]
	}
	meanA := sumA / float64(n)
	meanB := sumB / float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}

// CorrelatedPosition 持仓的收益率序列与市值。
type CorrelatedPosition struct {
	Symbol  string
	Returns []float64
	Value   float64
}

// CorrelatedExposure 返回与 primary 收益率相关（|r| > threshold）的持仓市值合计，
// 以及逐仓相关系数（审计用）。
func CorrelatedExposure(primaryReturns []float64, positions []CorrelatedPosition, threshold float64) (float64, map[string]float64) {
	if threshold <= 0 {
		threshold = 0.7
	}
	exposure := 0.0
	coefficients := make(map[string]float64, len(positions))
	for _, pos := range positions {
		r := Pearson(primaryReturns, pos.Returns)
		coefficients[pos.Symbol] = r
		if math.Abs(r) > threshold {
			exposure += pos.Value
		}
	}
	return exposure, coefficients
}
