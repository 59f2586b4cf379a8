package market

import (
	"time"

	talib "github.com/markcheno/go-talib"
)

// 中文说明：
// Snapshot 每轮为单个标的新建，包含窗口内 K 线、现价、技术指标与可选盘口，
// 不单独持久化，只随决策审计记录落库。

type Indicators struct {
	SMA20       float64 `json:"sma_20"`
	EMA12       float64 `json:"ema_12"`
	EMA26       float64 `json:"ema_26"`
	RSI14       float64 `json:"rsi_14"`
	ATR14       float64 `json:"atr_14"`
	MACD        float64 `json:"macd"`
	MACDSignal  float64 `json:"macd_signal"`
	MACDHist    float64 `json:"macd_hist"`
	BollUpper   float64 `json:"boll_upper"`
	BollMiddle  float64 `json:"boll_middle"`
	BollLower   float64 `json:"boll_lower"`
	VolumeRatio float64 `json:"volume_ratio"`
}

type Snapshot struct {
	Symbol       string     `json:"symbol"`
	Candles      []Candle   `json:"candles"`
	CurrentPrice float64    `json:"current_price"`
	Indicators   Indicators `json:"indicators"`
	Book         *OrderBook `json:"book,omitempty"`
	FetchedAt    time.Time  `json:"fetched_at"`
}

// BuildSnapshot 从 K 线与盘口构建快照并计算指标。
func BuildSnapshot(symbol string, candles []Candle, book *OrderBook) Snapshot {
	snap := Snapshot{
		Symbol:    symbol,
		Candles:   candles,
		Book:      book,
		FetchedAt: time.Now().UTC(),
	}
	if len(candles) > 0 {
		snap.CurrentPrice = candles[len(candles)-1].Close
	}
	snap.Indicators = computeIndicators(candles)
	return snap
}

func computeIndicators(candles []Candle) Indicators {
	var ind Indicators
	n := len(candles)
	if n == 0 {
		return ind
	}
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	vols := make([]float64, n)
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
		vols[i] = c.Volume
	}
	if n >= 20 {
		ind.SMA20 = last(talib.Sma(closes, 20))
		upper, middle, lower := talib.BBands(closes, 20, 2, 2, talib.SMA)
		ind.BollUpper = last(upper)
		ind.BollMiddle = last(middle)
		ind.BollLower = last(lower)
		ind.VolumeRatio = volumeRatio(vols, 20)
	}
	if n >= 15 {
		ind.RSI14 = last(talib.Rsi(closes, 14))
		ind.ATR14 = last(talib.Atr(highs, lows, closes, 14))
	}
	if n >= 26 {
		ind.EMA12 = last(talib.Ema(closes, 12))
		ind.EMA26 = last(talib.Ema(closes, 26))
	}
	if n >= 35 {
		macd, signal, hist := talib.Macd(closes, 12, 26, 9)
		ind.MACD = last(macd)
		ind.MACDSignal = last(signal)
		ind.MACDHist = last(hist)
	}
	return ind
}

// volumeRatio 最新成交量相对最近 period 根均量的比值。
func volumeRatio(vols []float64, period int) float64 {
	n := len(vols)
	if n < period || period <= 0 {
		return 0
	}
	sum := 0.0
	for i := n - period; i < n; i++ {
		sum += vols[i]
	}
	avg := sum / float64(period)
	if avg == 0 {
		return 0
	}
	return vols[n-1] / avg
}

func last(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	return vals[len(vals)-1]
}
