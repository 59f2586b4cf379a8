package market

import (
	"fmt"
	"time"
)

// 数据质量校验：空序列、乱序、陈旧缺口都会让该标的在本轮被跳过。

var ErrNoData = fmt.Errorf("no market data")

// ValidateCandles 校验 K 线序列：非空、open_time 单调递增、末根不陈旧。
// interval 为单根 K 线周期；最后一根收盘时间距 now 超过 2 个周期视为陈旧。
func ValidateCandles(candles []Candle, interval time.Duration, now time.Time) error {
	if len(candles) == 0 {
		return ErrNoData
	}
	for i := 1; i < len(candles); i++ {
		if candles[i].OpenTime <= candles[i-1].OpenTime {
			return fmt.Errorf("candles out of order at index %d", i)
		}
	}
	if interval <= 0 {
		return nil
	}
	lastClose := time.UnixMilli(candles[len(candles)-1].CloseTime)
	if now.Sub(lastClose) > 2*interval {
		return fmt.Errorf("stale data: last close %s is %s old", lastClose.Format(time.RFC3339), now.Sub(lastClose).Truncate(time.Second))
	}
	return nil
}

// ParseIntervalDuration 解析 "1m"/"1h"/"1d" 形式的周期。
func ParseIntervalDuration(interval string) (time.Duration, bool) {
	if len(interval) < 2 {
		return 0, false
	}
	unit := interval[len(interval)-1]
	var mult time.Duration
	switch unit {
	case 'm':
		mult = time.Minute
	case 'h':
		mult = time.Hour
	case 'd':
		mult = 24 * time.Hour
	case 'w':
		mult = 7 * 24 * time.Hour
	default:
		return 0, false
	}
	n := 0
	for _, r := range interval[:len(interval)-1] {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	if n <= 0 {
		return 0, false
	}
	return time.Duration(n) * mult, true
}
