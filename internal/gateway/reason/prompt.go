package reason

import (
	"fmt"
	"strings"

	"helmsman/internal/market"
	"helmsman/internal/types"
)

const systemPrompt = `You are a disciplined quantitative trading assistant.
Given market indicators and current portfolio state, decide a single action for the primary symbol.
Respond with ONLY a JSON object with exactly these fields:
{"action": "LONG|SHORT|CLOSE|HOLD", "symbol": "<symbol>", "size": <quote currency notional>, "confidence": <0..1>, "rationale": "<one or two sentences>"}
No other text, no markdown fences.`

// BuildPrompts 由快照、持仓与策略自定义指令拼装推理请求。
func BuildPrompts(snap market.Snapshot, positions []types.PositionSnapshot, baseNotionalUSD float64, instructions string) (string, string) {
	var b strings.Builder
	ind := snap.Indicators
	fmt.Fprintf(&b, "Symbol: %s\nPrice: %.6f\n", snap.Symbol, snap.CurrentPrice)
	fmt.Fprintf(&b, "Indicators: SMA20=%.4f EMA12=%.4f EMA26=%.4f RSI14=%.2f ATR14=%.4f\n",
		ind.SMA20, ind.EMA12, ind.EMA26, ind.RSI14, ind.ATR14)
	fmt.Fprintf(&b, "MACD=%.4f signal=%.4f hist=%.4f\n", ind.MACD, ind.MACDSignal, ind.MACDHist)
	fmt.Fprintf(&b, "Bollinger: upper=%.4f middle=%.4f lower=%.4f\n", ind.BollUpper, ind.BollMiddle, ind.BollLower)
	fmt.Fprintf(&b, "VolumeRatio: %.2f\n", ind.VolumeRatio)
	if book := snap.Book; book != nil && len(book.Bids) > 0 && len(book.Asks) > 0 {
		fmt.Fprintf(&b, "Book: bid=%.6f ask=%.6f mid=%.6f\n",
			book.Bids[0].Price, book.Asks[0].Price, book.MidPrice())
	}
	fmt.Fprintf(&b, "Base notional (USD): %.2f\n", baseNotionalUSD)
	if len(positions) == 0 {
		b.WriteString("Open positions: none\n")
	} else {
		b.WriteString("Open positions:\n")
		for _, p := range positions {
			fmt.Fprintf(&b, "- %s %s qty=%.6f entry=%.6f value=%.2f upnl=%.2f\n",
				p.Symbol, p.Side, p.Quantity, p.EntryPrice, p.PositionValue, p.UnrealizedPn)
		}
	}
	if inst := strings.TrimSpace(instructions); inst != "" {
		b.WriteString("\nStrategy instructions:\n")
		b.WriteString(inst)
		b.WriteString("\n")
	}
	return systemPrompt, b.String()
}
