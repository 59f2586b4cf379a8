package engine

import (
	"context"

	"helmsman/internal/arbiter"
	"helmsman/internal/decision"
	"helmsman/internal/logger"
	"helmsman/internal/market"
	"helmsman/internal/risk"
	"helmsman/internal/store"
	"helmsman/internal/types"
)

// 审计负载：主标的快照（K 线截到最近 100 根）、扫描过的全部标的、
// 可用时的盘口、指标、组合状态、仲裁结果与逐闸门裁决。

const auditCandleLimit = 100

type assetScan struct {
	Symbol       string  `json:"symbol"`
	CurrentPrice float64 `json:"current_price"`
	Candles      int     `json:"candles"`
}

type auditPayload struct {
	Snapshot       market.Snapshot          `json:"snapshot"`
	AssetsScanned  []assetScan              `json:"assets_scanned"`
	AssetsSkipped  []string                 `json:"assets_skipped,omitempty"`
	Positions      []types.PositionSnapshot `json:"positions"`
	PortfolioValue float64                  `json:"portfolio_value"`
	Arbitration    arbiter.Verdict          `json:"arbitration"`
	Trail          []decision.Annotation    `json:"trail"`
}

// persistAudit 无论决策结果如何都写一条审计记录；失败只告警，绝不影响分发。
func (p *Pipeline) persistAudit(ctx context.Context, st types.Strategy, traceID string, d decision.Decision, verdict arbiter.Verdict, primary market.Snapshot, snapshots []market.Snapshot, skipped []string, positions []types.PositionSnapshot) {
	bounded := primary
	if len(bounded.Candles) > auditCandleLimit {
		bounded.Candles = bounded.Candles[len(bounded.Candles)-auditCandleLimit:]
	}
	scans := make([]assetScan, 0, len(snapshots))
	for _, s := range snapshots {
		scans = append(scans, assetScan{Symbol: s.Symbol, CurrentPrice: s.CurrentPrice, Candles: len(s.Candles)})
	}
	payload := auditPayload{
		Snapshot:       bounded,
		AssetsScanned:  scans,
		AssetsSkipped:  skipped,
		Positions:      positions,
		PortfolioValue: risk.PortfolioValue(positions),
		Arbitration:    verdict,
		Trail:          d.Trail,
	}
	rec := store.AuditRecord{
		TraceID:      traceID,
		StrategyID:   st.ID,
		OwnerID:      st.OwnerID,
		Symbol:       d.Symbol,
		Source:       string(d.Source),
		Confidence:   d.Confidence,
		RawAction:    string(d.RawAction),
		RawSizeUSD:   d.RawSizeUSD,
		FinalAction:  string(d.Action),
		FinalSizeUSD: d.SizeUSD,
		Rationale:    d.Rationale,
		Payload:      payload,
	}
	if err := p.Store.InsertDecisionAudit(ctx, rec); err != nil {
		logger.Warnf("[pipeline] audit persist failed strategy=%s trace=%s: %v", st.ID, traceID, err)
	}
}
