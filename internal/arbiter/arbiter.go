package arbiter

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"helmsman/internal/decision"
	"helmsman/internal/gateway/predict"
	"helmsman/internal/gateway/reason"
	"helmsman/internal/logger"
	"helmsman/internal/market"
	"helmsman/internal/types"
)

// 中文说明：
// 仲裁器决定本轮决策由统计预测服务还是推理服务给出。
// 预算检查最先执行；统计服务不可用时混合模式回落到推理服务。
// 两类调用都会登记到用量台账（fire-and-forget，不影响决策路径）。

type Predictor interface {
	Predict(ctx context.Context, features predict.Features) (*predict.Prediction, error)
	Enabled() bool
}

// ReasonRequest 推理调用的输入。
type ReasonRequest struct {
	StrategyID      string
	Snapshot        market.Snapshot
	Positions       []types.PositionSnapshot
	BaseNotionalUSD float64
	Instructions    string
}

type Reasoner interface {
	Advise(ctx context.Context, req ReasonRequest) (*reason.Advice, error)
}

type UsageLedger interface {
	AddModelUsage(ctx context.Context, strategyID, source, period string, costUSD float64) error
	UsageCost(ctx context.Context, strategyID, source, period string) (float64, error)
}

// Verdict 记录本轮路由结果与原因（进审计）。
type Verdict struct {
	Source            decision.Source `json:"source"`
	Reason            string          `json:"reason"`
	BudgetExhausted   bool            `json:"budget_exhausted,omitempty"`
	PredictConfidence float64         `json:"predict_confidence,omitempty"`
	ModelVersion      string          `json:"model_version,omitempty"`
	LatencyMs         int64           `json:"latency_ms"`
}

type Arbitrator struct {
	Predictor Predictor
	Reasoner  Reasoner
	Ledger    UsageLedger

	ReasoningCostUSD float64

	randFn func() float64
	nowFn  func() time.Time
}

func New(p Predictor, r Reasoner, ledger UsageLedger, reasoningCostUSD float64) *Arbitrator {
	return &Arbitrator{
		Predictor:        p,
		Reasoner:         r,
		Ledger:           ledger,
		ReasoningCostUSD: reasoningCostUSD,
		randFn:           rand.Float64,
		nowFn:            time.Now,
	}
}

// Decide 产出原始决策。symbol 为主标的。
func (a *Arbitrator) Decide(ctx context.Context, st types.Strategy, rc types.ResolvedConfig, snap market.Snapshot, positions []types.PositionSnapshot) (decision.Decision, Verdict, error) {
	mode := rc.Mode
	verdict := Verdict{}

	// 预算检查最先：超支则本预算期内强制统计模式。
	if rc.ReasoningBudgetUSD > 0 && a.Ledger != nil {
		spent, err := a.Ledger.UsageCost(ctx, st.ID, string(decision.SourceReasoning), a.period())
		if err != nil {
			logger.Warnf("[arbiter] usage lookup failed strategy=%s: %v", st.ID, err)
		} else if spent >= rc.ReasoningBudgetUSD {
			mode = types.ModeStatistical
			verdict.BudgetExhausted = true
			verdict.Reason = fmt.Sprintf("reasoning budget exhausted (%.2f/%.2f USD)", spent, rc.ReasoningBudgetUSD)
		}
	}

	switch mode {
	case types.ModeStatistical:
		d, v, err := a.decideStatistical(ctx, st, rc, snap, positions)
		if err != nil {
			if verdict.BudgetExhausted {
				// 预算耗尽时不回落到推理服务，否则预算形同虚设。
				return decision.Decision{}, mergeVerdict(verdict, v), err
			}
			logger.Warnf("[arbiter] statistical unavailable strategy=%s, falling back to reasoning: %v", st.ID, err)
			d2, v2, err2 := a.decideReasoning(ctx, st, rc, snap, positions)
			v2.Reason = "statistical unavailable, fell back to reasoning"
			return d2, mergeVerdict(verdict, v2), err2
		}
		return d, mergeVerdict(verdict, v), nil

	case types.ModeReasoning:
		d, v, err := a.decideReasoning(ctx, st, rc, snap, positions)
		return d, mergeVerdict(verdict, v), err

	case types.ModeHybridPercentage:
		if a.randFn() < rc.ReasoningPct {
			d, v, err := a.decideReasoning(ctx, st, rc, snap, positions)
			v.Reason = fmt.Sprintf("percentage draw routed to reasoning (p=%.2f)", rc.ReasoningPct)
			return d, mergeVerdict(verdict, v), err
		}
		d, v, err := a.decideStatistical(ctx, st, rc, snap, positions)
		if err != nil {
			logger.Warnf("[arbiter] statistical unavailable strategy=%s, falling back to reasoning: %v", st.ID, err)
			d2, v2, err2 := a.decideReasoning(ctx, st, rc, snap, positions)
			v2.Reason = "statistical unavailable, fell back to reasoning"
			return d2, mergeVerdict(verdict, v2), err2
		}
		v.Reason = fmt.Sprintf("percentage draw routed to statistical (p=%.2f)", rc.ReasoningPct)
		return d, mergeVerdict(verdict, v), nil

	default: // hybrid_threshold
		d, v, err := a.decideStatistical(ctx, st, rc, snap, positions)
		if err != nil {
			logger.Warnf("[arbiter] statistical unavailable strategy=%s, falling back to reasoning: %v", st.ID, err)
			d2, v2, err2 := a.decideReasoning(ctx, st, rc, snap, positions)
			v2.Reason = "statistical unavailable, fell back to reasoning"
			return d2, mergeVerdict(verdict, v2), err2
		}
		if v.PredictConfidence >= rc.ConfidenceThreshold {
			v.Reason = fmt.Sprintf("statistical confidence %.2f >= threshold %.2f", v.PredictConfidence, rc.ConfidenceThreshold)
			return d, mergeVerdict(verdict, v), nil
		}
		d2, v2, err2 := a.decideReasoning(ctx, st, rc, snap, positions)
		v2.Reason = fmt.Sprintf("statistical confidence %.2f below threshold %.2f, routed to reasoning", v.PredictConfidence, rc.ConfidenceThreshold)
		return d2, mergeVerdict(verdict, v2), err2
	}
}

func (a *Arbitrator) decideStatistical(ctx context.Context, st types.Strategy, rc types.ResolvedConfig, snap market.Snapshot, positions []types.PositionSnapshot) (decision.Decision, Verdict, error) {
	if a.Predictor == nil || !a.Predictor.Enabled() {
		return decision.Decision{}, Verdict{Source: decision.SourceStatistical}, predict.ErrUnavailable
	}
	start := a.nowFn()
	pred, err := a.Predictor.Predict(ctx, buildFeatures(snap, positions))
	latency := a.nowFn().Sub(start).Milliseconds()
	v := Verdict{Source: decision.SourceStatistical, LatencyMs: latency}
	if err != nil {
		return decision.Decision{}, v, err
	}
	v.PredictConfidence = pred.Confidence
	v.ModelVersion = pred.ModelVersion
	a.recordUsage(ctx, st.ID, decision.SourceStatistical, 0)

	action := statisticalAction(pred)
	size := rc.BaseNotionalUSD * pred.Confidence
	rationale := fmt.Sprintf("statistical model %s/%s: action=%s probability=%.2f",
		pred.ModelType, pred.ModelVersion, pred.Action, pred.Probability)
	return decision.New(action, snap.Symbol, size, pred.Confidence, rationale, decision.SourceStatistical), v, nil
}

func (a *Arbitrator) decideReasoning(ctx context.Context, st types.Strategy, rc types.ResolvedConfig, snap market.Snapshot, positions []types.PositionSnapshot) (decision.Decision, Verdict, error) {
	if a.Reasoner == nil {
		return decision.Decision{}, Verdict{Source: decision.SourceReasoning}, fmt.Errorf("reasoning service not configured")
	}
	start := a.nowFn()
	advice, err := a.Reasoner.Advise(ctx, ReasonRequest{
		StrategyID:      st.ID,
		Snapshot:        snap,
		Positions:       positions,
		BaseNotionalUSD: rc.BaseNotionalUSD,
		Instructions:    rc.Instructions,
	})
	latency := a.nowFn().Sub(start).Milliseconds()
	v := Verdict{Source: decision.SourceReasoning, LatencyMs: latency}
	if err != nil {
		return decision.Decision{}, v, err
	}
	a.recordUsage(ctx, st.ID, decision.SourceReasoning, a.ReasoningCostUSD)

	symbol := advice.Symbol
	if symbol == "" {
		symbol = snap.Symbol
	}
	size := advice.Size
	if size <= 0 {
		size = rc.BaseNotionalUSD * advice.Confidence
	}
	return decision.New(decision.Action(advice.Action), symbol, size, advice.Confidence, advice.Rationale, decision.SourceReasoning), v, nil
}

// recordUsage fire-and-forget，台账失败只告警。
func (a *Arbitrator) recordUsage(ctx context.Context, strategyID string, src decision.Source, cost float64) {
	if a.Ledger == nil {
		return
	}
	if err := a.Ledger.AddModelUsage(ctx, strategyID, string(src), a.period(), cost); err != nil {
		logger.Warnf("[arbiter] usage ledger write failed strategy=%s source=%s: %v", strategyID, src, err)
	}
}

// period 预算周期（自然月，UTC）。
func (a *Arbitrator) period() string {
	return a.nowFn().UTC().Format("2006-01")
}

func statisticalAction(pred *predict.Prediction) decision.Action {
	if !pred.ShouldExecute {
		return decision.ActionHold
	}
	switch strings.ToUpper(strings.TrimSpace(pred.Action)) {
	case "LONG", "BUY":
		return decision.ActionLong
	case "SHORT", "SELL":
		return decision.ActionShort
	case "CLOSE":
		return decision.ActionClose
	default:
		return decision.ActionHold
	}
}

func buildFeatures(snap market.Snapshot, positions []types.PositionSnapshot) predict.Features {
	now := time.Now().UTC()
	f := predict.Features{
		Symbol:      snap.Symbol,
		Price:       snap.CurrentPrice,
		SMA20:       snap.Indicators.SMA20,
		EMA12:       snap.Indicators.EMA12,
		EMA26:       snap.Indicators.EMA26,
		RSI14:       snap.Indicators.RSI14,
		ATR14:       snap.Indicators.ATR14,
		MACD:        snap.Indicators.MACD,
		MACDSignal:  snap.Indicators.MACDSignal,
		BollUpper:   snap.Indicators.BollUpper,
		BollLower:   snap.Indicators.BollLower,
		VolumeRatio: snap.Indicators.VolumeRatio,

		OpenPositions: len(positions),

		HourOfDayUTC: now.Hour(),
		DayOfWeek:    int(now.Weekday()),
	}
	for _, p := range positions {
		f.PortfolioValue += p.PositionValue
	}
	if book := snap.Book; book != nil && len(book.Bids) > 0 && len(book.Asks) > 0 {
		bidQty, askQty := 0.0, 0.0
		for _, l := range book.Bids {
			bidQty += l.Quantity
		}
		for _, l := range book.Asks {
			askQty += l.Quantity
		}
		if total := bidQty + askQty; total > 0 {
			f.BookImbalance = (bidQty - askQty) / total
		}
		if mid := book.MidPrice(); mid > 0 {
			f.SpreadBps = (book.Asks[0].Price - book.Bids[0].Price) / mid * 10000
		}
	}
	return f
}

func mergeVerdict(base, v Verdict) Verdict {
	if base.BudgetExhausted {
		v.BudgetExhausted = true
		if base.Reason != "" && v.Reason == "" {
			v.Reason = base.Reason
		} else if base.Reason != "" {
			v.Reason = base.Reason + "; " + v.Reason
		}
	}
	return v
}
