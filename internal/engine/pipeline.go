package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"helmsman/internal/arbiter"
	"helmsman/internal/decision"
	"helmsman/internal/dispatch"
	"helmsman/internal/logger"
	"helmsman/internal/market"
	"helmsman/internal/pkg/circuit"
	"helmsman/internal/store"
	"helmsman/internal/types"
)

// 中文说明：
// Pipeline 是单策略单轮的决策管线，阶段严格有序：
// 行情采集 → 模型仲裁 → 仓位级联 → 组合闸门 → 回撤熔断 → 通用风控 → 审计落库 → 分发。
// 强制 HOLD 只短路分发，不短路审计；审计与台账写失败只告警，绝不中断本轮。

// Store 管线对外部持久化存储的全部依赖。
type Store interface {
	ClosedTrades(ctx context.Context, strategyID string, limit int) ([]types.ClosedTrade, error)
	OpenPositions(ctx context.Context, ownerID string) ([]types.PositionSnapshot, error)
	Account(ctx context.Context, ownerID string) (types.AccountSnapshot, error)
	InsertDecisionAudit(ctx context.Context, rec store.AuditRecord) error
	PauseStrategy(ctx context.Context, strategyID string) error
	CountSignalsSince(ctx context.Context, strategyID string, since time.Time) (int64, error)
}

// SnapshotFetcher 带重试与校验的行情采集。
type SnapshotFetcher interface {
	GetSnapshot(ctx context.Context, symbol string) (market.Snapshot, error)
}

// Arbiter 模型仲裁。
type Arbiter interface {
	Decide(ctx context.Context, st types.Strategy, rc types.ResolvedConfig, snap market.Snapshot, positions []types.PositionSnapshot) (decision.Decision, arbiter.Verdict, error)
}

// SignalDispatcher 最终决策的分发序列（单笔或 TWAP）。
type SignalDispatcher interface {
	Dispatch(ctx context.Context, st types.Strategy, rc types.ResolvedConfig, d decision.Decision) (*dispatch.Result, error)
}

// Notifier 尽力而为的文本告警（熔断暂停时）。
type Notifier interface {
	SendText(text string) error
}

// Outcome 单策略本轮的处理结果，调度器据此累计指标。
type Outcome struct {
	StrategyID string
	TraceID    string
	Source     decision.Source
	LatencyMs  int64
	Signal     bool
	Paused     bool
	Err        error
}

type Pipeline struct {
	Store     Store
	Fetcher   SnapshotFetcher
	Arbiter   Arbiter
	Dispatch  SignalDispatcher
	Notifier  Notifier

	// 每策略的短窗口亏损熔断器与“已喂入的最后一笔平仓时间”。
	// 只在调度器的串行路径上读写。
	breakers map[string]*circuit.LossBreaker
	lastFed  map[string]time.Time

	nowFn func() time.Time
}

func NewPipeline(st Store, f SnapshotFetcher, a Arbiter, d SignalDispatcher, n Notifier) *Pipeline {
	return &Pipeline{
		Store:    st,
		Fetcher:  f,
		Arbiter:  a,
		Dispatch: d,
		Notifier: n,
		breakers: make(map[string]*circuit.LossBreaker),
		lastFed:  make(map[string]time.Time),
		nowFn:    time.Now,
	}
}

// RunStrategy 执行单策略的完整一轮。返回值用于指标累计，err 非空计为本轮错误。
func (p *Pipeline) RunStrategy(ctx context.Context, st types.Strategy) Outcome {
	out := Outcome{StrategyID: st.ID, TraceID: uuid.NewString()}
	rc := st.Resolve()

	// 1. 行情采集：逐标的拉取，失败跳过；全部失败为本轮错误。
	snapshots, skipped := p.scanAssets(ctx, st)
	if len(snapshots) == 0 {
		out.Err = fmt.Errorf("no valid market data for strategy %s (assets=%v)", st.ID, st.TargetAssets)
		return out
	}
	primary := snapshots[0]

	// 持仓查询失败不致命：用空持仓继续，相关闸门 fail-open。
	positions, err := p.Store.OpenPositions(ctx, st.OwnerID)
	if err != nil {
		logger.Warnf("[pipeline] open positions lookup failed strategy=%s: %v", st.ID, err)
		positions = nil
	}

	// 2. 模型仲裁。畸形推理输出是本轮硬错误，不落审计（没有可审计的决策）。
	d, verdict, err := p.Arbiter.Decide(ctx, st, rc, primary, positions)
	out.Source = verdict.Source
	out.LatencyMs = verdict.LatencyMs
	if err != nil {
		out.Err = fmt.Errorf("model arbitration: %w", err)
		return out
	}

	// 3. 仓位级联（仅非 HOLD）。
	if !d.IsHold() {
		d = p.applySizingCascade(ctx, st, rc, d, primary, snapshots, positions)
	}

	// 4. 组合闸门：非 HOLD 时全部执行，即使已有失败也继续，保证审计完整。
	if !d.IsHold() {
		d = p.applyPortfolioGates(ctx, st, rc, d, positions)
	}

	// 5. 回撤熔断：无条件执行，触发即暂停策略并禁止分发。
	d, paused := p.applyDrawdownBreaker(ctx, st, rc, d)
	out.Paused = paused

	// 6. 通用风控：纸上交易与 HOLD 决策跳过。
	if !st.PaperTrading && !d.IsHold() && !paused {
		d = p.applyGenericRiskCheck(ctx, st, rc, d, positions)
	}

	// 7. 审计落库：无论结果如何都写一条；失败只告警。
	p.persistAudit(ctx, st, out.TraceID, d, verdict, primary, snapshots, skipped, positions)

	// 8. 分发：每策略每轮至多一次分发序列。
	if !d.IsHold() && !paused {
		res, err := p.Dispatch.Dispatch(ctx, st, rc, d)
		if err != nil {
			out.Err = fmt.Errorf("dispatch: %w", err)
			return out
		}
		out.Signal = res != nil && res.Sent > 0
		logger.Infof("[pipeline] signal dispatched strategy=%s symbol=%s action=%s size=%.2f sliced=%v",
			st.ID, d.Symbol, d.Action, d.SizeUSD, res != nil && res.Sliced)
	}
	return out
}

// scanAssets 逐标的采集快照。第一个通过校验的标的为主标的，其余只进审计。
func (p *Pipeline) scanAssets(ctx context.Context, st types.Strategy) ([]market.Snapshot, []string) {
	var snapshots []market.Snapshot
	var skipped []string
	for _, asset := range st.TargetAssets {
		symbol := types.NormalizeSymbol(asset)
		if symbol == "" {
			continue
		}
		snap, err := p.Fetcher.GetSnapshot(ctx, symbol)
		if err != nil {
			logger.Warnf("[pipeline] asset skipped strategy=%s symbol=%s: %v", st.ID, symbol, err)
			skipped = append(skipped, symbol)
			continue
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, skipped
}

// breakerFor 延迟创建每策略的亏损熔断器。
func (p *Pipeline) breakerFor(strategyID string) *circuit.LossBreaker {
	b, ok := p.breakers[strategyID]
	if !ok {
		b = circuit.NewLossBreaker(strategyID, 3, time.Hour, 30*time.Minute)
		p.breakers[strategyID] = b
	}
	return b
}

// feedBreaker 把上次以来新增的大额亏损喂给熔断器（亏损超过账户 1% 视为大额）。
func (p *Pipeline) feedBreaker(st types.Strategy, trades []types.ClosedTrade, accountTotal float64) *circuit.LossBreaker {
	b := p.breakerFor(st.ID)
	threshold := accountTotal * 0.01
	if threshold <= 0 {
		threshold = 100
	}
	last := p.lastFed[st.ID]
	newest := last
	for _, t := range trades {
		if !t.ClosedAt.After(last) {
			continue
		}
		if t.ClosedAt.After(newest) {
			newest = t.ClosedAt
		}
		if t.PnL < -threshold {
			b.RecordLoss()
		} else if t.PnL > 0 {
			b.RecordWin()
		}
	}
	p.lastFed[st.ID] = newest
	return b
}

func utcMidnight(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
