package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helmsman/internal/arbiter"
	"helmsman/internal/decision"
	"helmsman/internal/dispatch"
	"helmsman/internal/market"
	"helmsman/internal/store"
	"helmsman/internal/types"
)

// ------------------------- fakes -------------------------

type fakeStore struct {
	trades     []types.ClosedTrade
	tradesErr  error
	positions  []types.PositionSnapshot
	account    types.AccountSnapshot
	accountErr error
	signals    int64
	signalsErr error
	auditErr   error

	audits []store.AuditRecord
	paused []string
}

func (f *fakeStore) ClosedTrades(ctx context.Context, strategyID string, limit int) ([]types.ClosedTrade, error) {
	return f.trades, f.tradesErr
}

func (f *fakeStore) OpenPositions(ctx context.Context, ownerID string) ([]types.PositionSnapshot, error) {
	return f.positions, nil
}

func (f *fakeStore) Account(ctx context.Context, ownerID string) (types.AccountSnapshot, error) {
	return f.account, f.accountErr
}

func (f *fakeStore) InsertDecisionAudit(ctx context.Context, rec store.AuditRecord) error {
	if f.auditErr != nil {
		return f.auditErr
	}
	f.audits = append(f.audits, rec)
	return nil
}

func (f *fakeStore) PauseStrategy(ctx context.Context, strategyID string) error {
	f.paused = append(f.paused, strategyID)
	return nil
}

func (f *fakeStore) CountSignalsSince(ctx context.Context, strategyID string, since time.Time) (int64, error) {
	return f.signals, f.signalsErr
}

type fakeFetcher struct {
	snapshots map[string]market.Snapshot
	errs      map[string]error
}

func (f *fakeFetcher) GetSnapshot(ctx context.Context, symbol string) (market.Snapshot, error) {
	if err, ok := f.errs[symbol]; ok {
		return market.Snapshot{}, err
	}
	snap, ok := f.snapshots[symbol]
	if !ok {
		return market.Snapshot{}, fmt.Errorf("no data for %s", symbol)
	}
	return snap, nil
}

type fakeArbiter struct {
	decision decision.Decision
	verdict  arbiter.Verdict
	err      error
}

func (f *fakeArbiter) Decide(ctx context.Context, st types.Strategy, rc types.ResolvedConfig, snap market.Snapshot, positions []types.PositionSnapshot) (decision.Decision, arbiter.Verdict, error) {
	return f.decision, f.verdict, f.err
}

type fakeDispatcher struct {
	calls  int
	sizes  []float64
	err    error
	result *dispatch.Result
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, st types.Strategy, rc types.ResolvedConfig, d decision.Decision) (*dispatch.Result, error) {
	f.calls++
	f.sizes = append(f.sizes, d.SizeUSD)
	if f.err != nil {
		return &dispatch.Result{Failed: 1}, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &dispatch.Result{Sent: 1, SentUSD: d.SizeUSD}, nil
}

type fakeNotifier struct {
	messages []string
}

func (f *fakeNotifier) SendText(text string) error {
	f.messages = append(f.messages, text)
	return nil
}

// ------------------------- helpers -------------------------

func candlesFromCloses(closes ...float64) []market.Candle {
	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		t := base.Add(time.Duration(i) * time.Hour)
		out[i] = market.Candle{
			OpenTime:  t.UnixMilli(),
			CloseTime: t.Add(time.Hour).UnixMilli(),
			Open:      c, High: c * 1.01, Low: c * 0.99, Close: c,
			Volume: 100,
		}
	}
	return out
}

func snapshotFor(symbol string, closes ...float64) market.Snapshot {
	return market.BuildSnapshot(symbol, candlesFromCloses(closes...), nil)
}

func baseStrategy() types.Strategy {
	return types.Strategy{
		ID:           "strat-1",
		OwnerID:      "owner-1",
		Name:         "trend",
		Exchange:     "binance",
		TargetAssets: []string{"BTCUSDT"},
		Status:       types.StatusRunning,
		Mode:         types.ModeStatistical,
		RiskValue:    50,
	}
}

func longDecision(sizeUSD float64) decision.Decision {
	return decision.New(decision.ActionLong, "BTCUSDT", sizeUSD, 0.8, "trend up", decision.SourceStatistical)
}

func newTestPipeline(fs *fakeStore, ff *fakeFetcher, fa *fakeArbiter, fd *fakeDispatcher) (*Pipeline, *fakeNotifier) {
	fn := &fakeNotifier{}
	return NewPipeline(fs, ff, fa, fd, fn), fn
}

// ------------------------- tests -------------------------

func TestPipelineMultiplierScenario(t *testing.T) {
	// 风险值 20 → 乘数 0.5x：LONG 1000 → 分发 500。
	fs := &fakeStore{account: types.AccountSnapshot{Total: 100000}}
	ff := &fakeFetcher{snapshots: map[string]market.Snapshot{"BTCUSDT": snapshotFor("BTCUSDT", 100, 101, 102)}}
	fa := &fakeArbiter{decision: longDecision(1000), verdict: arbiter.Verdict{Source: decision.SourceStatistical, LatencyMs: 12}}
	fd := &fakeDispatcher{}
	st := baseStrategy()
	st.RiskValue = 20

	p, _ := newTestPipeline(fs, ff, fa, fd)
	out := p.RunStrategy(context.Background(), st)

	require.NoError(t, out.Err)
	assert.True(t, out.Signal)
	require.Equal(t, 1, fd.calls)
	assert.InDelta(t, 500.0, fd.sizes[0], 1e-9)
}

func TestPipelineHoldNeverDispatchesAndAuditsAnyway(t *testing.T) {
	fs := &fakeStore{}
	ff := &fakeFetcher{snapshots: map[string]market.Snapshot{"BTCUSDT": snapshotFor("BTCUSDT", 100, 101)}}
	fa := &fakeArbiter{decision: decision.New(decision.ActionHold, "BTCUSDT", 0, 0.4, "unclear", decision.SourceReasoning)}
	fd := &fakeDispatcher{}

	p, _ := newTestPipeline(fs, ff, fa, fd)
	out := p.RunStrategy(context.Background(), baseStrategy())

	require.NoError(t, out.Err)
	assert.False(t, out.Signal)
	assert.Zero(t, fd.calls)
	require.Len(t, fs.audits, 1)
	assert.Equal(t, "HOLD", fs.audits[0].FinalAction)
	assert.Zero(t, fs.audits[0].FinalSizeUSD)
}

func TestPipelineAtMostOneDispatchPerPass(t *testing.T) {
	fs := &fakeStore{account: types.AccountSnapshot{Total: 100000}}
	ff := &fakeFetcher{snapshots: map[string]market.Snapshot{"BTCUSDT": snapshotFor("BTCUSDT", 100, 101)}}
	fa := &fakeArbiter{decision: longDecision(1000)}
	fd := &fakeDispatcher{}

	p, _ := newTestPipeline(fs, ff, fa, fd)
	out := p.RunStrategy(context.Background(), baseStrategy())

	require.NoError(t, out.Err)
	assert.Equal(t, 1, fd.calls)
}

func TestPipelinePositionCountGateForcesHold(t *testing.T) {
	positions := make([]types.PositionSnapshot, 10)
	for i := range positions {
		positions[i] = types.PositionSnapshot{Symbol: fmt.Sprintf("SYM%dUSDT", i), PositionValue: 1000}
	}
	fs := &fakeStore{positions: positions, account: types.AccountSnapshot{Total: 100000}}
	ff := &fakeFetcher{snapshots: map[string]market.Snapshot{"BTCUSDT": snapshotFor("BTCUSDT", 100, 101)}}
	fa := &fakeArbiter{decision: longDecision(1000)}
	fd := &fakeDispatcher{}
	st := baseStrategy() // max_positions 默认 10

	p, _ := newTestPipeline(fs, ff, fa, fd)
	out := p.RunStrategy(context.Background(), st)

	require.NoError(t, out.Err)
	assert.Zero(t, fd.calls)
	require.Len(t, fs.audits, 1)
	assert.Equal(t, "HOLD", fs.audits[0].FinalAction)

	// 闸门独立：其余三个组合闸门即使在失败后也执行并留痕。
	payload := fmt.Sprintf("%v", fs.audits[0].Payload)
	for _, stage := range []string{gatePositionCount, gateSymbolShare, gateDailyTrades} {
		assert.Contains(t, payload, stage)
	}
}

func TestPipelineDailyTradeLimitForcesHold(t *testing.T) {
	fs := &fakeStore{signals: 10, account: types.AccountSnapshot{Total: 100000}}
	ff := &fakeFetcher{snapshots: map[string]market.Snapshot{"BTCUSDT": snapshotFor("BTCUSDT", 100, 101)}}
	fa := &fakeArbiter{decision: longDecision(1000)}
	fd := &fakeDispatcher{}
	st := baseStrategy() // max_trades_per_day 默认 10

	p, _ := newTestPipeline(fs, ff, fa, fd)
	out := p.RunStrategy(context.Background(), st)

	require.NoError(t, out.Err)
	assert.Zero(t, fd.calls)
	assert.Equal(t, "HOLD", fs.audits[0].FinalAction)
}

func TestPipelineDrawdownBreakerPausesAndBlocksDispatch(t *testing.T) {
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	// 峰值 12000 → 9600：回撤 20% = 默认限额。
	trades := []types.ClosedTrade{
		{PnL: 2000, ClosedAt: base},
		{PnL: -1500, ClosedAt: base.Add(time.Hour)},
		{PnL: -900, ClosedAt: base.Add(2 * time.Hour)},
	}
	fs := &fakeStore{trades: trades, account: types.AccountSnapshot{Total: 100000}}
	ff := &fakeFetcher{snapshots: map[string]market.Snapshot{"BTCUSDT": snapshotFor("BTCUSDT", 100, 101)}}
	fa := &fakeArbiter{decision: longDecision(1000)}
	fd := &fakeDispatcher{}

	p, fn := newTestPipeline(fs, ff, fa, fd)
	out := p.RunStrategy(context.Background(), baseStrategy())

	require.NoError(t, out.Err)
	assert.True(t, out.Paused)
	assert.Zero(t, fd.calls)
	assert.Equal(t, []string{"strat-1"}, fs.paused)
	assert.NotEmpty(t, fn.messages)
	require.Len(t, fs.audits, 1)
	assert.Equal(t, "HOLD", fs.audits[0].FinalAction)
}

func TestPipelineDrawdownBreakerIndependentOfModelDecision(t *testing.T) {
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	trades := []types.ClosedTrade{
		{PnL: 2000, ClosedAt: base},
		{PnL: -3000, ClosedAt: base.Add(time.Hour)},
	}
	fs := &fakeStore{trades: trades}
	ff := &fakeFetcher{snapshots: map[string]market.Snapshot{"BTCUSDT": snapshotFor("BTCUSDT", 100, 101)}}
	// 模型说 HOLD，熔断仍然触发暂停。
	fa := &fakeArbiter{decision: decision.New(decision.ActionHold, "BTCUSDT", 0, 0.3, "", decision.SourceStatistical)}
	fd := &fakeDispatcher{}

	p, _ := newTestPipeline(fs, ff, fa, fd)
	out := p.RunStrategy(context.Background(), baseStrategy())

	require.NoError(t, out.Err)
	assert.True(t, out.Paused)
	assert.Equal(t, []string{"strat-1"}, fs.paused)
}

func TestPipelineCorrelationScreenForcesHold(t *testing.T) {
	primaryCloses := []float64{100, 102, 99, 103, 101, 104}
	ethCloses := []float64{200, 204, 198, 206, 202, 208} // 收益率与主标的完全一致
	fs := &fakeStore{
		account: types.AccountSnapshot{Total: 100000},
		positions: []types.PositionSnapshot{
			{Symbol: "ETHUSDT", PositionValue: 5500},
			{Symbol: "XRPUSDT", PositionValue: 4500},
		},
	}
	ff := &fakeFetcher{
		snapshots: map[string]market.Snapshot{
			"BTCUSDT": snapshotFor("BTCUSDT", primaryCloses...),
			"ETHUSDT": snapshotFor("ETHUSDT", ethCloses...),
		},
		errs: map[string]error{"XRPUSDT": errors.New("no history")},
	}
	fa := &fakeArbiter{decision: longDecision(1000)}
	fd := &fakeDispatcher{}
	st := baseStrategy()
	st.CorrelationLimits = true

	p, _ := newTestPipeline(fs, ff, fa, fd)
	out := p.RunStrategy(context.Background(), st)

	require.NoError(t, out.Err)
	assert.Zero(t, fd.calls)
	require.Len(t, fs.audits, 1)
	assert.Equal(t, "HOLD", fs.audits[0].FinalAction)
	assert.Contains(t, fmt.Sprintf("%v", fs.audits[0].Payload), stageCorrelation)
}

func TestPipelineCorrelationCapIsConfigurable(t *testing.T) {
	primaryCloses := []float64{100, 102, 99, 103, 101, 104}
	adaCloses := []float64{200, 204, 198, 206, 202, 208} // 收益率与主标的完全一致
	fs := &fakeStore{
		account: types.AccountSnapshot{Total: 100000},
		positions: []types.PositionSnapshot{
			{Symbol: "ADAUSDT", PositionValue: 5500},
			{Symbol: "XRPUSDT", PositionValue: 4500},
		},
	}
	ff := &fakeFetcher{
		snapshots: map[string]market.Snapshot{
			"BTCUSDT": snapshotFor("BTCUSDT", primaryCloses...),
			"ADAUSDT": snapshotFor("ADAUSDT", adaCloses...),
		},
		errs: map[string]error{"XRPUSDT": errors.New("no history")},
	}
	fa := &fakeArbiter{decision: longDecision(1000)}
	fd := &fakeDispatcher{}
	st := baseStrategy()
	st.CorrelationLimits = true
	// 同一组合在默认上限 50% 下会被拦截；放宽上限后放行。
	st.MaxCorrelatedPct = 60

	p, _ := newTestPipeline(fs, ff, fa, fd)
	out := p.RunStrategy(context.Background(), st)

	require.NoError(t, out.Err)
	assert.True(t, out.Signal)
	assert.Equal(t, 1, fd.calls)
}

func TestPipelineAuditPreservesRawDecision(t *testing.T) {
	fs := &fakeStore{account: types.AccountSnapshot{Total: 100000}}
	ff := &fakeFetcher{snapshots: map[string]market.Snapshot{"BTCUSDT": snapshotFor("BTCUSDT", 100, 101)}}
	fa := &fakeArbiter{decision: longDecision(1000)}
	fd := &fakeDispatcher{}
	st := baseStrategy()
	st.RiskValue = 20

	p, _ := newTestPipeline(fs, ff, fa, fd)
	out := p.RunStrategy(context.Background(), st)

	require.NoError(t, out.Err)
	require.Len(t, fs.audits, 1)
	rec := fs.audits[0]
	assert.Equal(t, "LONG", rec.RawAction)
	assert.InDelta(t, 1000.0, rec.RawSizeUSD, 1e-9)
	assert.Equal(t, "LONG", rec.FinalAction)
	assert.InDelta(t, 500.0, rec.FinalSizeUSD, 1e-9)
	assert.Equal(t, out.TraceID, rec.TraceID)
	// 分发使用的就是审计记录里的最终值。
	assert.InDelta(t, rec.FinalSizeUSD, fd.sizes[0], 1e-9)
}

func TestPipelineAuditFailureNeverBlocksDispatch(t *testing.T) {
	fs := &fakeStore{account: types.AccountSnapshot{Total: 100000}, auditErr: errors.New("db locked")}
	ff := &fakeFetcher{snapshots: map[string]market.Snapshot{"BTCUSDT": snapshotFor("BTCUSDT", 100, 101)}}
	fa := &fakeArbiter{decision: longDecision(1000)}
	fd := &fakeDispatcher{}

	p, _ := newTestPipeline(fs, ff, fa, fd)
	out := p.RunStrategy(context.Background(), baseStrategy())

	require.NoError(t, out.Err)
	assert.True(t, out.Signal)
	assert.Equal(t, 1, fd.calls)
}

func TestPipelineNoValidAssetsIsError(t *testing.T) {
	fs := &fakeStore{}
	ff := &fakeFetcher{errs: map[string]error{"BTCUSDT": errors.New("stale data")}}
	fa := &fakeArbiter{decision: longDecision(1000)}
	fd := &fakeDispatcher{}

	p, _ := newTestPipeline(fs, ff, fa, fd)
	out := p.RunStrategy(context.Background(), baseStrategy())

	require.Error(t, out.Err)
	assert.Zero(t, fd.calls)
	assert.Empty(t, fs.audits)
}

func TestPipelineInvalidAssetSkippedFirstValidIsPrimary(t *testing.T) {
	fs := &fakeStore{account: types.AccountSnapshot{Total: 100000}}
	ff := &fakeFetcher{
		snapshots: map[string]market.Snapshot{"ETHUSDT": snapshotFor("ETHUSDT", 200, 202)},
		errs:      map[string]error{"BTCUSDT": errors.New("stale data")},
	}
	fa := &fakeArbiter{decision: decision.New(decision.ActionLong, "ETHUSDT", 1000, 0.8, "", decision.SourceStatistical)}
	fd := &fakeDispatcher{}
	st := baseStrategy()
	st.TargetAssets = []string{"BTCUSDT", "ETHUSDT"}

	p, _ := newTestPipeline(fs, ff, fa, fd)
	out := p.RunStrategy(context.Background(), st)

	require.NoError(t, out.Err)
	require.Len(t, fs.audits, 1)
	assert.Equal(t, "ETHUSDT", fs.audits[0].Symbol)
	assert.Contains(t, fmt.Sprintf("%v", fs.audits[0].Payload), "BTCUSDT") // skipped 标的进审计
}

func TestPipelineArbitrationErrorCountsAsCycleError(t *testing.T) {
	fs := &fakeStore{}
	ff := &fakeFetcher{snapshots: map[string]market.Snapshot{"BTCUSDT": snapshotFor("BTCUSDT", 100, 101)}}
	fa := &fakeArbiter{err: errors.New("reasoning output malformed")}
	fd := &fakeDispatcher{}

	p, _ := newTestPipeline(fs, ff, fa, fd)
	out := p.RunStrategy(context.Background(), baseStrategy())

	require.Error(t, out.Err)
	assert.Zero(t, fd.calls)
}

func TestPipelineGenericRiskCheckBlocksOversizedTrade(t *testing.T) {
	// size 超过 权益×最大杠杆（默认 1x）。
	fs := &fakeStore{account: types.AccountSnapshot{Total: 100}}
	ff := &fakeFetcher{snapshots: map[string]market.Snapshot{"BTCUSDT": snapshotFor("BTCUSDT", 100, 101)}}
	fa := &fakeArbiter{decision: longDecision(1000)}
	fd := &fakeDispatcher{}

	p, _ := newTestPipeline(fs, ff, fa, fd)
	out := p.RunStrategy(context.Background(), baseStrategy())

	require.NoError(t, out.Err)
	assert.Zero(t, fd.calls)
	assert.Equal(t, "HOLD", fs.audits[0].FinalAction)
}

func TestPipelinePaperTradingSkipsGenericRiskCheck(t *testing.T) {
	fs := &fakeStore{account: types.AccountSnapshot{Total: 100}}
	ff := &fakeFetcher{snapshots: map[string]market.Snapshot{"BTCUSDT": snapshotFor("BTCUSDT", 100, 101)}}
	fa := &fakeArbiter{decision: longDecision(1000)}
	fd := &fakeDispatcher{}
	st := baseStrategy()
	st.PaperTrading = true

	p, _ := newTestPipeline(fs, ff, fa, fd)
	out := p.RunStrategy(context.Background(), st)

	require.NoError(t, out.Err)
	assert.Equal(t, 1, fd.calls)
}

func TestPipelineGateQueryFailureFailsOpen(t *testing.T) {
	// 当日信号计数查询失败 → fail-open，放行分发。
	fs := &fakeStore{signalsErr: errors.New("query timeout"), account: types.AccountSnapshot{Total: 100000}}
	ff := &fakeFetcher{snapshots: map[string]market.Snapshot{"BTCUSDT": snapshotFor("BTCUSDT", 100, 101)}}
	fa := &fakeArbiter{decision: longDecision(1000)}
	fd := &fakeDispatcher{}

	p, _ := newTestPipeline(fs, ff, fa, fd)
	out := p.RunStrategy(context.Background(), baseStrategy())

	require.NoError(t, out.Err)
	assert.True(t, out.Signal)
}

func TestPipelineDrawdownQueryFailureDegradesToAllow(t *testing.T) {
	fs := &fakeStore{tradesErr: errors.New("db down"), account: types.AccountSnapshot{Total: 100000}}
	ff := &fakeFetcher{snapshots: map[string]market.Snapshot{"BTCUSDT": snapshotFor("BTCUSDT", 100, 101)}}
	fa := &fakeArbiter{decision: longDecision(1000)}
	fd := &fakeDispatcher{}
	st := baseStrategy()
	st.PaperTrading = true // 绕开通用风控（它也依赖交易历史）

	p, _ := newTestPipeline(fs, ff, fa, fd)
	out := p.RunStrategy(context.Background(), st)

	require.NoError(t, out.Err)
	assert.True(t, out.Signal)
	assert.Empty(t, fs.paused)
}

func TestPipelineCostScreenForcesHold(t *testing.T) {
	snap := snapshotFor("BTCUSDT", 100, 101)
	snap.Book = &market.OrderBook{
		Symbol: "BTCUSDT",
		Bids:   []market.BookLevel{{Price: 98, Quantity: 100}},
		Asks:   []market.BookLevel{{Price: 102, Quantity: 100}}, // 中间价 100，滑点 200bp
	}
	fs := &fakeStore{account: types.AccountSnapshot{Total: 100000}}
	ff := &fakeFetcher{snapshots: map[string]market.Snapshot{"BTCUSDT": snap}}
	fa := &fakeArbiter{decision: longDecision(1000)}
	fd := &fakeDispatcher{}
	st := baseStrategy()
	st.CostScreening = true
	st.MaxCostBps = 50

	p, _ := newTestPipeline(fs, ff, fa, fd)
	out := p.RunStrategy(context.Background(), st)

	require.NoError(t, out.Err)
	assert.Zero(t, fd.calls)
	assert.Equal(t, "HOLD", fs.audits[0].FinalAction)
	assert.Contains(t, fmt.Sprintf("%v", fs.audits[0].Payload), stageCostScreen)
}

func TestPipelineDispatchFailureIsCycleError(t *testing.T) {
	fs := &fakeStore{account: types.AccountSnapshot{Total: 100000}}
	ff := &fakeFetcher{snapshots: map[string]market.Snapshot{"BTCUSDT": snapshotFor("BTCUSDT", 100, 101)}}
	fa := &fakeArbiter{decision: longDecision(1000)}
	fd := &fakeDispatcher{err: errors.New("gateway 500")}

	p, _ := newTestPipeline(fs, ff, fa, fd)
	out := p.RunStrategy(context.Background(), baseStrategy())

	require.Error(t, out.Err)
	assert.False(t, out.Signal)
	// 审计仍然写入。
	require.Len(t, fs.audits, 1)
}
