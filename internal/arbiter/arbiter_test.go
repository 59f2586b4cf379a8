package arbiter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"helmsman/internal/decision"
	"helmsman/internal/gateway/predict"
	"helmsman/internal/gateway/reason"
	"helmsman/internal/market"
	"helmsman/internal/types"
)

type MockPredictor struct {
	mock.Mock
	enabled bool
}

func (m *MockPredictor) Predict(ctx context.Context, features predict.Features) (*predict.Prediction, error) {
	args := m.Called(ctx, features)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*predict.Prediction), args.Error(1)
}

func (m *MockPredictor) Enabled() bool { return m.enabled }

type MockReasoner struct {
	mock.Mock
}

func (m *MockReasoner) Advise(ctx context.Context, req ReasonRequest) (*reason.Advice, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reason.Advice), args.Error(1)
}

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) AddModelUsage(ctx context.Context, strategyID, source, period string, costUSD float64) error {
	args := m.Called(ctx, strategyID, source, period, costUSD)
	return args.Error(0)
}

func (m *MockLedger) UsageCost(ctx context.Context, strategyID, source, period string) (float64, error) {
	args := m.Called(ctx, strategyID, source, period)
	return args.Get(0).(float64), args.Error(1)
}

func testStrategy(mode types.TradingMode) (types.Strategy, types.ResolvedConfig) {
	st := types.Strategy{
		ID:                  "strat-1",
		OwnerID:             "owner-1",
		Mode:                mode,
		RiskValue:           50,
		BaseNotionalUSD:     1000,
		ConfidenceThreshold: 0.70,
		ReasoningPct:        0.3,
	}
	return st, st.Resolve()
}

func testSnapshot() market.Snapshot {
	return market.Snapshot{Symbol: "BTCUSDT", CurrentPrice: 50000}
}

func newTestArbitrator(p Predictor, r Reasoner, l UsageLedger) *Arbitrator {
	a := New(p, r, l, 0.02)
	return a
}

func TestHybridThresholdUsesStatisticalAboveThreshold(t *testing.T) {
	p := &MockPredictor{enabled: true}
	p.On("Predict", mock.Anything, mock.Anything).Return(&predict.Prediction{
		Confidence: 0.85, Action: "LONG", Probability: 0.8, ShouldExecute: true, ModelVersion: "v3", ModelType: "gbdt",
	}, nil)
	l := &MockLedger{}
	l.On("AddModelUsage", mock.Anything, "strat-1", "statistical", mock.Anything, 0.0).Return(nil)

	st, rc := testStrategy(types.ModeHybridThreshold)
	a := newTestArbitrator(p, &MockReasoner{}, l)

	d, v, err := a.Decide(context.Background(), st, rc, testSnapshot(), nil)
	require.NoError(t, err)
	assert.Equal(t, decision.SourceStatistical, v.Source)
	assert.Equal(t, decision.ActionLong, d.Action)
	// size = 基准名义 × 置信度。
	assert.InDelta(t, 850.0, d.SizeUSD, 1e-9)
	assert.Contains(t, v.Reason, ">= threshold")
}

func TestHybridThresholdRoutesToReasoningBelowThreshold(t *testing.T) {
	p := &MockPredictor{enabled: true}
	p.On("Predict", mock.Anything, mock.Anything).Return(&predict.Prediction{
		Confidence: 0.55, Action: "LONG", ShouldExecute: true,
	}, nil)
	r := &MockReasoner{}
	r.On("Advise", mock.Anything, mock.Anything).Return(&reason.Advice{
		Action: "SHORT", Symbol: "BTCUSDT", Size: 700, Confidence: 0.9, Rationale: "overbought",
	}, nil)
	l := &MockLedger{}
	l.On("AddModelUsage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	st, rc := testStrategy(types.ModeHybridThreshold)
	a := newTestArbitrator(p, r, l)

	d, v, err := a.Decide(context.Background(), st, rc, testSnapshot(), nil)
	require.NoError(t, err)
	assert.Equal(t, decision.SourceReasoning, v.Source)
	assert.Equal(t, decision.ActionShort, d.Action)
	assert.Contains(t, v.Reason, "below threshold")
}

func TestHybridThresholdFallsBackWhenStatisticalDown(t *testing.T) {
	p := &MockPredictor{enabled: true}
	p.On("Predict", mock.Anything, mock.Anything).Return(nil, predict.ErrUnavailable)
	r := &MockReasoner{}
	r.On("Advise", mock.Anything, mock.Anything).Return(&reason.Advice{
		Action: "HOLD", Symbol: "BTCUSDT", Size: 0, Confidence: 0.5, Rationale: "unclear",
	}, nil)
	l := &MockLedger{}
	l.On("AddModelUsage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	st, rc := testStrategy(types.ModeHybridThreshold)
	a := newTestArbitrator(p, r, l)

	d, v, err := a.Decide(context.Background(), st, rc, testSnapshot(), nil)
	require.NoError(t, err)
	assert.Equal(t, decision.SourceReasoning, v.Source)
	assert.Contains(t, v.Reason, "fell back to reasoning")
	assert.True(t, d.IsHold())
}

func TestBudgetExhaustedForcesStatistical(t *testing.T) {
	p := &MockPredictor{enabled: true}
	p.On("Predict", mock.Anything, mock.Anything).Return(&predict.Prediction{
		Confidence: 0.4, Action: "LONG", ShouldExecute: true,
	}, nil)
	r := &MockReasoner{} // 不应被调用
	l := &MockLedger{}
	l.On("UsageCost", mock.Anything, "strat-1", "reasoning", mock.Anything).Return(25.0, nil)
	l.On("AddModelUsage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	st, rc := testStrategy(types.ModeReasoning)
	rc.ReasoningBudgetUSD = 20
	a := newTestArbitrator(p, r, l)

	_, v, err := a.Decide(context.Background(), st, rc, testSnapshot(), nil)
	require.NoError(t, err)
	assert.True(t, v.BudgetExhausted)
	assert.Equal(t, decision.SourceStatistical, v.Source)
	r.AssertNotCalled(t, "Advise", mock.Anything, mock.Anything)
}

func TestBudgetExhaustedDoesNotFallBackToReasoning(t *testing.T) {
	p := &MockPredictor{enabled: true}
	p.On("Predict", mock.Anything, mock.Anything).Return(nil, predict.ErrUnavailable)
	r := &MockReasoner{}
	l := &MockLedger{}
	l.On("UsageCost", mock.Anything, "strat-1", "reasoning", mock.Anything).Return(25.0, nil)

	st, rc := testStrategy(types.ModeHybridThreshold)
	rc.ReasoningBudgetUSD = 20
	a := newTestArbitrator(p, r, l)

	_, _, err := a.Decide(context.Background(), st, rc, testSnapshot(), nil)
	require.Error(t, err)
	r.AssertNotCalled(t, "Advise", mock.Anything, mock.Anything)
}

func TestHybridPercentageRouting(t *testing.T) {
	r := &MockReasoner{}
	r.On("Advise", mock.Anything, mock.Anything).Return(&reason.Advice{
		Action: "LONG", Symbol: "BTCUSDT", Size: 500, Confidence: 0.8, Rationale: "trend",
	}, nil)
	p := &MockPredictor{enabled: true}
	p.On("Predict", mock.Anything, mock.Anything).Return(&predict.Prediction{
		Confidence: 0.9, Action: "SHORT", ShouldExecute: true,
	}, nil)
	l := &MockLedger{}
	l.On("AddModelUsage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	st, rc := testStrategy(types.ModeHybridPercentage) // reasoning_pct = 0.3

	a := newTestArbitrator(p, r, l)
	a.randFn = func() float64 { return 0.1 } // < 0.3 → 推理
	_, v, err := a.Decide(context.Background(), st, rc, testSnapshot(), nil)
	require.NoError(t, err)
	assert.Equal(t, decision.SourceReasoning, v.Source)

	a.randFn = func() float64 { return 0.9 } // >= 0.3 → 统计
	_, v, err = a.Decide(context.Background(), st, rc, testSnapshot(), nil)
	require.NoError(t, err)
	assert.Equal(t, decision.SourceStatistical, v.Source)
}

func TestStatisticalShouldExecuteFalseIsHold(t *testing.T) {
	p := &MockPredictor{enabled: true}
	p.On("Predict", mock.Anything, mock.Anything).Return(&predict.Prediction{
		Confidence: 0.9, Action: "LONG", ShouldExecute: false,
	}, nil)
	l := &MockLedger{}
	l.On("AddModelUsage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	st, rc := testStrategy(types.ModeStatistical)
	a := newTestArbitrator(p, &MockReasoner{}, l)

	d, _, err := a.Decide(context.Background(), st, rc, testSnapshot(), nil)
	require.NoError(t, err)
	assert.True(t, d.IsHold())
	assert.Zero(t, d.SizeUSD)
}

func TestUsageLedgerFailureDoesNotAbort(t *testing.T) {
	p := &MockPredictor{enabled: true}
	p.On("Predict", mock.Anything, mock.Anything).Return(&predict.Prediction{
		Confidence: 0.8, Action: "LONG", ShouldExecute: true,
	}, nil)
	l := &MockLedger{}
	l.On("AddModelUsage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("ledger down"))

	st, rc := testStrategy(types.ModeStatistical)
	a := newTestArbitrator(p, &MockReasoner{}, l)

	d, _, err := a.Decide(context.Background(), st, rc, testSnapshot(), nil)
	require.NoError(t, err)
	assert.Equal(t, decision.ActionLong, d.Action)
}
