package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"helmsman/internal/types"
)

// 中文说明：
// GormStore 承载策略、持仓、已平仓交易、审计记录与信号/用量台账。
// 管线把它视为外部服务：并发一致性交给 SQLite (WAL)，本地不加锁。

var ErrCredentialNotFound = errors.New("dispatch credential not found")

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("store path cannot be empty")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	models := []interface{}{
		&StrategyModel{},
		&ClosedTradeModel{},
		&PositionModel{},
		&AccountModel{},
		&CredentialModel{},
		&AuditModel{},
		&SignalModel{},
		&UsageModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: 决策循环串行写，HTTP 只读，少量并行即可。
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ------------------------- Strategy -------------------------

func (s *GormStore) ListRunningStrategies(ctx context.Context) ([]types.Strategy, error) {
	var models []StrategyModel
	if err := s.db.WithContext(ctx).Where("status = ?", string(types.StatusRunning)).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]types.Strategy, 0, len(models))
	for _, m := range models {
		out = append(out, strategyFromModel(m))
	}
	return out, nil
}

// PauseStrategy 将策略状态置为 paused（回撤熔断触发）。
func (s *GormStore) PauseStrategy(ctx context.Context, strategyID string) error {
	res := s.db.WithContext(ctx).Model(&StrategyModel{}).
		Where("id = ?", strategyID).
		Update("status", string(types.StatusPaused))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *GormStore) CountRunningStrategies(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&StrategyModel{}).
		Where("status = ?", string(types.StatusRunning)).Count(&n).Error
	return n, err
}

func strategyFromModel(m StrategyModel) types.Strategy {
	st := types.Strategy{
		ID:                  m.ID,
		OwnerID:             m.OwnerID,
		Name:                m.Name,
		Exchange:            m.Exchange,
		Status:              types.StrategyStatus(m.Status),
		Mode:                types.TradingMode(m.Mode),
		PaperTrading:        m.PaperTrading,
		RiskValue:           m.RiskValue,
		MaxDrawdownPct:      m.MaxDrawdownPct,
		MaxLeverage:         m.MaxLeverage,
		ConfidenceThreshold: m.ConfidenceThreshold,
		ReasoningPct:        m.ReasoningPct,
		BaseNotionalUSD:     m.BaseNotionalUSD,
		ReasoningBudgetUSD:  m.ReasoningBudgetUSD,
		VolatilitySizing:    m.VolatilitySizing,
		RiskPerTrade:        m.RiskPerTrade,
		ATRMultiplier:       m.ATRMultiplier,
		CostScreening:       m.CostScreening,
		MaxCostBps:          m.MaxCostBps,
		CorrelationLimits:   m.CorrelationLimits,
		CorrThreshold:       m.CorrThreshold,
		MaxCorrelatedPct:    m.MaxCorrelatedPct,
		SmartRouting:        m.SmartRouting,
		MaxPositions:        m.MaxPositions,
		MaxSymbolPct:        m.MaxSymbolPct,
		MaxClassPct:         m.MaxClassPct,
		MaxTradesPerDay:     m.MaxTradesPerDay,
		Instructions:        m.Instructions,
	}
	if len(m.TargetAssets) > 0 {
		_ = json.Unmarshal(m.TargetAssets, &st.TargetAssets)
	}
	if len(m.OverrideJSON) > 0 {
		var ov types.StrategyOverride
		if err := json.Unmarshal(m.OverrideJSON, &ov); err == nil {
			st.Override = &ov
		}
	}
	return st
}

// ------------------------- Trades / positions -------------------------

// ClosedTrades 返回最近 limit 笔已平仓交易（平仓时间降序）。
func (s *GormStore) ClosedTrades(ctx context.Context, strategyID string, limit int) ([]types.ClosedTrade, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	var models []ClosedTradeModel
	err := s.db.WithContext(ctx).
		Where("strategy_id = ?", strategyID).
		Order("closed_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]types.ClosedTrade, 0, len(models))
	for _, m := range models {
		out = append(out, types.ClosedTrade{
			StrategyID: m.StrategyID,
			Symbol:     m.Symbol,
			Side:       m.Side,
			PnL:        m.PnL,
			SizeUSD:    m.SizeUSD,
			ClosedAt:   m.ClosedAt,
		})
	}
	return out, nil
}

func (s *GormStore) OpenPositions(ctx context.Context, ownerID string) ([]types.PositionSnapshot, error) {
	var models []PositionModel
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]types.PositionSnapshot, 0, len(models))
	for _, m := range models {
		out = append(out, types.PositionSnapshot{
			Symbol:        m.Symbol,
			Side:          m.Side,
			EntryPrice:    m.EntryPrice,
			Quantity:      m.Quantity,
			Leverage:      m.Leverage,
			CurrentPrice:  m.CurrentPrice,
			PositionValue: m.PositionValue,
			UnrealizedPn:  m.UnrealizedPn,
			OpenedAt:      m.OpenedAt.UnixMilli(),
		})
	}
	return out, nil
}

func (s *GormStore) Account(ctx context.Context, ownerID string) (types.AccountSnapshot, error) {
	var m AccountModel
	err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).First(&m).Error
	if err != nil {
		return types.AccountSnapshot{}, err
	}
	return types.AccountSnapshot{
		Total:     m.Total,
		Available: m.Available,
		Used:      m.Used,
		Currency:  m.Currency,
		UpdatedAt: m.UpdatedAt,
	}, nil
}

// ------------------------- Credentials -------------------------

func (s *GormStore) DispatchSecret(ctx context.Context, ownerID string) (string, error) {
	var m CredentialModel
	err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrCredentialNotFound
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(m.Secret) == "" {
		return "", ErrCredentialNotFound
	}
	return m.Secret, nil
}

// ------------------------- Audit -------------------------

// AuditRecord 决策审计记录；Payload 为结构化明细（快照、指标、gate 裁决等）。
type AuditRecord struct {
	TraceID      string
	StrategyID   string
	OwnerID      string
	Symbol       string
	Source       string
	Confidence   float64
	RawAction    string
	RawSizeUSD   float64
	FinalAction  string
	FinalSizeUSD float64
	Rationale    string
	Payload      any
}

func (s *GormStore) InsertDecisionAudit(ctx context.Context, rec AuditRecord) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	m := AuditModel{
		TraceID:      rec.TraceID,
		StrategyID:   rec.StrategyID,
		OwnerID:      rec.OwnerID,
		Symbol:       rec.Symbol,
		Source:       rec.Source,
		Confidence:   rec.Confidence,
		RawAction:    rec.RawAction,
		RawSizeUSD:   rec.RawSizeUSD,
		FinalAction:  rec.FinalAction,
		FinalSizeUSD: rec.FinalSizeUSD,
		Rationale:    rec.Rationale,
		Payload:      datatypes.JSON(payload),
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

func (s *GormStore) RecentAudits(ctx context.Context, strategyID string, limit int) ([]AuditModel, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if strings.TrimSpace(strategyID) != "" {
		q = q.Where("strategy_id = ?", strategyID)
	}
	var models []AuditModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	return models, nil
}

// AuditByTrace 按 trace_id 取回单条审计记录（测试与排障用）。
func (s *GormStore) AuditByTrace(ctx context.Context, traceID string) (*AuditModel, error) {
	var m AuditModel
	if err := s.db.WithContext(ctx).Where("trace_id = ?", traceID).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// ------------------------- Signals -------------------------

func (s *GormStore) RecordSignal(ctx context.Context, strategyID, symbol, action string, sizeUSD float64) error {
	m := SignalModel{
		StrategyID:   strategyID,
		Symbol:       symbol,
		Action:       action,
		SizeUSD:      sizeUSD,
		DispatchedAt: time.Now().UTC(),
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

// CountSignalsSince 统计 since 之后已派发的信号数（交易日限额用，since 取 UTC 零点）。
func (s *GormStore) CountSignalsSince(ctx context.Context, strategyID string, since time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&SignalModel{}).
		Where("strategy_id = ? AND dispatched_at >= ?", strategyID, since).
		Count(&n).Error
	return n, err
}

// ------------------------- Model usage ledger -------------------------

// AddModelUsage 累加一次模型调用（fire-and-forget，调用方不重试）。
func (s *GormStore) AddModelUsage(ctx context.Context, strategyID, source, period string, costUSD float64) error {
	m := UsageModel{
		StrategyID: strategyID,
		Source:     source,
		Period:     period,
		Calls:      1,
		CostUSD:    costUSD,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "strategy_id"}, {Name: "source"}, {Name: "period"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"calls":    gorm.Expr("model_usage.calls + 1"),
				"cost_usd": gorm.Expr("model_usage.cost_usd + excluded.cost_usd"),
			}),
		}).
		Create(&m).Error
}

// UsageCost 当前预算周期内某来源的累计成本。
func (s *GormStore) UsageCost(ctx context.Context, strategyID, source, period string) (float64, error) {
	var m UsageModel
	err := s.db.WithContext(ctx).
		Where("strategy_id = ? AND source = ? AND period = ?", strategyID, source, period).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return m.CostUSD, nil
}
