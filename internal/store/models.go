package store

import (
	"time"

	"gorm.io/datatypes"
)

// StrategyModel maps to 'strategies' table.
type StrategyModel struct {
	ID           string         `gorm:"column:id;primaryKey"`
	OwnerID      string         `gorm:"column:owner_id;index"`
	Name         string         `gorm:"column:name"`
	Exchange     string         `gorm:"column:exchange"`
	TargetAssets datatypes.JSON `gorm:"column:target_assets"`
	Status       string         `gorm:"column:status;index"`
	Mode         string         `gorm:"column:mode"`
	PaperTrading bool           `gorm:"column:paper_trading"`

	RiskValue           int     `gorm:"column:risk_value"`
	MaxDrawdownPct      float64 `gorm:"column:max_drawdown_pct"`
	MaxLeverage         float64 `gorm:"column:max_leverage"`
	ConfidenceThreshold float64 `gorm:"column:confidence_threshold"`
	ReasoningPct        float64 `gorm:"column:reasoning_pct"`
	BaseNotionalUSD     float64 `gorm:"column:base_notional_usd"`
	ReasoningBudgetUSD  float64 `gorm:"column:reasoning_budget_usd"`

	VolatilitySizing  bool    `gorm:"column:volatility_sizing"`
	RiskPerTrade      float64 `gorm:"column:risk_per_trade"`
	ATRMultiplier     float64 `gorm:"column:atr_multiplier"`
	CostScreening     bool    `gorm:"column:cost_screening"`
	MaxCostBps        float64 `gorm:"column:max_cost_bps"`
	CorrelationLimits bool    `gorm:"column:correlation_limits"`
	CorrThreshold     float64 `gorm:"column:corr_threshold"`
	MaxCorrelatedPct  float64 `gorm:"column:max_correlated_pct"`
	SmartRouting      bool    `gorm:"column:smart_routing"`

	MaxPositions    int     `gorm:"column:max_positions"`
	MaxSymbolPct    float64 `gorm:"column:max_symbol_pct"`
	MaxClassPct     float64 `gorm:"column:max_class_pct"`
	MaxTradesPerDay int     `gorm:"column:max_trades_per_day"`

	Instructions string         `gorm:"column:instructions"`
	OverrideJSON datatypes.JSON `gorm:"column:override_json"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (StrategyModel) TableName() string { return "strategies" }

// ClosedTradeModel maps to 'closed_trades' table.
type ClosedTradeModel struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	StrategyID string    `gorm:"column:strategy_id;index"`
	Symbol     string    `gorm:"column:symbol"`
	Side       string    `gorm:"column:side"`
	PnL        float64   `gorm:"column:pnl"`
	SizeUSD    float64   `gorm:"column:size_usd"`
	ClosedAt   time.Time `gorm:"column:closed_at;index"`
}

func (ClosedTradeModel) TableName() string { return "closed_trades" }

// PositionModel maps to 'open_positions' table.
type PositionModel struct {
	ID            int64     `gorm:"column:id;primaryKey;autoIncrement"`
	OwnerID       string    `gorm:"column:owner_id;index"`
	Symbol        string    `gorm:"column:symbol"`
	Side          string    `gorm:"column:side"`
	EntryPrice    float64   `gorm:"column:entry_price"`
	Quantity      float64   `gorm:"column:quantity"`
	Leverage      float64   `gorm:"column:leverage"`
	CurrentPrice  float64   `gorm:"column:current_price"`
	PositionValue float64   `gorm:"column:position_value"`
	UnrealizedPn  float64   `gorm:"column:unrealized_pn"`
	OpenedAt      time.Time `gorm:"column:opened_at"`
}

func (PositionModel) TableName() string { return "open_positions" }

// AccountModel maps to 'accounts' table.
type AccountModel struct {
	OwnerID   string    `gorm:"column:owner_id;primaryKey"`
	Total     float64   `gorm:"column:total"`
	Available float64   `gorm:"column:available"`
	Used      float64   `gorm:"column:used"`
	Currency  string    `gorm:"column:currency"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (AccountModel) TableName() string { return "accounts" }

// CredentialModel maps to 'dispatch_credentials' table.
type CredentialModel struct {
	OwnerID   string    `gorm:"column:owner_id;primaryKey"`
	Secret    string    `gorm:"column:secret"`
	Exchange  string    `gorm:"column:exchange"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (CredentialModel) TableName() string { return "dispatch_credentials" }

// AuditModel maps to 'decision_audits' table.
type AuditModel struct {
	ID           int64          `gorm:"column:id;primaryKey;autoIncrement"`
	TraceID      string         `gorm:"column:trace_id;index"`
	StrategyID   string         `gorm:"column:strategy_id;index"`
	OwnerID      string         `gorm:"column:owner_id"`
	Symbol       string         `gorm:"column:symbol"`
	Source       string         `gorm:"column:source"`
	Confidence   float64        `gorm:"column:confidence"`
	RawAction    string         `gorm:"column:raw_action"`
	RawSizeUSD   float64        `gorm:"column:raw_size_usd"`
	FinalAction  string         `gorm:"column:final_action"`
	FinalSizeUSD float64        `gorm:"column:final_size_usd"`
	Rationale    string         `gorm:"column:rationale"`
	Payload      datatypes.JSON `gorm:"column:payload"`
	CreatedAt    time.Time      `gorm:"column:created_at;autoCreateTime;index"`
}

func (AuditModel) TableName() string { return "decision_audits" }

// SignalModel maps to 'dispatched_signals' table.
type SignalModel struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement"`
	StrategyID   string    `gorm:"column:strategy_id;index"`
	Symbol       string    `gorm:"column:symbol"`
	Action       string    `gorm:"column:action"`
	SizeUSD      float64   `gorm:"column:size_usd"`
	DispatchedAt time.Time `gorm:"column:dispatched_at;index"`
}

func (SignalModel) TableName() string { return "dispatched_signals" }

// UsageModel maps to 'model_usage' table. period 为 "2006-01" 形式的预算周期。
type UsageModel struct {
	StrategyID string    `gorm:"column:strategy_id;primaryKey"`
	Source     string    `gorm:"column:source;primaryKey"`
	Period     string    `gorm:"column:period;primaryKey"`
	Calls      int64     `gorm:"column:calls"`
	CostUSD    float64   `gorm:"column:cost_usd"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (UsageModel) TableName() string { return "model_usage" }
