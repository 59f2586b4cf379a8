package types

import "strings"

// 中文说明：
// Strategy 是用户持有的策略配置。旧版使用平铺字段，新版允许嵌套 override 覆盖；
// 管线入口统一通过 Resolve() 归一化，后续阶段只读 ResolvedConfig。

type TradingMode string

const (
	ModeStatistical      TradingMode = "statistical"
	ModeReasoning        TradingMode = "reasoning"
	ModeHybridThreshold  TradingMode = "hybrid_threshold"
	ModeHybridPercentage TradingMode = "hybrid_percentage"
)

type StrategyStatus string

const (
	StatusRunning StrategyStatus = "running"
	StatusPaused  StrategyStatus = "paused"
	StatusStopped StrategyStatus = "stopped"
)

// Strategy 平铺（legacy）字段 + 可选 override。
type Strategy struct {
	ID           string         `json:"id"`
	OwnerID      string         `json:"owner_id"`
	Name         string         `json:"name"`
	Exchange     string         `json:"exchange"`
	TargetAssets []string       `json:"target_assets"`
	Status       StrategyStatus `json:"status"`
	Mode         TradingMode    `json:"mode"`
	PaperTrading bool           `json:"paper_trading"`

	// 0~100，线性决定仓位乘数（50 为基准 1.0x）。
	RiskValue      int     `json:"risk_value"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	MaxLeverage    float64 `json:"max_leverage"`

	ConfidenceThreshold float64 `json:"confidence_threshold"`
	ReasoningPct        float64 `json:"reasoning_pct"`
	BaseNotionalUSD     float64 `json:"base_notional_usd"`
	ReasoningBudgetUSD  float64 `json:"reasoning_budget_usd"`

	// 开关型 sizing 特性（legacy 平铺）。
	VolatilitySizing  bool    `json:"volatility_sizing"`
	RiskPerTrade      float64 `json:"risk_per_trade"`
	ATRMultiplier     float64 `json:"atr_multiplier"`
	CostScreening     bool    `json:"cost_screening"`
	MaxCostBps        float64 `json:"max_cost_bps"`
	CorrelationLimits bool    `json:"correlation_limits"`
	CorrThreshold     float64 `json:"corr_threshold"`
	MaxCorrelatedPct  float64 `json:"max_correlated_pct"`
	SmartRouting      bool    `json:"smart_routing"`

	MaxPositions    int     `json:"max_positions"`
	MaxSymbolPct    float64 `json:"max_symbol_pct"`
	MaxClassPct     float64 `json:"max_class_pct"`
	MaxTradesPerDay int     `json:"max_trades_per_day"`

	// 自定义指令块，拼入推理服务的 user prompt。
	Instructions string `json:"instructions,omitempty"`

	// 嵌套 override：字段存在时优先于平铺字段。
	Override *StrategyOverride `json:"override,omitempty"`
}

// StrategyOverride 全部使用指针以区分“未设置”和“显式零值”。
type StrategyOverride struct {
	Mode                *TradingMode `json:"mode,omitempty"`
	RiskValue           *int         `json:"risk_value,omitempty"`
	MaxDrawdownPct      *float64     `json:"max_drawdown_pct,omitempty"`
	MaxLeverage         *float64     `json:"max_leverage,omitempty"`
	ConfidenceThreshold *float64     `json:"confidence_threshold,omitempty"`
	ReasoningPct        *float64     `json:"reasoning_pct,omitempty"`
	BaseNotionalUSD     *float64     `json:"base_notional_usd,omitempty"`
	ReasoningBudgetUSD  *float64     `json:"reasoning_budget_usd,omitempty"`
	VolatilitySizing    *bool        `json:"volatility_sizing,omitempty"`
	RiskPerTrade        *float64     `json:"risk_per_trade,omitempty"`
	ATRMultiplier       *float64     `json:"atr_multiplier,omitempty"`
	CostScreening       *bool        `json:"cost_screening,omitempty"`
	MaxCostBps          *float64     `json:"max_cost_bps,omitempty"`
	CorrelationLimits   *bool        `json:"correlation_limits,omitempty"`
	CorrThreshold       *float64     `json:"corr_threshold,omitempty"`
	MaxCorrelatedPct    *float64     `json:"max_correlated_pct,omitempty"`
	SmartRouting        *bool        `json:"smart_routing,omitempty"`
	MaxPositions        *int         `json:"max_positions,omitempty"`
	MaxSymbolPct        *float64     `json:"max_symbol_pct,omitempty"`
	MaxClassPct         *float64     `json:"max_class_pct,omitempty"`
	MaxTradesPerDay     *int         `json:"max_trades_per_day,omitempty"`
	FractionalKelly     *float64     `json:"fractional_kelly,omitempty"`
	Instructions        *string      `json:"instructions,omitempty"`
}

// RiskProfile 由 risk_value 分档。
type RiskProfile string

const (
	ProfileConservative RiskProfile = "conservative"
	ProfileBalanced     RiskProfile = "balanced"
	ProfileAggressive   RiskProfile = "aggressive"
)

// ResolvedConfig 管线每轮使用的最终配置值，只读。
type ResolvedConfig struct {
	Mode                TradingMode
	Profile             RiskProfile
	RiskValue           int
	MaxDrawdownPct      float64
	MaxLeverage         float64
	ConfidenceThreshold float64
	ReasoningPct        float64
	BaseNotionalUSD     float64
	ReasoningBudgetUSD  float64
	FractionalKelly     float64
	VolatilitySizing    bool
	RiskPerTrade        float64
	ATRMultiplier       float64
	CostScreening       bool
	MaxCostBps          float64
	CorrelationLimits   bool
	CorrThreshold       float64
	MaxCorrelatedPct    float64
	SmartRouting        bool
	MaxPositions        int
	MaxSymbolPct        float64
	MaxClassPct         float64
	MaxTradesPerDay     int
	Instructions        string
}

// Resolve 归一化：override > 平铺字段 > 档位默认。纯函数，每轮只计算一次。
func (s *Strategy) Resolve() ResolvedConfig {
	rc := ResolvedConfig{
		Mode:                s.Mode,
		RiskValue:           s.RiskValue,
		MaxDrawdownPct:      s.MaxDrawdownPct,
		MaxLeverage:         s.MaxLeverage,
		ConfidenceThreshold: s.ConfidenceThreshold,
		ReasoningPct:        s.ReasoningPct,
		BaseNotionalUSD:     s.BaseNotionalUSD,
		ReasoningBudgetUSD:  s.ReasoningBudgetUSD,
		FractionalKelly:     0,
		VolatilitySizing:    s.VolatilitySizing,
		RiskPerTrade:        s.RiskPerTrade,
		ATRMultiplier:       s.ATRMultiplier,
		CostScreening:       s.CostScreening,
		MaxCostBps:          s.MaxCostBps,
		CorrelationLimits:   s.CorrelationLimits,
		CorrThreshold:       s.CorrThreshold,
		MaxCorrelatedPct:    s.MaxCorrelatedPct,
		SmartRouting:        s.SmartRouting,
		MaxPositions:        s.MaxPositions,
		MaxSymbolPct:        s.MaxSymbolPct,
		MaxClassPct:         s.MaxClassPct,
		MaxTradesPerDay:     s.MaxTradesPerDay,
		Instructions:        s.Instructions,
	}
	if o := s.Override; o != nil {
		if o.Mode != nil {
			rc.Mode = *o.Mode
		}
		if o.RiskValue != nil {
			rc.RiskValue = *o.RiskValue
		}
		if o.MaxDrawdownPct != nil {
			rc.MaxDrawdownPct = *o.MaxDrawdownPct
		}
		if o.MaxLeverage != nil {
			rc.MaxLeverage = *o.MaxLeverage
		}
		if o.ConfidenceThreshold != nil {
			rc.ConfidenceThreshold = *o.ConfidenceThreshold
		}
		if o.ReasoningPct != nil {
			rc.ReasoningPct = *o.ReasoningPct
		}
		if o.BaseNotionalUSD != nil {
			rc.BaseNotionalUSD = *o.BaseNotionalUSD
		}
		if o.ReasoningBudgetUSD != nil {
			rc.ReasoningBudgetUSD = *o.ReasoningBudgetUSD
		}
		if o.VolatilitySizing != nil {
			rc.VolatilitySizing = *o.VolatilitySizing
		}
		if o.RiskPerTrade != nil {
			rc.RiskPerTrade = *o.RiskPerTrade
		}
		if o.ATRMultiplier != nil {
			rc.ATRMultiplier = *o.ATRMultiplier
		}
		if o.CostScreening != nil {
			rc.CostScreening = *o.CostScreening
		}
		if o.MaxCostBps != nil {
			rc.MaxCostBps = *o.MaxCostBps
		}
		if o.CorrelationLimits != nil {
			rc.CorrelationLimits = *o.CorrelationLimits
		}
		if o.CorrThreshold != nil {
			rc.CorrThreshold = *o.CorrThreshold
		}
		if o.MaxCorrelatedPct != nil {
			rc.MaxCorrelatedPct = *o.MaxCorrelatedPct
		}
		if o.SmartRouting != nil {
			rc.SmartRouting = *o.SmartRouting
		}
		if o.MaxPositions != nil {
			rc.MaxPositions = *o.MaxPositions
		}
		if o.MaxSymbolPct != nil {
			rc.MaxSymbolPct = *o.MaxSymbolPct
		}
		if o.MaxClassPct != nil {
			rc.MaxClassPct = *o.MaxClassPct
		}
		if o.MaxTradesPerDay != nil {
			rc.MaxTradesPerDay = *o.MaxTradesPerDay
		}
		if o.FractionalKelly != nil {
			rc.FractionalKelly = *o.FractionalKelly
		}
		if o.Instructions != nil {
			rc.Instructions = *o.Instructions
		}
	}
	rc.applyDefaults()
	return rc
}

func (rc *ResolvedConfig) applyDefaults() {
	if rc.RiskValue < 0 {
		rc.RiskValue = 0
	}
	if rc.RiskValue > 100 {
		rc.RiskValue = 100
	}
	rc.Profile = profileForRisk(rc.RiskValue)
	if rc.Mode == "" {
		rc.Mode = ModeHybridThreshold
	}
	if rc.ConfidenceThreshold <= 0 {
		switch rc.Profile {
		case ProfileConservative:
			rc.ConfidenceThreshold = 0.80
		case ProfileAggressive:
			rc.ConfidenceThreshold = 0.60
		default:
			rc.ConfidenceThreshold = 0.70
		}
	}
	if rc.MaxDrawdownPct <= 0 {
		rc.MaxDrawdownPct = 20
	}
	if rc.MaxLeverage <= 0 {
		rc.MaxLeverage = 1
	}
	if rc.BaseNotionalUSD <= 0 {
		rc.BaseNotionalUSD = 100
	}
	if rc.FractionalKelly <= 0 {
		rc.FractionalKelly = 0.25
	}
	if rc.ATRMultiplier <= 0 {
		rc.ATRMultiplier = 2
	}
	if rc.MaxCostBps <= 0 {
		rc.MaxCostBps = 50
	}
	if rc.CorrThreshold <= 0 {
		rc.CorrThreshold = 0.7
	}
	if rc.MaxCorrelatedPct <= 0 {
		rc.MaxCorrelatedPct = 50
	}
	if rc.MaxPositions <= 0 {
		rc.MaxPositions = 10
	}
	if rc.MaxSymbolPct <= 0 {
		rc.MaxSymbolPct = 20
	}
	if rc.MaxClassPct <= 0 {
		rc.MaxClassPct = 50
	}
	if rc.MaxTradesPerDay <= 0 {
		rc.MaxTradesPerDay = 10
	}
	if rc.ReasoningPct < 0 {
		rc.ReasoningPct = 0
	}
	if rc.ReasoningPct > 1 {
		rc.ReasoningPct /= 100
	}
}

func profileForRisk(v int) RiskProfile {
	switch {
	case v < 40:
		return ProfileConservative
	case v > 60:
		return ProfileAggressive
	default:
		return ProfileBalanced
	}
}

// NormalizeSymbol 统一形如 "btc/usdt" 的输入为 "BTCUSDT"。
func NormalizeSymbol(sym string) string {
	sym = strings.ToUpper(strings.TrimSpace(sym))
	return strings.ReplaceAll(sym, "/", "")
}
