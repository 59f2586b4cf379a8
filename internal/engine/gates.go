package engine

import (
	"context"
	"fmt"

	"helmsman/internal/decision"
	"helmsman/internal/logger"
	"helmsman/internal/market"
	"helmsman/internal/risk"
	"helmsman/internal/types"
)

// 中文说明：
// 仓位级联与风险闸门。每个闸门的 fail-open / fail-closed 策略在 gate 描述符上
// 显式声明；绝大多数闸门 OpenOnError（可用性优先），回撤熔断与通用风控
// ClosedOnError，但计算异常时降级为放行+告警。顺序不可调整：后面的检查
// 假定前面的仓位调整已经生效。

const (
	stageMultiplier  = "risk_multiplier"
	stageKelly       = "kelly_sizing"
	stageVolatility  = "volatility_sizing"
	stageCostScreen  = "cost_screen"
	stageCorrelation = "correlation_screen"

	gatePositionCount = "max_positions"
	gateSymbolShare   = "symbol_concentration"
	gateClassShare    = "class_concentration"
	gateDailyTrades   = "daily_trade_limit"
	gateDrawdown      = "drawdown_breaker"
	gateRiskCheck     = "risk_check"

	// 回撤距限额 5 个百分点以内先告警。
	drawdownWarnBand = 5.0
)

// gate 把失败策略做成闸门接口上的显式属性。
type gate struct {
	name string
	mode risk.FailureMode
	eval func() (risk.Result, error)
}

// run 执行闸门并按 FailureMode 处理评估失败。
// 当前两种模式在失败时都降级为放行，区别在于 ClosedOnError 以更高级别告警。
func (g gate) run(strategyID string) risk.Result {
	res, err := g.eval()
	if err == nil {
		return res
	}
	if g.mode == risk.ClosedOnError {
		logger.Errorf("[gate] %s evaluation failed strategy=%s (mode=%s, degrading to allow): %v",
			g.name, strategyID, g.mode, err)
	} else {
		logger.Warnf("[gate] %s evaluation failed strategy=%s (mode=%s): %v", g.name, strategyID, g.mode, err)
	}
	return risk.Allow(g.name, fmt.Sprintf("evaluation failed (%s): %v", g.mode, err), nil)
}

// ------------------------- 3. 仓位级联 -------------------------

func (p *Pipeline) applySizingCascade(ctx context.Context, st types.Strategy, rc types.ResolvedConfig, d decision.Decision, primary market.Snapshot, snapshots []market.Snapshot, positions []types.PositionSnapshot) decision.Decision {
	// a. 风险档位乘数。
	mult := risk.ProfileMultiplier(rc.RiskValue)
	d = d.WithSize(d.SizeUSD*mult, stageMultiplier,
		fmt.Sprintf("risk value %d => multiplier %.2fx", rc.RiskValue, mult),
		map[string]float64{"multiplier": mult, "risk_value": float64(rc.RiskValue)})

	// b. Kelly 重定仓。历史查询失败 fail-open。
	trades, err := p.Store.ClosedTrades(ctx, st.ID, 100)
	if err != nil {
		logger.Warnf("[pipeline] closed trades lookup failed strategy=%s, kelly skipped: %v", st.ID, err)
		d = d.Annotated(stageKelly, true, fmt.Sprintf("trade history unavailable: %v", err), nil)
	} else {
		size, kr := risk.KellySize(trades, d.SizeUSD, rc.FractionalKelly)
		if kr.Applied {
			d = d.WithSize(size, stageKelly,
				fmt.Sprintf("kelly fraction %.4f from %d trades (p=%.2f b=%.2f)", kr.Fraction, kr.Trades, kr.WinRate, kr.EdgeB),
				map[string]float64{"fraction": kr.Fraction, "raw": kr.Raw, "win_rate": kr.WinRate, "trades": float64(kr.Trades)})
		} else {
			d = d.Annotated(stageKelly, true,
				fmt.Sprintf("insufficient history (%d trades), size unchanged", kr.Trades),
				map[string]float64{"trades": float64(kr.Trades)})
		}
	}

	// c. 波动率定仓（可选）：启用且 ATR 可用时替换而非叠加之前的仓位。
	if rc.VolatilitySizing {
		account, err := p.Store.Account(ctx, st.OwnerID)
		if err != nil {
			logger.Warnf("[pipeline] account lookup failed strategy=%s, volatility sizing skipped: %v", st.ID, err)
			d = d.Annotated(stageVolatility, true, fmt.Sprintf("account unavailable: %v", err), nil)
		} else if size, ok := risk.VolatilitySize(account.Total, rc.RiskPerTrade, primary.Indicators.ATR14, rc.ATRMultiplier, primary.CurrentPrice); ok {
			d = d.WithSize(size, stageVolatility,
				fmt.Sprintf("volatility sizing replaced size (ATR=%.4f mult=%.1f)", primary.Indicators.ATR14, rc.ATRMultiplier),
				map[string]float64{"atr": primary.Indicators.ATR14, "balance": account.Total, "risk_per_trade": rc.RiskPerTrade})
		} else {
			d = d.Annotated(stageVolatility, true, "ATR unavailable, size unchanged", nil)
		}
	}

	// d. 交易成本筛查（可选）：超过上限强制 HOLD，而不是缩仓。
	if rc.CostScreening {
		est, ok := risk.EstimateCost(primary.Book, string(d.Action), d.SizeUSD, 0, 0)
		switch {
		case !ok:
			d = d.Annotated(stageCostScreen, true, "order book unavailable, cost screen skipped", nil)
		case est.TotalBps > rc.MaxCostBps:
			d = d.ForceHold(stageCostScreen,
				fmt.Sprintf("estimated cost %.1f bps exceeds ceiling %.1f bps", est.TotalBps, rc.MaxCostBps),
				map[string]float64{"total_bps": est.TotalBps, "slippage_bps": est.SlippageBps, "ceiling_bps": rc.MaxCostBps})
		default:
			d = d.Annotated(stageCostScreen, true,
				fmt.Sprintf("estimated cost %.1f bps within ceiling %.1f bps", est.TotalBps, rc.MaxCostBps),
				map[string]float64{"total_bps": est.TotalBps, "slippage_bps": est.SlippageBps})
		}
	}

	// e. 相关性筛查（可选）。
	if rc.CorrelationLimits && !d.IsHold() {
		d = p.applyCorrelationScreen(ctx, st, rc, d, primary, snapshots, positions)
	}
	return d
}

// applyCorrelationScreen 计算主标的收益率与各持仓的 Pearson 相关，
// 高相关持仓合计占组合超过上限则强制 HOLD。持仓行情拉取失败时该持仓被跳过。
func (p *Pipeline) applyCorrelationScreen(ctx context.Context, st types.Strategy, rc types.ResolvedConfig, d decision.Decision, primary market.Snapshot, snapshots []market.Snapshot, positions []types.PositionSnapshot) decision.Decision {
	if len(positions) == 0 {
		return d.Annotated(stageCorrelation, true, "no open positions", nil)
	}
	primaryReturns := market.Returns(primary.Candles)
	bySymbol := make(map[string][]float64, len(snapshots))
	for _, s := range snapshots {
		bySymbol[s.Symbol] = market.Returns(s.Candles)
	}
	corrPositions := make([]risk.CorrelatedPosition, 0, len(positions))
	for _, pos := range positions {
		symbol := types.NormalizeSymbol(pos.Symbol)
		returns, ok := bySymbol[symbol]
		if !ok {
			snap, err := p.Fetcher.GetSnapshot(ctx, symbol)
			if err != nil {
				logger.Warnf("[pipeline] correlation data unavailable strategy=%s symbol=%s: %v", st.ID, symbol, err)
				continue
			}
			returns = market.Returns(snap.Candles)
			bySymbol[symbol] = returns
		}
		corrPositions = append(corrPositions, risk.CorrelatedPosition{
			Symbol:  symbol,
			Returns: returns,
			Value:   pos.PositionValue,
		})
	}
	exposure, coefficients := risk.CorrelatedExposure(primaryReturns, corrPositions, rc.CorrThreshold)
	total := risk.PortfolioValue(positions)
	if total <= 0 {
		return d.Annotated(stageCorrelation, true, "portfolio value unknown, screen skipped", nil)
	}
	sharePct := exposure / total * 100
	metrics := map[string]float64{"correlated_exposure_pct": sharePct, "threshold": rc.CorrThreshold, "cap_pct": rc.MaxCorrelatedPct}
	for sym, r := range coefficients {
		metrics["r_"+sym] = r
	}
	if sharePct > rc.MaxCorrelatedPct {
		return d.ForceHold(stageCorrelation,
			fmt.Sprintf("correlated exposure %.1f%% of portfolio exceeds cap %.0f%%", sharePct, rc.MaxCorrelatedPct),
			metrics)
	}
	return d.Annotated(stageCorrelation, true,
		fmt.Sprintf("correlated exposure %.1f%% within cap %.0f%%", sharePct, rc.MaxCorrelatedPct), metrics)
}

// ------------------------- 4. 组合闸门 -------------------------

// applyPortfolioGates 四个闸门全部执行（即使前面已有失败），审计完整性优先。
func (p *Pipeline) applyPortfolioGates(ctx context.Context, st types.Strategy, rc types.ResolvedConfig, d decision.Decision, positions []types.PositionSnapshot) decision.Decision {
	proposedUSD := d.SizeUSD
	gates := []gate{
		{
			name: gatePositionCount,
			mode: risk.OpenOnError,
			eval: func() (risk.Result, error) {
				n := len(positions)
				metrics := map[string]float64{"open_positions": float64(n), "max_positions": float64(rc.MaxPositions)}
				if n >= rc.MaxPositions {
					return risk.Deny(gatePositionCount,
						fmt.Sprintf("open positions %d at limit %d", n, rc.MaxPositions), metrics), nil
				}
				return risk.Allow(gatePositionCount, fmt.Sprintf("%d/%d positions", n, rc.MaxPositions), metrics), nil
			},
		},
		{
			name: gateSymbolShare,
			mode: risk.OpenOnError,
			eval: func() (risk.Result, error) {
				share := risk.SymbolShare(positions, d.Symbol, proposedUSD)
				metrics := map[string]float64{"symbol_share_pct": share, "max_symbol_pct": rc.MaxSymbolPct}
				if share > rc.MaxSymbolPct {
					return risk.Deny(gateSymbolShare,
						fmt.Sprintf("symbol share %.1f%% exceeds %.0f%%", share, rc.MaxSymbolPct), metrics), nil
				}
				return risk.Allow(gateSymbolShare, fmt.Sprintf("symbol share %.1f%%", share), metrics), nil
			},
		},
		{
			name: gateClassShare,
			mode: risk.OpenOnError,
			eval: func() (risk.Result, error) {
				group, share := risk.ClassShare(positions, d.Symbol, proposedUSD)
				if group == "" {
					return risk.Allow(gateClassShare, "symbol not in any correlated group", nil), nil
				}
				metrics := map[string]float64{"class_share_pct": share, "max_class_pct": rc.MaxClassPct}
				if share > rc.MaxClassPct {
					return risk.Deny(gateClassShare,
						fmt.Sprintf("group %q share %.1f%% exceeds %.0f%%", group, share, rc.MaxClassPct), metrics), nil
				}
				return risk.Allow(gateClassShare, fmt.Sprintf("group %q share %.1f%%", group, share), metrics), nil
			},
		},
		{
			name: gateDailyTrades,
			mode: risk.OpenOnError,
			eval: func() (risk.Result, error) {
				n, err := p.Store.CountSignalsSince(ctx, st.ID, utcMidnight(p.nowFn()))
				if err != nil {
					return risk.Result{}, err
				}
				metrics := map[string]float64{"signals_today": float64(n), "max_trades_per_day": float64(rc.MaxTradesPerDay)}
				if n >= int64(rc.MaxTradesPerDay) {
					return risk.Deny(gateDailyTrades,
						fmt.Sprintf("%d signals dispatched today, limit %d", n, rc.MaxTradesPerDay), metrics), nil
				}
				return risk.Allow(gateDailyTrades, fmt.Sprintf("%d/%d signals today", n, rc.MaxTradesPerDay), metrics), nil
			},
		},
	}
	for _, g := range gates {
		res := g.run(st.ID)
		if res.Allowed {
			d = d.Annotated(res.Name, true, res.Reason, res.Metrics)
		} else {
			d = d.ForceHold(res.Name, res.Reason, res.Metrics)
		}
	}
	return d
}

// ------------------------- 5. 回撤熔断 -------------------------

// applyDrawdownBreaker 无条件执行。回撤达到限额即暂停策略并禁止分发；
// 距限额 5 个百分点以内只告警。评估失败降级为放行+告警（ClosedOnError 语义）。
func (p *Pipeline) applyDrawdownBreaker(ctx context.Context, st types.Strategy, rc types.ResolvedConfig, d decision.Decision) (decision.Decision, bool) {
	g := gate{
		name: gateDrawdown,
		mode: risk.ClosedOnError,
		eval: func() (risk.Result, error) {
			trades, err := p.Store.ClosedTrades(ctx, st.ID, 100)
			if err != nil {
				return risk.Result{}, err
			}
			stats := risk.Drawdown(trades, 0)
			metrics := map[string]float64{
				"drawdown_pct": stats.DrawdownPct,
				"max_dd_pct":   stats.MaxDDPct,
				"limit_pct":    rc.MaxDrawdownPct,
				"peak_equity":  stats.PeakEquity,
			}
			if stats.DrawdownPct >= rc.MaxDrawdownPct {
				res := risk.Deny(gateDrawdown,
					fmt.Sprintf("drawdown %.1f%% reached limit %.0f%%", stats.DrawdownPct, rc.MaxDrawdownPct), metrics)
				res.Pause = true
				return res, nil
			}
			if stats.DrawdownPct >= rc.MaxDrawdownPct-drawdownWarnBand {
				logger.Warnf("[pipeline] drawdown %.1f%% approaching limit %.0f%% strategy=%s",
					stats.DrawdownPct, rc.MaxDrawdownPct, st.ID)
			}
			return risk.Allow(gateDrawdown,
				fmt.Sprintf("drawdown %.1f%% below limit %.0f%%", stats.DrawdownPct, rc.MaxDrawdownPct), metrics), nil
		},
	}
	res := g.run(st.ID)
	if res.Allowed {
		return d.Annotated(res.Name, true, res.Reason, res.Metrics), false
	}

	logger.Errorf("[pipeline] drawdown circuit breaker tripped strategy=%s: %s", st.ID, res.Reason)
	if err := p.Store.PauseStrategy(ctx, st.ID); err != nil {
		logger.Errorf("[pipeline] pause strategy %s failed: %v", st.ID, err)
	}
	if p.Notifier != nil {
		msg := fmt.Sprintf("⛔ 策略 %s (%s) 触发回撤熔断已暂停：%s", st.Name, st.ID, res.Reason)
		if err := p.Notifier.SendText(msg); err != nil {
			logger.Warnf("[pipeline] pause notification failed strategy=%s: %v", st.ID, err)
		}
	}
	return d.ForceHold(res.Name, res.Reason, res.Metrics), true
}

// ------------------------- 6. 通用风控 -------------------------

// applyGenericRiskCheck 复合检查：独立口径的回撤重算、仓位上限合理性、
// 杠杆上限、短窗口亏损熔断。任一失败强制 HOLD；内部计算异常降级为放行+告警。
func (p *Pipeline) applyGenericRiskCheck(ctx context.Context, st types.Strategy, rc types.ResolvedConfig, d decision.Decision, positions []types.PositionSnapshot) decision.Decision {
	g := gate{
		name: gateRiskCheck,
		mode: risk.ClosedOnError,
		eval: func() (risk.Result, error) {
			account, err := p.Store.Account(ctx, st.OwnerID)
			if err != nil {
				return risk.Result{}, fmt.Errorf("account lookup: %w", err)
			}
			trades, err := p.Store.ClosedTrades(ctx, st.ID, 100)
			if err != nil {
				return risk.Result{}, fmt.Errorf("trade history: %w", err)
			}

			// 独立口径：以账户权益为起点重算回撤。
			stats := risk.Drawdown(trades, account.Total)
			if stats.DrawdownPct >= rc.MaxDrawdownPct {
				return risk.Deny(gateRiskCheck,
					fmt.Sprintf("independent drawdown %.1f%% over limit %.0f%%", stats.DrawdownPct, rc.MaxDrawdownPct),
					map[string]float64{"drawdown_pct": stats.DrawdownPct}), nil
			}

			// 仓位上限合理性：不得超过账户权益 × 最大杠杆。
			if account.Total > 0 && d.SizeUSD > account.Total*rc.MaxLeverage {
				return risk.Deny(gateRiskCheck,
					fmt.Sprintf("size %.2f exceeds equity %.2f × leverage %.1f", d.SizeUSD, account.Total, rc.MaxLeverage),
					map[string]float64{"size_usd": d.SizeUSD, "equity": account.Total, "max_leverage": rc.MaxLeverage}), nil
			}

			// 持仓杠杆越界。
			for _, pos := range positions {
				if pos.Leverage > rc.MaxLeverage {
					return risk.Deny(gateRiskCheck,
						fmt.Sprintf("position %s leverage %.1f exceeds max %.1f", pos.Symbol, pos.Leverage, rc.MaxLeverage),
						map[string]float64{"leverage": pos.Leverage, "max_leverage": rc.MaxLeverage}), nil
				}
			}

			// 短窗口亏损聚集熔断。
			b := p.feedBreaker(st, trades, account.Total)
			if !b.Allow() {
				return risk.Deny(gateRiskCheck,
					fmt.Sprintf("loss breaker %s open, trading suspended", b.State()), nil), nil
			}
			return risk.Allow(gateRiskCheck, "all composite checks passed",
				map[string]float64{"drawdown_pct": stats.DrawdownPct}), nil
		},
	}
	res := g.run(st.ID)
	if res.Allowed {
		return d.Annotated(res.Name, true, res.Reason, res.Metrics)
	}
	return d.ForceHold(res.Name, res.Reason, res.Metrics)
}
