package app

import (
	"fmt"
	"strings"

	"helmsman/internal/config"
)

// StartupSummary 启动时打印一次的配置摘要。
type StartupSummary struct {
	Env             string
	HTTPAddr        string
	StorePath       string
	Interval        int
	StrategyPause   int
	CandleInterval  string
	CandleLimit     int
	PredictBaseURL  string
	ReasoningModel  string
	DispatchURL     string
	TWAPThreshold   float64
	TWAPSlices      int
	TelegramEnabled bool
}

func buildSummary(cfg *config.Config) *StartupSummary {
	return &StartupSummary{
		Env:             cfg.App.Env,
		HTTPAddr:        cfg.App.HTTPAddr,
		StorePath:       cfg.Store.Path,
		Interval:        cfg.Scheduler.IntervalSeconds,
		StrategyPause:   cfg.Scheduler.StrategyPauseSeconds,
		CandleInterval:  cfg.Market.CandleInterval,
		CandleLimit:     cfg.Market.CandleLimit,
		PredictBaseURL:  cfg.Predict.BaseURL,
		ReasoningModel:  cfg.Reasoning.Model,
		DispatchURL:     cfg.Dispatch.URL,
		TWAPThreshold:   cfg.Dispatch.TWAPThresholdUSD,
		TWAPSlices:      cfg.Dispatch.TWAPSlices,
		TelegramEnabled: cfg.Notify.Telegram.Enabled,
	}
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 72))
	fmt.Println("启动配置摘要 (STARTUP SUMMARY)")
	fmt.Println(strings.Repeat("=", 72))
	fmt.Printf("  环境: %s  HTTP: %s\n", s.Env, s.HTTPAddr)
	fmt.Printf("  存储: %s\n", s.StorePath)
	fmt.Printf("  决策周期: %ds  策略间隔: %ds\n", s.Interval, s.StrategyPause)
	fmt.Printf("  K线: %s × %d\n", s.CandleInterval, s.CandleLimit)
	if s.PredictBaseURL != "" {
		fmt.Printf("  统计预测服务: %s\n", s.PredictBaseURL)
	} else {
		fmt.Println("  统计预测服务: (未配置)")
	}
	fmt.Printf("  推理模型: %s\n", s.ReasoningModel)
	fmt.Printf("  执行网关: %s  TWAP: >%.0f USD × %d 片\n", s.DispatchURL, s.TWAPThreshold, s.TWAPSlices)
	fmt.Printf("  Telegram 告警: %v\n", s.TelegramEnabled)
	fmt.Println(strings.Repeat("=", 72))
}
