package app

import (
	"context"
	"fmt"
	"time"

	"helmsman/internal/arbiter"
	"helmsman/internal/config"
	"helmsman/internal/dispatch"
	"helmsman/internal/engine"
	"helmsman/internal/gateway/predict"
	"helmsman/internal/gateway/reason"
	"helmsman/internal/gateway/webhook"
	"helmsman/internal/logger"
	"helmsman/internal/market"
	"helmsman/internal/market/binance"
	"helmsman/internal/notifier"
	"helmsman/internal/scheduler"
	"helmsman/internal/store"
	httpapi "helmsman/internal/transport/http"
)

// build 按依赖顺序组装：存储 → 行情 → 模型网关 → 仲裁器 → 分发器 → 管线 → 调度器 → HTTP。
func build(cfg *config.Config) (*App, error) {
	st, err := store.NewGormStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	source := binance.New(binance.Config{
		RESTBaseURL: cfg.Market.RESTBaseURL,
		HTTPTimeout: time.Duration(cfg.Market.HTTPTimeoutSeconds) * time.Second,
	})
	fetcher := market.NewFetcher(source, cfg.Market.CandleInterval, cfg.Market.CandleLimit, cfg.Market.OrderBookDepth)

	predictClient := predict.NewClient(cfg.Predict.BaseURL, time.Duration(cfg.Predict.TimeoutSeconds)*time.Second)
	probePredictHealth(predictClient)

	reasoner := &arbiter.ChatReasoner{Client: &reason.ChatClient{
		BaseURL:    cfg.Reasoning.APIURL,
		APIKey:     cfg.Reasoning.APIKey,
		Model:      cfg.Reasoning.Model,
		Timeout:    time.Duration(cfg.Reasoning.TimeoutSeconds) * time.Second,
		MaxRetries: cfg.Reasoning.MaxRetries,
	}}
	arb := arbiter.New(predictClient, reasoner, st, cfg.Reasoning.CostPerCallUSD)

	sender, err := webhook.NewClient(cfg.Dispatch.URL, time.Duration(cfg.Dispatch.TimeoutSeconds)*time.Second, cfg.Dispatch.MaxRetries)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("dispatch client: %w", err)
	}
	dispatcher := dispatch.New(sender, st, dispatch.Options{
		TWAPThresholdUSD: cfg.Dispatch.TWAPThresholdUSD,
		TWAPSlices:       cfg.Dispatch.TWAPSlices,
		TWAPDuration:     time.Duration(cfg.Dispatch.TWAPDurationSeconds) * time.Second,
	})

	var alerts engine.Notifier = notifier.Noop{}
	if tg := cfg.Notify.Telegram; tg.Enabled {
		alerts = notifier.NewTelegram(tg.BotToken, tg.ChatID)
	}

	pipeline := engine.NewPipeline(st, fetcher, arb, dispatcher, alerts)
	metrics := engine.NewMetrics()
	sched := scheduler.New(st, pipeline, metrics, scheduler.Options{
		Interval:        time.Duration(cfg.Scheduler.IntervalSeconds) * time.Second,
		StrategyPause:   time.Duration(cfg.Scheduler.StrategyPauseSeconds) * time.Second,
		MetricsLogEvery: cfg.Scheduler.MetricsLogEvery,
	})

	httpSrv, err := httpapi.NewServer(cfg.App.HTTPAddr, sched, st)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("http server: %w", err)
	}

	return &App{
		cfg:     cfg,
		store:   st,
		sched:   sched,
		http:    httpSrv,
		Summary: buildSummary(cfg),
	}, nil
}

// probePredictHealth 启动时探测一次统计预测服务，只记日志，不作为门槛。
func probePredictHealth(client *predict.Client) {
	if !client.Enabled() {
		logger.Infof("[app] prediction service not configured, arbitration will fall back to reasoning")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if client.Health(ctx) {
		logger.Infof("[app] prediction service healthy")
	} else {
		logger.Warnf("[app] prediction service unhealthy at startup, hybrid modes will fall back to reasoning until it recovers")
	}
}
