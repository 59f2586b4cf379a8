package config

import "strings"

// 默认值常量
const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAppHTTPAddr       = ":9985"
	defaultSchedInterval     = 45
	defaultSchedPause        = 2
	defaultSchedMetricsEvery = 10
	defaultMarketREST        = "https://fapi.binance.com"
	defaultMarketTimeout     = 15
	defaultMarketInterval    = "1h"
	defaultMarketLimit       = 100
	defaultMarketDepth       = 20
	defaultStorePath         = "/data/db/helmsman.db"
	defaultPredictTimeout    = 10
	defaultReasoningAPI      = "https://api.openai.com/v1"
	defaultReasoningModel    = "gpt-4o-mini"
	defaultReasoningTimeout  = 60
	defaultReasoningRetries  = 2
	defaultReasoningCost     = 0.02
	defaultDispatchTimeout   = 15
	defaultDispatchRetries   = 2
	defaultTWAPThreshold     = 10000
	defaultTWAPSlices        = 5
	defaultTWAPDuration      = 300
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Scheduler.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Predict.applyDefaults(keys)
	c.Reasoning.applyDefaults(keys)
	c.Dispatch.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (s *SchedulerConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("scheduler.interval_seconds", &s.IntervalSeconds, defaultSchedInterval),
		intFieldDefault("scheduler.strategy_pause_seconds", &s.StrategyPauseSeconds, defaultSchedPause),
		intFieldDefault("scheduler.metrics_log_every", &s.MetricsLogEvery, defaultSchedMetricsEvery),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.rest_base_url", &m.RESTBaseURL, defaultMarketREST),
		intFieldDefault("market.http_timeout_seconds", &m.HTTPTimeoutSeconds, defaultMarketTimeout),
		stringFieldDefault("market.candle_interval", &m.CandleInterval, defaultMarketInterval),
		intFieldDefault("market.candle_limit", &m.CandleLimit, defaultMarketLimit),
		intFieldDefault("market.orderbook_depth", &m.OrderBookDepth, defaultMarketDepth),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.path", &s.Path, defaultStorePath),
	)
}

func (p *PredictConfig) applyDefaults(keys keySet) {
	if p == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("predict.timeout_seconds", &p.TimeoutSeconds, defaultPredictTimeout),
	)
}

func (r *ReasoningConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("reasoning.api_url", &r.APIURL, defaultReasoningAPI),
		stringFieldDefault("reasoning.model", &r.Model, defaultReasoningModel),
		intFieldDefault("reasoning.timeout_seconds", &r.TimeoutSeconds, defaultReasoningTimeout),
		intFieldDefault("reasoning.max_retries", &r.MaxRetries, defaultReasoningRetries),
		fieldDefault{
			key:   "reasoning.cost_per_call_usd",
			need:  func() bool { return r.CostPerCallUSD <= 0 },
			apply: func() { r.CostPerCallUSD = defaultReasoningCost },
		},
	)
}

func (d *DispatchConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("dispatch.timeout_seconds", &d.TimeoutSeconds, defaultDispatchTimeout),
		intFieldDefault("dispatch.max_retries", &d.MaxRetries, defaultDispatchRetries),
		fieldDefault{
			key:   "dispatch.twap_threshold_usd",
			need:  func() bool { return d.TWAPThresholdUSD <= 0 },
			apply: func() { d.TWAPThresholdUSD = defaultTWAPThreshold },
		},
		intFieldDefault("dispatch.twap_slices", &d.TWAPSlices, defaultTWAPSlices),
		intFieldDefault("dispatch.twap_duration_seconds", &d.TWAPDurationSeconds, defaultTWAPDuration),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
