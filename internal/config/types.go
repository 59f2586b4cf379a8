package config

import "strings"

// Config 是 Helmsman 的主配置载体。
type Config struct {
	App       AppConfig       `toml:"app"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Market    MarketConfig    `toml:"market"`
	Store     StoreConfig     `toml:"store"`
	Predict   PredictConfig   `toml:"predict"`
	Reasoning ReasoningConfig `toml:"reasoning"`
	Dispatch  DispatchConfig  `toml:"dispatch"`
	Notify    NotifyConfig    `toml:"notify"`
}

type AppConfig struct {
	Env          string `toml:"env"`
	LogLevel     string `toml:"log_level"`
	HTTPAddr     string `toml:"http_addr"`
	LogPath      string `toml:"log_path"`
	ReasoningLog string `toml:"reasoning_log_path"`
}

// SchedulerConfig 控制决策循环节奏。
type SchedulerConfig struct {
	IntervalSeconds      int `toml:"interval_seconds"`
	StrategyPauseSeconds int `toml:"strategy_pause_seconds"`
	MetricsLogEvery      int `toml:"metrics_log_every"`
}

type MarketConfig struct {
	RESTBaseURL        string `toml:"rest_base_url"`
	HTTPTimeoutSeconds int    `toml:"http_timeout_seconds"`
	CandleInterval     string `toml:"candle_interval"`
	CandleLimit        int    `toml:"candle_limit"`
	OrderBookDepth     int    `toml:"orderbook_depth"`
}

type StoreConfig struct {
	Path string `toml:"path"`
}

// PredictConfig 统计预测服务。
type PredictConfig struct {
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// ReasoningConfig 推理（语言模型）服务，OpenAI 兼容。
type ReasoningConfig struct {
	APIURL         string  `toml:"api_url"`
	APIKey         string  `toml:"api_key"`
	Model          string  `toml:"model"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	MaxRetries     int     `toml:"max_retries"`
	CostPerCallUSD float64 `toml:"cost_per_call_usd"`
}

// DispatchConfig 执行网关。
type DispatchConfig struct {
	URL                 string  `toml:"url"`
	TimeoutSeconds      int     `toml:"timeout_seconds"`
	MaxRetries          int     `toml:"max_retries"`
	TWAPThresholdUSD    float64 `toml:"twap_threshold_usd"`
	TWAPSlices          int     `toml:"twap_slices"`
	TWAPDurationSeconds int     `toml:"twap_duration_seconds"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	_, ok := k[strings.ToLower(strings.TrimSpace(path))]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
