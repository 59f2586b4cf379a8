package config

import (
	"fmt"
	"net/url"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Scheduler.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Predict.validate(); err != nil {
		return err
	}
	if err := c.Reasoning.validate(); err != nil {
		return err
	}
	if err := c.Dispatch.validate(); err != nil {
		return err
	}
	return nil
}

func (s *SchedulerConfig) validate() error {
	if s.IntervalSeconds < 5 {
		return fmt.Errorf("scheduler.interval_seconds must be >= 5")
	}
	if s.StrategyPauseSeconds < 0 {
		return fmt.Errorf("scheduler.strategy_pause_seconds must be >= 0")
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if strings.TrimSpace(m.RESTBaseURL) == "" {
		return fmt.Errorf("market.rest_base_url cannot be empty")
	}
	if m.CandleLimit < 30 || m.CandleLimit > 1000 {
		return fmt.Errorf("market.candle_limit must be in [30,1000]")
	}
	return nil
}

func (p *PredictConfig) validate() error {
	base := strings.TrimSpace(p.BaseURL)
	if base == "" {
		// 允许为空：纯推理模式下可不配置统计服务，仲裁器按服务不可用处理。
		return nil
	}
	if _, err := url.Parse(base); err != nil {
		return fmt.Errorf("predict.base_url invalid: %w", err)
	}
	return nil
}

func (r *ReasoningConfig) validate() error {
	if strings.TrimSpace(r.Model) == "" {
		return fmt.Errorf("reasoning.model cannot be empty")
	}
	if r.MaxRetries < 0 {
		return fmt.Errorf("reasoning.max_retries must be >= 0")
	}
	return nil
}

func (d *DispatchConfig) validate() error {
	if strings.TrimSpace(d.URL) == "" {
		return fmt.Errorf("dispatch.url cannot be empty")
	}
	if _, err := url.Parse(d.URL); err != nil {
		return fmt.Errorf("dispatch.url invalid: %w", err)
	}
	if d.TWAPSlices < 1 {
		return fmt.Errorf("dispatch.twap_slices must be >= 1")
	}
	return nil
}
