package engine

import (
	"sync"

	"helmsman/internal/decision"
)

// 中文说明：
// CycleMetrics 为进程生命周期内的累计计数与各模型来源最近 100 次调用的
// 延迟样本。写入只发生在调度器的串行路径上；读加锁是为了 HTTP 快照。

const latencyWindow = 100

type Metrics struct {
	mu sync.Mutex

	cycles              int64
	strategiesProcessed int64
	signalsSent         int64
	holds               int64
	errors              int64

	sourceCalls map[decision.Source]int64
	latencies   map[decision.Source][]int64
}

func NewMetrics() *Metrics {
	return &Metrics{
		sourceCalls: make(map[decision.Source]int64),
		latencies:   make(map[decision.Source][]int64),
	}
}

// ObserveCycle 一轮结束时调用。
func (m *Metrics) ObserveCycle() {
	m.mu.Lock()
	m.cycles++
	m.mu.Unlock()
}

// Observe 记录单个策略本轮的处理结果。
func (m *Metrics) Observe(out Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategiesProcessed++
	switch {
	case out.Err != nil:
		m.errors++
	case out.Signal:
		m.signalsSent++
	default:
		m.holds++
	}
	if out.Source != "" {
		m.sourceCalls[out.Source]++
		window := append(m.latencies[out.Source], out.LatencyMs)
		if len(window) > latencyWindow {
			window = window[len(window)-latencyWindow:]
		}
		m.latencies[out.Source] = window
	}
}

// MetricsSnapshot 只读快照，供周期日志与 /api/metrics。
type MetricsSnapshot struct {
	Cycles              int64 `json:"cycles"`
	StrategiesProcessed int64 `json:"strategies_processed"`
	SignalsSent         int64 `json:"signals_sent"`
	Holds               int64 `json:"holds"`
	Errors              int64 `json:"errors"`

	SourceCalls  map[string]int64   `json:"source_calls"`
	AvgLatencyMs map[string]float64 `json:"avg_latency_ms"`
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := MetricsSnapshot{
		Cycles:              m.cycles,
		StrategiesProcessed: m.strategiesProcessed,
		SignalsSent:         m.signalsSent,
		Holds:               m.holds,
		Errors:              m.errors,
		SourceCalls:         make(map[string]int64, len(m.sourceCalls)),
		AvgLatencyMs:        make(map[string]float64, len(m.latencies)),
	}
	for src, n := range m.sourceCalls {
		snap.SourceCalls[string(src)] = n
	}
	for src, samples := range m.latencies {
		if len(samples) == 0 {
			continue
		}
		var sum int64
		for _, v := range samples {
			sum += v
		}
		snap.AvgLatencyMs[string(src)] = float64(sum) / float64(len(samples))
	}
	return snap
}
