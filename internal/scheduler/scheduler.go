package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"helmsman/internal/engine"
	"helmsman/internal/logger"
	"helmsman/internal/types"
)

// 中文说明：
// 固定周期（默认 45s）驱动决策管线：启动立即跑一轮，之后按定时器触发。
// 同一时刻只有一轮在执行（循环体串行），轮内策略顺序处理并用限速器
// 留出间隔，约束对行情/预测/推理服务的总调用速率，同时保持单策略日志有序。
// 一轮内的 panic 被捕获并计为错误，调度器存活；收到取消信号后定时器停止，
// 进行中的策略轮次不被强制打断。

// StrategyLister 活跃策略查询。
type StrategyLister interface {
	ListRunningStrategies(ctx context.Context) ([]types.Strategy, error)
}

// StrategyRunner 单策略单轮的管线入口。
type StrategyRunner interface {
	RunStrategy(ctx context.Context, st types.Strategy) engine.Outcome
}

type Options struct {
	Interval        time.Duration
	StrategyPause   time.Duration
	MetricsLogEvery int
}

// Health 健康接口读取的最新活跃状态。
type Health struct {
	ActiveStrategies int       `json:"active_strategies"`
	LastCycleAt      time.Time `json:"last_cycle_at"`
}

type Scheduler struct {
	lister  StrategyLister
	runner  StrategyRunner
	metrics *engine.Metrics
	opts    Options

	limiter *rate.Limiter

	healthMu sync.RWMutex
	health   Health
}

func New(lister StrategyLister, runner StrategyRunner, metrics *engine.Metrics, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 45 * time.Second
	}
	if opts.StrategyPause <= 0 {
		opts.StrategyPause = 2 * time.Second
	}
	if opts.MetricsLogEvery <= 0 {
		opts.MetricsLogEvery = 10
	}
	return &Scheduler{
		lister:  lister,
		runner:  runner,
		metrics: metrics,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Every(opts.StrategyPause), 1),
	}
}

func (s *Scheduler) Metrics() engine.MetricsSnapshot {
	return s.metrics.Snapshot()
}

func (s *Scheduler) Health() Health {
	s.healthMu.RLock()
	defer s.healthMu.RUnlock()
	return s.health
}

// Run 阻塞运行直到 ctx 取消。
func (s *Scheduler) Run(ctx context.Context) error {
	logger.Infof("[scheduler] started, interval=%s strategy pause=%s", s.opts.Interval, s.opts.StrategyPause)
	s.cycle(ctx)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Infof("[scheduler] shutdown signal received, stopping")
			return nil
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

// cycle 跑一轮。任何 panic 都被吞掉并计为错误，下一次定时照常触发。
func (s *Scheduler) cycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[scheduler] cycle panic recovered: %v", r)
			s.metrics.Observe(engine.Outcome{Err: fmt.Errorf("cycle panic: %v", r)})
		}
		s.metrics.ObserveCycle()
	}()

	start := time.Now()
	strategies, err := s.lister.ListRunningStrategies(ctx)
	if err != nil {
		logger.Errorf("[scheduler] list running strategies failed: %v", err)
		s.metrics.Observe(engine.Outcome{Err: err})
		return
	}
	s.setHealth(len(strategies))
	if len(strategies) == 0 {
		logger.Debugf("[scheduler] no running strategies this cycle")
		return
	}

	// 取消信号只作用于循环控制与间隔等待；进行中的策略轮次（行情/模型/分发 I/O）
	// 必须跑完，不随进程关停被强制取消。
	passCtx := context.WithoutCancel(ctx)
	for i, st := range strategies {
		if i > 0 {
			// 策略间固定间隔；取消只在间隔等待处生效。
			if err := s.limiter.Wait(ctx); err != nil {
				logger.Infof("[scheduler] cycle interrupted after %d/%d strategies", i, len(strategies))
				return
			}
		}
		out := s.runStrategy(passCtx, st)
		s.metrics.Observe(out)
		if out.Err != nil {
			logger.Errorf("[scheduler] strategy pass failed id=%s trace=%s: %v", st.ID, out.TraceID, out.Err)
		}
		if out.Paused {
			logger.Warnf("[scheduler] strategy paused by circuit breaker id=%s", st.ID)
		}
	}

	snap := s.metrics.Snapshot()
	logger.Infof("[scheduler] cycle done strategies=%d elapsed=%s signals=%d holds=%d errors=%d",
		len(strategies), time.Since(start).Truncate(time.Millisecond), snap.SignalsSent, snap.Holds, snap.Errors)
	if snap.Cycles > 0 && (snap.Cycles+1)%int64(s.opts.MetricsLogEvery) == 0 {
		logger.Infof("[scheduler] metrics snapshot: cycles=%d processed=%d source_calls=%v avg_latency_ms=%v",
			snap.Cycles+1, snap.StrategiesProcessed, snap.SourceCalls, snap.AvgLatencyMs)
	}
}

// runStrategy 单策略的 panic 也只影响本策略，不影响本轮其余策略。
func (s *Scheduler) runStrategy(ctx context.Context, st types.Strategy) (out engine.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = engine.Outcome{StrategyID: st.ID, Err: fmt.Errorf("strategy pass panic: %v", r)}
		}
	}()
	return s.runner.RunStrategy(ctx, st)
}

func (s *Scheduler) setHealth(active int) {
	s.healthMu.Lock()
	s.health = Health{ActiveStrategies: active, LastCycleAt: time.Now().UTC()}
	s.healthMu.Unlock()
}
