package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"helmsman/internal/engine"
	"helmsman/internal/logger"
	"helmsman/internal/scheduler"
	"helmsman/internal/store"
)

// 中文说明：
// 只读 HTTP 面板：/healthz 汇报活跃策略数与最近一轮时间戳，
// /api/metrics 返回 CycleMetrics 快照，/api/decisions 分页读取审计记录。

// StatusSource 调度器暴露的健康与指标快照。
type StatusSource interface {
	Health() scheduler.Health
	Metrics() engine.MetricsSnapshot
}

// AuditReader 审计记录查询。
type AuditReader interface {
	RecentAudits(ctx context.Context, strategyID string, limit int) ([]store.AuditModel, error)
}

type Server struct {
	addr   string
	router *gin.Engine
	srv    *http.Server
}

func NewServer(addr string, status StatusSource, audits AuditReader) (*Server, error) {
	if status == nil {
		return nil, errors.New("http server requires a status source")
	}
	if addr == "" {
		addr = ":9985"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		h := status.Health()
		c.JSON(http.StatusOK, gin.H{
			"status":            "ok",
			"active_strategies": h.ActiveStrategies,
			"last_cycle_at":     h.LastCycleAt,
		})
	})

	api := router.Group("/api")
	api.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, status.Metrics())
	})
	if audits != nil {
		api.GET("/decisions", func(c *gin.Context) {
			limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
			records, err := audits.RecentAudits(c.Request.Context(), c.Query("strategy_id"), limit)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"decisions": toDecisionViews(records)})
		})
	}

	return &Server{addr: addr, router: router}, nil
}

// decisionView 面板展示用的审计记录投影。
type decisionView struct {
	TraceID      string          `json:"trace_id"`
	StrategyID   string          `json:"strategy_id"`
	Symbol       string          `json:"symbol"`
	Source       string          `json:"source"`
	Confidence   float64         `json:"confidence"`
	RawAction    string          `json:"raw_action"`
	RawSizeUSD   float64         `json:"raw_size_usd"`
	FinalAction  string          `json:"final_action"`
	FinalSizeUSD float64         `json:"final_size_usd"`
	Rationale    string          `json:"rationale"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

func toDecisionViews(records []store.AuditModel) []decisionView {
	out := make([]decisionView, 0, len(records))
	for _, r := range records {
		out = append(out, decisionView{
			TraceID:      r.TraceID,
			StrategyID:   r.StrategyID,
			Symbol:       r.Symbol,
			Source:       r.Source,
			Confidence:   r.Confidence,
			RawAction:    r.RawAction,
			RawSizeUSD:   r.RawSizeUSD,
			FinalAction:  r.FinalAction,
			FinalSizeUSD: r.FinalSizeUSD,
			Rationale:    r.Rationale,
			Payload:      json.RawMessage(r.Payload),
			CreatedAt:    r.CreatedAt,
		})
	}
	return out
}

// Start 阻塞运行直到 ctx 取消，之后优雅关停。
func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("[http] listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Router 供测试注入请求。
func (s *Server) Router() http.Handler { return s.router }
