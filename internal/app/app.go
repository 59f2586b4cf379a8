package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"helmsman/internal/config"
	"helmsman/internal/logger"
	"helmsman/internal/scheduler"
	"helmsman/internal/store"
	httpapi "helmsman/internal/transport/http"
)

// App 应用级编排：配置 → 依赖组装 → 调度器 + HTTP 面板并行运行。
type App struct {
	cfg   *config.Config
	store *store.GormStore
	sched *scheduler.Scheduler
	http  *httpapi.Server

	Summary *StartupSummary
}

func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return build(cfg)
}

// Run 启动调度器与 HTTP 服务，阻塞直到 ctx 取消或任一子服务出错。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.sched == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	defer a.Close()

	group, ctx := errgroup.WithContext(ctx)
	if a.http != nil {
		group.Go(func() error {
			if err := a.http.Start(ctx); err != nil {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		return a.sched.Run(ctx)
	})
	return group.Wait()
}

func (a *App) Close() {
	if a != nil && a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warnf("[app] store close failed: %v", err)
		}
	}
}
