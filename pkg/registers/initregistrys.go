package registers

import (
	"context"
	"errors"

	"github.com/agent-publisher/pkg/logger"
	"github.com/agent-publisher/pkg/metrics"
	"go.uber.org/zap"
)

// Setup 加载全部插件并为其创建通道；任一步失败都会执行 Teardown，返回最先发生的错误
//
// 返回值
// nil    全部插件已加载且通道已就绪
// error  errs.Error，Kind 指明失败阶段（配置、模块、工厂、通道）
func (r *Registry) Setup(ctx context.Context, m *metrics.AgentMetrics) error {
	if err := r.LoadAll(ctx); err != nil {
		return r.abort(err)
	}
	m.SetLoaded(r.Len())

	if err := r.InitializeBus(ctx); err != nil {
		return r.abort(err)
	}
	names := make([]string, 0, r.Len())
	for _, h := range r.Handles() {
		names = append(names, h.Name)
	}
	logger.Info("all plugins ready", zap.Strings("plugins", names))
	return nil
}

func (r *Registry) abort(cause error) error {
	if err := r.Teardown(); err != nil {
		logger.Warn("teardown after failed setup reported errors", zap.Error(err))
	}
	return cause
}

// Teardown 与 Setup 逆序：先关闭总线实体，再卸载插件
func (r *Registry) Teardown() error {
	busErr := r.ShutdownBus()
	if busErr != nil {
		logger.Error("failed to shut down bus", zap.Error(busErr))
	}
	return errors.Join(busErr, r.UnloadAll())
}
