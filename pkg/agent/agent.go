package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/agent-publisher/pkg/bus"
	"github.com/agent-publisher/pkg/config"
	"github.com/agent-publisher/pkg/errs"
	"github.com/agent-publisher/pkg/logger"
	"github.com/agent-publisher/pkg/metrics"
	"github.com/agent-publisher/pkg/plugin"
	"github.com/agent-publisher/pkg/registers"
	"github.com/agent-publisher/pkg/scheduler"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	ExitOK      = 0
	ExitFailure = 1
)

// Agent 串起总线会话、插件注册器与调度器
// 启动顺序：打开总线 -> 加载插件 -> 创建通道 -> 调度；退出时逆序清理
type Agent struct {
	cfg     *config.Config
	store   *config.Store
	loader  plugin.Loader
	driver  bus.Driver
	metrics *metrics.AgentMetrics
	clock   clockwork.Clock

	mu        sync.Mutex
	session   *bus.Session
	registry  *registers.Registry
	scheduler *scheduler.Scheduler
}

type Option func(*Agent)

// WithLoader 替换模块加载器，默认 plugin.DefaultLoader()
func WithLoader(l plugin.Loader) Option {
	return func(a *Agent) { a.loader = l }
}

// WithDriver 直接指定总线驱动，忽略 bus.driver 配置
func WithDriver(d bus.Driver) Option {
	return func(a *Agent) { a.driver = d }
}

func WithMetrics(m *metrics.AgentMetrics) Option {
	return func(a *Agent) { a.metrics = m }
}

func WithClock(c clockwork.Clock) Option {
	return func(a *Agent) { a.clock = c }
}

// WithStore 使用已加载的配置存储
func WithStore(s *config.Store) Option {
	return func(a *Agent) { a.store = s }
}

func New(cfg *config.Config, opts ...Option) *Agent {
	a := &Agent{
		cfg:    cfg,
		loader: plugin.DefaultLoader(),
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.store == nil {
		a.store = config.NewStore(cfg)
	}
	return a
}

// Run 启动并阻塞到 ctx 取消或 Stop；返回前总会完成清理
// 返回值
// nil    正常停止
// error  启动失败（errs.Error 指明插件/文件），或清理过程中的错误
func (a *Agent) Run(ctx context.Context) error {
	sched, err := a.start(ctx)
	if err != nil {
		return err
	}
	runErr := sched.Run(ctx)
	return errors.Join(runErr, a.teardown())
}

func (a *Agent) start(ctx context.Context) (*scheduler.Scheduler, error) {
	session, err := a.openBus(ctx)
	if err != nil {
		return nil, err
	}

	registry := registers.NewRegistry(a.store, a.loader, bus.NewProvisioner(session), session)
	sched := scheduler.New(registry, a.cfg.Agent.Tick(),
		scheduler.WithClock(a.clock),
		scheduler.WithMetrics(a.metrics),
	)
	a.mu.Lock()
	a.session, a.registry, a.scheduler = session, registry, sched
	a.mu.Unlock()

	if err := registry.Setup(ctx, a.metrics); err != nil {
		a.metrics.SetLoaded(0)
		return nil, err
	}
	return sched, nil
}

func (a *Agent) openBus(ctx context.Context) (*bus.Session, error) {
	opts := bus.Options{
		URL:            a.cfg.Bus.URL,
		DomainID:       a.cfg.Bus.DomainID,
		QoSFile:        a.store.QoSFilePath(),
		QoSLibrary:     a.cfg.Bus.QoSLibrary,
		QoSProfile:     a.cfg.Bus.QoSProfile,
		PublishTimeout: a.cfg.Bus.PublishTimeout,
		ClientName:     "agent-publisher",
		Breaker: bus.BreakerSettings{
			Enable:      a.cfg.Bus.Breaker.Enable,
			MaxFailures: a.cfg.Bus.Breaker.MaxFailures,
			OpenTimeout: a.cfg.Bus.Breaker.OpenTimeout,
		},
	}

	var (
		session *bus.Session
		err     error
	)
	if a.driver != nil {
		session, err = bus.OpenWith(ctx, a.driver, opts)
	} else {
		session, err = bus.Open(ctx, a.cfg.Bus.Driver, opts)
	}
	if err != nil {
		return nil, errs.ChannelProvision("", fmt.Errorf("open bus session: %w", err))
	}
	return session, nil
}

// teardown 先关闭总线实体，再卸载插件；注册器为空时只关闭会话
func (a *Agent) teardown() error {
	a.mu.Lock()
	registry, session := a.registry, a.session
	a.mu.Unlock()

	defer a.metrics.SetLoaded(0)
	if registry != nil {
		return registry.Teardown()
	}
	if session != nil {
		return session.CloseAll()
	}
	return nil
}

// Stop 请求调度器在当前休眠处退出
func (a *Agent) Stop() {
	a.mu.Lock()
	sched := a.scheduler
	a.mu.Unlock()
	if sched != nil {
		sched.Stop()
	}
}

// State 调度器状态；尚未启动时为 Idle
func (a *Agent) State() scheduler.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.scheduler == nil {
		return scheduler.Idle
	}
	return a.scheduler.State()
}

// Plugins 已加载插件数
func (a *Agent) Plugins() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.registry == nil {
		return 0
	}
	return a.registry.Len()
}

// Running 供健康检查使用
func (a *Agent) Running() bool { return a.State() == scheduler.Running }

func (a *Agent) StateName() string { return a.State().String() }

// ExitCode 启动失败返回 1，并在日志中给出失败的插件与文件
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var e *errs.Error
	if errors.As(err, &e) {
		logger.Error("agent failed",
			zap.String("kind", e.Kind.String()),
			zap.String("failed_plugin", e.Plugin),
			zap.String("path", e.Path),
			zap.Error(err),
		)
	} else {
		logger.Error("agent failed", zap.Error(err))
	}
	return ExitFailure
}
