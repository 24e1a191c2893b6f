package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agent-publisher/pkg/errs"
	"github.com/agent-publisher/pkg/logger"
	"github.com/agent-publisher/pkg/metrics"
	"github.com/agent-publisher/pkg/registers"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

var ErrNotIdle = errors.New("scheduler: already started")

// State 调度器状态：Idle -> Running -> Stopped（终态）
type State int32

const (
	Idle State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// HandleSource 调度器遍历的插件集合（由 *registers.Registry 实现）
type HandleSource interface {
	Handles() []*registers.PluginHandle
}

// Scheduler 发布调度器
// 所有插件共用一个 tick；每个插件用 countdown（秒）决定本轮是否到期
type Scheduler struct {
	source  HandleSource
	tickSec int
	clock   clockwork.Clock
	metrics *metrics.AgentMetrics

	state    atomic.Int32
	passes   atomic.Uint64
	stop     chan struct{}
	stopOnce sync.Once
}

type Option func(*Scheduler)

// WithClock 替换时钟（测试使用 clockwork.NewFakeClock）
func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

func WithMetrics(m *metrics.AgentMetrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// New tick 按整秒取值，不足 1 秒按 1 秒处理
func New(source HandleSource, tick time.Duration, opts ...Option) *Scheduler {
	sec := int(tick / time.Second)
	if sec < 1 {
		sec = 1
	}
	s := &Scheduler{
		source:  source,
		tickSec: sec,
		clock:   clockwork.NewRealClock(),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) State() State { return State(s.state.Load()) }

// Passes 已完成的轮数
func (s *Scheduler) Passes() uint64 { return s.passes.Load() }

// Interval 共享 tick
func (s *Scheduler) Interval() time.Duration { return time.Duration(s.tickSec) * time.Second }

// Run 进入 Running，循环执行 Tick 并休眠一个 tick，直到 ctx 取消或 Stop
// 停止只打断休眠，正在进行的一轮总会走完
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(Idle), int32(Running)) {
		return ErrNotIdle
	}
	defer s.state.Store(int32(Stopped))

	logger.Info("scheduler started",
		zap.Duration("tick", s.Interval()),
		zap.Int("plugins", len(s.source.Handles())),
	)
	passCtx := context.WithoutCancel(ctx)
	for {
		s.Tick(passCtx)
		if !s.sleep(ctx) {
			return nil
		}
	}
}

// sleep 休眠一个 tick；被 ctx 取消或 Stop 打断时返回 false
func (s *Scheduler) sleep(ctx context.Context) bool {
	t := s.clock.NewTimer(s.Interval())
	defer t.Stop()

	select {
	case <-ctx.Done():
		logger.Info("scheduler stopped", zap.Uint64("passes", s.Passes()), zap.NamedError("cause", ctx.Err()))
		return false
	case <-s.stop:
		logger.Info("scheduler stopped", zap.Uint64("passes", s.Passes()))
		return false
	case <-t.Chan():
		return true
	}
}

// Stop 请求停止；可重复调用，Run 在当前休眠处返回
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Tick 执行一轮：到期的插件发布并重置 countdown，其余插件 countdown 减一个 tick
func (s *Scheduler) Tick(ctx context.Context) {
	for _, h := range s.source.Handles() {
		if h.Countdown <= 0 {
			s.publish(ctx, h)
			h.Countdown = h.Properties.PeriodSec - s.tickSec
		} else {
			h.Countdown -= s.tickSec
		}
	}
	s.passes.Add(1)
	s.metrics.ObserveTick()
}

// publish 发布错误只记录日志，插件在下一次到期时自动重试
func (s *Scheduler) publish(ctx context.Context, h *registers.PluginHandle) {
	start := s.clock.Now()
	err := invoke(ctx, h)
	elapsed := s.clock.Since(start)
	s.metrics.ObservePublish(h.Name, elapsed, err)
	if err != nil {
		logger.Warn("plugin publish failed",
			zap.String("plugin", h.Name),
			zap.Int("period_sec", h.Properties.PeriodSec),
			zap.Error(errs.Publish(h.Name, err)),
		)
		return
	}
	logger.Debug("plugin published", zap.String("plugin", h.Name), zap.Duration("elapsed", elapsed))
}

func invoke(ctx context.Context, h *registers.PluginHandle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin panic: %v", r)
		}
	}()
	if h.Channel == nil {
		return fmt.Errorf("plugin %s has no channel", h.Name)
	}
	return h.Plugin.ProduceAndPublish(ctx, h.Channel)
}
