package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// NewPublishTotal 创建「插件发布次数」指标
// 指标类型：Counter，每次插件被调度调用时加 1
// 标签说明：
// plugin: 插件名称
func (m *MetricFactory) NewPublishTotal() *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_publish_total",
		Help: "Total plugin publish invocations",
	}, []string{"plugin"})
	m.reg.MustRegister(c)
	return c
}

// NewPublishErrorsTotal 创建「插件发布失败次数」指标
func (m *MetricFactory) NewPublishErrorsTotal() *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_publish_errors_total",
		Help: "Total failed plugin publish invocations",
	}, []string{"plugin"})
	m.reg.MustRegister(c)
	return c
}

// NewPublishDurationSeconds 创建「插件单次发布耗时」指标
// 分桶说明：0.001s ~ 0.512s，插件调用应远小于一个 tick
func (m *MetricFactory) NewPublishDurationSeconds() *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agent_publish_duration_seconds",
		Help:    "Duration of one plugin publish invocation",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
	}, []string{"plugin"})
	m.reg.MustRegister(h)
	return h
}

func (m *MetricFactory) NewLoadedPlugins() prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "agent_loaded_plugins",
		Help: "Number of loaded plugins",
	})
	m.reg.MustRegister(g)
	return g
}

func (m *MetricFactory) NewSchedulerTicksTotal() prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "agent_scheduler_ticks_total",
		Help: "Total scheduler passes",
	})
	m.reg.MustRegister(c)
	return c
}

// AgentMetrics agent 自身监控指标集合
type AgentMetrics struct {
	PublishTotal    *prometheus.CounterVec
	PublishErrors   *prometheus.CounterVec
	PublishDuration *prometheus.HistogramVec
	LoadedPlugins   prometheus.Gauge
	SchedulerTicks  prometheus.Counter
}

// NewAgentMetrics 一次性创建并注册全部 agent 指标
func NewAgentMetrics(f *MetricFactory) *AgentMetrics {
	return &AgentMetrics{
		PublishTotal:    f.NewPublishTotal(),
		PublishErrors:   f.NewPublishErrorsTotal(),
		PublishDuration: f.NewPublishDurationSeconds(),
		LoadedPlugins:   f.NewLoadedPlugins(),
		SchedulerTicks:  f.NewSchedulerTicksTotal(),
	}
}

// ObservePublish 记录一次插件调用；m 为 nil 时不做任何事
func (m *AgentMetrics) ObservePublish(plugin string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.PublishTotal.WithLabelValues(plugin).Inc()
	m.PublishDuration.WithLabelValues(plugin).Observe(d.Seconds())
	if err != nil {
		m.PublishErrors.WithLabelValues(plugin).Inc()
	}
}

func (m *AgentMetrics) ObserveTick() {
	if m == nil {
		return
	}
	m.SchedulerTicks.Inc()
}

func (m *AgentMetrics) SetLoaded(n int) {
	if m == nil {
		return
	}
	m.LoadedPlugins.Set(float64(n))
}
