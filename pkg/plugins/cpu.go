package plugins

import (
	"context"
	"fmt"

	"github.com/agent-publisher/pkg/bus"
	"github.com/agent-publisher/pkg/plugin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"go.uber.org/zap"
)

// CPU cpu 插件：各模式占比与平均负载
type CPU struct {
	base
	last    *cpu.TimesStat // 上一次的累计时间，用于计算区间使用率
	timesFn func(ctx context.Context) (cpu.TimesStat, error)
	loadFn  func(ctx context.Context) (*load.AvgStat, error)
}

func NewCPU(name string, props map[string]string) (plugin.Plugin, error) {
	// 预检查CPU可用性
	if _, err := cpu.Counts(false); err != nil {
		return nil, fmt.Errorf("cpu counts: %w", err)
	}
	return &CPU{
		base:    newBase("cpu", name, props),
		timesFn: totalTimes,
		loadFn:  load.AvgWithContext,
	}, nil
}

func totalTimes(ctx context.Context) (cpu.TimesStat, error) {
	list, err := cpu.TimesWithContext(ctx, false)
	if err != nil {
		return cpu.TimesStat{}, err
	}
	if len(list) == 0 {
		return cpu.TimesStat{}, fmt.Errorf("no cpu times")
	}
	return list[0], nil
}

// cpuTotal 不含 guest，guest 已计入 user
func cpuTotal(t cpu.TimesStat) float64 {
	return t.User + t.Nice + t.System + t.Idle + t.Iowait + t.Irq + t.Softirq + t.Steal
}

// usage 首次调用按开机以来的累计时间计算，之后按两次调用之间的差值计算
func usage(last *cpu.TimesStat, cur cpu.TimesStat) cpu.TimesStat {
	if last == nil {
		return cur
	}
	d := cpu.TimesStat{
		User:    cur.User - last.User,
		Nice:    cur.Nice - last.Nice,
		System:  cur.System - last.System,
		Idle:    cur.Idle - last.Idle,
		Iowait:  cur.Iowait - last.Iowait,
		Irq:     cur.Irq - last.Irq,
		Softirq: cur.Softirq - last.Softirq,
		Steal:   cur.Steal - last.Steal,
	}
	// 计数器回绕或时间未变化时退回累计值
	if cpuTotal(d) <= 0 {
		return cur
	}
	return d
}

func (c *CPU) ProduceAndPublish(ctx context.Context, ch bus.Channel) error {
	cur, err := c.timesFn(ctx)
	if err != nil {
		return fmt.Errorf("get cpu times failed: %w", err)
	}
	d := usage(c.last, cur)
	c.last = &cur

	avg, err := c.loadFn(ctx)
	if err != nil {
		c.log.Warn("failed to get CPU load", zap.Error(err))
		avg = &load.AvgStat{}
	}

	total := cpuTotal(d)
	c.log.Debug("collected CPU metrics", zap.Float64("load1", avg.Load1), zap.Float64("idle", percent(d.Idle, total)))
	return c.publish(ctx, ch,
		field{"cpu_user", percent(d.User, total)},
		field{"cpu_sys", percent(d.System, total)},
		field{"cpu_nice", percent(d.Nice, total)},
		field{"cpu_idle", percent(d.Idle, total)},
		field{"cpu_wait", percent(d.Iowait, total)},
		field{"cpu_irq", percent(d.Irq, total)},
		field{"cpu_soft_irq", percent(d.Softirq, total)},
		field{"cpu_stolen", percent(d.Steal, total)},
		field{"load_one", avg.Load1},
		field{"load_five", avg.Load5},
		field{"load_fifteen", avg.Load15},
	)
}
