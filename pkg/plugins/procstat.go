package plugins

import (
	"context"
	"fmt"

	"github.com/agent-publisher/pkg/bus"
	"github.com/agent-publisher/pkg/plugin"
	"github.com/shirou/gopsutil/v3/process"
)

// ProcStat proc_stat 插件：按状态统计进程数
type ProcStat struct {
	base
	statusFn func(ctx context.Context) ([]procState, error)
}

type procState struct {
	status  []string
	threads int32
}

func NewProcStat(name string, props map[string]string) (plugin.Plugin, error) {
	return &ProcStat{base: newBase("proc_stat", name, props), statusFn: processStates}, nil
}

func processStates(ctx context.Context) ([]procState, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]procState, 0, len(procs))
	for _, p := range procs {
		st, err := p.StatusWithContext(ctx)
		if err != nil {
			// 进程已退出
			continue
		}
		threads, _ := p.NumThreadsWithContext(ctx)
		out = append(out, procState{status: st, threads: threads})
	}
	return out, nil
}

// procCounts 各状态计数
type procCounts struct {
	total, sleeping, running, zombie, stopped, idle int
	threads                                         int64
}

func countStates(states []procState) procCounts {
	var c procCounts
	for _, s := range states {
		c.total++
		c.threads += int64(s.threads)
		if len(s.status) == 0 {
			continue
		}
		switch s.status[0] {
		case process.Sleep, process.Wait, process.Lock:
			c.sleeping++
		case process.Running:
			c.running++
		case process.Zombie:
			c.zombie++
		case process.Stop:
			c.stopped++
		case process.Idle:
			c.idle++
		}
	}
	return c
}

func (p *ProcStat) ProduceAndPublish(ctx context.Context, ch bus.Channel) error {
	states, err := p.statusFn(ctx)
	if err != nil {
		return fmt.Errorf("list processes failed: %w", err)
	}
	c := countStates(states)
	return p.publish(ctx, ch,
		field{"total", c.total},
		field{"sleeping", c.sleeping},
		field{"running", c.running},
		field{"zombie", c.zombie},
		field{"stopped", c.stopped},
		field{"idle", c.idle},
		field{"threads", c.threads},
	)
}
