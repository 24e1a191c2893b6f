package plugins

import (
	"context"
	"fmt"
	"strings"

	"github.com/agent-publisher/pkg/bus"
	"github.com/agent-publisher/pkg/plugin"
	"github.com/shirou/gopsutil/v3/process"
)

// Proc proc 插件：每个进程一条记录
type Proc struct {
	base
	names       map[string]struct{}
	processesFn func(ctx context.Context) ([]*process.Process, error)
}

// NewProc 配置 names 为逗号分隔的进程名过滤，为空时采集全部进程
func NewProc(name string, props map[string]string) (plugin.Plugin, error) {
	p := &Proc{
		base:        newBase("proc", name, props),
		processesFn: process.ProcessesWithContext,
	}
	p.names = p.listProp("names")
	return p, nil
}

// procInfo 单个进程的快照；进程在采集过程中退出时对应字段保持零值
type procInfo struct {
	pid, ppid              int32
	name, state, user      string
	nice                   int32
	uid, gid               int32
	cpuUser, cpuSys        float64
	cpuPercent             float64
	memSize, memResident   uint64
	memSwap                uint64
	minorFaults, majFaults uint64
	threads                int32
	startTime              int64
}

func snapshot(ctx context.Context, p *process.Process) procInfo {
	info := procInfo{pid: p.Pid}
	info.name, _ = p.NameWithContext(ctx)
	if st, err := p.StatusWithContext(ctx); err == nil {
		info.state = strings.Join(st, ",")
	}
	info.ppid, _ = p.PpidWithContext(ctx)
	info.nice, _ = p.NiceWithContext(ctx)
	if uids, err := p.UidsWithContext(ctx); err == nil && len(uids) > 0 {
		info.uid = uids[0]
	}
	if gids, err := p.GidsWithContext(ctx); err == nil && len(gids) > 0 {
		info.gid = gids[0]
	}
	info.user, _ = p.UsernameWithContext(ctx)
	if t, err := p.TimesWithContext(ctx); err == nil {
		info.cpuUser, info.cpuSys = t.User, t.System
	}
	info.cpuPercent, _ = p.CPUPercentWithContext(ctx)
	if m, err := p.MemoryInfoWithContext(ctx); err == nil {
		info.memSize, info.memResident = m.VMS, m.RSS
		info.memSwap = m.Swap
	}
	if pf, err := p.PageFaultsWithContext(ctx); err == nil {
		info.minorFaults, info.majFaults = pf.MinorFaults, pf.MajorFaults
	}
	info.threads, _ = p.NumThreadsWithContext(ctx)
	info.startTime, _ = p.CreateTimeWithContext(ctx)
	return info
}

func (p *Proc) ProduceAndPublish(ctx context.Context, ch bus.Channel) error {
	procs, err := p.processesFn(ctx)
	if err != nil {
		return fmt.Errorf("list processes failed: %w", err)
	}
	for _, proc := range procs {
		info := snapshot(ctx, proc)
		if len(p.names) > 0 {
			if _, ok := p.names[info.name]; !ok {
				continue
			}
		}
		if err := p.publishProc(ctx, ch, info); err != nil {
			return fmt.Errorf("publish pid %d: %w", info.pid, err)
		}
	}
	return nil
}

func (p *Proc) publishProc(ctx context.Context, ch bus.Channel, info procInfo) error {
	return p.publish(ctx, ch,
		field{"pid", info.pid},
		field{"name", info.name},
		field{"state", info.state},
		field{"ppid", info.ppid},
		field{"nice", info.nice},
		field{"uid", info.uid},
		field{"gid", info.gid},
		field{"user", info.user},
		field{"cpu_user", info.cpuUser},
		field{"cpu_sys", info.cpuSys},
		field{"cpu_total", info.cpuUser + info.cpuSys},
		field{"cpu_percent", info.cpuPercent},
		field{"mem_size", info.memSize},
		field{"mem_resident", info.memResident},
		field{"mem_swap", info.memSwap},
		field{"page_faults", info.minorFaults + info.majFaults},
		field{"minor_faults", info.minorFaults},
		field{"major_faults", info.majFaults},
		field{"threads", info.threads},
		field{"cpu_start_time", info.startTime},
	)
}
