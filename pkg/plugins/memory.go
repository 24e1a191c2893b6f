package plugins

import (
	"context"
	"fmt"

	"github.com/agent-publisher/pkg/bus"
	"github.com/agent-publisher/pkg/plugin"
	"github.com/shirou/gopsutil/v3/mem"
)

// Memory memory 插件：物理内存与交换区
type Memory struct {
	base
	virtualFn func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	swapFn    func(ctx context.Context) (*mem.SwapMemoryStat, error)
}

func NewMemory(name string, props map[string]string) (plugin.Plugin, error) {
	return &Memory{
		base:      newBase("memory", name, props),
		virtualFn: mem.VirtualMemoryWithContext,
		swapFn:    mem.SwapMemoryWithContext,
	}, nil
}

func (m *Memory) ProduceAndPublish(ctx context.Context, ch bus.Channel) error {
	vm, err := m.virtualFn(ctx)
	if err != nil {
		return fmt.Errorf("get virtual memory failed: %w", err)
	}
	sw, err := m.swapFn(ctx)
	if err != nil {
		return fmt.Errorf("get swap memory failed: %w", err)
	}
	total := float64(vm.Total)
	return m.publish(ctx, ch,
		field{"mem_total", vm.Total},
		field{"mem_used", vm.Used},
		field{"mem_free", vm.Free},
		field{"mem_actual_used", vm.Total - vm.Available},
		field{"mem_actual_free", vm.Available},
		field{"mem_used_percent", percent(float64(vm.Total-vm.Available), total)},
		field{"mem_free_percent", percent(float64(vm.Available), total)},
		field{"swap_total", sw.Total},
		field{"swap_used", sw.Used},
		field{"swap_free", sw.Free},
		field{"swap_page_in", sw.PgIn},
		field{"swap_page_out", sw.PgOut},
	)
}
