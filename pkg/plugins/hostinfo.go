package plugins

import (
	"context"
	"fmt"
	"strings"

	"github.com/agent-publisher/pkg/bus"
	"github.com/agent-publisher/pkg/plugin"
	"github.com/shirou/gopsutil/v3/host"
)

// HostInfo host_info 插件：系统描述与运行时长
type HostInfo struct {
	base
	infoFn func(ctx context.Context) (*host.InfoStat, error)
}

func NewHostInfo(name string, props map[string]string) (plugin.Plugin, error) {
	return &HostInfo{base: newBase("host_info", name, props), infoFn: host.InfoWithContext}, nil
}

func (h *HostInfo) ProduceAndPublish(ctx context.Context, ch bus.Channel) error {
	info, err := h.infoFn(ctx)
	if err != nil {
		return fmt.Errorf("get host info failed: %w", err)
	}
	if info.Hostname != "" {
		h.hostname = info.Hostname
	}
	desc := strings.TrimSpace(strings.Join([]string{info.Platform, info.PlatformVersion}, " "))
	return h.publish(ctx, ch,
		field{"sys_name", info.OS},
		field{"sys_version", info.KernelVersion},
		field{"sys_arch", info.KernelArch},
		field{"sys_description", desc},
		field{"uptime", info.Uptime},
	)
}
