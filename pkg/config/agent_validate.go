package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Normalize tick 钳制到 >=1，分组目录去掉多余的分隔符
func (a *AgentConfig) Normalize() {
	a.PublishingPeriodSec = ClampPeriod(a.PublishingPeriodSec)
	for i := range a.PluginLibraries {
		a.PluginLibraries[i].Dir = strings.Trim(filepath.Clean(a.PluginLibraries[i].Dir), "/")
	}
}

// ClampPeriod 周期（秒）<=0 时按 1 处理
func ClampPeriod(sec int) int {
	if sec < 1 {
		return 1
	}
	return sec
}

// Tick 全局调度间隔
func (a *AgentConfig) Tick() time.Duration {
	return time.Duration(ClampPeriod(a.PublishingPeriodSec)) * time.Second
}

// Validate 插件分组校验
// 分组目录不能为空、不能跳出 plugin_root
// 插件名不能为空、不能含路径分隔符
// match 必须是合法正则
func (a *AgentConfig) Validate() error {
	if err := valid.Struct(a); err != nil {
		return err
	}
	for _, lib := range a.PluginLibraries {
		if lib.Dir == "" || lib.Dir == "." || strings.HasPrefix(lib.Dir, "..") {
			return fmt.Errorf("agent.plugin_libraries: invalid dir %q", lib.Dir)
		}
		seen := map[string]bool{}
		for _, name := range lib.Plugins {
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("agent.plugin_libraries[%s]: empty plugin name", lib.Dir)
			}
			if strings.ContainsAny(name, "/\\") {
				return fmt.Errorf("agent.plugin_libraries[%s]: plugin %q must not contain '/' or '\\\\'", lib.Dir, name)
			}
			if seen[name] {
				return fmt.Errorf("agent.plugin_libraries[%s]: duplicated plugin %q", lib.Dir, name)
			}
			seen[name] = true
		}
		if lib.Match != "" {
			if _, err := regexp.Compile(lib.Match); err != nil {
				return fmt.Errorf("agent.plugin_libraries[%s]: invalid match %q: %w", lib.Dir, lib.Match, err)
			}
		}
	}
	return nil
}

// Groups 分组目录 -> 插件名；同名目录后者覆盖前者
func (a *AgentConfig) Groups() map[string][]string {
	groups := make(map[string][]string, len(a.PluginLibraries))
	for _, lib := range a.PluginLibraries {
		groups[lib.Dir] = append([]string(nil), lib.Plugins...)
	}
	return groups
}

// GroupNames 排序后的分组目录名
func (a *AgentConfig) GroupNames() []string {
	groups := a.Groups()
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate 总线配置校验
func (b *BusConfig) Validate() error {
	if err := valid.Struct(b); err != nil {
		return err
	}
	if b.Driver != "memory" && strings.TrimSpace(b.URL) == "" {
		return fmt.Errorf("bus.url is required for driver %q", b.Driver)
	}
	if b.QoSLibrary != "" && b.QoSFile == "" {
		return errors.New("bus.qos_default_library requires bus.qos_file")
	}
	return nil
}

// Validate HTTP服务配置校验
func (h *ServerConfig) Validate() error {
	if err := valid.Struct(h); err != nil {
		return err
	}
	// 	用net包解析地址，验证格式合法性
	if _, err := net.ResolveTCPAddr("tcp", h.Addr); err != nil {
		return fmt.Errorf("server.addr format invalid (expected: :port or ip:port), got %s: %w", h.Addr, err)
	}
	return nil
}
