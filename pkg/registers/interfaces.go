package registers

import (
	"context"

	"github.com/agent-publisher/pkg/bus"
	"github.com/agent-publisher/pkg/config"
	"github.com/agent-publisher/pkg/qos"
	"github.com/agent-publisher/pkg/schema"
)

// ConfigSource Registry 读取插件声明所需的配置能力（由 *config.Store 实现）
type ConfigSource interface {
	PluginRefs() ([]config.PluginRef, error)                        // 按加载顺序列出 (组, 插件)
	DeclarationPath(group, name string) string                      // 插件声明文件路径
	LoadPluginConfig(path string) (config.PluginProperties, error) // 解析并保存一个插件声明
}

// ChannelProvisioner 为插件创建输出通道（由 *bus.Provisioner 实现）
type ChannelProvisioner interface {
	Provision(ctx context.Context, typeName string, rs *schema.RecordSchema, topic string, sel qos.Selection) (bus.Channel, error)
}

// BusSession 总线会话的关闭能力（由 *bus.Session 实现）
type BusSession interface {
	CloseAll() error
}
