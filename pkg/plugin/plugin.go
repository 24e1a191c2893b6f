package plugin

import (
	"context"

	"github.com/agent-publisher/pkg/bus"
)

// Plugin 插件能力接口（所有插件必须实现）
type Plugin interface {
	Identify() string                                            // 插件类名，与实例名无关
	ProduceAndPublish(ctx context.Context, ch bus.Channel) error // 采集一次并写入通道
	Destroy() error                                              // 释放资源
}

// Factory 插件模块导出的构造函数：插件名 + 插件配置
type Factory func(name string, props map[string]string) (Plugin, error)

// Loader 打开插件模块
type Loader interface {
	Open(path string) (Module, error)
}

// Module 已打开的插件模块
type Module interface {
	Lookup(symbol string) (Factory, error)
	Close() error
}
