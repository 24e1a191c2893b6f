package plugins

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/agent-publisher/pkg/bus"
	"github.com/agent-publisher/pkg/logger"
	"github.com/agent-publisher/pkg/plugin"
	"github.com/agent-publisher/pkg/schema"
	"go.uber.org/zap"
)

// Module 内置模块：模块文件名 lib<name>.so，构造符号 create_<name>
type Module struct {
	Name    string
	NewFunc plugin.Factory
}

// Modules 所有内置插件
var Modules = []Module{
	{Name: "cpu", NewFunc: NewCPU},
	{Name: "memory", NewFunc: NewMemory},
	{Name: "disk", NewFunc: NewDisk},
	{Name: "net_load", NewFunc: NewNetLoad},
	{Name: "proc", NewFunc: NewProc},
	{Name: "proc_stat", NewFunc: NewProcStat},
	{Name: "host_info", NewFunc: NewHostInfo},
}

func init() {
	for _, m := range Modules {
		plugin.Register(ModuleFile(m.Name), Symbol(m.Name), m.NewFunc)
	}
}

// ModuleFile 内置插件的模块文件名
func ModuleFile(name string) string { return "lib" + name + ".so" }

// Symbol 内置插件的构造符号
func Symbol(name string) string { return "create_" + name }

// field 一个待写入的字段
type field struct {
	name  string
	value any
}

// base 内置插件公共部分：类名、实例名、主机名、时间源
type base struct {
	class    string
	name     string
	props    map[string]string
	hostname string
	now      func() time.Time
	log      *zap.Logger
}

func newBase(class, name string, props map[string]string) base {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return base{
		class:    class,
		name:     name,
		props:    props,
		hostname: hostname,
		now:      time.Now,
		log:      logger.Named(name),
	}
}

// Identify 插件类名，与配置中的实例名无关
func (b *base) Identify() string { return b.class }

func (b *base) Destroy() error { return nil }

// publish 写入一条记录：先写 hostname 与 ts，再按顺序写其余字段；schema 未声明的字段跳过
func (b *base) publish(ctx context.Context, ch bus.Channel, fields ...field) error {
	rec := schema.NewRecord(ch.Schema())
	all := append([]field{{"hostname", b.hostname}, {"ts", b.now().Unix()}}, fields...)
	for _, f := range all {
		if err := rec.Set(f.name, f.value); err != nil {
			if errors.Is(err, schema.ErrUnknownField) {
				continue
			}
			return fmt.Errorf("%s: %w", b.name, err)
		}
	}
	return ch.Write(ctx, rec)
}

// prop 字符串配置，不存在时取默认值
func (b *base) prop(key, def string) string {
	if v, ok := b.props[key]; ok && v != "" {
		return v
	}
	return def
}

// listProp 逗号分隔的配置项
func (b *base) listProp(key string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, s := range strings.Split(b.props[key], ",") {
		if s = strings.TrimSpace(s); s != "" {
			out[s] = struct{}{}
		}
	}
	return out
}

// percent total 为 0 时返回 0，避免 NaN
func percent(part, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return part * 100 / total
}
