package config

import (
	"time"

	"github.com/agent-publisher/pkg/qos"
	"github.com/agent-publisher/pkg/schema"
)

// DeclarationExt 插件声明文件扩展名，路径为 <plugin_root>/<group>/<name>/<name>.yaml
const DeclarationExt = ".yaml"

// PluginProperties 单个插件的声明（解析完成后不可变）
type PluginProperties struct {
	Name           string
	Dll            string
	CreateFunction string
	PeriodSec      int
	QoSLibrary     string
	QoSProfile     string
	Topic          string
	Config         map[string]string
	WriterQoS      *qos.WriterQoS
	Schema         *schema.RecordSchema
	// 声明文件所在目录，dll 相对它解析
	Dir string
}

// Period 发布周期
func (p PluginProperties) Period() time.Duration {
	return time.Duration(ClampPeriod(p.PeriodSec)) * time.Second
}

// QoSSelection 通道的 QoS 选择
func (p PluginProperties) QoSSelection() qos.Selection {
	sel := qos.Selection{Library: p.QoSLibrary, Profile: p.QoSProfile}
	if p.WriterQoS != nil {
		w := *p.WriterQoS
		sel.Writer = &w
	}
	return sel
}

// ConfigBag 配置项副本，交给插件工厂
func (p PluginProperties) ConfigBag() map[string]string {
	out := make(map[string]string, len(p.Config))
	for k, v := range p.Config {
		out[k] = v
	}
	return out
}

// pluginBuilder 解析过程中逐字段填充，声明结束时 flush
type pluginBuilder struct {
	props PluginProperties
}

func newPluginBuilder() *pluginBuilder {
	return &pluginBuilder{props: PluginProperties{
		PeriodSec: 1,
		Config:    map[string]string{},
	}}
}

func (b *pluginBuilder) setName(v string)           { b.props.Name = v }
func (b *pluginBuilder) setDll(v string)            { b.props.Dll = v }
func (b *pluginBuilder) setCreateFunction(v string) { b.props.CreateFunction = v }
func (b *pluginBuilder) setPeriod(sec int)          { b.props.PeriodSec = ClampPeriod(sec) }
func (b *pluginBuilder) setQoSLibrary(v string)     { b.props.QoSLibrary = v }
func (b *pluginBuilder) setQoSProfile(v string)     { b.props.QoSProfile = v }
func (b *pluginBuilder) setTopic(v string)          { b.props.Topic = v }
func (b *pluginBuilder) setWriterQoS(w qos.WriterQoS) {
	b.props.WriterQoS = &w
}
func (b *pluginBuilder) setSchema(s *schema.RecordSchema) { b.props.Schema = s }
func (b *pluginBuilder) setConfig(k, v string)            { b.props.Config[k] = v }

// flush 返回冻结的声明并重置 builder；topic 为空时取插件名
func (b *pluginBuilder) flush() PluginProperties {
	p := b.props
	if p.Topic == "" {
		p.Topic = p.Name
	}
	*b = *newPluginBuilder()
	return p
}
