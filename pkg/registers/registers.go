package registers

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/agent-publisher/pkg/bus"
	"github.com/agent-publisher/pkg/config"
	"github.com/agent-publisher/pkg/errs"
	"github.com/agent-publisher/pkg/logger"
	"github.com/agent-publisher/pkg/plugin"
	"go.uber.org/zap"
)

var ErrAlreadyLoaded = errors.New("registry already loaded")

// PluginHandle 一个已加载插件的运行时绑定
// Registry 独占 Plugin 与 Module；调度器只读写 Countdown 并调用 Plugin
type PluginHandle struct {
	Name       string
	Group      string
	Properties config.PluginProperties
	Plugin     plugin.Plugin
	Module     plugin.Module
	Channel    bus.Channel
	// Countdown 距下次到期的秒数，<=0 表示到期
	Countdown int
}

// Registry 插件注册器：加载、绑定通道、卸载
type Registry struct {
	source      ConfigSource
	loader      plugin.Loader
	provisioner ChannelProvisioner
	session     BusSession

	mu      sync.Mutex
	handles []*PluginHandle
	byName  map[string]*PluginHandle
	loaded  bool
}

// NewRegistry provisioner 与 session 可为 nil，此时 InitializeBus/ShutdownBus 不做任何事
func NewRegistry(source ConfigSource, loader plugin.Loader, provisioner ChannelProvisioner, session BusSession) *Registry {
	return &Registry{
		source:      source,
		loader:      loader,
		provisioner: provisioner,
		session:     session,
		byName:      map[string]*PluginHandle{},
	}
}

// LoadAll 按顺序加载全部插件；任一插件失败立即返回，已加载的插件保留给 UnloadAll
func (r *Registry) LoadAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return ErrAlreadyLoaded
	}
	r.loaded = true

	refs, err := r.source.PluginRefs()
	if err != nil {
		return errs.ConfigParse("", err)
	}
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return err
		}
		h, err := r.load(ref)
		if err != nil {
			logger.Error("failed to load plugin",
				zap.String("group", ref.Group),
				zap.String("name", ref.Name),
				zap.Int("loaded", len(r.handles)),
				zap.Error(err),
			)
			return err
		}
		r.handles = append(r.handles, h)
		r.byName[h.Name] = h
		logger.Info("plugin loaded",
			zap.String("group", ref.Group),
			zap.String("name", h.Name),
			zap.String("class", h.Plugin.Identify()),
			zap.Int("period_sec", h.Properties.PeriodSec),
		)
	}
	return nil
}

func (r *Registry) load(ref config.PluginRef) (*PluginHandle, error) {
	declPath := r.source.DeclarationPath(ref.Group, ref.Name)
	props, err := r.source.LoadPluginConfig(declPath)
	if err != nil {
		return nil, err
	}
	if props.Name != ref.Name {
		return nil, errs.ConfigParse(declPath, fmt.Errorf("declared name %q does not match directory %q", props.Name, ref.Name))
	}
	if _, dup := r.byName[props.Name]; dup {
		return nil, errs.ConfigParse(declPath, fmt.Errorf("plugin %q declared in more than one group", props.Name))
	}

	modPath := props.Dll
	if !filepath.IsAbs(modPath) {
		modPath = filepath.Join(props.Dir, modPath)
	}
	mod, err := r.loader.Open(modPath)
	if err != nil {
		return nil, errs.ModuleLoad(props.Name, modPath, err)
	}
	factory, err := mod.Lookup(props.CreateFunction)
	if err != nil {
		closeModule(props.Name, mod)
		return nil, errs.ModuleLoad(props.Name, modPath, err)
	}
	p, err := plugin.Create(factory, props.Name, props.ConfigBag())
	if err != nil {
		closeModule(props.Name, mod)
		return nil, errs.Factory(props.Name, err)
	}

	return &PluginHandle{
		Name:       props.Name,
		Group:      ref.Group,
		Properties: props,
		Plugin:     p,
		Module:     mod,
		Countdown:  0,
	}, nil
}

func closeModule(name string, mod plugin.Module) {
	if err := mod.Close(); err != nil {
		logger.Warn("failed to close plugin module", zap.String("name", name), zap.Error(err))
	}
}

// InitializeBus 为每个已加载插件创建通道：先登记类型，再建 topic
func (r *Registry) InitializeBus(ctx context.Context) error {
	if r.provisioner == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.handles {
		if h.Channel != nil {
			continue
		}
		typeName := h.Name
		if h.Properties.Schema != nil {
			typeName = h.Properties.Schema.Name()
		}
		ch, err := r.provisioner.Provision(ctx, typeName, h.Properties.Schema, h.Properties.Topic, h.Properties.QoSSelection())
		if err != nil {
			return errs.ChannelProvision(h.Name, err)
		}
		h.Channel = ch
		logger.Debug("plugin channel provisioned", zap.String("name", h.Name), zap.String("topic", ch.Topic()))
	}
	return nil
}

// ShutdownBus 关闭会话下的全部通道与实体；可重复调用
func (r *Registry) ShutdownBus() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.handles {
		h.Channel = nil
	}
	if r.session == nil {
		return nil
	}
	return r.session.CloseAll()
}

// UnloadAll 先按顺序销毁全部插件实例，再按顺序关闭全部模块；部分加载后或重复调用都安全
func (r *Registry) UnloadAll() error {
	r.mu.Lock()
	handles := r.handles
	r.handles = nil
	r.byName = map[string]*PluginHandle{}
	r.mu.Unlock()

	var errList []error
	for _, h := range handles {
		logger.Debug("destroying plugin", zap.String("name", h.Name))
		if err := h.Plugin.Destroy(); err != nil {
			logger.Error("failed to destroy plugin", zap.String("name", h.Name), zap.Error(err))
			errList = append(errList, fmt.Errorf("destroy %s: %w", h.Name, err))
		}
	}
	for _, h := range handles {
		if err := h.Module.Close(); err != nil {
			logger.Error("failed to close plugin module", zap.String("name", h.Name), zap.Error(err))
			errList = append(errList, fmt.Errorf("close module of %s: %w", h.Name, err))
		}
	}
	if len(handles) > 0 {
		logger.Info("plugins unloaded", zap.Int("count", len(handles)))
	}
	return errors.Join(errList...)
}

// Handles 按注册顺序返回句柄快照
func (r *Registry) Handles() []*PluginHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*PluginHandle, len(r.handles))
	copy(out, r.handles)
	return out
}

// Handle 按插件名查找
func (r *Registry) Handle(name string) (*PluginHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.byName[name]
	return h, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
