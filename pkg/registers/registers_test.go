package registers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/agent-publisher/pkg/bus"
	"github.com/agent-publisher/pkg/bus/memory"
	"github.com/agent-publisher/pkg/config"
	"github.com/agent-publisher/pkg/errs"
	"github.com/agent-publisher/pkg/plugin"
	"github.com/agent-publisher/pkg/qos"
	"github.com/agent-publisher/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// journal 记录插件与模块的生命周期事件
type journal struct {
	events []string
}

func (j *journal) add(format string, args ...any) {
	j.events = append(j.events, fmt.Sprintf(format, args...))
}

type recordingPlugin struct {
	name string
	j    *journal
}

func (p *recordingPlugin) Identify() string { return "recording" }

func (p *recordingPlugin) ProduceAndPublish(context.Context, bus.Channel) error { return nil }

func (p *recordingPlugin) Destroy() error {
	p.j.add("destroy:%s", p.name)
	return nil
}

// recordingLoader 包装 BuiltinLoader，记录模块打开与关闭
type recordingLoader struct {
	inner *plugin.BuiltinLoader
	j     *journal
}

func (l *recordingLoader) Open(path string) (plugin.Module, error) {
	m, err := l.inner.Open(path)
	if err != nil {
		return nil, err
	}
	name := filepath.Base(path)
	l.j.add("open:%s", name)
	return &recordingModule{Module: m, name: name, j: l.j}, nil
}

type recordingModule struct {
	plugin.Module
	name string
	j    *journal
}

func (m *recordingModule) Close() error {
	m.j.add("close:%s", m.name)
	return m.Module.Close()
}

type fixture struct {
	root   string
	store  *config.Store
	loader *recordingLoader
	j      *journal
}

func newFixture(t *testing.T, groups ...config.PluginLibrary) *fixture {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Agent.PluginRoot = t.TempDir()
	cfg.Agent.PluginLibraries = groups
	j := &journal{}
	f := &fixture{
		root:   cfg.Agent.PluginRoot,
		store:  config.NewStore(cfg),
		loader: &recordingLoader{inner: plugin.NewBuiltinLoader(), j: j},
		j:      j,
	}
	return f
}

// declare 写入声明文件，并在内置表注册对应工厂
func (f *fixture) declare(t *testing.T, group, name string, factory plugin.Factory) {
	t.Helper()
	dir := filepath.Join(f.root, group, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	decl := fmt.Sprintf(`
plugin:
  name: %[1]s
  dll: lib%[1]s.so
  create_function: create_%[1]s
  publishing_period_sec: 5
  type_definition:
    type_name: %[1]s
    members:
      - {name: hostname, type: string, key: true}
      - {name: value, type: double}
`, name)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+config.DeclarationExt), []byte(decl), 0o644))
	if factory == nil {
		factory = f.factory()
	}
	f.loader.inner.Register("lib"+name+".so", "create_"+name, factory)
}

func (f *fixture) factory() plugin.Factory {
	return func(name string, _ map[string]string) (plugin.Plugin, error) {
		f.j.add("create:%s", name)
		return &recordingPlugin{name: name, j: f.j}, nil
	}
}

func TestLoadAllInOrder(t *testing.T) {
	f := newFixture(t,
		config.PluginLibrary{Dir: "extra", Plugins: []string{"proc"}},
		config.PluginLibrary{Dir: "default", Plugins: []string{"cpu", "disk"}},
	)
	f.declare(t, "default", "cpu", nil)
	f.declare(t, "default", "disk", nil)
	f.declare(t, "extra", "proc", nil)

	r := NewRegistry(f.store, f.loader, nil, nil)
	require.NoError(t, r.LoadAll(context.Background()))
	require.Equal(t, 3, r.Len())

	var names []string
	for _, h := range r.Handles() {
		names = append(names, h.Name)
		assert.Equal(t, 0, h.Countdown)
		assert.Equal(t, 5, h.Properties.PeriodSec)
	}
	assert.Equal(t, []string{"cpu", "disk", "proc"}, names)

	h, ok := r.Handle("proc")
	require.True(t, ok)
	assert.Equal(t, "extra", h.Group)

	_, ok = f.store.PropertiesOf("disk")
	assert.True(t, ok)

	assert.ErrorIs(t, r.LoadAll(context.Background()), ErrAlreadyLoaded)
}

func TestLoadAllIsAllOrNothing(t *testing.T) {
	f := newFixture(t, config.PluginLibrary{Dir: "default", Plugins: []string{"cpu", "disk", "memory"}})
	f.declare(t, "default", "cpu", nil)
	f.declare(t, "default", "disk", func(string, map[string]string) (plugin.Plugin, error) {
		return nil, errors.New("cannot open statvfs")
	})
	f.declare(t, "default", "memory", nil)

	r := NewRegistry(f.store, f.loader, nil, nil)
	err := r.LoadAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrFactory)
	assert.Equal(t, errs.KindFactory, errs.KindOf(err))
	assert.Contains(t, err.Error(), "disk")
	assert.Equal(t, 1, r.Len())

	require.NoError(t, r.UnloadAll())
	assert.Equal(t, []string{
		"open:libcpu.so", "create:cpu",
		"open:libdisk.so", "close:libdisk.so",
		"destroy:cpu", "close:libcpu.so",
	}, f.j.events)

	// 第二次卸载无操作
	require.NoError(t, r.UnloadAll())
	assert.Len(t, f.j.events, 6)
	assert.Equal(t, 0, r.Len())
}

func TestUnloadDestroysBeforeClosing(t *testing.T) {
	f := newFixture(t, config.PluginLibrary{Dir: "default", Plugins: []string{"cpu", "memory"}})
	f.declare(t, "default", "cpu", nil)
	f.declare(t, "default", "memory", nil)

	r := NewRegistry(f.store, f.loader, nil, nil)
	require.NoError(t, r.LoadAll(context.Background()))
	f.j.events = nil
	require.NoError(t, r.UnloadAll())
	assert.Equal(t, []string{"destroy:cpu", "destroy:memory", "close:libcpu.so", "close:libmemory.so"}, f.j.events)
}

func TestLoadFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("missing declaration", func(t *testing.T) {
		f := newFixture(t, config.PluginLibrary{Dir: "default", Plugins: []string{"ghost"}})
		err := NewRegistry(f.store, f.loader, nil, nil).LoadAll(ctx)
		assert.ErrorIs(t, err, errs.ErrConfigParse)
		assert.Contains(t, err.Error(), "ghost.yaml")
	})

	t.Run("missing module", func(t *testing.T) {
		f := newFixture(t, config.PluginLibrary{Dir: "default", Plugins: []string{"cpu"}})
		f.declare(t, "default", "cpu", nil)
		f.loader.inner = plugin.NewBuiltinLoader()
		err := NewRegistry(f.store, f.loader, nil, nil).LoadAll(ctx)
		assert.ErrorIs(t, err, errs.ErrModuleLoad)
		assert.ErrorIs(t, err, plugin.ErrModuleNotFound)
	})

	t.Run("missing symbol", func(t *testing.T) {
		f := newFixture(t, config.PluginLibrary{Dir: "default", Plugins: []string{"cpu"}})
		f.declare(t, "default", "cpu", nil)
		f.loader.inner = plugin.NewBuiltinLoader()
		f.loader.inner.Register("libcpu.so", "create_something_else", f.factory())
		err := NewRegistry(f.store, f.loader, nil, nil).LoadAll(ctx)
		assert.ErrorIs(t, err, errs.ErrModuleLoad)
		assert.ErrorIs(t, err, plugin.ErrSymbolNotFound)
		assert.Equal(t, []string{"open:libcpu.so", "close:libcpu.so"}, f.j.events)
	})

	t.Run("factory panic", func(t *testing.T) {
		f := newFixture(t, config.PluginLibrary{Dir: "default", Plugins: []string{"cpu"}})
		f.declare(t, "default", "cpu", func(string, map[string]string) (plugin.Plugin, error) {
			panic("sigar_open failed")
		})
		err := NewRegistry(f.store, f.loader, nil, nil).LoadAll(ctx)
		assert.ErrorIs(t, err, errs.ErrFactory)
	})

	t.Run("nil plugin", func(t *testing.T) {
		f := newFixture(t, config.PluginLibrary{Dir: "default", Plugins: []string{"cpu"}})
		f.declare(t, "default", "cpu", func(string, map[string]string) (plugin.Plugin, error) { return nil, nil })
		err := NewRegistry(f.store, f.loader, nil, nil).LoadAll(ctx)
		assert.ErrorIs(t, err, errs.ErrFactory)
	})

	t.Run("declared name differs from directory", func(t *testing.T) {
		f := newFixture(t, config.PluginLibrary{Dir: "default", Plugins: []string{"cpu"}})
		f.declare(t, "default", "cpu", nil)
		path := filepath.Join(f.root, "default", "cpu", "cpu.yaml")
		require.NoError(t, os.WriteFile(path, []byte("plugin: {name: memory, dll: libcpu.so, create_function: create_cpu}\n"), 0o644))
		err := NewRegistry(f.store, f.loader, nil, nil).LoadAll(ctx)
		assert.ErrorIs(t, err, errs.ErrConfigParse)
		_, ok := f.store.PropertiesOf("memory")
		assert.False(t, ok)
	})

	t.Run("typed nil plugin", func(t *testing.T) {
		f := newFixture(t, config.PluginLibrary{Dir: "default", Plugins: []string{"cpu"}})
		f.declare(t, "default", "cpu", func(string, map[string]string) (plugin.Plugin, error) {
			var p *recordingPlugin
			return p, nil
		})
		err := NewRegistry(f.store, f.loader, nil, nil).LoadAll(ctx)
		assert.ErrorIs(t, err, errs.ErrFactory)
		assert.ErrorIs(t, err, plugin.ErrNilPlugin)
		assert.Equal(t, []string{"open:libcpu.so", "close:libcpu.so"}, f.j.events)
	})

	t.Run("same name in two groups", func(t *testing.T) {
		f := newFixture(t,
			config.PluginLibrary{Dir: "default", Plugins: []string{"cpu"}},
			config.PluginLibrary{Dir: "extra", Plugins: []string{"cpu"}},
		)
		f.declare(t, "default", "cpu", nil)
		dir := filepath.Join(f.root, "extra", "cpu")
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "cpu.yaml"),
			[]byte("plugin: {name: cpu, dll: libcpu.so, create_function: create_cpu, publishing_period_sec: 60}\n"), 0o644))

		err := NewRegistry(f.store, f.loader, nil, nil).LoadAll(ctx)
		assert.ErrorIs(t, err, errs.ErrConfigParse)
		props, ok := f.store.PropertiesOf("cpu")
		require.True(t, ok)
		assert.Equal(t, 5, props.PeriodSec)
		assert.Equal(t, filepath.Join(f.root, "default", "cpu"), props.Dir)
	})
}

func TestLoadAllDiscoversMatchingDirectories(t *testing.T) {
	f := newFixture(t, config.PluginLibrary{Dir: "default", Plugins: []string{"memory"}, Match: "^c"})
	f.declare(t, "default", "memory", nil)
	f.declare(t, "default", "cpu", nil)
	f.declare(t, "default", "cgroup", nil)
	require.NoError(t, os.MkdirAll(filepath.Join(f.root, "default", "cache"), 0o755))

	r := NewRegistry(f.store, f.loader, nil, nil)
	require.NoError(t, r.LoadAll(context.Background()))
	var names []string
	for _, h := range r.Handles() {
		names = append(names, h.Name)
	}
	assert.Equal(t, []string{"memory", "cgroup", "cpu"}, names)
}

func TestSetupProvisionsChannels(t *testing.T) {
	f := newFixture(t, config.PluginLibrary{Dir: "default", Plugins: []string{"cpu", "disk"}})
	f.declare(t, "default", "cpu", nil)
	f.declare(t, "default", "disk", nil)

	ctx := context.Background()
	broker := memory.NewBroker()
	session, err := bus.OpenWith(ctx, memory.NewDriver(broker), bus.Options{DomainID: 2})
	require.NoError(t, err)

	r := NewRegistry(f.store, f.loader, bus.NewProvisioner(session), session)
	require.NoError(t, r.Setup(ctx, nil))
	for _, h := range r.Handles() {
		require.NotNil(t, h.Channel, h.Name)
		assert.Equal(t, h.Name, h.Channel.Topic())
	}
	_, ok := broker.Type(2, "disk")
	assert.True(t, ok)
	assert.Equal(t, 2, session.Channels())

	require.NoError(t, r.Teardown())
	assert.Equal(t, 0, session.Channels())
	assert.Equal(t, 0, r.Len())
	require.NoError(t, r.Teardown())
}

// failingProvisioner 第 n 次调用失败
type failingProvisioner struct {
	inner *bus.Provisioner
	n     int
	calls int
}

func (p *failingProvisioner) Provision(ctx context.Context, typeName string, rs *schema.RecordSchema, topic string, sel qos.Selection) (bus.Channel, error) {
	p.calls++
	if p.calls == p.n {
		return nil, errors.New("topic creation refused")
	}
	return p.inner.Provision(ctx, typeName, rs, topic, sel)
}

func TestSetupTearsDownOnProvisionFailure(t *testing.T) {
	f := newFixture(t, config.PluginLibrary{Dir: "default", Plugins: []string{"cpu", "disk"}})
	f.declare(t, "default", "cpu", nil)
	f.declare(t, "default", "disk", nil)

	ctx := context.Background()
	session, err := bus.OpenWith(ctx, memory.NewDriver(memory.NewBroker()), bus.Options{})
	require.NoError(t, err)

	prov := &failingProvisioner{inner: bus.NewProvisioner(session), n: 2}
	r := NewRegistry(f.store, f.loader, prov, session)
	err = r.Setup(ctx, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrChannelProvision)
	assert.Contains(t, err.Error(), "disk")

	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 0, session.Channels())
	assert.Contains(t, f.j.events, "destroy:cpu")
	assert.Contains(t, f.j.events, "destroy:disk")
}
