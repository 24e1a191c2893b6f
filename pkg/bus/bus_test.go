package bus_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agent-publisher/pkg/bus"
	"github.com/agent-publisher/pkg/bus/memory"
	"github.com/agent-publisher/pkg/qos"
	"github.com/agent-publisher/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDriver 记录调用顺序，可注入失败
type fakeDriver struct {
	calls      []string
	failType   string
	failTopic  string
	writeErr   error
	connectErr error
}

func (d *fakeDriver) Name() string { return "fake" }

func (d *fakeDriver) Connect(context.Context, bus.ConnectOptions) (bus.Transport, error) {
	if d.connectErr != nil {
		return nil, d.connectErr
	}
	return &fakeTransport{d: d}, nil
}

type fakeTransport struct{ d *fakeDriver }

func (t *fakeTransport) RegisterType(_ context.Context, s *schema.RecordSchema) error {
	t.d.calls = append(t.d.calls, "type:"+s.Name())
	if s.Name() == t.d.failType {
		return errors.New("type rejected")
	}
	return nil
}

func (t *fakeTransport) CreateWriter(_ context.Context, ws bus.WriterSpec) (bus.Writer, error) {
	t.d.calls = append(t.d.calls, "topic:"+ws.Topic)
	if ws.Topic == t.d.failTopic {
		return nil, errors.New("topic rejected")
	}
	return &fakeWriter{d: t.d, topic: ws.Topic}, nil
}

func (t *fakeTransport) Close() error {
	t.d.calls = append(t.d.calls, "close-transport")
	return nil
}

type fakeWriter struct {
	d     *fakeDriver
	topic string
}

func (w *fakeWriter) Write(context.Context, bus.Message) error { return w.d.writeErr }

func (w *fakeWriter) Close() error {
	w.d.calls = append(w.d.calls, "close:"+w.topic)
	return nil
}

func cpuSchema() *schema.RecordSchema {
	return schema.MustNew("cpu",
		schema.Field{Name: "hostname", Kind: schema.String, Key: true},
		schema.Field{Name: "cpu_user", Kind: schema.Float64},
		schema.Field{Name: "load_one", Kind: schema.Float64},
	)
}

func TestProvisionRegistersTypeBeforeTopic(t *testing.T) {
	d := &fakeDriver{}
	s, err := bus.OpenWith(context.Background(), d, bus.Options{})
	require.NoError(t, err)

	p := bus.NewProvisioner(s)
	_, err = p.Provision(context.Background(), "cpu", cpuSchema(), "cpu", qos.Selection{})
	require.NoError(t, err)
	_, err = p.Provision(context.Background(), "cpu2", cpuSchema(), "cpu_copy", qos.Selection{Profile: "default"})
	require.NoError(t, err)

	assert.Equal(t, []string{"type:cpu", "topic:cpu", "topic:cpu_copy"}, d.calls)
	assert.Equal(t, 2, s.Channels())

	require.NoError(t, s.CloseAll())
	assert.Equal(t, []string{"close:cpu_copy", "close:cpu", "close-transport"}, d.calls[3:])

	// 第二次关闭无操作
	require.NoError(t, s.CloseAll())
	assert.Len(t, d.calls, 6)
}

func TestProvisionFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("type registration", func(t *testing.T) {
		s, err := bus.OpenWith(ctx, &fakeDriver{failType: "cpu"}, bus.Options{})
		require.NoError(t, err)
		_, err = bus.NewProvisioner(s).Provision(ctx, "cpu", cpuSchema(), "cpu", qos.Selection{})
		assert.Error(t, err)
		assert.Equal(t, 0, s.Channels())
	})

	t.Run("topic creation", func(t *testing.T) {
		s, err := bus.OpenWith(ctx, &fakeDriver{failTopic: "cpu"}, bus.Options{})
		require.NoError(t, err)
		_, err = bus.NewProvisioner(s).Provision(ctx, "cpu", cpuSchema(), "cpu", qos.Selection{})
		assert.Error(t, err)
	})

	t.Run("unknown qos profile", func(t *testing.T) {
		s, err := bus.OpenWith(ctx, &fakeDriver{}, bus.Options{})
		require.NoError(t, err)
		_, err = bus.NewProvisioner(s).Provision(ctx, "cpu", cpuSchema(), "cpu", qos.Selection{Library: "lib", Profile: "fast"})
		assert.ErrorIs(t, err, qos.ErrUnknownLibrary)
	})

	t.Run("channel before type", func(t *testing.T) {
		s, err := bus.OpenWith(ctx, &fakeDriver{}, bus.Options{})
		require.NoError(t, err)
		_, err = s.CreateChannel(ctx, cpuSchema(), "cpu", qos.Selection{})
		assert.ErrorIs(t, err, bus.ErrTypeNotRegistered)
	})

	t.Run("conflicting type", func(t *testing.T) {
		s, err := bus.OpenWith(ctx, &fakeDriver{}, bus.Options{})
		require.NoError(t, err)
		require.NoError(t, s.RegisterType(ctx, cpuSchema()))
		other := schema.MustNew("cpu", schema.Field{Name: "x", Kind: schema.Int32})
		assert.ErrorIs(t, s.RegisterType(ctx, other), bus.ErrTypeConflict)
	})

	t.Run("connect", func(t *testing.T) {
		_, err := bus.OpenWith(ctx, &fakeDriver{connectErr: errors.New("refused")}, bus.Options{})
		assert.Error(t, err)
	})

	t.Run("session default profile", func(t *testing.T) {
		_, err := bus.OpenWith(ctx, &fakeDriver{}, bus.Options{QoSLibrary: "lib", QoSProfile: "fast"})
		assert.Error(t, err)
	})

	t.Run("closed session", func(t *testing.T) {
		s, err := bus.OpenWith(ctx, &fakeDriver{}, bus.Options{})
		require.NoError(t, err)
		require.NoError(t, s.CloseAll())
		_, err = bus.NewProvisioner(s).Provision(ctx, "cpu", cpuSchema(), "cpu", qos.Selection{})
		assert.ErrorIs(t, err, bus.ErrSessionClosed)
	})
}

func TestMemoryChannelWrite(t *testing.T) {
	ctx := context.Background()
	broker := memory.NewBroker()
	s, err := bus.OpenWith(ctx, memory.NewDriver(broker), bus.Options{DomainID: 7})
	require.NoError(t, err)
	defer s.CloseAll()

	depth := qos.WriterQoS{Reliability: qos.Reliable, Durability: qos.TransientLocal, HistoryDepth: 2}
	ch, err := bus.NewProvisioner(s).Provision(ctx, "cpu", cpuSchema(), "cpu_topic", qos.Selection{Writer: &depth})
	require.NoError(t, err)
	assert.Equal(t, depth, ch.QoS())
	assert.Equal(t, "cpu_topic", ch.Topic())

	desc, ok := broker.Type(7, "cpu")
	require.True(t, ok)
	assert.Contains(t, string(desc), `"name":"hostname"`)

	msgs, cancel := broker.Subscribe(7, "cpu_topic", 8)
	defer cancel()

	for i, host := range []string{"a", "b", "c"} {
		rec := schema.NewRecord(ch.Schema())
		require.NoError(t, rec.Fill(map[string]any{"hostname": host, "cpu_user": float64(i)}))
		require.NoError(t, ch.Write(ctx, rec))
	}

	first := <-msgs
	assert.Equal(t, "a", first.Key)
	assert.Equal(t, "cpu", first.TypeName)

	env, err := bus.DecodeEnvelope(first.Payload)
	require.NoError(t, err)
	assert.Equal(t, "cpu", env.Type)
	assert.Equal(t, 7, env.Domain)
	assert.Equal(t, s.ID(), env.Session)
	assert.Equal(t, uint64(1), env.Seq)
	require.Len(t, env.Fields, 3)
	assert.Equal(t, []string{"hostname", "cpu_user", "load_one"},
		[]string{env.Fields[0].Name, env.Fields[1].Name, env.Fields[2].Name})
	host, _ := env.Fields.Get("hostname")
	assert.Equal(t, "a", host)

	history := broker.History(7, "cpu_topic")
	require.Len(t, history, 2)
	last, err := bus.DecodeEnvelope(history[1])
	require.NoError(t, err)
	assert.Equal(t, uint64(3), last.Seq)

	wrong := schema.NewRecord(schema.MustNew("mem", schema.Field{Name: "x", Kind: schema.Int32}))
	assert.Error(t, ch.Write(ctx, wrong))

	require.NoError(t, s.CloseAll())
	assert.ErrorIs(t, ch.Write(ctx, schema.NewRecord(ch.Schema())), bus.ErrSessionClosed)
}

func TestSchemalessProvision(t *testing.T) {
	ctx := context.Background()
	broker := memory.NewBroker()
	s, err := bus.OpenWith(ctx, memory.NewDriver(broker), bus.Options{})
	require.NoError(t, err)
	defer s.CloseAll()

	ch, err := bus.NewProvisioner(s).Provision(ctx, "host_info", nil, "host_info", qos.Selection{})
	require.NoError(t, err)
	assert.True(t, ch.Schema().IsOpen())
	assert.Equal(t, "host_info", ch.Schema().Name())

	rec := schema.NewRecord(ch.Schema())
	require.NoError(t, rec.Set("uptime", 12))
	require.NoError(t, ch.Write(ctx, rec))
	require.Len(t, broker.History(0, "host_info"), 1)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	d := &fakeDriver{writeErr: errors.New("broker down")}
	s, err := bus.OpenWith(ctx, d, bus.Options{Breaker: bus.BreakerSettings{Enable: true, MaxFailures: 2, OpenTimeout: time.Minute}})
	require.NoError(t, err)

	ch, err := bus.NewProvisioner(s).Provision(ctx, "cpu", cpuSchema(), "cpu", qos.Selection{})
	require.NoError(t, err)

	rec := schema.NewRecord(ch.Schema())
	assert.EqualError(t, ch.Write(ctx, rec), "broker down")
	assert.EqualError(t, ch.Write(ctx, rec), "broker down")
	assert.ErrorIs(t, ch.Write(ctx, rec), bus.ErrBreakerOpen)
}

func TestOpenLoadsQoSFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qos.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
libraries:
  - name: agent
    profiles:
      - name: durable
        writer: {reliability: reliable, durability: persistent, history_depth: 5}
`), 0o644))

	ctx := context.Background()
	s, err := bus.OpenWith(ctx, &fakeDriver{}, bus.Options{QoSFile: path, QoSLibrary: "agent", QoSProfile: "durable"})
	require.NoError(t, err)
	assert.Equal(t, 5, s.QoS().SessionDefault().HistoryDepth)

	ch, err := bus.NewProvisioner(s).Provision(ctx, "cpu", cpuSchema(), "cpu", qos.Selection{})
	require.NoError(t, err)
	assert.Equal(t, qos.Persistent, ch.QoS().Durability)

	_, err = bus.OpenWith(ctx, &fakeDriver{}, bus.Options{QoSFile: filepath.Join(t.TempDir(), "none.yaml")})
	assert.Error(t, err)
}

func TestDriverRegistry(t *testing.T) {
	assert.Contains(t, bus.Drivers(), memory.DriverName)
	_, err := bus.GetDriver("carrier-pigeon")
	assert.Error(t, err)
	assert.Panics(t, func() { bus.RegisterDriver(memory.NewDriver(memory.NewBroker())) })
}
