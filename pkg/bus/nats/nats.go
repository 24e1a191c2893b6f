package nats

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agent-publisher/pkg/bus"
	"github.com/agent-publisher/pkg/logger"
	"github.com/agent-publisher/pkg/qos"
	"github.com/agent-publisher/pkg/schema"
	gonats "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

// DriverName 驱动名
const DriverName = "nats"

const (
	headerType = "Agent-Type"
	headerKey  = "Agent-Key"
)

func init() {
	bus.RegisterDriver(driver{})
}

// Subject topic 对应的 subject：domain<id>.<topic>
func Subject(domainID int, topic string) string {
	return bus.DomainPrefix(domainID) + "." + topic
}

// TypeSubject 类型描述发布的 subject
func TypeSubject(domainID int, typeName string) string {
	return bus.DomainPrefix(domainID) + "._types." + typeName
}

// StreamName JetStream 流名不允许出现 '.'
func StreamName(domainID int, topic string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(Subject(domainID, topic))
}

// StreamConfig 持久化写端对应的流配置
func StreamConfig(domainID int, topic string, w qos.WriterQoS) jetstream.StreamConfig {
	w = w.WithDefaults()
	storage := jetstream.MemoryStorage
	if w.Durability == qos.Persistent {
		storage = jetstream.FileStorage
	}
	return jetstream.StreamConfig{
		Name:              StreamName(domainID, topic),
		Subjects:          []string{Subject(domainID, topic)},
		Retention:         jetstream.LimitsPolicy,
		MaxMsgsPerSubject: int64(w.HistoryDepth),
		Storage:           storage,
		Discard:           jetstream.DiscardOld,
	}
}

// ConnectionOptions nats 连接参数
func ConnectionOptions(opts bus.ConnectOptions) []gonats.Option {
	o := []gonats.Option{
		gonats.MaxReconnects(-1),
		gonats.ReconnectWait(2 * time.Second),
		gonats.DisconnectErrHandler(func(_ *gonats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		gonats.ReconnectHandler(func(c *gonats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	}
	if opts.Timeout > 0 {
		o = append(o, gonats.Timeout(opts.Timeout))
	}
	if opts.ClientName != "" {
		o = append(o, gonats.Name(opts.ClientName))
	}
	return o
}

type driver struct{}

func (driver) Name() string { return DriverName }

func (driver) Connect(_ context.Context, opts bus.ConnectOptions) (bus.Transport, error) {
	url := opts.URL
	if url == "" {
		url = gonats.DefaultURL
	}
	nc, err := gonats.Connect(url, ConnectionOptions(opts)...)
	if err != nil {
		return nil, err
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	return &transport{nc: nc, js: js, domain: opts.DomainID}, nil
}

type transport struct {
	nc     *gonats.Conn
	js     jetstream.JetStream
	domain int
}

func (t *transport) RegisterType(_ context.Context, s *schema.RecordSchema) error {
	return t.nc.Publish(TypeSubject(t.domain, s.Name()), bus.Describe(s))
}

func (t *transport) CreateWriter(ctx context.Context, ws bus.WriterSpec) (bus.Writer, error) {
	w := &writer{
		t:       t,
		subject: Subject(t.domain, ws.Topic),
		qos:     ws.QoS.WithDefaults(),
	}
	if w.qos.IsDurable() {
		if _, err := t.js.CreateOrUpdateStream(ctx, StreamConfig(t.domain, ws.Topic, w.qos)); err != nil {
			return nil, fmt.Errorf("create stream for %s: %w", w.subject, err)
		}
	}
	return w, nil
}

func (t *transport) Close() error {
	if err := t.nc.Flush(); err != nil {
		logger.Warn("nats flush before close failed", zap.Error(err))
	}
	t.nc.Close()
	return nil
}

type writer struct {
	t       *transport
	subject string
	qos     qos.WriterQoS
}

func (w *writer) Write(ctx context.Context, msg bus.Message) error {
	m := gonats.NewMsg(w.subject)
	m.Data = msg.Payload
	m.Header.Set(headerType, msg.TypeName)
	if msg.Key != "" {
		m.Header.Set(headerKey, msg.Key)
	}

	if w.qos.IsDurable() {
		_, err := w.t.js.PublishMsg(ctx, m)
		return err
	}
	if err := w.t.nc.PublishMsg(m); err != nil {
		return err
	}
	if w.qos.IsReliable() {
		return w.t.nc.FlushWithContext(ctx)
	}
	return nil
}

func (w *writer) Close() error { return nil }
