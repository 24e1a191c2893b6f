package redis

import (
	"context"
	"fmt"

	"github.com/agent-publisher/pkg/bus"
	"github.com/agent-publisher/pkg/qos"
	"github.com/agent-publisher/pkg/schema"
	"github.com/redis/go-redis/v9"
)

// DriverName 驱动名
const DriverName = "redis"

func init() {
	bus.RegisterDriver(driver{})
}

// ChannelKey PUBLISH 的频道或 XADD 的流：domain<id>:<topic>
func ChannelKey(domainID int, topic string) string {
	return bus.DomainPrefix(domainID) + ":" + topic
}

// TypesKey 类型描述所在的 hash
func TypesKey(domainID int) string {
	return bus.DomainPrefix(domainID) + ":types"
}

// StreamArgs 流长度近似截断到历史深度
func StreamArgs(stream string, msg bus.Message, w qos.WriterQoS) *redis.XAddArgs {
	w = w.WithDefaults()
	return &redis.XAddArgs{
		Stream: stream,
		MaxLen: int64(w.HistoryDepth),
		Approx: true,
		Values: map[string]interface{}{
			"type":    msg.TypeName,
			"key":     msg.Key,
			"payload": msg.Payload,
		},
	}
}

// Options 解析 redis:// URL
func Options(opts bus.ConnectOptions) (*redis.Options, error) {
	o, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, err
	}
	o.ClientName = opts.ClientName
	if opts.Timeout > 0 {
		o.DialTimeout = opts.Timeout
		o.WriteTimeout = opts.Timeout
	}
	return o, nil
}

type driver struct{}

func (driver) Name() string { return DriverName }

func (driver) Connect(ctx context.Context, opts bus.ConnectOptions) (bus.Transport, error) {
	o, err := Options(opts)
	if err != nil {
		return nil, err
	}
	rc := redis.NewClient(o)
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &transport{rc: rc, domain: opts.DomainID}, nil
}

type transport struct {
	rc     *redis.Client
	domain int
}

func (t *transport) RegisterType(ctx context.Context, s *schema.RecordSchema) error {
	return t.rc.HSet(ctx, TypesKey(t.domain), s.Name(), bus.Describe(s)).Err()
}

func (t *transport) CreateWriter(_ context.Context, ws bus.WriterSpec) (bus.Writer, error) {
	return &writer{rc: t.rc, key: ChannelKey(t.domain, ws.Topic), qos: ws.QoS.WithDefaults()}, nil
}

func (t *transport) Close() error { return t.rc.Close() }

type writer struct {
	rc  *redis.Client
	key string
	qos qos.WriterQoS
}

func (w *writer) Write(ctx context.Context, msg bus.Message) error {
	if w.qos.IsDurable() {
		return w.rc.XAdd(ctx, StreamArgs(w.key, msg, w.qos)).Err()
	}
	return w.rc.Publish(ctx, w.key, msg.Payload).Err()
}

func (w *writer) Close() error { return nil }
