package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agent-publisher/pkg/bus"
	"github.com/agent-publisher/pkg/logger"
	"github.com/agent-publisher/pkg/qos"
	"github.com/agent-publisher/pkg/schema"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// DriverName 驱动名
const DriverName = "kafka"

func init() {
	bus.RegisterDriver(driver{})
}

// Brokers 解析 "kafka://h1:9092,h2:9092" 或 "h1:9092,h2:9092"
func Brokers(url string) []string {
	url = strings.TrimPrefix(url, "kafka://")
	var out []string
	for _, b := range strings.Split(url, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// TopicName domain<id>.<topic>
func TopicName(domainID int, topic string) string {
	return bus.DomainPrefix(domainID) + "." + topic
}

// TypesTopic 类型描述写入的 topic
func TypesTopic(domainID int) string {
	return bus.DomainPrefix(domainID) + "._types"
}

// RequiredAcks best_effort 不等确认，reliable 等 leader，reliable 且持久化等全部副本
func RequiredAcks(w qos.WriterQoS) kafka.RequiredAcks {
	w = w.WithDefaults()
	switch {
	case !w.IsReliable():
		return kafka.RequireNone
	case w.IsDurable():
		return kafka.RequireAll
	default:
		return kafka.RequireOne
	}
}

// NewWriter 按 QoS 构造写端
func NewWriter(brokers []string, topic string, w qos.WriterQoS, timeout time.Duration) *kafka.Writer {
	w = w.WithDefaults()
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           RequiredAcks(w),
		Async:                  !w.IsReliable(),
		AllowAutoTopicCreation: true,
		WriteTimeout:           timeout,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Warn("kafka writer", zap.String("topic", topic), zap.String("detail", fmt.Sprintf(msg, args...)))
		}),
	}
}

// ToMessage 记录键用于分区
func ToMessage(msg bus.Message) kafka.Message {
	return kafka.Message{
		Key:   []byte(msg.Key),
		Value: msg.Payload,
		Time:  msg.Time,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(msg.TypeName)},
		},
	}
}

type driver struct{}

func (driver) Name() string { return DriverName }

func (driver) Connect(ctx context.Context, opts bus.ConnectOptions) (bus.Transport, error) {
	brokers := Brokers(opts.URL)
	if len(brokers) == 0 {
		return nil, errors.New("no kafka brokers in url")
	}
	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return nil, err
	}
	if err := conn.Close(); err != nil {
		logger.Debug("close kafka probe connection", zap.Error(err))
	}

	t := &transport{brokers: brokers, domain: opts.DomainID, timeout: opts.Timeout}
	t.types = NewWriter(brokers, TypesTopic(opts.DomainID), qos.WriterQoS{Reliability: qos.Reliable}, opts.Timeout)
	return t, nil
}

type transport struct {
	brokers []string
	domain  int
	timeout time.Duration
	types   *kafka.Writer
}

func (t *transport) RegisterType(ctx context.Context, s *schema.RecordSchema) error {
	return t.types.WriteMessages(ctx, kafka.Message{Key: []byte(s.Name()), Value: bus.Describe(s)})
}

func (t *transport) CreateWriter(_ context.Context, ws bus.WriterSpec) (bus.Writer, error) {
	return &writer{w: NewWriter(t.brokers, TopicName(t.domain, ws.Topic), ws.QoS, t.timeout)}, nil
}

func (t *transport) Close() error {
	return t.types.Close()
}

type writer struct {
	w *kafka.Writer
}

func (w *writer) Write(ctx context.Context, msg bus.Message) error {
	return w.w.WriteMessages(ctx, ToMessage(msg))
}

func (w *writer) Close() error { return w.w.Close() }
