package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agent-publisher/pkg/bus"
	"github.com/agent-publisher/pkg/qos"
	"github.com/agent-publisher/pkg/schema"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DriverName 驱动名
const DriverName = "rabbitmq"

func init() {
	bus.RegisterDriver(driver{})
}

// Exchange 每个域一个 topic 交换机
func Exchange(domainID int) string {
	return bus.DomainPrefix(domainID)
}

// QueueName 持久化写端对应的队列
func QueueName(domainID int, topic string) string {
	return bus.DomainPrefix(domainID) + "." + topic
}

// QueueArgs 队列长度上限取历史深度，超出丢弃最旧
func QueueArgs(w qos.WriterQoS) amqp.Table {
	w = w.WithDefaults()
	return amqp.Table{
		"x-max-length": int64(w.HistoryDepth),
		"x-overflow":   "drop-head",
	}
}

// Publishing 记录到 amqp 消息
func Publishing(msg bus.Message, w qos.WriterQoS) amqp.Publishing {
	mode := amqp.Transient
	if w.IsDurable() {
		mode = amqp.Persistent
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: mode,
		Priority:     uint8(w.Priority),
		Timestamp:    msg.Time,
		Type:         msg.TypeName,
		MessageId:    msg.Key,
		Body:         msg.Payload,
	}
}

type driver struct{}

func (driver) Name() string { return DriverName }

func (driver) Connect(_ context.Context, opts bus.ConnectOptions) (bus.Transport, error) {
	cfg := amqp.Config{
		Properties: amqp.NewConnectionProperties(),
		Heartbeat:  10 * time.Second,
	}
	if opts.ClientName != "" {
		cfg.Properties.SetClientConnectionName(opts.ClientName)
	}
	if opts.Timeout > 0 {
		cfg.Dial = amqp.DefaultDial(opts.Timeout)
	}
	conn, err := amqp.DialConfig(opts.URL, cfg)
	if err != nil {
		return nil, err
	}
	ctl, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open control channel: %w", err)
	}
	exchange := Exchange(opts.DomainID)
	if err := ctl.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &transport{conn: conn, ctl: ctl, exchange: exchange, domain: opts.DomainID}, nil
}

type transport struct {
	conn     *amqp.Connection
	exchange string
	domain   int

	mu  sync.Mutex
	ctl *amqp.Channel
}

func (t *transport) RegisterType(ctx context.Context, s *schema.RecordSchema) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ctl.PublishWithContext(ctx, t.exchange, "_types."+s.Name(), false, false, amqp.Publishing{
		ContentType: "application/json",
		Type:        s.Name(),
		Body:        bus.Describe(s),
	})
}

func (t *transport) CreateWriter(_ context.Context, ws bus.WriterSpec) (bus.Writer, error) {
	w := ws.QoS.WithDefaults()
	ch, err := t.conn.Channel()
	if err != nil {
		return nil, err
	}
	if w.IsDurable() {
		q, err := ch.QueueDeclare(QueueName(t.domain, ws.Topic), true, false, false, false, QueueArgs(w))
		if err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("declare queue: %w", err)
		}
		if err := ch.QueueBind(q.Name, ws.Topic, t.exchange, false, nil); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("bind queue: %w", err)
		}
	}
	wr := &writer{ch: ch, exchange: t.exchange, routingKey: ws.Topic, qos: w}
	if w.IsReliable() {
		if err := ch.Confirm(false); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("confirm mode: %w", err)
		}
		wr.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	}
	return wr, nil
}

func (t *transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return errors.Join(t.ctl.Close(), t.conn.Close())
}

type writer struct {
	mu         sync.Mutex
	ch         *amqp.Channel
	exchange   string
	routingKey string
	qos        qos.WriterQoS
	confirms   chan amqp.Confirmation
}

func (w *writer) Write(ctx context.Context, msg bus.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ch.PublishWithContext(ctx, w.exchange, w.routingKey, false, false, Publishing(msg, w.qos)); err != nil {
		return err
	}
	if w.confirms == nil {
		return nil
	}
	select {
	case c, ok := <-w.confirms:
		if !ok {
			return errors.New("confirmation channel closed")
		}
		if !c.Ack {
			return fmt.Errorf("publish to %s nacked", w.routingKey)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ch.Close()
}
