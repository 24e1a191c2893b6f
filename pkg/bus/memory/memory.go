package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/agent-publisher/pkg/bus"
	"github.com/agent-publisher/pkg/schema"
)

// DriverName 驱动名
const DriverName = "memory"

// Default 通过 bus.Open("memory") 打开的会话共用的进程内 broker
var Default = NewBroker()

func init() {
	bus.RegisterDriver(NewDriver(Default))
}

var ErrClosed = errors.New("memory: transport closed")

// Broker 进程内 topic 表：按写端 QoS 保留历史，并推送给订阅者
type Broker struct {
	mu     sync.Mutex
	topics map[string]*topic
	types  map[string][]byte
}

type topic struct {
	depth int
	// 环形缓冲
	history [][]byte
	subs    map[int]chan bus.Message
	nextSub int
}

func NewBroker() *Broker {
	return &Broker{topics: map[string]*topic{}, types: map[string][]byte{}}
}

func key(domain int, name string) string {
	return bus.DomainPrefix(domain) + "/" + name
}

func (b *Broker) topicFor(k string) *topic {
	t, ok := b.topics[k]
	if !ok {
		t = &topic{depth: 1, subs: map[int]chan bus.Message{}}
		b.topics[k] = t
	}
	return t
}

// Subscribe 订阅一个 topic；buffer 满时丢弃新消息
func (b *Broker) Subscribe(domain int, name string, buffer int) (<-chan bus.Message, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.topicFor(key(domain, name))
	id := t.nextSub
	t.nextSub++
	ch := make(chan bus.Message, buffer)
	t.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(c)
		}
	}
}

// History 该 topic 保留的最近消息（旧 -> 新）
func (b *Broker) History(domain int, name string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[key(domain, name)]
	if !ok {
		return nil
	}
	out := make([][]byte, len(t.history))
	copy(out, t.history)
	return out
}

// Type 已登记的类型描述
func (b *Broker) Type(domain int, name string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.types[key(domain, name)]
	return d, ok
}

// Topics 已创建的 topic 数
func (b *Broker) Topics() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics)
}

func (b *Broker) publish(k string, msg bus.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.topicFor(k)
	t.history = append(t.history, msg.Payload)
	if over := len(t.history) - t.depth; over > 0 {
		t.history = append([][]byte(nil), t.history[over:]...)
	}
	for _, c := range t.subs {
		select {
		case c <- msg:
		default:
		}
	}
}

type driver struct {
	broker *Broker
}

// NewDriver 绑定到指定 broker 的驱动（测试隔离使用）
func NewDriver(b *Broker) bus.Driver {
	return &driver{broker: b}
}

func (d *driver) Name() string { return DriverName }

func (d *driver) Connect(_ context.Context, opts bus.ConnectOptions) (bus.Transport, error) {
	return &transport{broker: d.broker, domain: opts.DomainID}, nil
}

type transport struct {
	broker *Broker
	domain int
	mu     sync.Mutex
	closed bool
}

func (t *transport) RegisterType(_ context.Context, s *schema.RecordSchema) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	t.broker.mu.Lock()
	t.broker.types[key(t.domain, s.Name())] = bus.Describe(s)
	t.broker.mu.Unlock()
	return nil
}

func (t *transport) CreateWriter(_ context.Context, ws bus.WriterSpec) (bus.Writer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	k := key(t.domain, ws.Topic)
	t.broker.mu.Lock()
	tp := t.broker.topicFor(k)
	if depth := ws.QoS.WithDefaults().HistoryDepth; depth > tp.depth {
		tp.depth = depth
	}
	t.broker.mu.Unlock()
	return &writer{t: t, key: k}, nil
}

func (t *transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

type writer struct {
	t   *transport
	key string
}

func (w *writer) Write(ctx context.Context, msg bus.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.t.mu.Lock()
	closed := w.t.closed
	w.t.mu.Unlock()
	if closed {
		return ErrClosed
	}
	w.t.broker.publish(w.key, msg)
	return nil
}

func (w *writer) Close() error { return nil }
