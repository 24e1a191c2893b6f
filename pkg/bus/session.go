package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agent-publisher/pkg/logger"
	"github.com/agent-publisher/pkg/qos"
	"github.com/agent-publisher/pkg/schema"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrSessionClosed     = errors.New("bus: session closed")
	ErrTypeNotRegistered = errors.New("bus: type not registered")
	ErrTypeConflict      = errors.New("bus: type registered with different fields")
)

// Options 会话参数
type Options struct {
	URL            string
	DomainID       int
	QoSFile        string
	QoSLibrary     string
	QoSProfile     string
	PublishTimeout time.Duration
	ClientName     string
	Breaker        BreakerSettings
}

// Session 传输层会话：类型登记、通道创建与统一关闭
type Session struct {
	id        string
	domainID  int
	driver    string
	transport Transport
	qos       *qos.Provider
	timeout   time.Duration
	breaker   BreakerSettings
	now       func() time.Time

	mu       sync.Mutex
	types    map[string]*schema.RecordSchema
	channels []*channel
	closed   bool
}

// Open 按驱动名打开会话
func Open(ctx context.Context, driverName string, opts Options) (*Session, error) {
	d, err := GetDriver(driverName)
	if err != nil {
		return nil, err
	}
	return OpenWith(ctx, d, opts)
}

// OpenWith 使用给定驱动打开会话；QoS 默认库/profile 必须可解析
func OpenWith(ctx context.Context, d Driver, opts Options) (*Session, error) {
	var file *qos.File
	if opts.QoSFile != "" {
		f, err := qos.LoadFile(opts.QoSFile)
		if err != nil {
			return nil, err
		}
		file = f
	}
	provider, err := qos.NewProvider(file, opts.QoSLibrary, opts.QoSProfile)
	if err != nil {
		return nil, fmt.Errorf("bus: session qos: %w", err)
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}

	s := &Session{
		id:       uuid.NewString(),
		domainID: opts.DomainID,
		driver:   d.Name(),
		qos:      provider,
		timeout:  opts.PublishTimeout,
		breaker:  opts.Breaker,
		now:      time.Now,
		types:    map[string]*schema.RecordSchema{},
	}

	t, err := d.Connect(ctx, ConnectOptions{
		URL:        opts.URL,
		DomainID:   opts.DomainID,
		SessionID:  s.id,
		ClientName: opts.ClientName,
		Timeout:    opts.PublishTimeout,
		Default:    provider.SessionDefault(),
	})
	if err != nil {
		return nil, fmt.Errorf("bus: connect %s: %w", d.Name(), err)
	}
	s.transport = t

	logger.Info("bus session opened",
		zap.String("driver", d.Name()),
		zap.String("session", s.id),
		zap.Int("domain_id", opts.DomainID),
	)
	return s, nil
}

func (s *Session) ID() string         { return s.id }
func (s *Session) DomainID() int      { return s.domainID }
func (s *Session) Driver() string     { return s.driver }
func (s *Session) QoS() *qos.Provider { return s.qos }

// RegisterType 同名同字段重复登记无操作，字段不同报错
func (s *Session) RegisterType(ctx context.Context, rs *schema.RecordSchema) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if prev, ok := s.types[rs.Name()]; ok {
		if prev.Equal(rs) {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrTypeConflict, rs.Name())
	}
	if err := s.transport.RegisterType(ctx, rs); err != nil {
		return fmt.Errorf("bus: register type %s: %w", rs.Name(), err)
	}
	s.types[rs.Name()] = rs
	return nil
}

// CreateChannel 类型必须已登记；显式写端 QoS 优先于库/profile
func (s *Session) CreateChannel(ctx context.Context, rs *schema.RecordSchema, topic string, sel qos.Selection) (Channel, error) {
	w, err := s.qos.Resolve(sel)
	if err != nil {
		return nil, fmt.Errorf("bus: topic %s: %w", topic, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	if _, ok := s.types[rs.Name()]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrTypeNotRegistered, rs.Name())
	}

	wr, err := s.transport.CreateWriter(ctx, WriterSpec{Topic: topic, Schema: rs, QoS: w})
	if err != nil {
		return nil, fmt.Errorf("bus: create writer for topic %s: %w", topic, err)
	}
	ch := &channel{
		session: s,
		topic:   topic,
		schema:  rs,
		qos:     w,
		writer:  wr,
		breaker: newBreaker(topic, s.breaker),
	}
	s.channels = append(s.channels, ch)
	logger.Debug("bus channel created",
		zap.String("topic", topic),
		zap.String("type", rs.Name()),
		zap.String("reliability", string(w.Reliability)),
		zap.String("durability", string(w.Durability)),
	)
	return ch, nil
}

// Channels 已创建通道数
func (s *Session) Channels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.channels)
}

// CloseAll 逆序关闭所有通道，再关闭传输层；可重复调用
func (s *Session) CloseAll() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	channels := s.channels
	s.channels = nil
	s.mu.Unlock()

	var errList []error
	for i := len(channels) - 1; i >= 0; i-- {
		if err := channels[i].close(); err != nil {
			logger.Warn("failed to close channel", zap.String("topic", channels[i].topic), zap.Error(err))
			errList = append(errList, err)
		}
	}
	if err := s.transport.Close(); err != nil {
		errList = append(errList, err)
	}
	logger.Info("bus session closed", zap.String("session", s.id), zap.Int("channels", len(channels)))
	return errors.Join(errList...)
}

// channel Channel 的实现：编码 + 熔断 + 超时
type channel struct {
	session *Session
	topic   string
	schema  *schema.RecordSchema
	qos     qos.WriterQoS
	writer  Writer
	breaker *breaker
	seq     atomic.Uint64
	closed  atomic.Bool
}

func (c *channel) Topic() string                { return c.topic }
func (c *channel) Schema() *schema.RecordSchema { return c.schema }
func (c *channel) QoS() qos.WriterQoS           { return c.qos }

func (c *channel) Write(ctx context.Context, rec *schema.Record) error {
	if c.closed.Load() {
		return ErrSessionClosed
	}
	if rec.Schema().Name() != c.schema.Name() {
		return fmt.Errorf("bus: record type %s written to topic %s of type %s", rec.Schema().Name(), c.topic, c.schema.Name())
	}
	now := c.session.now()
	env := NewEnvelope(rec, c.topic, c.session.domainID, c.session.id, c.seq.Add(1), now)
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("bus: encode record for %s: %w", c.topic, err)
	}
	msg := Message{Key: RecordKey(rec), TypeName: c.schema.Name(), Payload: payload, Time: now}

	ctx, cancel := context.WithTimeout(ctx, c.session.timeout)
	defer cancel()
	return c.breaker.run(func() error {
		return c.writer.Write(ctx, msg)
	})
}

func (c *channel) close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.writer.Close()
}
