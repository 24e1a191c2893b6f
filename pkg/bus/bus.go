package bus

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/agent-publisher/pkg/qos"
	"github.com/agent-publisher/pkg/schema"
)

// Channel 一个插件的输出通道（topic + 写端）
type Channel interface {
	Topic() string
	Schema() *schema.RecordSchema
	QoS() qos.WriterQoS
	Write(ctx context.Context, rec *schema.Record) error
}

// Driver 传输层驱动，按名字注册
type Driver interface {
	Name() string
	Connect(ctx context.Context, opts ConnectOptions) (Transport, error)
}

// Transport 一个已连接的传输层会话
type Transport interface {
	// RegisterType 在传输层登记记录类型，先于 CreateWriter 调用
	RegisterType(ctx context.Context, s *schema.RecordSchema) error
	CreateWriter(ctx context.Context, ws WriterSpec) (Writer, error)
	Close() error
}

// Writer 绑定到一个 topic 的写端
type Writer interface {
	Write(ctx context.Context, msg Message) error
	Close() error
}

// Message 编码后的一条记录
type Message struct {
	Key      string
	TypeName string
	Payload  []byte
	Time     time.Time
}

// WriterSpec 创建写端所需的信息
type WriterSpec struct {
	Topic  string
	Schema *schema.RecordSchema
	QoS    qos.WriterQoS
}

// ConnectOptions 驱动连接参数
type ConnectOptions struct {
	URL        string
	DomainID   int
	SessionID  string
	ClientName string
	Timeout    time.Duration
	Default    qos.WriterQoS
}

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Driver)
)

// RegisterDriver 驱动在 init 中调用；重复注册直接 panic
func RegisterDriver(d Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if d == nil {
		panic("bus: RegisterDriver driver is nil")
	}
	if _, dup := drivers[d.Name()]; dup {
		panic("bus: RegisterDriver called twice for driver " + d.Name())
	}
	drivers[d.Name()] = d
}

// GetDriver 按名字取驱动
func GetDriver(name string) (Driver, error) {
	driversMu.RLock()
	defer driversMu.RUnlock()
	d, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("bus: unknown driver %q (forgotten import?)", name)
	}
	return d, nil
}

// Drivers 已注册的驱动名（排序）
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DomainPrefix 各驱动共用的域前缀
func DomainPrefix(domainID int) string {
	return fmt.Sprintf("domain%d", domainID)
}
