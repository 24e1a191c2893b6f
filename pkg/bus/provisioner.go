package bus

import (
	"context"

	"github.com/agent-publisher/pkg/qos"
	"github.com/agent-publisher/pkg/schema"
)

// Provisioner 为每个插件创建一个输出通道
type Provisioner struct {
	session *Session
}

func NewProvisioner(s *Session) *Provisioner {
	return &Provisioner{session: s}
}

// Provision 先登记类型，再创建 topic 与写端；schema 为空时使用以插件名命名的开放类型
func (p *Provisioner) Provision(ctx context.Context, typeName string, rs *schema.RecordSchema, topic string, sel qos.Selection) (Channel, error) {
	if rs == nil {
		rs = schema.Schemaless(typeName)
	}
	if err := p.session.RegisterType(ctx, rs); err != nil {
		return nil, err
	}
	return p.session.CreateChannel(ctx, rs, topic, sel)
}

func (p *Provisioner) Session() *Session { return p.session }
