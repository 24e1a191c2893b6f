package agent

import (
	"github.com/spf13/cobra"
)

func initBusFlags(root *cobra.Command) {
	f := root.PersistentFlags()

	f.String("bus.driver", defaultCfg.Bus.Driver, "-> Bus driver [memory,nats,kafka,rabbitmq,redis] (总线驱动)")
	f.String("bus.url", defaultCfg.Bus.URL, "-> Bus address, unused by memory (总线地址)")
	f.Int("bus.domain-id", defaultCfg.Bus.DomainID, "-> Bus domain id (总线域ID)")
	f.String("bus.qos-file", defaultCfg.Bus.QoSFile, "-> QoS library file, relative to plugin root (QoS库文件)")
	f.String("bus.qos-default-library", defaultCfg.Bus.QoSLibrary, "-> Default QoS library (默认QoS库)")
	f.String("bus.qos-default-profile", defaultCfg.Bus.QoSProfile, "-> Default QoS profile (默认QoS profile)")
	f.Duration("bus.publish-timeout", defaultCfg.Bus.PublishTimeout, "-> Timeout of one record write (单条记录发布超时)")

	f.Bool("bus.breaker.enable", defaultCfg.Bus.Breaker.Enable, "-> Enable write circuit breaker (启用写入熔断)")
	f.Uint32("bus.breaker.max-failures", defaultCfg.Bus.Breaker.MaxFailures, "-> Consecutive failures before the breaker opens (连续失败阈值)")
	f.Duration("bus.breaker.open-timeout", defaultCfg.Bus.Breaker.OpenTimeout, "-> How long the breaker stays open (熔断持续时间)")
}
