package plugins

import (
	"context"
	"fmt"
	"strings"

	"github.com/agent-publisher/pkg/bus"
	"github.com/agent-publisher/pkg/plugin"
	"github.com/shirou/gopsutil/v3/net"
)

// NetLoad net_load 插件：每个网卡一条记录
type NetLoad struct {
	base
	ignore       map[string]struct{}
	interfacesFn func(ctx context.Context) (net.InterfaceStatList, error)
	countersFn   func(ctx context.Context, pernic bool) ([]net.IOCountersStat, error)
}

func NewNetLoad(name string, props map[string]string) (plugin.Plugin, error) {
	n := &NetLoad{
		base:         newBase("net_load", name, props),
		interfacesFn: net.InterfacesWithContext,
		countersFn:   net.IOCountersWithContext,
	}
	n.ignore = n.listProp("ignore_interfaces")
	return n, nil
}

func (n *NetLoad) ProduceAndPublish(ctx context.Context, ch bus.Channel) error {
	ifaces, err := n.interfacesFn(ctx)
	if err != nil {
		return fmt.Errorf("list interfaces failed: %w", err)
	}
	counters, err := n.countersFn(ctx, true)
	if err != nil {
		return fmt.Errorf("get io counters failed: %w", err)
	}
	byName := make(map[string]net.IOCountersStat, len(counters))
	for _, c := range counters {
		byName[c.Name] = c
	}

	for _, iface := range ifaces {
		if _, skip := n.ignore[iface.Name]; skip {
			continue
		}
		var address string
		if len(iface.Addrs) > 0 {
			address = iface.Addrs[0].Addr
		}
		c := byName[iface.Name]
		err := n.publish(ctx, ch,
			field{"device", iface.Name},
			field{"hwaddr", iface.HardwareAddr},
			field{"address", address},
			field{"flags", strings.Join(iface.Flags, ",")},
			field{"mtu", iface.MTU},
			field{"rx_packets", c.PacketsRecv},
			field{"rx_bytes", c.BytesRecv},
			field{"rx_errors", c.Errin},
			field{"rx_dropped", c.Dropin},
			field{"tx_packets", c.PacketsSent},
			field{"tx_bytes", c.BytesSent},
			field{"tx_errors", c.Errout},
			field{"tx_dropped", c.Dropout},
		)
		if err != nil {
			return fmt.Errorf("publish %s: %w", iface.Name, err)
		}
	}
	return nil
}
