package plugins

import (
	"context"
	"fmt"

	"github.com/agent-publisher/pkg/bus"
	"github.com/agent-publisher/pkg/plugin"
	"github.com/shirou/gopsutil/v3/disk"
	"go.uber.org/zap"
)

// 文件系统类别，沿用 type 字段的取值
const (
	fsLocalDisk = 2
	fsNetwork   = 3
)

var networkFS = map[string]struct{}{
	"nfs": {}, "nfs4": {}, "cifs": {}, "smbfs": {}, "smb3": {},
	"ceph": {}, "glusterfs": {}, "fuse.sshfs": {}, "9p": {}, "afs": {},
}

var pseudoFS = map[string]struct{}{
	"proc": {}, "sysfs": {}, "devtmpfs": {}, "devpts": {}, "tmpfs": {},
	"cgroup": {}, "cgroup2": {}, "securityfs": {}, "pstore": {}, "debugfs": {},
	"tracefs": {}, "configfs": {}, "mqueue": {}, "hugetlbfs": {}, "bpf": {},
	"autofs": {}, "binfmt_misc": {}, "fusectl": {}, "nsfs": {}, "overlay": {},
	"squashfs": {}, "rpc_pipefs": {}, "efivarfs": {}, "ramfs": {},
}

// Disk disk 插件：每个本地或网络文件系统一条记录
type Disk struct {
	base
	ignore       map[string]struct{}
	partitionsFn func(ctx context.Context, all bool) ([]disk.PartitionStat, error)
	usageFn      func(ctx context.Context, path string) (*disk.UsageStat, error)
}

func NewDisk(name string, props map[string]string) (plugin.Plugin, error) {
	d := &Disk{
		base:         newBase("disk", name, props),
		partitionsFn: disk.PartitionsWithContext,
		usageFn:      disk.UsageWithContext,
	}
	d.ignore = d.listProp("ignore_fs_types")
	return d, nil
}

// fsClass 0 表示不采集
func (d *Disk) fsClass(fstype string) int {
	if _, ok := d.ignore[fstype]; ok {
		return 0
	}
	if _, ok := networkFS[fstype]; ok {
		return fsNetwork
	}
	if _, ok := pseudoFS[fstype]; ok {
		return 0
	}
	return fsLocalDisk
}

// ProduceAndPublish 逐个写入，遇到第一个写入失败即返回
func (d *Disk) ProduceAndPublish(ctx context.Context, ch bus.Channel) error {
	parts, err := d.partitionsFn(ctx, true)
	if err != nil {
		return fmt.Errorf("list partitions failed: %w", err)
	}
	for _, p := range parts {
		class := d.fsClass(p.Fstype)
		if class == 0 {
			continue
		}
		u, err := d.usageFn(ctx, p.Mountpoint)
		if err != nil {
			d.log.Debug("skip filesystem without usage", zap.String("mountdir", p.Mountpoint), zap.Error(err))
			continue
		}
		err = d.publish(ctx, ch,
			field{"name", p.Device},
			field{"mountdir", p.Mountpoint},
			field{"type", class},
			field{"total", u.Total},
			field{"used", u.Used},
			field{"free", u.Free},
			field{"used_per", u.UsedPercent},
			field{"free_per", 100 - u.UsedPercent},
		)
		if err != nil {
			return fmt.Errorf("publish %s: %w", p.Mountpoint, err)
		}
	}
	return nil
}
