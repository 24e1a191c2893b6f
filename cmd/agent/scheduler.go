package agent

import (
	"github.com/spf13/cobra"
)

func initAgentFlags(root *cobra.Command) {
	f := root.PersistentFlags()

	f.Int("agent.publishing-period-sec", defaultCfg.Agent.PublishingPeriodSec, "-> Shared scheduler tick in seconds (全局tick，秒)")
	f.String("agent.plugin-root", defaultCfg.Agent.PluginRoot, "-> Plugin root directory (插件根目录)")
}
