package agent

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/agent-publisher/cmd/server"
	core "github.com/agent-publisher/pkg/agent"
	"github.com/agent-publisher/pkg/bus"
	"github.com/agent-publisher/pkg/config"
	"github.com/agent-publisher/pkg/logger"
	"github.com/agent-publisher/pkg/metrics"
	"github.com/agent-publisher/pkg/plugin"
	"github.com/agent-publisher/pkg/signal"
	"github.com/agent-publisher/pkg/util"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	// 总线驱动与内置插件在 init 中注册
	_ "github.com/agent-publisher/pkg/bus/kafka"
	_ "github.com/agent-publisher/pkg/bus/memory"
	_ "github.com/agent-publisher/pkg/bus/nats"
	_ "github.com/agent-publisher/pkg/bus/rabbitmq"
	_ "github.com/agent-publisher/pkg/bus/redis"
	_ "github.com/agent-publisher/pkg/plugins"
)

const shutdownTimeout = 5 * time.Second

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "agent-publisher",
	Short: "Host telemetry agent that loads metric plugins and publishes their records to a message bus",
	RunE: func(cmd *cobra.Command, args []string) error {
		os.Exit(run(cmd))
		return nil
	},
}

func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "configs/agent.yaml", "配置文件路径")
	// 注册分组 flag
	initAgentFlags(rootCmd)
	initBusFlags(rootCmd)
	initServerFlags(rootCmd)
	initLogFlags(rootCmd)
}

// run 启动顺序：配置 -> 日志 -> banner -> 指标/HTTP -> 总线 -> 插件 -> 调度
// 返回进程退出码
func run(cmd *cobra.Command) int {
	cfg, err := config.LoadConfigWithCli(cmd)
	if err != nil {
		// 统一输出错误到 stderr，不返回给 cobra
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintf(os.Stderr, "请检查配置文件路径或使用 -c 参数指定\n")
		return core.ExitFailure
	}

	log, err := logger.InitLogger(&cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "日志初始化失败: %v\n", err)
		return core.ExitFailure
	}
	defer logger.Sync()

	util.PrintBanner(os.Stdout, "agent-publisher", "ColorBlue",
		"driver="+cfg.Bus.Driver,
		fmt.Sprintf("tick=%s", cfg.Agent.Tick()),
		"modules="+strings.Join(plugin.Builtin.Modules(), ","),
	)
	logger.Info("configuration loaded",
		zap.String("config", cfgFile),
		zap.String("plugin_root", cfg.Agent.PluginRoot),
		zap.Strings("drivers", bus.Drivers()),
	)

	reg := metrics.NewRegistry(true)
	agentMetrics := metrics.NewAgentMetrics(metrics.NewMetricFactory(reg))

	ctx, cancel := signal.NotifyContext(cmd.Context(), log)
	defer cancel()

	a := core.New(cfg, core.WithMetrics(agentMetrics))

	var httpServer *server.Server
	if cfg.Server.Enable {
		httpServer = server.NewHTTPServer(cfg.Server, log, reg, a)
		if err := httpServer.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "服务启动失败: %v\n", err)
			return core.ExitFailure
		}
	}

	runErr := a.Run(ctx)

	if httpServer != nil {
		_ = signal.ShutdownWithTimeout(log, shutdownTimeout, httpServer.Shutdown)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "agent failed: %v\n", runErr)
	}
	code := core.ExitCode(runErr)
	logger.Info("agent exited", zap.Int("status", code))
	return code
}
