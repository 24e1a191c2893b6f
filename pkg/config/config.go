package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var valid = validator.New()

// Config 全局配置结构体（聚合所有核心模块）
type Config struct {
	Agent  AgentConfig  `yaml:"agent" mapstructure:"agent" comment:"插件调度配置"`
	Bus    BusConfig    `yaml:"bus" mapstructure:"bus" comment:"消息总线配置"`
	Server ServerConfig `yaml:"server" mapstructure:"server" comment:"HTTP服务配置"`
	Log    ZapLogConfig `yaml:"log" mapstructure:"log" comment:"日志配置"`
}

// AgentConfig 调度周期与插件目录
type AgentConfig struct {
	PublishingPeriodSec int             `yaml:"publishing_period_sec" mapstructure:"publishing_period_sec" env:"AGENT_PUBLISHING_PERIOD_SEC" comment:"全局tick（秒），<=0 时按1处理" default:"1"`
	PluginRoot          string          `yaml:"plugin_root" mapstructure:"plugin_root" env:"AGENT_PLUGIN_ROOT" validate:"required" comment:"插件根目录" default:"./plugins"`
	PluginLibraries     []PluginLibrary `yaml:"plugin_libraries" mapstructure:"plugin_libraries" validate:"dive" comment:"插件分组目录及插件名"`
}

// PluginLibrary 一个插件分组目录
type PluginLibrary struct {
	Dir     string   `yaml:"dir" mapstructure:"dir" validate:"required" comment:"分组目录名（相对 plugin_root）"`
	Plugins []string `yaml:"plugins" mapstructure:"plugins" comment:"插件名列表"`
	Match   string   `yaml:"match" mapstructure:"match" comment:"按正则匹配子目录名自动加入插件"`
}

// BusConfig 消息总线会话配置
type BusConfig struct {
	Driver         string        `yaml:"driver" mapstructure:"driver" env:"BUS_DRIVER" validate:"required,oneof=memory nats kafka rabbitmq redis" comment:"总线驱动" default:"memory"`
	URL            string        `yaml:"url" mapstructure:"url" env:"BUS_URL" comment:"总线地址（memory 驱动可为空）"`
	DomainID       int           `yaml:"domain_id" mapstructure:"domain_id" env:"BUS_DOMAIN_ID" validate:"gte=0" comment:"总线域ID" default:"0"`
	QoSFile        string        `yaml:"qos_file" mapstructure:"qos_file" env:"BUS_QOS_FILE" comment:"QoS库文件（相对路径基于 plugin_root）"`
	QoSLibrary     string        `yaml:"qos_default_library" mapstructure:"qos_default_library" env:"BUS_QOS_DEFAULT_LIBRARY" comment:"默认QoS库"`
	QoSProfile     string        `yaml:"qos_default_profile" mapstructure:"qos_default_profile" env:"BUS_QOS_DEFAULT_PROFILE" comment:"默认QoS profile" default:"default"`
	PublishTimeout time.Duration `yaml:"publish_timeout" mapstructure:"publish_timeout" env:"BUS_PUBLISH_TIMEOUT" validate:"gt=0" comment:"单条记录发布超时" default:"5s"`
	Breaker        BreakerConfig `yaml:"breaker" mapstructure:"breaker" comment:"写入熔断配置"`
}

// BreakerConfig 通道写入熔断
type BreakerConfig struct {
	Enable      bool          `yaml:"enable" mapstructure:"enable" env:"BUS_BREAKER_ENABLE" comment:"是否启用熔断" default:"true"`
	MaxFailures uint32        `yaml:"max_failures" mapstructure:"max_failures" env:"BUS_BREAKER_MAX_FAILURES" validate:"gte=1" comment:"连续失败次数阈值" default:"5"`
	OpenTimeout time.Duration `yaml:"open_timeout" mapstructure:"open_timeout" env:"BUS_BREAKER_OPEN_TIMEOUT" validate:"gt=0" comment:"熔断打开持续时间" default:"30s"`
}

// ServerConfig HTTP服务配置（超时统一为time.Duration，支持"30s"解析）
type ServerConfig struct {
	Enable       bool          `yaml:"enable" mapstructure:"enable" env:"HTTP_ENABLE" comment:"是否启用自监控HTTP服务" default:"true"`
	Addr         string        `yaml:"addr" mapstructure:"addr" env:"HTTP_ADDR" validate:"required,hostname_port" comment:"HTTP监听地址（格式：ip:port）"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" env:"HTTP_READ_TIMEOUT" validate:"required,gt=0" comment:"读取超时时间（如30s）"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" env:"HTTP_WRITE_TIMEOUT" validate:"required,gt=0" comment:"写入超时时间（如30s）"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" env:"HTTP_IDLE_TIMEOUT" validate:"required,gt=0" comment:"空闲连接超时时间（如60s）"`
}

// ZapLogConfig 日志配置
type ZapLogConfig struct {
	Level     string `yaml:"level" mapstructure:"level" env:"LOG_LEVEL" validate:"required,oneof=debug info warn error dpanic panic fatal" comment:"日志级别" default:"info"`
	Format    string `yaml:"format" mapstructure:"format" env:"LOG_FORMAT" validate:"required,oneof=json console" comment:"日志格式（json/console）" default:"json"`
	Path      string `yaml:"path" mapstructure:"path" env:"LOG_PATH" validate:"required" comment:"日志存储路径" default:"./logs"`
	MaxSize   int    `yaml:"max_size" mapstructure:"max_size" env:"LOG_MAX_SIZE" validate:"required,gt=0" comment:"单个日志文件最大大小（MB）" default:"100"`
	MaxBackup int    `yaml:"max_backup" mapstructure:"max_backup" env:"LOG_MAX_BACKUP" validate:"gte=0" comment:"日志文件最大备份数" default:"30"`
	MaxAge    int    `yaml:"max_age" mapstructure:"max_age" env:"LOG_MAX_AGE" validate:"gte=0" comment:"日志文件最大保存天数" default:"7"`
	Compress  bool   `yaml:"compress" mapstructure:"compress" env:"LOG_COMPRESS" comment:"是否压缩过期日志" default:"true"`
}

// NewDefaultConfig 创建默认配置（所有字段兜底，避免空指针/非法值）
func NewDefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			PublishingPeriodSec: 1,
			PluginRoot:          "./plugins",
			PluginLibraries:     []PluginLibrary{},
		},
		Bus: BusConfig{
			Driver:         "memory",
			DomainID:       0,
			QoSProfile:     "default",
			PublishTimeout: 5 * time.Second,
			Breaker: BreakerConfig{
				Enable:      true,
				MaxFailures: 5,
				OpenTimeout: 30 * time.Second,
			},
		},
		Server: ServerConfig{
			Enable:       true,
			Addr:         "127.0.0.1:9091",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Log: ZapLogConfig{
			Level:     "info",
			Format:    "json",
			Path:      "./logs",
			MaxSize:   100,
			MaxBackup: 30,
			MaxAge:    7,
			Compress:  true,
		},
	}
}

// LoadConfigWithCli 支持 time.Duration，(Flags + YAML + ENV)
func LoadConfigWithCli(cmd *cobra.Command) (*Config, error) {
	v := viper.New()

	// 1. 绑定 Cobra Flags → Viper（flag 名中的 '-' 转为配置键的 '_'）
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(flagKey(f.Name), f)
	})
	if bindErr != nil {
		return nil, fmt.Errorf("bind flags: %w", bindErr)
	}

	// 2. 解析配置文件 (--config)
	configFile, _ := cmd.Flags().GetString("config")
	return load(v, configFile)
}

// LoadFile 仅从配置文件加载（测试与工具使用）
func LoadFile(path string) (*Config, error) {
	return load(viper.New(), path)
}

func load(v *viper.Viper, configFile string) (*Config, error) {
	cfg := NewDefaultConfig()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	// 3. 绑定环境变量 ENV -> Viper （BUS_DRIVER -> bus.driver）
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 4. 解码反序列化到结构体（支持 time.Duration）
	decoderConfig := &mapstructure.DecoderConfig{
		Metadata:         nil,
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	}

	decoder, err := mapstructure.NewDecoder(decoderConfig)
	if err != nil {
		return nil, fmt.Errorf("new decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Agent.Normalize()

	// 5. 校验配置
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func flagKey(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}

// Validate 配置校验
func (c *Config) Validate() error {
	if err := valid.Struct(c); err != nil {
		return err
	}
	// 	1，校验调度配置
	if err := c.Agent.Validate(); err != nil {
		return err
	}
	// 	2，校验总线配置
	if err := c.Bus.Validate(); err != nil {
		return err
	}
	// 	3，校验Server服务配置
	if c.Server.Enable {
		if err := c.Server.Validate(); err != nil {
			return err
		}
	}
	// 	4，校验日志配置
	if err := c.Log.Validate(); err != nil {
		return err
	}
	return nil
}
