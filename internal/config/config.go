package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Mode         string `mapstructure:"mode"`          // debug, release, test
	ReadTimeout  int    `mapstructure:"read_timeout"`  // 秒
	WriteTimeout int    `mapstructure:"write_timeout"` // 秒，SSE 接口在建立流后清除写超时
	RateLimit    int    `mapstructure:"rate_limit"`    // 每个工作区每分钟请求数，0 表示不限
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"` // postgres, sqlite
	Path            string `mapstructure:"path"`   // sqlite 文件路径
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 秒
	AutoMigrate     bool   `mapstructure:"auto_migrate"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// 连接模式: standalone(单节点), sentinel(哨兵), cluster(集群)
	Mode string `mapstructure:"mode"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	MasterName       string   `mapstructure:"master_name"`
	SentinelAddrs    []string `mapstructure:"sentinel_addrs"`
	SentinelPassword string   `mapstructure:"sentinel_password"`

	ClusterAddrs []string `mapstructure:"cluster_addrs"`

	PoolSize     int `mapstructure:"pool_size"`
	MinIdleConns int `mapstructure:"min_idle_conns"`
}

// Addr 单节点地址
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, /path/to/log
}

// QueueConfig asynq 任务队列配置（用量异步落库）
type QueueConfig struct {
	Concurrency int    `mapstructure:"concurrency"`
	Queue       string `mapstructure:"queue"`
	MaxRetry    int    `mapstructure:"max_retry"`
}

// GatewayConfig 网关配置
type GatewayConfig struct {
	Billing    BillingConfig             `mapstructure:"billing"`
	Usage      UsageConfig               `mapstructure:"usage"`
	Resilience ResilienceConfig          `mapstructure:"resilience"`
	Health     HealthConfig              `mapstructure:"health"`
	Secrets    SecretsConfig             `mapstructure:"secrets"`
	Stream     StreamConfig              `mapstructure:"stream"`
	VideoJobs  VideoJobsConfig           `mapstructure:"video_jobs"`
	Providers  map[string]ProviderConfig `mapstructure:"providers"`
}

// BillingConfig 计费策略
type BillingConfig struct {
	Markup      float64 `mapstructure:"markup"`
	Increment   float64 `mapstructure:"increment"`
	CatalogPath string  `mapstructure:"catalog_path"` // 价格覆盖文件（yaml），可选
	Tiktoken    bool    `mapstructure:"tiktoken"`     // 预估时使用 tiktoken 精确计数
}

// UsageConfig 用量追踪
type UsageConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	Sink          string        `mapstructure:"sink"` // gorm, queue
}

// ResilienceConfig 重试与超时
type ResilienceConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
	Timeout    time.Duration `mapstructure:"timeout"` // 单次尝试时限
}

// HealthConfig 健康判定
type HealthConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
}

// SecretsConfig 凭证解析
type SecretsConfig struct {
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	GCPProject     string        `mapstructure:"gcp_project"` // 为空时不启用 Secret Manager
	EncryptionSeed string        `mapstructure:"encryption_seed"`
}

// StreamConfig SSE 输出
type StreamConfig struct {
	PingInterval time.Duration `mapstructure:"ping_interval"`
}

// VideoJobsConfig 视频任务存储
type VideoJobsConfig struct {
	Store string        `mapstructure:"store"` // memory, redis
	TTL   time.Duration `mapstructure:"ttl"`
}

// ProviderConfig 单个提供商
type ProviderConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Enabled bool          `mapstructure:"enabled"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Default 完整的默认配置
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// 默认值全部来自 setDefaults，解析不会失败
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 300)
	v.SetDefault("server.rate_limit", 600)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "aigateway.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 3600)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.mode", "standalone")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.pool_size", 20)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "stdout")

	v.SetDefault("queue.concurrency", 4)
	v.SetDefault("queue.queue", "usage")
	v.SetDefault("queue.max_retry", 10)

	v.SetDefault("gateway.billing.markup", 5.0)
	v.SetDefault("gateway.billing.increment", 0.25)
	v.SetDefault("gateway.billing.tiktoken", true)
	v.SetDefault("gateway.usage.batch_size", 100)
	v.SetDefault("gateway.usage.flush_interval", 5*time.Second)
	v.SetDefault("gateway.usage.sink", "gorm")
	v.SetDefault("gateway.resilience.max_retries", 3)
	v.SetDefault("gateway.resilience.base_delay", 500*time.Millisecond)
	v.SetDefault("gateway.resilience.max_delay", 10*time.Second)
	v.SetDefault("gateway.resilience.timeout", 60*time.Second)
	v.SetDefault("gateway.health.failure_threshold", 3)
	v.SetDefault("gateway.health.cooldown", 30*time.Second)
	v.SetDefault("gateway.secrets.cache_ttl", 5*time.Minute)
	v.SetDefault("gateway.stream.ping_interval", 15*time.Second)
	v.SetDefault("gateway.video_jobs.store", "memory")
	v.SetDefault("gateway.video_jobs.ttl", 7*24*time.Hour)
}

// Load 加载配置
// env: 环境名称（dev, prod, test）；configPath: 配置文件路径（可选）
// 找不到配置文件时使用默认值与环境变量
func Load(env string, configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath == "" {
		v.SetConfigName(env)
		v.AddConfigPath("./config")
		v.AddConfigPath("../config")
		v.AddConfigPath("../../config")
	} else {
		v.SetConfigFile(configPath)
	}
	v.SetConfigType("yaml")

	// 环境变量优先级高于配置文件：APP_GATEWAY_BILLING_MARKUP
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验取值范围
func (c *Config) Validate() error {
	g := c.Gateway
	switch {
	case g.Billing.Markup <= 0:
		return fmt.Errorf("gateway.billing.markup 必须大于 0")
	case g.Billing.Increment <= 0:
		return fmt.Errorf("gateway.billing.increment 必须大于 0")
	case g.Usage.BatchSize <= 0:
		return fmt.Errorf("gateway.usage.batch_size 必须大于 0")
	case g.Resilience.MaxRetries < 0:
		return fmt.Errorf("gateway.resilience.max_retries 不能为负数")
	case g.Health.FailureThreshold <= 0:
		return fmt.Errorf("gateway.health.failure_threshold 必须大于 0")
	}
	switch g.Usage.Sink {
	case "gorm", "queue":
	default:
		return fmt.Errorf("不支持的用量落库方式: %s (可选: gorm, queue)", g.Usage.Sink)
	}
	switch g.VideoJobs.Store {
	case "memory", "redis":
	default:
		return fmt.Errorf("不支持的视频任务存储: %s (可选: memory, redis)", g.VideoJobs.Store)
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("不支持的数据库驱动: %s (可选: postgres, sqlite)", c.Database.Driver)
	}
	if (g.Usage.Sink == "queue" || g.VideoJobs.Store == "redis") && !c.Redis.Enabled {
		return fmt.Errorf("用量队列与 Redis 视频任务存储需要启用 redis")
	}
	return nil
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	if c.Driver == "sqlite" {
		return c.Path
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}
