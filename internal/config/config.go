package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"

	"Evolve-Chain/pkg/logger"
)

// Config 描述了 evolvd 在启动阶段需要加载的全部配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Metrics  MetricsConfig  `json:"metrics"`
	Logging  logger.Config  `json:"logging"`
	Policy   PolicyConfig   `json:"policy"`
	Oracle   OracleConfig   `json:"oracle"`
	Registry RegistryConfig `json:"registry"`
	Notify   NotifyConfig   `json:"notify"`
	Keeper   KeeperConfig   `json:"keeper"`
	Alerting AlertingConfig `json:"alerting"`
	Auth     AuthConfig     `json:"auth"`
	Runtime  RuntimeConfig  `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址。
type ServerConfig struct {
	Address string `json:"address" env:"EVOLVE_SERVER_ADDRESS"`
}

// MetricsConfig 为空时 /metrics 挂载在 API 服务上。
type MetricsConfig struct {
	Address string `json:"address" env:"EVOLVE_METRICS_ADDRESS"`
}

// PolicyConfig 是进化策略的初始值，运行期可由管理员修改。
type PolicyConfig struct {
	LowThreshold       decimal.Decimal `json:"low_threshold" env:"EVOLVE_POLICY_LOW_THRESHOLD"`
	HighThreshold      decimal.Decimal `json:"high_threshold" env:"EVOLVE_POLICY_HIGH_THRESHOLD"`
	CooldownSeconds    int64           `json:"cooldown_seconds" env:"EVOLVE_POLICY_COOLDOWN_SECONDS"`
	MinCooldownSeconds int64           `json:"min_cooldown_seconds" env:"EVOLVE_POLICY_MIN_COOLDOWN_SECONDS"`
	MaxCooldownSeconds int64           `json:"max_cooldown_seconds" env:"EVOLVE_POLICY_MAX_COOLDOWN_SECONDS"`
}

// OracleConfig 描述价格预言机的来源。
type OracleConfig struct {
	Driver              string          `json:"driver" env:"EVOLVE_ORACLE_DRIVER"`
	FeedsFile           string          `json:"feeds_file" env:"EVOLVE_ORACLE_FEEDS_FILE"`
	Feed                string          `json:"feed" env:"EVOLVE_ORACLE_FEED"`
	RPCURL              string          `json:"rpc_url" env:"EVOLVE_ORACLE_RPC_URL"`
	Address             string          `json:"address" env:"EVOLVE_ORACLE_ADDRESS"`
	StaticValue         decimal.Decimal `json:"static_value" env:"EVOLVE_ORACLE_STATIC_VALUE"`
	TimeoutSeconds      int64           `json:"timeout_seconds" env:"EVOLVE_ORACLE_TIMEOUT_SECONDS"`
	MaxStalenessSeconds int64           `json:"max_staleness_seconds" env:"EVOLVE_ORACLE_MAX_STALENESS_SECONDS"`
}

// Timeout 返回单次预言机读取的超时时间。
func (o OracleConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutSeconds) * time.Second
}

// MaxStaleness 返回允许的最大价格延迟，0 表示不检查。
func (o OracleConfig) MaxStaleness() time.Duration {
	return time.Duration(o.MaxStalenessSeconds) * time.Second
}

// RegistryConfig 描述资产登记表的存储后端。
type RegistryConfig struct {
	Driver                 string `json:"driver" env:"EVOLVE_REGISTRY_DRIVER"`
	DSN                    string `json:"dsn" env:"EVOLVE_REGISTRY_DSN"`
	MaxOpenConns           int    `json:"max_open_conns" env:"EVOLVE_REGISTRY_MAX_OPEN_CONNS"`
	MaxIdleConns           int    `json:"max_idle_conns" env:"EVOLVE_REGISTRY_MAX_IDLE_CONNS"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds" env:"EVOLVE_REGISTRY_CONN_MAX_LIFETIME_SECONDS"`
	BaseURI                string `json:"base_uri" env:"EVOLVE_REGISTRY_BASE_URI"`
}

// NotifyConfig 列出进化事件需要投递的渠道。
type NotifyConfig struct {
	Sinks    []string       `json:"sinks" env:"EVOLVE_NOTIFY_SINKS" envSeparator:","`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 发布通道。
type RedisConfig struct {
	Address  string `json:"address" env:"EVOLVE_NOTIFY_REDIS_ADDRESS"`
	Password string `json:"password" env:"EVOLVE_NOTIFY_REDIS_PASSWORD"`
	DB       int    `json:"db" env:"EVOLVE_NOTIFY_REDIS_DB"`
	Channel  string `json:"channel" env:"EVOLVE_NOTIFY_REDIS_CHANNEL"`
}

// RabbitMQConfig 描述 RabbitMQ 投递队列。
type RabbitMQConfig struct {
	URL     string `json:"url" env:"EVOLVE_NOTIFY_RABBITMQ_URL"`
	Queue   string `json:"queue" env:"EVOLVE_NOTIFY_RABBITMQ_QUEUE"`
	Durable bool   `json:"durable" env:"EVOLVE_NOTIFY_RABBITMQ_DURABLE"`
}

// KeeperConfig 控制周期性巡检。
type KeeperConfig struct {
	Enabled         bool    `json:"enabled" env:"EVOLVE_KEEPER_ENABLED"`
	IntervalSeconds int     `json:"interval_seconds" env:"EVOLVE_KEEPER_INTERVAL_SECONDS"`
	Concurrency     int     `json:"concurrency" env:"EVOLVE_KEEPER_CONCURRENCY"`
	RatePerSecond   float64 `json:"rate_per_second" env:"EVOLVE_KEEPER_RATE_PER_SECOND"`
	Burst           int     `json:"burst" env:"EVOLVE_KEEPER_BURST"`
}

// Interval 返回巡检间隔。
func (k KeeperConfig) Interval() time.Duration {
	return time.Duration(k.IntervalSeconds) * time.Second
}

// AlertingConfig 控制巡检失败时的告警渠道。
type AlertingConfig struct {
	Log        bool   `json:"log" env:"EVOLVE_ALERT_LOG"`
	WebhookURL string `json:"webhook_url" env:"EVOLVE_ALERT_WEBHOOK_URL"`
}

// AuthConfig 控制管理接口的鉴权方式。
type AuthConfig struct {
	Mode     string   `json:"mode" env:"EVOLVE_AUTH_MODE"`
	Secret   string   `json:"secret" env:"EVOLVE_AUTH_SECRET"`
	Issuer   string   `json:"issuer" env:"EVOLVE_AUTH_ISSUER"`
	Audience []string `json:"audience" env:"EVOLVE_AUTH_AUDIENCE" envSeparator:","`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir" env:"EVOLVE_DATA_DIR"`
}

// Load 解析 JSON 配置文件并叠加 EVOLVE_* 环境变量。path 为空时只使用环境变量与默认值。
func Load(path string) (*Config, error) {
	var cfg Config
	baseDir := "."
	if strings.TrimSpace(path) != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := json.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
		baseDir = filepath.Dir(path)
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("解析环境变量失败: %w", err)
	}

	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Policy.LowThreshold.IsZero() {
		c.Policy.LowThreshold = decimal.NewFromInt(1000)
	}
	if c.Policy.HighThreshold.IsZero() {
		c.Policy.HighThreshold = decimal.NewFromInt(50000)
	}
	if c.Policy.CooldownSeconds == 0 {
		c.Policy.CooldownSeconds = int64(time.Hour / time.Second)
	}
	if c.Policy.MinCooldownSeconds == 0 {
		c.Policy.MinCooldownSeconds = int64(time.Minute / time.Second)
	}
	if c.Policy.MaxCooldownSeconds == 0 {
		c.Policy.MaxCooldownSeconds = int64(7 * 24 * time.Hour / time.Second)
	}

	c.Oracle.Driver = strings.ToLower(strings.TrimSpace(c.Oracle.Driver))
	if c.Oracle.Driver == "" {
		c.Oracle.Driver = "static"
	}
	if c.Oracle.TimeoutSeconds <= 0 {
		c.Oracle.TimeoutSeconds = 5
	}
	if c.Oracle.FeedsFile != "" && !filepath.IsAbs(c.Oracle.FeedsFile) {
		c.Oracle.FeedsFile = filepath.Join(baseDir, c.Oracle.FeedsFile)
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}

	c.Registry.Driver = strings.ToLower(strings.TrimSpace(c.Registry.Driver))
	if c.Registry.Driver == "" {
		c.Registry.Driver = "memory"
	}
	if c.Registry.Driver == "sqlite" && c.Registry.DSN == "" {
		c.Registry.DSN = filepath.Join(c.Runtime.DataDir, "evolve.db")
	}

	if len(c.Notify.Sinks) == 0 {
		c.Notify.Sinks = []string{"log"}
	}
	for i, sink := range c.Notify.Sinks {
		c.Notify.Sinks[i] = strings.ToLower(strings.TrimSpace(sink))
	}
	if c.Notify.Redis.Channel == "" {
		c.Notify.Redis.Channel = "evolve:events"
	}
	if c.Notify.RabbitMQ.Queue == "" {
		c.Notify.RabbitMQ.Queue = "evolve.events"
	}

	if c.Keeper.IntervalSeconds <= 0 {
		c.Keeper.IntervalSeconds = 60
	}
	if c.Keeper.Concurrency <= 0 {
		c.Keeper.Concurrency = 4
	}
	if c.Keeper.RatePerSecond <= 0 {
		c.Keeper.RatePerSecond = 10
	}
	if c.Keeper.Burst <= 0 {
		c.Keeper.Burst = c.Keeper.Concurrency
	}

	c.Auth.Mode = strings.ToLower(strings.TrimSpace(c.Auth.Mode))
	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}
}

// Validate 检查驱动名称与必填字段，策略本身由 policy 包校验。
func (c *Config) Validate() error {
	var errs []error
	switch c.Oracle.Driver {
	case "static":
		if !c.Oracle.StaticValue.IsPositive() {
			errs = append(errs, errors.New("static 预言机需要配置正数 static_value"))
		}
	case "chainlink":
		if c.Oracle.FeedsFile == "" && (c.Oracle.RPCURL == "" || c.Oracle.Address == "") {
			errs = append(errs, errors.New("chainlink 预言机需要 feeds_file 或 rpc_url + address"))
		}
	default:
		errs = append(errs, fmt.Errorf("未知的预言机驱动: %s", c.Oracle.Driver))
	}

	switch c.Registry.Driver {
	case "memory", "sqlite":
	case "mysql":
		if strings.TrimSpace(c.Registry.DSN) == "" {
			errs = append(errs, errors.New("mysql 登记表需要配置 dsn"))
		}
	default:
		errs = append(errs, fmt.Errorf("未知的登记表驱动: %s", c.Registry.Driver))
	}

	for _, sink := range c.Notify.Sinks {
		switch sink {
		case "log", "memory":
		case "redis":
			if c.Notify.Redis.Address == "" {
				errs = append(errs, errors.New("redis 通知需要配置 address"))
			}
		case "rabbitmq":
			if c.Notify.RabbitMQ.URL == "" {
				errs = append(errs, errors.New("rabbitmq 通知需要配置 url"))
			}
		case "journal":
			if c.Registry.Driver == "memory" {
				errs = append(errs, errors.New("journal 通知需要 SQL 登记表"))
			}
		default:
			errs = append(errs, fmt.Errorf("未知的通知渠道: %s", sink))
		}
	}

	switch c.Auth.Mode {
	case "disabled":
	case "jwt":
		if strings.TrimSpace(c.Auth.Secret) == "" {
			errs = append(errs, errors.New("jwt 模式需要配置 secret"))
		}
	default:
		errs = append(errs, fmt.Errorf("未知的鉴权模式: %s", c.Auth.Mode))
	}

	return errors.Join(errs...)
}
