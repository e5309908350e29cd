// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 是 letter-service 的完整配置。
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Log           LogConfig           `yaml:"log"`
	Pricing       PricingConfig       `yaml:"pricing"`
	Fanout        FanoutConfig        `yaml:"fanout"`
	Storage       StorageConfig       `yaml:"storage"`
	Lock          LockConfig          `yaml:"lock"`
	Admin         AdminConfig         `yaml:"admin"`
	Infra         InfraConfig         `yaml:"infra"`
	Collaborators CollaboratorsConfig `yaml:"collaborators"`
}

type ServerConfig struct {
	Port              int           `yaml:"port"`
	PublicBaseURL     string        `yaml:"public_base_url"` // 支付回跳地址的前缀
	ProcessingTimeout time.Duration `yaml:"processing_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// PricingConfig 金额单位均为美分。
type PricingConfig struct {
	StandardCents   int64   `yaml:"standard_cents"`
	HeirloomCents   int64   `yaml:"heirloom_cents"`
	CivicCents      int64   `yaml:"civic_cents"`
	OverageCents    *int64  `yaml:"overage_cents"` // 显式配置 0 表示不收附加费
	IncludedSeconds float64 `yaml:"included_seconds"`
	IncludedBytes   int64   `yaml:"included_bytes"`
	MinAudioBytes   int64   `yaml:"min_audio_bytes"`
	OverageRule     string  `yaml:"overage_rule"` // CEL 表达式
}

type FanoutConfig struct {
	Concurrency int `yaml:"concurrency"`
}

type StorageConfig struct {
	Driver  string      `yaml:"driver"` // memory | mysql
	BlobDir string      `yaml:"blob_dir"`
	MySQL   MySQLConfig `yaml:"mysql"`
}

type MySQLConfig struct {
	Addr     string `yaml:"addr"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

type LockConfig struct {
	Backend string        `yaml:"backend"` // memory | redis | zookeeper
	TTL     time.Duration `yaml:"ttl"`
	Wait    time.Duration `yaml:"wait"`
}

type AdminConfig struct {
	Token string `yaml:"token"`
}

type InfraConfig struct {
	Redis     RedisConfig     `yaml:"redis"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Jaeger    JaegerConfig    `yaml:"jaeger"`
	Nacos     NacosConfig     `yaml:"nacos"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type ZookeeperConfig struct {
	Servers        []string      `yaml:"servers"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
	Root           string        `yaml:"root"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type JaegerConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type NacosConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addrs     string `yaml:"addrs"`
	Namespace string `yaml:"namespace"`
	Group     string `yaml:"group"`
}

type CollaboratorsConfig struct {
	Timeout  time.Duration  `yaml:"timeout"`
	Retry    RetryConfig    `yaml:"retry"`
	Stripe   StripeConfig   `yaml:"stripe"`
	OpenAI   OpenAIConfig   `yaml:"openai"`
	Lob      LobConfig      `yaml:"lob"`
	Geocodio GeocodioConfig `yaml:"geocodio"`
	Renderer RendererConfig `yaml:"renderer"`
}

type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

type StripeConfig struct {
	BaseURL   string `yaml:"base_url"`
	SecretKey string `yaml:"secret_key"`
	Currency  string `yaml:"currency"`
}

type OpenAIConfig struct {
	BaseURL            string `yaml:"base_url"`
	APIKey             string `yaml:"api_key"`
	TranscriptionModel string `yaml:"transcription_model"`
	PolishModel        string `yaml:"polish_model"`
}

type LobConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Color   bool   `yaml:"color"`
}

type GeocodioConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

type RendererConfig struct {
	HandwritingFont string `yaml:"handwriting_font"` // Heirloom 使用的 TTF
	UnicodeFont     string `yaml:"unicode_font"`     // 非拉丁语种使用的 TTF
}

var current atomic.Pointer[Config]

// GetCurrentConfig 返回当前生效的配置；未加载时返回默认值。
func GetCurrentConfig() *Config {
	if cfg := current.Load(); cfg != nil {
		return cfg
	}
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

// SetCurrentConfig 替换当前配置。
func SetCurrentConfig(cfg *Config) {
	current.Store(cfg)
}

// LoadConfig 读取 YAML 配置文件，展开其中的 ${ENV} 引用并填充默认值。
// 文件不存在时直接使用默认值。
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	setDefaults(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.PublicBaseURL == "" {
		cfg.Server.PublicBaseURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}
	cfg.Server.PublicBaseURL = strings.TrimRight(cfg.Server.PublicBaseURL, "/")
	if cfg.Server.ProcessingTimeout == 0 {
		cfg.Server.ProcessingTimeout = 2 * time.Minute
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	p := &cfg.Pricing
	if p.StandardCents == 0 {
		p.StandardCents = 299
	}
	if p.HeirloomCents == 0 {
		p.HeirloomCents = 599
	}
	if p.CivicCents == 0 {
		p.CivicCents = 699
	}
	if p.OverageCents == nil {
		fee := int64(100)
		p.OverageCents = &fee
	}
	if p.IncludedSeconds == 0 {
		p.IncludedSeconds = 180
	}
	if p.IncludedBytes == 0 {
		p.IncludedBytes = 5 * 1024 * 1024
	}
	if p.MinAudioBytes == 0 {
		p.MinAudioBytes = 2000
	}

	if cfg.Fanout.Concurrency == 0 {
		cfg.Fanout.Concurrency = 4
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}
	if cfg.Storage.BlobDir == "" {
		cfg.Storage.BlobDir = "data/blobs"
	}
	if cfg.Lock.Backend == "" {
		cfg.Lock.Backend = "memory"
	}
	if cfg.Lock.TTL == 0 {
		cfg.Lock.TTL = 5 * time.Minute
	}
	if cfg.Lock.Wait == 0 {
		cfg.Lock.Wait = 10 * time.Second
	}

	if cfg.Infra.Redis.Addr == "" {
		cfg.Infra.Redis.Addr = "localhost:6379"
	}
	if cfg.Infra.Zookeeper.SessionTimeout == 0 {
		cfg.Infra.Zookeeper.SessionTimeout = 10 * time.Second
	}
	if cfg.Infra.Zookeeper.Root == "" {
		cfg.Infra.Zookeeper.Root = "/verbapost/order_locks"
	}
	if cfg.Infra.Kafka.Topic == "" {
		cfg.Infra.Kafka.Topic = "letter-events"
	}
	if cfg.Infra.Jaeger.SampleRatio == 0 {
		cfg.Infra.Jaeger.SampleRatio = 1
	}
	if cfg.Infra.Nacos.Group == "" {
		cfg.Infra.Nacos.Group = "DEFAULT_GROUP"
	}

	c := &cfg.Collaborators
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.InitialDelay == 0 {
		c.Retry.InitialDelay = 200 * time.Millisecond
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = 5 * time.Second
	}
	if c.Stripe.BaseURL == "" {
		c.Stripe.BaseURL = "https://api.stripe.com"
	}
	if c.Stripe.Currency == "" {
		c.Stripe.Currency = "usd"
	}
	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if c.OpenAI.TranscriptionModel == "" {
		c.OpenAI.TranscriptionModel = "whisper-1"
	}
	if c.OpenAI.PolishModel == "" {
		c.OpenAI.PolishModel = "gpt-4o-mini"
	}
	if c.Lob.BaseURL == "" {
		c.Lob.BaseURL = "https://api.lob.com/v1"
	}
	if c.Geocodio.BaseURL == "" {
		c.Geocodio.BaseURL = "https://api.geocod.io/v1.7"
	}
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "memory", "mysql":
	default:
		return fmt.Errorf("storage.driver must be memory or mysql, got %q", c.Storage.Driver)
	}
	switch c.Lock.Backend {
	case "memory", "redis", "zookeeper":
	default:
		return fmt.Errorf("lock.backend must be memory, redis or zookeeper, got %q", c.Lock.Backend)
	}
	if c.Lock.Backend == "zookeeper" && len(c.Infra.Zookeeper.Servers) == 0 {
		return fmt.Errorf("lock.backend zookeeper requires infra.zookeeper.servers")
	}
	if c.Fanout.Concurrency < 1 {
		return fmt.Errorf("fanout.concurrency must be positive")
	}
	return nil
}
