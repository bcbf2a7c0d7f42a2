package config

import (
	"time"

	pkgconfig "github.com/jontes-page/avatar-service/pkg/config"
	"github.com/jontes-page/avatar-service/pkg/storage"
)

// StorageConfig selects the blob store backend and its settings.
type StorageConfig struct {
	Type  string              `mapstructure:"type"`
	S3    storage.S3Config    `mapstructure:"s3"`
	Local storage.LocalConfig `mapstructure:"local"`
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Resolver ResolverConfig `mapstructure:"resolver"`
	Fetcher  FetcherConfig  `mapstructure:"fetcher"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Avatar   AvatarConfig   `mapstructure:"avatar"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// ResolverConfig drives the ENS name lookup and the IPFS gateway rewrite.
type ResolverConfig struct {
	EnstateURL  string        `mapstructure:"enstate_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	IPFSGateway string        `mapstructure:"ipfs_gateway"`
}

// FetcherConfig drives the origin image download.
type FetcherConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// AvatarConfig holds the fixed set of square sizes the service serves.
type AvatarConfig struct {
	Sizes []int `mapstructure:"sizes"`
}

// KafkaConfig configures the optional avatar-cached event publisher.
type KafkaConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Brokers       string `mapstructure:"brokers"`
	ProducerTopic string `mapstructure:"producer_topic"`
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("log.level", "info")
	v.SetDefault("resolver.enstate_url", "https://enstate.rs")
	v.SetDefault("resolver.timeout", 5*time.Second)
	v.SetDefault("resolver.ipfs_gateway", "https://cloudflare-ipfs.com")
	v.SetDefault("fetcher.timeout", 15*time.Second)
	v.SetDefault("fetcher.user_agent", "ENS Avatar Service <jonatan@jontes.page>")
	v.SetDefault("storage.type", "s3")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.bucket", "ens-avatar")
	v.SetDefault("storage.s3.use_path_style", true)
	v.SetDefault("storage.local.base_path", "./data/storage")
	v.SetDefault("avatar.sizes", []int{64, 128, 256})
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.producer_topic", "avatar-cached")

	// Env bindings
	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("resolver.enstate_url", "ENSTATE_URL")
	v.BindEnv("resolver.ipfs_gateway", "IPFS_GATEWAY")
	v.BindEnv("storage.type", "STORAGE_TYPE")
	v.BindEnv("storage.s3.endpoint", "S3_ENDPOINT")
	v.BindEnv("storage.s3.region", "S3_REGION")
	v.BindEnv("storage.s3.bucket", "S3_BUCKET")
	v.BindEnv("storage.s3.access_key_id", "AWS_ACCESS_KEY_ID")
	v.BindEnv("storage.s3.secret_access_key", "AWS_SECRET_ACCESS_KEY")
	v.BindEnv("kafka.enabled", "KAFKA_ENABLED")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("kafka.producer_topic", "KAFKA_PRODUCER_TOPIC")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
