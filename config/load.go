package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env     string                  `yaml:"env"`
	Server  ServerConfig            `yaml:"server"`
	Metrics MetricsConfig           `yaml:"metrics"`
	Log     LogConfig               `yaml:"log"`
	Redis   RedisConfig             `yaml:"redis"`
	Bus     BusConfig               `yaml:"bus"`
	Brokers map[string]BrokerConfig `yaml:"brokers"`
	Alert   AlertConfig             `yaml:"alert"`
}

// ServerConfig 客户端 websocket 入口配置。
type ServerConfig struct {
	Addr           string `yaml:"addr"`
	QueueSize      int    `yaml:"queueSize"`      // 单客户端出站队列容量
	WriteTimeoutMs int    `yaml:"writeTimeoutMs"` // 单帧写超时
	PingIntervalMs int    `yaml:"pingIntervalMs"`
	PongTimeoutMs  int    `yaml:"pongTimeoutMs"`
	ReadLimit      int64  `yaml:"readLimit"`
	CheckOrigin    bool   `yaml:"checkOrigin"`
	AllowedOrigin  string `yaml:"allowedOrigin"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level      string   `yaml:"level"`
	Outputs    []string `yaml:"outputs"`
	OutputFile string   `yaml:"output_file"`
	ErrorFile  string   `yaml:"error_file"`
	Format     string   `yaml:"format"`
}

// RedisConfig 凭证/合约号查找后端。Addr 为空时退回进程内存实现。
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	TimeoutMs int    `yaml:"timeoutMs"`
}

type BusConfig struct {
	Buffer int `yaml:"buffer"`
}

// BrokerConfig 单个 broker adapter 的重连预算。
type BrokerConfig struct {
	Enabled       bool `yaml:"enabled"`
	MaxRetries    int  `yaml:"maxRetries"`
	BaseBackoffMs int  `yaml:"baseBackoffMs"`
	MaxBackoffMs  int  `yaml:"maxBackoffMs"`
}

type AlertConfig struct {
	Enabled           bool   `yaml:"enabled"`
	WebhookURL        string `yaml:"webhookURL"`
	ThrottleIntervalS int    `yaml:"throttleIntervalS"`
}

// Load reads YAML config from path and applies basic validation.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides sensitive fields from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("MDP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("MDP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("MDP_ALERT_WEBHOOK"); v != "" {
		cfg.Alert.WebhookURL = v
	}
	return cfg, Validate(cfg)
}

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if cfg.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if cfg.Server.QueueSize < 0 {
		return errors.New("server.queueSize must be >= 0")
	}
	if cfg.Server.WriteTimeoutMs < 0 || cfg.Server.PingIntervalMs < 0 || cfg.Server.PongTimeoutMs < 0 {
		return errors.New("server timeouts must be >= 0")
	}
	if cfg.Server.ReadLimit < 0 {
		return errors.New("server.readLimit must be >= 0")
	}
	if cfg.Bus.Buffer < 0 {
		return errors.New("bus.buffer must be >= 0")
	}
	if cfg.Redis.DB < 0 || cfg.Redis.TimeoutMs < 0 {
		return errors.New("redis.db/timeoutMs must be >= 0")
	}
	if len(cfg.Brokers) == 0 {
		return errors.New("brokers config is required")
	}
	for name, bc := range cfg.Brokers {
		if bc.MaxRetries < 0 {
			return fmt.Errorf("broker %s maxRetries must be >= 0", name)
		}
		if bc.BaseBackoffMs < 0 || bc.MaxBackoffMs < 0 {
			return fmt.Errorf("broker %s backoff must be >= 0", name)
		}
		if bc.MaxBackoffMs > 0 && bc.BaseBackoffMs > bc.MaxBackoffMs {
			return fmt.Errorf("broker %s baseBackoffMs must not exceed maxBackoffMs", name)
		}
	}
	if cfg.Alert.Enabled && cfg.Alert.WebhookURL == "" {
		return errors.New("alert.webhookURL is required when alert is enabled")
	}
	return nil
}
