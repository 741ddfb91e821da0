// Package config loads relay configuration from a YAML file with
// NASRELAY_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every env tag below.
const EnvPrefix = "NASRELAY_"

const (
	TransportMemory = "memory"
	TransportRedis  = "redis"
)

type Config struct {
	TrueNAS    TrueNASConfig    `yaml:"truenas" envPrefix:"TRUENAS_"`
	Bot        BotConfig        `yaml:"bot" envPrefix:"BOT_"`
	Messaging  MessagingConfig  `yaml:"messaging" envPrefix:"MESSAGING_"`
	Monitor    MonitorConfig    `yaml:"monitor" envPrefix:"MONITOR_"`
	Dispatcher DispatcherConfig `yaml:"dispatcher" envPrefix:"DISPATCHER_"`
	Gateway    GatewayConfig    `yaml:"gateway" envPrefix:"GATEWAY_"`
	Log        LogConfig        `yaml:"log" envPrefix:"LOG_"`
}

// TrueNASConfig describes how to reach the appliance management API.
type TrueNASConfig struct {
	URL                   string `yaml:"url" env:"URL"`
	APIKey                string `yaml:"api_key" env:"API_KEY"`
	ConnectTimeoutSeconds int    `yaml:"connect_timeout_seconds" env:"CONNECT_TIMEOUT_SECONDS"`
	ReadTimeoutSeconds    int    `yaml:"read_timeout_seconds" env:"READ_TIMEOUT_SECONDS"`
	InsecureSkipVerify    bool   `yaml:"insecure_skip_verify" env:"INSECURE_SKIP_VERIFY"`
}

func (c TrueNASConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

func (c TrueNASConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

// BotConfig holds the bot credential used for alerts and the single
// administrator chat allowed to issue commands.
type BotConfig struct {
	Token       string `yaml:"token" env:"TOKEN"`
	AdminChatID int64  `yaml:"admin_chat_id" env:"ADMIN_CHAT_ID"`
}

type MessagingConfig struct {
	Transport string      `yaml:"transport" env:"TRANSPORT"`
	Queues    QueueConfig `yaml:"queues" envPrefix:"QUEUES_"`
	Redis     RedisConfig `yaml:"redis" envPrefix:"REDIS_"`
}

type QueueConfig struct {
	Incoming   string `yaml:"incoming" env:"INCOMING"`
	Outgoing   string `yaml:"outgoing" env:"OUTGOING"`
	DeadLetter string `yaml:"dead_letter" env:"DEAD_LETTER"`
	// OutgoingMaxLen caps the outgoing list; overflow goes to DeadLetter. 0 disables.
	OutgoingMaxLen int64 `yaml:"outgoing_max_len" env:"OUTGOING_MAX_LEN"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
}

type MonitorConfig struct {
	Enabled  bool          `yaml:"enabled" env:"ENABLED"`
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
	// Schedule is an optional cron expression; when set it replaces Interval.
	Schedule string `yaml:"schedule" env:"SCHEDULE"`
}

type DispatcherConfig struct {
	Workers int `yaml:"workers" env:"WORKERS"`
}

type GatewayConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Host    string `yaml:"host" env:"HOST"`
	Port    int    `yaml:"port" env:"PORT"`
	APIKey  string `yaml:"api_key" env:"API_KEY"`
}

// Addr is the listen address; IPv6 hosts are bracketed.
func (g GatewayConfig) Addr() string {
	return net.JoinHostPort(g.Host, strconv.Itoa(g.Port))
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// Default returns a configuration with every optional field populated.
func Default() Config {
	return Config{
		TrueNAS: TrueNASConfig{
			ConnectTimeoutSeconds: 10,
			ReadTimeoutSeconds:    30,
		},
		Messaging: MessagingConfig{
			Transport: TransportMemory,
			Queues: QueueConfig{
				Incoming:   "telegram.updates",
				Outgoing:   "telegram.replies",
				DeadLetter: "telegram.replies.dlq",
			},
			Redis: RedisConfig{Addr: "127.0.0.1:6379"},
		},
		Monitor: MonitorConfig{
			Enabled:  true,
			Interval: 45 * time.Second,
		},
		Dispatcher: DispatcherConfig{Workers: 4},
		Gateway: GatewayConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    18791,
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads path (optional, may be empty), applies environment overrides
// and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.TrueNAS.URL = strings.TrimRight(strings.TrimSpace(cfg.TrueNAS.URL), "/")
	cfg.Messaging.Transport = strings.ToLower(strings.TrimSpace(cfg.Messaging.Transport))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every problem that would make the relay unusable.
func (c *Config) Validate() error {
	var errs []error
	if c.TrueNAS.URL == "" {
		errs = append(errs, errors.New("truenas.url is required"))
	}
	if c.TrueNAS.APIKey == "" {
		errs = append(errs, errors.New("truenas.api_key is required"))
	}
	if c.TrueNAS.ConnectTimeoutSeconds <= 0 || c.TrueNAS.ReadTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("truenas timeouts must be positive"))
	}
	if c.Bot.AdminChatID == 0 {
		errs = append(errs, errors.New("bot.admin_chat_id is required"))
	}
	switch c.Messaging.Transport {
	case TransportMemory, TransportRedis:
	default:
		errs = append(errs, fmt.Errorf("messaging.transport %q is not one of memory, redis", c.Messaging.Transport))
	}
	if c.Messaging.Queues.Incoming == "" || c.Messaging.Queues.Outgoing == "" {
		errs = append(errs, errors.New("messaging.queues.incoming and outgoing are required"))
	}
	if c.Monitor.Enabled && c.Monitor.Interval <= 0 && c.Monitor.Schedule == "" {
		errs = append(errs, errors.New("monitor.interval must be positive"))
	}
	if c.Dispatcher.Workers <= 0 {
		errs = append(errs, errors.New("dispatcher.workers must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
