package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ModeDineIn      = "dine_in"
	ModeSelfService = "self_service"

	TransportKafka    = "kafka"
	TransportRabbitMQ = "rabbitmq"
	TransportNone     = "none"

	subscriptionPrefix = "billgenie-sync"
)

type Config struct {
	HTTP_PORT string `env:"HTTP_PORT" yaml:"http_port"`
	DB_STRING string `env:"DB_STRING" yaml:"db_string"`
	LOG_LEVEL string `env:"LOG_LEVEL" yaml:"log_level"`

	// INSTANCE_ID names this device on the push channel; defaults to the hostname.
	INSTANCE_ID string `env:"INSTANCE_ID" yaml:"instance_id"`

	PUSH_TRANSPORT    string `env:"PUSH_TRANSPORT" yaml:"push_transport"`
	KAFKA_BROKERS     string `env:"KAFKA_BROKERS" yaml:"kafka_brokers"`
	KAFKA_TOPIC       string `env:"KAFKA_TOPIC" yaml:"kafka_topic"`
	KAFKA_GROUP_ID    string `env:"KAFKA_GROUP_ID" yaml:"kafka_group_id"`
	RABBITMQ_URL      string `env:"RABBITMQ_URL" yaml:"rabbitmq_url"`
	RABBITMQ_EXCHANGE string `env:"RABBITMQ_EXCHANGE" yaml:"rabbitmq_exchange"`
	RABBITMQ_QUEUE    string `env:"RABBITMQ_QUEUE" yaml:"rabbitmq_queue"`

	CACHE_PATH   string `env:"CACHE_PATH" yaml:"cache_path"`
	SERVICE_MODE string `env:"SERVICE_MODE" yaml:"service_mode"`

	SWEEP_INTERVAL         time.Duration `env:"SWEEP_INTERVAL" yaml:"sweep_interval"`
	RECONCILE_INTERVAL     time.Duration `env:"RECONCILE_INTERVAL" yaml:"reconcile_interval"`
	RECONCILE_MIN_INTERVAL time.Duration `env:"RECONCILE_MIN_INTERVAL" yaml:"reconcile_min_interval"`
	EXPIRY_GRACE           time.Duration `env:"EXPIRY_GRACE" yaml:"expiry_grace"`
}

func Default() *Config {
	return &Config{
		HTTP_PORT:              "8080",
		LOG_LEVEL:              "info",
		PUSH_TRANSPORT:         TransportKafka,
		KAFKA_TOPIC:            "pos.orders",
		RABBITMQ_EXCHANGE:      "pos.orders",
		CACHE_PATH:             "billgenie-cache.db",
		SERVICE_MODE:           ModeDineIn,
		SWEEP_INTERVAL:         30 * time.Second,
		RECONCILE_INTERVAL:     time.Minute,
		RECONCILE_MIN_INTERVAL: 5 * time.Second,
		EXPIRY_GRACE:           2 * time.Minute,
	}
}

// LoadConfig applies defaults, then CONFIG_FILE (if set), then environment.
func LoadConfig() (*Config, error) {
	return load(os.Getenv, true)
}

// LoadOffline is LoadConfig for one-shot commands that never touch the push
// channel; transport settings are not validated.
func LoadOffline() (*Config, error) {
	return load(os.Getenv, false)
}

func load(getenv func(string) string, push bool) (*Config, error) {
	cfg := Default()

	if path := getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadEnv(getenv); err != nil {
		return nil, err
	}
	if !push {
		cfg.PUSH_TRANSPORT = TransportNone
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv(getenv func(string) string) error {
	strs := map[string]*string{
		"HTTP_PORT":         &c.HTTP_PORT,
		"DB_STRING":         &c.DB_STRING,
		"LOG_LEVEL":         &c.LOG_LEVEL,
		"INSTANCE_ID":       &c.INSTANCE_ID,
		"PUSH_TRANSPORT":    &c.PUSH_TRANSPORT,
		"KAFKA_BROKERS":     &c.KAFKA_BROKERS,
		"KAFKA_TOPIC":       &c.KAFKA_TOPIC,
		"KAFKA_GROUP_ID":    &c.KAFKA_GROUP_ID,
		"RABBITMQ_URL":      &c.RABBITMQ_URL,
		"RABBITMQ_EXCHANGE": &c.RABBITMQ_EXCHANGE,
		"RABBITMQ_QUEUE":    &c.RABBITMQ_QUEUE,
		"CACHE_PATH":        &c.CACHE_PATH,
		"SERVICE_MODE":      &c.SERVICE_MODE,
	}
	for key, dst := range strs {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	durs := map[string]*time.Duration{
		"SWEEP_INTERVAL":         &c.SWEEP_INTERVAL,
		"RECONCILE_INTERVAL":     &c.RECONCILE_INTERVAL,
		"RECONCILE_MIN_INTERVAL": &c.RECONCILE_MIN_INTERVAL,
		"EXPIRY_GRACE":           &c.EXPIRY_GRACE,
	}
	for key, dst := range durs {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.SERVICE_MODE {
	case ModeDineIn, ModeSelfService:
	default:
		return fmt.Errorf("invalid SERVICE_MODE %q", c.SERVICE_MODE)
	}

	switch c.PUSH_TRANSPORT {
	case TransportKafka:
		if c.KAFKA_BROKERS == "" {
			return fmt.Errorf("KAFKA_BROKERS is required for kafka transport")
		}
	case TransportRabbitMQ:
		if c.RABBITMQ_URL == "" {
			return fmt.Errorf("RABBITMQ_URL is required for rabbitmq transport")
		}
	case TransportNone:
	default:
		return fmt.Errorf("invalid PUSH_TRANSPORT %q", c.PUSH_TRANSPORT)
	}

	if c.SWEEP_INTERVAL <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	if c.RECONCILE_INTERVAL <= 0 {
		return fmt.Errorf("RECONCILE_INTERVAL must be positive")
	}
	return nil
}

func (c *Config) SelfService() bool {
	return c.SERVICE_MODE == ModeSelfService
}

func (c *Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KAFKA_BROKERS, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// InstanceID is INSTANCE_ID, else the hostname, else "pos".
func (c *Config) InstanceID() string {
	if id := strings.TrimSpace(c.INSTANCE_ID); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && strings.TrimSpace(host) != "" {
		return host
	}
	return "pos"
}

// KafkaGroupID is KAFKA_GROUP_ID, else a group of this instance alone. Every
// device must see every event, so devices never share a group by default.
func (c *Config) KafkaGroupID() string {
	if c.KAFKA_GROUP_ID != "" {
		return c.KAFKA_GROUP_ID
	}
	return subscriptionPrefix + "-" + c.InstanceID()
}

// RabbitQueue is RABBITMQ_QUEUE, else a queue of this instance alone.
func (c *Config) RabbitQueue() string {
	if c.RABBITMQ_QUEUE != "" {
		return c.RABBITMQ_QUEUE
	}
	return subscriptionPrefix + "." + c.InstanceID()
}
