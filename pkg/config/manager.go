package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Manager handles configuration loading from multiple sources
type Manager struct {
	v *viper.Viper
}

// NewManager creates a new configuration manager with defaults
func NewManager() *Manager {
	v := viper.New()

	v.SetConfigName("topicspec")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/topicspec")
	v.AddConfigPath("$HOME/.topicspec")

	v.SetEnvPrefix("TOPICSPEC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	return &Manager{v: v}
}

// NewManagerWithOptions creates a new configuration manager with custom options
func NewManagerWithOptions(opts ...Option) *Manager {
	m := NewManager()
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Option is a functional option for configuring the Manager
type Option func(*Manager)

// WithConfigFile sets a specific config file path
func WithConfigFile(path string) Option {
	return func(m *Manager) {
		m.v.SetConfigFile(path)
	}
}

// WithConfigName sets the config file name (without extension)
func WithConfigName(name string) Option {
	return func(m *Manager) {
		m.v.SetConfigName(name)
	}
}

// WithConfigPath adds a path to search for config files
func WithConfigPath(path string) Option {
	return func(m *Manager) {
		m.v.AddConfigPath(path)
	}
}

// WithEnvPrefix sets the environment variable prefix
func WithEnvPrefix(prefix string) Option {
	return func(m *Manager) {
		m.v.SetEnvPrefix(prefix)
	}
}

// Load reads the config file if one exists. A missing file is not an error;
// defaults and environment variables still apply.
func (m *Manager) Load() error {
	if err := m.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() (*Config, error) {
	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Get returns a configuration value by key
func (m *Manager) Get(key string) interface{} {
	return m.v.Get(key)
}

// GetString returns a string configuration value
func (m *Manager) GetString(key string) string {
	return m.v.GetString(key)
}

// GetInt returns an int configuration value
func (m *Manager) GetInt(key string) int {
	return m.v.GetInt(key)
}

// GetBool returns a bool configuration value
func (m *Manager) GetBool(key string) bool {
	return m.v.GetBool(key)
}

// Set sets a configuration value
func (m *Manager) Set(key string, value interface{}) {
	m.v.Set(key, value)
}

// ConfigFileUsed returns the path of the loaded config file, or "" when running on defaults
func (m *Manager) ConfigFileUsed() string {
	return m.v.ConfigFileUsed()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":9095")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.rate_limit", 20.0)
	v.SetDefault("server.burst", 40)

	v.SetDefault("logger.dev", false)
	v.SetDefault("logger.path", "")
	v.SetDefault("logger.level", "")

	v.SetDefault("error_tracking.enabled", false)
	v.SetDefault("error_tracking.provider", "noop")
	v.SetDefault("error_tracking.dsn", "")
	v.SetDefault("error_tracking.environment", "development")
	v.SetDefault("error_tracking.release", "")
	v.SetDefault("error_tracking.server_name", "")
	v.SetDefault("error_tracking.debug", false)
	v.SetDefault("error_tracking.sample_rate", 1.0)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.provider", "prometheus")
	v.SetDefault("metrics.namespace", "topicspec")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "topicspec")
	v.SetDefault("tracing.service_version", "1.0.0")
	v.SetDefault("tracing.endpoint", "")

	v.SetDefault("transport.kind", "stomp")
	v.SetDefault("transport.connect_timeout", "10s")

	v.SetDefault("transport.stomp.url", "ws://localhost:15674/ws")
	v.SetDefault("transport.stomp.host", "/")
	v.SetDefault("transport.stomp.login", "")
	v.SetDefault("transport.stomp.passcode", "")
	v.SetDefault("transport.stomp.heartbeat_send", "10s")
	v.SetDefault("transport.stomp.heartbeat_recv", "10s")

	v.SetDefault("transport.mqtt.broker_url", "")
	v.SetDefault("transport.mqtt.client_id", "")
	v.SetDefault("transport.mqtt.username", "")
	v.SetDefault("transport.mqtt.password", "")
	v.SetDefault("transport.mqtt.qos", 1)
	v.SetDefault("transport.mqtt.keep_alive", "60s")
	v.SetDefault("transport.mqtt.embedded.enabled", false)
	v.SetDefault("transport.mqtt.embedded.host", "localhost")
	v.SetDefault("transport.mqtt.embedded.port", 1883)

	v.SetDefault("transport.nats.url", "nats://localhost:4222")
	v.SetDefault("transport.nats.name", "topicspec")
	v.SetDefault("transport.nats.username", "")
	v.SetDefault("transport.nats.password", "")
	v.SetDefault("transport.nats.token", "")

	v.SetDefault("transport.redis.addr", "localhost:6379")
	v.SetDefault("transport.redis.username", "")
	v.SetDefault("transport.redis.password", "")
	v.SetDefault("transport.redis.db", 0)
	v.SetDefault("transport.redis.health_interval", "5s")

	v.SetDefault("session.max_reconnect_attempts", 3)
	v.SetDefault("session.reconnect_delay", "5s")
	v.SetDefault("session.polling_interval", "3s")
	v.SetDefault("session.fallback_interval", "20s")
	v.SetDefault("session.poll_timeout", "10s")
	v.SetDefault("session.send_target", "")
	v.SetDefault("session.connect_headers", map[string]string{})

	v.SetDefault("poller.base_url", "")
	v.SetDefault("poller.body_path", "")
	v.SetDefault("poller.rate_limit", 10.0)
	v.SetDefault("poller.burst", 20)
	v.SetDefault("poller.timeout", "5s")

	v.SetDefault("topics", []string{})
}
