package config

import (
	"fmt"
	"time"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Logger        LoggerConfig        `mapstructure:"logger"`
	ErrorTracking ErrorTrackingConfig `mapstructure:"error_tracking"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	Tracing       TracingConfig       `mapstructure:"tracing"`
	Transport     TransportConfig     `mapstructure:"transport"`
	Session       SessionConfig       `mapstructure:"session"`
	Poller        PollerConfig        `mapstructure:"poller"`
	Topics        []string            `mapstructure:"topics"`
}

// ServerConfig holds the status HTTP server configuration
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	RateLimit       float64       `mapstructure:"rate_limit"` // requests per second per client, 0 disables
	Burst           int           `mapstructure:"burst"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Dev   bool   `mapstructure:"dev"`
	Path  string `mapstructure:"path"`
	// Level overrides the dev/production default: debug, info, warn, error
	Level string `mapstructure:"level"`
}

// ErrorTrackingConfig holds error tracking configuration
type ErrorTrackingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Provider    string  `mapstructure:"provider"` // sentry, noop
	DSN         string  `mapstructure:"dsn"`
	Environment string  `mapstructure:"environment"`
	Release     string  `mapstructure:"release"`
	ServerName  string  `mapstructure:"server_name"`
	Debug       bool    `mapstructure:"debug"`
	SampleRate  float64 `mapstructure:"sample_rate"` // 0.0-1.0
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Provider  string `mapstructure:"provider"` // prometheus, noop
	Namespace string `mapstructure:"namespace"`
	Path      string `mapstructure:"path"`
}

// TracingConfig holds OpenTelemetry tracing configuration
type TracingConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
	Endpoint       string `mapstructure:"endpoint"`
}

// TransportConfig selects and configures the shared pub/sub connection
type TransportConfig struct {
	Kind           string        `mapstructure:"kind"` // stomp, mqtt, nats, redis
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	STOMP          STOMPConfig   `mapstructure:"stomp"`
	MQTT           MQTTConfig    `mapstructure:"mqtt"`
	NATS           NATSConfig    `mapstructure:"nats"`
	Redis          RedisConfig   `mapstructure:"redis"`
}

// STOMPConfig configures STOMP over WebSocket
type STOMPConfig struct {
	URL           string        `mapstructure:"url"`
	Host          string        `mapstructure:"host"`
	Login         string        `mapstructure:"login"`
	Passcode      string        `mapstructure:"passcode"`
	HeartBeatSend time.Duration `mapstructure:"heartbeat_send"`
	HeartBeatRecv time.Duration `mapstructure:"heartbeat_recv"`
}

// MQTTConfig configures the MQTT transport
type MQTTConfig struct {
	BrokerURL string             `mapstructure:"broker_url"`
	ClientID  string             `mapstructure:"client_id"`
	Username  string             `mapstructure:"username"`
	Password  string             `mapstructure:"password"`
	QoS       byte               `mapstructure:"qos"`
	KeepAlive time.Duration      `mapstructure:"keep_alive"`
	Embedded  EmbeddedMQTTConfig `mapstructure:"embedded"`
}

// EmbeddedMQTTConfig starts an in-process broker, mostly for local development
type EmbeddedMQTTConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// NATSConfig configures the NATS transport
type NATSConfig struct {
	URL      string `mapstructure:"url"`
	Name     string `mapstructure:"name"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Token    string `mapstructure:"token"`
}

// RedisConfig configures the Redis pub/sub transport
type RedisConfig struct {
	Addr           string        `mapstructure:"addr"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	DB             int           `mapstructure:"db"`
	HealthInterval time.Duration `mapstructure:"health_interval"`
}

// SessionConfig tunes the connection manager and per-subscription polling
type SessionConfig struct {
	MaxReconnectAttempts int               `mapstructure:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration     `mapstructure:"reconnect_delay"`
	PollingInterval      time.Duration     `mapstructure:"polling_interval"`
	FallbackInterval     time.Duration     `mapstructure:"fallback_interval"`
	PollTimeout          time.Duration     `mapstructure:"poll_timeout"`
	SendTarget           string            `mapstructure:"send_target"`
	ConnectHeaders       map[string]string `mapstructure:"connect_headers"`
}

// PollerConfig configures the HTTP fallback poller
type PollerConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	BodyPath  string        `mapstructure:"body_path"`
	RateLimit float64       `mapstructure:"rate_limit"`
	Burst     int           `mapstructure:"burst"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// Validate checks the settings that have no usable zero value
func (c *Config) Validate() error {
	switch c.Transport.Kind {
	case "stomp":
		if c.Transport.STOMP.URL == "" {
			return fmt.Errorf("transport.stomp.url is required for the stomp transport")
		}
	case "mqtt":
		if c.Transport.MQTT.BrokerURL == "" && !c.Transport.MQTT.Embedded.Enabled {
			return fmt.Errorf("transport.mqtt.broker_url is required unless the embedded broker is enabled")
		}
	case "nats":
		if c.Transport.NATS.URL == "" {
			return fmt.Errorf("transport.nats.url is required for the nats transport")
		}
	case "redis":
		if c.Transport.Redis.Addr == "" {
			return fmt.Errorf("transport.redis.addr is required for the redis transport")
		}
	default:
		return fmt.Errorf("unknown transport kind: %q", c.Transport.Kind)
	}

	if c.Session.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("session.max_reconnect_attempts must be positive, got %d", c.Session.MaxReconnectAttempts)
	}
	if c.Session.PollingInterval <= 0 || c.Session.FallbackInterval <= 0 {
		return fmt.Errorf("session polling intervals must be positive")
	}
	if c.Transport.MQTT.QoS > 2 {
		return fmt.Errorf("transport.mqtt.qos must be 0, 1 or 2, got %d", c.Transport.MQTT.QoS)
	}

	return nil
}
