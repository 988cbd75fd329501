package topicspec

import (
	"fmt"
	"time"

	"github.com/bitechdev/TopicSpec/pkg/config"
)

// Defaults for Manager and Subscription settings
const (
	DefaultMaxReconnectAttempts = 3
	DefaultReconnectDelay       = 5 * time.Second
	DefaultConnectTimeout       = 10 * time.Second
	DefaultPollingInterval      = 3 * time.Second
	DefaultFallbackInterval     = 20 * time.Second
	DefaultPollTimeout          = 10 * time.Second
)

// Option configures a Manager
type Option func(*Manager) error

// WithMaxReconnectAttempts caps consecutive failed connect attempts
func WithMaxReconnectAttempts(n int) Option {
	return func(m *Manager) error {
		if n <= 0 {
			return fmt.Errorf("max reconnect attempts must be positive, got %d", n)
		}
		m.maxReconnectAttempts = n
		return nil
	}
}

// WithReconnectDelay sets the pause before each retry
func WithReconnectDelay(d time.Duration) Option {
	return func(m *Manager) error {
		if d < 0 {
			return fmt.Errorf("reconnect delay must not be negative, got %s", d)
		}
		m.reconnectDelay = d
		return nil
	}
}

// WithConnectTimeout bounds a single connect attempt
func WithConnectTimeout(d time.Duration) Option {
	return func(m *Manager) error {
		if d <= 0 {
			return fmt.Errorf("connect timeout must be positive, got %s", d)
		}
		m.connectTimeout = d
		return nil
	}
}

// WithPollingInterval sets the default primary poll interval
func WithPollingInterval(d time.Duration) Option {
	return func(m *Manager) error {
		if d <= 0 {
			return fmt.Errorf("polling interval must be positive, got %s", d)
		}
		m.defaults.pollingInterval = d
		return nil
	}
}

// WithFallbackInterval sets the default fallback poll interval
func WithFallbackInterval(d time.Duration) Option {
	return func(m *Manager) error {
		if d <= 0 {
			return fmt.Errorf("fallback interval must be positive, got %s", d)
		}
		m.defaults.fallbackInterval = d
		return nil
	}
}

// WithPollTimeout bounds a single Poll call
func WithPollTimeout(d time.Duration) Option {
	return func(m *Manager) error {
		if d <= 0 {
			return fmt.Errorf("poll timeout must be positive, got %s", d)
		}
		m.defaults.pollTimeout = d
		return nil
	}
}

// WithSendTarget sets the destination the before-disconnect message goes to
func WithSendTarget(destination string) Option {
	return func(m *Manager) error {
		m.sendTarget = destination
		return nil
	}
}

// WithConnectHeaders sets the headers passed to every connect attempt
func WithConnectHeaders(headers map[string]string) Option {
	return func(m *Manager) error {
		m.connectHeaders = make(map[string]string, len(headers))
		for k, v := range headers {
			m.connectHeaders[k] = v
		}
		return nil
	}
}

// WithDisconnectHook registers the disconnect notification at construction
func WithDisconnectHook(hook DisconnectHook) Option {
	return func(m *Manager) error {
		m.disconnectHook = hook
		return nil
	}
}

// WithBeforeDisconnectHook registers the farewell message builder at
// construction
func WithBeforeDisconnectHook(hook BeforeDisconnectHook) Option {
	return func(m *Manager) error {
		m.beforeDisconnectHook = hook
		return nil
	}
}

// WithSessionConfig applies every non-zero field of cfg
func WithSessionConfig(cfg config.SessionConfig) Option {
	return func(m *Manager) error {
		var opts []Option
		if cfg.MaxReconnectAttempts != 0 {
			opts = append(opts, WithMaxReconnectAttempts(cfg.MaxReconnectAttempts))
		}
		if cfg.ReconnectDelay != 0 {
			opts = append(opts, WithReconnectDelay(cfg.ReconnectDelay))
		}
		if cfg.PollingInterval != 0 {
			opts = append(opts, WithPollingInterval(cfg.PollingInterval))
		}
		if cfg.FallbackInterval != 0 {
			opts = append(opts, WithFallbackInterval(cfg.FallbackInterval))
		}
		if cfg.PollTimeout != 0 {
			opts = append(opts, WithPollTimeout(cfg.PollTimeout))
		}
		if cfg.SendTarget != "" {
			opts = append(opts, WithSendTarget(cfg.SendTarget))
		}
		if len(cfg.ConnectHeaders) > 0 {
			opts = append(opts, WithConnectHeaders(cfg.ConnectHeaders))
		}
		for _, opt := range opts {
			if err := opt(m); err != nil {
				return err
			}
		}
		return nil
	}
}

// subscribeOptions are the per-subscription settings
type subscribeOptions struct {
	poller           Poller
	sink             MessageSink
	pollingInterval  time.Duration
	fallbackInterval time.Duration
	pollTimeout      time.Duration
}

func defaultSubscribeOptions() subscribeOptions {
	return subscribeOptions{
		pollingInterval:  DefaultPollingInterval,
		fallbackInterval: DefaultFallbackInterval,
		pollTimeout:      DefaultPollTimeout,
	}
}

// SubscribeOption configures one subscription
type SubscribeOption func(*subscribeOptions)

// WithPoller sets the probe used by both poll loops
func WithPoller(p Poller) SubscribeOption {
	return func(o *subscribeOptions) {
		o.poller = p
	}
}

// WithMessageSink sets the delivery callback up front
func WithMessageSink(sink MessageSink) SubscribeOption {
	return func(o *subscribeOptions) {
		o.sink = sink
	}
}

// WithPollingDelay overrides the primary poll interval. Non-positive values
// are ignored.
func WithPollingDelay(d time.Duration) SubscribeOption {
	return func(o *subscribeOptions) {
		if d > 0 {
			o.pollingInterval = d
		}
	}
}

// WithFallbackPollingDelay overrides the fallback poll interval.
// Non-positive values are ignored.
func WithFallbackPollingDelay(d time.Duration) SubscribeOption {
	return func(o *subscribeOptions) {
		if d > 0 {
			o.fallbackInterval = d
		}
	}
}
