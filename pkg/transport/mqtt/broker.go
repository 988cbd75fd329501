package mqtt

import (
	"context"
	"fmt"
	"sync"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/bitechdev/TopicSpec/pkg/logger"
)

// BrokerConfig configures the embedded broker
type BrokerConfig struct {
	Host string
	Port int
}

// EmbeddedBroker wraps a Mochi MQTT server. It accepts every client and is
// meant for local development and tests, not for production traffic.
type EmbeddedBroker struct {
	config  BrokerConfig
	server  *mochi.Server
	mu      sync.Mutex
	started bool
}

// NewEmbeddedBroker creates a new embedded broker
func NewEmbeddedBroker(config BrokerConfig) *EmbeddedBroker {
	if config.Host == "" {
		config.Host = "127.0.0.1"
	}
	if config.Port == 0 {
		config.Port = 1883
	}
	return &EmbeddedBroker{config: config}
}

// Address returns the host:port the broker listens on
func (eb *EmbeddedBroker) Address() string {
	return fmt.Sprintf("%s:%d", eb.config.Host, eb.config.Port)
}

// URL returns a broker URL suitable for Config.BrokerURL
func (eb *EmbeddedBroker) URL() string {
	return "tcp://" + eb.Address()
}

// Start starts the embedded MQTT broker
func (eb *EmbeddedBroker) Start(ctx context.Context) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.started {
		return fmt.Errorf("broker already started")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	server := mochi.New(&mochi.Options{
		InlineClient: true,
	})
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return fmt.Errorf("failed to add auth hook: %w", err)
	}

	tcp := listeners.NewTCP(listeners.Config{
		ID:      "tcp",
		Address: eb.Address(),
	})
	if err := server.AddListener(tcp); err != nil {
		return fmt.Errorf("failed to add TCP listener: %w", err)
	}

	if err := server.Serve(); err != nil {
		return fmt.Errorf("failed to start embedded broker: %w", err)
	}

	eb.server = server
	eb.started = true
	logger.Info("[MQTT] Embedded broker started on %s", eb.Address())

	return nil
}

// Publish injects a message through the broker's inline client
func (eb *EmbeddedBroker) Publish(topic string, payload []byte, qos byte) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if !eb.started {
		return fmt.Errorf("broker not started")
	}
	return eb.server.Publish(topic, payload, false, qos)
}

// Stop stops the embedded broker
func (eb *EmbeddedBroker) Stop(ctx context.Context) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if !eb.started {
		return nil
	}

	if err := eb.server.Close(); err != nil {
		logger.Error("[MQTT] Error closing embedded broker: %v", err)
	}

	eb.started = false
	logger.Info("[MQTT] Embedded broker stopped")

	return nil
}
