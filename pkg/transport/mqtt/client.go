// Package mqtt implements transport.Client on top of an MQTT broker using the
// Paho client. A "/topic/orders" destination maps to the MQTT topic
// "topic/orders"; several handles on the same topic share one broker
// subscription.
package mqtt

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/bitechdev/TopicSpec/pkg/logger"
	"github.com/bitechdev/TopicSpec/pkg/transport"
)

// Config holds the MQTT client settings
type Config struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
}

// Client is a transport.Client backed by Paho. Paho's own reconnect logic is
// disabled; a lost connection ends the session and fires onClose.
type Client struct {
	config Config

	mu      sync.Mutex
	client  pahomqtt.Client
	session uint64
	onClose func(error)
	topics  map[string]*topicEntry
	nextID  uint64
}

type topicEntry struct {
	handlers map[uint64]transport.MessageHandler
}

// NewClient creates an unconnected MQTT client
func NewClient(config Config) *Client {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	if config.KeepAlive <= 0 {
		config.KeepAlive = 30 * time.Second
	}
	if config.ClientID == "" {
		config.ClientID = "topicspec-" + uuid.NewString()
	}
	return &Client{
		config: config,
		topics: make(map[string]*topicEntry),
	}
}

// Connect dials the broker once. The "login" and "passcode" headers override
// the configured credentials.
func (c *Client) Connect(ctx context.Context, headers map[string]string, onClose func(error)) error {
	c.mu.Lock()
	if c.client != nil {
		c.mu.Unlock()
		return transport.ErrAlreadyConnected
	}
	c.session++
	session := c.session
	c.mu.Unlock()

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(c.config.BrokerURL)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	if login, ok := headers["login"]; ok {
		opts.SetUsername(login)
	}
	if passcode, ok := headers["passcode"]; ok {
		opts.SetPassword(passcode)
	}
	opts.SetCleanSession(true)
	opts.SetKeepAlive(c.config.KeepAlive)
	opts.SetConnectTimeout(c.config.ConnectTimeout)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	closeFn := transport.CloseOnce(onClose)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.Warn("[MQTT] Connection to %s lost: %v", c.config.BrokerURL, err)
		if c.endSession(session) {
			closeFn(err)
		}
	})

	client := pahomqtt.NewClient(opts)
	if err := waitToken(ctx, client.Connect(), c.config.ConnectTimeout); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker %s: %w", c.config.BrokerURL, err)
	}

	c.mu.Lock()
	if c.session != session {
		// Disconnect raced the dial
		c.mu.Unlock()
		client.Disconnect(0)
		return fmt.Errorf("connect to %s aborted", c.config.BrokerURL)
	}
	c.client = client
	c.onClose = closeFn
	c.mu.Unlock()

	logger.Info("[MQTT] Connected to broker %s as %s", c.config.BrokerURL, c.config.ClientID)
	return nil
}

// endSession clears the session state if it still belongs to session
func (c *Client) endSession(session uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != session || c.client == nil {
		return false
	}
	c.client = nil
	c.onClose = nil
	c.topics = make(map[string]*topicEntry)
	return true
}

// Disconnect closes the session and fires its onClose with a nil error
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	client := c.client
	closeFn := c.onClose
	c.session++
	c.client = nil
	c.onClose = nil
	c.topics = make(map[string]*topicEntry)
	c.mu.Unlock()

	if client == nil {
		return nil
	}

	quiesce := uint(250)
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < 250*time.Millisecond {
			quiesce = uint(remaining.Milliseconds())
		}
	}
	client.Disconnect(quiesce)
	closeFn(nil)

	logger.Info("[MQTT] Disconnected from broker %s", c.config.BrokerURL)
	return nil
}

// IsConnected reports whether a session is open
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil && c.client.IsConnectionOpen()
}

// Subscribe registers handler on the MQTT topic derived from destination
func (c *Client) Subscribe(destination string, handler transport.MessageHandler) (transport.Handle, error) {
	topic := mqttTopic(destination)

	c.mu.Lock()
	if c.client == nil {
		c.mu.Unlock()
		return nil, transport.ErrNotConnected
	}
	client := c.client
	session := c.session
	c.nextID++
	id := c.nextID

	entry, exists := c.topics[topic]
	if !exists {
		entry = &topicEntry{handlers: make(map[uint64]transport.MessageHandler)}
		c.topics[topic] = entry
	}
	entry.handlers[id] = handler
	c.mu.Unlock()

	h := &handle{client: c, topic: topic, id: id, session: session}

	if exists {
		return h, nil
	}

	token := client.Subscribe(topic, c.config.QoS, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.dispatch(session, msg)
	})
	if err := waitToken(context.Background(), token, c.config.ConnectTimeout); err != nil {
		c.release(h, false)
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	logger.Debug("[MQTT] Subscribed to topic %s", topic)
	return h, nil
}

func (c *Client) dispatch(session uint64, msg pahomqtt.Message) {
	c.mu.Lock()
	if c.session != session {
		c.mu.Unlock()
		return
	}
	entry, ok := c.topics[msg.Topic()]
	var handlers []transport.MessageHandler
	if ok {
		handlers = make([]transport.MessageHandler, 0, len(entry.handlers))
		for _, fn := range entry.handlers {
			handlers = append(handlers, fn)
		}
	}
	c.mu.Unlock()

	m := &transport.Message{
		Destination: "/" + msg.Topic(),
		Headers:     map[string]string{"message-id": strconv.FormatUint(uint64(msg.MessageID()), 10)},
		Body:        msg.Payload(),
	}
	for _, fn := range handlers {
		fn(m)
	}
}

// release drops one handler; the broker subscription goes with the last one
func (c *Client) release(h *handle, unsubscribe bool) error {
	c.mu.Lock()
	if c.session != h.session {
		c.mu.Unlock()
		return nil
	}
	entry, ok := c.topics[h.topic]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	delete(entry.handlers, h.id)
	if len(entry.handlers) > 0 {
		c.mu.Unlock()
		return nil
	}
	delete(c.topics, h.topic)
	client := c.client
	c.mu.Unlock()

	if !unsubscribe || client == nil {
		return nil
	}
	if err := waitToken(context.Background(), client.Unsubscribe(h.topic), c.config.ConnectTimeout); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", h.topic, err)
	}
	logger.Debug("[MQTT] Unsubscribed from topic %s", h.topic)
	return nil
}

// Send publishes body on the MQTT topic derived from destination. MQTT 3.1.1
// has no per-message headers, so headers are ignored.
func (c *Client) Send(destination string, headers map[string]string, body []byte) error {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return transport.ErrNotConnected
	}

	topic := mqttTopic(destination)
	if err := waitToken(context.Background(), client.Publish(topic, c.config.QoS, false, body), c.config.ConnectTimeout); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

type handle struct {
	client  *Client
	topic   string
	id      uint64
	session uint64
	once    sync.Once
}

func (h *handle) Unsubscribe() error {
	var err error
	h.once.Do(func() {
		err = h.client.release(h, true)
	})
	return err
}

func mqttTopic(destination string) string {
	return strings.TrimPrefix(destination, "/")
}

func waitToken(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return fmt.Errorf("timed out after %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
