// Package nats implements transport.Client on a NATS connection. The
// destination "/topic/orders" maps to the subject "topic.orders".
package nats

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/bitechdev/TopicSpec/pkg/logger"
	"github.com/bitechdev/TopicSpec/pkg/transport"
)

// Config holds the NATS client settings
type Config struct {
	URL            string
	Name           string
	Username       string
	Password       string
	Token          string
	ConnectTimeout time.Duration
}

// Client is a transport.Client backed by nats.go with its reconnect logic
// disabled
type Client struct {
	config Config

	mu      sync.Mutex
	nc      *nats.Conn
	session uint64
	onClose func(error)
}

// NewClient creates an unconnected NATS client
func NewClient(config Config) *Client {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	if config.Name == "" {
		config.Name = "topicspec"
	}
	return &Client{config: config}
}

// Connect dials the server once. "login"/"passcode" headers override the
// configured user credentials and "token" overrides the token.
func (c *Client) Connect(ctx context.Context, headers map[string]string, onClose func(error)) error {
	c.mu.Lock()
	if c.nc != nil {
		c.mu.Unlock()
		return transport.ErrAlreadyConnected
	}
	c.session++
	session := c.session
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	timeout := c.config.ConnectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	user, pass, token := c.config.Username, c.config.Password, c.config.Token
	if v, ok := headers["login"]; ok {
		user = v
	}
	if v, ok := headers["passcode"]; ok {
		pass = v
	}
	if v, ok := headers["token"]; ok {
		token = v
	}

	closeFn := transport.CloseOnce(onClose)
	opts := []nats.Option{
		nats.Name(c.config.Name),
		nats.Timeout(timeout),
		nats.NoReconnect(),
		nats.ClosedHandler(func(nc *nats.Conn) {
			if c.endSession(session) {
				err := nc.LastError()
				logger.Warn("[NATS] Connection to %s closed: %v", c.config.URL, err)
				closeFn(err)
			}
		}),
	}
	if user != "" {
		opts = append(opts, nats.UserInfo(user, pass))
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(c.config.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS %s: %w", c.config.URL, err)
	}

	c.mu.Lock()
	if c.session != session {
		c.mu.Unlock()
		nc.Close()
		return fmt.Errorf("connect to %s aborted", c.config.URL)
	}
	c.nc = nc
	c.onClose = closeFn
	c.mu.Unlock()

	logger.Info("[NATS] Connected to %s", nc.ConnectedUrl())
	return nil
}

func (c *Client) endSession(session uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != session || c.nc == nil {
		return false
	}
	c.nc = nil
	c.onClose = nil
	return true
}

// Disconnect drains and closes the connection, then fires onClose with nil
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	nc, closeFn := c.nc, c.onClose
	c.session++
	c.nc = nil
	c.onClose = nil
	c.mu.Unlock()

	if nc == nil {
		return nil
	}

	nc.Close()
	closeFn(nil)
	logger.Info("[NATS] Disconnected from %s", c.config.URL)
	return nil
}

// IsConnected reports whether a session is open
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nc != nil && c.nc.IsConnected()
}

// Subscribe subscribes handler to the subject derived from destination
func (c *Client) Subscribe(destination string, handler transport.MessageHandler) (transport.Handle, error) {
	c.mu.Lock()
	nc := c.nc
	c.mu.Unlock()
	if nc == nil {
		return nil, transport.ErrNotConnected
	}

	sub, err := nc.Subscribe(Subject(destination), func(m *nats.Msg) {
		msg := &transport.Message{
			Destination: destination,
			Headers:     make(map[string]string, len(m.Header)),
			Body:        m.Data,
		}
		for key := range m.Header {
			msg.Headers[key] = m.Header.Get(key)
		}
		handler(msg)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", destination, err)
	}
	return &handle{sub: sub}, nil
}

// Send publishes body with headers on the subject derived from destination
func (c *Client) Send(destination string, headers map[string]string, body []byte) error {
	c.mu.Lock()
	nc := c.nc
	c.mu.Unlock()
	if nc == nil {
		return transport.ErrNotConnected
	}

	msg := nats.NewMsg(Subject(destination))
	msg.Data = body
	for key, value := range headers {
		msg.Header.Set(key, value)
	}
	if err := nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", destination, err)
	}
	return nil
}

type handle struct {
	sub  *nats.Subscription
	once sync.Once
}

func (h *handle) Unsubscribe() error {
	var err error
	h.once.Do(func() {
		if !h.sub.IsValid() {
			return
		}
		err = h.sub.Unsubscribe()
	})
	return err
}

// Subject converts a slash separated destination into a NATS subject
func Subject(destination string) string {
	return strings.ReplaceAll(strings.Trim(destination, "/"), "/", ".")
}
