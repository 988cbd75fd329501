// Package redis implements transport.Client on Redis pub/sub. The
// destination "/topic/orders" maps to the channel "topic:orders".
package redis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bitechdev/TopicSpec/pkg/logger"
	"github.com/bitechdev/TopicSpec/pkg/transport"
)

// Config holds the Redis client settings
type Config struct {
	Addr           string
	Username       string
	Password       string
	DB             int
	ConnectTimeout time.Duration
	// HealthInterval is how often the session is pinged. A failed ping ends
	// the session.
	HealthInterval time.Duration
}

// Client is a transport.Client over one go-redis client. go-redis retries
// commands and re-dials pub/sub internally, so session loss is detected by
// the health ping instead.
type Client struct {
	config Config

	mu      sync.Mutex
	rdb     *redis.Client
	session uint64
	onClose func(error)
	stop    chan struct{}
	subs    map[*handle]struct{}
}

// NewClient creates an unconnected Redis client
func NewClient(config Config) *Client {
	if config.Addr == "" {
		config.Addr = "localhost:6379"
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	if config.HealthInterval <= 0 {
		config.HealthInterval = 5 * time.Second
	}
	return &Client{config: config}
}

// Connect opens the client and verifies it with a PING. "login"/"passcode"
// headers override the configured credentials.
func (c *Client) Connect(ctx context.Context, headers map[string]string, onClose func(error)) error {
	c.mu.Lock()
	if c.rdb != nil {
		c.mu.Unlock()
		return transport.ErrAlreadyConnected
	}
	c.session++
	session := c.session
	c.mu.Unlock()

	user, pass := c.config.Username, c.config.Password
	if v, ok := headers["login"]; ok {
		user = v
	}
	if v, ok := headers["passcode"]; ok {
		pass = v
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:        c.config.Addr,
		Username:    user,
		Password:    pass,
		DB:          c.config.DB,
		DialTimeout: c.config.ConnectTimeout,
		MaxRetries:  -1,
	})

	pingCtx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("failed to connect to Redis %s: %w", c.config.Addr, err)
	}

	c.mu.Lock()
	if c.session != session {
		c.mu.Unlock()
		_ = rdb.Close()
		return fmt.Errorf("connect to %s aborted", c.config.Addr)
	}
	stop := make(chan struct{})
	c.rdb = rdb
	c.onClose = transport.CloseOnce(onClose)
	c.stop = stop
	c.subs = make(map[*handle]struct{})
	c.mu.Unlock()

	go c.watch(session, rdb, stop)
	logger.Info("[Redis] Connected to %s", c.config.Addr)
	return nil
}

// watch pings the server until the session ends or a ping fails
func (c *Client) watch(session uint64, rdb *redis.Client, stop <-chan struct{}) {
	ticker := time.NewTicker(c.config.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.config.HealthInterval)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err == nil {
			continue
		}

		closeFn, subs, ok := c.endSession(session)
		if !ok {
			return
		}
		logger.Warn("[Redis] Connection to %s lost: %v", c.config.Addr, err)
		closeSubs(subs)
		_ = rdb.Close()
		closeFn(err)
		return
	}
}

func (c *Client) endSession(session uint64) (func(error), []*handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != session || c.rdb == nil {
		return nil, nil, false
	}
	closeFn := c.onClose
	subs := make([]*handle, 0, len(c.subs))
	for h := range c.subs {
		subs = append(subs, h)
	}
	close(c.stop)
	c.rdb = nil
	c.onClose = nil
	c.stop = nil
	c.subs = nil
	return closeFn, subs, true
}

// Disconnect closes every subscription and the client, then fires onClose
// with nil
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	rdb := c.rdb
	session := c.session
	c.mu.Unlock()
	if rdb == nil {
		return nil
	}

	closeFn, subs, ok := c.endSession(session)
	if !ok {
		return nil
	}
	closeSubs(subs)
	err := rdb.Close()
	closeFn(nil)
	logger.Info("[Redis] Disconnected from %s", c.config.Addr)
	if err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}

// IsConnected reports whether a session is open
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rdb != nil
}

// Subscribe subscribes handler to the channel derived from destination and
// waits for the server to confirm it
func (c *Client) Subscribe(destination string, handler transport.MessageHandler) (transport.Handle, error) {
	c.mu.Lock()
	rdb := c.rdb
	c.mu.Unlock()
	if rdb == nil {
		return nil, transport.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.config.ConnectTimeout)
	defer cancel()

	ps := rdb.Subscribe(ctx, Channel(destination))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", destination, err)
	}

	h := &handle{client: c, ps: ps}
	c.mu.Lock()
	if c.rdb != rdb {
		c.mu.Unlock()
		_ = ps.Close()
		return nil, transport.ErrNotConnected
	}
	c.subs[h] = struct{}{}
	c.mu.Unlock()

	go func() {
		for m := range ps.Channel() {
			handler(&transport.Message{Destination: destination, Body: []byte(m.Payload)})
		}
	}()
	return h, nil
}

// Send publishes body on the channel derived from destination. Redis
// pub/sub carries no headers, so headers are ignored.
func (c *Client) Send(destination string, headers map[string]string, body []byte) error {
	c.mu.Lock()
	rdb := c.rdb
	c.mu.Unlock()
	if rdb == nil {
		return transport.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.config.ConnectTimeout)
	defer cancel()
	if err := rdb.Publish(ctx, Channel(destination), body).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", destination, err)
	}
	return nil
}

type handle struct {
	client *Client
	ps     *redis.PubSub
	once   sync.Once
}

func (h *handle) Unsubscribe() error {
	var err error
	h.once.Do(func() {
		h.client.mu.Lock()
		delete(h.client.subs, h)
		h.client.mu.Unlock()
		err = h.ps.Close()
	})
	return err
}

func closeSubs(subs []*handle) {
	for _, h := range subs {
		h.once.Do(func() {
			_ = h.ps.Close()
		})
	}
}

// Channel converts a slash separated destination into a Redis channel name
func Channel(destination string) string {
	return strings.ReplaceAll(strings.Trim(destination, "/"), "/", ":")
}
