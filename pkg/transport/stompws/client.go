// Package stompws implements transport.Client as STOMP 1.2 framed over a
// WebSocket, the setup used by RabbitMQ web-stomp, ActiveMQ and Spring
// brokers.
package stompws

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"

	"github.com/bitechdev/TopicSpec/pkg/logger"
	"github.com/bitechdev/TopicSpec/pkg/transport"
)

// Config holds the STOMP-over-WebSocket settings
type Config struct {
	URL            string
	Host           string
	Login          string
	Passcode       string
	HeartBeatSend  time.Duration
	HeartBeatRecv  time.Duration
	ConnectTimeout time.Duration

	// Dialer overrides the default WebSocket dialer
	Dialer *websocket.Dialer
}

// Client is a transport.Client speaking STOMP over one WebSocket
type Client struct {
	config Config

	mu      sync.Mutex
	conn    *stomp.Conn
	ws      *wsConn
	session uint64
	onClose func(error)
}

// NewClient creates an unconnected STOMP client
func NewClient(config Config) *Client {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	if config.Dialer == nil {
		config.Dialer = &websocket.Dialer{
			HandshakeTimeout: config.ConnectTimeout,
			Subprotocols:     []string{"v12.stomp", "v11.stomp", "v10.stomp"},
		}
	}
	return &Client{config: config}
}

// Connect opens the WebSocket and performs the STOMP handshake once.
// "login" and "passcode" headers override the configured credentials, any
// other header is sent on the CONNECT frame as is.
func (c *Client) Connect(ctx context.Context, headers map[string]string, onClose func(error)) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return transport.ErrAlreadyConnected
	}
	c.session++
	session := c.session
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()

	ws, resp, err := c.config.Dialer.DialContext(ctx, c.config.URL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("failed to open websocket %s: %w", c.config.URL, err)
	}

	rw := newWSConn(ws)
	if deadline, ok := ctx.Deadline(); ok {
		_ = rw.SetDeadline(deadline)
	}

	conn, err := stomp.Connect(rw, c.connectOptions(headers)...)
	if err != nil {
		_ = rw.Close()
		return fmt.Errorf("STOMP handshake with %s failed: %w", c.config.URL, err)
	}
	_ = rw.SetDeadline(time.Time{})

	closeFn := transport.CloseOnce(onClose)

	c.mu.Lock()
	if c.session != session {
		c.mu.Unlock()
		_ = rw.Close()
		return fmt.Errorf("connect to %s aborted", c.config.URL)
	}
	c.conn = conn
	c.ws = rw
	c.onClose = closeFn
	c.mu.Unlock()

	go c.watch(session, rw, closeFn)

	logger.Info("[STOMP] Connected to %s (server %s)", c.config.URL, conn.Server())
	return nil
}

func (c *Client) connectOptions(headers map[string]string) []func(*stomp.Conn) error {
	host := c.config.Host
	if host == "" {
		if u, err := url.Parse(c.config.URL); err == nil {
			host = u.Hostname()
		}
	}

	login, passcode := c.config.Login, c.config.Passcode
	opts := []func(*stomp.Conn) error{
		stomp.ConnOpt.HeartBeat(c.config.HeartBeatSend, c.config.HeartBeatRecv),
	}
	if host != "" {
		opts = append(opts, stomp.ConnOpt.Host(host))
	}
	for key, value := range headers {
		switch key {
		case "login":
			login = value
		case "passcode":
			passcode = value
		default:
			opts = append(opts, stomp.ConnOpt.Header(key, value))
		}
	}
	if login != "" {
		opts = append(opts, stomp.ConnOpt.Login(login, passcode))
	}
	return opts
}

// watch ends the session when the socket stops reading
func (c *Client) watch(session uint64, rw *wsConn, closeFn func(error)) {
	<-rw.Done()

	c.mu.Lock()
	current := c.session == session && c.conn != nil
	if current {
		c.conn = nil
		c.ws = nil
		c.onClose = nil
	}
	c.mu.Unlock()

	if current {
		logger.Warn("[STOMP] Connection to %s lost: %v", c.config.URL, rw.Err())
		closeFn(rw.Err())
	}
}

// Disconnect sends DISCONNECT, closes the socket and fires onClose with nil
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	conn, rw, closeFn := c.conn, c.ws, c.onClose
	c.session++
	c.conn = nil
	c.ws = nil
	c.onClose = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- conn.Disconnect() }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	_ = rw.Close()
	closeFn(nil)

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("[STOMP] Disconnect from %s: %v", c.config.URL, err)
	} else {
		logger.Info("[STOMP] Disconnected from %s", c.config.URL)
	}
	return err
}

// IsConnected reports whether a session is open
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Subscribe issues SUBSCRIBE with automatic acknowledgement and pumps
// MESSAGE frames to handler
func (c *Client) Subscribe(destination string, handler transport.MessageHandler) (transport.Handle, error) {
	c.mu.Lock()
	conn, session := c.conn, c.session
	c.mu.Unlock()
	if conn == nil {
		return nil, transport.ErrNotConnected
	}

	sub, err := conn.Subscribe(destination, stomp.AckAuto)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", destination, err)
	}

	h := &handle{client: c, sub: sub, session: session, destination: destination}
	go h.pump(handler)

	logger.Debug("[STOMP] Subscribed to %s (id %s)", destination, sub.Id())
	return h, nil
}

// Send transmits body as a SEND frame. The "content-type" header selects
// the frame content type, text/plain by default.
func (c *Client) Send(destination string, headers map[string]string, body []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return transport.ErrNotConnected
	}

	contentType := "text/plain"
	var opts []func(*frame.Frame) error
	for key, value := range headers {
		if key == "content-type" {
			contentType = value
			continue
		}
		opts = append(opts, stomp.SendOpt.Header(key, value))
	}

	if err := conn.Send(destination, contentType, body, opts...); err != nil {
		return fmt.Errorf("failed to send to %s: %w", destination, err)
	}
	return nil
}

// sessionActive reports whether session is still the open one
func (c *Client) sessionActive(session uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session == session && c.conn != nil
}

type handle struct {
	client      *Client
	sub         *stomp.Subscription
	session     uint64
	destination string
	once        sync.Once
}

func (h *handle) pump(handler transport.MessageHandler) {
	for msg := range h.sub.C {
		if msg.Err != nil {
			logger.Debug("[STOMP] Subscription %s ended: %v", h.destination, msg.Err)
			continue
		}
		handler(toMessage(msg))
	}
}

func (h *handle) Unsubscribe() error {
	var err error
	h.once.Do(func() {
		// a dead session already dropped the subscription server side
		if !h.client.sessionActive(h.session) {
			return
		}
		if uerr := h.sub.Unsubscribe(); uerr != nil {
			err = fmt.Errorf("failed to unsubscribe from %s: %w", h.destination, uerr)
		}
	})
	return err
}

func toMessage(msg *stomp.Message) *transport.Message {
	m := &transport.Message{
		Destination: msg.Destination,
		Headers:     make(map[string]string),
		Body:        msg.Body,
	}
	if msg.Header != nil {
		for i := 0; i < msg.Header.Len(); i++ {
			key, value := msg.Header.GetAt(i)
			if _, seen := m.Headers[key]; !seen {
				m.Headers[key] = value
			}
		}
	}
	if msg.ContentType != "" {
		m.Headers["content-type"] = msg.ContentType
	}
	return m
}
