// Package transport defines the boundary between the subscription manager and
// the pub/sub connection it multiplexes. Concrete clients live in the
// stompws, mqtt and nats sub-packages.
package transport

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var (
	// ErrNotConnected is returned by Subscribe and Send while no session is open
	ErrNotConnected = errors.New("transport: not connected")

	// ErrAlreadyConnected is returned by Connect when a session is already open
	ErrAlreadyConnected = errors.New("transport: already connected")
)

// Message is a frame delivered on a subscribed destination
type Message struct {
	Destination string
	Headers     map[string]string
	Body        []byte
}

// MessageHandler receives messages for one subscribe call. It runs on the
// transport's delivery goroutine and must not block for long.
type MessageHandler func(msg *Message)

// Handle is the live result of a Subscribe call
type Handle interface {
	// Unsubscribe stops delivery to the handler. Calling it twice is a no-op.
	Unsubscribe() error
}

// Client is one shared pub/sub connection.
//
// Connect performs a single attempt and never retries on its own; the caller
// owns reconnection. onClose fires at most once per successful Connect, on a
// separate goroutine, whenever that session ends (including Disconnect).
type Client interface {
	Connect(ctx context.Context, headers map[string]string, onClose func(error)) error
	Disconnect(ctx context.Context) error
	Subscribe(destination string, handler MessageHandler) (Handle, error)
	Send(destination string, headers map[string]string, body []byte) error
	IsConnected() bool
}

// TopicDestination returns the destination a topic id is subscribed on
func TopicDestination(topicID string) string {
	return "/topic/" + topicID
}

// TopicFromDestination strips the "/topic/" prefix, returning the input
// unchanged when it is absent
func TopicFromDestination(destination string) string {
	return strings.TrimPrefix(destination, "/topic/")
}

// CloseOnce wraps onClose so that it runs at most once, asynchronously.
// A nil onClose yields a no-op.
func CloseOnce(onClose func(error)) func(error) {
	if onClose == nil {
		return func(error) {}
	}
	var once sync.Once
	return func(err error) {
		once.Do(func() { go onClose(err) })
	}
}
