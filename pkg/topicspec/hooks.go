package topicspec

import "context"

// MessageSink receives the body of every message delivered to a subscription
type MessageSink interface {
	OnMessage(body []byte)
}

// MessageSinkFunc adapts a function to MessageSink
type MessageSinkFunc func(body []byte)

// OnMessage calls f(body)
func (f MessageSinkFunc) OnMessage(body []byte) { f(body) }

// Poller is probed by the poll loops. Returning false, an error or
// panicking stops polling and unsubscribes the subscription.
type Poller interface {
	Poll(ctx context.Context) (bool, error)
}

// PollerFunc adapts a function to Poller
type PollerFunc func(ctx context.Context) (bool, error)

// Poll calls f(ctx)
func (f PollerFunc) Poll(ctx context.Context) (bool, error) { return f(ctx) }

// DisconnectHook is notified when the shared connection is given up: after
// the empty-registry disconnect completes, or when retries are exhausted
type DisconnectHook interface {
	OnDisconnect()
}

// DisconnectHookFunc adapts a function to DisconnectHook
type DisconnectHookFunc func()

// OnDisconnect calls f()
func (f DisconnectHookFunc) OnDisconnect() { f() }

// BeforeDisconnectHook builds a farewell message from the last topic id.
// The result is sent to the configured send target before a clean
// disconnect.
type BeforeDisconnectHook interface {
	BeforeDisconnect(lastTopicID string) []byte
}

// BeforeDisconnectHookFunc adapts a function to BeforeDisconnectHook
type BeforeDisconnectHookFunc func(lastTopicID string) []byte

// BeforeDisconnect calls f(lastTopicID)
func (f BeforeDisconnectHookFunc) BeforeDisconnect(lastTopicID string) []byte {
	return f(lastTopicID)
}
