package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/bitechdev/TopicSpec/pkg/logger"
)

// Provider defines the interface for metric collection
type Provider interface {
	// SetConnectionState records the current phase of the shared connection
	SetConnectionState(state string)

	// RecordConnectAttempt records the outcome of a connect attempt ("success", "failure")
	RecordConnectAttempt(result string)

	// SetReconnectAttempts records the consecutive failed attempt counter
	SetReconnectAttempts(n int)

	// SetActiveSubscriptions records the registry size
	SetActiveSubscriptions(n int)

	// RecordMessageDelivered records a message handed to a subscriber
	RecordMessageDelivered()

	// RecordMessageDropped records a message that reached no subscriber
	RecordMessageDropped(reason string)

	// RecordPoll records a poll loop tick ("primary", "fallback") and its outcome
	RecordPoll(loop, result string)

	// Handler returns an HTTP handler for exposing metrics (e.g., /metrics endpoint)
	Handler() http.Handler
}

// globalProvider is read from timer goroutines, so it is swapped atomically.
// The holder lets SetProvider(nil) store a consistent type.
var globalProvider atomic.Pointer[providerHolder]

type providerHolder struct {
	provider Provider
}

// SetProvider sets the global metrics provider. nil restores the no-op
// provider.
func SetProvider(p Provider) {
	globalProvider.Store(&providerHolder{provider: p})
}

// GetProvider returns the current metrics provider
func GetProvider() Provider {
	if h := globalProvider.Load(); h != nil && h.provider != nil {
		return h.provider
	}
	return &NoOpProvider{}
}

// NoOpProvider is a no-op implementation of Provider
type NoOpProvider struct{}

func (n *NoOpProvider) SetConnectionState(state string)    {}
func (n *NoOpProvider) RecordConnectAttempt(result string) {}
func (n *NoOpProvider) SetReconnectAttempts(count int)     {}
func (n *NoOpProvider) SetActiveSubscriptions(count int)   {}
func (n *NoOpProvider) RecordMessageDelivered()            {}
func (n *NoOpProvider) RecordMessageDropped(reason string) {}
func (n *NoOpProvider) RecordPoll(loop, result string)     {}
func (n *NoOpProvider) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, err := w.Write([]byte("Metrics provider not configured"))
		if err != nil {
			logger.Warn("Failed to write. %v", err)
		}
	})
}
