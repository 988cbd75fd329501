package nats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitechdev/TopicSpec/pkg/transport"
)

var _ transport.Client = (*Client)(nil)

func TestSubject(t *testing.T) {
	tests := []struct {
		destination string
		want        string
	}{
		{"/topic/orders", "topic.orders"},
		{"topic/orders", "topic.orders"},
		{"/app/heartbeat/", "app.heartbeat"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.destination, func(t *testing.T) {
			assert.Equal(t, tt.want, Subject(tt.destination))
		})
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(Config{URL: "nats://localhost:4222"})
	assert.Equal(t, 10*time.Second, c.config.ConnectTimeout)
	assert.Equal(t, "topicspec", c.config.Name)
}

func TestClient_NotConnected(t *testing.T) {
	c := NewClient(Config{URL: "nats://127.0.0.1:1"})
	assert.False(t, c.IsConnected())

	_, err := c.Subscribe("/topic/orders", func(*transport.Message) {})
	assert.ErrorIs(t, err, transport.ErrNotConnected)
	assert.ErrorIs(t, c.Send("/app/x", nil, nil), transport.ErrNotConnected)
	assert.NoError(t, c.Disconnect(context.Background()))
}

func TestClient_ConnectFailure(t *testing.T) {
	c := NewClient(Config{URL: "nats://127.0.0.1:1", ConnectTimeout: 300 * time.Millisecond})
	err := c.Connect(context.Background(), nil, nil)
	require.Error(t, err)
	assert.False(t, c.IsConnected())
}

func TestClient_ConnectCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(Config{URL: "nats://127.0.0.1:1"})
	assert.ErrorIs(t, c.Connect(ctx, nil, nil), context.Canceled)
}
