package factory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitechdev/TopicSpec/pkg/config"
	"github.com/bitechdev/TopicSpec/pkg/transport/mqtt"
	"github.com/bitechdev/TopicSpec/pkg/transport/nats"
	"github.com/bitechdev/TopicSpec/pkg/transport/redis"
	"github.com/bitechdev/TopicSpec/pkg/transport/stompws"
)

func TestNew(t *testing.T) {
	base := config.TransportConfig{
		ConnectTimeout: time.Second,
		STOMP:          config.STOMPConfig{URL: "ws://localhost:15674/ws"},
		MQTT:           config.MQTTConfig{BrokerURL: "tcp://localhost:1883"},
		NATS:           config.NATSConfig{URL: "nats://localhost:4222"},
		Redis:          config.RedisConfig{Addr: "localhost:6379"},
	}

	tests := []struct {
		kind     string
		wantType interface{}
		wantErr  bool
	}{
		{kind: "stomp", wantType: &stompws.Client{}},
		{kind: "", wantType: &stompws.Client{}},
		{kind: "MQTT", wantType: &mqtt.Client{}},
		{kind: "nats", wantType: &nats.Client{}},
		{kind: "redis", wantType: &redis.Client{}},
		{kind: "amqp", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			cfg := base
			cfg.Kind = tt.kind
			client, err := New(cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.wantType, client)
			assert.False(t, client.IsConnected())
		})
	}
}

func TestEmbeddedBroker(t *testing.T) {
	b := EmbeddedBroker(config.EmbeddedMQTTConfig{Host: "127.0.0.1", Port: 18830})
	assert.Equal(t, "tcp://127.0.0.1:18830", b.URL())
}
