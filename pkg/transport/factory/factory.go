// Package factory builds the configured transport.Client
package factory

import (
	"fmt"
	"strings"

	"github.com/bitechdev/TopicSpec/pkg/config"
	"github.com/bitechdev/TopicSpec/pkg/transport"
	"github.com/bitechdev/TopicSpec/pkg/transport/mqtt"
	"github.com/bitechdev/TopicSpec/pkg/transport/nats"
	"github.com/bitechdev/TopicSpec/pkg/transport/redis"
	"github.com/bitechdev/TopicSpec/pkg/transport/stompws"
)

// New returns an unconnected client for cfg.Kind
func New(cfg config.TransportConfig) (transport.Client, error) {
	switch strings.ToLower(cfg.Kind) {
	case "stomp", "":
		return stompws.NewClient(stompws.Config{
			URL:            cfg.STOMP.URL,
			Host:           cfg.STOMP.Host,
			Login:          cfg.STOMP.Login,
			Passcode:       cfg.STOMP.Passcode,
			HeartBeatSend:  cfg.STOMP.HeartBeatSend,
			HeartBeatRecv:  cfg.STOMP.HeartBeatRecv,
			ConnectTimeout: cfg.ConnectTimeout,
		}), nil
	case "mqtt":
		brokerURL := cfg.MQTT.BrokerURL
		if cfg.MQTT.Embedded.Enabled && brokerURL == "" {
			brokerURL = EmbeddedBroker(cfg.MQTT.Embedded).URL()
		}
		return mqtt.NewClient(mqtt.Config{
			BrokerURL:      brokerURL,
			ClientID:       cfg.MQTT.ClientID,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			QoS:            cfg.MQTT.QoS,
			KeepAlive:      cfg.MQTT.KeepAlive,
			ConnectTimeout: cfg.ConnectTimeout,
		}), nil
	case "nats":
		return nats.NewClient(nats.Config{
			URL:            cfg.NATS.URL,
			Name:           cfg.NATS.Name,
			Username:       cfg.NATS.Username,
			Password:       cfg.NATS.Password,
			Token:          cfg.NATS.Token,
			ConnectTimeout: cfg.ConnectTimeout,
		}), nil
	case "redis":
		return redis.NewClient(redis.Config{
			Addr:           cfg.Redis.Addr,
			Username:       cfg.Redis.Username,
			Password:       cfg.Redis.Password,
			DB:             cfg.Redis.DB,
			ConnectTimeout: cfg.ConnectTimeout,
			HealthInterval: cfg.Redis.HealthInterval,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported transport kind: %s", cfg.Kind)
	}
}

// EmbeddedBroker returns the in-process MQTT broker described by cfg. The
// caller starts and stops it.
func EmbeddedBroker(cfg config.EmbeddedMQTTConfig) *mqtt.EmbeddedBroker {
	return mqtt.NewEmbeddedBroker(mqtt.BrokerConfig{Host: cfg.Host, Port: cfg.Port})
}
