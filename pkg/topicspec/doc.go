// Package topicspec multiplexes topic subscriptions over one shared,
// lazily opened and automatically reconnected pub/sub connection.
//
// A Manager owns the transport.Client. The first Subscribe opens the
// connection and every caller that subscribes before the first successful
// connect waits for its outcome. When the connection drops, every
// Subscription falls back to polling through its Poller while the Manager
// retries, up to a fixed number of attempts. When the last Subscription goes
// away the Manager disconnects.
//
// Basic usage:
//
//	client := stompws.NewClient(stompws.Config{URL: "ws://localhost:15674/ws"})
//	mgr, err := topicspec.NewManager(client, topicspec.WithMaxReconnectAttempts(3))
//	if err != nil {
//		return err
//	}
//
//	sub, err := mgr.Subscribe(ctx, "orders",
//		topicspec.WithPoller(topicspec.PollerFunc(func(ctx context.Context) (bool, error) {
//			return refreshOrders(ctx)
//		})),
//	)
//	if err != nil {
//		return err
//	}
//	mgr.OnMessage(sub, topicspec.MessageSinkFunc(func(body []byte) {
//		handleOrder(body)
//	}))
package topicspec
