package topicspec

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitechdev/TopicSpec/pkg/transport"
)

func testSubscribeOptions(opts ...SubscribeOption) subscribeOptions {
	so := subscribeOptions{
		pollingInterval:  20 * time.Millisecond,
		fallbackInterval: 30 * time.Millisecond,
		pollTimeout:      time.Second,
	}
	for _, opt := range opts {
		opt(&so)
	}
	return so
}

func TestSubscription_UnboundWithoutConnection(t *testing.T) {
	client := newFakeClient()
	sub := newSubscription(client, "orders", testSubscribeOptions(), nil)

	assert.NotEmpty(t, sub.ID())
	assert.Equal(t, "orders", sub.TopicID())
	assert.False(t, sub.Bound())
	assert.Equal(t, 0, client.subscribeCount())
}

func TestSubscription_BindsWhenConnected(t *testing.T) {
	client := newFakeClient()
	require.NoError(t, client.Connect(context.Background(), nil, nil))

	sink := &bodies{}
	sub := newSubscription(client, "orders", testSubscribeOptions(WithMessageSink(sink)), nil)

	assert.True(t, sub.Bound())
	assert.Equal(t, []string{"/topic/orders"}, client.subscribes)

	client.publish("/topic/orders", []byte("a"))
	client.publish("/topic/orders", nil)
	assert.Equal(t, []string{"a"}, sink.all())
}

func TestSubscription_IDsAreUnique(t *testing.T) {
	a := newSubscription(nil, "orders", testSubscribeOptions(), nil)
	b := newSubscription(nil, "orders", testSubscribeOptions(), nil)
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestSubscription_BindAndSubscribeNoopWhenDisconnected(t *testing.T) {
	client := newFakeClient()
	sub := newSubscription(nil, "orders", testSubscribeOptions(), nil)

	require.NoError(t, sub.BindAndSubscribe(client))
	assert.False(t, sub.Bound())
	assert.Equal(t, 0, client.subscribeCount())
}

func TestSubscription_SetMessageSinkLastWriteWins(t *testing.T) {
	client := newFakeClient()
	require.NoError(t, client.Connect(context.Background(), nil, nil))
	sub := newSubscription(client, "orders", testSubscribeOptions(), nil)

	// no sink yet: dropped, not an error
	client.publish("/topic/orders", []byte("lost"))

	first, second := &bodies{}, &bodies{}
	sub.SetMessageSink(first)
	sub.SetMessageSink(second)
	client.publish("/topic/orders", []byte("b"))

	assert.Empty(t, first.all())
	assert.Equal(t, []string{"b"}, second.all())
}

func TestSubscription_RebindDropsStaleHandleMessages(t *testing.T) {
	client := newFakeClient()
	require.NoError(t, client.Connect(context.Background(), nil, nil))

	sink := &bodies{}
	sub := newSubscription(client, "orders", testSubscribeOptions(WithMessageSink(sink)), nil)
	stale := client.handleList()[0]

	require.NoError(t, sub.BindAndSubscribe(client))
	handles := client.handleList()
	require.Len(t, handles, 2)
	assert.Equal(t, 1, stale.unsubscribes)

	// a late message on the old handle must not reach the sink
	stale.handler(nil)
	stale.handler(&transport.Message{Body: []byte("old")})
	handles[1].handler(&transport.Message{Body: []byte("new")})

	assert.Equal(t, []string{"new"}, sink.all())
}

func TestSubscription_UnsubscribeExactlyOnce(t *testing.T) {
	client := newFakeClient()
	require.NoError(t, client.Connect(context.Background(), nil, nil))

	var calls counter
	var gotID atomic.Value
	sub := newSubscription(client, "orders", testSubscribeOptions(), func(id string) {
		calls.inc()
		gotID.Store(id)
	})

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())

	assert.Equal(t, 1, calls.get())
	assert.Equal(t, sub.ID(), gotID.Load())
	assert.False(t, sub.Bound())
	assert.Equal(t, 1, client.handleList()[0].unsubscribes)
}

func TestSubscription_UnsubscribeWhileDisconnectedStillNotifies(t *testing.T) {
	client := newFakeClient()
	require.NoError(t, client.Connect(context.Background(), nil, nil))

	var calls counter
	sub := newSubscription(client, "orders", testSubscribeOptions(), func(string) { calls.inc() })
	client.drop(errRefused)

	require.NoError(t, sub.Unsubscribe())
	assert.Equal(t, 1, calls.get())
	// transport was not told: the session is gone
	assert.Equal(t, 0, client.handleList()[0].unsubscribes)
}

func TestSubscription_PrimaryLoopFalseUnsubscribesOnce(t *testing.T) {
	var polls, unsubs counter
	poller := PollerFunc(func(ctx context.Context) (bool, error) {
		polls.inc()
		return false, nil
	})
	sub := newSubscription(newFakeClient(), "orders", testSubscribeOptions(WithPoller(poller)), func(string) { unsubs.inc() })

	sub.StartPolling()
	assert.Eventually(t, func() bool { return unsubs.get() == 1 }, time.Second, 5*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, polls.get())
	assert.Equal(t, 1, unsubs.get())
	assert.False(t, sub.Polling())
}

func TestSubscription_PrimaryLoopContinuesWhileTrue(t *testing.T) {
	var polls counter
	poller := PollerFunc(func(ctx context.Context) (bool, error) {
		polls.inc()
		return true, nil
	})
	sub := newSubscription(newFakeClient(), "orders", testSubscribeOptions(WithPoller(poller)), nil)
	defer sub.close()

	sub.StartPolling()
	sub.StartPolling()
	assert.Eventually(t, func() bool { return polls.get() >= 3 }, time.Second, 5*time.Millisecond)
	assert.True(t, sub.Polling())
}

func TestSubscription_PrimaryLoopWithoutPollerUnsubscribes(t *testing.T) {
	var unsubs counter
	sub := newSubscription(newFakeClient(), "orders", testSubscribeOptions(), func(string) { unsubs.inc() })

	sub.StartPolling()
	assert.Eventually(t, func() bool { return unsubs.get() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSubscription_PrimaryLoopStopsWhenConnected(t *testing.T) {
	client := newFakeClient()
	var polls, unsubs counter
	poller := PollerFunc(func(ctx context.Context) (bool, error) {
		polls.inc()
		return true, nil
	})
	sub := newSubscription(client, "orders",
		testSubscribeOptions(WithPoller(poller), WithFallbackPollingDelay(time.Hour)),
		func(string) { unsubs.inc() })

	sub.StartPolling()
	require.NoError(t, client.Connect(context.Background(), nil, nil))

	assert.Eventually(t, func() bool { return !sub.Polling() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, polls.get())
	assert.Equal(t, 0, unsubs.get())
}

func TestSubscription_PollErrorsAndPanicsCountAsFalse(t *testing.T) {
	tests := []struct {
		name   string
		poller PollerFunc
	}{
		{
			name: "error",
			poller: func(ctx context.Context) (bool, error) {
				return true, errors.New("upstream unavailable")
			},
		},
		{
			name: "panic",
			poller: func(ctx context.Context) (bool, error) {
				panic("boom")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var unsubs counter
			sub := newSubscription(newFakeClient(), "orders", testSubscribeOptions(WithPoller(tt.poller)), func(string) { unsubs.inc() })

			sub.StartPolling()
			assert.Eventually(t, func() bool { return unsubs.get() == 1 }, time.Second, 5*time.Millisecond)
		})
	}
}

func TestSubscription_PollHonorsTimeout(t *testing.T) {
	var unsubs counter
	poller := PollerFunc(func(ctx context.Context) (bool, error) {
		<-ctx.Done()
		return true, ctx.Err()
	})
	opts := testSubscribeOptions(WithPoller(poller))
	opts.pollTimeout = 10 * time.Millisecond
	sub := newSubscription(newFakeClient(), "orders", opts, func(string) { unsubs.inc() })

	sub.StartPolling()
	assert.Eventually(t, func() bool { return unsubs.get() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSubscription_FallbackLoopFalseUnsubscribes(t *testing.T) {
	client := newFakeClient()
	require.NoError(t, client.Connect(context.Background(), nil, nil))

	var polls, unsubs counter
	poller := PollerFunc(func(ctx context.Context) (bool, error) {
		polls.inc()
		return polls.get() < 2, nil
	})
	sub := newSubscription(client, "orders", testSubscribeOptions(WithPoller(poller)), func(string) { unsubs.inc() })
	assert.True(t, sub.FallbackPolling())

	assert.Eventually(t, func() bool { return unsubs.get() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 2, polls.get())
	assert.Equal(t, 1, client.handleList()[0].unsubscribes)
}

func TestSubscription_FallbackLoopNotArmedWithoutPoller(t *testing.T) {
	client := newFakeClient()
	require.NoError(t, client.Connect(context.Background(), nil, nil))

	var unsubs counter
	sub := newSubscription(client, "orders", testSubscribeOptions(), func(string) { unsubs.inc() })

	assert.False(t, sub.FallbackPolling())
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, unsubs.get())
	assert.True(t, sub.Bound())
}

func TestSubscription_FallbackLoopStopsWhenDisconnected(t *testing.T) {
	client := newFakeClient()
	require.NoError(t, client.Connect(context.Background(), nil, nil))

	var polls counter
	poller := PollerFunc(func(ctx context.Context) (bool, error) {
		polls.inc()
		return true, nil
	})
	sub := newSubscription(client, "orders", testSubscribeOptions(WithPoller(poller), WithPollingDelay(time.Hour)), nil)
	defer sub.close()

	client.drop(errRefused)
	assert.Eventually(t, func() bool { return !sub.FallbackPolling() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, polls.get())
}

func TestSubscription_CloseStopsLoopsWithoutNotifying(t *testing.T) {
	var polls, unsubs counter
	poller := PollerFunc(func(ctx context.Context) (bool, error) {
		polls.inc()
		return true, nil
	})
	sub := newSubscription(newFakeClient(), "orders", testSubscribeOptions(WithPoller(poller)), func(string) { unsubs.inc() })

	sub.StartPolling()
	sub.close()
	time.Sleep(80 * time.Millisecond)

	assert.Equal(t, 0, polls.get())
	assert.Equal(t, 0, unsubs.get())

	// a closed subscription cannot be revived
	sub.StartPolling()
	require.NoError(t, sub.Unsubscribe())
	assert.Equal(t, 0, unsubs.get())
}
