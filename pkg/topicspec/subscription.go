package topicspec

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bitechdev/TopicSpec/pkg/logger"
	"github.com/bitechdev/TopicSpec/pkg/metrics"
	"github.com/bitechdev/TopicSpec/pkg/tracing"
	"github.com/bitechdev/TopicSpec/pkg/transport"
)

// Poll loop names used in logs, spans and metrics
const (
	loopPrimary  = "primary"
	loopFallback = "fallback"
)

// Subscription is one caller's binding to one topic. It delivers messages
// from the shared connection while bound, and polls through its Poller
// while the connection is unusable.
type Subscription struct {
	id      string
	topicID string
	opts    subscribeOptions

	// onUnsubscribed is called exactly once, from Unsubscribe
	onUnsubscribed func(id string)

	mu        sync.Mutex
	client    transport.Client
	handle    transport.Handle
	handleGen uint64
	sink      MessageSink

	// closed stops both loops and message delivery
	closed       bool
	unsubscribed bool

	primaryGen     uint64
	primaryActive  bool
	primaryTimer   *time.Timer
	fallbackGen    uint64
	fallbackTimer  *time.Timer
	fallbackActive bool
}

func newSubscription(client transport.Client, topicID string, opts subscribeOptions, onUnsubscribed func(id string)) *Subscription {
	s := &Subscription{
		id:             uuid.NewString(),
		topicID:        topicID,
		opts:           opts,
		onUnsubscribed: onUnsubscribed,
		sink:           opts.sink,
	}
	if isConnected(client) {
		if err := s.BindAndSubscribe(client); err != nil {
			logger.Error("[TopicSpec] Initial subscribe for topic %s failed: %v", topicID, err)
		}
	} else {
		s.client = client
	}
	return s
}

// ID returns the subscription identifier
func (s *Subscription) ID() string {
	return s.id
}

// TopicID returns the subscribed topic
func (s *Subscription) TopicID() string {
	return s.topicID
}

// Bound reports whether the subscription holds a live transport handle
func (s *Subscription) Bound() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle != nil && !s.closed
}

// Polling reports whether the primary poll loop is running
func (s *Subscription) Polling() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.primaryActive
}

// FallbackPolling reports whether the fallback poll loop is armed
func (s *Subscription) FallbackPolling() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fallbackActive
}

// SetMessageSink replaces the delivery callback
func (s *Subscription) SetMessageSink(sink MessageSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// BindAndSubscribe binds the subscription to client and, when client is
// connected, subscribes to the topic destination and arms the fallback
// loop. Any previous handle is released and its late messages dropped.
func (s *Subscription) BindAndSubscribe(client transport.Client) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.client = client
	if !isConnected(client) {
		s.mu.Unlock()
		return nil
	}
	old := s.handle
	s.handle = nil
	s.handleGen++
	gen := s.handleGen
	s.mu.Unlock()

	if old != nil {
		if err := old.Unsubscribe(); err != nil {
			logger.Debug("[TopicSpec] Releasing stale handle for topic %s: %v", s.topicID, err)
		}
	}

	handle, err := client.Subscribe(transport.TopicDestination(s.topicID), func(msg *transport.Message) {
		s.deliver(gen, msg)
	})
	if err != nil {
		return fmt.Errorf("subscribe to topic %s: %w", s.topicID, err)
	}

	s.mu.Lock()
	if s.closed || s.handleGen != gen {
		s.mu.Unlock()
		_ = handle.Unsubscribe()
		return nil
	}
	s.handle = handle
	s.stopPrimaryLocked()
	s.startFallbackLocked()
	s.mu.Unlock()

	logger.With("subscription", s.id, "topic", s.topicID).Debug("[TopicSpec] Bound")
	return nil
}

// resubscribe repeats the subscribe on the currently bound client
func (s *Subscription) resubscribe() error {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	return s.BindAndSubscribe(client)
}

// deliver hands msg to the sink if it arrived on the current handle
func (s *Subscription) deliver(gen uint64, msg *transport.Message) {
	s.mu.Lock()
	stale := s.closed || gen != s.handleGen
	sink := s.sink
	s.mu.Unlock()

	switch {
	case stale:
		metrics.GetProvider().RecordMessageDropped("stale_handle")
	case msg == nil || len(msg.Body) == 0:
		metrics.GetProvider().RecordMessageDropped("empty_body")
	case sink == nil:
		metrics.GetProvider().RecordMessageDropped("no_sink")
	default:
		sink.OnMessage(msg.Body)
		metrics.GetProvider().RecordMessageDelivered()
	}
}

// Unsubscribe releases the live handle when connected and reports the
// removal to the owner. Only the first call has an effect.
func (s *Subscription) Unsubscribe() error {
	s.mu.Lock()
	if s.unsubscribed {
		s.mu.Unlock()
		return nil
	}
	s.unsubscribed = true
	handle, client := s.detachLocked()
	s.mu.Unlock()

	var err error
	if handle != nil && isConnected(client) {
		err = handle.Unsubscribe()
		if err != nil {
			logger.Warn("[TopicSpec] Transport unsubscribe for topic %s failed: %v", s.topicID, err)
		}
	}

	if s.onUnsubscribed != nil {
		s.onUnsubscribed(s.id)
	}
	return err
}

// close detaches the subscription without notifying the owner. Used when the
// owner clears all subscriptions at once.
func (s *Subscription) close() {
	s.mu.Lock()
	if s.unsubscribed {
		s.mu.Unlock()
		return
	}
	s.unsubscribed = true
	handle, client := s.detachLocked()
	s.mu.Unlock()

	if handle != nil && isConnected(client) {
		if err := handle.Unsubscribe(); err != nil {
			logger.Warn("[TopicSpec] Transport unsubscribe for topic %s failed: %v", s.topicID, err)
		}
	}
}

func (s *Subscription) detachLocked() (transport.Handle, transport.Client) {
	s.closed = true
	handle := s.handle
	s.handle = nil
	s.handleGen++
	s.primaryGen++
	s.primaryActive = false
	s.fallbackGen++
	s.fallbackActive = false
	if s.primaryTimer != nil {
		s.primaryTimer.Stop()
	}
	if s.fallbackTimer != nil {
		s.fallbackTimer.Stop()
	}
	return handle, s.client
}

// StartPolling starts the primary poll loop. It is a no-op while the loop is
// already running.
func (s *Subscription) StartPolling() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.primaryActive {
		return
	}
	s.primaryGen++
	s.primaryActive = true
	s.schedulePrimaryLocked(s.primaryGen)
}

// stopPrimaryLocked ends the primary loop once the topic is live again
func (s *Subscription) stopPrimaryLocked() {
	if !s.primaryActive {
		return
	}
	s.primaryGen++
	s.primaryActive = false
	if s.primaryTimer != nil {
		s.primaryTimer.Stop()
	}
}

func (s *Subscription) schedulePrimaryLocked(gen uint64) {
	s.primaryTimer = time.AfterFunc(s.opts.pollingInterval, func() {
		s.primaryTick(gen)
	})
}

func (s *Subscription) primaryTick(gen uint64) {
	s.mu.Lock()
	if s.closed || gen != s.primaryGen {
		s.mu.Unlock()
		return
	}
	client, poller := s.client, s.opts.poller
	s.mu.Unlock()

	if isConnected(client) {
		s.mu.Lock()
		if gen == s.primaryGen {
			s.primaryActive = false
		}
		s.mu.Unlock()
		return
	}

	keep := false
	if poller != nil {
		keep = s.poll(poller, loopPrimary)
	}
	if !keep {
		logger.Info("[TopicSpec] Primary polling stopped for topic %s, unsubscribing", s.topicID)
		_ = s.Unsubscribe()
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.primaryGen {
		return
	}
	s.schedulePrimaryLocked(gen)
}

// startFallbackLocked arms the fallback loop, replacing any running chain.
// Without a poller there is nothing to probe and the loop is not armed.
func (s *Subscription) startFallbackLocked() {
	if s.closed || s.opts.poller == nil {
		return
	}
	if s.fallbackTimer != nil {
		s.fallbackTimer.Stop()
	}
	s.fallbackGen++
	s.fallbackActive = true
	s.scheduleFallbackLocked(s.fallbackGen)
}

func (s *Subscription) scheduleFallbackLocked(gen uint64) {
	s.fallbackTimer = time.AfterFunc(s.opts.fallbackInterval, func() {
		s.fallbackTick(gen)
	})
}

func (s *Subscription) fallbackTick(gen uint64) {
	s.mu.Lock()
	if s.closed || gen != s.fallbackGen {
		s.mu.Unlock()
		return
	}
	client, handle, poller := s.client, s.handle, s.opts.poller
	if !isConnected(client) || handle == nil {
		// re-armed by the next bind
		s.fallbackActive = false
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if !s.poll(poller, loopFallback) {
		logger.Info("[TopicSpec] Fallback polling stopped for topic %s, unsubscribing", s.topicID)
		_ = s.Unsubscribe()
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.fallbackGen {
		return
	}
	s.scheduleFallbackLocked(gen)
}

// poll runs one probe. Errors and panics count as "stop".
func (s *Subscription) poll(p Poller, loop string) (keep bool) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.pollTimeout)
	defer cancel()

	ctx, span := tracing.StartSpan(ctx, "topicspec.poll",
		tracing.TopicKey.String(s.topicID),
		tracing.SubIDKey.String(s.id),
		tracing.LoopKey.String(loop),
	)

	var err error
	defer func() {
		tracing.EndSpan(span, err)
		result := "stop"
		if keep {
			result = "continue"
		}
		metrics.GetProvider().RecordPoll(loop, result)
	}()
	defer logger.CatchPanicCallback("Subscription.poll", func(r any) {
		keep = false
		err = fmt.Errorf("poller panic: %v", r)
	})

	keep, err = p.Poll(ctx)
	if err != nil {
		logger.Warn("[TopicSpec] %s poll for topic %s failed: %v", loop, s.topicID, err)
		keep = false
	}
	return keep
}

func isConnected(client transport.Client) bool {
	return client != nil && client.IsConnected()
}
