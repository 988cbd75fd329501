package topicspec

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bitechdev/TopicSpec/pkg/logger"
	"github.com/bitechdev/TopicSpec/pkg/metrics"
	"github.com/bitechdev/TopicSpec/pkg/tracing"
	"github.com/bitechdev/TopicSpec/pkg/transport"
)

// Manager owns the shared connection and the subscriptions multiplexed on
// it.
//
// All state below mu is changed only with mu held. Blocking transport calls
// (connect, disconnect, send) run on their own goroutines and report back
// through the handle* methods. Subscribe and unsubscribe calls on the
// transport, hooks and other caller code run after mu is released. Lock order is Manager.mu, then Registry.mu, then
// Subscription.mu.
type Manager struct {
	client               transport.Client
	maxReconnectAttempts int
	reconnectDelay       time.Duration
	connectTimeout       time.Duration
	sendTarget           string
	connectHeaders       map[string]string
	defaults             subscribeOptions

	mu                   sync.Mutex
	registry             *Registry
	phase                State
	hasConnectedBefore   bool
	connectionBroken     bool
	forcedDisconnect     bool
	reconnectAttempts    int
	attemptInFlight      bool
	generation           uint64
	retryTimer           *time.Timer
	waiters              []*waiter
	// transportDone is closed once the last connect attempt or disconnect
	// has returned. The next attempt waits for it.
	transportDone        chan struct{}
	disconnectHook       DisconnectHook
	beforeDisconnectHook BeforeDisconnectHook
	closed               bool

	// pending holds calls deferred until mu is released
	pending []func()
}

// Stats is a point-in-time view of the manager
type Stats struct {
	State                State  `json:"state"`
	StateName            string `json:"state_name"`
	Connected            bool   `json:"connected"`
	HasConnectedBefore   bool   `json:"has_connected_before"`
	ReconnectAttempts    int    `json:"reconnect_attempts"`
	MaxReconnectAttempts int    `json:"max_reconnect_attempts"`
	Subscriptions        int    `json:"subscriptions"`
	PendingWaiters       int    `json:"pending_waiters"`
}

// SubscriptionInfo describes one registered subscription
type SubscriptionInfo struct {
	ID       string `json:"id"`
	TopicID  string `json:"topic_id"`
	Bound    bool   `json:"bound"`
	Polling  bool   `json:"polling"`
	Fallback bool   `json:"fallback_polling"`
}

// waiter is a one-shot signal for callers blocked on the first connect
type waiter struct {
	done chan struct{}
	once sync.Once
}

func newWaiter() *waiter {
	return &waiter{done: make(chan struct{})}
}

func (w *waiter) release() {
	w.once.Do(func() { close(w.done) })
}

// NewManager creates a manager for client. Nothing is dialed until the
// first Subscribe.
func NewManager(client transport.Client, opts ...Option) (*Manager, error) {
	if client == nil {
		return nil, ErrNilClient
	}

	m := &Manager{
		client:               client,
		maxReconnectAttempts: DefaultMaxReconnectAttempts,
		reconnectDelay:       DefaultReconnectDelay,
		connectTimeout:       DefaultConnectTimeout,
		defaults:             defaultSubscribeOptions(),
		registry:             NewRegistry(),
		phase:                StateIdle,
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, fmt.Errorf("invalid option: %w", err)
		}
	}

	metrics.GetProvider().SetConnectionState(m.phase.String())
	metrics.GetProvider().SetActiveSubscriptions(0)
	return m, nil
}

// unlock releases mu and runs the calls queued while it was held
func (m *Manager) unlock() {
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, fn := range pending {
		fn()
	}
}

func (m *Manager) setPhaseLocked(phase State) {
	if m.phase != phase {
		logger.Debug("[TopicSpec] Connection state %s -> %s", m.phase, phase)
	}
	m.phase = phase
	metrics.GetProvider().SetConnectionState(phase.String())
}

// Subscribe registers a subscription to topicID. When no connection has
// succeeded yet in the current cycle, it opens one if needed and blocks
// until the first attempt succeeds or is given up. A permanent connect
// failure is not an error: the subscription is returned and keeps polling.
// An error is returned only for an empty topic, a closed manager or when ctx
// ends first, in which case the subscription is removed again.
func (m *Manager) Subscribe(ctx context.Context, topicID string, opts ...SubscribeOption) (*Subscription, error) {
	if topicID == "" {
		return nil, ErrEmptyTopic
	}

	so := m.defaults
	for _, opt := range opts {
		opt(&so)
	}

	m.mu.Lock()
	if m.closed {
		m.unlock()
		return nil, ErrManagerClosed
	}

	sub := newSubscription(nil, topicID, so, m.onUnsubscribed)
	sub.client = m.client
	m.registry.Add(sub)
	metrics.GetProvider().SetActiveSubscriptions(m.registry.Len())
	logger.With("subscription", sub.ID(), "topic", topicID).Infof("[TopicSpec] Subscribed (state %s)", m.phase)

	if m.phase == StateConnected {
		m.unlock()
		m.bindLive(sub)
		return sub, nil
	}

	sub.StartPolling()

	if m.phase == StateIdle || m.phase == StateBroken {
		m.startCycleLocked()
	}

	var w *waiter
	if !m.hasConnectedBefore {
		w = newWaiter()
		m.waiters = append(m.waiters, w)
	}
	m.unlock()

	if w == nil {
		return sub, nil
	}

	select {
	case <-w.done:
		return sub, nil
	case <-ctx.Done():
		m.mu.Lock()
		m.removeWaiterLocked(w)
		m.unlock()
		_ = sub.Unsubscribe()
		return nil, ctx.Err()
	}
}

// bindLive subscribes sub on the open session. A subscription the session
// did not take polls until the next bind.
func (m *Manager) bindLive(sub *Subscription) {
	if err := sub.BindAndSubscribe(m.client); err != nil {
		logger.Error("[TopicSpec] Subscribe of %s on the open session failed: %v", sub.ID(), err)
	}
	if !sub.Bound() {
		sub.StartPolling()
	}
}

// Unsubscribe removes the subscription with id. Unknown ids are ignored.
func (m *Manager) Unsubscribe(id string) error {
	m.mu.Lock()
	sub := m.registry.Get(id)
	m.unlock()

	if sub == nil {
		return nil
	}
	return sub.Unsubscribe()
}

// UnsubscribeAll removes every subscription and disconnects
func (m *Manager) UnsubscribeAll() {
	m.mu.Lock()
	defer m.unlock()

	if m.registry.IsEmpty() {
		return
	}
	subs, lastTopic := m.registry.clear()
	m.pending = append(m.pending, func() { closeAll(subs) })
	metrics.GetProvider().SetActiveSubscriptions(0)
	logger.Info("[TopicSpec] All subscriptions removed")
	m.teardownLocked(lastTopic)
}

// OnMessage sets the delivery callback of sub. Last write wins.
func (m *Manager) OnMessage(sub *Subscription, sink MessageSink) {
	if sub == nil {
		return
	}
	sub.SetMessageSink(sink)
}

// OnDisconnect sets the hook notified when the connection is given up
func (m *Manager) OnDisconnect(hook DisconnectHook) {
	m.mu.Lock()
	defer m.unlock()
	m.disconnectHook = hook
}

// OnBeforeDisconnect sets the hook whose result is sent to the send target
// before a clean disconnect
func (m *Manager) OnBeforeDisconnect(hook BeforeDisconnectHook) {
	m.mu.Lock()
	defer m.unlock()
	m.beforeDisconnectHook = hook
}

// State returns the connection phase
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.unlock()
	return m.phase
}

// ReconnectAttempts returns the consecutive failed attempt counter
func (m *Manager) ReconnectAttempts() int {
	m.mu.Lock()
	defer m.unlock()
	return m.reconnectAttempts
}

// Stats returns a snapshot of the connection state
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.unlock()
	return Stats{
		State:                m.phase,
		StateName:            m.phase.String(),
		Connected:            m.phase == StateConnected && m.client.IsConnected(),
		HasConnectedBefore:   m.hasConnectedBefore,
		ReconnectAttempts:    m.reconnectAttempts,
		MaxReconnectAttempts: m.maxReconnectAttempts,
		Subscriptions:        m.registry.Len(),
		PendingWaiters:       len(m.waiters),
	}
}

// Subscriptions describes every registered subscription
func (m *Manager) Subscriptions() []SubscriptionInfo {
	m.mu.Lock()
	defer m.unlock()

	infos := make([]SubscriptionInfo, 0, m.registry.Len())
	m.registry.ForEach(func(sub *Subscription) {
		infos = append(infos, SubscriptionInfo{
			ID:       sub.ID(),
			TopicID:  sub.TopicID(),
			Bound:    sub.Bound(),
			Polling:  sub.Polling(),
			Fallback: sub.FallbackPolling(),
		})
	})
	return infos
}

// Close removes every subscription without notifying hooks, cancels pending
// retries and disconnects. Subscribe fails with ErrManagerClosed afterwards.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.unlock()
		return nil
	}
	m.closed = true
	subs, _ := m.registry.clear()
	metrics.GetProvider().SetActiveSubscriptions(0)
	m.generation++
	m.stopRetryLocked()
	m.releaseWaitersLocked()
	m.forcedDisconnect = true
	m.setPhaseLocked(StateIdle)
	prev := m.transportDone
	m.unlock()

	closeAll(subs)

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	logger.Info("[TopicSpec] Manager closed")
	if !m.client.IsConnected() {
		return nil
	}
	if err := m.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}

// onUnsubscribed removes id from the registry and tears the connection down
// when it was the last entry
func (m *Manager) onUnsubscribed(id string) {
	m.mu.Lock()
	defer m.unlock()

	sub := m.registry.Get(id)
	if sub == nil {
		return
	}
	m.registry.Remove(id)
	metrics.GetProvider().SetActiveSubscriptions(m.registry.Len())
	logger.With("subscription", id, "topic", sub.TopicID()).Info("[TopicSpec] Unsubscribed")

	if m.registry.IsEmpty() {
		m.teardownLocked(sub.TopicID())
	}
}

// startCycleLocked begins a fresh connection cycle from Idle or Broken
func (m *Manager) startCycleLocked() {
	m.generation++
	m.reconnectAttempts = 0
	m.hasConnectedBefore = false
	m.connectionBroken = false
	m.forcedDisconnect = false
	metrics.GetProvider().SetReconnectAttempts(0)
	m.setPhaseLocked(StateConnecting)
	m.attemptLocked()
}

// attemptLocked launches one connect attempt for the current generation. It
// starts only after the previous attempt or disconnect has returned, so
// Connect never runs twice at once on the client.
func (m *Manager) attemptLocked() {
	gen := m.generation
	attempt := m.reconnectAttempts + 1
	prev := m.transportDone
	done := make(chan struct{})
	m.transportDone = done
	m.attemptInFlight = true

	go m.connect(gen, attempt, prev, done)
}

func (m *Manager) connect(gen uint64, attempt int, prev <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	if prev != nil {
		<-prev
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.connectTimeout)
	defer cancel()
	ctx, span := tracing.StartSpan(ctx, "topicspec.connect", tracing.AttemptKey.Int(attempt))

	logger.Debug("[TopicSpec] Connect attempt %d", attempt)
	err := m.client.Connect(ctx, m.connectHeaders, func(closeErr error) {
		m.handleClose(gen, closeErr)
	})
	tracing.EndSpan(span, err)

	if err != nil {
		metrics.GetProvider().RecordConnectAttempt("failure")
		m.handleConnectError(gen, err)
		return
	}
	metrics.GetProvider().RecordConnectAttempt("success")
	m.handleConnected(gen)
}

func (m *Manager) handleConnected(gen uint64) {
	m.mu.Lock()
	defer m.unlock()

	if gen != m.generation || m.closed {
		// the cycle ended while dialing
		m.pending = append(m.pending, m.disconnectStale)
		return
	}

	m.attemptInFlight = false
	recovery := m.hasConnectedBefore && m.connectionBroken
	m.setPhaseLocked(StateConnected)

	if recovery {
		logger.Info("[TopicSpec] Connection recovered after %d attempt(s), resubscribing %d subscription(s)",
			m.reconnectAttempts, m.registry.Len())
		m.pending = append(m.pending, m.registry.ResubscribeAllAfterBreak)
	} else {
		logger.Info("[TopicSpec] Connected, binding %d subscription(s)", m.registry.Len())
		// waiters wake only once their subscriptions are bound
		waiters, client := m.takeWaitersLocked(), m.client
		m.pending = append(m.pending, func() {
			m.registry.RebindAll(client)
			releaseAll(waiters)
		})
	}

	m.connectionBroken = false
	m.reconnectAttempts = 0
	m.hasConnectedBefore = true
	metrics.GetProvider().SetReconnectAttempts(0)

	if m.registry.IsEmpty() {
		m.teardownLocked("")
	}
}

func (m *Manager) disconnectStale() {
	ctx, cancel := context.WithTimeout(context.Background(), m.connectTimeout)
	defer cancel()
	if err := m.client.Disconnect(ctx); err != nil {
		logger.Warn("[TopicSpec] Disconnecting stale session: %v", err)
	}
}

func (m *Manager) handleConnectError(gen uint64, err error) {
	m.mu.Lock()
	defer m.unlock()

	if gen != m.generation || m.closed {
		return
	}
	m.attemptInFlight = false

	if m.hasConnectedBefore {
		logger.Warn("[TopicSpec] Reconnect attempt failed: %v", err)
		m.connectionLostLocked()
		return
	}

	m.reconnectAttempts++
	metrics.GetProvider().SetReconnectAttempts(m.reconnectAttempts)
	if m.reconnectAttempts < m.maxReconnectAttempts {
		logger.Warn("[TopicSpec] Connect attempt %d/%d failed: %v", m.reconnectAttempts, m.maxReconnectAttempts, err)
		m.scheduleRetryLocked()
		return
	}

	logger.Error("[TopicSpec] Giving up after %d connect attempt(s): %v", m.reconnectAttempts, err)
	m.generation++
	m.setPhaseLocked(StateBroken)
	m.releaseWaitersLocked()
	m.notifyDisconnectLocked()
}

func (m *Manager) handleClose(gen uint64, err error) {
	m.mu.Lock()
	defer m.unlock()

	if gen != m.generation || m.forcedDisconnect {
		// our own teardown, or a session from a finished cycle
		m.forcedDisconnect = false
		return
	}
	if m.closed || !m.hasConnectedBefore {
		return
	}

	logger.Warn("[TopicSpec] Connection lost: %v", err)
	m.connectionLostLocked()
}

// connectionLostLocked degrades every subscription to polling and either
// schedules a retry or gives up
func (m *Manager) connectionLostLocked() {
	m.connectionBroken = true
	m.setPhaseLocked(StateConnecting)
	m.registry.StartPollingAll()

	m.reconnectAttempts++
	metrics.GetProvider().SetReconnectAttempts(m.reconnectAttempts)
	if m.reconnectAttempts < m.maxReconnectAttempts {
		logger.Info("[TopicSpec] Reconnecting in %s (attempt %d/%d)",
			m.reconnectDelay, m.reconnectAttempts+1, m.maxReconnectAttempts)
		m.scheduleRetryLocked()
		return
	}

	logger.Error("[TopicSpec] Reconnect attempts exhausted, dropping %d subscription(s)", m.registry.Len())
	m.generation++
	m.stopRetryLocked()
	subs, _ := m.registry.clear()
	m.pending = append(m.pending, func() { closeAll(subs) })
	metrics.GetProvider().SetActiveSubscriptions(0)
	m.setPhaseLocked(StateBroken)
	m.releaseWaitersLocked()
	m.notifyDisconnectLocked()
}

func (m *Manager) scheduleRetryLocked() {
	gen := m.generation
	m.stopRetryLocked()
	m.retryTimer = time.AfterFunc(m.reconnectDelay, func() {
		m.mu.Lock()
		defer m.unlock()
		if gen != m.generation || m.closed || m.attemptInFlight {
			return
		}
		m.attemptLocked()
	})
}

func (m *Manager) stopRetryLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

// teardownLocked ends the current cycle once the registry is empty
func (m *Manager) teardownLocked(lastTopic string) {
	switch m.phase {
	case StateConnected:
		m.generation++
		m.stopRetryLocked()
		m.forcedDisconnect = true
		m.setPhaseLocked(StateIdle)

		done := make(chan struct{})
		m.transportDone = done
		before, target, hook := m.beforeDisconnectHook, m.sendTarget, m.disconnectHook

		logger.Info("[TopicSpec] No subscriptions left, disconnecting")
		// queued behind any handle releases already pending
		m.pending = append(m.pending, func() {
			go func() {
				defer close(done)
				m.disconnect(lastTopic, before, target, hook)
			}()
		})

	case StateConnecting:
		// the attempt in flight is left to return on its own; transportDone
		// holds the next cycle's Connect until it has
		m.generation++
		m.stopRetryLocked()
		m.attemptInFlight = false
		m.setPhaseLocked(StateIdle)
		m.releaseWaitersLocked()
		logger.Info("[TopicSpec] No subscriptions left, connect cycle cancelled")
	}
}

// disconnect sends the farewell message, closes the session and notifies the
// disconnect hook
func (m *Manager) disconnect(lastTopic string, before BeforeDisconnectHook, target string, hook DisconnectHook) {
	if before != nil && target != "" {
		body := before.BeforeDisconnect(lastTopic)
		if err := m.client.Send(target, nil, body); err != nil {
			logger.Warn("[TopicSpec] Sending before-disconnect message to %s failed: %v", target, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.connectTimeout)
	defer cancel()
	if err := m.client.Disconnect(ctx); err != nil {
		logger.Warn("[TopicSpec] Disconnect failed: %v", err)
	}

	if hook != nil {
		hook.OnDisconnect()
	}
}

func (m *Manager) notifyDisconnectLocked() {
	if hook := m.disconnectHook; hook != nil {
		m.pending = append(m.pending, hook.OnDisconnect)
	}
}

func (m *Manager) releaseWaitersLocked() {
	releaseAll(m.takeWaitersLocked())
}

func (m *Manager) takeWaitersLocked() []*waiter {
	waiters := m.waiters
	m.waiters = nil
	return waiters
}

func releaseAll(waiters []*waiter) {
	for _, w := range waiters {
		w.release()
	}
}

func (m *Manager) removeWaiterLocked(target *waiter) {
	for i, w := range m.waiters {
		if w == target {
			m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
			return
		}
	}
}
