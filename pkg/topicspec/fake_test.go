package topicspec

import (
	"context"
	"errors"
	"sync"

	"github.com/bitechdev/TopicSpec/pkg/transport"
)

var errRefused = errors.New("connection refused")

// fakeClient is a scripted transport.Client. Each Connect consumes the next
// scripted result; once the script runs out fallback is returned.
type fakeClient struct {
	mu sync.Mutex

	script   []error
	fallback error
	gate     chan struct{}

	connected    bool
	onClose      func(error)
	connectCalls int
	disconnects  int
	headers      map[string]string

	// inConnect counts Connect calls running now; maxInConnect is its peak
	inConnect    int
	maxInConnect int
	// onSubscribe runs inside every Subscribe call
	onSubscribe func()

	nextID     int
	handles    []*fakeHandle
	subscribes []string
	sent       []fakeSend
}

type fakeSend struct {
	destination string
	body        []byte
}

type fakeHandle struct {
	client       *fakeClient
	destination  string
	handler      transport.MessageHandler
	active       bool
	unsubscribes int
}

func newFakeClient(script ...error) *fakeClient {
	return &fakeClient{script: script}
}

func (f *fakeClient) Connect(ctx context.Context, headers map[string]string, onClose func(error)) error {
	f.mu.Lock()
	gate := f.gate
	f.inConnect++
	if f.inConnect > f.maxInConnect {
		f.maxInConnect = f.inConnect
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inConnect--
		f.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.connectCalls++
	f.headers = headers
	if f.connected {
		return transport.ErrAlreadyConnected
	}

	err := f.fallback
	if len(f.script) > 0 {
		err = f.script[0]
		f.script = f.script[1:]
	}
	if err != nil {
		return err
	}

	f.connected = true
	f.onClose = transport.CloseOnce(onClose)
	return nil
}

func (f *fakeClient) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return nil
	}
	f.connected = false
	f.disconnects++
	onClose := f.onClose
	f.onClose = nil
	f.deactivateLocked()
	f.mu.Unlock()

	onClose(nil)
	return nil
}

// drop simulates the broker ending the session
func (f *fakeClient) drop(err error) {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return
	}
	f.connected = false
	onClose := f.onClose
	f.onClose = nil
	f.deactivateLocked()
	f.mu.Unlock()

	onClose(err)
}

func (f *fakeClient) deactivateLocked() {
	for _, h := range f.handles {
		h.active = false
	}
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) Subscribe(destination string, handler transport.MessageHandler) (transport.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.onSubscribe != nil {
		f.onSubscribe()
	}
	if !f.connected {
		return nil, transport.ErrNotConnected
	}
	h := &fakeHandle{client: f, destination: destination, handler: handler, active: true}
	f.handles = append(f.handles, h)
	f.subscribes = append(f.subscribes, destination)
	return h, nil
}

func (f *fakeClient) Send(destination string, headers map[string]string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.connected {
		return transport.ErrNotConnected
	}
	f.sent = append(f.sent, fakeSend{destination: destination, body: body})
	return nil
}

func (h *fakeHandle) Unsubscribe() error {
	h.client.mu.Lock()
	defer h.client.mu.Unlock()
	h.unsubscribes++
	h.active = false
	return nil
}

// publish delivers body to every active handle on destination
func (f *fakeClient) publish(destination string, body []byte) int {
	f.mu.Lock()
	var targets []*fakeHandle
	for _, h := range f.handles {
		if h.active && h.destination == destination {
			targets = append(targets, h)
		}
	}
	f.mu.Unlock()

	for _, h := range targets {
		h.handler(&transport.Message{Destination: destination, Body: body})
	}
	return len(targets)
}

func (f *fakeClient) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls
}

func (f *fakeClient) peakConcurrentConnects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInConnect
}

func (f *fakeClient) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

func (f *fakeClient) subscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribes)
}

func (f *fakeClient) handleList() []*fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeHandle(nil), f.handles...)
}

func (f *fakeClient) sentMessages() []fakeSend {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fakeSend(nil), f.sent...)
}

func (f *fakeClient) setFallback(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fallback = err
}

// counter is a goroutine safe call counter
type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) inc() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
}

func (c *counter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// bodies collects delivered message bodies
type bodies struct {
	mu   sync.Mutex
	list []string
}

func (b *bodies) OnMessage(body []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.list = append(b.list, string(body))
}

func (b *bodies) all() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.list...)
}

// scriptNext queues results for the following Connect calls
func (f *fakeClient) scriptNext(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = append(f.script, errs...)
}
