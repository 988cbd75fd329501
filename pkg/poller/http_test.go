package poller

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitechdev/TopicSpec/pkg/config"
	"github.com/bitechdev/TopicSpec/pkg/topicspec"
)

// the per-topic poller plugs straight into subscriptions
var _ topicspec.Poller = (*TopicPoller)(nil)

type collected struct {
	mu     sync.Mutex
	bodies []string
}

func (c *collected) add(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bodies = append(c.bodies, string(b))
}

func (c *collected) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.bodies...)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(config.PollerConfig{})
	assert.Error(t, err)

	_, err = New(config.PollerConfig{BaseURL: "://bad"})
	assert.Error(t, err)

	p, err := New(config.PollerConfig{BaseURL: "http://example.com/topics/"})
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/topics/a%2Fb", p.URL("a/b"))
	assert.Nil(t, p.limiter)
}

func TestHTTPPoller_StatusHandling(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantKeep  bool
		wantErr   bool
		delivered []string
	}{
		{name: "ok delivers", status: http.StatusOK, body: `{"id":1}`, wantKeep: true, delivered: []string{`{"id":1}`}},
		{name: "ok empty body", status: http.StatusOK, wantKeep: true},
		{name: "no content", status: http.StatusNoContent, wantKeep: true},
		{name: "not modified", status: http.StatusNotModified, wantKeep: true},
		{name: "not found", status: http.StatusNotFound, wantKeep: false},
		{name: "gone", status: http.StatusGone, wantKeep: false},
		{name: "server error", status: http.StatusInternalServerError, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/topics/orders", r.URL.Path)
				w.WriteHeader(tt.status)
				if tt.body != "" {
					_, _ = w.Write([]byte(tt.body))
				}
			}))
			defer srv.Close()

			p, err := New(config.PollerConfig{BaseURL: srv.URL + "/topics"})
			require.NoError(t, err)

			got := &collected{}
			keep, err := p.ForTopic("orders", got.add).Poll(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
				assert.False(t, keep)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKeep, keep)
			assert.Equal(t, tt.delivered, got.all())
		})
	}
}

func TestHTTPPoller_BodyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/object":
			_, _ = w.Write([]byte(`{"data":{"price":10},"meta":{}}`))
		case "/string":
			_, _ = w.Write([]byte(`{"data":"plain"}`))
		default:
			_, _ = w.Write([]byte(`{"meta":{}}`))
		}
	}))
	defer srv.Close()

	p, err := New(config.PollerConfig{BaseURL: srv.URL, BodyPath: "data"})
	require.NoError(t, err)

	got := &collected{}
	for _, topic := range []string{"object", "string", "missing"} {
		keep, err := p.Fetch(context.Background(), topic, got.add)
		require.NoError(t, err)
		assert.True(t, keep)
	}
	assert.Equal(t, []string{`{"price":10}`, "plain"}, got.all())
}

func TestHTTPPoller_ContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	p, err := New(config.PollerConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	keep, err := p.Fetch(ctx, "orders", nil)
	assert.Error(t, err)
	assert.False(t, keep)
}

func TestHTTPPoller_RateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p, err := New(config.PollerConfig{BaseURL: srv.URL, RateLimit: 1, Burst: 1})
	require.NoError(t, err)
	require.NotNil(t, p.limiter)

	keep, err := p.Fetch(context.Background(), "orders", nil)
	require.NoError(t, err)
	assert.True(t, keep)

	// the single token is spent; the next wait cannot finish before the deadline
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Fetch(ctx, "orders", nil)
	assert.Error(t, err)
}
