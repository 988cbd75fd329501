package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitechdev/TopicSpec/pkg/config"
	"github.com/bitechdev/TopicSpec/pkg/middleware"
	"github.com/bitechdev/TopicSpec/pkg/topicspec"
)

type staticSource struct {
	stats topicspec.Stats
	subs  []topicspec.SubscriptionInfo
}

func (s staticSource) Stats() topicspec.Stats                      { return s.stats }
func (s staticSource) Subscriptions() []topicspec.SubscriptionInfo { return s.subs }

func serve(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRouter_Health(t *testing.T) {
	tests := []struct {
		name   string
		state  topicspec.State
		status int
	}{
		{"connected", topicspec.StateConnected, http.StatusOK},
		{"idle", topicspec.StateIdle, http.StatusOK},
		{"broken", topicspec.StateBroken, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := staticSource{stats: topicspec.Stats{State: tt.state, StateName: tt.state.String(), Subscriptions: 2}}
			rec := serve(t, NewRouter(src, RouterOptions{}), "/healthz")

			assert.Equal(t, tt.status, rec.Code)
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.state.String(), body["status"])
			assert.EqualValues(t, 2, body["subscriptions"])
		})
	}
}

func TestRouter_StatsAndSubscriptions(t *testing.T) {
	src := staticSource{
		stats: topicspec.Stats{State: topicspec.StateConnected, StateName: "connected", Connected: true, Subscriptions: 1},
		subs:  []topicspec.SubscriptionInfo{{ID: "s1", TopicID: "orders", Bound: true}},
	}
	router := NewRouter(src, RouterOptions{
		MetricsPath: "/metrics",
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, "topicspec_active_subscriptions 1\n")
		}),
	})

	rec := serve(t, router, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats topicspec.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.True(t, stats.Connected)
	assert.Equal(t, "connected", stats.StateName)

	rec = serve(t, router, "/subscriptions")
	require.Equal(t, http.StatusOK, rec.Code)
	var subs []topicspec.SubscriptionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &subs))
	assert.Equal(t, src.subs, subs)

	rec = serve(t, router, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "topicspec_active_subscriptions 1")

	assert.Equal(t, http.StatusNotFound, serve(t, router, "/unknown").Code)
}

func TestRouter_RateLimited(t *testing.T) {
	router := NewRouter(staticSource{}, RouterOptions{RateLimiter: middleware.NewRateLimiter(1, 1)})

	assert.Equal(t, http.StatusOK, serve(t, router, "/stats").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(t, router, "/stats").Code)
}

func TestGracefulServer_TrackRequests(t *testing.T) {
	gs := NewGracefulServer(config.ServerConfig{Addr: "127.0.0.1:0"}, nil)
	release := make(chan struct{})
	handler := gs.TrackRequestsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			serve(t, handler, "/stats")
		}()
	}

	assert.Eventually(t, func() bool { return gs.InFlightRequests() == 3 }, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, int64(0), gs.InFlightRequests())

	gs.isShuttingDown.Store(true)
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, handler, "/stats").Code)
}

func TestGracefulServer_StartAndShutdown(t *testing.T) {
	src := staticSource{stats: topicspec.Stats{StateName: "idle"}}
	gs := NewGracefulServer(config.ServerConfig{Addr: "127.0.0.1:0", ShutdownTimeout: time.Second}, NewRouter(src, RouterOptions{}))

	errs, err := gs.Start()
	require.NoError(t, err)

	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", gs.Addr()))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, gs.Shutdown(context.Background()))
	require.NoError(t, gs.Shutdown(context.Background()))
	assert.True(t, gs.IsShuttingDown())
	gs.Wait()

	_, open := <-errs
	assert.False(t, open)
}
