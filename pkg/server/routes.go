package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/bitechdev/TopicSpec/pkg/logger"
	"github.com/bitechdev/TopicSpec/pkg/middleware"
	"github.com/bitechdev/TopicSpec/pkg/topicspec"
	"github.com/bitechdev/TopicSpec/pkg/tracing"
)

// StatusSource is the view of the subscription manager the routes expose
type StatusSource interface {
	Stats() topicspec.Stats
	Subscriptions() []topicspec.SubscriptionInfo
}

// RouterOptions configures NewRouter
type RouterOptions struct {
	// MetricsPath is where Metrics is mounted; "" disables it
	MetricsPath string
	Metrics     http.Handler
	// RateLimiter is applied to every route when set
	RateLimiter *middleware.RateLimiter
}

// NewRouter builds the status routes:
//
//	GET /healthz        liveness, 503 while the connection is broken
//	GET /stats          manager snapshot
//	GET /subscriptions  registered subscriptions
//	GET <MetricsPath>   metrics exposition
func NewRouter(source StatusSource, opts RouterOptions) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.PanicRecovery)
	r.Use(tracing.Middleware)
	if opts.RateLimiter != nil {
		r.Use(opts.RateLimiter.Middleware)
	}

	r.HandleFunc("/healthz", healthHandler(source)).Methods(http.MethodGet)
	r.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, source.Stats())
	}).Methods(http.MethodGet)
	r.HandleFunc("/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, source.Subscriptions())
	}).Methods(http.MethodGet)

	if opts.MetricsPath != "" && opts.Metrics != nil {
		r.Handle(opts.MetricsPath, opts.Metrics).Methods(http.MethodGet)
	}
	return r
}

func healthHandler(source StatusSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := source.Stats()
		status := http.StatusOK
		if stats.State == topicspec.StateBroken {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]interface{}{
			"status":        stats.StateName,
			"subscriptions": stats.Subscriptions,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("[Server] Failed to write response: %v", err)
	}
}
