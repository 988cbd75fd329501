// Package poller provides HTTP based Poller implementations for topics whose
// live connection is unavailable.
package poller

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/bitechdev/TopicSpec/pkg/config"
	"github.com/bitechdev/TopicSpec/pkg/logger"
)

// maxBodySize caps how much of a poll response is read
const maxBodySize = 4 << 20

// HTTPPoller fetches the latest state of a topic from {BaseURL}/{topic}.
// One HTTPPoller is shared by all topics; the rate limit applies across them.
type HTTPPoller struct {
	baseURL  string
	bodyPath string
	client   *http.Client
	limiter  *rate.Limiter
}

// New creates an HTTPPoller from cfg. A zero RateLimit disables limiting.
func New(cfg config.PollerConfig) (*HTTPPoller, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("poller base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid poller base url: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	p := &HTTPPoller{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		bodyPath: cfg.BodyPath,
		client:   &http.Client{Timeout: timeout},
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return p, nil
}

// URL returns the poll address for topic
func (p *HTTPPoller) URL(topic string) string {
	return p.baseURL + "/" + url.PathEscape(topic)
}

// Fetch polls topic once. A 200 response hands the body (or the value at
// the configured body path) to deliver and keeps polling. 204 and 304 keep
// polling without delivering. 404 and 410 mean the topic is gone. Any other
// status is an error.
func (p *HTTPPoller) Fetch(ctx context.Context, topic string, deliver func([]byte)) (bool, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return false, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL(topic), nil)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("poll %s: %w", topic, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent, http.StatusNotModified:
		return true, nil
	case http.StatusNotFound, http.StatusGone:
		logger.Debug("[Poller] Topic %s is gone (status %d)", topic, resp.StatusCode)
		return false, nil
	default:
		return false, fmt.Errorf("poll %s: unexpected status %d", topic, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return false, fmt.Errorf("read body: %w", err)
	}

	payload := p.extract(body)
	if len(payload) > 0 && deliver != nil {
		deliver(payload)
	}
	return true, nil
}

func (p *HTTPPoller) extract(body []byte) []byte {
	if p.bodyPath == "" {
		return body
	}
	result := gjson.GetBytes(body, p.bodyPath)
	if !result.Exists() {
		return nil
	}
	if result.Type == gjson.String {
		return []byte(result.Str)
	}
	return []byte(result.Raw)
}

// TopicPoller binds an HTTPPoller to one topic and one delivery callback
type TopicPoller struct {
	poller  *HTTPPoller
	topic   string
	deliver func([]byte)
}

// ForTopic returns a poller for topic that hands fetched payloads to deliver
func (p *HTTPPoller) ForTopic(topic string, deliver func([]byte)) *TopicPoller {
	return &TopicPoller{poller: p, topic: topic, deliver: deliver}
}

// Poll fetches the topic once
func (t *TopicPoller) Poll(ctx context.Context) (bool, error) {
	return t.poller.Fetch(ctx, t.topic, t.deliver)
}
