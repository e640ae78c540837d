package fallback

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/agentmesh/errors"
)

// topicHeader carries the wire topic on HTTP fallback requests.
const topicHeader = "X-Agentmesh-Topic"

// HTTPDrop posts messages to a local relay endpoint. Sends are
// rate-limited so a flapping primary cannot flood the relay.
type HTTPDrop struct {
	endpoint string
	priority int
	client   *http.Client
	limiter  *rate.Limiter

	mu          sync.Mutex
	running     bool
	lastFailure time.Time
}

// HTTPOption configures the transport.
type HTTPOption func(*HTTPDrop)

// WithHTTPClient overrides the HTTP client, for tests.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(h *HTTPDrop) { h.client = client }
}

// WithRateLimit sets the sustained request rate and burst.
func WithRateLimit(perSecond float64, burst int) HTTPOption {
	return func(h *HTTPDrop) { h.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// NewHTTPDrop creates the transport posting to endpoint.
func NewHTTPDrop(endpoint string, priority int, opts ...HTTPOption) *HTTPDrop {
	h := &HTTPDrop{
		endpoint: endpoint,
		priority: priority,
		client:   &http.Client{Timeout: 5 * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(50), 100),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name implements Transport.
func (h *HTTPDrop) Name() string { return "http" }

// Priority implements Transport.
func (h *HTTPDrop) Priority() int { return h.priority }

// Initialize validates the endpoint.
func (h *HTTPDrop) Initialize(_ context.Context) error {
	if h.endpoint == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "HTTPDrop", "Initialize", "endpoint is required")
	}
	return nil
}

// Start implements Transport.
func (h *HTTPDrop) Start(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = true
	return nil
}

// Stop implements Transport.
func (h *HTTPDrop) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = false
	return nil
}

// Send posts one message to the relay endpoint, waiting on the rate
// limiter first.
func (h *HTTPDrop) Send(ctx context.Context, topic string, data []byte) error {
	h.mu.Lock()
	running := h.running
	h.mu.Unlock()
	if !running {
		return errors.WrapInvalid(errors.ErrNotStarted, "HTTPDrop", "Send", "transport stopped")
	}

	if err := h.limiter.Wait(ctx); err != nil {
		return errors.WrapTransient(errors.ErrTransportFailure, "HTTPDrop", "Send", "rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(data))
	if err != nil {
		return errors.WrapInvalid(err, "HTTPDrop", "Send", "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(topicHeader, topic)

	resp, err := h.client.Do(req)
	if err != nil {
		h.recordFailure()
		return errors.WrapTransient(errors.ErrTransportFailure, "HTTPDrop", "Send", "post to relay")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		h.recordFailure()
		return errors.WrapTransient(errors.ErrTransportFailure, "HTTPDrop", "Send",
			"relay returned "+resp.Status)
	}
	return nil
}

// Healthy reports running state with a short cooldown after a failure so
// the chain skips a relay that just errored.
func (h *HTTPDrop) Healthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return false
	}
	return time.Since(h.lastFailure) > 5*time.Second
}

func (h *HTTPDrop) recordFailure() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastFailure = time.Now()
}
