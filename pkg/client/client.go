// Package client provides the resilient HTTP client used against the
// animals API: JSON request/response handling, error classification, and
// retries with exponential backoff.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/meghna0593/animals-etl/pkg/logging"
)

// Prometheus metrics for client operations.
var (
	etlRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "etl_requests_total",
		Help: "Total API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	etlRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "etl_request_duration_seconds",
		Help:    "API request duration in seconds by endpoint",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	etlErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "etl_errors_total",
		Help: "Total request errors by class",
	}, []string{"class"})
)

// Config holds client configuration.
type Config struct {
	// BaseURL is the root of the animals API, e.g. "http://localhost:3123".
	BaseURL string

	// UserAgent is sent with every request.
	UserAgent string

	// ConnectTimeout bounds the TCP dial (default: 5s).
	ConnectTimeout time.Duration

	// ReadTimeout bounds the whole request/response exchange (default: 30s).
	ReadTimeout time.Duration

	// MaxRetries is the number of additional attempts after the first
	// (default: 6, so up to 7 attempts in total).
	MaxRetries int

	// BackoffBase is the first retry delay; later delays double (default: 250ms).
	BackoffBase time.Duration

	// BackoffCap limits the exponential delay before jitter (default: 4s).
	BackoffCap time.Duration
}

// DefaultConfig returns a client configuration with production defaults for
// the given base URL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		UserAgent:      "animals-etl/0.1.0",
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    30 * time.Second,
		MaxRetries:     6,
		BackoffBase:    250 * time.Millisecond,
		BackoffCap:     4 * time.Second,
	}
}

// Client is a JSON HTTP client with retries and error classification.
// It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a client from the given configuration, filling in defaults
// for zero-valued fields.
func New(cfg Config) *Client {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "animals-etl/0.1.0"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 250 * time.Millisecond
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 4 * time.Second
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.ReadTimeout,
			Transport: transport,
		},
		config: cfg,
		logger: logging.NewLogger("client"),
	}
}

// Config returns the client's effective configuration.
func (c *Client) Config() Config {
	return c.config
}

// Close releases idle connections held by the underlying transport.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// GetJSON performs a GET against path and decodes the JSON response into out.
// Transport failures, 5xx, and 429 responses are retried with backoff; other
// failures return immediately.
func (c *Client) GetJSON(ctx context.Context, path string, out interface{}) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out)
}

// PostJSON performs a POST with body marshaled as JSON and, when out is
// non-nil, decodes the JSON response into out. The body is marshaled once
// and resent verbatim on each retry.
func (c *Client) PostJSON(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request body: %w", err)
	}
	return c.doJSON(ctx, http.MethodPost, path, payload, out)
}

// doJSON runs one logical request through the retry loop. The request ID is
// generated once so all attempts of the same logical request share it.
func (c *Client) doJSON(ctx context.Context, method, path string, payload []byte, out interface{}) error {
	endpoint := normalizeEndpoint(path)
	reqID := uuid.NewString()

	logger := c.logger.With().
		Str("method", method).
		Str("endpoint", endpoint).
		Str("req_id", reqID).
		Logger()

	err := retryWithBackoff(ctx, c.config, logger, func(attempt int) error {
		return c.attempt(ctx, logger, method, path, endpoint, reqID, payload, out)
	})
	if err != nil {
		etlErrorsTotal.WithLabelValues(string(ClassOf(err))).Inc()
		return err
	}
	return nil
}

// attempt performs a single HTTP exchange and classifies the outcome.
func (c *Client) attempt(ctx context.Context, logger zerolog.Logger, method, path, endpoint, reqID string, payload []byte, out interface{}) error {
	url := strings.TrimRight(c.config.BaseURL, "/") + path

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return &APIError{
			Class:   ClassTransport,
			Message: "building request",
			Err:     err,
		}
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("X-Request-Id", reqID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	logger.Debug().Msg("sending request")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	etlRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())

	if err != nil {
		etlRequestsTotal.WithLabelValues(endpoint, "0").Inc()
		return &APIError{
			Class:   ClassTransport,
			Message: "request failed",
			Err:     err,
		}
	}
	defer resp.Body.Close()

	etlRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{
			StatusCode: resp.StatusCode,
			Class:      ClassTransport,
			Message:    "reading response body",
			Err:        err,
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.statusError(resp.StatusCode, body)
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return &APIError{
				StatusCode: resp.StatusCode,
				Class:      ClassMalformed,
				Message:    fmt.Sprintf("decoding response: %s", bodySnippet(body)),
				Err:        err,
			}
		}
	}

	logger.Debug().
		Int("status", resp.StatusCode).
		Dur("duration", duration).
		Msg("request complete")

	return nil
}

// statusError builds the APIError for a non-2xx response.
func (c *Client) statusError(status int, body []byte) *APIError {
	class := classifyStatus(status)

	apiErr := &APIError{
		StatusCode: status,
		Class:      class,
		Message:    http.StatusText(status),
	}

	if class == ClassValidation {
		apiErr.Detail = validationDetail(body)
		if apiErr.Detail != "" {
			apiErr.Message = apiErr.Detail
		}
	} else if len(body) > 0 {
		apiErr.Message = fmt.Sprintf("%s: %s", http.StatusText(status), bodySnippet(body))
	}

	return apiErr
}

// validationDetail extracts the server's reason from a 422 body. The API
// answers {"detail": "..."}; anything else is kept verbatim so the reason
// is never silently lost.
func validationDetail(body []byte) string {
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Detail != "" {
		return payload.Detail
	}
	return bodySnippet(body)
}

// bodySnippet shortens a response body for log and error messages.
func bodySnippet(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

// normalizeEndpoint collapses numeric path segments to {id} so metrics
// stay low-cardinality: /animals/v1/animals/123 -> /animals/v1/animals/{id}.
func normalizeEndpoint(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}

	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		if _, err := strconv.ParseInt(seg, 10, 64); err == nil {
			segments[i] = "{id}"
		}
	}
	return strings.Join(segments, "/")
}
