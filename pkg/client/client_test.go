package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// testConfig points the client at a test server with fast retries.
func testConfig(baseURL string, maxRetries int) Config {
	cfg := DefaultConfig(baseURL)
	cfg.MaxRetries = maxRetries
	cfg.BackoffBase = time.Millisecond
	cfg.BackoffCap = 4 * time.Millisecond
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("http://localhost:3123")

	if cfg.BaseURL != "http://localhost:3123" {
		t.Errorf("BaseURL = %q, want http://localhost:3123", cfg.BaseURL)
	}
	if cfg.MaxRetries != 6 {
		t.Errorf("MaxRetries = %d, want 6", cfg.MaxRetries)
	}
	if cfg.ConnectTimeout != 5*time.Second {
		t.Errorf("ConnectTimeout = %v, want 5s", cfg.ConnectTimeout)
	}
	if cfg.ReadTimeout != 30*time.Second {
		t.Errorf("ReadTimeout = %v, want 30s", cfg.ReadTimeout)
	}
	if cfg.BackoffBase != 250*time.Millisecond {
		t.Errorf("BackoffBase = %v, want 250ms", cfg.BackoffBase)
	}
	if cfg.BackoffCap != 4*time.Second {
		t.Errorf("BackoffCap = %v, want 4s", cfg.BackoffCap)
	}
}

func TestGetJSONSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		if accept := r.Header.Get("Accept"); accept != "application/json" {
			t.Errorf("Accept = %q, want application/json", accept)
		}
		if ua := r.Header.Get("User-Agent"); ua != "animals-etl/0.1.0" {
			t.Errorf("User-Agent = %q, want animals-etl/0.1.0", ua)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": 7, "name": "Basil"}`))
	}))
	defer server.Close()

	c := New(testConfig(server.URL, 0))

	var out struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}
	if err := c.GetJSON(context.Background(), "/animals/v1/animals/7", &out); err != nil {
		t.Fatalf("GetJSON() = %v, want nil", err)
	}

	if out.ID != 7 || out.Name != "Basil" {
		t.Errorf("decoded = %+v, want {7 Basil}", out)
	}
}

func TestGetJSONRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	c := New(testConfig(server.URL, 6))

	var out map[string]bool
	if err := c.GetJSON(context.Background(), "/animals/v1/animals", &out); err != nil {
		t.Fatalf("GetJSON() = %v, want nil after recovery", err)
	}

	if got := calls.Load(); got != 3 {
		t.Errorf("server saw %d requests, want 3", got)
	}
}

func TestGetJSONBackoffDelaysAccumulate(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	cfg := DefaultConfig(server.URL)
	cfg.MaxRetries = 6
	cfg.BackoffBase = 20 * time.Millisecond
	cfg.BackoffCap = 200 * time.Millisecond
	c := New(cfg)

	start := time.Now()
	if err := c.GetJSON(context.Background(), "/animals/v1/animals", nil); err != nil {
		t.Fatalf("GetJSON() = %v, want nil", err)
	}
	elapsed := time.Since(start)

	// Two backoffs: base then 2*base, jitter only adds. 3*base is the floor.
	if floor := 3 * cfg.BackoffBase; elapsed < floor {
		t.Errorf("elapsed = %v, want >= %v (backoff must actually wait)", elapsed, floor)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server saw %d requests, want 3", got)
	}
}

func TestGetJSONRetriesRateLimiting(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := New(testConfig(server.URL, 6))

	var out map[string]interface{}
	if err := c.GetJSON(context.Background(), "/animals/v1/animals", &out); err != nil {
		t.Fatalf("GetJSON() = %v, want nil after 429 retry", err)
	}

	if got := calls.Load(); got != 2 {
		t.Errorf("server saw %d requests, want 2", got)
	}
}

func TestGetJSONDoesNotRetryNotFound(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := New(testConfig(server.URL, 6))

	err := c.GetJSON(context.Background(), "/animals/v1/animals/999999", nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("GetJSON() = %v, want *APIError", err)
	}
	if apiErr.Class != ClassClientRequest {
		t.Errorf("Class = %v, want %v", apiErr.Class, ClassClientRequest)
	}
	if apiErr.StatusCode != 404 {
		t.Errorf("StatusCode = %d, want 404", apiErr.StatusCode)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server saw %d requests, want 1 (no retries)", got)
	}
}

func TestGetJSONExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := New(testConfig(server.URL, 2))

	err := c.GetJSON(context.Background(), "/animals/v1/animals", nil)

	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("GetJSON() = %v, want ErrRetryExhausted", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server saw %d requests, want 3 (1 initial + 2 retries)", got)
	}
}

func TestGetJSONMalformedBody(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>not json</html>"))
	}))
	defer server.Close()

	c := New(testConfig(server.URL, 6))

	var out map[string]interface{}
	err := c.GetJSON(context.Background(), "/animals/v1/animals", &out)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("GetJSON() = %v, want *APIError", err)
	}
	if apiErr.Class != ClassMalformed {
		t.Errorf("Class = %v, want %v", apiErr.Class, ClassMalformed)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server saw %d requests, want 1 (malformed bodies are terminal)", got)
	}
}

func TestPostJSONSendsBody(t *testing.T) {
	var received []map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decoding posted body: %v", err)
		}
		w.Write([]byte(`{"message": "Helped 2 animals find home"}`))
	}))
	defer server.Close()

	c := New(testConfig(server.URL, 0))

	batch := []map[string]interface{}{
		{"id": 1, "name": "Ada", "friends": []string{"Grace"}},
		{"id": 2, "name": "Linus", "friends": []string{}},
	}

	var out struct {
		Message string `json:"message"`
	}
	if err := c.PostJSON(context.Background(), "/animals/v1/home", batch, &out); err != nil {
		t.Fatalf("PostJSON() = %v, want nil", err)
	}

	if len(received) != 2 {
		t.Fatalf("server received %d records, want 2", len(received))
	}
	if out.Message == "" {
		t.Error("response message not decoded")
	}
}

func TestPostJSONResendsBodyOnRetry(t *testing.T) {
	var calls atomic.Int32
	var lastBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := make([]byte, r.ContentLength)
		r.Body.Read(body)
		lastBody = body

		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := New(testConfig(server.URL, 6))

	payload := map[string]string{"name": "Rex"}
	if err := c.PostJSON(context.Background(), "/animals/v1/home", payload, nil); err != nil {
		t.Fatalf("PostJSON() = %v, want nil", err)
	}

	if got := calls.Load(); got != 2 {
		t.Fatalf("server saw %d requests, want 2", got)
	}

	var decoded map[string]string
	if err := json.Unmarshal(lastBody, &decoded); err != nil {
		t.Fatalf("retried body is not valid JSON: %v", err)
	}
	if decoded["name"] != "Rex" {
		t.Errorf("retried body = %q, want the original payload", lastBody)
	}
}

func TestPostJSONValidationError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"detail": "born_at must be an ISO8601 timestamp"}`))
	}))
	defer server.Close()

	c := New(testConfig(server.URL, 6))

	err := c.PostJSON(context.Background(), "/animals/v1/home", []string{}, nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("PostJSON() = %v, want *APIError", err)
	}
	if apiErr.Class != ClassValidation {
		t.Errorf("Class = %v, want %v", apiErr.Class, ClassValidation)
	}
	if apiErr.Detail != "born_at must be an ISO8601 timestamp" {
		t.Errorf("Detail = %q, want the server-provided detail", apiErr.Detail)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server saw %d requests, want 1 (validation errors are terminal)", got)
	}
}

func TestRequestIDStableAcrossRetries(t *testing.T) {
	var ids []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ids = append(ids, r.Header.Get("X-Request-Id"))
		if len(ids) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := New(testConfig(server.URL, 6))

	if err := c.GetJSON(context.Background(), "/animals/v1/animals", nil); err != nil {
		t.Fatalf("GetJSON() = %v, want nil", err)
	}

	if len(ids) != 3 {
		t.Fatalf("server saw %d requests, want 3", len(ids))
	}
	if ids[0] == "" {
		t.Fatal("X-Request-Id header missing")
	}
	for i, id := range ids {
		if id != ids[0] {
			t.Errorf("attempt %d sent X-Request-Id %q, want %q (stable across retries)", i+1, id, ids[0])
		}
	}
}

func TestRequestIDDiffersBetweenRequests(t *testing.T) {
	var ids []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ids = append(ids, r.Header.Get("X-Request-Id"))
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := New(testConfig(server.URL, 0))

	for i := 0; i < 2; i++ {
		if err := c.GetJSON(context.Background(), "/animals/v1/animals", nil); err != nil {
			t.Fatalf("GetJSON() = %v, want nil", err)
		}
	}

	if len(ids) != 2 {
		t.Fatalf("server saw %d requests, want 2", len(ids))
	}
	if ids[0] == ids[1] {
		t.Error("distinct logical requests should carry distinct request IDs")
	}
}

func TestGetJSONTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseURL := server.URL
	server.Close() // nothing listening anymore

	c := New(testConfig(baseURL, 1))

	err := c.GetJSON(context.Background(), "/animals/v1/animals", nil)

	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("GetJSON() = %v, want ErrRetryExhausted", err)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("GetJSON() = %v, want a wrapped *APIError", err)
	}
	if apiErr.Class != ClassTransport {
		t.Errorf("Class = %v, want %v", apiErr.Class, ClassTransport)
	}
}

func TestGetJSONContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := testConfig(server.URL, 6)
	cfg.BackoffBase = 10 * time.Second
	cfg.BackoffCap = 10 * time.Second
	c := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.GetJSON(ctx, "/animals/v1/animals", nil)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, ErrContextCancelled) {
			t.Errorf("GetJSON() = %v, want ErrContextCancelled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("GetJSON did not return after cancellation")
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{"/animals/v1/animals", "/animals/v1/animals"},
		{"/animals/v1/animals?page=3", "/animals/v1/animals"},
		{"/animals/v1/animals/123", "/animals/v1/animals/{id}"},
		{"/animals/v1/animals/0", "/animals/v1/animals/{id}"},
		{"/animals/v1/home", "/animals/v1/home"},
		{"/v2/9/things/42", "/v2/{id}/things/{id}"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := normalizeEndpoint(tt.path); got != tt.expected {
				t.Errorf("normalizeEndpoint(%q) = %q, want %q", tt.path, got, tt.expected)
			}
		})
	}
}

func TestValidationDetail(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected string
	}{
		{
			name:     "detail field",
			body:     `{"detail": "items exceed batch limit"}`,
			expected: "items exceed batch limit",
		},
		{
			name:     "missing detail falls back to body",
			body:     `{"error": "nope"}`,
			expected: `{"error": "nope"}`,
		},
		{
			name:     "non-json body kept verbatim",
			body:     "unprocessable",
			expected: "unprocessable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := validationDetail([]byte(tt.body)); got != tt.expected {
				t.Errorf("validationDetail(%q) = %q, want %q", tt.body, got, tt.expected)
			}
		})
	}
}
