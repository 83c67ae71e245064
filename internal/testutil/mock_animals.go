// Package testutil provides a configurable in-memory animals API server
// for tests: paginated listing, per-animal detail, and the batched home
// endpoint, with scriptable failures.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MaxHomeBatch is the largest batch the home endpoint accepts, mirroring
// the real API's limit.
const MaxHomeBatch = 100

// MockAnimal is one seeded animal as served by the detail endpoint.
type MockAnimal struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Friends string `json:"friends"`
	BornAt  *int64 `json:"born_at"`
}

// HomeRecord is one transformed record as received by the home endpoint.
type HomeRecord struct {
	ID      int64    `json:"id"`
	Name    string   `json:"name"`
	Friends []string `json:"friends"`
	BornAt  string   `json:"born_at,omitempty"`
}

// MockResponse defines a scripted response for a path.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration

	// Times limits how many requests the script answers before the path
	// falls back to the default behavior; 0 answers every request. This is
	// how tests stage "fail twice, then recover".
	Times int
}

// MockAnimalsAPI is a configurable mock animals API server.
type MockAnimalsAPI struct {
	server *httptest.Server

	mu       sync.RWMutex
	animals  map[int64]MockAnimal
	order    []int64
	pageSize int
	handlers map[string]http.HandlerFunc

	requestCount int
	pathCounts   map[string]int
	lastHeader   http.Header
	requestIDs   []string
	batches      [][]HomeRecord
}

// NewMockAnimalsAPI creates a mock server seeded with total animals served
// pageSize at a time. The seed is deterministic: stable names, a mix of
// friends strings (including empty), and born_at values across units
// (milliseconds, seconds, absent).
func NewMockAnimalsAPI(total, pageSize int) *MockAnimalsAPI {
	if pageSize < 1 {
		pageSize = 10
	}

	mock := &MockAnimalsAPI{
		animals:    make(map[int64]MockAnimal, total),
		order:      make([]int64, 0, total),
		pageSize:   pageSize,
		handlers:   make(map[string]http.HandlerFunc),
		pathCounts: make(map[string]int),
	}
	mock.seed(total)

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requestCount++
		mock.pathCounts[r.URL.Path]++
		mock.lastHeader = r.Header.Clone()
		mock.requestIDs = append(mock.requestIDs, r.Header.Get("X-Request-Id"))
		handler := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if handler != nil {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

var mockNames = []string{"Basil", "Newt", "Ada", "Grace", "Linus", "Io", "Rex", "Janus"}

// seed populates deterministic animals. Birth times stay within a year of
// 2020-05-18 so they are always in the past.
func (m *MockAnimalsAPI) seed(total int) {
	const baseMillis = int64(1589808000000) // 2020-05-18T00:00:00Z
	const dayMillis = int64(86400000)

	for i := 1; i <= total; i++ {
		id := int64(i)
		name := fmt.Sprintf("%s-%d", mockNames[i%len(mockNames)], i)

		friends := fmt.Sprintf("%s, %s", mockNames[(i+1)%len(mockNames)], mockNames[(i+3)%len(mockNames)])
		if i%7 == 0 {
			friends = ""
		}

		var bornAt *int64
		switch {
		case i%4 == 0:
			// no birth time
		case i%9 == 0:
			secs := (baseMillis + int64(i%365)*dayMillis) / 1000
			bornAt = &secs
		default:
			ms := baseMillis + int64(i%365)*dayMillis
			bornAt = &ms
		}

		m.animals[id] = MockAnimal{ID: id, Name: name, Friends: friends, BornAt: bornAt}
		m.order = append(m.order, id)
	}
}

// URL returns the mock server URL.
func (m *MockAnimalsAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockAnimalsAPI) Close() {
	m.server.Close()
}

// Reset clears tracking counters and captured batches, keeping the seeded
// animals and any scripted handlers.
func (m *MockAnimalsAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.pathCounts = make(map[string]int)
	m.lastHeader = nil
	m.requestIDs = nil
	m.batches = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockAnimalsAPI) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse scripts a response for a path. With Times > 0 the script
// answers only that many requests and later ones get the default behavior.
func (m *MockAnimalsAPI) SetResponse(path string, resp MockResponse) {
	var mu sync.Mutex
	fired := 0

	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		if resp.Times > 0 && fired >= resp.Times {
			mu.Unlock()
			m.defaultHandler(w, r)
			return
		}
		fired++
		mu.Unlock()

		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		if resp.StatusCode != 0 {
			w.WriteHeader(resp.StatusCode)
		}
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetDetailResponse scripts the detail endpoint for one animal.
func (m *MockAnimalsAPI) SetDetailResponse(id int64, resp MockResponse) {
	m.SetResponse(fmt.Sprintf("/animals/v1/animals/%d", id), resp)
}

// RequestCount returns the total number of requests the server has seen.
func (m *MockAnimalsAPI) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// PathCount returns the number of requests seen for one exact path.
func (m *MockAnimalsAPI) PathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pathCounts[path]
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockAnimalsAPI) LastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastHeader
}

// RequestIDs returns the X-Request-Id header of every request, in arrival
// order.
func (m *MockAnimalsAPI) RequestIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.requestIDs))
	copy(out, m.requestIDs)
	return out
}

// Batches returns the home batches received so far, in posting order.
func (m *MockAnimalsAPI) Batches() [][]HomeRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([][]HomeRecord, len(m.batches))
	copy(out, m.batches)
	return out
}

// PostedRecords flattens the received batches in posting order.
func (m *MockAnimalsAPI) PostedRecords() []HomeRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []HomeRecord
	for _, batch := range m.batches {
		out = append(out, batch...)
	}
	return out
}

// defaultHandler implements the real API's semantics for the three
// endpoints: paginated listing, per-animal detail, and home delivery.
func (m *MockAnimalsAPI) defaultHandler(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/animals/v1/animals":
		m.handleListing(w, r)
	case strings.HasPrefix(r.URL.Path, "/animals/v1/animals/"):
		m.handleDetail(w, r)
	case r.URL.Path == "/animals/v1/home":
		m.handleHome(w, r)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not Found"})
	}
}

// listItem is the listing's per-animal shape: no friends, born_at optional.
type listItem struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	BornAt *int64 `json:"born_at,omitempty"`
}

func (m *MockAnimalsAPI) handleListing(w http.ResponseWriter, r *http.Request) {
	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "page must be a positive integer"})
			return
		}
		page = parsed
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	totalPages := (len(m.order) + m.pageSize - 1) / m.pageSize
	if totalPages < 1 {
		totalPages = 1
	}

	items := []listItem{}
	start := (page - 1) * m.pageSize
	for i := start; i < start+m.pageSize && i < len(m.order); i++ {
		a := m.animals[m.order[i]]
		items = append(items, listItem{ID: a.ID, Name: a.Name, BornAt: a.BornAt})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"page":        page,
		"total_pages": totalPages,
		"items":       items,
	})
}

func (m *MockAnimalsAPI) handleDetail(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.URL.Path, "/animals/v1/animals/")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "animal id must be an integer"})
		return
	}

	m.mu.RLock()
	animal, ok := m.animals[id]
	m.mu.RUnlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Animal not found"})
		return
	}

	writeJSON(w, http.StatusOK, animal)
}

func (m *MockAnimalsAPI) handleHome(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"detail": "Method Not Allowed"})
		return
	}

	var batch []HomeRecord
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "body must be a JSON array of animals"})
		return
	}

	if len(batch) > MaxHomeBatch {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"detail": fmt.Sprintf("batch of %d exceeds the limit of %d", len(batch), MaxHomeBatch),
		})
		return
	}

	m.mu.Lock()
	m.batches = append(m.batches, batch)
	m.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Helped %d animals find home", len(batch)),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// NewServerErrorResponse scripts a 500 Internal Server Error.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"detail": "Internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewRateLimitResponse scripts a 429 Too Many Requests.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"detail": "Rate limit exceeded"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewValidationErrorResponse scripts a 422 with the given detail.
func NewValidationErrorResponse(detail string) MockResponse {
	body, _ := json.Marshal(map[string]string{"detail": detail})
	return MockResponse{
		StatusCode: http.StatusUnprocessableEntity,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}
