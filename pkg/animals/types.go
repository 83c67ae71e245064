// Package animals defines the animals API record shapes and a typed
// wrapper over the HTTP client for its three endpoints.
package animals

// ListPage is one page of the paginated animals listing.
type ListPage struct {
	Page       int       `json:"page"`
	TotalPages int       `json:"total_pages"`
	Items      []Summary `json:"items"`
}

// Summary is a single listing entry. The listing omits friends; born_at
// shows up on some records but only the detail endpoint is authoritative.
type Summary struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	BornAt *int64 `json:"born_at,omitempty"`
}

// Detail is the full record for a single animal as served by the detail
// endpoint. Friends is a comma-delimited string; BornAt is an epoch
// timestamp of unspecified unit, null for animals without one.
type Detail struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Friends string `json:"friends"`
	BornAt  *int64 `json:"born_at"`
}

// Transformed is the home-ready record shape: friends as a real list and
// born_at as an ISO8601 UTC string. Friends is always present in the JSON,
// even when empty; BornAt is omitted for animals without a birth time.
type Transformed struct {
	ID      int64    `json:"id"`
	Name    string   `json:"name"`
	Friends []string `json:"friends"`
	BornAt  string   `json:"born_at,omitempty"`
}

// HomeResponse is the acknowledgement returned for a delivered batch.
type HomeResponse struct {
	Message string `json:"message"`
}
