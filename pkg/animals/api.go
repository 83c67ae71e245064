package animals

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/meghna0593/animals-etl/pkg/client"
	"github.com/meghna0593/animals-etl/pkg/logging"
)

// Endpoint paths under the API base URL.
const (
	listPath   = "/animals/v1/animals"
	detailPath = "/animals/v1/animals/%d"
	homePath   = "/animals/v1/home"
)

// API wraps the HTTP client with typed calls for the animals endpoints.
// It is safe for concurrent use.
type API struct {
	client *client.Client
	logger zerolog.Logger
}

// NewAPI creates an API over the given client.
func NewAPI(c *client.Client) *API {
	return &API{
		client: c,
		logger: logging.NewLogger("animals"),
	}
}

// ListPage fetches one page of the animals listing. Pages are 1-based.
func (a *API) ListPage(ctx context.Context, page int) (*ListPage, error) {
	if page < 1 {
		return nil, fmt.Errorf("page must be >= 1, got %d", page)
	}

	var result ListPage
	path := fmt.Sprintf("%s?page=%d", listPath, page)
	if err := a.client.GetJSON(ctx, path, &result); err != nil {
		return nil, fmt.Errorf("listing animals page %d: %w", page, err)
	}

	a.logger.Debug().
		Int("page", result.Page).
		Int("total_pages", result.TotalPages).
		Int("items", len(result.Items)).
		Msg("page listed")

	return &result, nil
}

// GetAnimal fetches the detail record for a single animal. IDs from the
// listing are positive; anything else is a malformed record and never
// reaches the wire.
func (a *API) GetAnimal(ctx context.Context, id int64) (*Detail, error) {
	if id < 1 {
		return nil, &client.APIError{
			Class:   client.ClassMalformed,
			Message: fmt.Sprintf("animal id %d is not positive", id),
		}
	}

	var result Detail
	path := fmt.Sprintf(detailPath, id)
	if err := a.client.GetJSON(ctx, path, &result); err != nil {
		return nil, fmt.Errorf("fetching animal %d: %w", id, err)
	}
	return &result, nil
}

// PostHome delivers one batch of transformed records. Batch sizing is the
// caller's responsibility; the server rejects more than 100 records.
func (a *API) PostHome(ctx context.Context, batch []Transformed) (*HomeResponse, error) {
	var result HomeResponse
	if err := a.client.PostJSON(ctx, homePath, batch, &result); err != nil {
		return nil, fmt.Errorf("posting batch of %d: %w", len(batch), err)
	}

	a.logger.Debug().
		Int("records", len(batch)).
		Str("message", result.Message).
		Msg("batch delivered")

	return &result, nil
}
