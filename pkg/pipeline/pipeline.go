// Package pipeline sequences one full synchronization run: list every
// animal, fetch details concurrently, transform them, and deliver the
// results in batches. Partial failure is the normal outcome; only a failed
// initial listing aborts the run.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/meghna0593/animals-etl/pkg/animals"
	"github.com/meghna0593/animals-etl/pkg/client"
	"github.com/meghna0593/animals-etl/pkg/fetch"
	"github.com/meghna0593/animals-etl/pkg/load"
	"github.com/meghna0593/animals-etl/pkg/logging"
	"github.com/meghna0593/animals-etl/pkg/transform"
)

// API is the full animals API surface the pipeline needs: listing and
// detail fetching plus batch delivery. *animals.API satisfies it.
type API interface {
	fetch.API
	load.Poster
}

// Config holds pipeline configuration.
type Config struct {
	// Concurrency is the number of parallel detail fetch workers
	// (default: 8).
	Concurrency int

	// BatchSize is the number of records per home batch, at most
	// load.MaxBatchSize (default: 100).
	BatchSize int

	// PageTimeout bounds one listing page call, including its retries
	// (default: 60s).
	PageTimeout time.Duration

	// DetailTimeout bounds one detail fetch, including its retries
	// (default: 60s).
	DetailTimeout time.Duration
}

// DefaultConfig returns the production defaults for a run.
func DefaultConfig() Config {
	return Config{
		Concurrency:   8,
		BatchSize:     load.MaxBatchSize,
		PageTimeout:   60 * time.Second,
		DetailTimeout: 60 * time.Second,
	}
}

// TransformFailure records one fetched animal whose record could not be
// transformed and was therefore not delivered.
type TransformFailure struct {
	ID  int64
	Err error
}

// MarshalJSON renders the failure with its error text so run summaries
// serialize cleanly.
func (f TransformFailure) MarshalJSON() ([]byte, error) {
	out := struct {
		ID    int64  `json:"id"`
		Error string `json:"error,omitempty"`
	}{ID: f.ID}
	if f.Err != nil {
		out.Error = f.Err.Error()
	}
	return json.Marshal(out)
}

// LoadFailure records one batch that could not be delivered.
type LoadFailure struct {
	Batch int
	Size  int
	Err   error
}

// MarshalJSON renders the failure with its error text so run summaries
// serialize cleanly.
func (f LoadFailure) MarshalJSON() ([]byte, error) {
	out := struct {
		Batch int    `json:"batch"`
		Size  int    `json:"size"`
		Error string `json:"error,omitempty"`
	}{Batch: f.Batch, Size: f.Size}
	if f.Err != nil {
		out.Error = f.Err.Error()
	}
	return json.Marshal(out)
}

// Summary is the final accounting of one run. A run that ends with a
// Summary finished; partial failures show up as counts and failure lists,
// never as an error from Run.
type Summary struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`

	PagesListed int `json:"pages_listed"`
	PagesFailed int `json:"pages_failed"`
	IDsListed   int `json:"ids_listed"`

	DetailsFetched int             `json:"details_fetched"`
	FetchFailures  []fetch.Failure `json:"fetch_failures,omitempty"`

	Transformed       int                `json:"transformed"`
	TransformFailures []TransformFailure `json:"transform_failures,omitempty"`

	BatchesPosted int           `json:"batches_posted"`
	BatchesFailed int           `json:"batches_failed"`
	RecordsPosted int           `json:"records_posted"`
	LoadFailures  []LoadFailure `json:"load_failures,omitempty"`

	// FailureKinds counts every recorded failure by kind (transport,
	// server, rate_limit, client_request, validation, malformed,
	// transform, cancelled).
	FailureKinds map[string]int `json:"failure_kinds,omitempty"`

	Elapsed        time.Duration `json:"-"`
	ElapsedSeconds float64       `json:"elapsed_seconds"`
}

// Clean reports whether every stage completed without a recorded failure.
func (s *Summary) Clean() bool {
	return s.PagesFailed == 0 &&
		len(s.FetchFailures) == 0 &&
		len(s.TransformFailures) == 0 &&
		s.BatchesFailed == 0
}

// Pipeline runs the fetch, transform, and load stages against one API.
type Pipeline struct {
	api    API
	config Config
	logger zerolog.Logger
}

// New creates a pipeline over the given API, filling in defaults for
// zero-valued config fields.
func New(api API, cfg Config) *Pipeline {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > load.MaxBatchSize {
		cfg.BatchSize = load.MaxBatchSize
	}

	return &Pipeline{
		api:    api,
		config: cfg,
		logger: logging.NewLogger("pipeline"),
	}
}

// Run executes one full pass: fetch, transform, load. It returns an error
// only when the initial listing failed and there is nothing to work with;
// any other failure is recorded in the Summary and the run completes.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	runID := uuid.NewString()

	logger := p.logger.With().Str("run_id", runID).Logger()
	logger.Info().
		Int("concurrency", p.config.Concurrency).
		Int("batch_size", p.config.BatchSize).
		Msg("run started")

	fetcher := fetch.New(p.api, fetch.Config{
		Concurrency:   p.config.Concurrency,
		PageTimeout:   p.config.PageTimeout,
		DetailTimeout: p.config.DetailTimeout,
	})

	result, err := fetcher.FetchAll(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("run aborted, no animals listed")
		return nil, fmt.Errorf("fetching animals: %w", err)
	}

	transformed, transformFailures := p.transformAll(logger, result.Details)

	outcomes := load.New(p.api).LoadAll(ctx, transformed, p.config.BatchSize)

	summary := p.summarize(runID, result, transformed, transformFailures, outcomes, time.Since(start))

	logger.Info().
		Str("status", summary.Status).
		Int("ids_listed", summary.IDsListed).
		Int("details_fetched", summary.DetailsFetched).
		Int("fetch_failures", len(summary.FetchFailures)).
		Int("transformed", summary.Transformed).
		Int("transform_failures", len(summary.TransformFailures)).
		Int("batches_posted", summary.BatchesPosted).
		Int("batches_failed", summary.BatchesFailed).
		Int("records_posted", summary.RecordsPosted).
		Dur("elapsed", summary.Elapsed).
		Msg("run complete")

	return summary, nil
}

// transformAll maps the pure transform over every fetched detail. A record
// that fails transformation is dropped from the load set and recorded, so
// nothing invalid is ever delivered.
func (p *Pipeline) transformAll(logger zerolog.Logger, details []animals.Detail) ([]animals.Transformed, []TransformFailure) {
	transformed := make([]animals.Transformed, 0, len(details))
	var failures []TransformFailure

	for i := range details {
		rec, err := transform.Record(&details[i])
		if err != nil {
			logger.Warn().
				Int64("animal_id", details[i].ID).
				Err(err).
				Msg("transform failed, record dropped")
			failures = append(failures, TransformFailure{ID: details[i].ID, Err: err})
			continue
		}
		transformed = append(transformed, rec)
	}

	return transformed, failures
}

// summarize folds the per-stage results into the final Summary.
func (p *Pipeline) summarize(runID string, result *fetch.Result, transformed []animals.Transformed, transformFailures []TransformFailure, outcomes []load.Outcome, elapsed time.Duration) *Summary {
	summary := &Summary{
		RunID:             runID,
		PagesListed:       result.PagesListed,
		PagesFailed:       result.PagesFailed,
		IDsListed:         result.IDsListed,
		DetailsFetched:    len(result.Details),
		FetchFailures:     result.Failures,
		Transformed:       len(transformed),
		TransformFailures: transformFailures,
		FailureKinds:      make(map[string]int),
		Elapsed:           elapsed,
		ElapsedSeconds:    elapsed.Seconds(),
	}

	for _, f := range result.Failures {
		summary.FailureKinds[failureKind(f.Err)]++
	}
	for range transformFailures {
		summary.FailureKinds["transform"]++
	}

	for _, o := range outcomes {
		if o.Err != nil {
			summary.BatchesFailed++
			summary.LoadFailures = append(summary.LoadFailures, LoadFailure{Batch: o.Batch, Size: o.Size, Err: o.Err})
			summary.FailureKinds[failureKind(o.Err)]++
			continue
		}
		summary.BatchesPosted++
		summary.RecordsPosted += o.Size
	}

	if len(summary.FailureKinds) == 0 {
		summary.FailureKinds = nil
	}

	if summary.Clean() {
		summary.Status = "ok"
	} else {
		summary.Status = "partial"
	}

	return summary
}

// failureKind labels one recorded failure for the summary counts. A failure
// that carries a classified API error keeps its class, even when the final
// attempt died of a timeout; everything else is either a cancellation or an
// unclassified transport failure.
func failureKind(err error) string {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return string(apiErr.Class)
	}
	if errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, client.ErrContextCancelled) {
		return "cancelled"
	}
	return string(client.ClassTransport)
}
