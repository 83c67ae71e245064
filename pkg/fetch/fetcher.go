// Package fetch walks the paginated animals listing and retrieves detail
// records through a bounded worker pool.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/meghna0593/animals-etl/pkg/animals"
	"github.com/meghna0593/animals-etl/pkg/logging"
)

// Prometheus metrics for detail fetching.
var etlDetailsFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "etl_details_fetched_total",
	Help: "Total detail fetches by result",
}, []string{"result"})

// API is the listing and detail surface the fetcher needs. *animals.API
// satisfies it.
type API interface {
	ListPage(ctx context.Context, page int) (*animals.ListPage, error)
	GetAnimal(ctx context.Context, id int64) (*animals.Detail, error)
}

// Config holds fetcher configuration.
type Config struct {
	// Concurrency is the number of parallel detail fetch workers
	// (default: 10).
	Concurrency int

	// PageTimeout bounds one listing page call, including its retries
	// (default: 60s).
	PageTimeout time.Duration

	// DetailTimeout bounds one detail fetch, including its retries
	// (default: 60s).
	DetailTimeout time.Duration
}

// DefaultConfig returns safe fetcher defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:   10,
		PageTimeout:   60 * time.Second,
		DetailTimeout: 60 * time.Second,
	}
}

// Failure records one animal whose detail fetch failed after retries.
type Failure struct {
	ID  int64
	Err error
}

// MarshalJSON renders the failure with its error text so run summaries
// serialize cleanly.
func (f Failure) MarshalJSON() ([]byte, error) {
	out := struct {
		ID    int64  `json:"id"`
		Error string `json:"error,omitempty"`
	}{ID: f.ID}
	if f.Err != nil {
		out.Error = f.Err.Error()
	}
	return json.Marshal(out)
}

// Result aggregates one full fetch pass: the listing walk plus all detail
// fetches. Details are sorted by ID; completion order is not preserved.
type Result struct {
	PagesListed int
	PagesFailed int
	IDsListed   int
	Details     []animals.Detail
	Failures    []Failure
}

// Fetcher lists animals and fetches their detail records concurrently.
type Fetcher struct {
	api    API
	config Config
	logger zerolog.Logger
}

// New creates a fetcher over the given API, filling in defaults for
// zero-valued config fields.
func New(api API, cfg Config) *Fetcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = 60 * time.Second
	}
	if cfg.DetailTimeout <= 0 {
		cfg.DetailTimeout = 60 * time.Second
	}

	return &Fetcher{
		api:    api,
		config: cfg,
		logger: logging.NewLogger("fetch"),
	}
}

// FetchAll walks every listing page and fetches each listed animal's detail
// record. A failure on the first page is fatal (there is nothing to work
// with); later page or detail failures are recorded in the Result and the
// run continues.
func (f *Fetcher) FetchAll(ctx context.Context) (*Result, error) {
	start := time.Now()

	summaries, pagesListed, pagesFailed, err := f.listAll(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, len(summaries))
	for i, s := range summaries {
		ids[i] = s.ID
	}

	details, failures := f.fetchDetails(ctx, ids)

	result := &Result{
		PagesListed: pagesListed,
		PagesFailed: pagesFailed,
		IDsListed:   len(ids),
		Details:     details,
		Failures:    failures,
	}

	f.logger.Info().
		Int("pages_listed", pagesListed).
		Int("pages_failed", pagesFailed).
		Int("ids_listed", len(ids)).
		Int("details_fetched", len(details)).
		Int("fetch_failures", len(failures)).
		Dur("duration", time.Since(start)).
		Msg("fetch complete")

	return result, nil
}

// listAll walks the listing sequentially. The first page decides the page
// count; a later page failing is logged and counted but does not stop the
// walk.
func (f *Fetcher) listAll(ctx context.Context) ([]animals.Summary, int, int, error) {
	first, err := f.listPage(ctx, 1)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("listing first page: %w", err)
	}

	f.logger.Info().
		Int("total_pages", first.TotalPages).
		Int("items", len(first.Items)).
		Msg("listing started")

	summaries := append([]animals.Summary{}, first.Items...)
	pagesListed, pagesFailed := 1, 0

	for page := 2; page <= first.TotalPages; page++ {
		if ctx.Err() != nil {
			skipped := first.TotalPages - page + 1
			pagesFailed += skipped
			f.logger.Warn().
				Int("pages_skipped", skipped).
				Msg("listing cancelled")
			break
		}

		p, err := f.listPage(ctx, page)
		if err != nil {
			pagesFailed++
			f.logger.Warn().
				Int("page", page).
				Err(err).
				Msg("page listing failed")
			continue
		}

		summaries = append(summaries, p.Items...)
		pagesListed++
	}

	return summaries, pagesListed, pagesFailed, nil
}

// listPage fetches one listing page under the page timeout.
func (f *Fetcher) listPage(ctx context.Context, page int) (*animals.ListPage, error) {
	pageCtx, cancel := context.WithTimeout(ctx, f.config.PageTimeout)
	defer cancel()
	return f.api.ListPage(pageCtx, page)
}

// detailResult is one worker outcome: either a detail or an error.
type detailResult struct {
	id     int64
	detail *animals.Detail
	err    error
}

// fetchDetails runs the worker pool over all listed IDs. Every ID produces
// exactly one outcome, cancellation included, so the caller can account for
// each animal. Results are sorted by ID for deterministic batching.
func (f *Fetcher) fetchDetails(ctx context.Context, ids []int64) ([]animals.Detail, []Failure) {
	if len(ids) == 0 {
		return []animals.Detail{}, nil
	}

	queue := make(chan int64, len(ids))
	results := make(chan detailResult, len(ids))

	var wg sync.WaitGroup
	for i := 0; i < f.config.Concurrency; i++ {
		wg.Add(1)
		go f.worker(ctx, i, queue, results, &wg)
	}

	for _, id := range ids {
		queue <- id
	}
	close(queue)

	go func() {
		wg.Wait()
		close(results)
	}()

	details := make([]animals.Detail, 0, len(ids))
	var failures []Failure
	fetched := 0

	for res := range results {
		if res.err != nil {
			failures = append(failures, Failure{ID: res.id, Err: res.err})
			continue
		}

		details = append(details, *res.detail)
		fetched++

		// Progress logging every 50 details
		if fetched%50 == 0 {
			f.logger.Info().
				Int("fetched", fetched).
				Int("total", len(ids)).
				Float64("progress_pct", float64(fetched)/float64(len(ids))*100).
				Msg("detail fetch progress")
		}
	}

	sort.Slice(details, func(i, j int) bool { return details[i].ID < details[j].ID })

	return details, failures
}

// worker processes IDs from the queue. After cancellation it keeps draining
// the queue, marking each remaining ID failed, so no animal is left without
// an outcome.
func (f *Fetcher) worker(ctx context.Context, workerID int, queue <-chan int64, results chan<- detailResult, wg *sync.WaitGroup) {
	defer wg.Done()
	processed := 0

	for id := range queue {
		if err := ctx.Err(); err != nil {
			etlDetailsFetchedTotal.WithLabelValues("cancelled").Inc()
			results <- detailResult{id: id, err: fmt.Errorf("fetch cancelled: %w", err)}
			continue
		}

		fetchCtx, cancel := context.WithTimeout(ctx, f.config.DetailTimeout)
		detail, err := f.api.GetAnimal(fetchCtx, id)
		cancel()

		if err != nil {
			etlDetailsFetchedTotal.WithLabelValues("failure").Inc()
			f.logger.Warn().
				Int64("animal_id", id).
				Int("worker_id", workerID).
				Err(err).
				Msg("detail fetch failed")
			results <- detailResult{id: id, err: err}
			continue
		}

		etlDetailsFetchedTotal.WithLabelValues("success").Inc()
		results <- detailResult{id: id, detail: detail}
		processed++
	}

	f.logger.Debug().
		Int("worker_id", workerID).
		Int("processed", processed).
		Msg("worker done")
}
