// Package load partitions transformed records into size-limited batches and
// posts them to the home endpoint.
package load

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/meghna0593/animals-etl/pkg/animals"
	"github.com/meghna0593/animals-etl/pkg/logging"
)

// MaxBatchSize is the largest batch the home endpoint accepts.
const MaxBatchSize = 100

// Prometheus metrics for batch posting.
var etlBatchesPostedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "etl_batches_posted_total",
	Help: "Total batches posted by result",
}, []string{"result"})

// Poster is the delivery surface the loader needs. *animals.API satisfies it.
type Poster interface {
	PostHome(ctx context.Context, batch []animals.Transformed) (*animals.HomeResponse, error)
}

// Outcome is the result of posting one batch.
type Outcome struct {
	// Batch is the 1-based batch ordinal.
	Batch int

	// Size is the number of records in the batch.
	Size int

	// Ack is the server acknowledgement message on success.
	Ack string

	// Err is set when the batch could not be delivered.
	Err error
}

// Chunk partitions records into contiguous, order-preserving batches of at
// most size records; the last batch may be short. Size is clamped to
// [1, MaxBatchSize]. Concatenating the batches yields the input.
func Chunk(records []animals.Transformed, size int) [][]animals.Transformed {
	size = clampBatchSize(size)

	if len(records) == 0 {
		return nil
	}

	batches := make([][]animals.Transformed, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		batches = append(batches, records[start:end])
	}
	return batches
}

// clampBatchSize forces size into [1, MaxBatchSize].
func clampBatchSize(size int) int {
	if size < 1 {
		return 1
	}
	if size > MaxBatchSize {
		return MaxBatchSize
	}
	return size
}

// Loader posts batches of transformed records.
type Loader struct {
	poster Poster
	logger zerolog.Logger
}

// New creates a loader over the given poster.
func New(poster Poster) *Loader {
	return &Loader{
		poster: poster,
		logger: logging.NewLogger("load"),
	}
}

// LoadAll chunks records and posts the batches sequentially, one Outcome per
// batch. A failed batch is logged and the loop continues with the next.
// Cancellation stops before the next post and marks every remaining batch
// failed with the context error.
func (l *Loader) LoadAll(ctx context.Context, records []animals.Transformed, batchSize int) []Outcome {
	batches := Chunk(records, batchSize)
	if len(batches) == 0 {
		l.logger.Info().Msg("nothing to load")
		return nil
	}

	l.logger.Info().
		Int("records", len(records)).
		Int("batches", len(batches)).
		Int("batch_size", clampBatchSize(batchSize)).
		Msg("loading started")

	outcomes := make([]Outcome, 0, len(batches))
	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			for j := i; j < len(batches); j++ {
				etlBatchesPostedTotal.WithLabelValues("cancelled").Inc()
				outcomes = append(outcomes, Outcome{
					Batch: j + 1,
					Size:  len(batches[j]),
					Err:   fmt.Errorf("load cancelled: %w", err),
				})
			}
			l.logger.Warn().
				Int("batches_skipped", len(batches)-i).
				Msg("loading cancelled")
			break
		}

		ordinal := i + 1
		resp, err := l.poster.PostHome(ctx, batch)
		if err != nil {
			etlBatchesPostedTotal.WithLabelValues("failure").Inc()
			l.logger.Warn().
				Int("batch", ordinal).
				Int("size", len(batch)).
				Err(err).
				Msg("batch post failed")
			outcomes = append(outcomes, Outcome{Batch: ordinal, Size: len(batch), Err: err})
			continue
		}

		etlBatchesPostedTotal.WithLabelValues("success").Inc()
		l.logger.Info().
			Int("batch", ordinal).
			Int("batches", len(batches)).
			Int("size", len(batch)).
			Str("ack", resp.Message).
			Msg("batch posted")
		outcomes = append(outcomes, Outcome{Batch: ordinal, Size: len(batch), Ack: resp.Message})
	}

	return outcomes
}
