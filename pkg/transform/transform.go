// Package transform converts raw animal detail records into the home-ready
// shape: friends parsed from a comma-delimited string into a list, born_at
// normalized from an epoch timestamp into an ISO8601 UTC string.
package transform

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/meghna0593/animals-etl/pkg/animals"
)

// Prometheus metrics for transformation outcomes.
var etlRecordsTransformedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "etl_records_transformed_total",
	Help: "Total records transformed by result",
}, []string{"result"})

// ErrInvalidTimestamp is returned when a born_at value cannot be interpreted
// as a past-or-present epoch time. Transformation fails closed: a record
// with a bad timestamp is rejected rather than delivered with a guessed
// value.
var ErrInvalidTimestamp = errors.New("invalid timestamp")

// Error reports a record that could not be transformed, identifying the
// animal and the offending field.
type Error struct {
	AnimalID int64
	Field    string
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("transforming animal %d field %q: %v", e.AnimalID, e.Field, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Epoch unit detection thresholds. The API does not declare its unit, so it
// is inferred from magnitude: values this large can only be the finer unit.
const (
	nanosFloor  = int64(1_000_000_000_000_000_000) // >= 1e18: nanoseconds
	microsFloor = int64(1_000_000_000_000_000)     // >= 1e15: microseconds
	millisFloor = int64(1_000_000_000_000)         // >= 1e12: milliseconds
)

// Record transforms one detail record. The friends string is split into a
// trimmed list (always non-nil, possibly empty); a present born_at is
// converted to ISO8601 UTC, and an invalid one fails the whole record with
// ErrInvalidTimestamp.
func Record(d *animals.Detail) (animals.Transformed, error) {
	out := animals.Transformed{
		ID:      d.ID,
		Name:    d.Name,
		Friends: SplitFriends(d.Friends),
	}

	if d.BornAt != nil {
		iso, err := EpochToISO8601UTC(*d.BornAt)
		if err != nil {
			etlRecordsTransformedTotal.WithLabelValues("invalid_timestamp").Inc()
			return animals.Transformed{}, &Error{AnimalID: d.ID, Field: "born_at", Err: err}
		}
		out.BornAt = iso
	}

	etlRecordsTransformedTotal.WithLabelValues("success").Inc()
	return out, nil
}

// SplitFriends splits a comma-delimited friends string into a trimmed list,
// dropping empty entries. The result is never nil so it serializes as a
// JSON array.
func SplitFriends(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// EpochToISO8601UTC converts an epoch timestamp of auto-detected unit to an
// ISO8601 UTC string with a Z suffix. Sub-second precision is kept only when
// present, so the string parses back to the exact input instant. Negative or
// future timestamps are rejected with ErrInvalidTimestamp.
func EpochToISO8601UTC(epoch int64) (string, error) {
	return epochToISO8601UTC(epoch, time.Now().UTC())
}

func epochToISO8601UTC(epoch int64, now time.Time) (string, error) {
	if epoch < 0 {
		return "", fmt.Errorf("%w: negative epoch %d", ErrInvalidTimestamp, epoch)
	}

	var t time.Time
	switch {
	case epoch >= nanosFloor:
		t = time.Unix(0, epoch)
	case epoch >= microsFloor:
		t = time.UnixMicro(epoch)
	case epoch >= millisFloor:
		t = time.UnixMilli(epoch)
	default:
		t = time.Unix(epoch, 0)
	}
	t = t.UTC()

	if t.After(now) {
		return "", fmt.Errorf("%w: %s is in the future", ErrInvalidTimestamp, t.Format(time.RFC3339Nano))
	}

	return t.Format(time.RFC3339Nano), nil
}
