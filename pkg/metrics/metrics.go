// Package metrics provides the centralized Prometheus metrics registry for
// the animals ETL. All metrics are defined in their respective packages
// (client, fetch, transform, load) to maintain modularity and avoid
// circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the ETL.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - etl_requests_total{endpoint, status} (Counter): Total requests by endpoint and HTTP status
//   - etl_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - etl_errors_total{class} (Counter): Errors by class (transport, server, rate_limit, client_request, validation, malformed)
//
// Retry Metrics (pkg/client):
//   - etl_retries_total{class} (Counter): Retry attempts by error class
//   - etl_retry_backoff_seconds{class} (Histogram): Backoff delay before each retry
//   - etl_retry_exhausted_total{class} (Counter): Requests that exhausted max retries
//
// Stage Metrics (pkg/fetch, pkg/transform, pkg/load):
//   - etl_details_fetched_total{result} (Counter): Detail fetches by result (success, failure, cancelled)
//   - etl_records_transformed_total{result} (Counter): Transformations by result (success, invalid_timestamp)
//   - etl_batches_posted_total{result} (Counter): Home batches by result (success, failure, cancelled)
//
// Endpoint labels are normalized: numeric path segments collapse to {id},
// so /animals/v1/animals/42 and /animals/v1/animals/7 share one series.
//
// Example Prometheus Queries:
//
//   # Request Error Rate
//   rate(etl_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(etl_request_duration_seconds_bucket[5m]))
//
//   # Detail Fetch Success Rate
//   sum(rate(etl_details_fetched_total{result="success"}[5m])) /
//   sum(rate(etl_details_fetched_total[5m]))
//
//   # Retry Pressure by Class
//   sum by (class) (rate(etl_retries_total[5m]))
//
//   # Batch Delivery Failures
//   rate(etl_batches_posted_total{result="failure"}[5m])
