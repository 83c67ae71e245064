package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/meghna0593/animals-etl/pkg/animals"
	"github.com/meghna0593/animals-etl/pkg/client"
	"github.com/meghna0593/animals-etl/pkg/load"
	"github.com/meghna0593/animals-etl/pkg/logging"
	"github.com/meghna0593/animals-etl/pkg/pipeline"
)

const version = "0.1.0"

func main() {
	// .env is optional and never overrides real environment variables.
	_ = godotenv.Load()

	if err := newApp().Run(os.Args); err != nil {
		// Coded exits are handled inside Run; anything else is unexpected.
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "animals-etl",
		Usage:   "list every animal, fetch details concurrently, transform them, and deliver them home in batches",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "base-url",
				Usage:   "animals API root `URL`",
				Value:   "http://localhost:3123",
				EnvVars: []string{"API_BASE_URL"},
			},
			&cli.IntFlag{
				Name:    "concurrency",
				Usage:   "parallel detail fetch workers",
				Value:   8,
				EnvVars: []string{"CONCURRENCY"},
			},
			&cli.IntFlag{
				Name:    "batch-size",
				Usage:   fmt.Sprintf("records per home batch, 1 to %d", load.MaxBatchSize),
				Value:   load.MaxBatchSize,
				EnvVars: []string{"BATCH_SIZE"},
			},
			&cli.IntFlag{
				Name:    "retries",
				Usage:   "additional attempts after a failed request",
				Value:   6,
				EnvVars: []string{"MAX_RETRIES"},
			},
			&cli.DurationFlag{
				Name:    "connect-timeout",
				Usage:   "TCP dial timeout",
				Value:   5 * time.Second,
				EnvVars: []string{"CONNECT_TIMEOUT"},
			},
			&cli.DurationFlag{
				Name:    "read-timeout",
				Usage:   "full request/response timeout",
				Value:   30 * time.Second,
				EnvVars: []string{"READ_TIMEOUT"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "debug, info, warn, or error",
				Value:   "info",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.BoolFlag{
				Name:  "pretty",
				Usage: "human-readable console logs instead of JSON",
			},
			&cli.BoolFlag{
				Name:  "summary-json",
				Usage: "print the run summary as JSON on stdout",
			},
			&cli.StringFlag{
				Name:    "metrics-addr",
				Usage:   "serve Prometheus metrics on `ADDR` (e.g. :9090) for the duration of the run",
				EnvVars: []string{"METRICS_ADDR"},
			},
		},
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	logging.Setup(logging.Config{
		Level:  logging.LogLevel(c.String("log-level")),
		Pretty: c.Bool("pretty"),
	})
	logger := logging.NewLogger("cli")

	if err := validateFlags(c); err != nil {
		return cli.Exit(fmt.Sprintf("animals-etl: %v", err), 2)
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Warn().Str("signal", sig.String()).Msg("shutdown signal received, draining")
			cancel()
		case <-ctx.Done():
		}
	}()

	if addr := c.String("metrics-addr"); addr != "" {
		startMetricsServer(ctx, logger, addr)
	}

	httpClient := client.New(client.Config{
		BaseURL:        c.String("base-url"),
		ConnectTimeout: c.Duration("connect-timeout"),
		ReadTimeout:    c.Duration("read-timeout"),
		MaxRetries:     c.Int("retries"),
	})
	defer httpClient.Close()

	api := animals.NewAPI(httpClient)

	job := pipeline.New(api, pipeline.Config{
		Concurrency: c.Int("concurrency"),
		BatchSize:   c.Int("batch-size"),
	})

	summary, err := job.Run(ctx)
	if err != nil {
		if client.ClassOf(err) == client.ClassValidation {
			return cli.Exit(fmt.Sprintf("animals-etl: %v", err), 2)
		}
		return cli.Exit(fmt.Sprintf("animals-etl: %v", err), 1)
	}

	if c.Bool("summary-json") {
		out, merr := json.MarshalIndent(summary, "", "  ")
		if merr != nil {
			return cli.Exit(fmt.Sprintf("animals-etl: marshaling summary: %v", merr), 1)
		}
		fmt.Fprintln(c.App.Writer, string(out))
		return nil
	}

	fmt.Fprintf(c.App.Writer, "%s: %d listed, %d fetched, %d transformed, %d/%d batches delivered (%d records) in %.1fs\n",
		summary.Status,
		summary.IDsListed,
		summary.DetailsFetched,
		summary.Transformed,
		summary.BatchesPosted,
		summary.BatchesPosted+summary.BatchesFailed,
		summary.RecordsPosted,
		summary.ElapsedSeconds,
	)

	return nil
}

// validateFlags rejects configurations the run could not honor. Violations
// are usage errors and exit with code 2.
func validateFlags(c *cli.Context) error {
	base := c.String("base-url")
	if base == "" {
		return fmt.Errorf("base-url must not be empty")
	}
	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("base-url %q is not an absolute URL", base)
	}

	if n := c.Int("concurrency"); n < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", n)
	}
	if n := c.Int("batch-size"); n < 1 || n > load.MaxBatchSize {
		return fmt.Errorf("batch-size must be between 1 and %d, got %d", load.MaxBatchSize, n)
	}
	if n := c.Int("retries"); n < 0 {
		return fmt.Errorf("retries must not be negative, got %d", n)
	}

	return nil
}

// startMetricsServer exposes /metrics on addr until the run context ends.
// A batch job has no long-lived server, so scraping is only possible while
// the run is in flight.
func startMetricsServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn().Err(err).Msg("metrics server stopped")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
