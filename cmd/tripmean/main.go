package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/vegasq/tripmean/dataset"
	"github.com/vegasq/tripmean/exec"
	"github.com/vegasq/tripmean/internal/config"
	"github.com/vegasq/tripmean/internal/logging"
	"github.com/vegasq/tripmean/output"
	"github.com/vegasq/tripmean/query"
)

const usageExamples = `  tripmean ./data
  tripmean --start-date 2020-08-01 --end-date "2020-08-01 12:00" ./data
  tripmean -f table "s3://nyc-tlc/trip data/"
  tripmean --pattern '*.parquet' --parallelism 4 --timeout 2m ./data
  tripmean schema ./data/yellow_tripdata_2020-08.parquet`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 for bad input and 1 for everything else
func exitCode(err error) int {
	switch {
	case errors.Is(err, config.ErrInvalidConfig),
		errors.Is(err, query.ErrInvalidTimeRange),
		errors.Is(err, query.ErrSchemaMismatch):
		return 2
	default:
		return 1
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "tripmean [flags] <uri>",
		Short: "Mean trip distance per passenger count over NYC taxi trip files",
		Long: "tripmean reads yellow taxi trip Parquet files from a local path or an S3 prefix and\n" +
			"prints the mean trip distance for every passenger count, optionally restricted to\n" +
			"trips that start at or after --start-date and end at or before --end-date.",
		Example:       usageExamples,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, args)
			if err != nil {
				return err
			}
			return runQuery(cmd.Context(), cfg, stdout, stderr)
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "YAML configuration file")
	pf.String("log-level", "info", "Log level: debug, info, warn, error")
	pf.String("log-format", "logfmt", "Log format: logfmt, json")
	pf.StringP("format", "f", "text", "Output format: text, json, csv, table, yaml")
	pf.String("pattern", dataset.DefaultPattern, "Base name glob selecting data files under a directory or prefix")
	pf.Int("max-files", dataset.DefaultMaxFragments, "Maximum number of data files")
	pf.String("s3-endpoint", dataset.DefaultS3Endpoint, "S3 endpoint host[:port] or URL")
	pf.String("s3-region", "", "S3 region")
	pf.String("s3-access-key", "", "S3 access key (defaults to AWS_ACCESS_KEY_ID)")
	pf.String("s3-secret-key", "", "S3 secret key (defaults to AWS_SECRET_ACCESS_KEY)")
	pf.Bool("s3-insecure", false, "Use plain HTTP for S3")

	f := root.Flags()
	f.String("start-date", "", "Only trips picked up at or after this time (UTC unless a zone is given)")
	f.String("end-date", "", "Only trips dropped off at or before this time (UTC unless a zone is given)")
	f.Int("parallelism", 1, "Number of aggregate workers")
	f.Int("batch-size", dataset.DefaultBatchSize, "Maximum rows per scanned batch")
	f.Int("flush-every", 0, "Emit partial aggregates every N batches (0 = at end)")
	f.Int("queue-size", exec.DefaultQueueSize, "Batches buffered between stages")
	f.Duration("timeout", 0, "Give up waiting for the result after this long (0 = no limit)")
	f.String("metrics-file", "", "Write Prometheus metrics in text format to this file")

	root.AddCommand(newSchemaCmd(stdout, stderr))
	return root
}

func newSchemaCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "schema [flags] <uri>",
		Short: "Show the columns of the dataset",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, args)
			if err != nil {
				return err
			}
			logger, err := logging.New(stderr, cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			ds, err := dataset.Open(cmd.Context(), cfg.Source(), dataset.WithLogger(logger))
			if err != nil {
				return err
			}
			if n := len(ds.Fragments()); n > 1 {
				level.Info(logger).Log("msg", "showing schema of first file", "file", ds.Fragments()[0].Path(), "files", n)
			}
			columns, err := ds.Describe(cmd.Context())
			if err != nil {
				return err
			}
			return output.FormatSchema(stdout, cfg.Output.Format, columns)
		},
	}
}

func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if len(args) == 1 {
		cfg.Dataset.URI = args[0]
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runQuery(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	logger, err := logging.New(stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	// Bad input is reported before any file is touched
	start, end, err := query.ParseTimeRange(cfg.Query.Start, cfg.Query.End)
	if err != nil {
		return err
	}
	formatter, err := output.NewFormatter(cfg.Output.Format, stdout)
	if err != nil {
		return fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}

	ds, err := dataset.Open(ctx, cfg.Source(), dataset.WithLogger(logger))
	if err != nil {
		return err
	}
	level.Info(logger).Log("msg", "dataset opened", "uri", cfg.Dataset.URI, "files", len(ds.Fragments()))

	// Source, sink and every aggregate worker hold a slot
	pool, err := exec.NewPool(cfg.Query.Parallelism+2, logger)
	if err != nil {
		return err
	}
	defer pool.Release()

	reg := prometheus.NewRegistry()
	metrics := query.NewMetrics(reg)
	q := query.New(ds,
		query.WithLogger(logger),
		query.WithMetrics(metrics),
		query.WithPool(pool),
		query.WithParallelism(cfg.Query.Parallelism),
		query.WithBatchSize(cfg.Query.BatchSize),
		query.WithFlushEvery(cfg.Query.FlushEvery),
		query.WithQueueSize(cfg.Query.QueueSize),
		query.WithTimeout(cfg.Query.Timeout),
		query.WithColumns(cfg.Query.Columns),
	)

	results, err := q.GetAverageDistances(ctx, start, end)
	writeMetrics(logger, cfg.Output.MetricsFile, reg)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		level.Warn(logger).Log("msg", "no trips matched")
	}
	return formatter.Format(results)
}

func writeMetrics(logger log.Logger, path string, reg *prometheus.Registry) {
	if path == "" {
		return
	}
	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		level.Error(logger).Log("msg", "failed to write metrics", "file", path, "err", err)
	}
}
