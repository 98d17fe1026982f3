// Package config loads tripmean settings from defaults, an optional YAML
// file, TRIPMEAN_* environment variables and command line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/vegasq/tripmean/dataset"
	"github.com/vegasq/tripmean/query"
)

// EnvPrefix prefixes every environment variable, e.g. TRIPMEAN_QUERY_TIMEOUT.
const EnvPrefix = "TRIPMEAN"

// ErrInvalidConfig is returned when loaded settings fail validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete tripmean configuration.
type Config struct {
	Dataset DatasetConfig `mapstructure:"dataset"`
	Query   QueryConfig   `mapstructure:"query"`
	Output  OutputConfig  `mapstructure:"output"`
	Log     LogConfig     `mapstructure:"log"`
}

// DatasetConfig locates the trip files.
type DatasetConfig struct {
	URI      string            `mapstructure:"uri"`
	Pattern  string            `mapstructure:"pattern"`
	MaxFiles int               `mapstructure:"max_files"`
	S3       dataset.S3Options `mapstructure:"s3"`
}

// QueryConfig holds the time range and execution tuning.
type QueryConfig struct {
	Start       string        `mapstructure:"start"`
	End         string        `mapstructure:"end"`
	Parallelism int           `mapstructure:"parallelism"`
	BatchSize   int           `mapstructure:"batch_size"`
	FlushEvery  int           `mapstructure:"flush_every"`
	QueueSize   int           `mapstructure:"queue_size"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Columns     query.Columns `mapstructure:"columns"`
}

// OutputConfig selects the result format and metrics destination.
type OutputConfig struct {
	Format      string `mapstructure:"format"`
	MetricsFile string `mapstructure:"metrics_file"`
}

// LogConfig sets the log level and encoding.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// FlagKeys maps command line flag names to configuration keys.
var FlagKeys = map[string]string{
	"pattern":       "dataset.pattern",
	"max-files":     "dataset.max_files",
	"s3-endpoint":   "dataset.s3.endpoint",
	"s3-region":     "dataset.s3.region",
	"s3-access-key": "dataset.s3.access_key",
	"s3-secret-key": "dataset.s3.secret_key",
	"s3-insecure":   "dataset.s3.insecure",
	"start-date":    "query.start",
	"end-date":      "query.end",
	"parallelism":   "query.parallelism",
	"batch-size":    "query.batch_size",
	"flush-every":   "query.flush_every",
	"queue-size":    "query.queue_size",
	"timeout":       "query.timeout",
	"format":        "output.format",
	"metrics-file":  "output.metrics_file",
	"log-level":     "log.level",
	"log-format":    "log.format",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("dataset.uri", "")
	v.SetDefault("dataset.pattern", dataset.DefaultPattern)
	v.SetDefault("dataset.max_files", dataset.DefaultMaxFragments)
	v.SetDefault("dataset.s3.endpoint", dataset.DefaultS3Endpoint)
	v.SetDefault("dataset.s3.region", "")
	v.SetDefault("dataset.s3.access_key", "")
	v.SetDefault("dataset.s3.secret_key", "")
	v.SetDefault("dataset.s3.insecure", false)

	v.SetDefault("query.start", "")
	v.SetDefault("query.end", "")
	v.SetDefault("query.parallelism", 1)
	v.SetDefault("query.batch_size", dataset.DefaultBatchSize)
	v.SetDefault("query.flush_every", 0)
	v.SetDefault("query.queue_size", 4)
	v.SetDefault("query.timeout", time.Duration(0))
	v.SetDefault("query.columns.pickup", query.DefaultColumns.Pickup)
	v.SetDefault("query.columns.dropoff", query.DefaultColumns.Dropoff)
	v.SetDefault("query.columns.group", query.DefaultColumns.Group)
	v.SetDefault("query.columns.measure", query.DefaultColumns.Measure)

	v.SetDefault("output.format", "text")
	v.SetDefault("output.metrics_file", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "logfmt")
}

// Load reads the configuration. path names an optional YAML file; flags,
// when not nil, overrides every other source for the flags that were set.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range FlagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	if c.Dataset.URI == "" {
		return fmt.Errorf("%w: dataset uri is required", ErrInvalidConfig)
	}
	if c.Dataset.MaxFiles < 0 {
		return fmt.Errorf("%w: max files must not be negative, got %d", ErrInvalidConfig, c.Dataset.MaxFiles)
	}
	if c.Query.Parallelism <= 0 {
		return fmt.Errorf("%w: parallelism must be positive, got %d", ErrInvalidConfig, c.Query.Parallelism)
	}
	if c.Query.BatchSize < 0 {
		return fmt.Errorf("%w: batch size must not be negative, got %d", ErrInvalidConfig, c.Query.BatchSize)
	}
	if c.Query.FlushEvery < 0 {
		return fmt.Errorf("%w: flush interval must not be negative, got %d", ErrInvalidConfig, c.Query.FlushEvery)
	}
	if c.Query.QueueSize < 0 {
		return fmt.Errorf("%w: queue size must not be negative, got %d", ErrInvalidConfig, c.Query.QueueSize)
	}
	if c.Query.Timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative, got %s", ErrInvalidConfig, c.Query.Timeout)
	}
	if err := c.Query.Columns.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "logfmt", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.Log.Format)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, c.Log.Level)
	}
	return nil
}

// Source returns the dataset location described by c.
func (c *Config) Source() dataset.Source {
	return dataset.Source{
		URI:          c.Dataset.URI,
		Pattern:      c.Dataset.Pattern,
		MaxFragments: c.Dataset.MaxFiles,
		S3:           c.Dataset.S3,
	}
}
