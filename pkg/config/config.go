// Package config provides YAML/env configuration for shardmerge.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Sumatoshi-tech/shardmerge/pkg/manifest"
	"github.com/Sumatoshi-tech/shardmerge/pkg/retry"
	"github.com/Sumatoshi-tech/shardmerge/pkg/safeconv"
)

// Config is the top-level configuration struct for shardmerge.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	Data          DataConfig          `mapstructure:"data"          yaml:"data"`
	Tables        []string            `mapstructure:"tables"        yaml:"tables"`
	Merge         MergeConfig         `mapstructure:"merge"         yaml:"merge"`
	Archive       ArchiveConfig       `mapstructure:"archive"       yaml:"archive"`
	Logging       LoggingConfig       `mapstructure:"logging"       yaml:"logging"`
	Observability ObservabilityConfig `mapstructure:"observability" yaml:"observability"`
	Server        ServerConfig        `mapstructure:"server"        yaml:"server"`
}

// DataConfig describes where manifests live and how they are laid out.
type DataConfig struct {
	Root           string   `mapstructure:"root"            yaml:"root"`
	ManifestPrefix string   `mapstructure:"manifest_prefix" yaml:"manifest_prefix"`
	OutputToken    string   `mapstructure:"output_token"    yaml:"output_token"`
	DataPath       string   `mapstructure:"data_path"       yaml:"data_path"`
	ShardPattern   string   `mapstructure:"shard_pattern"   yaml:"shard_pattern"`
	OutputExt      string   `mapstructure:"output_ext"      yaml:"output_ext"`
	MarkerSuffix   string   `mapstructure:"marker_suffix"   yaml:"marker_suffix"`
	Exclude        []string `mapstructure:"exclude"         yaml:"exclude"`
	Mode           string   `mapstructure:"mode"            yaml:"mode"`
}

// MergeConfig holds merge pipeline knobs.
type MergeConfig struct {
	Workers       int           `mapstructure:"workers"        yaml:"workers"`
	MaxRetries    int           `mapstructure:"max_retries"    yaml:"max_retries"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"  yaml:"retry_backoff"`
	PollInterval  time.Duration `mapstructure:"poll_interval"  yaml:"poll_interval"`
	WriteBuffer   string        `mapstructure:"write_buffer"   yaml:"write_buffer"`
	ProgressEvery int           `mapstructure:"progress_every" yaml:"progress_every"`
}

// ArchiveConfig holds archive input mode settings.
type ArchiveConfig struct {
	HeaderTemplate string `mapstructure:"header_template" yaml:"header_template"`
	SourceDir      string `mapstructure:"source_dir"      yaml:"source_dir"`
	BundlePattern  string `mapstructure:"bundle_pattern"  yaml:"bundle_pattern"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	JSON  bool   `mapstructure:"json"  yaml:"json"`
}

// ObservabilityConfig holds OpenTelemetry export settings.
type ObservabilityConfig struct {
	Environment        string  `mapstructure:"environment"          yaml:"environment"`
	OTLPEndpoint       string  `mapstructure:"otlp_endpoint"        yaml:"otlp_endpoint"`
	OTLPHeaders        string  `mapstructure:"otlp_headers"         yaml:"otlp_headers"`
	OTLPInsecure       bool    `mapstructure:"otlp_insecure"        yaml:"otlp_insecure"`
	SampleRatio        float64 `mapstructure:"sample_ratio"         yaml:"sample_ratio"`
	DebugTrace         bool    `mapstructure:"debug_trace"          yaml:"debug_trace"`
	ShutdownTimeoutSec int     `mapstructure:"shutdown_timeout_sec" yaml:"shutdown_timeout_sec"`
}

// ServerConfig holds the optional metrics/health HTTP listener settings.
type ServerConfig struct {
	MetricsAddr  string        `mapstructure:"metrics_addr"  yaml:"metrics_addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"  yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// maxSampleRatio is the upper bound for the trace sampling ratio.
const maxSampleRatio = 1.0

// maxWriteBuffer is the largest accepted merge.write_buffer.
const maxWriteBuffer = humanize.GiByte

// Sentinel errors for configuration validation.
var (
	// ErrEmptyRoot indicates data.root is empty.
	ErrEmptyRoot = errors.New("data.root must not be empty")
	// ErrEmptyPrefix indicates data.manifest_prefix is empty.
	ErrEmptyPrefix = errors.New("data.manifest_prefix must not be empty")
	// ErrSameOutputToken indicates outputs would be named like manifests.
	ErrSameOutputToken = errors.New("data.output_token must differ from data.manifest_prefix")
	// ErrEmptyMarkerSuffix indicates data.marker_suffix is empty.
	ErrEmptyMarkerSuffix = errors.New("data.marker_suffix must not be empty")
	// ErrInvalidMode indicates an unknown data.mode.
	ErrInvalidMode = errors.New("data.mode must be shards or archive")
	// ErrNoTables indicates the table list is empty.
	ErrNoTables = errors.New("tables must not be empty")
	// ErrInvalidTableName indicates a table name that is not a plain directory name.
	ErrInvalidTableName = errors.New("table names must be plain directory names")
	// ErrInvalidWorkers indicates the workers value is negative.
	ErrInvalidWorkers = errors.New("merge.workers must be non-negative")
	// ErrInvalidMaxRetries indicates the retry ceiling is negative.
	ErrInvalidMaxRetries = errors.New("merge.max_retries must be non-negative")
	// ErrInvalidRetryBackoff indicates the retry backoff is negative.
	ErrInvalidRetryBackoff = errors.New("merge.retry_backoff must be non-negative")
	// ErrInvalidPollInterval indicates the poll interval is not positive.
	ErrInvalidPollInterval = errors.New("merge.poll_interval must be positive")
	// ErrInvalidWriteBuffer indicates an unparsable buffer size.
	ErrInvalidWriteBuffer = errors.New("merge.write_buffer must be a byte size such as 1MiB")
	// ErrMissingHeaderTemplate indicates archive mode without a header template.
	ErrMissingHeaderTemplate = errors.New("archive.header_template is required in archive mode")
	// ErrInvalidLogLevel indicates an unknown logging.level.
	ErrInvalidLogLevel = errors.New("logging.level must be debug, info, warn or error")
	// ErrInvalidSampleRatio indicates the sampling ratio is out of range.
	ErrInvalidSampleRatio = errors.New("observability.sample_ratio must be between 0 and 1")
)

// Validate checks Config invariants and returns the first error found.
func (c *Config) Validate() error {
	dataErr := c.validateData()
	if dataErr != nil {
		return dataErr
	}

	mergeErr := c.validateMerge()
	if mergeErr != nil {
		return mergeErr
	}

	_, levelErr := c.LogLevel()
	if levelErr != nil {
		return levelErr
	}

	if c.Observability.SampleRatio < 0 || c.Observability.SampleRatio > maxSampleRatio {
		return ErrInvalidSampleRatio
	}

	return nil
}

func (c *Config) validateData() error {
	if c.Data.Root == "" {
		return ErrEmptyRoot
	}

	if c.Data.ManifestPrefix == "" {
		return ErrEmptyPrefix
	}

	if c.Data.OutputToken == c.Data.ManifestPrefix {
		return ErrSameOutputToken
	}

	if c.Data.MarkerSuffix == "" {
		return ErrEmptyMarkerSuffix
	}

	switch manifest.Mode(c.Data.Mode) {
	case manifest.ModeShards:
	case manifest.ModeArchive:
		if c.Archive.HeaderTemplate == "" {
			return ErrMissingHeaderTemplate
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, c.Data.Mode)
	}

	if len(c.Tables) == 0 {
		return ErrNoTables
	}

	for _, table := range c.Tables {
		if table == "" || table == "." || table == ".." || strings.ContainsAny(table, `/\`) {
			return fmt.Errorf("%w: %q", ErrInvalidTableName, table)
		}
	}

	return nil
}

func (c *Config) validateMerge() error {
	if c.Merge.Workers < 0 {
		return ErrInvalidWorkers
	}

	if c.Merge.MaxRetries < 0 {
		return ErrInvalidMaxRetries
	}

	if c.Merge.RetryBackoff < 0 {
		return ErrInvalidRetryBackoff
	}

	if c.Merge.PollInterval <= 0 {
		return ErrInvalidPollInterval
	}

	_, bufErr := c.WriteBufferBytes()

	return bufErr
}

// WriteBufferBytes parses merge.write_buffer. Empty means the default size.
func (c *Config) WriteBufferBytes() (int, error) {
	raw := strings.TrimSpace(c.Merge.WriteBuffer)
	if raw == "" {
		raw = DefaultMergeWriteBuffer
	}

	size, err := humanize.ParseBytes(raw)
	if err != nil || size == 0 || size > maxWriteBuffer {
		return 0, fmt.Errorf("%w: %q", ErrInvalidWriteBuffer, c.Merge.WriteBuffer)
	}

	n, ok := safeconv.Uint64ToInt(size)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidWriteBuffer, c.Merge.WriteBuffer)
	}

	return n, nil
}

// LogLevel parses logging.level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level

	err := level.UnmarshalText([]byte(c.Logging.Level))
	if err != nil {
		return slog.LevelInfo, fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Logging.Level)
	}

	return level, nil
}

// Layout returns the manifest layout described by the data section.
func (c *Config) Layout() manifest.Layout {
	return manifest.Layout{
		Root:             c.Data.Root,
		Prefix:           c.Data.ManifestPrefix,
		OutputToken:      c.Data.OutputToken,
		DataPath:         c.Data.DataPath,
		ShardPattern:     c.Data.ShardPattern,
		OutputExt:        c.Data.OutputExt,
		MarkerSuffix:     c.Data.MarkerSuffix,
		Exclude:          c.Data.Exclude,
		Tables:           c.Tables,
		Mode:             manifest.Mode(c.Data.Mode),
		ArchiveSourceDir: c.Archive.SourceDir,
		BundlePattern:    c.Archive.BundlePattern,
	}
}

// RetryPolicy returns the shard read retry policy.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries: c.Merge.MaxRetries,
		Backoff:    c.Merge.RetryBackoff,
	}
}
