package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Sumatoshi-tech/shardmerge/pkg/archive"
	"github.com/Sumatoshi-tech/shardmerge/pkg/config"
	"github.com/Sumatoshi-tech/shardmerge/pkg/manifest"
	"github.com/Sumatoshi-tech/shardmerge/pkg/merge"
	"github.com/Sumatoshi-tech/shardmerge/pkg/observability"
	"github.com/Sumatoshi-tech/shardmerge/pkg/pipeline"
	"github.com/Sumatoshi-tech/shardmerge/pkg/shard"
	"github.com/Sumatoshi-tech/shardmerge/pkg/version"
	"github.com/Sumatoshi-tech/shardmerge/pkg/workerpool"
)

// app is the wired set of components one command works with.
type app struct {
	cfg       *config.Config
	providers observability.Providers
	logger    *slog.Logger
	scanner   *manifest.Scanner
	metrics   *observability.PipelineMetrics
}

// loadConfig loads the config file and applies command-line overrides.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	cfg, err := config.LoadConfig(flags.configPath)
	if err != nil {
		return nil, err
	}

	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}

	if flags.logJSON {
		cfg.Logging.JSON = true
	}

	_, err = cfg.LogLevel()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// newApp loads configuration and initializes observability for mode.
func newApp(flags *globalFlags, mode observability.AppMode) (*app, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}

	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version.Version
	obsCfg.Environment = cfg.Observability.Environment
	obsCfg.Mode = mode
	obsCfg.OTLPEndpoint = cfg.Observability.OTLPEndpoint
	obsCfg.OTLPHeaders = observability.ParseOTLPHeaders(cfg.Observability.OTLPHeaders)
	obsCfg.OTLPInsecure = cfg.Observability.OTLPInsecure
	obsCfg.DebugTrace = cfg.Observability.DebugTrace
	obsCfg.SampleRatio = cfg.Observability.SampleRatio
	obsCfg.ShutdownTimeoutSec = cfg.Observability.ShutdownTimeoutSec
	obsCfg.LogLevel = level
	obsCfg.LogJSON = cfg.Logging.JSON
	obsCfg.Prometheus = mode == observability.ModeDaemon && cfg.Server.MetricsAddr != ""

	providers, err := observability.Init(obsCfg)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	metrics, err := observability.NewPipelineMetrics(providers.Meter)
	if err != nil {
		return nil, errors.Join(err, providers.Shutdown(context.Background()))
	}

	scanner := manifest.NewScanner(cfg.Layout(), manifest.WithLogger(providers.Logger))

	return &app{
		cfg:       cfg,
		providers: providers,
		logger:    providers.Logger,
		scanner:   scanner,
		metrics:   metrics,
	}, nil
}

// driver wires the merge pipeline.
func (a *app) driver() (*pipeline.Driver, error) {
	writeBuffer, err := a.cfg.WriteBufferBytes()
	if err != nil {
		return nil, err
	}

	reader := shard.NewReader(
		a.cfg.RetryPolicy(),
		workerpool.New(a.cfg.Merge.Workers),
		shard.WithLogger(a.logger),
		shard.WithObserver(a.metrics),
	)

	merger := merge.NewMerger(
		merge.WithWriteBuffer(writeBuffer),
		merge.WithProgressEvery(a.cfg.Merge.ProgressEvery),
		merge.WithLogger(a.logger),
	)

	opts := []pipeline.Option{
		pipeline.WithLogger(a.logger),
		pipeline.WithTracer(a.providers.Tracer),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithPollInterval(a.cfg.Merge.PollInterval),
		pipeline.WithVersion(version.Version),
	}

	if manifest.Mode(a.cfg.Data.Mode) == manifest.ModeArchive {
		opts = append(opts, pipeline.WithArchive(archive.NewExpander(a.logger), a.cfg.Archive.HeaderTemplate))
	}

	return pipeline.NewDriver(a.scanner, reader, merger, opts...), nil
}

// close flushes telemetry.
func (a *app) close() {
	err := a.providers.Shutdown(context.Background())
	if err != nil {
		a.logger.Warn("observability shutdown failed", "error", err)
	}
}
