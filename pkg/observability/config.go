// Package observability provides OpenTelemetry-based tracing, metrics, and
// structured logging for the shardmerge daemon and its one-shot commands.
package observability

import "log/slog"

// AppMode identifies how the binary was launched. It is attached to the OTel
// resource and to every log record.
type AppMode string

const (
	ModeDaemon AppMode = "daemon" // long-running polling loop
	ModeOnce   AppMode = "once"   // a single cycle from the CLI
	ModeCLI    AppMode = "cli"    // status, config, version
)

const (
	defaultServiceName        = "shardmerge"
	defaultShutdownTimeoutSec = 5
)

// Config selects exporters and logging for Init.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Mode           AppMode

	// OTLPEndpoint is the gRPC collector address. Empty disables OTLP
	// export of both traces and metrics.
	OTLPEndpoint string
	OTLPHeaders  map[string]string
	OTLPInsecure bool

	// Prometheus adds a pull reader served by Providers.MetricsHandler.
	Prometheus bool

	// DebugTrace samples every span and logs attributes dropped by the
	// attribute filter.
	DebugTrace bool

	// SampleRatio applies when DebugTrace is off and OTEL_TRACES_SAMPLER is
	// unset. Zero means parent-based always-on.
	SampleRatio float64

	LogLevel slog.Level
	LogJSON  bool

	// ShutdownTimeoutSec bounds the final flush.
	ShutdownTimeoutSec int
}

// DefaultConfig returns a CLI-mode config with no exporters.
func DefaultConfig() Config {
	return Config{
		ServiceName:        defaultServiceName,
		Mode:               ModeCLI,
		LogLevel:           slog.LevelInfo,
		ShutdownTimeoutSec: defaultShutdownTimeoutSec,
	}
}
