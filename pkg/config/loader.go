package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/Sumatoshi-tech/shardmerge/pkg/manifest"
)

// The config file is .shardmerge.yaml; SHARDMERGE_MERGE_WORKERS overrides
// merge.workers.
const (
	configName      = ".shardmerge"
	configType      = "yaml"
	envPrefix       = "SHARDMERGE"
	envKeySeparator = "_"
)

// LoadConfig layers defaults, the config file and SHARDMERGE_* environment
// variables, then validates the result. An explicit configPath must exist;
// otherwise .shardmerge.yaml is looked up in the working directory and $HOME,
// and its absence is not an error.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file or env vars are set.
func Default() *Config {
	return &Config{
		Data: DataConfig{
			Root:           DefaultDataRoot,
			ManifestPrefix: DefaultManifestPrefix,
			OutputToken:    DefaultOutputToken,
			DataPath:       DefaultDataPath,
			ShardPattern:   DefaultShardPattern,
			OutputExt:      DefaultOutputExt,
			MarkerSuffix:   DefaultMarkerSuffix,
			Exclude:        []string{},
			Mode:           DefaultMode,
		},
		Tables: manifest.DefaultTables(),
		Merge: MergeConfig{
			Workers:       DefaultMergeWorkers,
			MaxRetries:    DefaultMergeMaxRetries,
			RetryBackoff:  DefaultMergeRetryBackoff,
			PollInterval:  DefaultMergePollInterval,
			WriteBuffer:   DefaultMergeWriteBuffer,
			ProgressEvery: DefaultMergeProgressEvery,
		},
		Archive: ArchiveConfig{
			SourceDir:     DefaultArchiveSourceDir,
			BundlePattern: DefaultBundlePattern,
		},
		Logging: LoggingConfig{
			Level: DefaultLogLevel,
			JSON:  DefaultLogJSON,
		},
		Observability: ObservabilityConfig{
			ShutdownTimeoutSec: DefaultShutdownTimeoutSecs,
		},
		Server: ServerConfig{
			MetricsAddr:  DefaultMetricsAddr,
			ReadTimeout:  DefaultServerReadTimeout,
			WriteTimeout: DefaultServerWriteTimeout,
		},
	}
}

func applyDefaults(viperCfg *viper.Viper) {
	def := Default()

	viperCfg.SetDefault("data.root", def.Data.Root)
	viperCfg.SetDefault("data.manifest_prefix", def.Data.ManifestPrefix)
	viperCfg.SetDefault("data.output_token", def.Data.OutputToken)
	viperCfg.SetDefault("data.data_path", def.Data.DataPath)
	viperCfg.SetDefault("data.shard_pattern", def.Data.ShardPattern)
	viperCfg.SetDefault("data.output_ext", def.Data.OutputExt)
	viperCfg.SetDefault("data.marker_suffix", def.Data.MarkerSuffix)
	viperCfg.SetDefault("data.exclude", def.Data.Exclude)
	viperCfg.SetDefault("data.mode", def.Data.Mode)

	viperCfg.SetDefault("tables", def.Tables)

	viperCfg.SetDefault("merge.workers", def.Merge.Workers)
	viperCfg.SetDefault("merge.max_retries", def.Merge.MaxRetries)
	viperCfg.SetDefault("merge.retry_backoff", def.Merge.RetryBackoff)
	viperCfg.SetDefault("merge.poll_interval", def.Merge.PollInterval)
	viperCfg.SetDefault("merge.write_buffer", def.Merge.WriteBuffer)
	viperCfg.SetDefault("merge.progress_every", def.Merge.ProgressEvery)

	viperCfg.SetDefault("archive.header_template", def.Archive.HeaderTemplate)
	viperCfg.SetDefault("archive.source_dir", def.Archive.SourceDir)
	viperCfg.SetDefault("archive.bundle_pattern", def.Archive.BundlePattern)

	viperCfg.SetDefault("logging.level", def.Logging.Level)
	viperCfg.SetDefault("logging.json", def.Logging.JSON)

	viperCfg.SetDefault("observability.environment", def.Observability.Environment)
	viperCfg.SetDefault("observability.otlp_endpoint", def.Observability.OTLPEndpoint)
	viperCfg.SetDefault("observability.otlp_headers", def.Observability.OTLPHeaders)
	viperCfg.SetDefault("observability.otlp_insecure", def.Observability.OTLPInsecure)
	viperCfg.SetDefault("observability.sample_ratio", def.Observability.SampleRatio)
	viperCfg.SetDefault("observability.debug_trace", def.Observability.DebugTrace)
	viperCfg.SetDefault("observability.shutdown_timeout_sec", def.Observability.ShutdownTimeoutSec)

	viperCfg.SetDefault("server.metrics_addr", def.Server.MetricsAddr)
	viperCfg.SetDefault("server.read_timeout", def.Server.ReadTimeout)
	viperCfg.SetDefault("server.write_timeout", def.Server.WriteTimeout)
}
