package config

import (
	"time"

	"github.com/Sumatoshi-tech/shardmerge/pkg/manifest"
	"github.com/Sumatoshi-tech/shardmerge/pkg/merge"
	"github.com/Sumatoshi-tech/shardmerge/pkg/retry"
	"github.com/Sumatoshi-tech/shardmerge/pkg/workerpool"
)

// Data layout defaults.
const (
	DefaultDataRoot         = manifest.DefaultRoot
	DefaultManifestPrefix   = manifest.DefaultPrefix
	DefaultOutputToken      = manifest.DefaultOutputToken
	DefaultDataPath         = manifest.DefaultDataPath
	DefaultShardPattern     = manifest.DefaultShardPattern
	DefaultOutputExt        = manifest.DefaultOutputExt
	DefaultMarkerSuffix     = manifest.DefaultMarkerSuffix
	DefaultMode             = string(manifest.ModeShards)
	DefaultArchiveSourceDir = manifest.DefaultArchiveSourceDir
	DefaultBundlePattern    = manifest.DefaultBundlePattern
)

// Merge defaults.
const (
	DefaultMergeWorkers       = workerpool.DefaultWorkers
	DefaultMergeMaxRetries    = retry.DefaultMaxRetries
	DefaultMergeRetryBackoff  = retry.DefaultBackoff
	DefaultMergePollInterval  = time.Second
	DefaultMergeWriteBuffer   = "1MiB"
	DefaultMergeProgressEvery = merge.DefaultProgressEvery
)

// Logging defaults.
const (
	DefaultLogLevel = "info"
	DefaultLogJSON  = false
)

// Server defaults.
const (
	DefaultMetricsAddr         = ""
	DefaultServerReadTimeout   = 10 * time.Second
	DefaultServerWriteTimeout  = 30 * time.Second
	DefaultShutdownTimeoutSecs = 5
)
