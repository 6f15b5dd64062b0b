package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Sumatoshi-tech/shardmerge/pkg/shard"
)

const (
	metricCycles          = "shardmerge.cycles"
	metricCycleDuration   = "shardmerge.cycle.duration"
	metricShardsRead      = "shardmerge.shards.read"
	metricShardRetries    = "shardmerge.shard.retries"
	metricBytesMerged     = "shardmerge.merged.bytes"
	metricManifestsMerged = "shardmerge.manifests.merged"
	metricInflightCycles  = "shardmerge.cycles.inflight"

	attrOutcome = "outcome"
	attrStatus  = "status"
	attrTable   = "table"

	statusOK     = "ok"
	statusFailed = "failed"
)

// durationBucketBoundaries covers 10ms to 30min: idle polls return in
// milliseconds while a full manifest merge over a network mount takes minutes.
var durationBucketBoundaries = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800}

// PipelineMetrics holds the OTel instruments of the merge loop.
// It also serves as a [shard.Observer].
type PipelineMetrics struct {
	cycles          metric.Int64Counter
	cycleDuration   metric.Float64Histogram
	shardsRead      metric.Int64Counter
	shardRetries    metric.Int64Counter
	bytesMerged     metric.Int64Counter
	manifestsMerged metric.Int64Counter
	inflightCycles  metric.Int64UpDownCounter
}

var _ shard.Observer = (*PipelineMetrics)(nil)

// NewPipelineMetrics creates pipeline metric instruments from the given meter.
func NewPipelineMetrics(mt metric.Meter) (*PipelineMetrics, error) {
	cycles, err := mt.Int64Counter(metricCycles,
		metric.WithDescription("Merge loop iterations by outcome"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricCycles, err)
	}

	cycleDuration, err := mt.Float64Histogram(metricCycleDuration,
		metric.WithDescription("Merge loop iteration duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricCycleDuration, err)
	}

	shardsRead, err := mt.Int64Counter(metricShardsRead,
		metric.WithDescription("Shard files read, by status"),
		metric.WithUnit("{shard}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricShardsRead, err)
	}

	shardRetries, err := mt.Int64Counter(metricShardRetries,
		metric.WithDescription("Shard read retries"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricShardRetries, err)
	}

	bytesMerged, err := mt.Int64Counter(metricBytesMerged,
		metric.WithDescription("Bytes written to merged tables"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricBytesMerged, err)
	}

	manifestsMerged, err := mt.Int64Counter(metricManifestsMerged,
		metric.WithDescription("Manifests merged and marked"),
		metric.WithUnit("{manifest}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricManifestsMerged, err)
	}

	inflight, err := mt.Int64UpDownCounter(metricInflightCycles,
		metric.WithDescription("Merge loop iterations in progress"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricInflightCycles, err)
	}

	return &PipelineMetrics{
		cycles:          cycles,
		cycleDuration:   cycleDuration,
		shardsRead:      shardsRead,
		shardRetries:    shardRetries,
		bytesMerged:     bytesMerged,
		manifestsMerged: manifestsMerged,
		inflightCycles:  inflight,
	}, nil
}

// RecordCycle records a finished loop iteration with its outcome and duration.
func (pm *PipelineMetrics) RecordCycle(ctx context.Context, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String(attrOutcome, outcome))

	pm.cycles.Add(ctx, 1, attrs)
	pm.cycleDuration.Record(ctx, duration.Seconds(), attrs)
}

// TrackInflight increments the in-flight gauge and returns a function to decrement it.
func (pm *PipelineMetrics) TrackInflight(ctx context.Context) func() {
	pm.inflightCycles.Add(ctx, 1)

	return func() {
		pm.inflightCycles.Add(ctx, -1)
	}
}

// RecordTable records the bytes written for one merged table.
func (pm *PipelineMetrics) RecordTable(ctx context.Context, table string, bytes int64) {
	pm.bytesMerged.Add(ctx, bytes, metric.WithAttributes(attribute.String(attrTable, table)))
}

// RecordManifest counts a manifest that was merged and marked.
func (pm *PipelineMetrics) RecordManifest(ctx context.Context) {
	pm.manifestsMerged.Add(ctx, 1)
}

// ShardRead counts a finished shard read.
func (pm *PipelineMetrics) ShardRead(ctx context.Context, res shard.Result) {
	status := statusOK
	if res.Failed {
		status = statusFailed
	}

	pm.shardsRead.Add(ctx, 1, metric.WithAttributes(attribute.String(attrStatus, status)))
}

// ShardRetry counts a shard read retry.
func (pm *PipelineMetrics) ShardRetry(ctx context.Context, _ string, _ int) {
	pm.shardRetries.Add(ctx, 1)
}
