// Package pipeline drives the merge loop: it polls the manifest root, merges
// the newest ready manifest table by table and writes its completion marker.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/Sumatoshi-tech/shardmerge/pkg/archive"
	"github.com/Sumatoshi-tech/shardmerge/pkg/manifest"
	"github.com/Sumatoshi-tech/shardmerge/pkg/marker"
	"github.com/Sumatoshi-tech/shardmerge/pkg/merge"
	"github.com/Sumatoshi-tech/shardmerge/pkg/observability"
	"github.com/Sumatoshi-tech/shardmerge/pkg/safeconv"
	"github.com/Sumatoshi-tech/shardmerge/pkg/shard"
)

// DefaultPollInterval is the pause between two ticks of Run.
const DefaultPollInterval = time.Second

var (
	// ErrNoCycleYet is reported by Ready before the first cycle completed.
	ErrNoCycleYet = errors.New("no merge cycle completed yet")
	// ErrNoHeaderTemplate indicates archive mode without a header template.
	ErrNoHeaderTemplate = errors.New("archive mode requires a header template")
)

// Driver runs merge cycles. At most one cycle is in flight at a time.
type Driver struct {
	scanner        *manifest.Scanner
	reader         *shard.Reader
	merger         *merge.Merger
	expander       *archive.Expander
	headerTemplate string

	interval time.Duration
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *observability.PipelineMetrics
	now      func() time.Time
	version  string

	busy       sync.Mutex
	processing atomic.Bool

	statusMu      sync.RWMutex
	lastProcessed manifest.Manifest
	hasProcessed  bool
	lastErr       error
	cycles        int
}

// Option configures a Driver.
type Option func(*Driver)

// WithArchive enables archive mode inputs with the given header template.
func WithArchive(expander *archive.Expander, headerTemplate string) Option {
	return func(d *Driver) {
		d.expander = expander
		d.headerTemplate = headerTemplate
	}
}

// WithPollInterval sets the pause between ticks of Run.
func WithPollInterval(interval time.Duration) Option {
	return func(d *Driver) {
		if interval > 0 {
			d.interval = interval
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithTracer sets the tracer for cycle and table spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(d *Driver) {
		if tracer != nil {
			d.tracer = tracer
		}
	}
}

// WithMetrics records cycles, tables and manifests.
func WithMetrics(metrics *observability.PipelineMetrics) Option {
	return func(d *Driver) {
		d.metrics = metrics
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) {
		if now != nil {
			d.now = now
		}
	}
}

// WithVersion sets the version recorded in completion markers.
func WithVersion(version string) Option {
	return func(d *Driver) {
		d.version = version
	}
}

// NewDriver creates a Driver.
func NewDriver(scanner *manifest.Scanner, reader *shard.Reader, merger *merge.Merger, opts ...Option) *Driver {
	d := &Driver{
		scanner:  scanner,
		reader:   reader,
		merger:   merger,
		interval: DefaultPollInterval,
		logger:   slog.Default(),
		tracer:   nooptrace.NewTracerProvider().Tracer("shardmerge"),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// State reports whether a cycle is merging a manifest right now.
func (d *Driver) State() State {
	if d.processing.Load() {
		return StateProcessing
	}

	return StateIdle
}

// LastProcessed returns the manifest most recently merged by this driver.
func (d *Driver) LastProcessed() (manifest.Manifest, bool) {
	d.statusMu.RLock()
	defer d.statusMu.RUnlock()

	return d.lastProcessed, d.hasProcessed
}

// Ready returns nil once a cycle completed and the latest one did not fail.
func (d *Driver) Ready(_ context.Context) error {
	d.statusMu.RLock()
	defer d.statusMu.RUnlock()

	if d.cycles == 0 {
		return ErrNoCycleYet
	}

	return d.lastErr
}

// Run ticks until ctx is cancelled, sleeping the poll interval between ticks.
// Cycle failures are logged and retried on the next tick.
func (d *Driver) Run(ctx context.Context) error {
	layout := d.scanner.Layout()

	d.logger.InfoContext(ctx, "starting merge loop",
		"root", layout.Root, "mode", layout.Mode, "interval", d.interval)

	timer := time.NewTimer(d.interval)
	defer timer.Stop()

	for {
		_, _ = d.Tick(ctx)

		timer.Reset(d.interval)

		select {
		case <-ctx.Done():
			d.logger.InfoContext(ctx, "merge loop stopped")

			return nil
		case <-timer.C:
		}
	}
}

// Tick runs one cycle. A Tick that overlaps another returns OutcomeBusy
// without doing anything.
func (d *Driver) Tick(ctx context.Context) (Outcome, error) {
	if !d.busy.TryLock() {
		d.logger.DebugContext(ctx, "previous cycle still running")
		d.recordCycle(ctx, OutcomeBusy, 0)

		return OutcomeBusy, nil
	}
	defer d.busy.Unlock()

	if d.metrics != nil {
		done := d.metrics.TrackInflight(ctx)
		defer done()
	}

	start := d.now()

	ctx, span := d.tracer.Start(ctx, "pipeline.cycle")
	defer span.End()

	outcome, err := d.cycle(ctx)

	span.SetAttributes(attribute.String("cycle.outcome", string(outcome)))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		d.logger.ErrorContext(ctx, "merge cycle failed", "error", err)
	}

	d.statusMu.Lock()
	d.cycles++
	d.lastErr = err
	d.statusMu.Unlock()

	d.recordCycle(ctx, outcome, d.now().Sub(start))

	return outcome, err
}

func (d *Driver) recordCycle(ctx context.Context, outcome Outcome, elapsed time.Duration) {
	if d.metrics != nil {
		d.metrics.RecordCycle(ctx, string(outcome), elapsed)
	}
}

func (d *Driver) cycle(ctx context.Context) (Outcome, error) {
	sel, err := d.scanner.Scan(ctx)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("scan manifests: %w", err)
	}

	switch sel.Status {
	case manifest.StatusNone:
		return OutcomeNoManifest, nil
	case manifest.StatusProcessed:
		return OutcomeAlreadyProcessed, nil
	case manifest.StatusNotReady:
		return OutcomeNotReady, nil
	case manifest.StatusReady:
	}

	m := sel.Manifest
	layout := d.scanner.Layout()

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("manifest.name", m.Name),
		attribute.String("manifest.mode", string(layout.Mode)),
	)

	d.processing.Store(true)
	defer d.processing.Store(false)

	mk := marker.Marker{
		Manifest: m.Name,
		Mode:     string(layout.Mode),
		Version:  d.version,
	}

	if layout.Mode == manifest.ModeArchive {
		err = d.expandArchive(ctx, m, &mk)
	} else {
		err = d.mergeTables(ctx, m, &mk)
	}

	if err != nil {
		return OutcomeFailed, fmt.Errorf("manifest %s: %w", m.Name, err)
	}

	// An interrupted cycle must not leave a marker behind.
	ctxErr := ctx.Err()
	if ctxErr != nil {
		return OutcomeFailed, fmt.Errorf("manifest %s: %w", m.Name, ctxErr)
	}

	mk.CompletedAt = d.now().UTC()

	err = marker.Write(layout.MarkerPath(m), mk)
	if err != nil {
		return OutcomeFailed, err
	}

	d.statusMu.Lock()
	d.lastProcessed = m
	d.hasProcessed = true
	d.statusMu.Unlock()

	if d.metrics != nil {
		d.metrics.RecordManifest(ctx)
	}

	d.logger.InfoContext(ctx, "manifest converted",
		"manifest", m.Name, "output", layout.OutputDir(m), "marker", layout.MarkerPath(m))

	return OutcomeMerged, nil
}

func (d *Driver) mergeTables(ctx context.Context, m manifest.Manifest, mk *marker.Marker) error {
	layout := d.scanner.Layout()

	for _, table := range layout.Tables {
		stats, err := d.mergeTable(ctx, m, table)
		if err != nil {
			return err
		}

		mk.Tables = append(mk.Tables, stats)
	}

	return nil
}

func (d *Driver) mergeTable(ctx context.Context, m manifest.Manifest, table string) (merge.Stats, error) {
	ctx, span := d.tracer.Start(ctx, "pipeline.table",
		trace.WithAttributes(attribute.String("table.name", table)))
	defer span.End()

	layout := d.scanner.Layout()

	paths, err := d.scanner.ShardPaths(m, table)
	if err != nil {
		return merge.Stats{}, failSpan(span, fmt.Errorf("list shards of %s: %w", table, err))
	}

	d.logger.InfoContext(ctx, "merging table", "table", table, "shards", len(paths))

	results := d.reader.ReadAll(ctx, paths)

	ctxErr := ctx.Err()
	if ctxErr != nil {
		return merge.Stats{}, failSpan(span, fmt.Errorf("read shards of %s: %w", table, ctxErr))
	}

	stats, err := d.merger.Merge(ctx, table, layout.OutputPath(m, table), results)
	if err != nil {
		return stats, failSpan(span, err)
	}

	span.SetAttributes(
		attribute.Int("table.shards", stats.Shards),
		attribute.Int("table.failed_shards", stats.FailedShards),
		attribute.Int64("table.bytes", stats.Bytes),
	)

	if d.metrics != nil {
		d.metrics.RecordTable(ctx, table, stats.Bytes)
	}

	d.logger.InfoContext(ctx, "table merged",
		"table", table,
		"shards", stats.Shards,
		"failed_shards", stats.FailedShards,
		"size", humanize.IBytes(safeconv.ClampUint64(stats.Bytes)))

	return stats, nil
}

func (d *Driver) expandArchive(ctx context.Context, m manifest.Manifest, mk *marker.Marker) error {
	if d.expander == nil || d.headerTemplate == "" {
		return ErrNoHeaderTemplate
	}

	ctx, span := d.tracer.Start(ctx, "pipeline.archive")
	defer span.End()

	layout := d.scanner.Layout()
	destDir := layout.OutputDir(m)

	headers, err := d.expander.SeedHeaders(ctx, d.headerTemplate, destDir)
	if err != nil {
		return failSpan(span, err)
	}

	bundles, err := d.scanner.BundlePaths(m)
	if err != nil {
		return failSpan(span, fmt.Errorf("list bundles: %w", err))
	}

	d.logger.InfoContext(ctx, "expanding bundles", "bundles", len(bundles), "dest", destDir)

	expanded, err := d.expander.ExpandBundles(ctx, bundles, destDir)
	if err != nil {
		return failSpan(span, err)
	}

	span.SetAttributes(
		attribute.Int("archive.bundles", expanded.Bundles),
		attribute.Int("archive.entries", expanded.Entries),
		attribute.Int64("archive.bytes", expanded.Bytes),
	)

	if d.metrics != nil {
		d.metrics.RecordTable(ctx, "archive", headers.Bytes+expanded.Bytes)
	}

	mk.Headers = &headers
	mk.Bundles = &expanded

	return nil
}

func failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	return err
}
