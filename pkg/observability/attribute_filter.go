package observability

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Span attributes are exported only when their key starts with one of these.
var exportablePrefixes = []string{
	"shardmerge.",
	"manifest.",
	"table.",
	"shard.",
	"archive.",
	"pipeline.",
	"cycle.",
	"error.",
	"http.",
}

// Patient and row data must never reach an exporter. These win over
// exportablePrefixes.
var (
	scrubbedPrefixes = []string{"patient.", "row.", "user."}
	scrubbedKeys     = []string{"shard.line", "shard.header", "email", "request.body", "response.body"}
)

// attributeFilter sits in front of another span processor and hands it a view
// of each finished span with non-exportable attributes removed.
type attributeFilter struct {
	next   sdktrace.SpanProcessor
	logger *slog.Logger
}

// NewAttributeFilter returns a SpanProcessor that forwards spans to next with
// only exportable attributes. Keys under patient., row. and user., raw shard
// lines and HTTP bodies are always removed, as is any key outside the known
// prefixes. A non-nil logger receives one warning per removed key.
func NewAttributeFilter(next sdktrace.SpanProcessor, logger *slog.Logger) sdktrace.SpanProcessor {
	return &attributeFilter{next: next, logger: logger}
}

func (f *attributeFilter) OnStart(parent context.Context, s sdktrace.ReadWriteSpan) {
	f.next.OnStart(parent, s)
}

func (f *attributeFilter) OnEnd(s sdktrace.ReadOnlySpan) {
	f.next.OnEnd(&scrubbedSpan{ReadOnlySpan: s, attrs: f.scrub(s.Attributes())})
}

func (f *attributeFilter) Shutdown(ctx context.Context) error {
	if err := f.next.Shutdown(ctx); err != nil {
		return fmt.Errorf("attribute filter shutdown: %w", err)
	}

	return nil
}

func (f *attributeFilter) ForceFlush(ctx context.Context) error {
	if err := f.next.ForceFlush(ctx); err != nil {
		return fmt.Errorf("attribute filter flush: %w", err)
	}

	return nil
}

func (f *attributeFilter) scrub(in []attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(in))

	for _, kv := range in {
		key := string(kv.Key)
		if exportable(key) {
			out = append(out, kv)

			continue
		}

		if f.logger != nil {
			f.logger.Warn("attribute blocked by filter", "key", key)
		}
	}

	return out
}

func exportable(key string) bool {
	if slices.Contains(scrubbedKeys, key) || hasAnyPrefix(key, scrubbedPrefixes) {
		return false
	}

	// "error" is the bare OTel semantic convention key.
	return key == "error" || hasAnyPrefix(key, exportablePrefixes)
}

func hasAnyPrefix(key string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}

	return false
}

// scrubbedSpan overrides the attributes of a finished span.
type scrubbedSpan struct {
	sdktrace.ReadOnlySpan

	attrs []attribute.KeyValue
}

func (s *scrubbedSpan) Attributes() []attribute.KeyValue {
	return s.attrs
}
