// Package merge concatenates the shards of a table into one output file,
// keeping only the first shard's header line.
package merge

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Sumatoshi-tech/shardmerge/pkg/shard"
)

// Defaults for the merger.
const (
	DefaultWriteBuffer   = 1 << 20
	DefaultProgressEvery = 100

	dirPerm  = 0o755
	filePerm = 0o644
)

// Stats summarizes one table merge.
type Stats struct {
	Table        string `json:"name"`
	Shards       int    `json:"shards"`
	FailedShards int    `json:"failed_shards"`
	Lines        int64  `json:"lines"`
	Bytes        int64  `json:"bytes"`
}

// Merger writes merged table outputs.
type Merger struct {
	writeBuffer   int
	progressEvery int
	logger        *slog.Logger
}

// Option configures a Merger.
type Option func(*Merger)

// WithWriteBuffer sets the size of the buffered output writer in bytes.
func WithWriteBuffer(size int) Option {
	return func(m *Merger) {
		if size > 0 {
			m.writeBuffer = size
		}
	}
}

// WithProgressEvery sets how many shards are written between progress logs.
func WithProgressEvery(n int) Option {
	return func(m *Merger) {
		if n > 0 {
			m.progressEvery = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Merger) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMerger creates a Merger.
func NewMerger(opts ...Option) *Merger {
	m := &Merger{
		writeBuffer:   DefaultWriteBuffer,
		progressEvery: DefaultProgressEvery,
		logger:        slog.Default(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Merge truncates outPath and writes the shard results into it in order.
// The first non-empty shard is written verbatim, every later shard without
// its first line. Failed shards contribute nothing.
func (m *Merger) Merge(ctx context.Context, table, outPath string, results []shard.Result) (Stats, error) {
	err := os.MkdirAll(filepath.Dir(outPath), dirPerm)
	if err != nil {
		return Stats{}, fmt.Errorf("create output dir: %w", err)
	}

	file, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return Stats{}, fmt.Errorf("open output %s: %w", outPath, err)
	}

	bw := bufio.NewWriterSize(file, m.writeBuffer)

	stats, writeErr := m.write(ctx, table, bw, results)
	if writeErr == nil {
		writeErr = bw.Flush()
	}

	closeErr := file.Close()

	if writeErr != nil {
		return stats, fmt.Errorf("write output %s: %w", outPath, writeErr)
	}

	if closeErr != nil {
		return stats, fmt.Errorf("close output %s: %w", outPath, closeErr)
	}

	return stats, nil
}

func (m *Merger) write(ctx context.Context, table string, w io.Writer, results []shard.Result) (Stats, error) {
	stats := Stats{Table: table, Shards: len(results)}
	headerWritten := false

	for idx, res := range results {
		if ctx.Err() != nil {
			return stats, fmt.Errorf("merge %s: %w", table, ctx.Err())
		}

		if idx%m.progressEvery == 0 {
			m.logger.InfoContext(ctx, "processed shards", "table", table, "count", idx, "total", len(results))
		}

		if res.Failed {
			stats.FailedShards++

			continue
		}

		lines := res.Lines
		if len(lines) == 0 {
			continue
		}

		if headerWritten {
			lines = lines[1:]
		}

		headerWritten = true

		for _, line := range lines {
			n, err := io.WriteString(w, line)
			stats.Bytes += int64(n)

			if err != nil {
				return stats, err
			}
		}

		stats.Lines += int64(len(lines))
	}

	return stats, nil
}
