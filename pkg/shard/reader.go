// Package shard reads the shard files of a table with bounded retry.
package shard

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/Sumatoshi-tech/shardmerge/pkg/retry"
	"github.com/Sumatoshi-tech/shardmerge/pkg/workerpool"
)

// Result is the outcome of reading one shard.
type Result struct {
	Path  string
	Lines []string
	Bytes int64

	// Attempts is the number of open/read attempts made.
	Attempts int

	// Failed reports that every attempt failed. Lines is empty in that case.
	Failed bool
}

// Observer receives per-read events. Any method may be called concurrently.
type Observer interface {
	ShardRead(ctx context.Context, res Result)
	ShardRetry(ctx context.Context, path string, attempt int)
}

type nopObserver struct{}

func (nopObserver) ShardRead(context.Context, Result) {}

func (nopObserver) ShardRetry(context.Context, string, int) {}

// Reader reads whole shard files, retrying transient failures.
type Reader struct {
	policy   retry.Policy
	pool     *workerpool.Pool
	logger   *slog.Logger
	observer Observer
	open     func(path string) (io.ReadCloser, error)
}

// Option configures a Reader.
type Option func(*Reader)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithObserver sets the read observer.
func WithObserver(obs Observer) Option {
	return func(r *Reader) {
		if obs != nil {
			r.observer = obs
		}
	}
}

// WithOpener replaces the function used to open shard files.
func WithOpener(open func(path string) (io.ReadCloser, error)) Option {
	return func(r *Reader) {
		if open != nil {
			r.open = open
		}
	}
}

// NewReader creates a Reader with the given retry policy and worker pool.
func NewReader(policy retry.Policy, pool *workerpool.Pool, opts ...Option) *Reader {
	rd := &Reader{
		policy:   policy,
		pool:     pool,
		logger:   slog.Default(),
		observer: nopObserver{},
		open: func(path string) (io.ReadCloser, error) {
			return os.Open(path)
		},
	}

	for _, opt := range opts {
		opt(rd)
	}

	return rd
}

// ReadLines reads every line of path, newline terminators included.
// When the retry ceiling is exhausted the failure is logged and a Result with
// Failed set and no lines is returned.
func (r *Reader) ReadLines(ctx context.Context, path string) Result {
	var lines []string

	var size int64

	attempts, err := retry.Do(ctx, r.policy, func(context.Context) error {
		var readErr error

		lines, size, readErr = r.readOnce(path)

		return readErr
	}, func(err error, attempt int, wait time.Duration) {
		r.logger.WarnContext(ctx, "fail to read file, retry",
			"path", path, "attempt", attempt, "wait", wait, "error", err)
		r.observer.ShardRetry(ctx, path, attempt)
	})

	res := Result{Path: path, Attempts: attempts}

	if err != nil {
		r.logger.ErrorContext(ctx, "fail to get file", "path", path, "attempts", attempts, "error", err)

		res.Failed = true
	} else {
		res.Lines = lines
		res.Bytes = size
	}

	r.observer.ShardRead(ctx, res)

	return res
}

// ReadAll reads every path through the worker pool. The returned results are
// positionally aligned with paths.
func (r *Reader) ReadAll(ctx context.Context, paths []string) []Result {
	results := workerpool.Map(ctx, r.pool, len(paths), func(ctx context.Context, idx int) Result {
		return r.ReadLines(ctx, paths[idx])
	})

	// Slots skipped because ctx ended are reported as failed reads.
	for idx := range results {
		if results[idx].Path == "" {
			results[idx] = Result{Path: paths[idx], Failed: true}
		}
	}

	return results
}

func (r *Reader) readOnce(path string) ([]string, int64, error) {
	file, err := r.open(path)
	if errors.Is(err, fs.ErrPermission) {
		return nil, 0, retry.Permanent(fmt.Errorf("open shard: %w", err))
	}

	if err != nil {
		return nil, 0, fmt.Errorf("open shard: %w", err)
	}
	defer file.Close()

	lines, size, err := SplitLines(file)
	if err != nil {
		return nil, 0, fmt.Errorf("read shard %s: %w", path, err)
	}

	return lines, size, nil
}

// SplitLines reads rd to EOF and splits it into lines, keeping each line's
// terminator. A final line without a terminator is kept as-is.
func SplitLines(rd io.Reader) ([]string, int64, error) {
	br := bufio.NewReader(rd)

	var (
		lines []string
		size  int64
	)

	for {
		line, err := br.ReadString('\n')
		if line != "" {
			lines = append(lines, line)
			size += int64(len(line))
		}

		if errors.Is(err, io.EOF) {
			return lines, size, nil
		}

		if err != nil {
			return nil, 0, fmt.Errorf("split lines: %w", err)
		}
	}
}
