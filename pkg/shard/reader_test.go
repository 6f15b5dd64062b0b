package shard_test

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/shardmerge/pkg/retry"
	"github.com/Sumatoshi-tech/shardmerge/pkg/retry/retrytest"
	"github.com/Sumatoshi-tech/shardmerge/pkg/shard"
	"github.com/Sumatoshi-tech/shardmerge/pkg/workerpool"
)

var errLocked = errors.New("file is locked")

func fastPolicy(timer *retrytest.FakeTimer) retry.Policy {
	return retry.Policy{MaxRetries: retry.DefaultMaxRetries, Backoff: retry.DefaultBackoff, Timer: timer}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

type recordingObserver struct {
	mu      sync.Mutex
	reads   []shard.Result
	retries int
}

func (o *recordingObserver) ShardRead(_ context.Context, res shard.Result) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.reads = append(o.reads, res)
}

func (o *recordingObserver) ShardRetry(context.Context, string, int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.retries++
}

func TestReadLines_ReadsWholeFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a.tsv")
	writeFile(t, path, "H\na1\na2\n")

	reader := shard.NewReader(fastPolicy(retrytest.NewFakeTimer()), workerpool.New(2))

	res := reader.ReadLines(context.Background(), path)

	assert.False(t, res.Failed)
	assert.Equal(t, []string{"H\n", "a1\n", "a2\n"}, res.Lines)
	assert.Equal(t, int64(9), res.Bytes)
	assert.Equal(t, 1, res.Attempts)
}

func TestReadLines_MissingFileExhaustsRetries(t *testing.T) {
	t.Parallel()

	timer := retrytest.NewFakeTimer()
	obs := &recordingObserver{}
	reader := shard.NewReader(fastPolicy(timer), workerpool.New(1), shard.WithObserver(obs))

	res := reader.ReadLines(context.Background(), filepath.Join(t.TempDir(), "missing.tsv"))

	assert.True(t, res.Failed)
	assert.Empty(t, res.Lines)
	assert.Equal(t, 6, res.Attempts)
	assert.Len(t, timer.Waits(), retry.DefaultMaxRetries)
	assert.Equal(t, retry.DefaultBackoff, timer.Waits()[0])
	assert.Equal(t, retry.DefaultMaxRetries, obs.retries)
	require.Len(t, obs.reads, 1)
	assert.True(t, obs.reads[0].Failed)
}

func TestReadLines_RecoversFromTransientError(t *testing.T) {
	t.Parallel()

	calls := 0
	opener := func(string) (io.ReadCloser, error) {
		calls++
		if calls < 3 {
			return nil, errLocked
		}

		return io.NopCloser(strings.NewReader("H\nrow\n")), nil
	}

	timer := retrytest.NewFakeTimer()
	reader := shard.NewReader(fastPolicy(timer), workerpool.New(1), shard.WithOpener(opener))

	res := reader.ReadLines(context.Background(), "flaky.tsv")

	assert.False(t, res.Failed)
	assert.Equal(t, []string{"H\n", "row\n"}, res.Lines)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, []time.Duration{retry.DefaultBackoff, retry.DefaultBackoff}, timer.Waits())
}

func TestReadLines_PermissionDeniedIsNotRetried(t *testing.T) {
	t.Parallel()

	opener := func(string) (io.ReadCloser, error) {
		return nil, &fs.PathError{Op: "open", Path: "Patients/a.tsv", Err: fs.ErrPermission}
	}

	timer := retrytest.NewFakeTimer()
	obs := &recordingObserver{}
	reader := shard.NewReader(fastPolicy(timer), workerpool.New(1),
		shard.WithOpener(opener), shard.WithObserver(obs))

	res := reader.ReadLines(context.Background(), "Patients/a.tsv")

	assert.True(t, res.Failed)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, timer.Waits())
	assert.Zero(t, obs.retries)
}

func TestReadAll_AlignsResultsWithInput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	paths := make([]string, 0, 30)

	for i := range 30 {
		path := filepath.Join(dir, "part-"+string(rune('a'+i%26))+strings.Repeat("x", i/26)+".tsv")
		writeFile(t, path, "H\n"+filepath.Base(path)+"\n")
		paths = append(paths, path)
	}

	reader := shard.NewReader(fastPolicy(retrytest.NewFakeTimer()), workerpool.New(workerpool.DefaultWorkers))

	results := reader.ReadAll(context.Background(), paths)
	require.Len(t, results, len(paths))

	for i, res := range results {
		assert.Equal(t, paths[i], res.Path)
		assert.Equal(t, filepath.Base(paths[i])+"\n", res.Lines[1])
	}
}

func TestReadAll_CancelledContextMarksFailed(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reader := shard.NewReader(fastPolicy(retrytest.NewFakeTimer()), workerpool.New(1))

	results := reader.ReadAll(ctx, []string{"a.tsv", "b.tsv"})
	require.Len(t, results, 2)

	assert.Equal(t, "a.tsv", results[0].Path)
	assert.True(t, results[0].Failed)
	assert.True(t, results[1].Failed)
}

func TestSplitLines_KeepsUnterminatedTail(t *testing.T) {
	t.Parallel()

	lines, size, err := shard.SplitLines(strings.NewReader("H\nlast"))
	require.NoError(t, err)

	assert.Equal(t, []string{"H\n", "last"}, lines)
	assert.Equal(t, int64(6), size)
}

func TestSplitLines_Empty(t *testing.T) {
	t.Parallel()

	lines, size, err := shard.SplitLines(strings.NewReader(""))
	require.NoError(t, err)

	assert.Empty(t, lines)
	assert.Zero(t, size)
}
