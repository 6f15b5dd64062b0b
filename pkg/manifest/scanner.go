package manifest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/Sumatoshi-tech/shardmerge/pkg/marker"
)

// Status is the processing state of a manifest.
type Status string

// Manifest statuses.
const (
	StatusNone      Status = "none"
	StatusProcessed Status = "processed"
	StatusNotReady  Status = "not_ready"
	StatusReady     Status = "ready"
)

// Selection is the result of a scan.
type Selection struct {
	Manifest Manifest
	Status   Status

	// MissingTable names the first table that is not mounted yet.
	MissingTable string
}

// CreatedAtFunc returns the creation time used to order manifests.
type CreatedAtFunc func(path string, info fs.FileInfo) time.Time

// Scanner lists manifests under a root directory.
type Scanner struct {
	layout    Layout
	logger    *slog.Logger
	createdAt CreatedAtFunc
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scanner) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCreatedAt overrides how manifest creation times are read.
func WithCreatedAt(fn CreatedAtFunc) Option {
	return func(s *Scanner) {
		if fn != nil {
			s.createdAt = fn
		}
	}
}

// NewScanner creates a Scanner for layout.
func NewScanner(layout Layout, opts ...Option) *Scanner {
	s := &Scanner{
		layout: layout,
		logger: slog.Default(),
		createdAt: func(_ string, info fs.FileInfo) time.Time {
			return changeTime(info)
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Layout returns the scanner's layout.
func (s *Scanner) Layout() Layout {
	return s.layout
}

// ListCandidates returns the manifest directories under the root, oldest first.
// Output directories derived from another candidate are skipped, which matters
// when the output token itself starts with the manifest prefix.
func (s *Scanner) ListCandidates(ctx context.Context) ([]Manifest, error) {
	entries, err := os.ReadDir(s.layout.Root)
	if err != nil {
		return nil, fmt.Errorf("list manifests in %s: %w", s.layout.Root, err)
	}

	names := make([]string, 0, len(entries))

	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, s.layout.Prefix) && !s.excluded(name) {
			names = append(names, name)
		}
	}

	outputs := make(map[string]bool, len(names))
	for _, name := range names {
		if derived := s.layout.OutputName(name); derived != name {
			outputs[derived] = true
		}
	}

	var out []Manifest

	for _, name := range names {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if outputs[name] {
			continue
		}

		path := filepath.Join(s.layout.Root, name)

		// Stat follows symlinks so linked manifest mounts are kept.
		info, statErr := os.Stat(path)
		if statErr != nil || !info.IsDir() {
			continue
		}

		out = append(out, Manifest{Name: name, Path: path, CreatedAt: s.createdAt(path, info)})
	}

	slices.SortStableFunc(out, func(a, b Manifest) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}

		return strings.Compare(a.Name, b.Name)
	})

	return out, nil
}

func (s *Scanner) excluded(name string) bool {
	for _, pattern := range s.layout.Exclude {
		matched, err := doublestar.Match(pattern, name)
		if err == nil && matched {
			return true
		}
	}

	return false
}

// SelectNewest returns the most recent candidate.
func SelectNewest(candidates []Manifest) (Manifest, bool) {
	if len(candidates) == 0 {
		return Manifest{}, false
	}

	return candidates[len(candidates)-1], true
}

// IsAlreadyProcessed reports whether m has a completion marker.
func (s *Scanner) IsAlreadyProcessed(m Manifest) bool {
	return marker.Exists(s.layout.MarkerPath(m))
}

// IsTableReady reports whether the source of table exists in m. Only existence
// is checked; the upstream mount creates the directory once it is complete.
func (s *Scanner) IsTableReady(m Manifest, table string) bool {
	dir := s.layout.TableDir(m, table)
	if s.layout.Mode == ModeArchive {
		dir = s.layout.ArchiveDir(m)
	}

	info, err := os.Stat(dir)

	return err == nil && info.IsDir()
}

// Status computes the status of a single manifest.
func (s *Scanner) Status(m Manifest) Selection {
	sel := Selection{Manifest: m, Status: StatusReady}

	if s.IsAlreadyProcessed(m) {
		sel.Status = StatusProcessed

		return sel
	}

	for _, table := range s.layout.Tables {
		if !s.IsTableReady(m, table) {
			sel.Status = StatusNotReady
			sel.MissingTable = table

			return sel
		}
	}

	return sel
}

// Scan selects the newest manifest and reports whether it should be merged.
func (s *Scanner) Scan(ctx context.Context) (Selection, error) {
	candidates, err := s.ListCandidates(ctx)
	if err != nil {
		return Selection{}, err
	}

	newest, ok := SelectNewest(candidates)
	if !ok {
		s.logger.InfoContext(ctx, "no manifest is exported", "root", s.layout.Root)

		return Selection{Status: StatusNone}, nil
	}

	sel := s.Status(newest)

	switch sel.Status {
	case StatusProcessed:
		s.logger.DebugContext(ctx, "manifest already converted", "manifest", newest.Name)
	case StatusNotReady:
		s.logger.InfoContext(ctx, "mounting not finished yet", "manifest", newest.Name, "table", sel.MissingTable)
	case StatusReady:
		s.logger.InfoContext(ctx, "getting the latest manifest", "manifest", newest.Name, "created_at", newest.CreatedAt)
	case StatusNone:
	}

	return sel, nil
}

// Describe returns the status of every candidate, oldest first.
func (s *Scanner) Describe(ctx context.Context) ([]Selection, error) {
	candidates, err := s.ListCandidates(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Selection, 0, len(candidates))
	for _, m := range candidates {
		out = append(out, s.Status(m))
	}

	return out, nil
}

// ShardPaths returns the shard files of table in m in lexicographic order.
// The first path is the shard whose header survives the merge.
func (s *Scanner) ShardPaths(m Manifest, table string) ([]string, error) {
	return globFiles(s.layout.TableDir(m, table), s.layout.ShardPattern)
}

// BundlePaths returns the archive bundles of m in lexicographic order.
func (s *Scanner) BundlePaths(m Manifest) ([]string, error) {
	return globFiles(s.layout.ArchiveDir(m), s.layout.BundlePattern)
}

func globFiles(dir, pattern string) ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(dir), pattern, doublestar.WithFilesOnly())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("glob %s in %s: %w", pattern, dir, err)
	}

	slices.Sort(matches)

	out := make([]string, len(matches))
	for i, rel := range matches {
		out[i] = filepath.Join(dir, filepath.FromSlash(rel))
	}

	return out, nil
}
