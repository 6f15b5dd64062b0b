package archive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// Stats summarizes an expansion.
type Stats struct {
	Bundles int   `json:"bundles"`
	Entries int   `json:"entries"`
	Bytes   int64 `json:"bytes"`

	// Files are the destination file names touched, sorted.
	Files []string `json:"files,omitempty"`
}

func (s *Stats) touch(name string) {
	idx, found := slices.BinarySearch(s.Files, name)
	if !found {
		s.Files = slices.Insert(s.Files, idx, name)
	}
}

// Expander writes archive entries into flat destination files.
type Expander struct {
	logger *slog.Logger
}

// NewExpander creates an Expander. A nil logger uses [slog.Default].
func NewExpander(logger *slog.Logger) *Expander {
	if logger == nil {
		logger = slog.Default()
	}

	return &Expander{logger: logger}
}

// DestinationName maps an archive entry path such as "Patients/Patients.tsv"
// to its flat destination file name. It returns false for names that do not
// denote a file.
func DestinationName(entry string) (string, bool) {
	base := path.Base(strings.TrimRight(strings.ReplaceAll(entry, `\`, "/"), "/"))

	switch base {
	case "", ".", "..", "/":
		return "", false
	}

	return base, true
}

// SeedHeaders expands the header template into destDir, truncating every
// destination file it writes so each table starts with only its header.
func (e *Expander) SeedHeaders(ctx context.Context, templatePath, destDir string) (Stats, error) {
	stats := Stats{Bundles: 1}

	err := os.MkdirAll(destDir, dirPerm)
	if err != nil {
		return stats, fmt.Errorf("create destination: %w", err)
	}

	err = Walk(ctx, templatePath, func(name string, body io.Reader) error {
		dest, ok := DestinationName(name)
		if !ok {
			return nil
		}

		flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		if _, seen := slices.BinarySearch(stats.Files, dest); seen {
			flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
		}

		written, writeErr := writeEntry(filepath.Join(destDir, dest), flags, body)
		if writeErr != nil {
			return writeErr
		}

		stats.Entries++
		stats.Bytes += written
		stats.touch(dest)

		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("seed headers from %s: %w", templatePath, err)
	}

	e.logger.InfoContext(ctx, "seeded table headers", "template", templatePath, "tables", len(stats.Files))

	return stats, nil
}

// ExpandBundles appends every entry of every bundle, in order, to the matching
// file in destDir. Content is appended verbatim; nothing is stripped or
// deduplicated.
func (e *Expander) ExpandBundles(ctx context.Context, bundlePaths []string, destDir string) (Stats, error) {
	var stats Stats

	err := os.MkdirAll(destDir, dirPerm)
	if err != nil {
		return stats, fmt.Errorf("create destination: %w", err)
	}

	for _, bundle := range bundlePaths {
		walkErr := Walk(ctx, bundle, func(name string, body io.Reader) error {
			dest, ok := DestinationName(name)
			if !ok {
				return nil
			}

			written, writeErr := writeEntry(filepath.Join(destDir, dest), os.O_CREATE|os.O_WRONLY|os.O_APPEND, body)
			if writeErr != nil {
				return writeErr
			}

			stats.Entries++
			stats.Bytes += written
			stats.touch(dest)

			return nil
		})
		if walkErr != nil {
			return stats, fmt.Errorf("expand bundle: %w", walkErr)
		}

		stats.Bundles++

		e.logger.DebugContext(ctx, "expanded bundle", "bundle", bundle, "entries", stats.Entries)
	}

	return stats, nil
}

func writeEntry(dest string, flags int, body io.Reader) (int64, error) {
	file, err := os.OpenFile(dest, flags, filePerm)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", dest, err)
	}

	written, copyErr := io.Copy(file, body)
	closeErr := file.Close()

	if copyErr != nil {
		return written, fmt.Errorf("write %s: %w", dest, copyErr)
	}

	if closeErr != nil {
		return written, fmt.Errorf("close %s: %w", dest, closeErr)
	}

	return written, nil
}
