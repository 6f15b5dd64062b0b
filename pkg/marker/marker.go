// Package marker reads and writes manifest completion markers. A marker's
// presence is the only signal that a manifest has been merged; its content is
// informational.
package marker

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/Sumatoshi-tech/shardmerge/pkg/archive"
	"github.com/Sumatoshi-tech/shardmerge/pkg/merge"
	"github.com/Sumatoshi-tech/shardmerge/pkg/persist"
)

// Marker is the informational content of a completion marker.
type Marker struct {
	Manifest    string        `json:"manifest"`
	CompletedAt time.Time     `json:"completed_at"`
	Mode        string        `json:"mode"`
	Tables      []merge.Stats `json:"tables,omitempty"`
	Version     string        `json:"version,omitempty"`

	// Headers and Bundles summarize an archive-mode expansion.
	Headers *archive.Stats `json:"headers,omitempty"`
	Bundles *archive.Stats `json:"bundles,omitempty"`

	// Legacy is set when the marker exists but does not hold JSON, such as
	// the plain "Done" markers of earlier converters.
	Legacy bool `json:"-"`
}

var persister = persist.NewPersister[Marker](persist.NewJSONCodec())

// Exists reports whether a marker file is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)

	return err == nil
}

// Write atomically creates the marker at path.
func Write(path string, m Marker) error {
	err := persister.Save(path, m)
	if err != nil {
		return fmt.Errorf("write marker %s: %w", path, err)
	}

	return nil
}

// Read loads the marker at path. Markers with non-JSON content are returned
// with Legacy set and no error.
func Read(path string) (Marker, error) {
	m, err := persister.Load(path)
	if err == nil {
		return m, nil
	}

	if errors.Is(err, fs.ErrNotExist) {
		return Marker{}, fmt.Errorf("read marker %s: %w", path, err)
	}

	return Marker{Legacy: true}, nil
}
