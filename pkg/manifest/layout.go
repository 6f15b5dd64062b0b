// Package manifest discovers exported manifest directories, selects the one to
// process and checks whether its tables are fully mounted.
package manifest

import (
	"path/filepath"
	"strings"
	"time"
)

// Mode selects how table data is laid out inside a manifest.
type Mode string

// Input modes.
const (
	// ModeShards reads per-table directories of delimited-text shards.
	ModeShards Mode = "shards"
	// ModeArchive expands compressed bundles on top of a header template.
	ModeArchive Mode = "archive"
)

// Layout defaults.
const (
	DefaultRoot             = "/data"
	DefaultPrefix           = "manifest"
	DefaultOutputToken      = "tsv"
	DefaultDataPath         = "by-filepath/clinical/tsv"
	DefaultShardPattern     = "*.tsv"
	DefaultOutputExt        = ".tsv"
	DefaultMarkerSuffix     = ".sync"
	DefaultArchiveSourceDir = "by-filepath/clinical/archive"
	DefaultBundlePattern    = "*.zip"
)

// DefaultTables returns the tables every manifest is expected to carry.
func DefaultTables() []string {
	return []string{"ActionableMutations", "ICDCode", "Oncology_Primary", "Patients"}
}

// Layout describes where manifests, shards, outputs and markers live.
type Layout struct {
	Root         string
	Prefix       string
	OutputToken  string
	DataPath     string
	ShardPattern string
	OutputExt    string
	MarkerSuffix string
	Exclude      []string
	Tables       []string
	Mode         Mode

	ArchiveSourceDir string
	BundlePattern    string
}

// DefaultLayout returns the layout of the clinical export mount.
func DefaultLayout() Layout {
	return Layout{
		Root:             DefaultRoot,
		Prefix:           DefaultPrefix,
		OutputToken:      DefaultOutputToken,
		DataPath:         DefaultDataPath,
		ShardPattern:     DefaultShardPattern,
		OutputExt:        DefaultOutputExt,
		MarkerSuffix:     DefaultMarkerSuffix,
		Tables:           DefaultTables(),
		Mode:             ModeShards,
		ArchiveSourceDir: DefaultArchiveSourceDir,
		BundlePattern:    DefaultBundlePattern,
	}
}

// Manifest is one exported snapshot directory.
type Manifest struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

// OutputName returns the name of the output directory derived from the
// manifest called name.
func (l Layout) OutputName(name string) string {
	return strings.ReplaceAll(name, l.Prefix, l.OutputToken)
}

// OutputDir returns the directory holding the merged tables of m.
func (l Layout) OutputDir(m Manifest) string {
	return filepath.Join(l.Root, l.OutputName(m.Name))
}

// OutputPath returns the merged file of table in m.
func (l Layout) OutputPath(m Manifest, table string) string {
	return filepath.Join(l.OutputDir(m), table+l.OutputExt)
}

// MarkerPath returns the completion marker of m.
func (l Layout) MarkerPath(m Manifest) string {
	return m.Path + l.MarkerSuffix
}

// TableDir returns the shard directory of table in m.
func (l Layout) TableDir(m Manifest, table string) string {
	return filepath.Join(m.Path, filepath.FromSlash(l.DataPath), table)
}

// ArchiveDir returns the bundle directory of m.
func (l Layout) ArchiveDir(m Manifest) string {
	return filepath.Join(m.Path, filepath.FromSlash(l.ArchiveSourceDir))
}
