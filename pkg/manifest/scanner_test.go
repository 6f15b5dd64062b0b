package manifest_test

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/shardmerge/pkg/manifest"
)

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// fixedTimes orders manifests by the given names instead of inode times.
func fixedTimes(names ...string) manifest.CreatedAtFunc {
	order := make(map[string]time.Time, len(names))
	for i, name := range names {
		order[name] = baseTime.Add(time.Duration(i) * time.Minute)
	}

	return func(path string, _ fs.FileInfo) time.Time {
		return order[filepath.Base(path)]
	}
}

func testLayout(root string) manifest.Layout {
	layout := manifest.DefaultLayout()
	layout.Root = root
	layout.Tables = []string{"ICDCode", "Patients"}

	return layout
}

func mkdir(t *testing.T, parts ...string) string {
	t.Helper()

	dir := filepath.Join(parts...)
	require.NoError(t, os.MkdirAll(dir, 0o750))

	return dir
}

func touch(t *testing.T, path, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestListCandidates_SortsByCreationTime(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	for _, name := range []string{"manifest_b", "manifest_a", "manifest_c", "tsv_a", "other"} {
		mkdir(t, root, name)
	}

	touch(t, filepath.Join(root, "manifest_a.sync"), "Done")

	scanner := manifest.NewScanner(testLayout(root),
		manifest.WithCreatedAt(fixedTimes("manifest_c", "manifest_a", "manifest_b")))

	got, err := scanner.ListCandidates(context.Background())
	require.NoError(t, err)

	names := make([]string, 0, len(got))
	for _, m := range got {
		names = append(names, m.Name)
	}

	assert.Equal(t, []string{"manifest_c", "manifest_a", "manifest_b"}, names)
	assert.Equal(t, filepath.Join(root, "manifest_b"), got[2].Path)
}

func TestScan_SkipsOutputDirSharingPrefix(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	layout := testLayout(root)
	layout.OutputToken = "manifest-merged"

	for _, table := range layout.Tables {
		mkdir(t, root, "manifest_1", layout.DataPath, table)
	}

	// The output directory of manifest_1 appears after it.
	mkdir(t, root, "manifest-merged_1")

	scanner := manifest.NewScanner(layout,
		manifest.WithCreatedAt(fixedTimes("manifest_1", "manifest-merged_1")))

	got, err := scanner.ListCandidates(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "manifest_1", got[0].Name)

	sel, err := scanner.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, manifest.StatusReady, sel.Status)
	assert.Equal(t, "manifest_1", sel.Manifest.Name)
}

func TestListCandidates_TiesBrokenByName(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mkdir(t, root, "manifest_2")
	mkdir(t, root, "manifest_1")

	scanner := manifest.NewScanner(testLayout(root), manifest.WithCreatedAt(func(string, fs.FileInfo) time.Time {
		return baseTime
	}))

	got, err := scanner.ListCandidates(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "manifest_1", got[0].Name)
}

func TestListCandidates_Exclude(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mkdir(t, root, "manifest_1")
	mkdir(t, root, "manifest_1_merged")

	layout := testLayout(root)
	layout.Exclude = []string{"*_merged"}

	got, err := manifest.NewScanner(layout).ListCandidates(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, "manifest_1", got[0].Name)
}

func TestListCandidates_MissingRoot(t *testing.T) {
	t.Parallel()

	_, err := manifest.NewScanner(testLayout(filepath.Join(t.TempDir(), "absent"))).ListCandidates(context.Background())
	require.Error(t, err)
}

func TestSelectNewest(t *testing.T) {
	t.Parallel()

	_, ok := manifest.SelectNewest(nil)
	assert.False(t, ok)

	newest, ok := manifest.SelectNewest([]manifest.Manifest{
		{Name: "t1"}, {Name: "t2"}, {Name: "t3"},
	})
	assert.True(t, ok)
	assert.Equal(t, "t3", newest.Name)
}

func TestScan_Statuses(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	layout := testLayout(root)
	scanner := manifest.NewScanner(layout, manifest.WithCreatedAt(fixedTimes("manifest_1")))

	sel, err := scanner.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, manifest.StatusNone, sel.Status)

	m := manifest.Manifest{Name: "manifest_1", Path: mkdir(t, root, "manifest_1")}

	mkdir(t, layout.TableDir(m, "ICDCode"))

	sel, err = scanner.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, manifest.StatusNotReady, sel.Status)
	assert.Equal(t, "Patients", sel.MissingTable)

	mkdir(t, layout.TableDir(m, "Patients"))

	sel, err = scanner.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, manifest.StatusReady, sel.Status)
	assert.Equal(t, "manifest_1", sel.Manifest.Name)

	touch(t, layout.MarkerPath(m), "Done")

	sel, err = scanner.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, manifest.StatusProcessed, sel.Status)
}

func TestScan_OnlyNewestConsidered(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	layout := testLayout(root)

	for _, name := range []string{"manifest_t1", "manifest_t2", "manifest_t3"} {
		m := manifest.Manifest{Name: name, Path: mkdir(t, root, name)}
		for _, table := range layout.Tables {
			mkdir(t, layout.TableDir(m, table))
		}
	}

	scanner := manifest.NewScanner(layout,
		manifest.WithCreatedAt(fixedTimes("manifest_t1", "manifest_t2", "manifest_t3")))

	sel, err := scanner.Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, manifest.StatusReady, sel.Status)
	assert.Equal(t, "manifest_t3", sel.Manifest.Name)
}

func TestIsTableReady_ArchiveMode(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	layout := testLayout(root)
	layout.Mode = manifest.ModeArchive

	m := manifest.Manifest{Name: "manifest_1", Path: mkdir(t, root, "manifest_1")}
	scanner := manifest.NewScanner(layout)

	assert.False(t, scanner.IsTableReady(m, "Patients"))

	mkdir(t, layout.ArchiveDir(m))

	assert.True(t, scanner.IsTableReady(m, "Patients"))
}

func TestShardPaths_LexicographicFilesOnly(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	layout := testLayout(root)
	m := manifest.Manifest{Name: "manifest_1", Path: filepath.Join(root, "manifest_1")}
	dir := layout.TableDir(m, "Patients")

	touch(t, filepath.Join(dir, "part-0002.tsv"), "H\n")
	touch(t, filepath.Join(dir, "part-0001.tsv"), "H\n")
	touch(t, filepath.Join(dir, "part-0010.tsv"), "H\n")
	touch(t, filepath.Join(dir, "notes.txt"), "x")
	mkdir(t, dir, "nested.tsv")

	paths, err := manifest.NewScanner(layout).ShardPaths(m, "Patients")
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(dir, "part-0001.tsv"),
		filepath.Join(dir, "part-0002.tsv"),
		filepath.Join(dir, "part-0010.tsv"),
	}, paths)
}

func TestBundlePaths(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	layout := testLayout(root)
	layout.Mode = manifest.ModeArchive
	m := manifest.Manifest{Name: "manifest_1", Path: filepath.Join(root, "manifest_1")}

	touch(t, filepath.Join(layout.ArchiveDir(m), "b.zip"), "")
	touch(t, filepath.Join(layout.ArchiveDir(m), "a.zip"), "")

	paths, err := manifest.NewScanner(layout).BundlePaths(m)
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(layout.ArchiveDir(m), "a.zip"),
		filepath.Join(layout.ArchiveDir(m), "b.zip"),
	}, paths)
}

func TestLayout_DerivedPaths(t *testing.T) {
	t.Parallel()

	layout := manifest.DefaultLayout()
	m := manifest.Manifest{Name: "manifest_2024_05", Path: "/data/manifest_2024_05"}

	assert.Equal(t, "/data/tsv_2024_05", layout.OutputDir(m))
	assert.Equal(t, "/data/tsv_2024_05/Patients.tsv", layout.OutputPath(m, "Patients"))
	assert.Equal(t, "/data/manifest_2024_05.sync", layout.MarkerPath(m))
	assert.Equal(t, "/data/manifest_2024_05/by-filepath/clinical/tsv/ICDCode", layout.TableDir(m, "ICDCode"))
}

func TestDescribe(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	layout := testLayout(root)
	mkdir(t, root, "manifest_1")
	mkdir(t, root, "manifest_2")
	touch(t, filepath.Join(root, "manifest_1.sync"), "Done")

	scanner := manifest.NewScanner(layout, manifest.WithCreatedAt(fixedTimes("manifest_1", "manifest_2")))

	got, err := scanner.Describe(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, manifest.StatusProcessed, got[0].Status)
	assert.Equal(t, manifest.StatusNotReady, got[1].Status)
	assert.Equal(t, "ICDCode", got[1].MissingTable)
}
