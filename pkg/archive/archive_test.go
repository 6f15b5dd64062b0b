package archive_test

import (
	"archive/tar"
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/shardmerge/pkg/archive"
)

type entry struct {
	name string
	body string
}

func writeZip(t *testing.T, path string, entries ...entry) {
	t.Helper()

	file, err := os.Create(path)
	require.NoError(t, err)

	zw := zip.NewWriter(file)

	for _, e := range entries {
		w, createErr := zw.Create(e.name)
		require.NoError(t, createErr)

		_, writeErr := io.WriteString(w, e.body)
		require.NoError(t, writeErr)
	}

	require.NoError(t, zw.Close())
	require.NoError(t, file.Close())
}

func writeTar(t *testing.T, path string, entries ...entry) {
	t.Helper()

	file, err := os.Create(path)
	require.NoError(t, err)

	var (
		sink   io.Writer = file
		closer io.Closer
	)

	format, err := archive.DetectFormat(path)
	require.NoError(t, err)

	switch format {
	case archive.FormatTarGzip:
		gw := gzip.NewWriter(file)
		sink, closer = gw, gw
	case archive.FormatTarZstd:
		zw, zErr := zstd.NewWriter(file)
		require.NoError(t, zErr)

		sink, closer = zw, zw
	case archive.FormatTarLZ4:
		lw := lz4.NewWriter(file)
		sink, closer = lw, lw
	case archive.FormatTar, archive.FormatZip:
	}

	tw := tar.NewWriter(sink)

	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "chunk/", Typeflag: tar.TypeDir, Mode: 0o755}))

	for _, e := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     e.name,
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     int64(len(e.body)),
		}))

		_, writeErr := io.WriteString(tw, e.body)
		require.NoError(t, writeErr)
	}

	require.NoError(t, tw.Close())

	if closer != nil {
		require.NoError(t, closer.Close())
	}

	require.NoError(t, file.Close())
}

func readFile(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	return string(data)
}

func TestDetectFormat(t *testing.T) {
	t.Parallel()

	cases := map[string]archive.Format{
		"b.zip":         archive.FormatZip,
		"b.ZIP":         archive.FormatZip,
		"b.tar":         archive.FormatTar,
		"b.tar.gz":      archive.FormatTarGzip,
		"b.tgz":         archive.FormatTarGzip,
		"b.tar.zst":     archive.FormatTarZstd,
		"b.tzst":        archive.FormatTarZstd,
		"dir/b.tar.lz4": archive.FormatTarLZ4,
	}

	for name, want := range cases {
		got, err := archive.DetectFormat(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := archive.DetectFormat("b.rar")
	require.ErrorIs(t, err, archive.ErrUnsupportedArchive)
}

func TestDestinationName(t *testing.T) {
	t.Parallel()

	name, ok := archive.DestinationName("chunk_0001/Patients.tsv")
	assert.True(t, ok)
	assert.Equal(t, "Patients.tsv", name)

	name, ok = archive.DestinationName(`chunk\ICDCode.tsv`)
	assert.True(t, ok)
	assert.Equal(t, "ICDCode.tsv", name)

	_, ok = archive.DestinationName("../")
	assert.False(t, ok)

	_, ok = archive.DestinationName("")
	assert.False(t, ok)
}

func TestExpand_UnionOfBundlesAfterHeaders(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dest := filepath.Join(dir, "tsv_001")

	template := filepath.Join(dir, "headers.zip")
	writeZip(t, template,
		entry{"headers/T.tsv", "H\n"},
		entry{"headers/U.tsv", "HU\n"},
	)

	bundle1 := filepath.Join(dir, "bundle1.zip")
	writeZip(t, bundle1, entry{"chunk1/T.tsv", "t1\nt2\n"})

	bundle2 := filepath.Join(dir, "bundle2.zip")
	writeZip(t, bundle2,
		entry{"chunk2/T.tsv", "t2\nt3\n"},
		entry{"chunk2/U.tsv", "u1\n"},
	)

	expander := archive.NewExpander(nil)

	seeded, err := expander.SeedHeaders(context.Background(), template, dest)
	require.NoError(t, err)
	assert.Equal(t, []string{"T.tsv", "U.tsv"}, seeded.Files)

	stats, err := expander.ExpandBundles(context.Background(), []string{bundle1, bundle2}, dest)
	require.NoError(t, err)

	assert.Equal(t, "H\nt1\nt2\nt2\nt3\n", readFile(t, filepath.Join(dest, "T.tsv")))
	assert.Equal(t, "HU\nu1\n", readFile(t, filepath.Join(dest, "U.tsv")))
	assert.Equal(t, 2, stats.Bundles)
	assert.Equal(t, 3, stats.Entries)
	assert.Equal(t, int64(15), stats.Bytes)
}

func TestSeedHeaders_TruncatesPreviousAttempt(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(dest, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dest, "T.tsv"), []byte("H\npartial\n"), 0o600))

	template := filepath.Join(dir, "headers.tar.gz")
	writeTar(t, template, entry{"headers/T.tsv", "H\n"})

	_, err := archive.NewExpander(nil).SeedHeaders(context.Background(), template, dest)
	require.NoError(t, err)

	assert.Equal(t, "H\n", readFile(t, filepath.Join(dest, "T.tsv")))
}

func TestExpandBundles_TarVariants(t *testing.T) {
	t.Parallel()

	for _, ext := range []string{".tar", ".tar.gz", ".tar.zst", ".tar.lz4"} {
		t.Run(ext, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			bundle := filepath.Join(dir, "bundle"+ext)
			writeTar(t, bundle,
				entry{"chunk/T.tsv", "a\n"},
				entry{"chunk/T.tsv", "b\n"},
			)

			dest := filepath.Join(dir, "out")

			stats, err := archive.NewExpander(nil).ExpandBundles(context.Background(), []string{bundle}, dest)
			require.NoError(t, err)

			assert.Equal(t, "a\nb\n", readFile(t, filepath.Join(dest, "T.tsv")))
			assert.Equal(t, 2, stats.Entries)
			assert.Equal(t, []string{"T.tsv"}, stats.Files)
		})
	}
}

func TestExpandBundles_CorruptBundle(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	bundle := filepath.Join(dir, "bundle.zip")
	require.NoError(t, os.WriteFile(bundle, []byte("not a zip"), 0o600))

	_, err := archive.NewExpander(nil).ExpandBundles(context.Background(), []string{bundle}, filepath.Join(dir, "out"))
	require.Error(t, err)
}

func TestWalk_UnsupportedFormat(t *testing.T) {
	t.Parallel()

	err := archive.Walk(context.Background(), "bundle.7z", func(string, io.Reader) error { return nil })
	require.ErrorIs(t, err, archive.ErrUnsupportedArchive)
}
