package marker_test

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/shardmerge/pkg/marker"
	"github.com/Sumatoshi-tech/shardmerge/pkg/merge"
)

func TestWriteRead(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "manifest_1.sync")
	assert.False(t, marker.Exists(path))

	want := marker.Marker{
		Manifest:    "manifest_1",
		CompletedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Mode:        "shards",
		Tables:      []merge.Stats{{Table: "Patients", Shards: 3, Lines: 5, Bytes: 14}},
	}

	require.NoError(t, marker.Write(path, want))
	assert.True(t, marker.Exists(path))

	got, err := marker.Read(path)
	require.NoError(t, err)

	assert.Equal(t, want, got)
}

func TestRead_LegacyContent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "manifest_1.sync")
	require.NoError(t, os.WriteFile(path, []byte("Done"), 0o600))

	got, err := marker.Read(path)
	require.NoError(t, err)

	assert.True(t, got.Legacy)
	assert.True(t, marker.Exists(path))
}

func TestRead_Missing(t *testing.T) {
	t.Parallel()

	_, err := marker.Read(filepath.Join(t.TempDir(), "absent.sync"))
	require.ErrorIs(t, err, fs.ErrNotExist)
}
