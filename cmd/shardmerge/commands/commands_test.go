package commands_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/shardmerge/cmd/shardmerge/commands"
	"github.com/Sumatoshi-tech/shardmerge/pkg/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	cmd := commands.NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())

	return out.String(), err
}

// writeRoot creates a data root holding one ready manifest with a single
// Patients table and returns the root and a config file pointing at it.
func writeRoot(t *testing.T) (string, string) {
	t.Helper()

	root := t.TempDir()
	tableDir := filepath.Join(root, "manifest_2024", "by-filepath", "clinical", "tsv", "Patients")
	require.NoError(t, os.MkdirAll(tableDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(tableDir, "a.tsv"), []byte("id\n1\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(tableDir, "b.tsv"), []byte("id\n2\n"), 0o600))

	cfgPath := filepath.Join(t.TempDir(), "shardmerge.yaml")
	content := "data:\n  root: " + root + "\ntables:\n  - Patients\nlogging:\n  level: error\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o600))

	return root, cfgPath
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "shardmerge "))
}

func TestConfigCommand_PrintsEffectiveConfig(t *testing.T) {
	t.Parallel()

	root, cfgPath := writeRoot(t)

	out, err := execute(t, "config", "--config", cfgPath)
	require.NoError(t, err)

	var cfg config.Config

	require.NoError(t, yaml.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, root, cfg.Data.Root)
	assert.Equal(t, []string{"Patients"}, cfg.Tables)
	assert.Equal(t, config.DefaultMergePollInterval, cfg.Merge.PollInterval)
	assert.Equal(t, "error", cfg.Logging.Level)
}

func TestConfigCommand_LogLevelOverride(t *testing.T) {
	t.Parallel()

	_, cfgPath := writeRoot(t)

	out, err := execute(t, "config", "--config", cfgPath, "--log-level", "debug")
	require.NoError(t, err)
	assert.Contains(t, out, "level: debug")

	_, err = execute(t, "config", "--config", cfgPath, "--log-level", "chatty")
	require.ErrorIs(t, err, config.ErrInvalidLogLevel)
}

func TestConfigCommand_InvalidConfig(t *testing.T) {
	t.Parallel()

	cfgPath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("tables: []\n"), 0o600))

	_, err := execute(t, "config", "--config", cfgPath)
	require.ErrorIs(t, err, config.ErrNoTables)
}

func TestOnceCommand_MergesThenSkips(t *testing.T) {
	t.Parallel()

	root, cfgPath := writeRoot(t)

	out, err := execute(t, "once", "--config", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "merged\n", out)

	merged, err := os.ReadFile(filepath.Join(root, "tsv_2024", "Patients.tsv"))
	require.NoError(t, err)
	assert.Equal(t, "id\n1\n2\n", string(merged))
	assert.FileExists(t, filepath.Join(root, "manifest_2024.sync"))

	out, err = execute(t, "once", "--config", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "already_processed\n", out)
}

func TestOnceCommand_FailedCycle(t *testing.T) {
	t.Parallel()

	cfgPath := filepath.Join(t.TempDir(), "shardmerge.yaml")
	content := "data:\n  root: " + filepath.Join(t.TempDir(), "missing") + "\nlogging:\n  level: error\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o600))

	out, err := execute(t, "once", "--config", cfgPath)
	require.ErrorIs(t, err, commands.ErrCycleFailed)
	assert.Equal(t, "failed\n", out)
}

func TestStatusCommand(t *testing.T) {
	t.Parallel()

	_, cfgPath := writeRoot(t)

	out, err := execute(t, "status", "--config", cfgPath, "--no-color")
	require.NoError(t, err)
	assert.Contains(t, out, "manifest_2024 *")
	assert.Contains(t, out, "ready")
	// go-pretty upper-cases footers by default.
	assert.Contains(t, out, "TOTAL: 1 MANIFESTS")

	_, err = execute(t, "once", "--config", cfgPath)
	require.NoError(t, err)

	out, err = execute(t, "status", "--config", cfgPath, "--no-color")
	require.NoError(t, err)
	assert.Contains(t, out, "converted")
}

func TestRunCommand_StopsOnCancel(t *testing.T) {
	t.Parallel()

	root, cfgPath := writeRoot(t)

	content, err := os.ReadFile(cfgPath)
	require.NoError(t, err)

	extra := "merge:\n  poll_interval: 10ms\nserver:\n  metrics_addr: 127.0.0.1:0\n"
	require.NoError(t, os.WriteFile(cfgPath, append(content, extra...), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := commands.NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"run", "--config", cfgPath})

	done := make(chan error, 1)

	go func() { done <- cmd.ExecuteContext(ctx) }()

	assert.Eventually(t, func() bool {
		_, statErr := os.Stat(filepath.Join(root, "manifest_2024.sync"))

		return statErr == nil
	}, 10*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case runErr := <-done:
		require.NoError(t, runErr)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}
