package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := RootCommand("test")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(t.Context())
	return out.String(), err
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := RootCommand("test")
	names := make([]string, 0, len(root.Commands()))
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "precache", "buckets", "queue"})
}

func TestQueueCommands(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "pantry.db")
	cfg := writeConfig(t, "database:\n  sqlite_path: "+dbPath+"\nmetrics:\n  enabled: false\n")

	out, err := execute(t, "--config", cfg, "queue", "add", "order.create", `{"item":"tea"}`)
	require.NoError(t, err)
	id := strings.TrimSpace(out)
	assert.Len(t, id, 36)

	out, err = execute(t, "--config", cfg, "queue", "list", "--pending")
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "order.create")

	out, err = execute(t, "--config", cfg, "queue", "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "1 change(s) synced")

	_, err = execute(t, "--config", cfg, "queue", "add", "order.create", "not json")
	require.Error(t, err)
}

func TestBucketsList_Empty(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "pantry.db")
	cfg := writeConfig(t, "cache:\n  backend: sqlite\ndatabase:\n  sqlite_path: "+dbPath+"\nmetrics:\n  enabled: false\n")

	out, err := execute(t, "--config", cfg, "buckets", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "BUCKET")

	_, err = execute(t, "--config", cfg, "buckets", "show", "ajs-pantry-v0", "http://localhost:5000/")
	require.Error(t, err)
}

func TestInvalidConfig(t *testing.T) {
	cfg := writeConfig(t, "cache:\n  backend: redis\n")
	_, err := execute(t, "--config", cfg, "queue", "list")
	require.Error(t, err)
}
