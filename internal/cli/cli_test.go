package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("TRENDING_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand_RejectsUnknownFormat(t *testing.T) {
	_, err := run(t, "latest", "--format", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestLatestCommand_EmptyStore(t *testing.T) {
	db := filepath.Join(t.TempDir(), "vault.db")
	_, err := run(t, "latest", "--sqlite", db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no snapshot has been published yet")
}

func TestPruneCommand_JSON(t *testing.T) {
	db := filepath.Join(t.TempDir(), "vault.db")
	out, err := run(t, "prune", "--sqlite", db, "--horizon-days", "7", "--format", "json")
	require.NoError(t, err)

	var rep map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.EqualValues(t, 0, rep["snapshots"])
	assert.EqualValues(t, 0, rep["observations"])
}

func TestBuildCommand_SkipCollectWithoutData(t *testing.T) {
	db := filepath.Join(t.TempDir(), "vault.db")
	_, err := run(t, "build", "--sqlite", db, "--skip-collect")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient")
}
