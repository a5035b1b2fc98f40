package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenario = `
name: add_then_remove
description: "A document is added and then removed"
dictionaries: [users]
flow:
  - ops:
      - {dictionary: users, kind: add, key: ada, data: {name: Ada}}
  - ops:
      - {dictionary: users, kind: remove, key: ada}
assertions:
  - type: trace_order
    changes: [add users/ada, remove users/ada]
  - {type: final_state, dictionary: users, key: ada, absent: true}
`

const failingScenario = `
name: wrong_count
description: "Expects a change that never happens"
dictionaries: [users]
flow:
  - ops:
      - {dictionary: users, kind: try_remove, key: nobody}
assertions:
  - {type: trace_count, count: 1}
`

func TestTestCommand_PassingScenario(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "add_then_remove.yaml", passingScenario)

	out, err := execute(t, &RootOptions{}, "test", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ add_then_remove")
	assert.Contains(t, out, "Test Summary: 1 passed, 0 failed, 1 total")
}

func TestTestCommand_UpdateThenCompareGolden(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "add_then_remove.yaml", passingScenario)

	out, err := execute(t, &RootOptions{}, "test", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "(golden updated)")

	golden := filepath.Join(dir, "golden", "add_then_remove.golden")
	data, err := os.ReadFile(golden)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"scenario_name": "add_then_remove"`)

	_, err = execute(t, &RootOptions{}, "test", dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(golden, []byte("{}\n"), 0644))
	out, err = execute(t, &RootOptions{}, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTestCommand_FailingScenarioJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "add_then_remove.yaml", passingScenario)
	writeFile(t, dir, "wrong_count.yaml", failingScenario)

	out, err := execute(t, &RootOptions{}, "--format", "json", "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "TEST_FAILED", resp.Error.Code)
	data := resp.Data.(map[string]any)
	assert.Equal(t, 1.0, data["passed"])
	assert.Equal(t, 1.0, data["failed"])
}

func TestTestCommand_Filter(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "add_then_remove.yaml", passingScenario)
	writeFile(t, dir, "wrong_count.yaml", failingScenario)

	out, err := execute(t, &RootOptions{}, "test", dir, "--filter", "add_*")
	require.NoError(t, err)
	assert.Contains(t, out, "1 total")
}

func TestTestCommand_NoScenarios(t *testing.T) {
	out, err := execute(t, &RootOptions{}, "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestTestCommand_MissingDir(t *testing.T) {
	_, err := execute(t, &RootOptions{}, "test", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommand_LoadError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.yaml", "name: broken\n")

	out, err := execute(t, &RootOptions{}, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "failed to load scenario")
}
