package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const promoteOnlyYAML = `name: promote-only
description: A leader promotes a freshly planned run.
seed:
  run:
    id: run-9
    group: grp-9
    store: Depot
    state: planning
    participants:
      - id: u-solo
        name: Sol
        leader: true
  products:
    - id: p-oats
      name: Rolled oats
      unit: kg
flow:
  - as: u-solo
    invoke: promote
assertions:
  - type: run_state
    state: active
`

// writeScenarioDir lays out a scenarios directory holding one file.
func writeScenarioDir(t *testing.T, filename, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, filename), []byte(content), 0o644))
	return dir
}

func TestTestCommand_RunsScenario(t *testing.T) {
	dir := writeScenarioDir(t, "promote-only.yaml", promoteOnlyYAML)

	out, err := executeCommand(t, "test", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ promote-only")
	assert.Contains(t, out, "Summary: 1 passed, 0 failed, 1 total")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTestCommand_GoldenRoundTrip(t *testing.T) {
	dir := writeScenarioDir(t, "promote-only.yaml", promoteOnlyYAML)
	goldenPath := filepath.Join(dir, "golden", "promote-only.golden")

	out, err := executeCommand(t, "test", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ promote-only (golden updated)")
	first, err := os.ReadFile(goldenPath)
	require.NoError(t, err)

	// The trace is byte-stable, so a rerun passes against the golden.
	out, err = executeCommand(t, "test", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ promote-only")

	_, err = executeCommand(t, "test", dir, "--update")
	require.NoError(t, err)
	second, err := os.ReadFile(goldenPath)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// A tampered golden fails the comparison.
	require.NoError(t, os.WriteFile(goldenPath, append(second, '\n'), 0o644))
	out, err = executeCommand(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Golden file mismatch")
	assert.Contains(t, out, "Summary: 0 passed, 1 failed, 1 total")
}

func TestTestCommand_FailingAssertion(t *testing.T) {
	// Same flow, but asserting a state the run never reaches.
	bad := promoteOnlyYAML[:len(promoteOnlyYAML)-len("active\n")] + "confirmed\n"
	dir := writeScenarioDir(t, "promote-only.yaml", bad)

	out, err := executeCommand(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ promote-only")
	assert.Contains(t, out, "Summary: 0 passed, 1 failed, 1 total")
}

func TestTestCommand_JSON(t *testing.T) {
	dir := writeScenarioDir(t, "promote-only.yaml", promoteOnlyYAML)

	out, err := executeCommand(t, "--format", "json", "test", dir)
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), data["passed"])
	assert.Equal(t, float64(0), data["failed"])
}

func TestTestCommand_FilterNoMatch(t *testing.T) {
	dir := writeScenarioDir(t, "promote-only.yaml", promoteOnlyYAML)

	out, err := executeCommand(t, "test", dir, "--filter", "shortage-*")
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestTestCommand_MissingDir(t *testing.T) {
	_, err := executeCommand(t, "test", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}
