package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tinyScenario = `
seed: 5
horizon: 1s
stations:
  - id: 1
    position: [0, 0, 10]
    radius: 500
    frequency: 2.14e9
terminals:
  - id: 2
    position: [80, 0, 1.5]
flows:
  - terminal: 2
    direction: uplink
    app: voice
    rate: 12200
    size: 61
    start: 100ms
`

func TestRunCommand_PrintsReportAndMetrics(t *testing.T) {
	// GIVEN a scenario file and a metrics destination
	dir := t.TempDir()
	scn := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(scn, []byte(tinyScenario), 0o644))
	metricsPath := filepath.Join(dir, "metrics.txt")

	// WHEN the run command executes
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"run", "--scenario", scn, "--log", "error", "--trace", "decisions", "--metrics-out", metricsPath})
	require.NoError(t, rootCmd.Execute())

	// THEN the report is printed and the metrics dump is in text exposition format
	assert.Contains(t, out.String(), "=== Simulation Report ===")
	data, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# TYPE umts_handovers_total counter")
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte(tinyScenario), 0o644))
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("seed: 1\nhorizon: 0s\nstations: []\n"), 0o644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"validate", good})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "1 stations, 1 terminals, 1 flows, 0 services")

	rootCmd.SetArgs([]string{"validate", bad})
	assert.Error(t, rootCmd.Execute())
}
