package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	Cmd.SetOut(&out)
	Cmd.SetErr(&out)
	Cmd.SetArgs(args)
	t.Cleanup(func() { Cmd.SetArgs(nil) })

	err := Cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestValidateAcceptsDefaults(t *testing.T) {
	out, err := execute(t, "validate", filepath.Join("..", "..", "config", "defaults.json"))
	require.NoError(t, err)
	assert.Contains(t, out, "is valid (hard stop 25, max concurrent 2, dry run true)")
}

func TestValidateAcceptsYAML(t *testing.T) {
	path := writeFile(t, "fia.yaml", `
cost_guardrails:
  monthly_hard_stop: 100
  reservation_ttl_hours: 1
  cost_per_cpu_minute: "0.01"
run_settings:
  dry_run: false
  live_mode: true
  max_concurrent_fly_jobs: 4
`)

	out, err := execute(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "hard stop 100, max concurrent 4, dry run false")
}

func TestValidateRejectsBadDocument(t *testing.T) {
	for name, body := range map[string]string{
		"negative hard stop": `{"cost_guardrails": {"monthly_hard_stop": "-1"}}`,
		"zero concurrency":   `{"run_settings": {"max_concurrent_fly_jobs": 0}}`,
		"unknown field":      `{"cost_guardrails": {"monthly_budget": 10}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := execute(t, "validate", writeFile(t, "bad.json", body))
			assert.Error(t, err)
		})
	}
}

func TestValidateMissingFile(t *testing.T) {
	_, err := execute(t, "validate", filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
