package app

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/roster-sync/internal/status"
	"github.com/stacklok/roster-sync/internal/versions"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

// writeFixture writes a roster export and a config using the in-memory directory
func writeFixture(t *testing.T) (configPath, dataDir string) {
	t.Helper()
	rosterDir := t.TempDir()
	dataDir = t.TempDir()

	writeFile(t, rosterDir, "organizations.csv", "id,scope,parentid,code,name,path\n"+
		"1,wing,,MI,Wing,/Wing\n"+
		"100,unit,1,SQ5,Squadron 5,/Wing/Squadron 5\n")
	writeFile(t, rosterDir, "members.csv", "id,firstname,lastname,orgid,type,rank,status\n"+
		"5001,Jane,Doe,100,SENIOR,Capt,active\n"+
		"5003,Ann,Bee,100,SENIOR,Lt,active\n")
	writeFile(t, rosterDir, "contacts.csv", "memberid,type,priority,contact\n"+
		"5001,email,primary,jane@home.example\n"+
		"5003,email,primary,ann@home.example\n")

	configPath = writeFile(t, t.TempDir(), "config.yaml", `domain: example.org
roster:
  directory: `+rosterDir+`
directory:
  type: memory
batch:
  itemDelay: 1ms
storage:
  type: file
  file:
    dataDir: `+dataDir+`
`)
	return configPath, dataDir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// Commands share the process-wide viper instance, so these tests run serially.

func TestRunAndStatusCommands(t *testing.T) {
	configPath, _ := writeFixture(t)

	_, err := execute(t, "run", "members", "--config", configPath, "--log-level", "error")
	require.NoError(t, err)

	out, err := execute(t, "status", "--config", configPath, "--format", "json", "--log-level", "error")
	require.NoError(t, err)

	var statuses map[string]*status.RunStatus
	require.NoError(t, json.Unmarshal([]byte(out), &statuses))
	require.Contains(t, statuses, "members")
	assert.Equal(t, status.RunPhaseComplete, statuses["members"].Phase)
	assert.Positive(t, statuses["members"].Total)

	out, err = execute(t, "status", "--config", configPath, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "Complete")
	assert.Contains(t, out, "Never run")
}

func TestRunCommand_Errors(t *testing.T) {
	configPath, _ := writeFixture(t)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "unknown_job", args: []string{"run", "payroll", "--config", configPath}, wantErr: `unknown job "payroll"`},
		{name: "missing_job", args: []string{"run", "--config", configPath}, wantErr: "accepts 1 arg(s)"},
		{name: "missing_config", args: []string{"run", "members", "--config", ""}, wantErr: "a configuration file is required"},
		{name: "bad_log_level", args: []string{"run", "members", "--config", configPath, "--log-level", "loud"}, wantErr: `invalid log level "loud"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version", "--log-level", "error")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "roster-sync "+versions.Version))
}

func TestConfirm(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  bool
	}{
		{input: "yes\n", want: true},
		{input: "Y\n", want: true},
		{input: " yes ", want: true},
		{input: "no\n", want: false},
		{input: "\n", want: false},
		{input: "", want: false},
	}

	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			t.Parallel()
			var out bytes.Buffer
			got, err := confirm(strings.NewReader(tt.input), &out, "About to apply migrations")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, out.String(), "Continue? (yes/no)")
		})
	}
}

func TestRenderStatusTable(t *testing.T) {
	t.Parallel()

	attempt := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	var out bytes.Buffer
	renderStatusTable(&out, map[string]*status.RunStatus{
		"groups": {
			Phase:        status.RunPhasePartial,
			Message:      "Stopped at item 37 of 100 (quota exhausted)",
			LastAttempt:  &attempt,
			AttemptCount: 1,
			Cursor:       37,
			Total:        100,
			DryRun:       true,
		},
		"lifecycle": {Phase: status.RunPhaseComplete, Total: 12},
	})

	table := out.String()
	assert.Contains(t, table, "37/100")
	assert.Contains(t, table, "Partial (dry run)")
	assert.Contains(t, table, "2026-03-01T06:00:00Z")
	assert.Contains(t, table, "12/12")
	assert.Contains(t, table, "Never run")
}
