package app

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/roster-sync/internal/config"
	"github.com/stacklok/roster-sync/internal/directory/memory"
	"github.com/stacklok/roster-sync/internal/report"
	"github.com/stacklok/roster-sync/internal/roster"
	"github.com/stacklok/roster-sync/internal/status"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type staticSource struct {
	tables *roster.Tables
}

func (s staticSource) Fetch(context.Context) (*roster.Tables, error) {
	return s.tables, nil
}

func testTables() *roster.Tables {
	return &roster.Tables{
		Organizations: []roster.OrganizationRow{
			{ID: "1", Scope: "wing", Code: "MI", Path: "/Wing"},
			{ID: "100", Scope: "unit", ParentID: "1", Code: "SQ5", Path: "/Wing/Squadron 5"},
		},
		Members: []roster.MemberRow{
			{ID: "5001", GivenName: "Jane", FamilyName: "Doe", OrgID: "100", Type: "SENIOR", Status: "active"},
			{ID: "5003", GivenName: "Ann", FamilyName: "Bee", OrgID: "100", Type: "SENIOR", Status: "active"},
		},
		Contacts: []roster.ContactRow{
			{MemberID: "5001", Kind: "email", Priority: "primary", Value: "jane@home.example"},
			{MemberID: "5003", Kind: "email", Priority: "primary", Value: "ann@home.example"},
		},
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Domain:    "example.org",
		Directory: config.DirectoryConfig{Type: config.DirectoryTypeMemory},
		Batch:     config.BatchConfig{ItemDelay: "1ms"},
		Storage: config.StorageConfig{
			Type: config.StorageTypeFile,
			File: &config.FileStorageConfig{DataDir: t.TempDir()},
		},
	}
}

type captureNotifier struct {
	reports []*report.Report
}

func (c *captureNotifier) Notify(_ context.Context, r *report.Report) error {
	c.reports = append(c.reports, r)
	return nil
}

func TestNew_RunsJobEndToEnd(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dir := memory.New()
	capture := &captureNotifier{}
	app, err := New(ctx,
		WithConfig(testConfig(t)),
		WithDirectory(dir),
		WithSource(staticSource{tables: testTables()}),
		WithNotifiers(capture),
		WithClock(func() time.Time { return testNow }),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(ctx) })

	rep, err := app.Run(ctx, "members")
	require.NoError(t, err)
	assert.True(t, rep.Completed)
	assert.Equal(t, 2, rep.Counts[report.ActionCreated])
	require.Len(t, capture.reports, 1)

	st, err := app.Storage().StatusPersistence().LoadStatus(ctx, "members")
	require.NoError(t, err)
	assert.Equal(t, status.RunPhaseComplete, st.Phase)

	// Fingerprints were committed, so a second invocation has nothing to do
	rep, err = app.Run(ctx, "members")
	require.NoError(t, err)
	assert.Zero(t, rep.Changes())
}

func TestNew_DryRunLeavesDirectoryUntouched(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dir := memory.New()
	app, err := New(ctx,
		WithConfig(testConfig(t)),
		WithDirectory(dir),
		WithSource(staticSource{tables: testTables()}),
		WithDryRun(true),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(ctx) })

	rep, err := app.Run(ctx, "members")
	require.NoError(t, err)
	assert.True(t, rep.DryRun)

	users, err := dir.ListUsers(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, users.Users)
}

func TestNew_DryRunDoesNotMoveTheRealCursor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cfg := testConfig(t)
	cfg.Batch.BatchSize = 1
	dir := memory.New()
	build := func(dryRun bool) *App {
		t.Helper()
		app, err := New(ctx,
			WithConfig(cfg),
			WithDirectory(dir),
			WithSource(staticSource{tables: testTables()}),
			WithDryRun(dryRun),
			WithClock(func() time.Time { return testNow }),
		)
		require.NoError(t, err)
		t.Cleanup(func() { _ = app.Close(ctx) })
		return app
	}

	rep, err := build(true).Run(ctx, "members")
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Processed)
	assert.Empty(t, dir.Users())

	live := build(false)
	rep, err = live.Run(ctx, "members")
	require.NoError(t, err)
	assert.False(t, rep.Completed)
	assert.Equal(t, []string{"jane.doe@example.org"}, dir.Users(), "the real run starts at the first member")

	rep, err = live.Run(ctx, "members")
	require.NoError(t, err)
	assert.True(t, rep.Completed)
	assert.Equal(t, []string{"ann.bee@example.org", "jane.doe@example.org"}, dir.Users())

	st, err := live.Storage().StatusPersistence().LoadStatus(ctx, "members")
	require.NoError(t, err)
	assert.False(t, st.DryRun)
	assert.Equal(t, status.RunPhaseComplete, st.Phase)
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		opts    func(t *testing.T) []Option
		wantErr string
	}{
		{
			name:    "missing_config",
			opts:    func(*testing.T) []Option { return nil },
			wantErr: "config cannot be nil",
		},
		{
			name: "unsupported_directory",
			opts: func(t *testing.T) []Option {
				t.Helper()
				cfg := testConfig(t)
				cfg.Directory.Type = "ldap"
				return []Option{WithConfig(cfg)}
			},
			wantErr: `unsupported directory type "ldap"`,
		},
		{
			name: "invalid_address",
			opts: func(t *testing.T) []Option {
				t.Helper()
				return []Option{WithConfig(testConfig(t)), WithAddress("nonsense")}
			},
			wantErr: "address is not a valid port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(context.Background(), tt.opts(t)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWithAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		addr    string
		wantErr bool
	}{
		{addr: ":8080"},
		{addr: "localhost:9090"},
		{addr: "127.0.0.1:0"},
		{addr: "", wantErr: true},
		{addr: "8080", wantErr: true},
		{addr: "host:", wantErr: true},
		{addr: ":http", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			t.Parallel()
			cfg := &appConfig{}
			err := WithAddress(tt.addr)(cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.addr, cfg.address)
		})
	}
}

func TestApp_Serve(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := New(ctx,
		WithConfig(testConfig(t)),
		WithDirectory(memory.New()),
		WithSource(staticSource{tables: testTables()}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- app.serve(ctx, ln, 5*time.Second, logr.Discard())
	}()

	url := fmt.Sprintf("http://%s/v1/jobs/members", ln.Addr().String())
	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get(url) //nolint:gosec // test server
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"job":"members"`)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}
