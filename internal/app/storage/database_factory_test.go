package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/roster-sync/database"
	"github.com/stacklok/roster-sync/internal/checkpoint"
	"github.com/stacklok/roster-sync/internal/report"
	"github.com/stacklok/roster-sync/internal/status"
)

func TestDatabaseFactory(t *testing.T) {
	t.Parallel()

	pool, cleanup := database.SetupTestDB(t)
	t.Cleanup(cleanup)

	ctx := context.Background()
	factory := NewDatabaseFactoryWithPool(pool)

	now := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)

	require.NoError(t, factory.CheckpointStore().Save(ctx, checkpoint.Checkpoint{Job: "groups", Cursor: 1, Total: 4, UpdatedAt: now}))
	cp, err := factory.CheckpointStore().Load(ctx, "groups")
	require.NoError(t, err)
	assert.Equal(t, 1, cp.Cursor)

	require.NoError(t, factory.StatusPersistence().SaveStatus(ctx, "groups", &status.RunStatus{Phase: status.RunPhaseComplete}))
	st, err := factory.StatusPersistence().LoadStatus(ctx, "groups")
	require.NoError(t, err)
	assert.Equal(t, status.RunPhaseComplete, st.Phase)

	notifier := factory.ReportNotifier()
	require.NotNil(t, notifier)
	for i := range 3 {
		started := now.Add(time.Duration(i) * time.Hour)
		require.NoError(t, notifier.Notify(ctx, &report.Report{
			RunID:      uuid.NewString(),
			Job:        "groups",
			StartedAt:  started,
			FinishedAt: started.Add(time.Minute),
			Counts:     map[report.Action]int{report.ActionAdded: i},
		}))
	}

	lister := factory.ReportLister()
	require.NotNil(t, lister)
	reports, err := lister(ctx, "groups", 2)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.True(t, reports[0].StartedAt.After(reports[1].StartedAt), "newest first")
	assert.Equal(t, 2, reports[0].Counts[report.ActionAdded])

	reports, err = lister(ctx, "members", 10)
	require.NoError(t, err)
	assert.Empty(t, reports)
}
