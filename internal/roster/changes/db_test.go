package changes

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/roster-sync/database"
)

func TestDBStore(t *testing.T) {
	t.Parallel()

	pool, cleanup := database.SetupTestDB(t)
	t.Cleanup(cleanup)

	ctx := context.Background()
	store := NewDBStore(pool)

	entries, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	seen := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, map[int64]Entry{
		1: {Fingerprint: "one", LastSeenActive: &seen},
		2: {Fingerprint: "two"},
	}))
	require.NoError(t, store.Save(ctx, map[int64]Entry{
		2: {Fingerprint: "two-b"},
		3: {Fingerprint: "three", LastSeenActive: &seen},
	}))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2, "save replaces all entries")
	assert.Equal(t, "two-b", got[2].Fingerprint)
	require.NotNil(t, got[3].LastSeenActive)
	assert.True(t, seen.Equal(*got[3].LastSeenActive))
}
