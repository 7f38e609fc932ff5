package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_SaveLoadClear(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	store := NewFileStore(dir)

	_, err := store.Load(ctx, "members")
	require.ErrorIs(t, err, ErrNotFound)

	cp := Checkpoint{Job: "members", Cursor: 3, Total: 9, UpdatedAt: time.Now().UTC().Truncate(time.Second)}
	require.NoError(t, store.Save(ctx, cp))

	info, err := os.Stat(filepath.Join(dir, "members", CheckpointFileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	_, err = os.Stat(filepath.Join(dir, "members", CheckpointFileName+".tmp"))
	assert.True(t, os.IsNotExist(err), "temporary file is renamed away")

	loaded, err := store.Load(ctx, "members")
	require.NoError(t, err)
	assert.Equal(t, cp, loaded)

	cp.Cursor = 4
	require.NoError(t, store.Save(ctx, cp))
	loaded, err = store.Load(ctx, "members")
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.Cursor)

	require.NoError(t, store.Clear(ctx, "members"))
	_, err = store.Load(ctx, "members")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, store.Clear(ctx, "members"), "clearing twice is fine")
}

func TestFileStore_RejectsInvalid(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewFileStore(t.TempDir())

	require.Error(t, store.Save(ctx, Checkpoint{Job: "members", Cursor: 5, Total: 1}))
	_, err := store.Load(ctx, "../escape")
	require.Error(t, err)
	require.Error(t, store.Clear(ctx, "a/b"))
}

func TestFileStore_CorruptCheckpoint(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "groups"), 0750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "groups", CheckpointFileName), []byte("{"), 0600))

	_, err := NewFileStore(dir).Load(ctx, "groups")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestFileStore_LeaseIsExclusive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	first := NewFileStore(dir)
	second := NewFileStore(dir)

	lease, err := first.AcquireLease(ctx, "lifecycle", "run-1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "run-1", lease.Owner)
	assert.Equal(t, time.Minute, lease.ExpiresAt.Sub(lease.AcquiredAt))

	_, err = first.AcquireLease(ctx, "lifecycle", "run-1b", time.Minute)
	require.ErrorIs(t, err, ErrLeaseHeld)

	_, err = second.AcquireLease(ctx, "lifecycle", "run-2", time.Minute)
	require.ErrorIs(t, err, ErrLeaseHeld)

	other, err := second.AcquireLease(ctx, "groups", "run-2", time.Minute)
	require.NoError(t, err, "leases are per job")
	require.NoError(t, second.ReleaseLease(ctx, other))

	require.NoError(t, first.ReleaseLease(ctx, lease))
	_, err = os.Stat(filepath.Join(dir, "lifecycle", LeaseInfoFileName))
	assert.True(t, os.IsNotExist(err))

	again, err := second.AcquireLease(ctx, "lifecycle", "run-2", time.Minute)
	require.NoError(t, err)
	require.NoError(t, second.ReleaseLease(ctx, again))
	require.NoError(t, second.ReleaseLease(ctx, again), "releasing twice is fine")
	require.NoError(t, second.ReleaseLease(ctx, nil))
}
