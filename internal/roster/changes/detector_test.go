package changes_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/roster-sync/internal/roster"
	"github.com/stacklok/roster-sync/internal/roster/changes"
	"github.com/stacklok/roster-sync/internal/roster/changes/mocks"
)

func TestDetector_StoreErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	snap := roster.NewSnapshot(nil, nil, time.Now())

	tests := []struct {
		name  string
		setup func(store *mocks.MockStore)
		run   func(d *changes.Detector) error
	}{
		{
			name: "load",
			setup: func(store *mocks.MockStore) {
				store.EXPECT().Load(gomock.Any()).Return(nil, assert.AnError)
			},
			run: func(d *changes.Detector) error {
				_, err := d.Classify(ctx, snap)
				return err
			},
		},
		{
			name: "save",
			setup: func(store *mocks.MockStore) {
				store.EXPECT().Load(gomock.Any()).Return(map[int64]changes.Entry{}, nil)
				store.EXPECT().Save(gomock.Any(), gomock.Any()).Return(assert.AnError)
			},
			run: func(d *changes.Detector) error {
				c, err := d.Classify(ctx, snap)
				if err != nil {
					return err
				}
				return d.Commit(ctx, snap, c)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)
			store := mocks.NewMockStore(ctrl)
			tt.setup(store)

			err := tt.run(changes.NewDetector(store))
			require.ErrorIs(t, err, assert.AnError)
		})
	}
}

func TestDetector_CommitKeepsRemovedMembers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	seen := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	store.EXPECT().Load(gomock.Any()).Return(map[int64]changes.Entry{
		7: {Fingerprint: "gone", LastSeenActive: &seen},
	}, nil)

	var saved map[int64]changes.Entry
	store.EXPECT().Save(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, entries map[int64]changes.Entry) error {
			saved = entries
			return nil
		})

	d := changes.NewDetector(store, changes.WithClock(func() time.Time { return now }))
	snap := roster.NewSnapshot(nil, nil, now)
	c, err := d.Classify(ctx, snap)
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, c.Removed())

	require.NoError(t, d.Commit(ctx, snap, c))
	require.Contains(t, saved, int64(7))
	assert.Equal(t, "gone", saved[7].Fingerprint)
	assert.Equal(t, seen, *saved[7].LastSeenActive)
}
