package repository

import (
	"testing"
	"time"

	"github.com/ajspantry/pantry-offline/internal/datastore/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncQueueRepository_EnqueueAndList(t *testing.T) {
	repo := NewSyncQueueRepository(setupTestDB(t))
	ctx := t.Context()
	base := time.Now().Add(-time.Hour)

	for i, kind := range []string{"order", "pantry", "order"} {
		require.NoError(t, repo.Enqueue(ctx, &entities.SyncItem{
			ID:       string(rune('a'+i)) + "-item",
			Kind:     kind,
			Payload:  `{"qty":1}`,
			QueuedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := repo.List(ctx, SyncItemFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a-item", all[0].ID, "oldest first")

	orders, err := repo.List(ctx, SyncItemFilter{Kind: "order"})
	require.NoError(t, err)
	assert.Len(t, orders, 2)

	limited, err := repo.List(ctx, SyncItemFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSyncQueueRepository_MarkSynced(t *testing.T) {
	repo := NewSyncQueueRepository(setupTestDB(t))
	ctx := t.Context()

	require.NoError(t, repo.Enqueue(ctx, &entities.SyncItem{ID: "one", Kind: "order", QueuedAt: time.Now()}))
	require.NoError(t, repo.Enqueue(ctx, &entities.SyncItem{ID: "two", Kind: "order", QueuedAt: time.Now()}))

	n, err := repo.MarkSynced(ctx, []string{"one"}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.MarkSynced(ctx, []string{"one"}, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n, "already synced items are not stamped twice")

	pending, err := repo.List(ctx, SyncItemFilter{PendingOnly: true})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "two", pending[0].ID)
	assert.True(t, pending[0].Pending())

	n, err = repo.MarkSynced(ctx, nil, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSyncQueueRepository_DeleteSyncedBefore(t *testing.T) {
	repo := NewSyncQueueRepository(setupTestDB(t))
	ctx := t.Context()

	require.NoError(t, repo.Enqueue(ctx, &entities.SyncItem{ID: "old", Kind: "order", QueuedAt: time.Now()}))
	require.NoError(t, repo.Enqueue(ctx, &entities.SyncItem{ID: "pending", Kind: "order", QueuedAt: time.Now()}))
	_, err := repo.MarkSynced(ctx, []string{"old"}, time.Now().Add(-48*time.Hour))
	require.NoError(t, err)

	n, err := repo.DeleteSyncedBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	remaining, err := repo.List(ctx, SyncItemFilter{})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "pending", remaining[0].ID)
}
