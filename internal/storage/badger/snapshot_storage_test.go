package badger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/models"
)

func newTestStorage(t *testing.T) *SnapshotStorage {
	t.Helper()

	logger := arbor.NewLogger()
	options, err := openOptions(t.TempDir(), logger)
	require.NoError(t, err)

	store, err := badgerhold.Open(options)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	db := &BadgerDB{store: store}
	return NewSnapshotStorage(db, logger)
}

func snapshotAt(id string, created int64) *models.Snapshot {
	users := 12.0
	return &models.Snapshot{
		ID:          id,
		CreatedUnix: created,
		Interval:    models.NewTimeInterval(created-7*86400, created),
		Data: models.DashboardData{
			LastUpdate:  time.Unix(created, 0).UTC(),
			TotalEvents: 100,
			Bots:        []models.BotInteraction{{SlugID: "bot-a", EventCount: 100, UniqueUsers: &users}},
			LoginStats:  &models.LoginStats{TotalLogins: 3},
		},
	}
}

func TestSnapshotStorage_SaveAndLatest(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	_, err := storage.Latest(ctx)
	assert.ErrorIs(t, err, interfaces.ErrSnapshotNotFound)

	require.NoError(t, storage.Save(ctx, snapshotAt("snap_b", 2000)))
	require.NoError(t, storage.Save(ctx, snapshotAt("snap_a", 1000)))

	latest, err := storage.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "snap_b", latest.ID)
	assert.Equal(t, int64(2000), latest.Interval.EndUnix())
	assert.True(t, latest.Data.LastUpdate.Equal(time.Unix(2000, 0)))
	require.Len(t, latest.Data.Bots, 1)
	assert.Equal(t, 12.0, *latest.Data.Bots[0].UniqueUsers)
	assert.Equal(t, int64(3), latest.Data.LoginStats.TotalLogins)

	got, err := storage.Get(ctx, "snap_a")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.CreatedUnix)

	_, err = storage.Get(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrSnapshotNotFound)
}

func TestSnapshotStorage_SaveRequiresID(t *testing.T) {
	storage := newTestStorage(t)
	assert.Error(t, storage.Save(context.Background(), &models.Snapshot{}))
}

func TestSnapshotStorage_HistoryAndPrune(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	for i, id := range []string{"snap_1", "snap_2", "snap_3", "snap_4"} {
		require.NoError(t, storage.Save(ctx, snapshotAt(id, int64(1000+i))))
	}

	history, err := storage.History(ctx, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "snap_4", history[0].ID)
	assert.Equal(t, "snap_3", history[1].ID)

	removed, err := storage.Prune(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	all, err := storage.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "snap_4", all[0].ID)
	assert.Equal(t, "snap_3", all[1].ID)

	removed, err = storage.Prune(ctx, 5)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestNewManager_ResetOnStartup(t *testing.T) {
	logger := arbor.NewLogger()
	cfg := &common.BadgerConfig{Path: filepath.Join(t.TempDir(), "db")}

	m, err := NewManager(logger, cfg)
	require.NoError(t, err)
	require.NoError(t, m.SnapshotStorage().Save(context.Background(), &models.Snapshot{ID: "snap_keep", CreatedUnix: 1}))
	require.NoError(t, m.Close())

	m, err = NewManager(logger, cfg)
	require.NoError(t, err)
	_, err = m.SnapshotStorage().Latest(context.Background())
	require.NoError(t, err, "data survives a plain reopen")
	require.NoError(t, m.Close())

	cfg.ResetOnStartup = true
	m, err = NewManager(logger, cfg)
	require.NoError(t, err)
	defer m.Close()
	_, err = m.SnapshotStorage().Latest(context.Background())
	assert.ErrorIs(t, err, interfaces.ErrSnapshotNotFound)
}
