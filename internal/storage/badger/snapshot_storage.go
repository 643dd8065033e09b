package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/models"
)

// SnapshotStorage implements interfaces.SnapshotStorage for Badger
type SnapshotStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

var _ interfaces.SnapshotStorage = (*SnapshotStorage)(nil)

// NewSnapshotStorage creates a new SnapshotStorage instance
func NewSnapshotStorage(db *BadgerDB, logger arbor.ILogger) *SnapshotStorage {
	return &SnapshotStorage{
		db:     db,
		logger: logger,
	}
}

// newestFirst orders snapshots by creation time descending
func newestFirst() *badgerhold.Query {
	return (&badgerhold.Query{}).SortBy("CreatedUnix", "ID").Reverse()
}

// Save stores a snapshot under its ID, replacing any previous value
func (s *SnapshotStorage) Save(ctx context.Context, snapshot *models.Snapshot) error {
	if snapshot == nil || snapshot.ID == "" {
		return errors.New("snapshot ID is required")
	}
	if err := s.db.Store().Upsert(snapshot.ID, snapshot); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Latest returns the most recently created snapshot
func (s *SnapshotStorage) Latest(ctx context.Context) (*models.Snapshot, error) {
	snapshots, err := s.History(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(snapshots) == 0 {
		return nil, interfaces.ErrSnapshotNotFound
	}
	return snapshots[0], nil
}

// Get returns the snapshot with id
func (s *SnapshotStorage) Get(ctx context.Context, id string) (*models.Snapshot, error) {
	var snapshot models.Snapshot
	err := s.db.Store().Get(id, &snapshot)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, interfaces.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return &snapshot, nil
}

// History returns up to limit snapshots, newest first. limit <= 0 returns all.
func (s *SnapshotStorage) History(ctx context.Context, limit int) ([]*models.Snapshot, error) {
	query := newestFirst()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var snapshots []models.Snapshot
	if err := s.db.Store().Find(&snapshots, query); err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	result := make([]*models.Snapshot, len(snapshots))
	for i := range snapshots {
		result[i] = &snapshots[i]
	}
	return result, nil
}

// Prune deletes all but the newest keep snapshots and returns how many were removed
func (s *SnapshotStorage) Prune(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}

	var stale []models.Snapshot
	if err := s.db.Store().Find(&stale, newestFirst().Skip(keep)); err != nil {
		return 0, fmt.Errorf("failed to list snapshots for pruning: %w", err)
	}

	removed := 0
	for _, snapshot := range stale {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if err := s.db.Store().Delete(snapshot.ID, &models.Snapshot{}); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
			return removed, fmt.Errorf("failed to delete snapshot %s: %w", snapshot.ID, err)
		}
		removed++
	}

	return removed, nil
}
