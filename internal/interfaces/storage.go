package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/vigil/internal/models"
)

// ErrSnapshotNotFound is returned when no snapshot has been stored yet
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotStorage persists dashboard snapshots
type SnapshotStorage interface {
	Save(ctx context.Context, snapshot *models.Snapshot) error
	Latest(ctx context.Context) (*models.Snapshot, error)
	History(ctx context.Context, limit int) ([]*models.Snapshot, error)
	Prune(ctx context.Context, keep int) (int, error)
}

// StorageManager owns the database and its stores
type StorageManager interface {
	SnapshotStorage() SnapshotStorage
	Close() error
}
