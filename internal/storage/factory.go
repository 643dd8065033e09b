package storage

import (
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/storage/badger"
)

// NewStorageManager creates the Badger-backed storage manager from config
func NewStorageManager(logger arbor.ILogger, config *common.Config) (*badger.Manager, error) {
	return badger.NewManager(logger, &config.Storage.Badger)
}
