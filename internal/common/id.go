package common

import (
	"github.com/google/uuid"
)

// NewRunID generates a correlation ID for one fetch run
// Format: run_<uuid>
func NewRunID() string {
	return "run_" + uuid.New().String()
}

// NewSnapshotID generates a unique snapshot key
// Format: snap_<uuid>
func NewSnapshotID() string {
	return "snap_" + uuid.New().String()
}
