package repository

import (
	"context"
	"errors"

	"roomqueue/internal/models"
)

var (
	// ErrNotFound is returned by Get and Update for an unknown queue id.
	ErrNotFound = errors.New("queue entry not found")
	// ErrDuplicateKey is returned by Add when the queue id already exists.
	ErrDuplicateKey = errors.New("queue entry already exists")
)

// Store is durable keyed storage for queued booking requests. GetAll with an
// empty filter returns every entry; ordering is not guaranteed, callers sort
// if they need to. Update merges the patch read-modify-write; the sync
// orchestrator serializes all mutating access to a given entry, so per-entry
// atomicity beyond the single key is not required.
type Store interface {
	Add(ctx context.Context, entry *models.QueuedRequest) error
	Get(ctx context.Context, queueID string) (*models.QueuedRequest, error)
	GetAll(ctx context.Context, statusFilter string) ([]models.QueuedRequest, error)
	Update(ctx context.Context, queueID string, patch models.QueuePatch) error
	Remove(ctx context.Context, queueID string) error
	ClearSynced(ctx context.Context) (int, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
}
