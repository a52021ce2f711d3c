package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"roomqueue/internal/conflict"
	"roomqueue/internal/events"
	"roomqueue/internal/export"
	"roomqueue/internal/metrics"
	"roomqueue/internal/models"
	"roomqueue/internal/repository"
	syncengine "roomqueue/internal/sync"
)

// Engine is the public surface of the offline booking queue: durable
// enqueueing while disconnected, advisory local conflict checks, and the
// synchronization cycle against the remote backend.
type Engine struct {
	store    repository.Store
	bus      *events.Bus
	detector *conflict.Detector
	orch     *syncengine.Orchestrator
	rooms    map[string]models.Room
	log      zerolog.Logger
}

// New wires an engine around the given store. All mutations flow through a
// bus-notifying wrapper so subscribers observe every change, including those
// made mid-sync.
func New(store repository.Store, bus *events.Bus, retry syncengine.RetryPolicy, logger *zerolog.Logger) *Engine {
	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "queue").Logger()
	}

	notifying := repository.WithBus(store, bus)
	return &Engine{
		store:    notifying,
		bus:      bus,
		detector: conflict.NewDetector(notifying),
		orch:     syncengine.NewOrchestrator(notifying, retry, logger),
		log:      log,
	}
}

// SetRooms installs a catalogue; when present, enqueue rejects bookings for
// unknown rooms.
func (e *Engine) SetRooms(rooms []models.Room) {
	e.rooms = make(map[string]models.Room, len(rooms))
	for _, room := range rooms {
		e.rooms[room.ID] = room
	}
}

// QueueBooking validates the payload and persists a new entry in
// pending-validation status. The local conflict check is advisory and not
// consulted here; callers decide whether to enqueue despite an overlap.
func (e *Engine) QueueBooking(ctx context.Context, booking models.BookingData) (*models.QueuedRequest, error) {
	if err := booking.Validate(); err != nil {
		return nil, fmt.Errorf("invalid booking: %w", err)
	}
	start, err := conflict.ParseTimeOfDay(booking.StartTime)
	if err != nil {
		return nil, fmt.Errorf("invalid booking: %w", err)
	}
	end, err := conflict.ParseTimeOfDay(booking.EndTime)
	if err != nil {
		return nil, fmt.Errorf("invalid booking: %w", err)
	}
	if start >= end {
		return nil, fmt.Errorf("invalid booking: start_time %q is not before end_time %q", booking.StartTime, booking.EndTime)
	}
	if len(e.rooms) > 0 {
		if _, ok := e.rooms[booking.RoomID]; !ok {
			return nil, fmt.Errorf("unknown room %q", booking.RoomID)
		}
	}

	entry := &models.QueuedRequest{
		QueueID:  uuid.NewString(),
		Booking:  booking,
		QueuedAt: time.Now(),
		Status:   models.StatusPendingValidation,
	}

	if err := e.store.Add(ctx, entry); err != nil {
		return nil, err
	}

	metrics.IncOp("enqueue")
	e.log.Info().Str("queue_id", entry.QueueID).Str("room_id", booking.RoomID).Str("date", booking.Date).Msg("booking queued")
	return entry, nil
}

// GetQueuedRequests lists entries, optionally filtered by one status.
func (e *Engine) GetQueuedRequests(ctx context.Context, statusFilter string) ([]models.QueuedRequest, error) {
	if statusFilter != "" && !models.ValidStatus(statusFilter) {
		return nil, fmt.Errorf("unknown status %q", statusFilter)
	}
	return e.store.GetAll(ctx, statusFilter)
}

// GetQueuedRequest returns one entry or repository.ErrNotFound.
func (e *Engine) GetQueuedRequest(ctx context.Context, queueID string) (*models.QueuedRequest, error) {
	return e.store.Get(ctx, queueID)
}

// UpdateQueuedRequest merges a patch into an entry. Meant for external
// intervention on conflicted or abandoned entries; the orchestrator drives
// all lifecycle transitions itself.
func (e *Engine) UpdateQueuedRequest(ctx context.Context, queueID string, patch models.QueuePatch) error {
	if patch.Status != nil && !models.ValidStatus(*patch.Status) {
		return fmt.Errorf("unknown status %q", *patch.Status)
	}
	if err := e.store.Update(ctx, queueID, patch); err != nil {
		return err
	}
	metrics.IncOp("update")
	return nil
}

// RemoveQueuedRequest deletes an entry; idempotent.
func (e *Engine) RemoveQueuedRequest(ctx context.Context, queueID string) error {
	if err := e.store.Remove(ctx, queueID); err != nil {
		return err
	}
	metrics.IncOp("remove")
	return nil
}

// Resubmit clones a terminal entry (conflict, failed or abandoned) into a
// fresh pending-validation entry and removes the original.
func (e *Engine) Resubmit(ctx context.Context, queueID string) (*models.QueuedRequest, error) {
	entry, err := e.store.Get(ctx, queueID)
	if err != nil {
		return nil, err
	}

	switch entry.Status {
	case models.StatusConflict, models.StatusFailed, models.StatusAbandoned:
	default:
		return nil, fmt.Errorf("entry %s is %s, only conflict, failed or abandoned entries can be resubmitted", queueID, entry.Status)
	}

	fresh, err := e.QueueBooking(ctx, entry.Booking)
	if err != nil {
		return nil, err
	}
	if err := e.RemoveQueuedRequest(ctx, queueID); err != nil {
		return nil, err
	}
	return fresh, nil
}

// CheckLocalConflicts reports whether the booking overlaps another queued,
// not-yet-confirmed entry. Advisory only; it cannot see bookings already
// confirmed on the backend.
func (e *Engine) CheckLocalConflicts(ctx context.Context, booking models.BookingData, excludeQueueID string) (bool, error) {
	return e.detector.Check(ctx, booking, excludeQueueID)
}

// SyncQueue runs one sync cycle with the supplied backend callbacks.
func (e *Engine) SyncQueue(ctx context.Context, submit syncengine.SubmitFunc, check syncengine.ConflictCheckFunc) ([]models.SyncResult, error) {
	results, err := e.orch.SyncQueue(ctx, submit, check)
	if err != nil {
		return nil, err
	}

	for _, result := range results {
		switch {
		case result.Success:
			metrics.IncSyncResult("synced")
		case result.Conflict:
			metrics.IncSyncResult("conflict")
		default:
			metrics.IncSyncResult("failed")
		}
	}

	if _, statsErr := e.GetQueueStats(ctx); statsErr != nil {
		e.log.Warn().Err(statsErr).Msg("refresh queue stats after sync")
	}
	return results, nil
}

// ClearSynced prunes all synced entries and returns the removed count.
func (e *Engine) ClearSynced(ctx context.Context) (int, error) {
	removed, err := e.store.ClearSynced(ctx)
	if err != nil {
		return 0, err
	}
	metrics.IncOp("clear_synced")
	return removed, nil
}

// GetQueueStats returns entry counts per status. Every known status is
// present, zero-valued when empty, so the UI can always distinguish "will
// retry", "needs a decision" and "done".
func (e *Engine) GetQueueStats(ctx context.Context) (map[string]int, error) {
	counts, err := e.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	stats := make(map[string]int, len(models.AllStatuses))
	for _, status := range models.AllStatuses {
		stats[status] = counts[status]
		metrics.SetQueueDepth(status, counts[status])
	}
	return stats, nil
}

// Subscribe registers a queue-change listener; the returned function
// unsubscribes it.
func (e *Engine) Subscribe(fn events.Listener) func() {
	return e.bus.Subscribe(fn)
}

// ExportQueue writes an xlsx report of the current queue into dir and
// returns the file path.
func (e *Engine) ExportQueue(ctx context.Context, dir string) (string, error) {
	entries, err := e.store.GetAll(ctx, "")
	if err != nil {
		return "", err
	}
	path, err := export.WriteQueueReport(dir, entries)
	if err != nil {
		return "", err
	}
	e.log.Info().Str("path", path).Int("entries", len(entries)).Msg("queue exported")
	return path, nil
}
