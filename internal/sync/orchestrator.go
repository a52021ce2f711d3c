package sync

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"roomqueue/internal/models"
)

// SubmitFunc submits a booking to the backend and returns the remote booking
// id. Failures are reported by returning an error.
type SubmitFunc func(ctx context.Context, booking models.BookingData) (string, error)

// ConflictCheckFunc asks the authoritative backend whether the given slot
// already clashes with a confirmed booking.
type ConflictCheckFunc func(ctx context.Context, roomID, date, startTime, endTime string) (bool, error)

// Store is the slice of the queue store the orchestrator drives.
type Store interface {
	GetAll(ctx context.Context, statusFilter string) ([]models.QueuedRequest, error)
	Update(ctx context.Context, queueID string, patch models.QueuePatch) error
}

// Orchestrator runs the per-entry sync state machine. A single instance owns
// the in-flight guard; construct one per process and share it.
type Orchestrator struct {
	store    Store
	retry    RetryPolicy
	log      zerolog.Logger
	inFlight atomic.Bool
	now      func() time.Time
}

func NewOrchestrator(store Store, retry RetryPolicy, logger *zerolog.Logger) *Orchestrator {
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = models.DefaultMaxAttempts
	}
	if retry.InitialDelay <= 0 {
		retry.InitialDelay = models.DefaultInitialRetryDelay
	}
	if retry.MaxDelay <= 0 {
		retry.MaxDelay = models.DefaultMaxRetryDelay
	}
	if retry.BackoffFactor <= 0 {
		retry.BackoffFactor = models.DefaultBackoffFactor
	}

	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "sync").Logger()
	}

	return &Orchestrator{
		store: store,
		retry: retry,
		log:   log,
		now:   time.Now,
	}
}

// SyncQueue runs one full sync cycle: gather eligible entries, process them
// sequentially, return one SyncResult per entry. A second call while a cycle
// is in flight returns immediately with an empty result.
func (o *Orchestrator) SyncQueue(ctx context.Context, submit SubmitFunc, check ConflictCheckFunc) ([]models.SyncResult, error) {
	if !o.inFlight.CompareAndSwap(false, true) {
		o.log.Debug().Msg("sync already in flight, skipping")
		return []models.SyncResult{}, nil
	}
	defer o.inFlight.Store(false)

	candidates, err := o.gather(ctx)
	if err != nil {
		return nil, err
	}

	o.log.Info().Int("candidates", len(candidates)).Msg("sync cycle started")

	results := make([]models.SyncResult, 0, len(candidates))
	for i := range candidates {
		results = append(results, o.processEntry(ctx, &candidates[i], submit, check))
	}

	o.log.Info().Int("processed", len(results)).Msg("sync cycle finished")
	return results, nil
}

// gather collects pending-validation and pending-sync entries plus failed
// entries whose next retry is absent or due, in that order.
func (o *Orchestrator) gather(ctx context.Context) ([]models.QueuedRequest, error) {
	var candidates []models.QueuedRequest

	for _, status := range []string{models.StatusPendingValidation, models.StatusPendingSync} {
		entries, err := o.store.GetAll(ctx, status)
		if err != nil {
			return nil, fmt.Errorf("gather %s entries: %w", status, err)
		}
		candidates = append(candidates, entries...)
	}

	failed, err := o.store.GetAll(ctx, models.StatusFailed)
	if err != nil {
		return nil, fmt.Errorf("gather failed entries: %w", err)
	}
	now := o.now()
	for _, entry := range failed {
		if entry.NextRetry == nil || !entry.NextRetry.After(now) {
			candidates = append(candidates, entry)
		}
	}

	return candidates, nil
}

// processEntry runs one attempt for one entry. Every error, including a
// panic in a callback, is converted into a SyncResult so the rest of the
// cycle keeps going.
func (o *Orchestrator) processEntry(ctx context.Context, entry *models.QueuedRequest, submit SubmitFunc, check ConflictCheckFunc) (result models.SyncResult) {
	attempts := entry.Attempts + 1
	now := o.now()

	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("panic during sync: %v", r)
			o.log.Error().Str("queue_id", entry.QueueID).Str("panic", fmt.Sprint(r)).Msg("entry processing panicked")
			result = o.recordFailure(ctx, entry, attempts, now, msg)
		}
	}()

	syncing := models.StatusSyncing
	err := o.store.Update(ctx, entry.QueueID, models.QueuePatch{
		Status:      &syncing,
		Attempts:    &attempts,
		LastAttempt: &now,
	})
	if err != nil {
		o.log.Error().Err(err).Str("queue_id", entry.QueueID).Msg("mark syncing failed")
		return models.SyncResult{QueueID: entry.QueueID, Error: err.Error()}
	}

	// The remote conflict check runs on every attempt, not only the first
	// pass, so a booking that became conflicting after a failed attempt is
	// still caught before resubmission.
	conflicted, err := check(ctx, entry.Booking.RoomID, entry.Booking.Date, entry.Booking.StartTime, entry.Booking.EndTime)
	if err != nil {
		// No authoritative answer; submitting anyway risks a double booking,
		// so classify like a transient submission failure.
		return o.recordFailure(ctx, entry, attempts, now, fmt.Sprintf("conflict check: %v", err))
	}
	if conflicted {
		return o.recordConflict(ctx, entry)
	}

	if entry.Status == models.StatusPendingValidation {
		pendingSync := models.StatusPendingSync
		if err := o.store.Update(ctx, entry.QueueID, models.QueuePatch{Status: &pendingSync}); err != nil {
			o.log.Error().Err(err).Str("queue_id", entry.QueueID).Msg("advance to pending-sync failed")
			return models.SyncResult{QueueID: entry.QueueID, Error: err.Error()}
		}
	}

	bookingID, err := submit(ctx, entry.Booking)
	if err != nil {
		return o.recordFailure(ctx, entry, attempts, now, err.Error())
	}

	synced := models.StatusSynced
	err = o.store.Update(ctx, entry.QueueID, models.QueuePatch{
		Status:         &synced,
		ClearError:     true,
		ClearConflict:  true,
		ClearNextRetry: true,
	})
	if err != nil {
		o.log.Error().Err(err).Str("queue_id", entry.QueueID).Msg("mark synced failed")
		return models.SyncResult{QueueID: entry.QueueID, Error: err.Error()}
	}

	o.log.Info().Str("queue_id", entry.QueueID).Str("booking_id", bookingID).Msg("entry synced")
	return models.SyncResult{QueueID: entry.QueueID, Success: true, BookingID: bookingID}
}

// recordConflict moves the entry to the terminal conflict state. Conflicted
// entries are never retried automatically; they need an operator decision.
func (o *Orchestrator) recordConflict(ctx context.Context, entry *models.QueuedRequest) models.SyncResult {
	details := &models.ConflictDetails{Message: models.RemoteConflictMessage}
	conflict := models.StatusConflict

	err := o.store.Update(ctx, entry.QueueID, models.QueuePatch{
		Status:         &conflict,
		Conflict:       details,
		ClearError:     true,
		ClearNextRetry: true,
	})
	if err != nil {
		o.log.Error().Err(err).Str("queue_id", entry.QueueID).Msg("mark conflict failed")
		return models.SyncResult{QueueID: entry.QueueID, Error: err.Error()}
	}

	o.log.Warn().Str("queue_id", entry.QueueID).Str("room_id", entry.Booking.RoomID).Msg("remote conflict detected")
	return models.SyncResult{QueueID: entry.QueueID, Conflict: true, Details: details}
}

// recordFailure schedules a retry with exponential backoff, or abandons the
// entry once the attempt cap is exceeded. The attempt that exactly reaches
// the cap keeps failed status with no next retry, so the gathering rule
// grants one final pass before the entry is abandoned for good.
func (o *Orchestrator) recordFailure(ctx context.Context, entry *models.QueuedRequest, attempts int, attemptedAt time.Time, msg string) models.SyncResult {
	patch := models.QueuePatch{Error: &msg, ClearConflict: true}

	switch {
	case attempts < o.retry.MaxAttempts:
		status := models.StatusFailed
		next := attemptedAt.Add(o.retry.NextDelay(attempts))
		patch.Status = &status
		patch.NextRetry = &next
	case attempts == o.retry.MaxAttempts:
		status := models.StatusFailed
		patch.Status = &status
		patch.ClearNextRetry = true
	default:
		status := models.StatusAbandoned
		patch.Status = &status
		patch.ClearNextRetry = true
		o.log.Warn().Str("queue_id", entry.QueueID).Int("attempts", attempts).Msg("entry abandoned")
	}

	if err := o.store.Update(ctx, entry.QueueID, patch); err != nil {
		o.log.Error().Err(err).Str("queue_id", entry.QueueID).Msg("record failure failed")
		return models.SyncResult{QueueID: entry.QueueID, Error: err.Error()}
	}

	o.log.Warn().Str("queue_id", entry.QueueID).Int("attempts", attempts).Str("error", msg).Msg("entry sync failed")
	return models.SyncResult{QueueID: entry.QueueID, Error: msg}
}
