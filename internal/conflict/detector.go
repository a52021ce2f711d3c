package conflict

import (
	"context"
	"fmt"

	"roomqueue/internal/models"
)

// Lister is the slice of the queue store the detector needs.
type Lister interface {
	GetAll(ctx context.Context, statusFilter string) ([]models.QueuedRequest, error)
}

// Detector finds overlaps among still-queued booking requests. The check is
// advisory: it cannot see bookings already confirmed on the backend, which
// is why the orchestrator performs a second authoritative check during sync.
type Detector struct {
	store Lister
}

func NewDetector(store Lister) *Detector {
	return &Detector{store: store}
}

// Check reports whether the candidate booking overlaps any queued entry for
// the same room and date, excluding excludeQueueID and entries that are
// already synced, failed or abandoned.
func (d *Detector) Check(ctx context.Context, booking models.BookingData, excludeQueueID string) (bool, error) {
	start, err := ParseTimeOfDay(booking.StartTime)
	if err != nil {
		return false, fmt.Errorf("candidate start time: %w", err)
	}
	end, err := ParseTimeOfDay(booking.EndTime)
	if err != nil {
		return false, fmt.Errorf("candidate end time: %w", err)
	}

	entries, err := d.store.GetAll(ctx, "")
	if err != nil {
		return false, fmt.Errorf("list queued entries: %w", err)
	}

	for _, entry := range entries {
		if entry.QueueID == excludeQueueID {
			continue
		}
		if entry.Booking.RoomID != booking.RoomID || entry.Booking.Date != booking.Date {
			continue
		}
		switch entry.Status {
		case models.StatusSynced, models.StatusFailed, models.StatusAbandoned:
			continue
		}

		otherStart, err := ParseTimeOfDay(entry.Booking.StartTime)
		if err != nil {
			// A stored entry with an unparseable time cannot be compared; skip it.
			continue
		}
		otherEnd, err := ParseTimeOfDay(entry.Booking.EndTime)
		if err != nil {
			continue
		}

		if Overlaps(start, end, otherStart, otherEnd) {
			return true, nil
		}
	}
	return false, nil
}
