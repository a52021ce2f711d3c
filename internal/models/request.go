package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// BookingData is the reservation payload carried by a queue entry. It mirrors
// the remote booking request minus server-assigned fields (remote id,
// submission timestamp, approval status).
type BookingData struct {
	RoomID      string `json:"room_id" yaml:"room_id"`
	Date        string `json:"date" yaml:"date"` // YYYY-MM-DD
	StartTime   string `json:"start_time" yaml:"start_time"`
	EndTime     string `json:"end_time" yaml:"end_time"`
	RequesterID string `json:"requester_id" yaml:"requester_id"`
	Purpose     string `json:"purpose,omitempty" yaml:"purpose,omitempty"`
}

// Validate enforces the enqueue contract: required fields, an ISO date and a
// positive time range. Time strings are checked for shape only; minute-level
// parsing lives in the conflict package.
func (b *BookingData) Validate() error {
	if strings.TrimSpace(b.RoomID) == "" {
		return errors.New("room_id is required")
	}
	if strings.TrimSpace(b.RequesterID) == "" {
		return errors.New("requester_id is required")
	}
	if _, err := time.Parse("2006-01-02", b.Date); err != nil {
		return fmt.Errorf("invalid date %q: expected YYYY-MM-DD", b.Date)
	}
	if strings.TrimSpace(b.StartTime) == "" || strings.TrimSpace(b.EndTime) == "" {
		return errors.New("start_time and end_time are required")
	}
	return nil
}

// ConflictDetails explains a remote conflict outcome. ConflictingIDs may be
// empty when the backend does not enumerate the clashing bookings.
type ConflictDetails struct {
	Message        string   `json:"message"`
	ConflictingIDs []string `json:"conflicting_ids,omitempty"`
}

// QueuedRequest is one durably stored offline booking attempt.
type QueuedRequest struct {
	QueueID     string           `json:"queue_id"`
	Booking     BookingData      `json:"booking"`
	QueuedAt    time.Time        `json:"queued_at"`
	Status      string           `json:"status"`
	Attempts    int              `json:"attempts"`
	LastAttempt *time.Time       `json:"last_attempt,omitempty"`
	Error       *string          `json:"error,omitempty"`
	Conflict    *ConflictDetails `json:"conflict_details,omitempty"`
	NextRetry   *time.Time       `json:"next_retry,omitempty"`
}

// SyncResult is produced once per entry per sync cycle and never persisted.
type SyncResult struct {
	QueueID   string           `json:"queue_id"`
	Success   bool             `json:"success"`
	BookingID string           `json:"booking_id,omitempty"`
	Error     string           `json:"error,omitempty"`
	Conflict  bool             `json:"conflict,omitempty"`
	Details   *ConflictDetails `json:"conflict_details,omitempty"`
}

// QueuePatch is a partial update merged into a stored entry. Pointer fields
// are applied when non-nil; Clear flags remove optional fields, since a nil
// pointer alone cannot distinguish "unset" from "leave as is".
type QueuePatch struct {
	Booking        *BookingData
	Status         *string
	Attempts       *int
	LastAttempt    *time.Time
	Error          *string
	ClearError     bool
	Conflict       *ConflictDetails
	ClearConflict  bool
	NextRetry      *time.Time
	ClearNextRetry bool
}

// IsZero reports whether the patch changes nothing.
func (p QueuePatch) IsZero() bool {
	return p.Booking == nil && p.Status == nil && p.Attempts == nil &&
		p.LastAttempt == nil && p.Error == nil && !p.ClearError &&
		p.Conflict == nil && !p.ClearConflict && p.NextRetry == nil && !p.ClearNextRetry
}

// Apply merges the patch into the request in place. Used by the map-backed
// stores; the SQLite store translates the patch to an UPDATE instead.
func (r *QueuedRequest) Apply(p QueuePatch) {
	if p.Booking != nil {
		r.Booking = *p.Booking
	}
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.Attempts != nil {
		r.Attempts = *p.Attempts
	}
	if p.LastAttempt != nil {
		t := *p.LastAttempt
		r.LastAttempt = &t
	}
	if p.ClearError {
		r.Error = nil
	} else if p.Error != nil {
		s := *p.Error
		r.Error = &s
	}
	if p.ClearConflict {
		r.Conflict = nil
	} else if p.Conflict != nil {
		c := *p.Conflict
		r.Conflict = &c
	}
	if p.ClearNextRetry {
		r.NextRetry = nil
	} else if p.NextRetry != nil {
		t := *p.NextRetry
		r.NextRetry = &t
	}
}

// Room describes an entry of the bookable rooms catalogue.
type Room struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Capacity int    `json:"capacity" yaml:"capacity"`
	Location string `json:"location,omitempty" yaml:"location,omitempty"`
}
