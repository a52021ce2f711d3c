package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"roomqueue/internal/models"
	"roomqueue/internal/repository"
)

const queueColumns = `queue_id, room_id, date, start_time, end_time, requester_id, purpose,
           queued_at, status, attempts, last_attempt, last_error, conflict_message, conflict_ids, next_retry_at`

// Add inserts a new entry, failing with repository.ErrDuplicateKey when the
// queue id is already present.
func (db *DB) Add(ctx context.Context, entry *models.QueuedRequest) error {
	query := `INSERT INTO queue_requests (` + queueColumns + `)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	conflictMessage, conflictIDs, err := encodeConflict(entry.Conflict)
	if err != nil {
		return err
	}

	_, err = db.db.ExecContext(ctx, query,
		entry.QueueID,
		entry.Booking.RoomID,
		entry.Booking.Date,
		entry.Booking.StartTime,
		entry.Booking.EndTime,
		entry.Booking.RequesterID,
		entry.Booking.Purpose,
		entry.QueuedAt,
		entry.Status,
		entry.Attempts,
		entry.LastAttempt,
		entry.Error,
		conflictMessage,
		conflictIDs,
		entry.NextRetry,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return repository.ErrDuplicateKey
		}
		return fmt.Errorf("failed to add queue entry: %w", err)
	}
	return nil
}

// Get returns the entry or repository.ErrNotFound.
func (db *DB) Get(ctx context.Context, queueID string) (*models.QueuedRequest, error) {
	query := `SELECT ` + queueColumns + ` FROM queue_requests WHERE queue_id = ?`

	entry, err := scanQueueEntry(db.db.QueryRowContext(ctx, query, queueID))
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue entry: %w", err)
	}
	return entry, nil
}

// GetAll returns every entry, optionally restricted to one status.
func (db *DB) GetAll(ctx context.Context, statusFilter string) ([]models.QueuedRequest, error) {
	query := `SELECT ` + queueColumns + ` FROM queue_requests`
	var args []interface{}
	if statusFilter != "" {
		query += ` WHERE status = ?`
		args = append(args, statusFilter)
	}
	query += ` ORDER BY queued_at ASC`

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue entries: %w", err)
	}
	defer rows.Close()

	var entries []models.QueuedRequest
	for rows.Next() {
		entry, err := scanQueueEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read queue entries: %w", err)
	}
	return entries, nil
}

// Update merges the patch into the stored entry; repository.ErrNotFound when
// the queue id is unknown.
func (db *DB) Update(ctx context.Context, queueID string, patch models.QueuePatch) error {
	if patch.IsZero() {
		// Still verify existence so the contract matches the other stores.
		_, err := db.Get(ctx, queueID)
		return err
	}

	var sets []string
	var args []interface{}

	if patch.Booking != nil {
		sets = append(sets,
			"room_id = ?", "date = ?", "start_time = ?", "end_time = ?", "requester_id = ?", "purpose = ?")
		args = append(args,
			patch.Booking.RoomID, patch.Booking.Date, patch.Booking.StartTime,
			patch.Booking.EndTime, patch.Booking.RequesterID, patch.Booking.Purpose)
	}
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *patch.Status)
	}
	if patch.Attempts != nil {
		sets = append(sets, "attempts = ?")
		args = append(args, *patch.Attempts)
	}
	if patch.LastAttempt != nil {
		sets = append(sets, "last_attempt = ?")
		args = append(args, *patch.LastAttempt)
	}
	if patch.ClearError {
		sets = append(sets, "last_error = NULL")
	} else if patch.Error != nil {
		sets = append(sets, "last_error = ?")
		args = append(args, *patch.Error)
	}
	if patch.ClearConflict {
		sets = append(sets, "conflict_message = NULL", "conflict_ids = NULL")
	} else if patch.Conflict != nil {
		conflictMessage, conflictIDs, err := encodeConflict(patch.Conflict)
		if err != nil {
			return err
		}
		sets = append(sets, "conflict_message = ?", "conflict_ids = ?")
		args = append(args, conflictMessage, conflictIDs)
	}
	if patch.ClearNextRetry {
		sets = append(sets, "next_retry_at = NULL")
	} else if patch.NextRetry != nil {
		sets = append(sets, "next_retry_at = ?")
		args = append(args, *patch.NextRetry)
	}

	query := `UPDATE queue_requests SET ` + strings.Join(sets, ", ") + ` WHERE queue_id = ?`
	args = append(args, queueID)

	result, err := db.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update queue entry: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Remove deletes the entry; removing an absent id is a no-op.
func (db *DB) Remove(ctx context.Context, queueID string) error {
	_, err := db.db.ExecContext(ctx, `DELETE FROM queue_requests WHERE queue_id = ?`, queueID)
	if err != nil {
		return fmt.Errorf("failed to remove queue entry: %w", err)
	}
	return nil
}

// ClearSynced deletes all synced entries and reports how many were removed.
func (db *DB) ClearSynced(ctx context.Context) (int, error) {
	result, err := db.db.ExecContext(ctx,
		`DELETE FROM queue_requests WHERE status = ?`, models.StatusSynced)
	if err != nil {
		return 0, fmt.Errorf("failed to clear synced entries: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count cleared entries: %w", err)
	}
	return int(affected), nil
}

// CountByStatus returns entry counts grouped by status.
func (db *DB) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := db.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM queue_requests GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count queue entries: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read status counts: %w", err)
	}
	return counts, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQueueEntry(row rowScanner) (*models.QueuedRequest, error) {
	var entry models.QueuedRequest
	var lastAttempt, nextRetry sql.NullTime
	var lastError, conflictMessage, conflictIDs sql.NullString

	err := row.Scan(
		&entry.QueueID,
		&entry.Booking.RoomID,
		&entry.Booking.Date,
		&entry.Booking.StartTime,
		&entry.Booking.EndTime,
		&entry.Booking.RequesterID,
		&entry.Booking.Purpose,
		&entry.QueuedAt,
		&entry.Status,
		&entry.Attempts,
		&lastAttempt,
		&lastError,
		&conflictMessage,
		&conflictIDs,
		&nextRetry,
	)
	if err != nil {
		return nil, err
	}

	if lastAttempt.Valid {
		t := lastAttempt.Time
		entry.LastAttempt = &t
	}
	if nextRetry.Valid {
		t := nextRetry.Time
		entry.NextRetry = &t
	}
	if lastError.Valid {
		s := lastError.String
		entry.Error = &s
	}
	if conflictMessage.Valid {
		details := &models.ConflictDetails{Message: conflictMessage.String}
		if conflictIDs.Valid && conflictIDs.String != "" {
			if err := json.Unmarshal([]byte(conflictIDs.String), &details.ConflictingIDs); err != nil {
				return nil, fmt.Errorf("failed to decode conflict ids: %w", err)
			}
		}
		entry.Conflict = details
	}
	return &entry, nil
}

func encodeConflict(details *models.ConflictDetails) (conflictMessage, conflictIDs interface{}, err error) {
	if details == nil {
		return nil, nil, nil
	}
	if len(details.ConflictingIDs) == 0 {
		return details.Message, nil, nil
	}
	raw, err := json.Marshal(details.ConflictingIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode conflict ids: %w", err)
	}
	return details.Message, string(raw), nil
}
