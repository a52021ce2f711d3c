package models

import "time"

// Queue entry lifecycle statuses.
const (
	StatusPendingValidation = "pending-validation"
	StatusPendingSync       = "pending-sync"
	StatusSyncing           = "syncing"
	StatusConflict          = "conflict"
	StatusFailed            = "failed"
	StatusSynced            = "synced"
	// StatusAbandoned is terminal: the retry cap was exceeded and the entry
	// will never be gathered again. Distinct from StatusFailed so operators
	// can tell "will retry" from "gave up".
	StatusAbandoned = "abandoned"
)

// AllStatuses lists every lifecycle status, in rough lifecycle order.
var AllStatuses = []string{
	StatusPendingValidation,
	StatusPendingSync,
	StatusSyncing,
	StatusConflict,
	StatusFailed,
	StatusSynced,
	StatusAbandoned,
}

// ValidStatus reports whether s is a known lifecycle status.
func ValidStatus(s string) bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

const (
	// DefaultMaxAttempts is the submission attempt cap per entry.
	DefaultMaxAttempts = 5

	// DefaultInitialRetryDelay is the backoff after the first failure.
	DefaultInitialRetryDelay = 2 * time.Second

	// DefaultMaxRetryDelay caps the exponential backoff.
	DefaultMaxRetryDelay = 5 * time.Minute

	// DefaultBackoffFactor doubles the delay per failed attempt.
	DefaultBackoffFactor = 2.0
)

// RemoteConflictMessage is the fixed explanation recorded when the backend
// reports a conflict for a queued booking.
const RemoteConflictMessage = "booking conflicts with an existing reservation on the server"
