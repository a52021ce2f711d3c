package repository

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"roomqueue/internal/models"
)

// failoverRecoveryInterval is how long the primary stays benched after a
// failure before it is probed again.
const failoverRecoveryInterval = time.Minute

// FailoverStore serves from the primary store until it errors, then switches
// to the fallback and periodically probes the primary for recovery. Both
// sides see writes only while active; the queue tolerates this because a
// missing entry is re-enqueued by the caller, never silently merged.
type FailoverStore struct {
	primary   Store
	fallback  Store
	log       zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64 // unix nanos of the last failed probe
}

func NewFailoverStore(primary, fallback Store, logger *zerolog.Logger) *FailoverStore {
	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "failover-store").Logger()
	}
	return &FailoverStore{primary: primary, fallback: fallback, log: log}
}

// active returns the store to use for the next call, probing the primary
// after the recovery interval has elapsed.
func (s *FailoverStore) active() Store {
	if !s.isDown.Load() {
		return s.primary
	}
	if time.Since(time.Unix(0, s.lastCheck.Load())) > failoverRecoveryInterval {
		s.isDown.Store(false)
		s.log.Info().Msg("probing primary store for recovery")
		return s.primary
	}
	return s.fallback
}

func (s *FailoverStore) markDown(err error) {
	s.isDown.Store(true)
	s.lastCheck.Store(time.Now().UnixNano())
	s.log.Error().Err(err).Msg("primary store failed, falling back")
}

func (s *FailoverStore) Add(ctx context.Context, entry *models.QueuedRequest) error {
	target := s.active()
	err := target.Add(ctx, entry)
	if err == nil || err == ErrDuplicateKey || target == s.fallback {
		return err
	}
	s.markDown(err)
	return s.fallback.Add(ctx, entry)
}

func (s *FailoverStore) Get(ctx context.Context, queueID string) (*models.QueuedRequest, error) {
	target := s.active()
	entry, err := target.Get(ctx, queueID)
	if err == nil || err == ErrNotFound || target == s.fallback {
		return entry, err
	}
	s.markDown(err)
	return s.fallback.Get(ctx, queueID)
}

func (s *FailoverStore) GetAll(ctx context.Context, statusFilter string) ([]models.QueuedRequest, error) {
	target := s.active()
	entries, err := target.GetAll(ctx, statusFilter)
	if err == nil || target == s.fallback {
		return entries, err
	}
	s.markDown(err)
	return s.fallback.GetAll(ctx, statusFilter)
}

func (s *FailoverStore) Update(ctx context.Context, queueID string, patch models.QueuePatch) error {
	target := s.active()
	err := target.Update(ctx, queueID, patch)
	if err == nil || err == ErrNotFound || target == s.fallback {
		return err
	}
	s.markDown(err)
	return s.fallback.Update(ctx, queueID, patch)
}

func (s *FailoverStore) Remove(ctx context.Context, queueID string) error {
	target := s.active()
	err := target.Remove(ctx, queueID)
	if err == nil || target == s.fallback {
		return err
	}
	s.markDown(err)
	return s.fallback.Remove(ctx, queueID)
}

func (s *FailoverStore) ClearSynced(ctx context.Context) (int, error) {
	target := s.active()
	n, err := target.ClearSynced(ctx)
	if err == nil || target == s.fallback {
		return n, err
	}
	s.markDown(err)
	return s.fallback.ClearSynced(ctx)
}

func (s *FailoverStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	target := s.active()
	counts, err := target.CountByStatus(ctx)
	if err == nil || target == s.fallback {
		return counts, err
	}
	s.markDown(err)
	return s.fallback.CountByStatus(ctx)
}
