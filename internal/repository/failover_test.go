package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomqueue/internal/models"
)

var errStoreDown = errors.New("store down")

// flakyStore fails every call while broken is set, delegating to a memory
// store otherwise.
type flakyStore struct {
	inner  *MemoryStore
	broken bool
}

func (s *flakyStore) Add(ctx context.Context, entry *models.QueuedRequest) error {
	if s.broken {
		return errStoreDown
	}
	return s.inner.Add(ctx, entry)
}

func (s *flakyStore) Get(ctx context.Context, queueID string) (*models.QueuedRequest, error) {
	if s.broken {
		return nil, errStoreDown
	}
	return s.inner.Get(ctx, queueID)
}

func (s *flakyStore) GetAll(ctx context.Context, statusFilter string) ([]models.QueuedRequest, error) {
	if s.broken {
		return nil, errStoreDown
	}
	return s.inner.GetAll(ctx, statusFilter)
}

func (s *flakyStore) Update(ctx context.Context, queueID string, patch models.QueuePatch) error {
	if s.broken {
		return errStoreDown
	}
	return s.inner.Update(ctx, queueID, patch)
}

func (s *flakyStore) Remove(ctx context.Context, queueID string) error {
	if s.broken {
		return errStoreDown
	}
	return s.inner.Remove(ctx, queueID)
}

func (s *flakyStore) ClearSynced(ctx context.Context) (int, error) {
	if s.broken {
		return 0, errStoreDown
	}
	return s.inner.ClearSynced(ctx)
}

func (s *flakyStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	if s.broken {
		return nil, errStoreDown
	}
	return s.inner.CountByStatus(ctx)
}

func TestFailoverPrefersPrimary(t *testing.T) {
	primary := &flakyStore{inner: NewMemoryStore()}
	fallback := NewMemoryStore()
	store := NewFailoverStore(primary, fallback, nil)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, memEntry("q1", models.StatusPendingValidation)))

	_, err := primary.inner.Get(ctx, "q1")
	require.NoError(t, err, "healthy primary takes the write")

	_, err = fallback.Get(ctx, "q1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFailoverSwitchesToFallback(t *testing.T) {
	primary := &flakyStore{inner: NewMemoryStore(), broken: true}
	fallback := NewMemoryStore()
	store := NewFailoverStore(primary, fallback, nil)
	ctx := context.Background()

	// The failing call is retried against the fallback transparently.
	require.NoError(t, store.Add(ctx, memEntry("q1", models.StatusPendingValidation)))

	got, err := store.Get(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, "q1", got.QueueID)

	// Subsequent calls go straight to the fallback while benched.
	require.NoError(t, store.Add(ctx, memEntry("q2", models.StatusPendingValidation)))
	entries, err := fallback.GetAll(ctx, "")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestFailoverSentinelErrorsDoNotTrip(t *testing.T) {
	primary := &flakyStore{inner: NewMemoryStore()}
	fallback := NewMemoryStore()
	store := NewFailoverStore(primary, fallback, nil)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, memEntry("q1", models.StatusPendingValidation)))

	// Not-found and duplicate-key are answers, not outages.
	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Add(ctx, memEntry("q1", models.StatusPendingValidation)), ErrDuplicateKey)

	assert.False(t, store.isDown.Load())
}

func TestFailoverRecoversAfterInterval(t *testing.T) {
	primary := &flakyStore{inner: NewMemoryStore(), broken: true}
	fallback := NewMemoryStore()
	store := NewFailoverStore(primary, fallback, nil)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, memEntry("q1", models.StatusPendingValidation)))
	require.True(t, store.isDown.Load())

	// Backdate the last probe and heal the primary; the next call probes it.
	primary.broken = false
	store.lastCheck.Store(time.Now().Add(-2 * failoverRecoveryInterval).UnixNano())

	require.NoError(t, store.Add(ctx, memEntry("q2", models.StatusPendingValidation)))
	assert.False(t, store.isDown.Load())

	_, err := primary.inner.Get(ctx, "q2")
	assert.NoError(t, err, "recovered primary takes new writes")
}
