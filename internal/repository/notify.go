package repository

import (
	"context"

	"roomqueue/internal/events"
	"roomqueue/internal/models"
)

// notifyingStore publishes a queue-change event after every successful
// mutation. Reads pass through untouched.
type notifyingStore struct {
	Store
	bus *events.Bus
}

// WithBus decorates a store so that Add, Update, Remove and ClearSynced fire
// the notification bus on success.
func WithBus(store Store, bus *events.Bus) Store {
	if bus == nil {
		return store
	}
	return &notifyingStore{Store: store, bus: bus}
}

func (s *notifyingStore) Add(ctx context.Context, entry *models.QueuedRequest) error {
	if err := s.Store.Add(ctx, entry); err != nil {
		return err
	}
	s.bus.Publish(events.Event{Type: events.EventQueueAdded, QueueID: entry.QueueID})
	return nil
}

func (s *notifyingStore) Update(ctx context.Context, queueID string, patch models.QueuePatch) error {
	if err := s.Store.Update(ctx, queueID, patch); err != nil {
		return err
	}
	s.bus.Publish(events.Event{Type: events.EventQueueUpdated, QueueID: queueID})
	return nil
}

func (s *notifyingStore) Remove(ctx context.Context, queueID string) error {
	if err := s.Store.Remove(ctx, queueID); err != nil {
		return err
	}
	s.bus.Publish(events.Event{Type: events.EventQueueRemoved, QueueID: queueID})
	return nil
}

func (s *notifyingStore) ClearSynced(ctx context.Context) (int, error) {
	n, err := s.Store.ClearSynced(ctx)
	if err != nil {
		return n, err
	}
	if n > 0 {
		s.bus.Publish(events.Event{Type: events.EventQueueCleared})
	}
	return n, nil
}
