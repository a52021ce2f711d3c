package sync

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// HealthFunc probes the backend; nil means reachable.
type HealthFunc func(ctx context.Context) error

// TriggerFunc runs one sync cycle.
type TriggerFunc func(ctx context.Context)

// Watcher is the connectivity signal for the queue engine: it polls the
// backend and triggers a sync on every offline-to-online transition. While
// online it also re-triggers on a fixed interval so entries whose retry
// delay has elapsed are picked up without another transition.
type Watcher struct {
	health       HealthFunc
	trigger      TriggerFunc
	pollInterval time.Duration
	syncInterval time.Duration
	log          zerolog.Logger
}

func NewWatcher(health HealthFunc, trigger TriggerFunc, pollInterval, syncInterval time.Duration, logger *zerolog.Logger) *Watcher {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}

	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "watcher").Logger()
	}

	return &Watcher{
		health:       health,
		trigger:      trigger,
		pollInterval: pollInterval,
		syncInterval: syncInterval,
		log:          log,
	}
}

// Run blocks until ctx is done. The first successful probe counts as a
// transition, so a queue populated while the process was down syncs on
// startup.
func (w *Watcher) Run(ctx context.Context) {
	w.log.Info().Dur("poll_interval", w.pollInterval).Msg("connectivity watcher started")
	defer w.log.Info().Msg("connectivity watcher stopped")

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	online := false
	var lastSync time.Time

	for {
		probeCtx, cancel := context.WithTimeout(ctx, w.pollInterval)
		err := w.health(probeCtx)
		cancel()

		nowOnline := err == nil
		switch {
		case nowOnline && !online:
			w.log.Info().Msg("backend reachable, triggering sync")
			w.trigger(ctx)
			lastSync = time.Now()
		case nowOnline && w.syncInterval > 0 && time.Since(lastSync) >= w.syncInterval:
			w.trigger(ctx)
			lastSync = time.Now()
		case !nowOnline && online:
			w.log.Warn().Err(err).Msg("backend unreachable, queueing offline")
		}
		online = nowOnline

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
