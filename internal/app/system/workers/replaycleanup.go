// internal/app/system/workers/replaycleanup.go
package workers

import (
	"context"
	"sync"
	"time"

	"github.com/dalemusser/climatrak/internal/app/system/timeouts"
	"go.uber.org/zap"
)

// Cleaner deletes expired replay cache entries.
type Cleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// ReplayCleanup removes expired device signature replay entries. It backs up
// the TTL index, which MongoDB only sweeps about once a minute.
type ReplayCleanup struct {
	cache    Cleaner
	log      *zap.Logger
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewReplayCleanup creates a cleanup worker running every interval.
func NewReplayCleanup(cache Cleaner, logger *zap.Logger, interval time.Duration) *ReplayCleanup {
	return &ReplayCleanup{
		cache:    cache,
		log:      logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background cleanup loop.
func (w *ReplayCleanup) Start() {
	w.wg.Add(1)
	go w.run()
	w.log.Info("replay cleanup worker started", zap.Duration("interval", w.interval))
}

// Stop signals the worker to stop and waits for it to finish.
func (w *ReplayCleanup) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("replay cleanup worker stopped")
}

func (w *ReplayCleanup) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.cleanup()
		}
	}
}

func (w *ReplayCleanup) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.Medium())
	defer cancel()

	count, err := w.cache.CleanupExpired(ctx)
	if err != nil {
		w.log.Error("failed to clean up replay entries", zap.Error(err))
		return
	}
	if count > 0 {
		w.log.Info("removed expired replay entries", zap.Int64("count", count))
	}
}
