// internal/app/system/workers/membersync.go
package workers

import (
	"context"
	"sync"
	"time"

	"github.com/dalemusser/climatrak/internal/app/system/membersync"
	"github.com/dalemusser/climatrak/internal/app/system/timeouts"
	"go.uber.org/zap"
)

// Syncer re-mirrors every tenant's memberships.
type Syncer interface {
	SyncAll(ctx context.Context) (membersync.Result, error)
}

// MemberSync is a background worker that periodically re-syncs the public
// membership mirror. Write paths sync explicitly; this pass repairs drift
// from writes made outside the service.
type MemberSync struct {
	syncer   Syncer
	log      *zap.Logger
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewMemberSync creates a new membership sync worker running every interval.
func NewMemberSync(syncer Syncer, logger *zap.Logger, interval time.Duration) *MemberSync {
	return &MemberSync{
		syncer:   syncer,
		log:      logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background sync loop.
func (w *MemberSync) Start() {
	w.wg.Add(1)
	go w.run()
	w.log.Info("membership sync worker started", zap.Duration("interval", w.interval))
}

// Stop signals the worker to stop and waits for it to finish.
func (w *MemberSync) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("membership sync worker stopped")
}

func (w *MemberSync) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sync()
		}
	}
}

func (w *MemberSync) sync() {
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.Batch())
	defer cancel()

	res, err := w.syncer.SyncAll(ctx)
	if err != nil {
		w.log.Error("membership sync pass failed", zap.Error(err))
	}
	if res.Synced > 0 {
		w.log.Debug("membership sync pass", zap.Int("synced", res.Synced))
	}
}
