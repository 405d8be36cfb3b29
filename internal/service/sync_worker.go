package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SyncWorker periodically pushes local trips that missed the remote store.
type SyncWorker struct {
	history  *HistoryService
	interval time.Duration
	log      *zap.Logger
}

// NewSyncWorker creates a new SyncWorker. A non-positive interval disables it.
func NewSyncWorker(history *HistoryService, interval time.Duration, logger *zap.Logger) *SyncWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncWorker{
		history:  history,
		interval: interval,
		log:      logger.Named("sync"),
	}
}

// RunForever syncs on every tick until ctx is cancelled.
func (w *SyncWorker) RunForever(ctx context.Context) {
	if w.interval <= 0 {
		w.log.Info("background sync disabled")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		w.RunOnce(ctx)
	}
}

// RunOnce performs a single sync pass.
func (w *SyncWorker) RunOnce(ctx context.Context) int {
	pushed, outcome := w.history.SyncPending(ctx)
	if !outcome.Synced {
		w.log.Warn("background sync incomplete", zap.Int("pushed", pushed), zap.Error(outcome.Err))
	}
	return pushed
}
