package watcher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/backofficehq/meli-sync-worker/internal/cache"
	"github.com/backofficehq/meli-sync-worker/internal/config"
	"github.com/backofficehq/meli-sync-worker/internal/poller"
	"github.com/backofficehq/meli-sync-worker/internal/service"
)

// Lock keys serializing passes across worker replicas. A pass holds its lock
// at most lockTTL; overlapping firings skip instead of racing on the same
// accounts or queue items.
const (
	ordersSyncLockKey = "melisync:lock:orders_sync"
	claimsSyncLockKey = "melisync:lock:claims_sync"
	queueDrainLockKey = "melisync:lock:queue_drain"

	lockTTL = 4 * time.Minute
)

// Watcher replaces the original cron triggers. Orders and claims sync passes
// fire on plain tickers; the queue drain runs under a gated poller so manual
// drains via the API cool the periodic schedule down instead of stacking a
// second pass right behind them.
type Watcher struct {
	cfg         *config.Config
	redis       *cache.Redis
	sync        *service.SyncService
	drain       *service.DrainService
	drainPoller *poller.Poller
	logger      *slog.Logger

	runCtx context.Context
}

func New(cfg *config.Config, redis *cache.Redis, syncSvc *service.SyncService, drain *service.DrainService, logger *slog.Logger) *Watcher {
	w := &Watcher{
		cfg:    cfg,
		redis:  redis,
		sync:   syncSvc,
		drain:  drain,
		logger: logger.With("component", "watcher"),
		runCtx: context.Background(),
	}
	w.drainPoller = poller.New(poller.Config{
		Interval: cfg.QueueDrainEvery(),
		Cooldown: cfg.QueueDrainEvery() / 2,
	}, w.drainPass, logger)
	return w
}

// NoteInteraction records a manual API action so the next scheduled drain
// backs off briefly instead of racing the caller's pass.
func (w *Watcher) NoteInteraction() {
	w.drainPoller.NoteInteraction()
}

// Start begins the periodic passes and blocks until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	w.logger.Info("starting watcher",
		"orders_sync_every", w.cfg.OrdersSyncEvery(),
		"claims_sync_every", w.cfg.ClaimsSyncEvery(),
		"queue_drain_every", w.cfg.QueueDrainEvery())

	w.runCtx = ctx

	// Catch up on work left over from before a restart.
	w.runOrdersSync(ctx)
	w.runClaimsSync(ctx)
	w.drainPoller.ForceRefresh()

	go func() {
		if err := w.drainPoller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("drain poller stopped", "error", err)
		}
	}()

	ordersTicker := time.NewTicker(w.cfg.OrdersSyncEvery())
	defer ordersTicker.Stop()
	claimsTicker := time.NewTicker(w.cfg.ClaimsSyncEvery())
	defer claimsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher shutting down")
			return ctx.Err()
		case <-ordersTicker.C:
			w.runOrdersSync(ctx)
		case <-claimsTicker.C:
			w.runClaimsSync(ctx)
		}
	}
}

func (w *Watcher) runOrdersSync(ctx context.Context) {
	w.withLock(ctx, ordersSyncLockKey, func() {
		if _, err := w.sync.RunOrders(ctx); err != nil {
			w.logger.Error("orders sync pass failed", "error", err)
		}
	})
}

func (w *Watcher) runClaimsSync(ctx context.Context) {
	w.withLock(ctx, claimsSyncLockKey, func() {
		if _, err := w.sync.RunClaims(ctx); err != nil {
			w.logger.Error("claims sync pass failed", "error", err)
		}
	})
}

// drainPass is the poller's refresh callback.
func (w *Watcher) drainPass() {
	ctx := w.runCtx
	w.withLock(ctx, queueDrainLockKey, func() {
		if _, err := w.drain.Run(ctx); err != nil {
			w.logger.Error("queue drain pass failed", "error", err)
		}
	})
}

// withLock runs fn while holding the named distributed lock. When another
// replica holds it, the pass is skipped, not queued.
func (w *Watcher) withLock(ctx context.Context, key string, fn func()) {
	lock, err := w.redis.Obtain(ctx, key, lockTTL)
	if err != nil {
		if errors.Is(err, cache.ErrLockNotObtained) {
			w.logger.Debug("pass already running elsewhere", "lock", key)
			return
		}
		w.logger.Error("failed to obtain lock", "lock", key, "error", err)
		return
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			w.logger.Warn("failed to release lock", "lock", key, "error", err)
		}
	}()

	fn()
}
