// Package poller implements a gated periodic refresher: a timer fires a
// refresh callback at a fixed interval, but ticks are suppressed while the
// consumer is hidden, offline, or mid-interaction, and every refresh honors a
// minimum cool-down.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Config tunes a Poller. Zero values fall back to the defaults below. Each
// pause gate can be disabled independently.
type Config struct {
	Interval         time.Duration
	Cooldown         time.Duration
	InteractionGrace time.Duration

	DisableHiddenPause      bool
	DisableOfflinePause     bool
	DisableInteractionPause bool
}

const (
	DefaultInterval         = 60 * time.Second
	DefaultCooldown         = 30 * time.Second
	DefaultInteractionGrace = 2 * time.Second
)

// Poller drives a refresh callback on a schedule with visibility, connectivity
// and interaction gating.
type Poller struct {
	cfg     Config
	refresh func()
	logger  *slog.Logger
	now     func() time.Time

	mu              sync.Mutex
	visible         bool
	online          bool
	lastRefresh     time.Time
	lastInteraction time.Time
}

// New builds a Poller that invokes refresh on each eligible tick. The poller
// starts visible and online.
func New(cfg Config, refresh func(), logger *slog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.InteractionGrace <= 0 {
		cfg.InteractionGrace = DefaultInteractionGrace
	}
	return &Poller{
		cfg:     cfg,
		refresh: refresh,
		logger:  logger.With("component", "poller"),
		now:     time.Now,
		visible: true,
		online:  true,
	}
}

// Run ticks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Tick()
		}
	}
}

// Tick attempts one scheduled refresh, honoring all gates and the cool-down.
func (p *Poller) Tick() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.gated() {
		return false
	}
	return p.tryRefreshLocked()
}

// SetVisible records visibility. Regaining visibility triggers an immediate
// catch-up refresh when at least one full interval has passed since the last
// one, so a long-hidden consumer does not wait out another interval.
func (p *Poller) SetVisible(visible bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	wasVisible := p.visible
	p.visible = visible

	if visible && !wasVisible && p.sinceLastRefreshLocked() >= p.cfg.Interval {
		p.tryRefreshLocked()
	}
}

// SetOnline records connectivity. Regaining connectivity triggers a catch-up
// refresh when at least the cool-down has passed, avoiding refresh storms
// from flapping networks.
func (p *Poller) SetOnline(online bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	wasOnline := p.online
	p.online = online

	if online && !wasOnline && p.sinceLastRefreshLocked() >= p.cfg.Cooldown {
		p.tryRefreshLocked()
	}
}

// NoteInteraction marks user activity; ticks inside the grace window are
// suppressed so refreshes do not fight active use.
func (p *Poller) NoteInteraction() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastInteraction = p.now()
}

// ForceRefresh bypasses all gating and the cool-down.
func (p *Poller) ForceRefresh() {
	p.mu.Lock()
	p.lastRefresh = p.now()
	p.mu.Unlock()
	p.refresh()
}

func (p *Poller) gated() bool {
	if !p.cfg.DisableHiddenPause && !p.visible {
		return true
	}
	if !p.cfg.DisableOfflinePause && !p.online {
		return true
	}
	if !p.cfg.DisableInteractionPause &&
		!p.lastInteraction.IsZero() &&
		p.now().Sub(p.lastInteraction) < p.cfg.InteractionGrace {
		return true
	}
	return false
}

// tryRefreshLocked fires the callback unless the cool-down since the previous
// refresh has not elapsed. Caller holds p.mu.
func (p *Poller) tryRefreshLocked() bool {
	if p.sinceLastRefreshLocked() < p.cfg.Cooldown {
		return false
	}
	p.lastRefresh = p.now()
	// Release the lock while the callback runs; it may take a while and may
	// call back into the poller.
	p.mu.Unlock()
	p.refresh()
	p.mu.Lock()
	return true
}

func (p *Poller) sinceLastRefreshLocked() time.Duration {
	if p.lastRefresh.IsZero() {
		return p.cfg.Interval // never refreshed: treat as long overdue
	}
	return p.now().Sub(p.lastRefresh)
}
