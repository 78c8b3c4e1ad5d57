// Package ticker drives the scheduler's background advancement: the
// periodic task from spec.md §4.6 that polls the player, calls Advance
// when the current item has ended, and lets virtual time elapse on every
// tick while any session is active.
package ticker

import (
	"context"
	"log/slog"
	"time"

	"github.com/btnmasher/fairshare/internal/player"
	"github.com/btnmasher/fairshare/internal/scheduler"
)

// DefaultPeriod is spec.md §4.6's T = 250ms.
const DefaultPeriod = 250 * time.Millisecond

// Ticker runs one Scheduler's advancement on a fixed cadence until stopped.
type Ticker struct {
	sched  *scheduler.Scheduler
	player player.Player
	period time.Duration
	log    *slog.Logger

	stop chan struct{}
	done chan struct{}
}

// New returns a Ticker. A period <= 0 uses DefaultPeriod.
func New(sched *scheduler.Scheduler, pl player.Player, period time.Duration, log *slog.Logger) *Ticker {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Ticker{
		sched:  sched,
		player: pl,
		period: period,
		log:    log.With("component", "ticker", "player", sched.PlayerName),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Run blocks, driving the Scheduler every period until ctx is canceled or
// Stop is called. It is a daemon-style task: it never holds the
// scheduler's lock across its sleep (each tick only calls into exported,
// self-locking methods), and transient errors are logged and ignored
// rather than treated as fatal. Only Advance runs under the Scheduler's
// lock; the virtual-time step reads ActiveSessions and then calls
// Clock.Advance, each under its own lock, so the two are not atomic with
// respect to other Scheduler operations.
func (t *Ticker) Run(ctx context.Context) {
	defer close(t.done)

	tick := time.NewTicker(t.period)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-tick.C:
			t.step(ctx)
		}
	}
}

// step runs the two per-tick actions spec.md §4.6 lists independently: the
// has-ended check (which may call Advance) and the virtual-time advance.
// The latter always runs, whether or not the player had ended this tick,
// matching the unconditional _increment_virtual_time() call in the
// reference scheduler loop.
func (t *Ticker) step(ctx context.Context) {
	ended, err := t.player.HasEnded(ctx)
	switch {
	case err != nil:
		t.log.Warn("HasEnded check failed", "error", err)
	case ended:
		played, err := t.sched.Advance(ctx, false)
		if err != nil {
			t.log.Warn("Advance failed, will retry next tick", "error", err)
		} else if played != nil {
			t.log.Debug("Advanced", "song_id", played.ID, "url", played.URL, "user", played.User)
		}
	}

	if n := t.sched.ActiveSessions(); n > 0 {
		t.sched.Clock.Advance(t.period.Seconds() / float64(n))
	}
}

// Stop signals Run to return and waits for it to do so. Safe to call at
// most once; Run must already have been started in another goroutine.
func (t *Ticker) Stop() {
	close(t.stop)
	<-t.done
}
