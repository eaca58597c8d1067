package store

import (
	"time"

	"github.com/rs/zerolog/log"
)

// Pruner removes records older than the cutoff and reports how many it
// dropped. The audit recorder satisfies this.
type Pruner interface {
	Prune(before time.Time) int
}

// Reaper periodically expires overdue sessions, purges terminal records past
// the grace window, and prunes aged audit entries. Expiry itself is the same
// conditional transition lazy validation uses, so the two paths never race
// into a double transition.
type Reaper struct {
	store          *Store
	interval       time.Duration
	grace          time.Duration
	auditRetention time.Duration
	audit          Pruner

	stop chan struct{}
	done chan struct{}
}

func NewReaper(store *Store, interval, grace, auditRetention time.Duration, audit Pruner) *Reaper {
	return &Reaper{
		store:          store,
		interval:       interval,
		grace:          grace,
		auditRetention: auditRetention,
		audit:          audit,
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
}

func (r *Reaper) Start() {
	go r.run()
}

func (r *Reaper) Stop() {
	close(r.stop)
	<-r.done
}

func (r *Reaper) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.Sweep(time.Now())
		}
	}
}

// Sweep runs one reaper pass. Exposed so tests can drive it with a fixed clock.
func (r *Reaper) Sweep(now time.Time) {
	expired := r.store.ExpireOverdue(now)
	purged := r.store.PurgeTerminal(r.grace, now)
	pruned := 0
	if r.audit != nil {
		pruned = r.audit.Prune(now.Add(-r.auditRetention))
	}
	if expired > 0 || purged > 0 || pruned > 0 {
		log.Debug().
			Int("expired", expired).
			Int("purged", purged).
			Int("auditPruned", pruned).
			Msg("reaper sweep")
	}
}
