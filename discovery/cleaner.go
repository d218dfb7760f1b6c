package discovery

import (
	"context"
	"net/netip"
	"time"

	"github.com/Dyastin-0/lanshare/core"
	"github.com/Dyastin-0/lanshare/logger"
)

// Cleaner evicts peers that have not announced for longer than staleAfter.
type Cleaner struct {
	state      *core.State
	interval   time.Duration
	staleAfter time.Duration
	log        logger.Logger
}

func NewCleaner(state *core.State, cfg core.Config, log logger.Logger) *Cleaner {
	cfg = cfg.WithDefaults()

	return &Cleaner{
		state:      state,
		interval:   cfg.CleanupInterval,
		staleAfter: cfg.StaleAfter,
		log:        log.WithStr("service", "discovery-cleaner"),
	}
}

// Run sweeps every interval until ctx is done. It never fails otherwise.
func (c *Cleaner) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, addr := range c.Sweep(c.state.Now()) {
				c.log.WithStr("addr", addr.String()).Debug("peer expired")
			}
		}
	}
}

// Sweep removes every peer whose last announcement is older than staleAfter
// at now and returns the removed addresses.
func (c *Cleaner) Sweep(now time.Time) []netip.Addr {
	cutoff := now.Add(-c.staleAfter)

	var removed []netip.Addr
	for addr, p := range c.state.Peers() {
		if now.Sub(p.LastSeen) <= c.staleAfter {
			continue
		}
		if c.state.RemovePeerIfStale(addr, cutoff) {
			removed = append(removed, addr)
		}
	}

	return removed
}
