package pipeline

import (
	"context"
	"time"

	"github.com/uhyunpark/orderflow/pkg/app/core"
)

// Sweep submits an expire for every live parent whose expiry has passed and
// returns how many it submitted. It only reads the parent store, so it may
// run on any goroutine.
func (p *Pipeline) Sweep() int {
	now := p.clock.NowMillis()
	n := 0
	for _, id := range p.parents.Live() {
		s, ok := p.parents.Lookup(id)
		if !ok || s.ExpireAt == 0 || s.ExpireAt > now {
			continue
		}
		if _, err := p.Submit(core.BoundExpire{SessionKey: s.SessionKey, ParentID: id}); err != nil {
			continue
		}
		n++
	}
	return n
}

// RunSweeper calls Sweep every interval until ctx ends.
func (p *Pipeline) RunSweeper(ctx context.Context, interval time.Duration) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.clock.After(interval):
			if n := p.Sweep(); n > 0 {
				p.Logger.Infow("expiry_sweep", "expired", n)
			}
		}
	}
}
