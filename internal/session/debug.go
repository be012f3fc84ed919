package session

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/desertthunder/sptoken/internal/shared"
	"github.com/desertthunder/sptoken/internal/strategy"
	"github.com/desertthunder/sptoken/internal/token"
)

// DebugControls pokes the session state machine from the outside, for manual testing of renewals
// and failures.
type DebugControls struct {
	c *Coordinator
}

func (c *Coordinator) Debug() *DebugControls {
	return &DebugControls{c: c}
}

// ExpireIn republishes the current tokens so they expire after ttl. Zero or less drops the session.
func (d *DebugControls) ExpireIn(ttl time.Duration) error {
	rec := d.c.Current()
	if rec == nil {
		return shared.ErrSessionNotFound
	}
	if ttl <= 0 {
		d.c.Logout()
		return nil
	}

	next := rec.WithExpiry(d.c.clock.Now().Add(ttl))
	d.c.logger.Warn("debug: shortening session", "expires_in", ttl)
	d.c.OnTokenResult(&next)
	return nil
}

// InjectError feeds an error record through the state machine as a strategy failure would.
func (d *DebugControls) InjectError(message string) {
	rec := token.NewError(message)
	d.c.logger.Warn("debug: injecting error", "error", rec.Error)
	d.c.OnTokenResult(&rec)
}

// ForceRenew renews the current session now, sharing any renewal already in flight.
func (d *DebugControls) ForceRenew(ctx context.Context) (*token.Record, error) {
	d.c.logger.Warn("debug: forcing renewal")
	return d.c.Renew(ctx)
}

// ForceRenewWith renews through the named strategy only, bypassing the configured order.
func (d *DebugControls) ForceRenewWith(ctx context.Context, name string) (*token.Record, error) {
	if !slices.Contains(d.c.Strategies(), name) {
		return nil, fmt.Errorf("%w: unknown strategy %q", shared.ErrInvalidArgument, name)
	}

	refresh := d.c.RefreshToken()
	if refresh == "" {
		return nil, shared.ErrNoRefreshToken
	}

	d.c.markRenewal()
	ch, ok := d.c.dispatch("renew", func(s strategy.Strategy) bool {
		return s.Name() == name && s.Renew(ctx, refresh)
	})
	if !ok {
		return nil, fmt.Errorf("%w: %s cannot renew", shared.ErrRefreshFailed, name)
	}
	return d.c.await(ctx, ch, shared.ErrRefreshFailed)
}
