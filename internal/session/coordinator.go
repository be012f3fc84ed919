package session

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/sptoken/internal/shared"
	"github.com/desertthunder/sptoken/internal/store"
	"github.com/desertthunder/sptoken/internal/strategy"
	"github.com/desertthunder/sptoken/internal/token"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultResultTimeout    = 15 * time.Second
	DefaultMinRenewInterval = 30 * time.Second

	subscriberBuffer = 16
)

// Options configures a [Coordinator].
type Options struct {
	Store      store.Store
	Strategies []strategy.Strategy
	Logger     *log.Logger
	Clock      Clock
	// ResultTimeout bounds how long [Coordinator.UsableToken] waits for a flow to report back.
	ResultTimeout time.Duration
	// MinRenewInterval is the shortest gap between two timer renewals.
	MinRenewInterval time.Duration
}

// Coordinator owns the current token. Every change goes through [Coordinator.OnTokenResult].
type Coordinator struct {
	store            store.Store
	logger           *log.Logger
	clock            Clock
	resultTimeout    time.Duration
	minRenewInterval time.Duration

	flights singleflight.Group

	mu          sync.Mutex
	strategies  []strategy.Strategy
	current     *token.Record
	timer       Timer
	generation  uint64
	lastRenewal time.Time
	caches      []Invalidator
	subscribers map[int]chan Event
	nextSub     int
	waiters     []chan *token.Record
}

// New builds a coordinator and binds every strategy to it. Call [Coordinator.Setup] before use.
func New(opts Options) (*Coordinator, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: session store is required", shared.ErrMissingConfig)
	}
	if opts.Logger == nil {
		opts.Logger = shared.DiscardLogger()
	}
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}
	if opts.ResultTimeout <= 0 {
		opts.ResultTimeout = DefaultResultTimeout
	}
	if opts.MinRenewInterval <= 0 {
		opts.MinRenewInterval = DefaultMinRenewInterval
	}

	c := &Coordinator{
		store:            opts.Store,
		logger:           opts.Logger,
		clock:            opts.Clock,
		resultTimeout:    opts.ResultTimeout,
		minRenewInterval: opts.MinRenewInterval,
		subscribers:      make(map[int]chan Event),
	}
	c.SetStrategies(opts.Strategies...)
	return c, nil
}

// Setup loads the persisted record and brings the session up to date.
//
// A record with more than the renewal margin left is adopted. An older one is renewed in the
// background when it carries a refresh token and otherwise left alone.
func (c *Coordinator) Setup(ctx context.Context) State {
	rec, ok := c.store.Load()
	if !ok {
		c.logger.Debug("no stored session")
		return NoSession
	}

	now := c.clock.Now()
	if rec.RemainingAt(now) > token.RenewalMargin {
		c.logger.Info("restored session", "expires_in", rec.RemainingAt(now).Round(time.Second))
		c.OnTokenResult(rec)
		return c.State()
	}

	if !rec.HasRefreshToken() {
		c.logger.Info("stored session is stale and cannot be renewed")
		return NoSession
	}

	c.mu.Lock()
	c.current = rec
	c.mu.Unlock()

	c.logger.Info("renewing stored session", "state", StateOf(rec, now))
	go c.Renew(context.WithoutCancel(ctx))
	return c.State()
}

// Reset stops the renewal timer, closes every subscription and forgets the current record.
// The store is left untouched.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopTimerLocked()
	c.current = nil
	c.lastRenewal = time.Time{}
	c.waiters = nil
	for id, ch := range c.subscribers {
		close(ch)
		delete(c.subscribers, id)
	}
}

// SetStrategies replaces the strategy order and binds each strategy's results to the coordinator.
func (c *Coordinator) SetStrategies(strategies ...strategy.Strategy) {
	for _, s := range strategies {
		s.Bind(c.OnTokenResult)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.strategies = append([]strategy.Strategy(nil), strategies...)
}

// Prioritize moves the named strategy to the front. It reports false for an unknown name.
func (c *Coordinator) Prioritize(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, s := range c.strategies {
		if s.Name() != name {
			continue
		}
		ordered := make([]strategy.Strategy, 0, len(c.strategies))
		ordered = append(ordered, s)
		ordered = append(ordered, c.strategies[:i]...)
		ordered = append(ordered, c.strategies[i+1:]...)
		c.strategies = ordered
		return true
	}
	return false
}

// Strategies returns the names of the configured strategies in order.
func (c *Coordinator) Strategies() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name()
	}
	return names
}

// RegisterCache adds a cache cleared on every token change.
func (c *Coordinator) RegisterCache(inv Invalidator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.caches = append(c.caches, inv)
}

// InitiateSession asks each strategy in turn to start a login until one dispatches. The channel
// receives the next token event. It never receives anything when no strategy dispatched.
func (c *Coordinator) InitiateSession(ctx context.Context, surface strategy.Surface) <-chan *token.Record {
	ch, _ := c.initiate(ctx, surface)
	return ch
}

// StartSession is [Coordinator.InitiateSession] for callers that cannot wait on a channel that
// never resolves. It fails with [shared.ErrSessionNotFound] when no strategy dispatched.
func (c *Coordinator) StartSession(ctx context.Context, surface strategy.Surface) (<-chan *token.Record, error) {
	ch, ok := c.initiate(ctx, surface)
	if !ok {
		return nil, fmt.Errorf("%w: no strategy can start a session", shared.ErrSessionNotFound)
	}
	return ch, nil
}

// RenewSession asks each strategy in turn to renew refreshToken until one dispatches. The
// channel behaves as in [Coordinator.InitiateSession] and also stays silent when no result
// arrives within the result timeout.
//
// A renewal already in flight is joined instead of dispatching a second one.
func (c *Coordinator) RenewSession(ctx context.Context, refreshToken string) <-chan *token.Record {
	out := make(chan *token.Record, 1)
	results := c.renewFlight(ctx, func() string { return refreshToken })

	go func() {
		res := <-results
		if res.Err != nil {
			c.logger.Debug("renewal produced no result", "error", res.Err)
			return
		}
		out <- res.Val.(*token.Record)
	}()
	return out
}

// renewFlight dispatches at most one renewal at a time. The flight outlives any single caller
// and yields the raw result record, which may be nil or an error sentinel.
func (c *Coordinator) renewFlight(ctx context.Context, refreshToken func() string) <-chan singleflight.Result {
	detached := context.WithoutCancel(ctx)
	return c.flights.DoChan("renew", func() (any, error) {
		refresh := refreshToken()
		if refresh == "" {
			return nil, shared.ErrNoRefreshToken
		}

		ch, ok := c.dispatchRenew(detached, refresh)
		if !ok {
			return nil, fmt.Errorf("%w: no strategy can renew", shared.ErrRefreshFailed)
		}
		return c.next(ch, shared.ErrRefreshFailed)
	})
}

func (c *Coordinator) initiate(ctx context.Context, surface strategy.Surface) (<-chan *token.Record, bool) {
	return c.dispatch("initiate", func(s strategy.Strategy) bool {
		return s.Initiate(ctx, surface)
	})
}

func (c *Coordinator) dispatchRenew(ctx context.Context, refreshToken string) (<-chan *token.Record, bool) {
	c.markRenewal()
	return c.dispatch("renew", func(s strategy.Strategy) bool {
		return s.Renew(ctx, refreshToken)
	})
}

func (c *Coordinator) markRenewal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastRenewal = c.clock.Now()
}

// dispatch registers a one-shot waiter before trying strategies, so results delivered
// synchronously are not missed.
func (c *Coordinator) dispatch(op string, try func(strategy.Strategy) bool) (<-chan *token.Record, bool) {
	waiter := make(chan *token.Record, 1)

	c.mu.Lock()
	c.waiters = append(c.waiters, waiter)
	strategies := append([]strategy.Strategy(nil), c.strategies...)
	c.mu.Unlock()

	for _, s := range strategies {
		if try(s) {
			c.logger.Debug("flow dispatched", "op", op, "strategy", s.Name())
			return waiter, true
		}
		c.logger.Debug("strategy declined", "op", op, "strategy", s.Name())
	}

	c.logger.Warn("no strategy could "+op+" a session", "strategies", len(strategies))
	c.removeWaiter(waiter)
	return make(chan *token.Record), false
}

func (c *Coordinator) removeWaiter(waiter chan *token.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, w := range c.waiters {
		if w == waiter {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}

// OnTokenResult ingests a strategy result.
//
// nil logs out. An error record is published, then the session is logged out. Any other record
// becomes current, is persisted when more than the renewal margin remains, and schedules the next renewal.
func (c *Coordinator) OnTokenResult(rec *token.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case rec == nil:
		c.logoutLocked()
	case rec.IsError():
		c.logger.Warn("session failed", "error", rec.Error)
		c.publishLocked(rec)
		c.logoutLocked()
	default:
		c.adoptLocked(rec)
	}
}

func (c *Coordinator) adoptLocked(rec *token.Record) {
	now := c.clock.Now()
	c.invalidateLocked()

	if rec.RemainingAt(now) > token.RenewalMargin {
		if err := c.store.Save(*rec); err != nil {
			c.logger.Error("failed to persist session", "error", err)
		}
	}

	c.current = rec
	c.scheduleLocked(rec, now)
	c.logger.Info("session updated",
		"access_token", shared.Redact(rec.AccessToken),
		"expires_at", rec.ExpiresAt().Format(time.RFC3339),
		"state", StateOf(rec, now),
	)
	c.publishLocked(rec)
}

func (c *Coordinator) logoutLocked() {
	if err := c.store.Clear(); err != nil {
		c.logger.Error("failed to clear stored session", "error", err)
	}
	for _, s := range c.strategies {
		s.Unlink()
	}
	c.invalidateLocked()
	c.stopTimerLocked()

	if c.current != nil {
		c.logger.Info("logged out")
	}
	c.current = nil
	c.publishLocked(nil)
}

func (c *Coordinator) invalidateLocked() {
	for _, inv := range c.caches {
		inv.Invalidate()
	}
}

// scheduleLocked replaces the renewal timer for rec. A renewal that is already due fires at once,
// unless the previous one was dispatched less than the minimum interval ago.
func (c *Coordinator) scheduleLocked(rec *token.Record, now time.Time) {
	c.stopTimerLocked()

	delay := rec.RenewalDelayAt(now)
	if delay <= 0 && !c.lastRenewal.IsZero() {
		if since := now.Sub(c.lastRenewal); since < c.minRenewInterval {
			delay = c.minRenewInterval - since
		}
	}

	gen := c.generation
	c.timer = c.clock.AfterFunc(delay, func() { c.onTimer(gen) })
	c.logger.Debug("renewal scheduled", "in", delay.Round(time.Second))
}

func (c *Coordinator) stopTimerLocked() {
	c.generation++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Coordinator) onTimer(gen uint64) {
	c.mu.Lock()
	stale := gen != c.generation
	c.mu.Unlock()

	if stale {
		return
	}
	c.logger.Debug("renewal timer fired")
	c.Renew(context.Background())
}

// publishLocked fans rec out to subscribers and resolves every pending one-shot waiter.
// Subscribers that are not keeping up miss the event.
func (c *Coordinator) publishLocked(rec *token.Record) {
	ev := Event{Record: rec, State: StateOf(rec, c.clock.Now()), At: c.clock.Now()}
	for id, ch := range c.subscribers {
		select {
		case ch <- ev:
		default:
			c.logger.Debug("subscriber dropped event", "subscriber", id)
		}
	}

	for _, w := range c.waiters {
		w <- rec
	}
	c.waiters = nil
}

// Subscribe returns a channel of token events and a function that ends the subscription.
func (c *Coordinator) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = ch
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subscribers[id]; ok {
			close(sub)
			delete(c.subscribers, id)
		}
	}
}

// HandleCallback forwards a redirect to each strategy in order and reports whether one claimed it.
func (c *Coordinator) HandleCallback(ctx context.Context, callback *url.URL, opts strategy.CallbackOptions) bool {
	c.mu.Lock()
	strategies := append([]strategy.Strategy(nil), c.strategies...)
	c.mu.Unlock()

	for _, s := range strategies {
		if s.HandleCallback(ctx, callback, opts) {
			c.logger.Debug("callback claimed", "strategy", s.Name())
			return true
		}
	}
	c.logger.Debug("callback unclaimed", "path", callback.Path)
	return false
}

// UsableToken returns an access token fit for an API call, logging in or renewing as needed.
//
// A session near expiry without a refresh token yields the stale token. A failed renewal of a
// near-expiry session also yields the old token. An expired session is renewed when possible and
// otherwise replaced by a new login.
func (c *Coordinator) UsableToken(ctx context.Context) (string, error) {
	rec := c.Current()
	now := c.clock.Now()

	switch StateOf(rec, now) {
	case ValidSession:
		return rec.AccessToken, nil
	case NearExpirySession:
		if !rec.HasRefreshToken() {
			return rec.AccessToken, nil
		}
		if next, err := c.Renew(ctx); err == nil {
			return next.AccessToken, nil
		}
		c.logger.Warn("renewal failed, using current token")
		return rec.AccessToken, nil
	case InvalidSession:
		if rec.HasRefreshToken() && !rec.IsError() {
			if next, err := c.Renew(ctx); err == nil {
				return next.AccessToken, nil
			}
		}
	}

	next, err := c.login(ctx)
	if err != nil {
		return "", err
	}
	return next.AccessToken, nil
}

// Renew runs one shared renewal of the current refresh token and waits for its outcome.
// Callers arriving while a renewal is in flight get that renewal's result. Each caller stops
// waiting when its own ctx ends; the renewal itself carries on for the others.
func (c *Coordinator) Renew(ctx context.Context) (*token.Record, error) {
	return c.join(ctx, c.renewFlight(ctx, c.RefreshToken), shared.ErrRefreshFailed)
}

// login runs one shared initiation on the default surface and waits for its outcome.
func (c *Coordinator) login(ctx context.Context) (*token.Record, error) {
	detached := context.WithoutCancel(ctx)
	results := c.flights.DoChan("initiate", func() (any, error) {
		ch, ok := c.initiate(detached, nil)
		if !ok {
			return nil, fmt.Errorf("%w: no strategy can start a session", shared.ErrSessionNotFound)
		}
		return c.next(ch, shared.ErrSessionNotFound)
	})
	return c.join(ctx, results, shared.ErrSessionNotFound)
}

// join waits for a shared flight or for ctx, whichever ends first.
func (c *Coordinator) join(ctx context.Context, results <-chan singleflight.Result, sentinel error) (*token.Record, error) {
	select {
	case res := <-results:
		if res.Shared {
			c.logger.Debug("joined in-flight flow")
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return c.usable(res.Val.(*token.Record), sentinel)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// next waits up to the result timeout for the next token event.
func (c *Coordinator) next(ch <-chan *token.Record, sentinel error) (*token.Record, error) {
	timer := time.NewTimer(c.resultTimeout)
	defer timer.Stop()

	select {
	case rec := <-ch:
		return rec, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: %w after %s", sentinel, shared.ErrTimeout, c.resultTimeout)
	}
}

// usable turns a token event into a record fit for use, failing with sentinel otherwise.
func (c *Coordinator) usable(rec *token.Record, sentinel error) (*token.Record, error) {
	switch {
	case rec == nil:
		return nil, fmt.Errorf("%w: session ended", sentinel)
	case rec.IsError():
		return nil, fmt.Errorf("%w: %s", sentinel, rec.Error)
	case !rec.IsValidAt(c.clock.Now()):
		return nil, fmt.Errorf("%w: received an expired token", sentinel)
	}
	return rec, nil
}

// await waits for one dispatched flow on behalf of a single caller.
func (c *Coordinator) await(ctx context.Context, ch <-chan *token.Record, sentinel error) (*token.Record, error) {
	timer := time.NewTimer(c.resultTimeout)
	defer timer.Stop()

	select {
	case rec := <-ch:
		return c.usable(rec, sentinel)
	case <-timer.C:
		return nil, fmt.Errorf("%w: %w after %s", sentinel, shared.ErrTimeout, c.resultTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Logout ends the session. Calling it without a session is harmless.
func (c *Coordinator) Logout() {
	c.OnTokenResult(nil)
}

func (c *Coordinator) Current() *token.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// State classifies the current record.
func (c *Coordinator) State() State {
	return StateOf(c.Current(), c.clock.Now())
}

func (c *Coordinator) AccessToken() string {
	if rec := c.Current(); rec != nil {
		return rec.AccessToken
	}
	return ""
}

func (c *Coordinator) RefreshToken() string {
	if rec := c.Current(); rec != nil {
		return rec.RefreshToken
	}
	return ""
}

// HasSession reports whether there is a current record, valid or not.
func (c *Coordinator) HasSession() bool {
	return c.Current() != nil
}

func (c *Coordinator) IsSessionValid() bool {
	rec := c.Current()
	return rec != nil && rec.IsValidAt(c.clock.Now())
}
