package strategy

import (
	"context"
	"net/url"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/sptoken/internal/handoff"
	"github.com/desertthunder/sptoken/internal/shared"
	"github.com/desertthunder/sptoken/internal/token"
	"golang.org/x/oauth2"
)

const spotifyAuthURL = "https://accounts.spotify.com/authorize"

// BrowserConfig identifies the client for the authorization code flow.
type BrowserConfig struct {
	ClientID    string
	RedirectURI string
	Scopes      []string
	AuthURL     string
}

// BrowserRedirect runs the authorization code flow in a browser and swaps the code through the relay.
type BrowserRedirect struct {
	oauth          *oauth2.Config
	exchanger      Exchanger
	defaultSurface Surface
	logger         *log.Logger

	mu        sync.Mutex
	result    ResultFunc
	state     string
	presented Surface
}

// BrowserOption configures a [BrowserRedirect].
type BrowserOption func(*BrowserRedirect)

// WithDefaultSurface is used when Initiate is called without a surface.
func WithDefaultSurface(s Surface) BrowserOption {
	return func(b *BrowserRedirect) { b.defaultSurface = s }
}

func WithBrowserLogger(l *log.Logger) BrowserOption {
	return func(b *BrowserRedirect) { b.logger = l }
}

func NewBrowserRedirect(config BrowserConfig, exchanger Exchanger, opts ...BrowserOption) *BrowserRedirect {
	authURL := config.AuthURL
	if authURL == "" {
		authURL = spotifyAuthURL
	}

	b := &BrowserRedirect{
		oauth: &oauth2.Config{
			ClientID:    config.ClientID,
			RedirectURL: config.RedirectURI,
			Scopes:      config.Scopes,
			Endpoint:    oauth2.Endpoint{AuthURL: authURL},
		},
		exchanger: exchanger,
		logger:    shared.DiscardLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *BrowserRedirect) Name() string { return BrowserName }

func (b *BrowserRedirect) Bind(fn ResultFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.result = fn
}

// AuthURL builds the authorize URL for state.
func (b *BrowserRedirect) AuthURL(state string) string {
	return b.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("show_dialog", "true"))
}

// Initiate presents the authorize URL. Without any surface the flow cannot run here.
func (b *BrowserRedirect) Initiate(ctx context.Context, surface Surface) bool {
	if surface == nil {
		surface = b.defaultSurface
	}
	if surface == nil {
		return false
	}

	state := shared.GenerateID()
	b.mu.Lock()
	previous := b.presented
	b.state = state
	b.presented = surface
	b.mu.Unlock()

	if previous != nil && previous != surface {
		previous.Dismiss()
	}

	if err := surface.Present(ctx, b.AuthURL(state)); err != nil {
		b.logger.Warn("failed to present authorization", "error", err)
		b.mu.Lock()
		if b.state == state {
			b.state = ""
			b.presented = nil
		}
		b.mu.Unlock()
		return false
	}

	b.logger.Info("waiting for browser authorization")
	return true
}

// Renew always dispatches when given a refresh token.
func (b *BrowserRedirect) Renew(ctx context.Context, refreshToken string) bool {
	if refreshToken == "" {
		return false
	}

	go func() {
		rec, err := b.exchanger.Renew(context.WithoutCancel(ctx), refreshToken)
		if err != nil {
			b.logger.Warn("renewal failed", "error", err)
		}
		b.emit(&rec)
	}()
	return true
}

// HandleCallback claims redirects that answer the pending authorization.
func (b *BrowserRedirect) HandleCallback(ctx context.Context, callback *url.URL, opts CallbackOptions) bool {
	if !handoff.MatchesRedirect(callback, b.oauth.RedirectURL) {
		return false
	}

	q := callback.Query()
	b.mu.Lock()
	if b.state == "" {
		b.mu.Unlock()
		return false
	}
	if got := q.Get("state"); got != "" && got != b.state {
		b.mu.Unlock()
		return false
	}
	b.state = ""
	surface := b.presented
	b.presented = nil
	b.mu.Unlock()

	b.logger.Debug("callback claimed", "source", opts.Source)

	if errParam := q.Get("error"); errParam != "" {
		rec := token.NewError(errParam)
		b.finish(surface, &rec)
		return true
	}

	code := q.Get("code")
	if code == "" {
		rec := token.NewError("authorization callback without code")
		b.finish(surface, &rec)
		return true
	}

	go func() {
		rec, err := b.exchanger.SwapCode(context.WithoutCancel(ctx), code)
		if err != nil {
			b.logger.Warn("code exchange failed", "error", err)
		}
		b.finish(surface, &rec)
	}()
	return true
}

// Unlink drops any pending authorization and dismisses its surface.
func (b *BrowserRedirect) Unlink() {
	b.mu.Lock()
	surface := b.presented
	b.state = ""
	b.presented = nil
	b.mu.Unlock()

	if surface != nil {
		surface.Dismiss()
	}
}

func (b *BrowserRedirect) finish(surface Surface, rec *token.Record) {
	if surface != nil {
		surface.Dismiss()
	}
	b.emit(rec)
}

func (b *BrowserRedirect) emit(rec *token.Record) {
	b.mu.Lock()
	fn := b.result
	b.mu.Unlock()

	if fn != nil {
		fn(rec)
	}
}
