package handoff

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/sptoken/internal/shared"
	"github.com/desertthunder/sptoken/internal/token"
)

// AuthorizeURL is the app-handled authorization endpoint.
const AuthorizeURL = "spotify-action://authorize"

var (
	ErrNotInstalled = errors.New("spotify app not installed")
	ErrNoSession    = errors.New("no session to renew")
)

// Session is the token state handed back by the app.
type Session struct {
	AccessToken    string
	RefreshToken   string
	ExpirationDate time.Time
}

func sessionFrom(rec token.Record) *Session {
	return &Session{
		AccessToken:    rec.AccessToken,
		RefreshToken:   rec.RefreshToken,
		ExpirationDate: rec.ExpiresAt(),
	}
}

// Delegate receives the outcome of every initiate and renew. Calls arrive on background goroutines.
type Delegate interface {
	DidInitiate(session *Session)
	DidRenew(session *Session)
	DidFail(err error)
}

// Exchanger swaps codes and refresh tokens through the relay.
type Exchanger interface {
	SwapCode(ctx context.Context, code string) (token.Record, error)
	Renew(ctx context.Context, refreshToken string) (token.Record, error)
}

// Config identifies the client to the app.
type Config struct {
	ClientID    string
	RedirectURI string
	Launcher    string
}

// Manager drives the app handoff: it launches the app for consent, claims the redirect the app
// sends back, and keeps the resulting session.
type Manager struct {
	config    Config
	exchanger Exchanger
	open      shared.Opener
	installed func() bool
	logger    *log.Logger

	mu       sync.Mutex
	delegate Delegate
	session  *Session
	pending  string
}

// Option configures a [Manager].
type Option func(*Manager)

// WithOpener replaces how the authorize URL is handed to the app.
func WithOpener(open shared.Opener) Option {
	return func(m *Manager) { m.open = open }
}

// WithInstalledCheck replaces the PATH lookup for the launcher.
func WithInstalledCheck(fn func() bool) Option {
	return func(m *Manager) { m.installed = fn }
}

func WithLogger(l *log.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func NewManager(config Config, exchanger Exchanger, opts ...Option) *Manager {
	m := &Manager{
		config:    config,
		exchanger: exchanger,
		open:      shared.LaunchWith(config.Launcher),
		installed: func() bool { return shared.Installed(config.Launcher) },
		logger:    shared.DiscardLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) SetDelegate(d Delegate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delegate = d
}

// Installed reports whether the app can be launched from here.
func (m *Manager) Installed() bool {
	return m.installed()
}

func (m *Manager) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// SetSession replaces the current session. nil drops it along with any pending authorization.
func (m *Manager) SetSession(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = s
	if s == nil {
		m.pending = ""
	}
}

// InitiateSession launches the app to request consent for scopes. The outcome arrives through the delegate
// once the app redirects back and [Manager.HandleURL] claims the callback.
func (m *Manager) InitiateSession(ctx context.Context, scopes []string) error {
	if !m.Installed() {
		return ErrNotInstalled
	}

	state := shared.GenerateID()
	q := url.Values{
		"client_id":     {m.config.ClientID},
		"redirect_uri":  {m.config.RedirectURI},
		"response_type": {"code"},
		"scope":         {strings.Join(scopes, " ")},
		"state":         {state},
	}

	m.mu.Lock()
	m.pending = state
	m.mu.Unlock()

	if err := m.open(AuthorizeURL + "?" + q.Encode()); err != nil {
		m.mu.Lock()
		m.pending = ""
		m.mu.Unlock()
		return fmt.Errorf("failed to launch app: %w", err)
	}

	m.logger.Info("waiting for app authorization", "launcher", m.config.Launcher)
	return nil
}

// RenewSession refreshes the current session through the relay. Fails fast without a session.
func (m *Manager) RenewSession(ctx context.Context) error {
	session := m.Session()
	if session == nil || session.RefreshToken == "" {
		return ErrNoSession
	}

	go func() {
		rec, err := m.exchanger.Renew(context.WithoutCancel(ctx), session.RefreshToken)
		if err != nil {
			m.fail(err)
			return
		}

		next := sessionFrom(rec)
		m.mu.Lock()
		m.session = next
		d := m.delegate
		m.mu.Unlock()

		if d != nil {
			d.DidRenew(next)
		}
	}()
	return nil
}

// HandleURL claims a redirect that answers this manager's pending authorization.
func (m *Manager) HandleURL(ctx context.Context, u *url.URL) bool {
	if !MatchesRedirect(u, m.config.RedirectURI) {
		return false
	}

	q := u.Query()
	m.mu.Lock()
	if m.pending == "" || q.Get("state") != m.pending {
		m.mu.Unlock()
		return false
	}
	m.pending = ""
	m.mu.Unlock()

	if errParam := q.Get("error"); errParam != "" {
		go m.fail(fmt.Errorf("%w: %s", shared.ErrAuthFailed, errParam))
		return true
	}

	code := q.Get("code")
	if code == "" {
		go m.fail(fmt.Errorf("%w: callback without code", shared.ErrAuthFailed))
		return true
	}

	go func() {
		rec, err := m.exchanger.SwapCode(context.WithoutCancel(ctx), code)
		if err != nil {
			m.fail(err)
			return
		}

		session := sessionFrom(rec)
		m.mu.Lock()
		m.session = session
		d := m.delegate
		m.mu.Unlock()

		if d != nil {
			d.DidInitiate(session)
		}
	}()
	return true
}

func (m *Manager) fail(err error) {
	m.logger.Warn("app session failed", "error", err)

	m.mu.Lock()
	d := m.delegate
	m.mu.Unlock()

	if d != nil {
		d.DidFail(err)
	}
}

// MatchesRedirect reports whether u is a callback to redirectURI: same scheme and host, path under the
// redirect path.
func MatchesRedirect(u *url.URL, redirectURI string) bool {
	if u == nil || redirectURI == "" {
		return false
	}
	want, err := url.Parse(redirectURI)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, want.Scheme) &&
		strings.EqualFold(u.Host, want.Host) &&
		strings.HasPrefix(u.Path, want.Path)
}
