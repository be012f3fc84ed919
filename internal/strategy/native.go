package strategy

import (
	"context"
	"net/url"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/sptoken/internal/handoff"
	"github.com/desertthunder/sptoken/internal/shared"
	"github.com/desertthunder/sptoken/internal/token"
)

// NativeHandoff obtains sessions through the installed Spotify app.
type NativeHandoff struct {
	manager *handoff.Manager
	scopes  []string
	logger  *log.Logger

	mu     sync.Mutex
	result ResultFunc
}

// NewNativeHandoff wraps manager and registers itself as its delegate.
func NewNativeHandoff(manager *handoff.Manager, scopes []string, logger *log.Logger) *NativeHandoff {
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	n := &NativeHandoff{manager: manager, scopes: scopes, logger: logger}
	manager.SetDelegate(n)
	return n
}

func (n *NativeHandoff) Name() string { return NativeName }

func (n *NativeHandoff) Bind(fn ResultFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.result = fn
}

// Initiate launches the app. The surface is unused: the app presents its own consent screen.
func (n *NativeHandoff) Initiate(ctx context.Context, _ Surface) bool {
	if !n.manager.Installed() {
		n.logger.Debug("app not installed")
		return false
	}
	if err := n.manager.InitiateSession(ctx, n.scopes); err != nil {
		n.logger.Warn("failed to initiate app session", "error", err)
		return false
	}
	return true
}

// Renew refreshes the app session. Without one there is nothing to renew.
func (n *NativeHandoff) Renew(ctx context.Context, _ string) bool {
	if n.manager.Session() == nil {
		return false
	}
	if err := n.manager.RenewSession(ctx); err != nil {
		n.logger.Warn("failed to renew app session", "error", err)
		return false
	}
	return true
}

func (n *NativeHandoff) HandleCallback(ctx context.Context, callback *url.URL, _ CallbackOptions) bool {
	return n.manager.HandleURL(ctx, callback)
}

func (n *NativeHandoff) Unlink() {
	n.manager.SetSession(nil)
}

func (n *NativeHandoff) DidInitiate(s *handoff.Session) {
	n.emit(recordFrom(s))
}

func (n *NativeHandoff) DidRenew(s *handoff.Session) {
	n.emit(recordFrom(s))
}

func (n *NativeHandoff) DidFail(err error) {
	rec := token.NewError("spotify login error: " + err.Error())
	n.emit(&rec)
}

func (n *NativeHandoff) emit(rec *token.Record) {
	n.mu.Lock()
	fn := n.result
	n.mu.Unlock()

	if fn != nil {
		fn(rec)
	}
}

func recordFrom(s *handoff.Session) *token.Record {
	rec := token.New(s.AccessToken, s.RefreshToken, 0, s.ExpirationDate)
	return &rec
}
