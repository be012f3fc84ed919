package strategy

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/sptoken/internal/server"
	"github.com/desertthunder/sptoken/internal/shared"
)

// SystemBrowser presents authorization in the user's browser and listens for the redirect locally.
type SystemBrowser struct {
	redirectURI string
	callback    server.CallbackFunc
	open        shared.Opener
	logger      *log.Logger

	mu       sync.Mutex
	listener *server.Listener
}

// NewSystemBrowser creates a surface whose listener forwards callbacks to callback.
// open defaults to [shared.OpenBrowser].
func NewSystemBrowser(redirectURI string, callback server.CallbackFunc, open shared.Opener, logger *log.Logger) *SystemBrowser {
	if open == nil {
		open = shared.OpenBrowser
	}
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	return &SystemBrowser{redirectURI: redirectURI, callback: callback, open: open, logger: logger}
}

// Present starts the callback listener on the redirect URI's host and opens authURL.
func (s *SystemBrowser) Present(ctx context.Context, authURL string) error {
	u, err := url.Parse(s.redirectURI)
	if err != nil {
		return fmt.Errorf("%w: redirect uri: %v", shared.ErrInvalidConfig, err)
	}

	handler, err := server.NewCallbackHandler(s.redirectURI, s.callback)
	if err != nil {
		return err
	}

	router := server.NewBasicRouter()
	router.Use(server.RequestIDMiddleware(), server.LoggingMiddleware(s.logger), server.NoCacheMiddleware())
	router.Handler(handler)

	// The old listener must release the port before the new one binds it.
	s.stop()

	l, err := server.Listen(u.Host, router)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	s.logger.Debug("callback listener started", "addr", l.Addr())

	if err := s.open(authURL); err != nil {
		s.stop()
		return err
	}
	return nil
}

// Dismiss stops the listener without waiting. Safe to call repeatedly and from inside a callback.
func (s *SystemBrowser) Dismiss() {
	l := s.take()
	if l == nil {
		return
	}

	go s.shutdown(l)
}

// stop shuts the listener down and waits for its port to be released. Never call it from
// inside the callback handler.
func (s *SystemBrowser) stop() {
	if l := s.take(); l != nil {
		s.shutdown(l)
	}
}

func (s *SystemBrowser) take() *server.Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.listener
	s.listener = nil
	return l
}

func (s *SystemBrowser) shutdown(l *server.Listener) {
	if err := l.Shutdown(context.Background()); err != nil {
		s.logger.Debug("callback listener shutdown", "error", err)
	}
}
