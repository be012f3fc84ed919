package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Middleware wraps an http.Handler and returns a new http.Handler with additional behavior.
// Common middleware includes logging, request ids, and rate limiting.
type Middleware func(http.Handler) http.Handler

// Handler defines the interface for HTTP request handlers that own their routes.
type Handler interface {
	http.Handler      // ServeHTTP handles the HTTP request and writes the response
	Routes() []string // Routes returns the path patterns this handler serves
}

// Router defines the interface for HTTP routing and middleware management.
type Router interface {
	Use(middleware ...Middleware)                     // Use adds middleware to the router's middleware stack
	Handle(method, path string, handler http.Handler) // Handle registers a handler for the specified method and path
	Handler(handler Handler)                          // Handler registers a custom Handler implementation
	ServeHTTP(w http.ResponseWriter, r *http.Request) // ServeHTTP implements http.Handler for the entire router
}

// Listener is a started HTTP server bound to an address.
type Listener struct {
	srv  *http.Server
	ln   net.Listener
	addr string
	errc chan error
}

// Listen binds addr and serves handler in the background.
func Listen(addr string, handler http.Handler) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	l := &Listener{
		srv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		ln:   ln,
		addr: ln.Addr().String(),
		errc: make(chan error, 1),
	}

	go func() {
		if err := l.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.errc <- err
		}
		close(l.errc)
	}()
	return l, nil
}

// Addr is the bound address, useful when listening on port 0.
func (l *Listener) Addr() string { return l.addr }

// Err reports a serve failure. Closed after shutdown.
func (l *Listener) Err() <-chan error { return l.errc }

// Shutdown stops the server, waiting up to five seconds for in-flight requests. The address is
// free once it returns.
func (l *Listener) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := l.srv.Shutdown(ctx)
	// Serve may not have started tracking the socket yet.
	l.ln.Close()
	return err
}
