package server

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"sync"
)

// CallbackFunc receives the absolute callback URL and reports whether anything claimed it.
type CallbackFunc func(ctx context.Context, callback *url.URL) bool

// CallbackHandler serves the redirect path of the OAuth redirect URI on the local listener.
// Implements the Handler interface for registration with a Router.
//
// Only the first claimed callback is processed; later requests are rejected.
type CallbackHandler struct {
	base    *url.URL
	handle  CallbackFunc
	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	claimed bool
}

// NewCallbackHandler creates a handler for redirectURI that forwards callbacks to handle.
func NewCallbackHandler(redirectURI string, handle CallbackFunc) (*CallbackHandler, error) {
	base, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect uri: %w", err)
	}
	if base.Path == "" {
		base.Path = "/"
	}

	return &CallbackHandler{
		base:   base,
		handle: handle,
		done:   make(chan struct{}),
	}, nil
}

// Routes returns the HTTP routes this handler serves.
func (h *CallbackHandler) Routes() []string {
	return []string{h.base.Path}
}

// ServeHTTP rebuilds the absolute callback URL and forwards it.
func (h *CallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.claimed {
		h.mu.Unlock()
		http.Error(w, "Callback already processed", http.StatusBadRequest)
		return
	}
	h.mu.Unlock()

	callback := h.base.ResolveReference(&url.URL{Path: r.URL.Path, RawQuery: r.URL.RawQuery})
	if !h.handle(r.Context(), callback) {
		http.Error(w, "Unrecognized callback", http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	h.claimed = true
	h.mu.Unlock()
	h.once.Do(func() { close(h.done) })

	q := callback.Query()
	if errParam := q.Get("error"); errParam != "" {
		writePage(w, http.StatusBadRequest, "Authorization Failed", "Spotify reported: "+errParam+". You can close this window.")
		return
	}
	writePage(w, http.StatusOK, "✓ Authorization Successful", "You can close this window and return to the terminal.")
}

// Done is closed once a callback has been claimed.
func (h *CallbackHandler) Done() <-chan struct{} {
	return h.done
}

func writePage(w http.ResponseWriter, status int, title, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `
<!DOCTYPE html>
<html>
<head>
    <title>%[1]s</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
               display: flex; align-items: center; justify-content: center; height: 100vh;
               margin: 0; background: #f5f5f5; }
        .container { text-align: center; background: white; padding: 2rem;
                     border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        h1 { color: #1DB954; margin: 0 0 1rem 0; }
        p { color: #666; margin: 0; }
    </style>
</head>
<body>
    <div class="container">
        <h1>%[1]s</h1>
        <p>%[2]s</p>
    </div>
</body>
</html>
`, html.EscapeString(title), html.EscapeString(message))
}
