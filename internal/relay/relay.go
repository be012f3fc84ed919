package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/sptoken/internal/server"
	"github.com/desertthunder/sptoken/internal/shared"
	"github.com/desertthunder/sptoken/internal/token"
	"golang.org/x/oauth2"
)

// TokenURL is Spotify's token endpoint.
const TokenURL = "https://accounts.spotify.com/api/token"

const maxFormSize = 64 << 10

// Config holds the confidential client credentials the relay exchanges with.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	TokenURL     string
	// HTTPClient talks to the token endpoint. Defaults to a client with a 10s timeout.
	HTTPClient *http.Client
}

// TokenResponse is the relay's reply to /swap and /refresh.
type TokenResponse struct {
	AccessToken      string `json:"access_token,omitempty"`
	TokenType        string `json:"token_type,omitempty"`
	Scope            string `json:"scope,omitempty"`
	ExpiresIn        int64  `json:"expires_in,omitempty"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// Handler serves the token exchange endpoints. Implements [server.Handler].
type Handler struct {
	oauth  *oauth2.Config
	client *http.Client
	logger *log.Logger
}

// NewHandler validates config and builds the relay handler.
func NewHandler(config Config, logger *log.Logger) (*Handler, error) {
	if config.ClientID == "" || config.ClientSecret == "" {
		return nil, fmt.Errorf("%w: relay needs client_id and client_secret", shared.ErrMissingCredentials)
	}
	if config.TokenURL == "" {
		config.TokenURL = TokenURL
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = shared.DiscardLogger()
	}

	return &Handler{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURI,
			Endpoint: oauth2.Endpoint{
				TokenURL:  config.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		client: config.HTTPClient,
		logger: logger,
	}, nil
}

// Routes returns the HTTP routes this handler serves.
func (h *Handler) Routes() []string {
	return []string{"POST /swap", "POST /refresh", "GET /healthz"}
}

// ServeHTTP dispatches by path. Method filtering is left to the router patterns.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/swap":
		h.Swap(w, r)
	case "/refresh":
		h.Refresh(w, r)
	case "/healthz":
		server.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	default:
		http.NotFound(w, r)
	}
}

// Swap exchanges form field code for a token pair.
func (h *Handler) Swap(w http.ResponseWriter, r *http.Request) {
	code, ok := formValue(w, r, "code")
	if !ok {
		return
	}

	tok, err := h.oauth.Exchange(h.context(r), code)
	if err != nil {
		h.fail(w, r, "swap", err)
		return
	}

	h.logger.Debug("code swapped", "request_id", server.RequestID(r.Context()), "access_token", shared.Redact(tok.AccessToken))
	server.WriteJSON(w, http.StatusOK, responseFrom(tok))
}

// Refresh trades form field refresh_token for a new access token.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	refreshToken, ok := formValue(w, r, "refresh_token")
	if !ok {
		return
	}

	tok, err := h.oauth.TokenSource(h.context(r), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		h.fail(w, r, "refresh", err)
		return
	}

	h.logger.Debug("token refreshed", "request_id", server.RequestID(r.Context()), "rotated", tok.RefreshToken != refreshToken)
	server.WriteJSON(w, http.StatusOK, responseFrom(tok))
}

func (h *Handler) context(r *http.Request) context.Context {
	return context.WithValue(r.Context(), oauth2.HTTPClient, h.client)
}

// fail passes OAuth errors from the token endpoint through with their status. Anything else is
// reported as an unavailable upstream.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) && retrieve.ErrorCode != "" {
		status := http.StatusBadRequest
		if retrieve.Response != nil && retrieve.Response.StatusCode >= 400 {
			status = retrieve.Response.StatusCode
		}
		h.logger.Warn(op+" rejected", "request_id", server.RequestID(r.Context()), "error", retrieve.ErrorCode)
		server.WriteJSON(w, status, TokenResponse{Error: retrieve.ErrorCode, ErrorDescription: retrieve.ErrorDescription})
		return
	}

	h.logger.Error(op+" failed", "request_id", server.RequestID(r.Context()), "error", err)
	server.WriteJSON(w, http.StatusBadGateway, TokenResponse{
		Error:            "temporarily_unavailable",
		ErrorDescription: "token endpoint unreachable",
	})
}

func formValue(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseForm(); err != nil {
		server.WriteJSON(w, http.StatusBadRequest, TokenResponse{Error: "invalid_request", ErrorDescription: "malformed form body"})
		return "", false
	}

	value := strings.TrimSpace(r.PostForm.Get(key))
	if value == "" {
		server.WriteJSON(w, http.StatusBadRequest, TokenResponse{Error: "invalid_request", ErrorDescription: "missing " + key})
		return "", false
	}
	return value, true
}

func responseFrom(tok *oauth2.Token) TokenResponse {
	resp := TokenResponse{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    tok.ExpiresIn,
	}
	if resp.ExpiresIn == 0 && !tok.Expiry.IsZero() {
		resp.ExpiresIn = int64(time.Until(tok.Expiry).Round(time.Second).Seconds())
	}
	if resp.ExpiresIn <= 0 {
		resp.ExpiresIn = int64(token.DefaultLifetime.Seconds())
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		resp.Scope = scope
	}
	return resp
}

// NewRouter wires the relay handler behind request ids, logging, no-cache headers and per-IP
// rate limiting.
func NewRouter(h *Handler, rateLimit int, logger *log.Logger) *server.BasicRouter {
	if logger == nil {
		logger = shared.DiscardLogger()
	}

	router := server.NewBasicRouter()
	router.Use(
		server.RequestIDMiddleware(),
		server.LoggingMiddleware(logger),
		server.NoCacheMiddleware(),
	)
	if rateLimit > 0 {
		router.Use(server.RateLimitMiddleware(server.NewRateLimiter(rateLimit)))
	}
	router.Handler(h)
	return router
}

// Serve runs router on addr until ctx is cancelled, then drains in-flight requests.
func Serve(ctx context.Context, addr string, router http.Handler, logger *log.Logger) error {
	ln, err := server.Listen(addr, router)
	if err != nil {
		return err
	}
	logger.Info("relay listening", "addr", ln.Addr())

	select {
	case err := <-ln.Err():
		return err
	case <-ctx.Done():
	}

	logger.Info("relay shutting down")
	return ln.Shutdown(context.WithoutCancel(ctx))
}
