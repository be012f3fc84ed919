package strategy

import (
	"context"
	"net/url"

	"github.com/desertthunder/sptoken/internal/token"
)

// Names of the built-in strategies, as used in configuration.
const (
	NativeName  = "native"
	BrowserName = "browser"
)

// ResultFunc receives every asynchronous outcome. A nil record means the session is gone.
type ResultFunc func(rec *token.Record)

// CallbackOptions describes where a callback came from.
type CallbackOptions struct {
	Source string
}

// Surface presents an authorization URL to the user.
type Surface interface {
	Present(ctx context.Context, authURL string) error
	Dismiss()
}

// Strategy is one way of obtaining and renewing a session.
//
// Initiate and Renew report whether a flow was dispatched; tokens arrive later through the bound
// [ResultFunc]. HandleCallback reports whether the strategy claimed the callback.
type Strategy interface {
	Name() string
	Bind(fn ResultFunc)
	Initiate(ctx context.Context, surface Surface) bool
	Renew(ctx context.Context, refreshToken string) bool
	HandleCallback(ctx context.Context, callback *url.URL, opts CallbackOptions) bool
	Unlink()
}

// Exchanger swaps codes and refresh tokens through the relay.
type Exchanger interface {
	SwapCode(ctx context.Context, code string) (token.Record, error)
	Renew(ctx context.Context, refreshToken string) (token.Record, error)
}
