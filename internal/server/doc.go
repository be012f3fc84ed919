// Package server provides HTTP routing, middleware, and the local OAuth callback listener.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (first added runs outermost), following the standard Go pattern.
//
// The [BasicRouter] implementation registers method-qualified patterns on an [http.ServeMux].
//
// # Middleware
//
//   - [RequestIDMiddleware] tags every request with an X-Request-ID
//   - [LoggingMiddleware] writes one structured log line per request
//   - [RateLimitMiddleware] applies a per-client token bucket and answers 429 past it
//   - [NoCacheMiddleware] keeps token responses out of caches
//
// # Callback Listener
//
// [CallbackHandler] serves the path of the configured redirect URI. It rebuilds the absolute callback URL,
// hands it to a [CallbackFunc] (the session coordinator), and renders a small confirmation page.
// It only processes one claimed callback.
//
// The browser login flow starts a [Listener] on the redirect URI's host, waits for the callback, and shuts it down.
// The token exchange relay uses the same router and middleware stack.
//
// # Handler Interface
//
// Custom handlers implement the [Handler] interface, which wraps the stdlib handler interface and adds routes,
// allowing handlers to register multiple routes to encapsulate route definitions within the implementation.
package server
