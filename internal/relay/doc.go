// Package relay is the token exchange relay.
//
// The client secret cannot ship with the CLI, so code and refresh token exchanges go through this small
// server. It holds the secret and calls Spotify's token endpoint with HTTP Basic authentication.
//
//	POST /swap     code=<authorization code>  -> {access_token, token_type, scope, expires_in, refresh_token}
//	POST /refresh  refresh_token=<token>      -> same shape
//	GET  /healthz                             -> {status: "ok"}
//
// OAuth errors from the token endpoint are passed through as {error, error_description} with the
// upstream status.
package relay
