// Package exchange is the client side of the token exchange relay.
//
// The relay holds the client secret; this package only ever sends it an authorization code (POST /swap)
// or a refresh token (POST /refresh) as a form body and maps the JSON reply into a [token.Record].
//
// Every failure produces an error sentinel record alongside an error that tells the caller which of
// three things went wrong:
//
//   - the request never completed ([shared.ErrTransportFailure])
//   - the reply could not be decoded or was missing fields ([shared.ErrDecodeFailure])
//   - the relay reported an OAuth error such as invalid_grant ([shared.AuthenticationError])
package exchange
