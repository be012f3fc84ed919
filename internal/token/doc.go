// Package token defines [Record], the immutable snapshot of an OAuth2 access/refresh token pair
// along with the expiry facts derived from it.
//
// # Expiry
//
// A record knows when it was issued and either its nominal lifetime (expires_in) or an absolute
// expiration date handed over by the native app session. The absolute date wins when both are present,
// and a record with neither lives for [DefaultLifetime].
//
// Every derived fact has an *At(now) form that takes the clock explicitly, which is what the session
// coordinator and tests use; the short forms read the wall clock.
//
//   - valid: not an error sentinel and not yet expired
//   - near expiry: valid, with no more than [RenewalMargin] left
//   - remaining: time left, clamped at zero
//
// # Error sentinels
//
// Failures travel through the same channel as tokens. [NewError] builds a record that carries
// only a message, is never valid, and is never persisted.
//
// # Persistence
//
// Records encode to a flat JSON object (access_token, refresh_token, issued_at, expires_in in seconds,
// expiration_date, error).
package token
