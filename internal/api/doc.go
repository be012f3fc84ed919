// Package api calls the Spotify Web API on behalf of the current session.
//
// [Client.Do] is the authenticated invoker: it fails fast with [shared.ErrSessionNotFound] when there is no
// access token, recovers from a single 401 by renewing the session and retrying once, and maps every other
// failure to a typed error ([shared.RegularError], [shared.UnsupportedStatusError]) or a wrapped
// [shared.ErrTransportFailure] / [shared.ErrDecodeFailure].
//
// The resource calls (profile, playlists, search, queue, playback) are thin wrappers that build a
// [Request] and decode into the types in resources.go.
package api
