// Package strategy implements the two ways a session is obtained and renewed.
//
// [NativeHandoff] goes through the installed Spotify app via [handoff.Manager]. It can only renew a
// session the app handed over.
//
// [BrowserRedirect] runs the authorization code flow: it builds the authorize URL with [oauth2.Config.AuthCodeURL]
// (show_dialog=true, a one-time state), presents it on a [Surface], claims the matching redirect, and swaps
// the code through the relay. It dismisses the surface exactly once, whatever the outcome. It can renew
// any refresh token.
//
// Neither strategy returns tokens directly. Results, including error sentinels, go to the [ResultFunc] bound
// by the session coordinator.
package strategy
