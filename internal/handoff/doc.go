// Package handoff hands authorization to the installed Spotify desktop app.
//
// [Manager] plays the part of an SDK session manager: it launches the app with an authorize URL,
// claims the redirect the app sends back (matched by redirect URI and a one-time state), exchanges the
// code through the relay, and reports DidInitiate, DidRenew or DidFail to its [Delegate].
package handoff
