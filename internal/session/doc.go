// Package session coordinates the token lifecycle.
//
// A single [Coordinator] owns the current [token.Record]. Strategies report results asynchronously
// and [Coordinator.OnTokenResult] is the only place the record changes. That method runs under one
// mutex and does everything a transition needs: persistence, the renewal timer, cache invalidation
// and publication to subscribers.
//
// States are derived, never stored:
//
//	NoSession          no record
//	ValidSession       valid with more than five minutes left
//	NearExpirySession  valid with five minutes or less left
//	InvalidSession     expired
//
// Consumers call [Coordinator.UsableToken]. It returns the cached token when it can and otherwise logs
// in or renews. Renewals are shared through a singleflight group, so concurrent callers and the timer
// never send the same refresh token twice.
package session
