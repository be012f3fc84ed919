package session

import (
	"time"

	"github.com/desertthunder/sptoken/internal/token"
)

// State is the session state derived from the current record.
type State int

const (
	NoSession State = iota
	ValidSession
	NearExpirySession
	InvalidSession
)

func (s State) String() string {
	switch s {
	case NoSession:
		return "no session"
	case ValidSession:
		return "valid"
	case NearExpirySession:
		return "near expiry"
	case InvalidSession:
		return "invalid"
	default:
		return "unknown"
	}
}

// StateOf classifies rec at now.
func StateOf(rec *token.Record, now time.Time) State {
	switch {
	case rec == nil:
		return NoSession
	case !rec.IsValidAt(now):
		return InvalidSession
	case rec.IsNearExpiryAt(now):
		return NearExpirySession
	default:
		return ValidSession
	}
}

// Event is a token change. A nil Record means the session ended.
type Event struct {
	Record *token.Record
	State  State
	At     time.Time
}

// LoggedOut reports whether the event ended the session.
func (e Event) LoggedOut() bool { return e.Record == nil }

// Invalidator is a cache of data derived from the current token, cleared on every token change.
type Invalidator interface {
	Invalidate()
}

// Timer is a pending renewal.
type Timer interface {
	Stop() bool
}

// Clock supplies the time and renewal timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
