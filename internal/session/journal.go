package session

import (
	"time"

	"github.com/desertthunder/sptoken/internal/shared"
)

// Event kinds written to a [Journal].
const (
	KindSession = "session"
	KindError   = "error"
	KindLogout  = "logout"
)

// Journal keeps a history of token events. [store.EventLog] implements it.
type Journal interface {
	Append(kind, detail string, expiresAt time.Time) error
}

// Describe turns an event into a journal entry. Credentials are reduced to a redacted preview.
func Describe(ev Event) (kind, detail string, expiresAt time.Time) {
	switch {
	case ev.Record == nil:
		return KindLogout, "session ended", time.Time{}
	case ev.Record.IsError():
		return KindError, ev.Record.Error, time.Time{}
	default:
		return KindSession, "access token " + shared.Redact(ev.Record.AccessToken), ev.Record.ExpiresAt()
	}
}

// RecordTo appends every token event to j from a background goroutine. The subscription is taken
// before it returns, so no event published afterwards is missed.
//
// stop ends the subscription and returns once buffered events are written. Resetting the coordinator
// also ends it.
func (c *Coordinator) RecordTo(j Journal) (stop func()) {
	events, cancel := c.Subscribe()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for ev := range events {
			kind, detail, expiresAt := Describe(ev)
			if err := j.Append(kind, detail, expiresAt); err != nil {
				c.logger.Warn("failed to record token event", "kind", kind, "error", err)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
