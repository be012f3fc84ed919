package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/sptoken/internal/session"
	"github.com/desertthunder/sptoken/internal/shared"
	"github.com/desertthunder/sptoken/internal/token"
)

// RenderStatus describes rec for the status command. Tokens are redacted.
func RenderStatus(rec *token.Record, now time.Time) string {
	state := session.StateOf(rec, now)

	var b strings.Builder
	row := func(label, value string) {
		b.WriteString(styles.label.Render(label) + value + "\n")
	}

	row("Session", styles.State(state).Render(state.String()))
	if rec == nil {
		b.WriteString("\n" + styles.help.Render("Run `sptoken login` to start a session.") + "\n")
		return b.String()
	}
	if rec.IsError() {
		row("Error", styles.err.Render(rec.Error))
		return b.String()
	}

	row("Access", shared.Redact(rec.AccessToken))
	if rec.HasRefreshToken() {
		row("Refresh", "present")
	} else {
		row("Refresh", styles.warn.Render("none"))
	}

	expires := rec.ExpiresAt()
	if remaining := rec.RemainingAt(now); remaining > 0 {
		row("Expires", fmt.Sprintf("%s (in %s)", expires.Local().Format(time.DateTime), Approx(remaining)))
		row("Renewal", "in "+Approx(rec.RenewalDelayAt(now)))
	} else {
		row("Expired", fmt.Sprintf("%s (%s ago)", expires.Local().Format(time.DateTime), Approx(now.Sub(expires))))
	}
	return b.String()
}

// RenderEvent formats one token change as a single line for the watch command.
func RenderEvent(ev session.Event) string {
	at := styles.help.Render(ev.At.Local().Format(time.TimeOnly))
	switch {
	case ev.LoggedOut():
		return fmt.Sprintf("%s %s", at, styles.State(session.NoSession).Render("logged out"))
	case ev.Record.IsError():
		return fmt.Sprintf("%s %s %s", at, styles.err.Render("error"), ev.Record.Error)
	default:
		return fmt.Sprintf("%s %s %s expires in %s", at,
			styles.State(ev.State).Render(ev.State.String()),
			shared.Redact(ev.Record.AccessToken),
			Approx(ev.Record.RemainingAt(ev.At)),
		)
	}
}

// Approx rounds d for display: seconds under a minute, minutes otherwise.
func Approx(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return d.Round(time.Second).String()
	}
	return strings.TrimSuffix(d.Round(time.Minute).String(), "0s")
}
