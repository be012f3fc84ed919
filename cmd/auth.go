package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/sptoken/internal/session"
	"github.com/desertthunder/sptoken/internal/shared"
	"github.com/desertthunder/sptoken/internal/store"
	"github.com/desertthunder/sptoken/internal/strategy"
	"github.com/desertthunder/sptoken/internal/token"
	"github.com/desertthunder/sptoken/internal/ui"
	"github.com/urfave/cli/v3"
)

// Login starts a session with the first strategy that can, or the one named by --browser/--native.
func (r *Runner) Login(ctx context.Context, cmd *cli.Command) error {
	preferred := ""
	switch {
	case cmd.Bool("browser") && cmd.Bool("native"):
		return fmt.Errorf("%w: --browser and --native are mutually exclusive", shared.ErrInvalidArgument)
	case cmd.Bool("browser"):
		preferred = strategy.BrowserName
	case cmd.Bool("native"):
		preferred = strategy.NativeName
	}

	coordinator, err := r.session(ctx)
	if err != nil {
		return err
	}
	if preferred != "" && !coordinator.Prioritize(preferred) {
		return fmt.Errorf("%w: strategy %q is not enabled in [session] strategies", shared.ErrInvalidConfig, preferred)
	}

	via := strings.Join(coordinator.Strategies(), " or ")
	r.logger.Info("starting login", "strategies", via)

	results, err := coordinator.StartSession(ctx, nil)
	if err != nil {
		return err
	}
	rec, err := r.awaitLogin(ctx, results, via, cmd.Duration("timeout"))
	if err != nil {
		return err
	}

	r.writePlain("✓ Logged in\n\n")
	return r.writePlain("%s", ui.RenderStatus(rec, time.Now()))
}

func (r *Runner) awaitLogin(ctx context.Context, results <-chan *token.Record, via string, timeout time.Duration) (*token.Record, error) {
	if r.interactive {
		model := ui.NewLoginModel(via, "", results, timeout)
		p := tea.NewProgram(model, tea.WithOutput(os.Stderr), tea.WithContext(ctx))
		if _, err := p.Run(); err != nil {
			if errors.Is(err, tea.ErrProgramKilled) {
				return nil, fmt.Errorf("%w: login", shared.ErrCancelled)
			}
			return nil, fmt.Errorf("error running login view: %w", err)
		}
		return model.Result()
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	r.logger.Info("waiting for authorization", "timeout", timeout)
	select {
	case rec := <-results:
		return ui.LoginResult(rec)
	case <-expired:
		return nil, fmt.Errorf("%w: no authorization after %s", shared.ErrTimeout, timeout)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: login", shared.ErrCancelled)
	}
}

// Logout ends the session and clears the stored token.
func (r *Runner) Logout(ctx context.Context, cmd *cli.Command) error {
	coordinator, err := r.session(ctx)
	if err != nil {
		return err
	}

	coordinator.Logout()
	r.logger.Info("logged out")
	return r.writePlain("✓ Logged out\n")
}

type statusOutput struct {
	State           string     `json:"state"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	ExpiresIn       int64      `json:"expires_in"`
	HasRefreshToken bool       `json:"has_refresh_token"`
	Error           string     `json:"error,omitempty"`
	Strategies      []string   `json:"strategies"`
}

// Status describes the current session without renewing it.
func (r *Runner) Status(ctx context.Context, cmd *cli.Command) error {
	coordinator, err := r.session(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	rec := coordinator.Current()

	if cmd.Bool("json") {
		out := statusOutput{
			State:      session.StateOf(rec, now).String(),
			Strategies: coordinator.Strategies(),
		}
		if rec != nil {
			out.Error = rec.Error
			out.HasRefreshToken = rec.HasRefreshToken()
			if !rec.IsError() {
				expiresAt := rec.ExpiresAt()
				out.ExpiresAt = &expiresAt
				out.ExpiresIn = int64(rec.RemainingAt(now).Seconds())
			}
		}
		return r.writeJSON(out, cmd.Bool("pretty"))
	}

	r.writePlain("%s", ui.RenderStatus(rec, now))
	return r.writePlain("%s\n", "Strategies: "+strings.Join(coordinator.Strategies(), ", "))
}

// Token prints an access token that is valid right now.
func (r *Runner) Token(ctx context.Context, cmd *cli.Command) error {
	coordinator, err := r.session(ctx)
	if err != nil {
		return err
	}

	accessToken, err := coordinator.UsableToken(ctx)
	if err != nil {
		return apiError(err)
	}
	return r.writePlain("%s\n", accessToken)
}

// Watch keeps the process alive so the renewal timer fires, printing every token event.
func (r *Runner) Watch(ctx context.Context, cmd *cli.Command) error {
	coordinator, err := r.session(ctx)
	if err != nil {
		return err
	}

	events, cancel := coordinator.Subscribe()
	defer cancel()

	r.writePlainHeader("Watching session (ctrl+c to stop)")
	r.writePlain("%s\n", ui.RenderStatus(coordinator.Current(), time.Now()))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("stopped watching")
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			r.writePlain("%s\n", ui.RenderEvent(ev))
		}
	}
}

// History prints recent token events from the event log.
func (r *Runner) History(ctx context.Context, cmd *cli.Command) error {
	db, err := r.database()
	if err != nil {
		return err
	}
	journal := r.events
	if journal == nil {
		journal = store.NewEventLog(db)
	}

	if age := cmd.Duration("prune"); age > 0 {
		n, err := journal.Prune(age)
		if err != nil {
			return err
		}
		r.logger.Info("pruned token events", "count", n, "older_than", age)
	}

	events, err := journal.Recent(int(cmd.Int("limit")))
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(events, cmd.Bool("pretty"))
	}

	if len(events) == 0 {
		return r.writePlain("No token events recorded.\n")
	}

	for _, ev := range events {
		line := fmt.Sprintf("%s  %-8s %s", ev.CreatedAt.Local().Format(time.DateTime), ev.Kind, ev.Detail)
		if ev.ExpiresAt != nil {
			line += fmt.Sprintf(" (expires %s)", ev.ExpiresAt.Local().Format(time.TimeOnly))
		}
		r.writePlain("%s\n", line)
	}
	return nil
}

// DebugExpire shortens the current token's lifetime to exercise renewal.
func (r *Runner) DebugExpire(ctx context.Context, cmd *cli.Command) error {
	raw := cmd.StringArg("ttl")
	if raw == "" {
		return fmt.Errorf("%w: ttl", shared.ErrMissingArgument)
	}
	ttl, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%w: ttl: %v", shared.ErrInvalidArgument, err)
	}

	coordinator, err := r.session(ctx)
	if err != nil {
		return err
	}
	if err := coordinator.Debug().ExpireIn(ttl); err != nil {
		return apiError(err)
	}
	return r.writePlain("%s", ui.RenderStatus(coordinator.Current(), time.Now()))
}

// DebugInject feeds an error result into the session, which logs it out.
func (r *Runner) DebugInject(ctx context.Context, cmd *cli.Command) error {
	message := cmd.StringArg("message")
	if message == "" {
		message = "injected error"
	}

	coordinator, err := r.session(ctx)
	if err != nil {
		return err
	}
	coordinator.Debug().InjectError(message)
	return r.writePlain("%s", ui.RenderStatus(coordinator.Current(), time.Now()))
}

// DebugRenew renews immediately, through one strategy when --strategy is set.
func (r *Runner) DebugRenew(ctx context.Context, cmd *cli.Command) error {
	coordinator, err := r.session(ctx)
	if err != nil {
		return err
	}

	var rec *token.Record
	if name := cmd.String("strategy"); name != "" {
		rec, err = coordinator.Debug().ForceRenewWith(ctx, name)
	} else {
		rec, err = coordinator.Debug().ForceRenew(ctx)
	}
	if err != nil {
		return apiError(err)
	}
	return r.writePlain("%s", ui.RenderStatus(rec, time.Now()))
}
