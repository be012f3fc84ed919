package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/sptoken/internal/shared"
	"github.com/desertthunder/sptoken/internal/token"
)

// LoginModel shows a spinner until a login attempt produces its first token result, the user cancels,
// or the timeout passes.
type LoginModel struct {
	strategy string
	hint     string
	results  <-chan *token.Record
	timeout  time.Duration
	spinner  spinner.Model
	help     help.Model
	keys     keyMap
	record   *token.Record
	err      error
	done     bool
}

// NewLoginModel waits on results, the one-shot channel returned by [session.Coordinator.StartSession].
//
// hint is shown under the spinner, usually the authorize URL in case the browser did not open. A zero
// timeout waits until cancelled.
func NewLoginModel(strategy, hint string, results <-chan *token.Record, timeout time.Duration) *LoginModel {
	return &LoginModel{
		strategy: strategy,
		hint:     hint,
		results:  results,
		timeout:  timeout,
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(styles.title.UnsetMarginBottom())),
		help:     help.New(),
		keys:     newKeyMap(),
	}
}

// Init starts the spinner and the result wait.
func (m *LoginModel) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, m.waitForResult()}
	if m.timeout > 0 {
		cmds = append(cmds, tea.Tick(m.timeout, func(time.Time) tea.Msg { return loginTimeoutMsg() }))
	}
	return tea.Batch(cmds...)
}

// Update handles incoming messages and updates the model state.
func (m *LoginModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.quit):
			return m.finish(nil, fmt.Errorf("%w: login", shared.ErrCancelled))
		case key.Matches(msg, m.keys.help):
			m.help.ShowAll = !m.help.ShowAll
		}
		return m, nil

	case Msg:
		switch msg.kind {
		case MsgTokenResult:
			rec, _ := msg.data.(*token.Record)
			return m.finish(LoginResult(rec))
		case MsgLoginTimeout:
			return m.finish(nil, fmt.Errorf("%w: no authorization after %s", shared.ErrTimeout, m.timeout))
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *LoginModel) finish(rec *token.Record, err error) (tea.Model, tea.Cmd) {
	if m.done {
		return m, nil
	}
	m.record, m.err, m.done = rec, err, true
	return m, tea.Quit
}

func (m *LoginModel) waitForResult() tea.Cmd {
	return func() tea.Msg {
		return tokenResultMsg(<-m.results)
	}
}

// View renders the waiting screen or the outcome.
func (m *LoginModel) View() string {
	if m.done {
		if m.err != nil {
			return styles.err.Render("✗ "+m.err.Error()) + "\n"
		}
		return styles.ok.Render("✓ Logged in") + " " +
			styles.help.Render(fmt.Sprintf("token expires in %s", Approx(m.record.Remaining()))) + "\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s Waiting for authorization via %s\n", m.spinner.View(), m.strategy)
	if m.hint != "" {
		fmt.Fprintf(&b, "\n%s\n%s\n", styles.help.Render("If nothing opened, visit:"), m.hint)
	}
	b.WriteString("\n" + m.help.View(m.keys))
	return b.String()
}

// LoginResult turns the first token event of a login into its outcome.
func LoginResult(rec *token.Record) (*token.Record, error) {
	switch {
	case rec == nil:
		return nil, fmt.Errorf("%w: session ended before login completed", shared.ErrAuthFailed)
	case rec.IsError():
		return nil, fmt.Errorf("%w: %s", shared.ErrAuthFailed, rec.Error)
	default:
		return rec, nil
	}
}

// Result is the login outcome once the program has exited.
func (m *LoginModel) Result() (*token.Record, error) {
	if !m.done {
		return nil, fmt.Errorf("%w: login", shared.ErrCancelled)
	}
	return m.record, m.err
}
