package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/sptoken/internal/api"
	"github.com/desertthunder/sptoken/internal/exchange"
	"github.com/desertthunder/sptoken/internal/handoff"
	"github.com/desertthunder/sptoken/internal/session"
	"github.com/desertthunder/sptoken/internal/shared"
	"github.com/desertthunder/sptoken/internal/store"
	"github.com/desertthunder/sptoken/internal/strategy"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// The session stack is built on first use so that setup and relay commands never touch the token store.
type Runner struct {
	config      *shared.Config
	configPath  string
	httpClient  *http.Client
	logger      *log.Logger
	output      io.Writer
	opener      shared.Opener
	interactive bool

	store       store.Store
	db          *sql.DB
	events      *store.EventLog
	coordinator *session.Coordinator
	appListener *strategy.SystemBrowser
	api         *api.Client

	stopRecording func()
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
	// Opener shows authorization URLs. Defaults to the system browser.
	Opener shared.Opener
	// Store replaces the configured token store.
	Store store.Store
	// Interactive enables the terminal login view. Defaults to whether stderr is a terminal.
	Interactive *bool
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	interactive := isatty.IsTerminal(os.Stderr.Fd())
	if opts.Interactive != nil {
		interactive = *opts.Interactive
	}

	r := &Runner{
		config:      opts.Config,
		configPath:  opts.ConfigPath,
		httpClient:  opts.HTTPClient,
		logger:      opts.Logger,
		output:      opts.Output,
		interactive: interactive,
		store:       opts.Store,
	}
	r.opener = opts.Opener
	if r.opener == nil {
		r.opener = r.openBrowser
	}
	return r
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, loginCommand, logoutCommand, statusCommand, tokenCommand, watchCommand, historyCommand,
		meCommand, playlistsCommand, searchCommand, queueCommand, playingCommand, callCommand,
		relayCommand, debugCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// configure replaces the configuration resolved from flags, file and environment.
func (r *Runner) configure(config *shared.Config, path string) {
	r.config = config
	r.configPath = path
}

// SetLogger swaps the logger, e.g. while a full screen view owns the terminal.
func (r *Runner) SetLogger(l *log.Logger) {
	r.logger = l
}

// openBrowser opens u, falling back to printing it so the user can finish by hand.
func (r *Runner) openBrowser(u string) error {
	if err := shared.OpenBrowser(u); err != nil {
		r.logger.Warn("could not open a browser", "error", err)
		return r.writePlain("Open this URL to continue:\n\n  %s\n\n", u)
	}
	return nil
}

// database opens and migrates the configured database once.
func (r *Runner) database() (*sql.DB, error) {
	if r.db != nil {
		return r.db, nil
	}
	db, err := shared.OpenDatabase(r.config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	r.db = db
	return db, nil
}

// session builds the coordinator with its strategies, API client and event journal, then restores the
// stored session.
func (r *Runner) session(ctx context.Context) (*session.Coordinator, error) {
	if r.coordinator != nil {
		return r.coordinator, nil
	}
	if err := r.config.Validate(false); err != nil {
		return nil, err
	}

	logger := r.logger
	spotify := r.config.Credentials.Spotify

	st := r.store
	if st == nil {
		var db *sql.DB
		if r.config.Storage.Driver == "" || r.config.Storage.Driver == "sqlite" {
			var err error
			if db, err = r.database(); err != nil {
				return nil, err
			}
			r.events = store.NewEventLog(db)
		}

		var err error
		if st, err = store.Open(r.config.Storage, db, shared.WithLogger(logger, "component", "store")); err != nil {
			return nil, err
		}
	}

	relayClient, err := exchange.New(exchange.Options{
		BaseURL:    r.config.Relay.URL,
		HTTPClient: r.httpClient,
		Logger:     shared.WithLogger(logger, "component", "exchange"),
	})
	if err != nil {
		return nil, err
	}

	coordinator, err := session.New(session.Options{
		Store:            st,
		Logger:           shared.WithLogger(logger, "component", "coordinator"),
		ResultTimeout:    r.config.Session.ResultTimeout,
		MinRenewInterval: r.config.Session.MinRenewInterval,
	})
	if err != nil {
		return nil, err
	}

	callback := func(ctx context.Context, u *url.URL) bool {
		return coordinator.HandleCallback(ctx, u, strategy.CallbackOptions{Source: "loopback"})
	}
	surface := strategy.NewSystemBrowser(spotify.RedirectURI, callback, r.opener, shared.WithLogger(logger, "component", "callback"))

	browser := strategy.NewBrowserRedirect(strategy.BrowserConfig{
		ClientID:    spotify.ClientID,
		RedirectURI: spotify.RedirectURI,
		Scopes:      spotify.Scopes,
	}, relayClient,
		strategy.WithDefaultSurface(surface),
		strategy.WithBrowserLogger(shared.WithLogger(logger, "strategy", strategy.BrowserName)),
	)

	// The app redirects to the same loopback URI, so launching it also starts a listener.
	r.appListener = strategy.NewSystemBrowser(spotify.RedirectURI, callback,
		shared.LaunchWith(r.config.Native.Launcher), shared.WithLogger(logger, "component", "callback"))
	manager := handoff.NewManager(handoff.Config{
		ClientID:    spotify.ClientID,
		RedirectURI: spotify.RedirectURI,
		Launcher:    r.config.Native.Launcher,
	}, relayClient,
		handoff.WithOpener(func(authURL string) error { return r.appListener.Present(ctx, authURL) }),
		handoff.WithLogger(shared.WithLogger(logger, "component", "handoff")),
	)
	native := strategy.NewNativeHandoff(manager, spotify.Scopes, shared.WithLogger(logger, "strategy", strategy.NativeName))

	strategies, err := orderStrategies(r.config.Session.Strategies, native, browser)
	if err != nil {
		return nil, err
	}
	coordinator.SetStrategies(strategies...)

	r.api = api.New(coordinator, api.Options{
		BaseURL:   r.config.API.BaseURL,
		Timeout:   r.config.API.Timeout,
		RateLimit: r.config.API.RateLimit,
		Logger:    shared.WithLogger(logger, "component", "api"),
	})
	coordinator.RegisterCache(r.api)

	if r.events != nil {
		r.stopRecording = coordinator.RecordTo(r.events)
	}

	state := coordinator.Setup(ctx)
	logger.Debug("session ready", "state", state, "strategies", coordinator.Strategies())

	r.coordinator = coordinator
	return coordinator, nil
}

// orderStrategies arranges the available strategies by configured name. An empty order keeps them all.
func orderStrategies(names []string, available ...strategy.Strategy) ([]strategy.Strategy, error) {
	if len(names) == 0 {
		return available, nil
	}

	byName := make(map[string]strategy.Strategy, len(available))
	for _, s := range available {
		byName[s.Name()] = s
	}

	ordered := make([]strategy.Strategy, 0, len(names))
	for _, name := range names {
		s, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown strategy %q", shared.ErrInvalidConfig, name)
		}
		ordered = append(ordered, s)
		delete(byName, name)
	}
	return ordered, nil
}

// client returns the Web API client, building the session first.
func (r *Runner) client(ctx context.Context) (*api.Client, error) {
	if _, err := r.session(ctx); err != nil {
		return nil, err
	}
	return r.api, nil
}

// Close stops the session and releases the database.
func (r *Runner) Close() error {
	if r.coordinator != nil {
		r.coordinator.Reset()
	}
	if r.appListener != nil {
		r.appListener.Dismiss()
	}
	if r.stopRecording != nil {
		r.stopRecording()
		r.stopRecording = nil
	}
	if r.db != nil {
		err := r.db.Close()
		r.db = nil
		return err
	}
	return nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}

// apiError adds a hint to errors the user can fix by logging in.
func apiError(err error) error {
	if errors.Is(err, shared.ErrSessionNotFound) || api.IsUnauthorized(err) {
		return fmt.Errorf("%w (run `sptoken login`)", err)
	}
	return err
}
