package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/sptoken/internal/relay"
	"github.com/desertthunder/sptoken/internal/shared"
	"github.com/desertthunder/sptoken/internal/store"
	"github.com/desertthunder/sptoken/internal/strategy"
	tu "github.com/desertthunder/sptoken/internal/testing"
	"github.com/desertthunder/sptoken/internal/token"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

// failAfter accepts n writes and fails the rest.
type failAfter struct {
	n   int
	buf bytes.Buffer
}

func (w *failAfter) Write(p []byte) (int, error) {
	if w.n <= 0 {
		return 0, errors.New("write failed")
	}
	w.n--
	return w.buf.Write(p)
}

type namedStrategy struct {
	strategy.Strategy
	name string
}

func (s namedStrategy) Name() string { return s.name }

func TestRunner(t *testing.T) {
	t.Run("NewRunner", func(t *testing.T) {
		t.Run("with all dependencies provided", func(t *testing.T) {
			config := shared.DefaultConfig()
			logger := shared.NewLogger(nil)
			output := &bytes.Buffer{}
			httpClient := &http.Client{}
			st := store.New(store.NewMemoryBackend())
			interactive := true

			runner := NewRunner(RunnerOpts{
				Config:      config,
				ConfigPath:  "/path/to/config.toml",
				Logger:      logger,
				Output:      output,
				HTTPClient:  httpClient,
				Store:       st,
				Interactive: &interactive,
			})

			if runner.config != config {
				t.Error("expected config to be set")
			}
			if runner.logger != logger {
				t.Error("expected logger to be set")
			}
			if runner.output != output {
				t.Error("expected output to be set")
			}
			if runner.httpClient != httpClient {
				t.Error("expected httpClient to be set")
			}
			if runner.store != st {
				t.Error("expected store to be set")
			}
			if !runner.interactive {
				t.Error("expected interactive to be set")
			}
			if runner.configPath != "/path/to/config.toml" {
				t.Errorf("expected configPath to be set, got %q", runner.configPath)
			}
		})

		t.Run("with nil options uses defaults", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{})

			if runner.config == nil {
				t.Error("expected default config to be set")
			}
			if runner.logger == nil {
				t.Error("expected default logger to be set")
			}
			if runner.output == nil {
				t.Error("expected default output to be set")
			}
			if runner.httpClient != http.DefaultClient {
				t.Error("expected default http client")
			}
			if runner.opener == nil {
				t.Error("expected default opener")
			}
			if runner.coordinator != nil {
				t.Error("expected the session to be built lazily")
			}
		})
	})

	t.Run("writeJSON", func(t *testing.T) {
		t.Run("writes formatted JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			err := runner.writeJSON(map[string]string{"state": "valid"}, true)

			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			result := output.String()
			if !strings.Contains(result, `"state": "valid"`) {
				t.Errorf("expected formatted JSON, got %s", result)
			}
			if !strings.HasSuffix(result, "\n") {
				t.Error("expected output to end with newline")
			}
		})

		t.Run("writes compact JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			err := runner.writeJSON(map[string]string{"state": "valid"}, false)

			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if got := output.String(); got != `{"state":"valid"}`+"\n" {
				t.Errorf("unexpected output %q", got)
			}
		})

		t.Run("handles marshal error with non-serializable data", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &bytes.Buffer{}})

			err := runner.writeJSON(make(chan int), false)

			if err == nil || !strings.Contains(err.Error(), "failed to marshal JSON") {
				t.Errorf("expected marshal error, got %v", err)
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)

			if err == nil || !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})

		t.Run("handles newline write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &failAfter{n: 1}})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)

			if err == nil || !strings.Contains(err.Error(), "failed to write newline") {
				t.Errorf("expected newline write error, got %v", err)
			}
		})
	})

	t.Run("writePlain", func(t *testing.T) {
		t.Run("writes plain text successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writePlain("hello %s", "world"); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if output.String() != "hello world" {
				t.Errorf("expected 'hello world', got %q", output.String())
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}})

			err := runner.writePlain("test")

			if err == nil || !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})

		t.Run("writePlainln pads with newlines", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			require.NoError(t, runner.writePlainln("done"))
			require.Equal(t, "\ndone\n", output.String())
		})
	})

	t.Run("register", func(t *testing.T) {
		runner := NewRunner(RunnerOpts{})
		commands := runner.register()

		seen := map[string]bool{}
		for _, cmd := range commands {
			if cmd == nil {
				t.Fatal("expected non-nil command")
			}
			if seen[cmd.Name] {
				t.Errorf("duplicate command %q", cmd.Name)
			}
			seen[cmd.Name] = true
		}
		for _, name := range []string{"setup", "login", "logout", "status", "token", "watch", "history", "me", "call", "relay"} {
			if !seen[name] {
				t.Errorf("expected command %q to be registered", name)
			}
		}
	})
}

func TestOrderStrategies(t *testing.T) {
	native := namedStrategy{name: strategy.NativeName}
	browser := namedStrategy{name: strategy.BrowserName}

	names := func(list []strategy.Strategy) []string {
		out := make([]string, len(list))
		for i, s := range list {
			out[i] = s.Name()
		}
		return out
	}

	t.Run("empty order keeps all", func(t *testing.T) {
		got, err := orderStrategies(nil, native, browser)
		require.NoError(t, err)
		require.Equal(t, []string{"native", "browser"}, names(got))
	})

	t.Run("configured order and subset", func(t *testing.T) {
		got, err := orderStrategies([]string{"browser", "native"}, native, browser)
		require.NoError(t, err)
		require.Equal(t, []string{"browser", "native"}, names(got))

		got, err = orderStrategies([]string{"browser"}, native, browser)
		require.NoError(t, err)
		require.Equal(t, []string{"browser"}, names(got))
	})

	t.Run("unknown or repeated name", func(t *testing.T) {
		_, err := orderStrategies([]string{"implicit"}, native, browser)
		require.ErrorIs(t, err, shared.ErrInvalidConfig)

		_, err = orderStrategies([]string{"browser", "browser"}, native, browser)
		require.ErrorIs(t, err, shared.ErrInvalidConfig)
	})
}

func TestSplitPath(t *testing.T) {
	tests := []struct {
		raw   string
		path  string
		query url.Values
	}{
		{raw: "/me", path: "/me", query: url.Values{}},
		{raw: "me/playlists?limit=5", path: "/me/playlists", query: url.Values{"limit": {"5"}}},
		{raw: "https://api.spotify.com/v1/me/player/queue?uri=spotify:track:1", path: "/me/player/queue", query: url.Values{"uri": {"spotify:track:1"}}},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			path, query, err := splitPath(tt.raw)
			require.NoError(t, err)
			require.Equal(t, tt.path, path)
			require.Equal(t, tt.query, query)
		})
	}

	t.Run("invalid", func(t *testing.T) {
		_, _, err := splitPath("%zz")
		require.ErrorIs(t, err, shared.ErrInvalidArgument)
	})
}

func TestApiError(t *testing.T) {
	err := apiError(fmt.Errorf("wrapped: %w", shared.ErrSessionNotFound))
	require.ErrorIs(t, err, shared.ErrSessionNotFound)
	require.Contains(t, err.Error(), "sptoken login")

	plain := errors.New("boom")
	require.Equal(t, plain, apiError(plain))
}

// freeRedirectURI reserves a loopback port for the callback listener.
func freeRedirectURI(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return "http://" + addr + "/callback"
}

// fakeAccounts stands in for the accounts service behind the relay.
func fakeAccounts(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, secret, ok := r.BasicAuth()
		if !ok || id != "client" || secret != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"error":"invalid_client"}`)
			return
		}
		require.NoError(t, r.ParseForm())

		w.Header().Set("Content-Type", "application/json")
		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			if r.PostForm.Get("code") != "the-code" {
				w.WriteHeader(http.StatusBadRequest)
				io.WriteString(w, `{"error":"invalid_grant"}`)
				return
			}
			io.WriteString(w, `{"access_token":"AT1-abcdefghij","token_type":"Bearer","expires_in":3600,"refresh_token":"RT1","scope":"streaming"}`)
		case "refresh_token":
			io.WriteString(w, `{"access_token":"AT2-abcdefghij","token_type":"Bearer","expires_in":3600}`)
		default:
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"error":"unsupported_grant_type"}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// newRelay serves a real relay in front of accounts.
func newRelay(t *testing.T, accounts *httptest.Server, redirectURI string) *httptest.Server {
	t.Helper()
	h, err := relay.NewHandler(relay.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURI:  redirectURI,
		TokenURL:     accounts.URL,
		HTTPClient:   accounts.Client(),
	}, nil)
	require.NoError(t, err)

	srv := httptest.NewServer(relay.NewRouter(h, 0, nil))
	t.Cleanup(srv.Close)
	return srv
}

// approve plays the browser: it answers the authorize URL by hitting the redirect with a code.
func approve(t *testing.T, code string) shared.Opener {
	return func(authURL string) error {
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		q := u.Query()
		callback := q.Get("redirect_uri") + "?" + url.Values{"code": {code}, "state": {q.Get("state")}}.Encode()

		go func() {
			resp, err := http.Get(callback)
			if err != nil {
				t.Errorf("callback request failed: %v", err)
				return
			}
			resp.Body.Close()
		}()
		return nil
	}
}

func newTestConfig(t *testing.T, redirectURI, relayURL string) *shared.Config {
	config := shared.DefaultConfig()
	config.Credentials.Spotify.ClientID = "client"
	config.Credentials.Spotify.RedirectURI = redirectURI
	config.Relay.URL = relayURL
	config.Session.Strategies = []string{strategy.BrowserName}
	config.Session.ResultTimeout = 5 * time.Second
	config.Storage.Driver = "sqlite"
	config.Database.Path = filepath.Join(t.TempDir(), "sptoken.db")
	return config
}

func runCommand(t *testing.T, r *Runner, args ...string) error {
	t.Helper()
	app := &cli.Command{Name: "sptoken", Commands: r.register()}
	return app.Run(context.Background(), append([]string{"sptoken"}, args...))
}

func TestLoginFlow(t *testing.T) {
	redirectURI := freeRedirectURI(t)
	relaySrv := newRelay(t, fakeAccounts(t), redirectURI)
	config := newTestConfig(t, redirectURI, relaySrv.URL)
	interactive := false

	newRunner := func(output io.Writer, opener shared.Opener) *Runner {
		r := NewRunner(RunnerOpts{
			Config:      config,
			Output:      output,
			Logger:      shared.DiscardLogger(),
			Opener:      opener,
			Interactive: &interactive,
		})
		t.Cleanup(func() { r.Close() })
		return r
	}

	t.Run("login through the browser and the relay", func(t *testing.T) {
		output := &bytes.Buffer{}
		r := newRunner(output, approve(t, "the-code"))

		require.NoError(t, runCommand(t, r, "login", "--browser", "--timeout", "5s"))
		require.Contains(t, output.String(), "Logged in")
		require.Equal(t, "AT1-abcdefghij", r.coordinator.AccessToken())
		require.Equal(t, "RT1", r.coordinator.RefreshToken())

		output.Reset()
		require.NoError(t, runCommand(t, r, "token"))
		require.Equal(t, "AT1-abcdefghij\n", output.String())

		require.NoError(t, r.Close())
	})

	t.Run("a new process restores the stored session", func(t *testing.T) {
		output := &bytes.Buffer{}
		r := newRunner(output, nil)

		require.NoError(t, runCommand(t, r, "status", "--json"))
		var status statusOutput
		require.NoError(t, json.Unmarshal(output.Bytes(), &status))
		require.Equal(t, "valid", status.State)
		require.True(t, status.HasRefreshToken)
		require.Greater(t, status.ExpiresIn, int64(3000))
		require.Equal(t, []string{"browser"}, status.Strategies)
	})

	t.Run("history lists the recorded session", func(t *testing.T) {
		output := &bytes.Buffer{}
		r := newRunner(output, nil)

		require.NoError(t, runCommand(t, r, "history", "--json"))
		var events []store.Event
		require.NoError(t, json.Unmarshal(output.Bytes(), &events))
		require.NotEmpty(t, events)
		require.Equal(t, "session", events[0].Kind)
		require.NotContains(t, output.String(), "AT1-abcdefghij")
	})

	t.Run("debug renew goes through the relay", func(t *testing.T) {
		output := &bytes.Buffer{}
		r := newRunner(output, nil)

		require.NoError(t, runCommand(t, r, "debug", "renew"))
		require.Equal(t, "AT2-abcdefghij", r.coordinator.AccessToken())
		require.Equal(t, "RT1", r.coordinator.RefreshToken(), "unrotated refresh token is kept")
	})

	t.Run("logout clears the store", func(t *testing.T) {
		output := &bytes.Buffer{}
		r := newRunner(output, nil)

		require.NoError(t, runCommand(t, r, "logout"))
		require.Contains(t, output.String(), "Logged out")
		require.NoError(t, r.Close())

		output.Reset()
		r = newRunner(output, nil)
		require.NoError(t, runCommand(t, r, "status", "--json"))
		require.Contains(t, output.String(), `"state": "no session"`)
	})

	t.Run("rejected code fails the login", func(t *testing.T) {
		r := newRunner(&bytes.Buffer{}, approve(t, "wrong"))

		err := runCommand(t, r, "login", "--timeout", "5s")
		require.ErrorIs(t, err, shared.ErrAuthFailed)
		require.Contains(t, err.Error(), "invalid_grant")
	})

	t.Run("fails at once when no strategy can start", func(t *testing.T) {
		unavailable := func(string) error { return errors.New("no browser") }
		r := newRunner(&bytes.Buffer{}, unavailable)

		started := time.Now()
		err := runCommand(t, r, "login", "--timeout", "1m")
		require.ErrorIs(t, err, shared.ErrSessionNotFound)
		require.Less(t, time.Since(started), 5*time.Second)
	})

	t.Run("conflicting flags", func(t *testing.T) {
		r := newRunner(&bytes.Buffer{}, nil)

		err := runCommand(t, r, "login", "--browser", "--native")
		require.ErrorIs(t, err, shared.ErrInvalidArgument)
	})

	t.Run("native is not enabled", func(t *testing.T) {
		r := newRunner(&bytes.Buffer{}, nil)

		err := runCommand(t, r, "login", "--native")
		require.ErrorIs(t, err, shared.ErrInvalidConfig)
	})
}

func TestSpotifyCommands(t *testing.T) {
	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer AT-stored-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/me":
			io.WriteString(w, `{"id":"u1","display_name":"Listener","country":"NL","product":"premium","followers":{"total":3}}`)
		case "/me/player/queue":
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(apiSrv.Close)

	newRunner := func(t *testing.T, output io.Writer) *Runner {
		config := shared.DefaultConfig()
		config.Credentials.Spotify.ClientID = "client"
		config.Session.Strategies = []string{strategy.BrowserName}
		config.API.BaseURL = apiSrv.URL
		config.API.RateLimit = 0

		st := store.New(store.NewMemoryBackend())
		require.NoError(t, st.Save(token.New("AT-stored-token", "RT", time.Hour, time.Time{})))

		interactive := false
		r := NewRunner(RunnerOpts{
			Config:      config,
			Output:      output,
			Logger:      shared.DiscardLogger(),
			Store:       st,
			Interactive: &interactive,
		})
		t.Cleanup(func() { r.Close() })
		return r
	}

	t.Run("me", func(t *testing.T) {
		output := &bytes.Buffer{}
		r := newRunner(t, output)

		require.NoError(t, runCommand(t, r, "me"))
		require.Contains(t, output.String(), "Listener (u1)")
		require.Contains(t, output.String(), "Followers: 3")
	})

	t.Run("call", func(t *testing.T) {
		output := &bytes.Buffer{}
		r := newRunner(t, output)

		require.NoError(t, runCommand(t, r, "call", "get", "/me"))
		require.Contains(t, output.String(), `"display_name": "Listener"`)

		output.Reset()
		require.NoError(t, runCommand(t, r, "call", "POST", "/me/player/queue?uri=spotify:track:1"))
		require.Equal(t, "✓ 204\n", output.String())
	})

	t.Run("call validates input", func(t *testing.T) {
		r := newRunner(t, &bytes.Buffer{})

		require.ErrorIs(t, runCommand(t, r, "call", "TRACE", "/me"), shared.ErrInvalidArgument)
		require.ErrorIs(t, runCommand(t, r, "call", "--data", "{", "PUT", "/me"), shared.ErrInvalidInput)
	})

	t.Run("status without a session", func(t *testing.T) {
		output := &bytes.Buffer{}
		interactive := false
		config := shared.DefaultConfig()
		config.Credentials.Spotify.ClientID = "client"
		r := NewRunner(RunnerOpts{
			Config:      config,
			Output:      output,
			Logger:      shared.DiscardLogger(),
			Store:       store.New(store.NewMemoryBackend()),
			Interactive: &interactive,
		})
		t.Cleanup(func() { r.Close() })

		require.NoError(t, runCommand(t, r, "status"))
		require.Contains(t, output.String(), "sptoken login")
		require.Contains(t, output.String(), "Strategies: native, browser")
	})
}

func TestRelayServe(t *testing.T) {
	t.Run("requires the client secret", func(t *testing.T) {
		config := shared.DefaultConfig()
		r := NewRunner(RunnerOpts{Config: config, Output: &bytes.Buffer{}, Logger: shared.DiscardLogger()})

		err := runCommand(t, r, "relay", "serve")
		require.ErrorIs(t, err, shared.ErrMissingCredentials)
	})

	t.Run("rejects an out of range port", func(t *testing.T) {
		config := shared.DefaultConfig()
		config.Credentials.Spotify.ClientSecret = "secret"
		config.Relay.Port = 70000
		r := NewRunner(RunnerOpts{Config: config, Output: &bytes.Buffer{}, Logger: shared.DiscardLogger()})

		err := runCommand(t, r, "relay", "serve")
		require.ErrorIs(t, err, shared.ErrInvalidConfig)
	})
}

func TestSetup(t *testing.T) {
	t.Run("config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.toml")
		output := &bytes.Buffer{}
		r := NewRunner(RunnerOpts{ConfigPath: path, Output: output, Logger: shared.DiscardLogger()})

		require.NoError(t, runCommand(t, r, "setup", "config"))
		tu.AssertFileExists(t, path)
		require.Contains(t, tu.MustReadFile(t, path), "[credentials.spotify]")
		require.Contains(t, output.String(), "Config written to "+path)

		require.Error(t, runCommand(t, r, "setup", "config"), "existing file is not overwritten")
	})

	t.Run("database", func(t *testing.T) {
		config := shared.DefaultConfig()
		config.Database.Path = filepath.Join(t.TempDir(), "sptoken.db")
		output := &bytes.Buffer{}
		r := NewRunner(RunnerOpts{Config: config, Output: output, Logger: shared.DiscardLogger()})
		t.Cleanup(func() { r.Close() })

		require.NoError(t, runCommand(t, r, "setup", "database"))
		tu.AssertFileExists(t, config.Database.Path)
		require.Contains(t, output.String(), "schema version 2")
	})
}
