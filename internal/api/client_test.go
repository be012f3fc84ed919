package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/desertthunder/sptoken/internal/shared"
	"github.com/desertthunder/sptoken/internal/token"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	mu      sync.Mutex
	access  string
	refresh string
	next    string
	err     error
	renews  int
}

func (s *fakeSession) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.access
}

func (s *fakeSession) RefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refresh
}

func (s *fakeSession) Renew(context.Context) (*token.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renews++
	if s.err != nil {
		return nil, s.err
	}
	s.access = s.next
	rec := token.New(s.next, s.refresh, time.Hour, time.Time{})
	return &rec, nil
}

func (s *fakeSession) renewCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renews
}

func newClient(t *testing.T, session Session, handler http.HandlerFunc) (*Client, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	return New(session, Options{BaseURL: srv.URL, HTTPClient: srv.Client()}), &hits
}

func bearer(r *http.Request) string {
	return r.Header.Get("Authorization")
}

func TestDo(t *testing.T) {
	ctx := context.Background()

	t.Run("no session fails fast", func(t *testing.T) {
		c, hits := newClient(t, &fakeSession{}, func(w http.ResponseWriter, r *http.Request) {})

		_, err := c.Do(ctx, Request{Path: "/me"}, nil)
		require.ErrorIs(t, err, shared.ErrSessionNotFound)
		require.Zero(t, hits.Load())
	})

	t.Run("sends bearer token and decodes JSON", func(t *testing.T) {
		c, _ := newClient(t, &fakeSession{access: "AT1"}, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "Bearer AT1", bearer(r))
			require.Equal(t, "application/json", r.Header.Get("Content-Type"))
			require.Equal(t, "/me", r.URL.Path)
			io.WriteString(w, `{"id":"u1","display_name":"Ada","product":"premium"}`)
		})

		var user User
		resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: "me"}, &user)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.Status)
		require.False(t, resp.NoContent)
		require.Equal(t, "Ada", user.DisplayName)
	})

	t.Run("no content statuses skip decoding", func(t *testing.T) {
		for _, status := range []int{http.StatusCreated, http.StatusNoContent} {
			c, _ := newClient(t, &fakeSession{access: "AT1"}, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
			})

			var out map[string]any
			resp, err := c.Do(ctx, Request{Method: http.MethodPost, Path: "/me/player/queue"}, &out)
			require.NoError(t, err)
			require.True(t, resp.NoContent)
			require.Equal(t, status, resp.Status)
			require.Nil(t, out)
		}
	})

	t.Run("401 renews once and retries", func(t *testing.T) {
		s := &fakeSession{access: "AT1", refresh: "RT1", next: "AT2"}
		c, hits := newClient(t, s, func(w http.ResponseWriter, r *http.Request) {
			if bearer(r) != "Bearer AT2" {
				w.WriteHeader(http.StatusUnauthorized)
				io.WriteString(w, `{"error":{"status":401,"message":"The access token expired"}}`)
				return
			}
			io.WriteString(w, `{"id":"u1"}`)
		})

		var user User
		_, err := c.Do(ctx, Request{Path: "/me"}, &user)
		require.NoError(t, err)
		require.Equal(t, "u1", user.ID)
		require.Equal(t, 1, s.renewCount())
		require.EqualValues(t, 2, hits.Load())
	})

	t.Run("second 401 is surfaced", func(t *testing.T) {
		s := &fakeSession{access: "AT1", refresh: "RT1", next: "AT2"}
		c, hits := newClient(t, s, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"error":{"status":401,"message":"Invalid access token"}}`)
		})

		_, err := c.Do(ctx, Request{Path: "/me"}, nil)
		var regular *shared.RegularError
		require.ErrorAs(t, err, &regular)
		require.Equal(t, http.StatusUnauthorized, regular.Status)
		require.True(t, IsUnauthorized(err))
		require.Equal(t, 1, s.renewCount())
		require.EqualValues(t, 2, hits.Load())
	})

	t.Run("401 without refresh token is not retried", func(t *testing.T) {
		s := &fakeSession{access: "AT1"}
		c, hits := newClient(t, s, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})

		_, err := c.Do(ctx, Request{Path: "/me"}, nil)
		require.True(t, IsUnauthorized(err))
		require.Zero(t, s.renewCount())
		require.EqualValues(t, 1, hits.Load())
	})

	t.Run("failed renewal surfaces the 401", func(t *testing.T) {
		s := &fakeSession{access: "AT1", refresh: "RT1", err: shared.ErrRefreshFailed}
		c, hits := newClient(t, s, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})

		_, err := c.Do(ctx, Request{Path: "/me"}, nil)
		require.True(t, IsUnauthorized(err))
		require.EqualValues(t, 1, hits.Load())
	})

	t.Run("error statuses", func(t *testing.T) {
		cases := []struct {
			name   string
			status int
			body   string
			check  func(t *testing.T, err error)
		}{
			{
				name:   "structured body",
				status: http.StatusNotFound,
				body:   `{"error":{"status":404,"message":"Non existing id"}}`,
				check: func(t *testing.T, err error) {
					var regular *shared.RegularError
					require.ErrorAs(t, err, &regular)
					require.Equal(t, 404, regular.Status)
					require.Equal(t, "Non existing id", regular.Message)
				},
			},
			{
				name:   "plain body",
				status: http.StatusBadGateway,
				body:   "upstream down",
				check: func(t *testing.T, err error) {
					var unsupported *shared.UnsupportedStatusError
					require.ErrorAs(t, err, &unsupported)
					require.Equal(t, http.StatusBadGateway, unsupported.Code)
				},
			},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				c, _ := newClient(t, &fakeSession{access: "AT1", refresh: "RT1"}, func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(tc.status)
					io.WriteString(w, tc.body)
				})

				_, err := c.Do(ctx, Request{Path: "/me"}, nil)
				require.ErrorIs(t, err, shared.ErrAPIRequest)
				tc.check(t, err)
			})
		}
	})

	t.Run("malformed JSON", func(t *testing.T) {
		c, _ := newClient(t, &fakeSession{access: "AT1"}, func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"id":`)
		})

		var user User
		_, err := c.Do(ctx, Request{Path: "/me"}, &user)
		require.ErrorIs(t, err, shared.ErrDecodeFailure)
	})

	t.Run("transport failure", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()
		c := New(&fakeSession{access: "AT1"}, Options{BaseURL: srv.URL})

		_, err := c.Do(ctx, Request{Path: "/me"}, nil)
		require.ErrorIs(t, err, shared.ErrTransportFailure)
	})
}

func TestResources(t *testing.T) {
	ctx := context.Background()

	t.Run("profile is cached until invalidated", func(t *testing.T) {
		c, hits := newClient(t, &fakeSession{access: "AT1"}, func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"id":"u1","product":"premium"}`)
		})

		premium, err := c.IsPremium(ctx)
		require.NoError(t, err)
		require.True(t, premium)
		_, err = c.Profile(ctx)
		require.NoError(t, err)
		require.EqualValues(t, 1, hits.Load())

		c.Invalidate()
		_, err = c.Profile(ctx)
		require.NoError(t, err)
		require.EqualValues(t, 2, hits.Load())
	})

	t.Run("profile fetched across an invalidation is not cached", func(t *testing.T) {
		var c *Client
		var calls atomic.Int32
		c, hits := newClient(t, &fakeSession{access: "AT1"}, func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				c.Invalidate()
				io.WriteString(w, `{"id":"old","product":"free"}`)
				return
			}
			io.WriteString(w, `{"id":"new","product":"premium"}`)
		})

		user, err := c.Profile(ctx)
		require.NoError(t, err)
		require.Equal(t, "old", user.ID)

		user, err = c.Profile(ctx)
		require.NoError(t, err)
		require.Equal(t, "new", user.ID)
		require.EqualValues(t, 2, hits.Load())

		_, err = c.Profile(ctx)
		require.NoError(t, err)
		require.EqualValues(t, 2, hits.Load())
	})

	t.Run("Playlists follows pagination", func(t *testing.T) {
		c, _ := newClient(t, &fakeSession{access: "AT1"}, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "50", r.URL.Query().Get("limit"))
			if r.URL.Query().Get("offset") == "0" {
				io.WriteString(w, `{"items":[{"id":"p1","name":"One"}],"total":2,"next":"more"}`)
				return
			}
			io.WriteString(w, `{"items":[{"id":"p2","name":"Two"}],"total":2,"next":null}`)
		})

		playlists, err := c.Playlists(ctx)
		require.NoError(t, err)
		require.Len(t, playlists, 2)
		require.Equal(t, "p2", playlists[1].ID)
	})

	t.Run("Search", func(t *testing.T) {
		c, _ := newClient(t, &fakeSession{access: "AT1"}, func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			require.Equal(t, "daft punk", q.Get("q"))
			require.Equal(t, "track,artist", q.Get("type"))
			require.Equal(t, "5", q.Get("limit"))
			io.WriteString(w, `{"tracks":{"items":[{"id":"t1","name":"One More Time","artists":[{"name":"Daft Punk"}]}],"total":1}}`)
		})

		results, err := c.Search(ctx, "daft punk", []string{"track", "artist"}, 5)
		require.NoError(t, err)
		require.Len(t, results.Tracks.Items, 1)
		require.Equal(t, "Daft Punk", results.Tracks.Items[0].ArtistNames())
		require.Nil(t, results.Albums)

		_, err = c.Search(ctx, "x", []string{"podcast"}, 5)
		require.ErrorIs(t, err, shared.ErrInvalidArgument)
		_, err = c.Search(ctx, " ", nil, 5)
		require.ErrorIs(t, err, shared.ErrMissingArgument)
	})

	t.Run("AddToQueue", func(t *testing.T) {
		c, _ := newClient(t, &fakeSession{access: "AT1"}, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "/me/player/queue", r.URL.Path)
			require.Equal(t, "spotify:track:1", r.URL.Query().Get("uri"))
			require.Equal(t, "dev", r.URL.Query().Get("device_id"))
			w.WriteHeader(http.StatusNoContent)
		})

		require.NoError(t, c.AddToQueue(ctx, "spotify:track:1", "dev"))
	})

	t.Run("CurrentPlayback with nothing playing", func(t *testing.T) {
		c, _ := newClient(t, &fakeSession{access: "AT1"}, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})

		playback, err := c.CurrentPlayback(ctx)
		require.NoError(t, err)
		require.Nil(t, playback)
	})

	t.Run("RemovePlaylistItems", func(t *testing.T) {
		c, _ := newClient(t, &fakeSession{access: "AT1"}, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodDelete, r.Method)
			require.Equal(t, "/playlists/p1/tracks", r.URL.Path)
			var body removeItemsBody
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, []playlistItem{{URI: "spotify:track:1"}, {URI: "spotify:track:2"}}, body.Tracks)
			require.Equal(t, "snap1", body.SnapshotID)
			io.WriteString(w, `{"snapshot_id":"snap2"}`)
		})

		snapshot, err := c.RemovePlaylistItems(ctx, "p1", []string{"spotify:track:1", "spotify:track:2"}, "snap1")
		require.NoError(t, err)
		require.Equal(t, "snap2", snapshot)

		_, err = c.RemovePlaylistItems(ctx, "p1", nil, "")
		require.True(t, errors.Is(err, shared.ErrMissingArgument))
	})
}
