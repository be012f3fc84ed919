// Spotify Web API resources used by the CLI.
//
// Response types based on https://developer.spotify.com/documentation/web-api/reference/

package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/desertthunder/sptoken/internal/shared"
)

type followers struct {
	Total int `json:"total"`
}

// User represents a Spotify user profile.
type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email"`
	Country     string    `json:"country"`
	Product     string    `json:"product"` // premium, free, etc.
	Followers   followers `json:"followers"`
	Images      []Image   `json:"images"`
	URI         string    `json:"uri"`
}

// Image represents an image resource.
type Image struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// Track represents a Spotify track.
type Track struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Artists    []Artist `json:"artists"`
	Album      Album    `json:"album"`
	DurationMS int      `json:"duration_ms"`
	Explicit   bool     `json:"explicit"`
	URI        string   `json:"uri"`
}

// ArtistNames joins the track's artists for display.
func (t Track) ArtistNames() string {
	names := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		names[i] = a.Name
	}
	return strings.Join(names, ", ")
}

// Artist represents a Spotify artist.
type Artist struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Genres []string `json:"genres"`
	URI    string   `json:"uri"`
}

// Album represents a Spotify album.
type Album struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Artists     []Artist `json:"artists"`
	ReleaseDate string   `json:"release_date"`
	TotalTracks int      `json:"total_tracks"`
	URI         string   `json:"uri"`
}

type Owner struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type playlistTracks struct {
	Total int `json:"total"`
}

// Playlist represents a simplified playlist object (used in lists).
type Playlist struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Owner       Owner          `json:"owner"`
	Public      bool           `json:"public"`
	Tracks      playlistTracks `json:"tracks"`
	SnapshotID  string         `json:"snapshot_id"`
	URI         string         `json:"uri"`
}

// PlaylistPage represents a paginated response of playlists.
type PlaylistPage struct {
	Items    []Playlist `json:"items"`
	Total    int        `json:"total"`
	Limit    int        `json:"limit"`
	Offset   int        `json:"offset"`
	Next     *string    `json:"next"`
	Previous *string    `json:"previous"`
}

type trackPage struct {
	Items []Track `json:"items"`
	Total int     `json:"total"`
}

type artistPage struct {
	Items []Artist `json:"items"`
	Total int      `json:"total"`
}

type albumPage struct {
	Items []Album `json:"items"`
	Total int     `json:"total"`
}

// SearchResults holds one page per requested type. Types that were not requested stay nil.
type SearchResults struct {
	Tracks    *trackPage    `json:"tracks"`
	Artists   *artistPage   `json:"artists"`
	Albums    *albumPage    `json:"albums"`
	Playlists *PlaylistPage `json:"playlists"`
}

// Device is a Spotify Connect device.
type Device struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	IsActive bool   `json:"is_active"`
	Volume   *int   `json:"volume_percent"`
}

// Playback is the current playback state.
type Playback struct {
	Device     Device `json:"device"`
	IsPlaying  bool   `json:"is_playing"`
	ProgressMS int    `json:"progress_ms"`
	Item       *Track `json:"item"`
}

// Search types accepted by [Client.Search].
var SearchTypes = []string{"album", "artist", "playlist", "track"}

// Invalidate drops the cached profile. The session calls it on every token change.
func (c *Client) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profile = nil
	c.generation++
}

// Profile retrieves the current user's profile, cached until the token changes.
func (c *Client) Profile(ctx context.Context) (*User, error) {
	c.mu.Lock()
	cached, generation := c.profile, c.generation
	c.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	var user User
	if _, err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/me"}, &user); err != nil {
		return nil, err
	}

	// A profile fetched under a token that has since changed is returned but not kept.
	c.mu.Lock()
	if c.generation == generation {
		c.profile = &user
	}
	c.mu.Unlock()
	return &user, nil
}

// IsPremium reports whether the current user has a premium subscription.
func (c *Client) IsPremium(ctx context.Context) (bool, error) {
	user, err := c.Profile(ctx)
	if err != nil {
		return false, err
	}
	return user.Product == "premium", nil
}

// UserPlaylists retrieves the current user's playlists with pagination.
func (c *Client) UserPlaylists(ctx context.Context, limit, offset int) (*PlaylistPage, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 50 {
		limit = 50
	}

	query := url.Values{
		"limit":  {strconv.Itoa(limit)},
		"offset": {strconv.Itoa(offset)},
	}

	var page PlaylistPage
	if _, err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/me/playlists", Query: query}, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Playlists retrieves every playlist of the current user, following pagination.
func (c *Client) Playlists(ctx context.Context) ([]Playlist, error) {
	var all []Playlist
	limit := 50
	offset := 0

	for {
		page, err := c.UserPlaylists(ctx, limit, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)

		if page.Next == nil || len(page.Items) == 0 {
			break
		}
		offset += limit
	}
	return all, nil
}

// Search looks up q across types (default: track).
func (c *Client) Search(ctx context.Context, q string, types []string, limit int) (*SearchResults, error) {
	if strings.TrimSpace(q) == "" {
		return nil, fmt.Errorf("%w: search query", shared.ErrMissingArgument)
	}
	if len(types) == 0 {
		types = []string{"track"}
	}
	for _, t := range types {
		if !slices.Contains(SearchTypes, t) {
			return nil, fmt.Errorf("%w: search type %q", shared.ErrInvalidArgument, t)
		}
	}
	if limit <= 0 || limit > 50 {
		limit = 20
	}

	query := url.Values{
		"q":     {q},
		"type":  {strings.Join(types, ",")},
		"limit": {strconv.Itoa(limit)},
	}

	var results SearchResults
	if _, err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/search", Query: query}, &results); err != nil {
		return nil, err
	}
	return &results, nil
}

// AddToQueue appends uri to the user's playback queue, on deviceID when given.
func (c *Client) AddToQueue(ctx context.Context, uri, deviceID string) error {
	if uri == "" {
		return fmt.Errorf("%w: uri", shared.ErrMissingArgument)
	}

	query := url.Values{"uri": {uri}}
	if deviceID != "" {
		query.Set("device_id", deviceID)
	}

	_, err := c.Do(ctx, Request{Method: http.MethodPost, Path: "/me/player/queue", Query: query}, nil)
	return err
}

// CurrentPlayback returns the playback state, or nil when nothing is playing.
func (c *Client) CurrentPlayback(ctx context.Context) (*Playback, error) {
	var playback Playback
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/me/player"}, &playback)
	if err != nil {
		return nil, err
	}
	if resp.NoContent {
		return nil, nil
	}
	return &playback, nil
}

type playlistItem struct {
	URI string `json:"uri"`
}

type removeItemsBody struct {
	Tracks     []playlistItem `json:"tracks"`
	SnapshotID string         `json:"snapshot_id,omitempty"`
}

// RemovePlaylistItems deletes every occurrence of uris from a playlist and returns the new snapshot id.
func (c *Client) RemovePlaylistItems(ctx context.Context, playlistID string, uris []string, snapshotID string) (string, error) {
	if playlistID == "" {
		return "", fmt.Errorf("%w: playlist id", shared.ErrMissingArgument)
	}
	if len(uris) == 0 {
		return "", fmt.Errorf("%w: no items to remove", shared.ErrMissingArgument)
	}
	if len(uris) > 100 {
		return "", fmt.Errorf("%w: maximum 100 items per request", shared.ErrInvalidArgument)
	}

	body := removeItemsBody{SnapshotID: snapshotID}
	for _, uri := range uris {
		body.Tracks = append(body.Tracks, playlistItem{URI: uri})
	}

	var out struct {
		SnapshotID string `json:"snapshot_id"`
	}
	req := Request{Method: http.MethodDelete, Path: "/playlists/" + url.PathEscape(playlistID) + "/tracks", Body: body}
	if _, err := c.Do(ctx, req, &out); err != nil {
		return "", err
	}
	return out.SnapshotID, nil
}
