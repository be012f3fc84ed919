package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/desertthunder/sptoken/internal/api"
	"github.com/desertthunder/sptoken/internal/shared"
	"github.com/desertthunder/sptoken/internal/ui"
	"github.com/urfave/cli/v3"
)

// Me prints the current user's profile.
func (r *Runner) Me(ctx context.Context, cmd *cli.Command) error {
	client, err := r.client(ctx)
	if err != nil {
		return err
	}

	user, err := client.Profile(ctx)
	if err != nil {
		return apiError(err)
	}

	if cmd.Bool("json") {
		return r.writeJSON(user, cmd.Bool("pretty"))
	}

	r.writePlain("%s (%s)\n", user.DisplayName, user.ID)
	if user.Email != "" {
		r.writePlain("Email:     %s\n", user.Email)
	}
	r.writePlain("Country:   %s\n", user.Country)
	r.writePlain("Product:   %s\n", user.Product)
	return r.writePlain("Followers: %d\n", user.Followers.Total)
}

// Playlists lists the current user's playlists.
func (r *Runner) Playlists(ctx context.Context, cmd *cli.Command) error {
	limit := int(cmd.Int("limit"))

	client, err := r.client(ctx)
	if err != nil {
		return err
	}

	r.logger.Infof("listing spotify playlists with limit %v", limit)

	var playlists []api.Playlist
	if limit <= 0 || limit > 50 {
		if playlists, err = client.Playlists(ctx); err != nil {
			return apiError(err)
		}
		if limit > 0 && limit < len(playlists) {
			playlists = playlists[:limit]
		}
	} else {
		page, err := client.UserPlaylists(ctx, limit, 0)
		if err != nil {
			return apiError(err)
		}
		playlists = page.Items
	}

	if cmd.Bool("json") {
		return r.writeJSON(playlists, cmd.Bool("pretty"))
	}

	r.writePlain("Found %d playlists:\n\n", len(playlists))
	for i, p := range playlists {
		r.writePlain("%d. %s\n", i+1, p.Name)
		if p.Description != "" {
			r.writePlain("   Description: %s\n", p.Description)
		}
		r.writePlain("   ID: %s • Tracks: %d • Owner: %s\n\n", p.ID, p.Tracks.Total, p.Owner.DisplayName)
	}
	return nil
}

// Search queries the catalog and prints one section per result type.
func (r *Runner) Search(ctx context.Context, cmd *cli.Command) error {
	query := cmd.StringArg("query")
	if query == "" {
		return fmt.Errorf("%w: query", shared.ErrMissingArgument)
	}

	client, err := r.client(ctx)
	if err != nil {
		return err
	}

	results, err := client.Search(ctx, query, cmd.StringSlice("type"), int(cmd.Int("limit")))
	if err != nil {
		return apiError(err)
	}

	if cmd.Bool("json") {
		return r.writeJSON(results, cmd.Bool("pretty"))
	}

	if results.Tracks != nil {
		r.writePlainHeader(fmt.Sprintf("Tracks (%d)", results.Tracks.Total))
		for i, t := range results.Tracks.Items {
			r.writePlain("%d. %s - %s\n   %s\n", i+1, t.ArtistNames(), t.Name, t.URI)
		}
	}
	if results.Artists != nil {
		r.writePlainHeader(fmt.Sprintf("Artists (%d)", results.Artists.Total))
		for i, a := range results.Artists.Items {
			r.writePlain("%d. %s\n   %s\n", i+1, a.Name, a.URI)
		}
	}
	if results.Albums != nil {
		r.writePlainHeader(fmt.Sprintf("Albums (%d)", results.Albums.Total))
		for i, a := range results.Albums.Items {
			r.writePlain("%d. %s (%s)\n   %s\n", i+1, a.Name, a.ReleaseDate, a.URI)
		}
	}
	if results.Playlists != nil {
		r.writePlainHeader(fmt.Sprintf("Playlists (%d)", results.Playlists.Total))
		for i, p := range results.Playlists.Items {
			r.writePlain("%d. %s by %s\n   %s\n", i+1, p.Name, p.Owner.DisplayName, p.URI)
		}
	}
	return nil
}

// Queue adds a URI to the playback queue. Requires Premium.
func (r *Runner) Queue(ctx context.Context, cmd *cli.Command) error {
	uri := cmd.StringArg("uri")
	if uri == "" {
		return fmt.Errorf("%w: uri", shared.ErrMissingArgument)
	}

	client, err := r.client(ctx)
	if err != nil {
		return err
	}

	if premium, err := client.IsPremium(ctx); err == nil && !premium {
		r.logger.Warn("playback control requires Spotify Premium")
	}

	if err := client.AddToQueue(ctx, uri, cmd.String("device")); err != nil {
		return apiError(err)
	}
	return r.writePlain("✓ Queued %s\n", uri)
}

// Playing shows the current playback state.
func (r *Runner) Playing(ctx context.Context, cmd *cli.Command) error {
	client, err := r.client(ctx)
	if err != nil {
		return err
	}

	playback, err := client.CurrentPlayback(ctx)
	if err != nil {
		return apiError(err)
	}

	if cmd.Bool("json") {
		return r.writeJSON(playback, cmd.Bool("pretty"))
	}

	if playback == nil || playback.Item == nil {
		return r.writePlain("Nothing is playing.\n")
	}

	state := "Paused"
	if playback.IsPlaying {
		state = "Playing"
	}
	track := playback.Item
	progress := time.Duration(playback.ProgressMS) * time.Millisecond
	duration := time.Duration(track.DurationMS) * time.Millisecond

	r.writePlain("%s: %s - %s\n", state, track.ArtistNames(), track.Name)
	r.writePlain("Album:  %s\n", track.Album.Name)
	r.writePlain("Time:   %s / %s\n", ui.Approx(progress), ui.Approx(duration))
	return r.writePlain("Device: %s (%s)\n", playback.Device.Name, playback.Device.Type)
}

// Call sends an arbitrary authenticated request and prints the JSON response.
func (r *Runner) Call(ctx context.Context, cmd *cli.Command) error {
	method := strings.ToUpper(cmd.StringArg("method"))
	rawPath := cmd.StringArg("path")
	if method == "" || rawPath == "" {
		return fmt.Errorf("%w: usage: call <method> <path>", shared.ErrMissingArgument)
	}

	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
	default:
		return fmt.Errorf("%w: method %q", shared.ErrInvalidArgument, method)
	}

	path, query, err := splitPath(rawPath)
	if err != nil {
		return err
	}

	req := api.Request{Method: method, Path: path, Query: query}
	if data := cmd.String("data"); data != "" {
		if !json.Valid([]byte(data)) {
			return fmt.Errorf("%w: --data is not valid JSON", shared.ErrInvalidInput)
		}
		req.Body = json.RawMessage(data)
	}

	client, err := r.client(ctx)
	if err != nil {
		return err
	}

	var out json.RawMessage
	resp, err := client.Do(ctx, req, &out)
	if err != nil {
		return apiError(err)
	}

	if resp.NoContent || len(out) == 0 {
		return r.writePlain("✓ %d\n", resp.Status)
	}
	return r.writeJSON(out, cmd.Bool("pretty"))
}

// splitPath accepts a path relative to the API base, optionally with a query string or the full base URL.
func splitPath(raw string) (string, url.Values, error) {
	raw = strings.TrimPrefix(raw, api.DefaultBaseURL)
	u, err := url.Parse(raw)
	if err != nil {
		return "", nil, fmt.Errorf("%w: path: %v", shared.ErrInvalidArgument, err)
	}

	path := u.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path, u.Query(), nil
}
