package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/sptoken/internal/relay"
	"github.com/desertthunder/sptoken/internal/shared"
	"github.com/urfave/cli/v3"
)

// RelayServe runs the token exchange relay until interrupted. Flags override the [relay] config section.
func (r *Runner) RelayServe(ctx context.Context, cmd *cli.Command) error {
	if err := r.config.Validate(true); err != nil {
		return err
	}

	settings := r.config.Relay
	if host := cmd.String("host"); host != "" {
		settings.Host = host
	}
	if port := int(cmd.Int("port")); port > 0 {
		settings.Port = port
	}
	if limit := int(cmd.Int("rate-limit")); limit > 0 {
		settings.RateLimit = limit
	}
	if settings.Port <= 0 || settings.Port > 65535 {
		return fmt.Errorf("%w: relay port %d", shared.ErrInvalidConfig, settings.Port)
	}

	logger := shared.WithLogger(r.logger, "component", "relay")
	spotify := r.config.Credentials.Spotify

	handler, err := relay.NewHandler(relay.Config{
		ClientID:     spotify.ClientID,
		ClientSecret: spotify.ClientSecret,
		RedirectURI:  spotify.RedirectURI,
	}, logger)
	if err != nil {
		return err
	}

	router := relay.NewRouter(handler, settings.RateLimit, logger)
	for _, pattern := range router.Patterns() {
		logger.Debug("route", "pattern", pattern)
	}

	return relay.Serve(ctx, settings.Addr(), router, logger)
}
