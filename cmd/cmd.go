// submodule cmd contains command definitions
package main

import (
	"time"

	"github.com/urfave/cli/v3"
)

func jsonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Output raw JSON",
		},
		&cli.BoolFlag{
			Name:  "pretty",
			Usage: "Pretty-print JSON output",
			Value: true,
		},
	}
}

// setupCommand handles setup operations for configuration and the database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "config",
				Usage:  "Write a config file from the built-in template",
				Action: r.SetupConfig,
			},
			{
				Name:   "database",
				Usage:  "Initialize database and run migrations",
				Action: r.SetupDatabase,
			},
		},
	}
}

// loginCommand starts a new session.
func loginCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Log in to Spotify",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "browser",
				Usage: "Authorize in the web browser",
			},
			&cli.BoolFlag{
				Name:  "native",
				Usage: "Authorize through the installed Spotify app",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Give up when no authorization arrives in time",
				Value: 5 * time.Minute,
			},
		},
		Action: r.Login,
	}
}

func logoutCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "logout",
		Usage:  "End the session and forget the stored token",
		Action: r.Logout,
	}
}

func statusCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show the current session",
		Flags:  jsonFlags(),
		Action: r.Status,
	}
}

// tokenCommand prints a usable access token, renewing or logging in first when needed.
func tokenCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "token",
		Usage:  "Print a usable access token",
		Action: r.Token,
	}
}

func watchCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "watch",
		Usage:  "Keep the session renewed and print token events until interrupted",
		Action: r.Watch,
	}
}

func historyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show recent token events",
		Flags: append(jsonFlags(),
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of events to show",
				Value: 20,
			},
			&cli.DurationFlag{
				Name:  "prune",
				Usage: "Delete events older than this first",
			},
		),
		Action: r.History,
	}
}

func meCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "me",
		Usage:  "Show the current user's profile",
		Flags:  jsonFlags(),
		Action: r.Me,
	}
}

func playlistsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "playlists",
		Usage: "List the current user's playlists",
		Flags: append(jsonFlags(),
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of playlists to return (0 for all)",
				Value: 50,
			},
		),
		Action: r.Playlists,
	}
}

func searchCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "search",
		Usage: "Search the Spotify catalog",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "query"},
		},
		Flags: append(jsonFlags(),
			&cli.StringSliceFlag{
				Name:    "type",
				Aliases: []string{"t"},
				Usage:   "Result types: album, artist, playlist, track",
				Value:   []string{"track"},
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Results per type",
				Value: 10,
			},
		),
		Action: r.Search,
	}
}

func queueCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "queue",
		Usage: "Add a track or episode URI to the playback queue",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "uri"},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "device",
				Usage: "Target device id",
			},
		},
		Action: r.Queue,
	}
}

func playingCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "playing",
		Usage:  "Show what is currently playing",
		Flags:  jsonFlags(),
		Action: r.Playing,
	}
}

// callCommand sends an arbitrary authenticated Web API request.
func callCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "call",
		Usage: "Call a Web API endpoint with the session token, prints raw JSON",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "method"},
			&cli.StringArg{Name: "path"},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "data",
				Aliases: []string{"d"},
				Usage:   "JSON body to send",
			},
			&cli.BoolFlag{
				Name:  "pretty",
				Usage: "Pretty-print output",
				Value: true,
			},
		},
		Action: r.Call,
	}
}

// relayCommand runs the token exchange relay.
func relayCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "relay",
		Usage: "Token exchange relay",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Serve /swap and /refresh with the client secret",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "host",
						Usage: "Listen host (default from config)",
					},
					&cli.IntFlag{
						Name:  "port",
						Usage: "Listen port (default from config)",
					},
					&cli.IntFlag{
						Name:  "rate-limit",
						Usage: "Requests per minute per client address (default from config)",
					},
				},
				Action: r.RelayServe,
			},
		},
	}
}

// debugCommand exposes session controls for exercising renewal by hand.
func debugCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "debug",
		Usage:  "Session debugging controls",
		Hidden: true,
		Commands: []*cli.Command{
			{
				Name:  "expire",
				Usage: "Shorten the current token's lifetime",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "ttl"},
				},
				Action: r.DebugExpire,
			},
			{
				Name:  "inject",
				Usage: "Feed an error result into the session",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "message"},
				},
				Action: r.DebugInject,
			},
			{
				Name:  "renew",
				Usage: "Renew now, optionally through one strategy",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "strategy",
						Usage: "Strategy name (native or browser)",
					},
				},
				Action: r.DebugRenew,
			},
		},
	}
}
