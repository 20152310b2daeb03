package main

import "github.com/urfave/cli/v3"

var jsonFlag = &cli.BoolFlag{
	Name:  "json",
	Usage: "Output JSON",
}

func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the session server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (overrides server.addr)",
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "PostgreSQL URL; sessions are kept in memory when empty",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
		},
		Action: r.Serve,
	}
}

func authCommands(r *Runner) []*cli.Command {
	return []*cli.Command{
		{
			Name:   "login",
			Usage:  "Authorize this machine with Spotify",
			Action: r.Login,
		},
		{
			Name:   "logout",
			Usage:  "End the session and forget the token",
			Action: r.Logout,
		},
	}
}

func stateCommands(r *Runner) []*cli.Command {
	return []*cli.Command{
		{
			Name:   "status",
			Usage:  "Show current playback",
			Flags:  []cli.Flag{jsonFlag},
			Action: r.Status,
		},
		{
			Name:  "watch",
			Usage: "Follow playback, using the configured Connect device as this player",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "remote-only",
					Usage: "Do not attach to the local Connect device",
				},
			},
			Action: r.Watch,
		},
		{
			Name:   "devices",
			Usage:  "List Connect devices",
			Flags:  []cli.Flag{jsonFlag},
			Action: r.Devices,
		},
	}
}

func controlCommands(r *Runner) []*cli.Command {
	return []*cli.Command{
		{
			Name:      "play",
			Usage:     "Resume, or play the given track uris",
			ArgsUsage: "[uri...]",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "context",
					Usage: "Album, artist, or playlist uri to play",
				},
				&cli.IntFlag{
					Name:  "offset",
					Usage: "Index into the context or uri list to start from",
					Value: -1,
				},
			},
			Action: r.Play,
		},
		{
			Name:   "pause",
			Usage:  "Pause playback",
			Action: r.Pause,
		},
		{
			Name:    "next",
			Aliases: []string{"skip"},
			Usage:   "Skip to the next track",
			Action:  r.Next,
		},
		{
			Name:    "previous",
			Aliases: []string{"prev"},
			Usage:   "Skip to the previous track",
			Action:  r.Previous,
		},
		{
			Name:      "seek",
			Usage:     "Seek within the current track",
			ArgsUsage: "<seconds|m:ss>",
			Action:    r.Seek,
		},
		{
			Name:   "shuffle",
			Usage:  "Toggle shuffle",
			Action: r.Shuffle,
		},
		{
			Name:   "repeat",
			Usage:  "Cycle repeat mode (off, context, track)",
			Action: r.Repeat,
		},
		{
			Name:      "volume",
			Usage:     "Set volume in percent",
			ArgsUsage: "<0-100>",
			Action:    r.Volume,
		},
		{
			Name:   "mute",
			Usage:  "Toggle mute",
			Action: r.Mute,
		},
		{
			Name:      "transfer",
			Usage:     "Move playback to a device by name or id",
			ArgsUsage: "<device>",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "play",
					Usage: "Start playing on the target device",
				},
			},
			Action: r.Transfer,
		},
		{
			Name:  "save",
			Usage: "Save the current track to your library",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "remove",
					Usage: "Remove the track from your library instead",
				},
			},
			Action: r.Save,
		},
	}
}
