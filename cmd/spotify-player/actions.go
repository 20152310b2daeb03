package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/urfave/cli/v3"

	"github.com/justestif/go-spotify-playback/internal/db"
	"github.com/justestif/go-spotify-playback/internal/logging"
	"github.com/justestif/go-spotify-playback/internal/playback"
	"github.com/justestif/go-spotify-playback/internal/web"
)

var errMissingArg = errors.New("missing argument")

// Serve runs the session server until interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	if err := r.cfg.Validate(); err != nil {
		return err
	}

	addr := r.cfg.Server.Addr
	if a := cmd.String("addr"); a != "" {
		addr = a
	}
	dbURL := r.cfg.Server.DatabaseURL
	if u := cmd.String("database-url"); u != "" {
		dbURL = u
	}

	var database *db.DB
	if dbURL != "" {
		var err error
		database, err = db.New(ctx, dbURL)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer database.Close()
		if err := database.Migrate(ctx); err != nil {
			return fmt.Errorf("migrating database: %w", err)
		}
	}

	server, err := web.NewServer(web.ServerConfig{
		Addr:         addr,
		ClientID:     r.cfg.Spotify.ClientID,
		ClientSecret: r.cfg.Spotify.ClientSecret,
		RedirectURL:  r.cfg.Spotify.RedirectURL,
		DB:           database,
		Logger:       logging.Component(r.logger, "server"),
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	return server.Run(ctx)
}

// Login authorizes this machine. With a session server configured the
// browser flow runs there instead.
func (r *Runner) Login(ctx context.Context, _ *cli.Command) error {
	if r.cfg.Session.URL != "" {
		r.writePlain("Open %s/auth/login in a browser, then set session.id to the id it shows.\n", r.cfg.Session.URL)
		return nil
	}

	_, local, err := r.sessionAPI()
	if err != nil {
		return err
	}
	tok, err := local.Login(ctx, r.cfg.Spotify.RedirectURL, func(authURL string) {
		r.writePlain("Open this URL to authorize:\n\n%s\n\n", authURL)
	})
	if err != nil {
		return err
	}
	r.writePlain("Logged in. Token valid until %s.\n", tok.ExpiresAt.Local().Format("15:04:05"))
	return nil
}

// Logout ends the session.
func (r *Runner) Logout(ctx context.Context, _ *cli.Command) error {
	s, err := r.open(ctx, false)
	if err != nil {
		return err
	}
	if err := s.player.Logout(ctx); err != nil {
		return err
	}
	r.writePlain("Logged out.\n")
	return nil
}

// Status prints the current playback state.
func (r *Runner) Status(ctx context.Context, cmd *cli.Command) error {
	return r.oneShot(ctx, func(_ context.Context, p *playback.Player) error {
		st := p.Store().Snapshot()
		if cmd.Bool("json") {
			return r.writeJSON(newStatusView(st))
		}
		r.writePlain("%s", formatStatus(st))
		return nil
	})
}

// Devices lists Connect devices.
func (r *Runner) Devices(ctx context.Context, cmd *cli.Command) error {
	return r.oneShot(ctx, func(_ context.Context, p *playback.Player) error {
		devices := p.Store().Snapshot().Devices
		if cmd.Bool("json") {
			return r.writeJSON(devices)
		}
		if len(devices) == 0 {
			r.writePlain("No devices.\n")
			return nil
		}
		for _, d := range devices {
			marker := " "
			if d.IsActive {
				marker = "*"
			}
			r.writePlain("%s %-24s %-12s %3d%%  %s\n", marker, d.Name, d.Type, d.VolumePercent, d.ID)
		}
		return nil
	})
}

// Watch follows playback until interrupted, printing each change.
func (r *Runner) Watch(ctx context.Context, cmd *cli.Command) error {
	s, err := r.open(ctx, !cmd.Bool("remote-only"))
	if err != nil {
		return err
	}
	p := s.player
	sub := p.Subscribe()
	defer p.Unsubscribe(sub)

	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()

	var last string
	for {
		select {
		case err := <-errCh:
			return err
		case st := <-sub.Changed:
			line := formatStatusLine(st)
			if line != last {
				r.writePlain("%s\n", line)
				last = line
			}
		case n := <-sub.Notices:
			r.printNotice(n)
		}
	}
}

// Play resumes, or starts the given context or uris.
func (r *Runner) Play(ctx context.Context, cmd *cli.Command) error {
	var opts *playback.PlayOptions
	uris := cmd.Args().Slice()
	if c := cmd.String("context"); c != "" || len(uris) > 0 {
		opts = &playback.PlayOptions{ContextURI: c, URIs: uris}
		if i := cmd.Int("offset"); i >= 0 {
			opts.Offset = &playback.Offset{Position: &i}
		}
	}
	return r.oneShot(ctx, func(ctx context.Context, p *playback.Player) error {
		return p.Dispatcher().Play(ctx, opts)
	})
}

// Pause pauses playback.
func (r *Runner) Pause(ctx context.Context, _ *cli.Command) error {
	return r.oneShot(ctx, func(ctx context.Context, p *playback.Player) error {
		return p.Dispatcher().Pause(ctx)
	})
}

// Next skips forward.
func (r *Runner) Next(ctx context.Context, _ *cli.Command) error {
	return r.oneShot(ctx, func(ctx context.Context, p *playback.Player) error {
		return p.Dispatcher().Next(ctx)
	})
}

// Previous skips back.
func (r *Runner) Previous(ctx context.Context, _ *cli.Command) error {
	return r.oneShot(ctx, func(ctx context.Context, p *playback.Player) error {
		return p.Dispatcher().Previous(ctx)
	})
}

// Seek moves within the current track.
func (r *Runner) Seek(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() == 0 {
		return fmt.Errorf("%w: position", errMissingArg)
	}
	ms, err := parsePosition(cmd.Args().First())
	if err != nil {
		return err
	}
	return r.oneShot(ctx, func(ctx context.Context, p *playback.Player) error {
		return p.Dispatcher().Seek(ctx, ms, nil)
	})
}

// Shuffle toggles shuffle.
func (r *Runner) Shuffle(ctx context.Context, _ *cli.Command) error {
	return r.oneShot(ctx, func(ctx context.Context, p *playback.Player) error {
		if err := p.Dispatcher().Shuffle(ctx); err != nil {
			return err
		}
		r.writePlain("Shuffle %s.\n", onOff(p.Store().Snapshot().IsShuffled))
		return nil
	})
}

// Repeat cycles the repeat mode.
func (r *Runner) Repeat(ctx context.Context, _ *cli.Command) error {
	return r.oneShot(ctx, func(ctx context.Context, p *playback.Player) error {
		if err := p.Dispatcher().Repeat(ctx); err != nil {
			return err
		}
		r.writePlain("Repeat %s.\n", p.Store().Snapshot().Repeat)
		return nil
	})
}

// Volume sets the volume.
func (r *Runner) Volume(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() == 0 {
		return fmt.Errorf("%w: percent", errMissingArg)
	}
	percent, err := strconv.Atoi(cmd.Args().First())
	if err != nil {
		return fmt.Errorf("invalid volume %q: %w", cmd.Args().First(), err)
	}
	return r.oneShot(ctx, func(ctx context.Context, p *playback.Player) error {
		return p.Dispatcher().Volume(ctx, percent)
	})
}

// Mute toggles mute.
func (r *Runner) Mute(ctx context.Context, _ *cli.Command) error {
	return r.oneShot(ctx, func(ctx context.Context, p *playback.Player) error {
		if err := p.Dispatcher().Mute(ctx); err != nil {
			return err
		}
		st := p.Store().Snapshot()
		r.writePlain("Muted: %s (volume %d%%).\n", onOff(st.IsMuted), st.VolumePercent)
		return nil
	})
}

// Transfer moves playback to another device.
func (r *Runner) Transfer(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() == 0 {
		return fmt.Errorf("%w: device", errMissingArg)
	}
	target := cmd.Args().First()
	return r.oneShot(ctx, func(ctx context.Context, p *playback.Player) error {
		d, ok := findDevice(p.Store().Snapshot().Devices, target)
		if !ok {
			return fmt.Errorf("%w: %s", playback.ErrDeviceNotFound, target)
		}
		opts := playback.TransferOptions{}
		if cmd.IsSet("play") {
			play := cmd.Bool("play")
			opts.Play = &play
		}
		if err := p.Devices().Transfer(ctx, d.ID, opts); err != nil {
			return err
		}
		r.writePlain("Playing on %s.\n", d.Name)
		return nil
	})
}

// Save adds or removes the current track from the library.
func (r *Runner) Save(ctx context.Context, cmd *cli.Command) error {
	saved := !cmd.Bool("remove")
	return r.oneShot(ctx, func(ctx context.Context, p *playback.Player) error {
		if err := p.Dispatcher().SaveTrack(ctx, saved); err != nil {
			return err
		}
		if saved {
			r.writePlain("Saved.\n")
		} else {
			r.writePlain("Removed.\n")
		}
		return nil
	})
}
