package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/justestif/go-spotify-playback/internal/auth"
	"github.com/justestif/go-spotify-playback/internal/config"
	"github.com/justestif/go-spotify-playback/internal/logging"
	"github.com/justestif/go-spotify-playback/internal/playback"
	"github.com/justestif/go-spotify-playback/internal/spotify"
)

// Runner holds the dependencies shared by command actions.
type Runner struct {
	cfg    *config.Config
	logger *log.Logger
	output io.Writer
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config *config.Config
	Logger *log.Logger
	Output io.Writer
}

// NewRunner creates a new Runner with the provided configuration.
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = logging.New(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	return &Runner{
		cfg:    opts.Config,
		logger: opts.Logger,
		output: opts.Output,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{serveCommand(r)}
	for _, fn := range []func(*Runner) []*cli.Command{authCommands, stateCommands, controlCommands} {
		commands = append(commands, fn(r)...)
	}
	return commands
}

// setup loads configuration before any command runs.
func (r *Runner) setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if r.cfg == nil {
		cfg, err := config.Load(cmd.String("config"))
		if err != nil {
			return ctx, err
		}
		r.cfg = cfg
	}
	level := r.cfg.Log.Level
	if l := cmd.String("log-level"); l != "" {
		level = l
	}
	if level != "" && !logging.SetLevel(r.logger, level) {
		r.logger.Warn("unknown log level", "level", level)
	}
	return ctx, nil
}

// session is a player wired to the configured token authority.
type session struct {
	api    auth.SessionAPI
	local  *auth.LocalSession
	guard  *auth.Guard
	client *spotify.Client
	player *playback.Player
}

func (r *Runner) sessionAPI() (auth.SessionAPI, *auth.LocalSession, error) {
	if r.cfg.UsesSessionServer() {
		hc := &http.Client{Timeout: 15 * time.Second}
		return auth.NewHTTPSession(r.cfg.Session.URL, r.cfg.Session.ID, hc), nil, nil
	}
	if err := r.cfg.Validate(); err != nil {
		return nil, nil, err
	}

	cache, err := r.tokenCache()
	if err != nil {
		return nil, nil, err
	}
	local, err := auth.NewLocalSession(auth.Credentials{
		ClientID:     r.cfg.Spotify.ClientID,
		ClientSecret: r.cfg.Spotify.ClientSecret,
		RedirectURL:  r.cfg.Spotify.RedirectURL,
	}, cache, logging.Component(r.logger, "auth"))
	if err != nil {
		return nil, nil, err
	}
	return local, local, nil
}

func (r *Runner) tokenCache() (*auth.TokenCache, error) {
	if r.cfg.Session.TokenFile != "" {
		return auth.NewTokenCache(r.cfg.Session.TokenFile), nil
	}
	return auth.DefaultTokenCache()
}

// open builds the guard, API client and player. withEngine attaches the
// configured Connect device as the local engine.
func (r *Runner) open(ctx context.Context, withEngine bool) (*session, error) {
	api, local, err := r.sessionAPI()
	if err != nil {
		return nil, err
	}

	guard := auth.NewGuard(api, auth.WithLogger(logging.Component(r.logger, "guard")))
	client := spotify.New(guard.TokenSource(ctx),
		spotify.WithRateLimit(r.cfg.Player.RequestsPerSecond),
		spotify.WithLogger(logging.Component(r.logger, "spotify")),
	)

	var engine playback.LocalEngine
	if withEngine && r.cfg.Player.DeviceName != "" {
		token := func(ctx context.Context) (string, error) {
			tok, err := guard.ValidToken(ctx)
			return tok.Value, err
		}
		engine = spotify.NewConnectEngine(client, r.cfg.Player.DeviceName, token,
			spotify.WithEngineLogger(logging.Component(r.logger, "engine", "device", r.cfg.Player.DeviceName)))
	}

	player := playback.New(playback.Options{
		Remote:  client,
		Session: guard,
		Engine:  engine,
		Config: playback.ReconcilerConfig{
			OwnerInterval:       r.cfg.Player.OwnerInterval,
			RemoteInterval:      r.cfg.Player.RemoteInterval,
			RetryInterval:       r.cfg.Player.RetryInterval,
			MaxTransientRetries: r.cfg.Player.MaxTransientRetries,
			Market:              r.cfg.Spotify.Market,
		},
		Logger: logging.Component(r.logger, "player"),
	})
	guard.OnTerminate(player.Terminate)

	return &session{api: api, local: local, guard: guard, client: client, player: player}, nil
}

// oneShot refreshes the player's view once, runs fn, and reports notices
// raised along the way. Follow-up polls are not needed by a single command.
func (r *Runner) oneShot(ctx context.Context, fn func(context.Context, *playback.Player) error) error {
	s, err := r.open(ctx, false)
	if err != nil {
		return err
	}
	p := s.player
	sub := p.Subscribe()
	defer p.Unsubscribe(sub)

	if _, err := p.Devices().List(ctx); err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}
	if _, err := p.Reconciler().Reconcile(ctx); err != nil {
		return fmt.Errorf("fetching playback: %w", err)
	}
	p.Reconciler().Stop()

	err = fn(ctx, p)
	for {
		select {
		case n := <-sub.Notices:
			r.printNotice(n)
		default:
			return err
		}
	}
}

func (r *Runner) writeJSON(data any) error {
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if _, err := fmt.Fprintln(r.output, string(out)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlain(format string, args ...any) {
	fmt.Fprintf(r.output, format, args...)
}

func (r *Runner) printNotice(n playback.Notice) {
	switch n.Kind {
	case playback.NoticeError, playback.NoticeCommandRejected, playback.NoticeSessionEnded:
		r.logger.Warn(n.Message, "kind", n.Kind, "command", n.Command, "err", n.Err)
	default:
		r.logger.Info(n.Message, "kind", n.Kind)
	}
}
