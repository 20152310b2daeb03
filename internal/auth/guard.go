package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	refreshKey = "refresh"

	// maxRefreshAttempts bounds how often one caller re-enters the refresh
	// path when a shared refresh leaves the token expired (conflict).
	maxRefreshAttempts = 2
)

// Guard owns the access token and serialises refreshes: concurrent callers
// that find the token expired share a single SessionAPI.Refresh call.
type Guard struct {
	api   SessionAPI
	log   *log.Logger
	now   func() time.Time
	group singleflight.Group

	mu         sync.Mutex
	token      AccessToken
	refreshing bool

	onTerminate func(error)
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) GuardOption {
	return func(g *Guard) { g.log = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) { g.now = now }
}

// WithTerminateHook registers fn to run once a refresh fails fatally.
func WithTerminateHook(fn func(error)) GuardOption {
	return func(g *Guard) { g.onTerminate = fn }
}

// NewGuard creates a Guard backed by api.
func NewGuard(api SessionAPI, opts ...GuardOption) *Guard {
	g := &Guard{
		api: api,
		log: log.New(io.Discard),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// OnTerminate replaces the termination hook. The player wires it after
// construction since both sides reference each other.
func (g *Guard) OnTerminate(fn func(error)) {
	g.mu.Lock()
	g.onTerminate = fn
	g.mu.Unlock()
}

// Set adopts tok as the current token.
func (g *Guard) Set(tok AccessToken) {
	g.mu.Lock()
	g.token = tok
	g.mu.Unlock()
}

// Token returns the current token without validating it.
func (g *Guard) Token() AccessToken {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.token
}

// Refreshing reports whether a refresh is in flight.
func (g *Guard) Refreshing() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refreshing
}

// Clear forgets the current token.
func (g *Guard) Clear() {
	g.Set(AccessToken{})
}

// ValidToken returns an unexpired token, refreshing it first when needed.
// Errors wrap ErrUnauthorized when the session could not be kept alive.
func (g *Guard) ValidToken(ctx context.Context) (AccessToken, error) {
	for attempt := 0; ; attempt++ {
		g.mu.Lock()
		tok := g.token
		g.mu.Unlock()

		if !tok.Expired(g.now()) {
			return tok, nil
		}

		if attempt == maxRefreshAttempts {
			if tok.Value == "" {
				return AccessToken{}, ErrUnauthorized
			}
			// refresh lost a race: hand out the pre-refresh token
			return tok, nil
		}

		if err := g.refresh(ctx); err != nil {
			return AccessToken{}, err
		}
	}
}

// Authorize checks that a valid token is available.
func (g *Guard) Authorize(ctx context.Context) error {
	_, err := g.ValidToken(ctx)
	return err
}

// ForceRefresh discards the known expiry and obtains a new token. It is used
// when the playback engine reports that the token was rejected.
func (g *Guard) ForceRefresh(ctx context.Context) (AccessToken, error) {
	g.mu.Lock()
	if !g.refreshing {
		g.token.ExpiresAt = time.Time{}
	}
	g.mu.Unlock()
	return g.ValidToken(ctx)
}

// Reauthorize is ForceRefresh without the token.
func (g *Guard) Reauthorize(ctx context.Context) error {
	_, err := g.ForceRefresh(ctx)
	return err
}

// Logout ends the session and forgets the token.
func (g *Guard) Logout(ctx context.Context) error {
	g.Clear()
	if err := g.api.Logout(ctx); err != nil {
		return fmt.Errorf("logging out: %w", err)
	}
	return nil
}

// TokenSource exposes the guard to oauth2 transports. Every request consults
// the guard, so there is no second cache in front of it.
func (g *Guard) TokenSource(ctx context.Context) oauth2.TokenSource {
	return guardSource{ctx: ctx, g: g}
}

type guardSource struct {
	ctx context.Context
	g   *Guard
}

func (s guardSource) Token() (*oauth2.Token, error) {
	tok, err := s.g.ValidToken(s.ctx)
	if err != nil {
		return nil, err
	}
	return tok.OAuth2(), nil
}

// refresh joins the in-flight refresh or starts one. The shared call is not
// bound to any single caller's cancellation.
func (g *Guard) refresh(ctx context.Context) error {
	ch := g.group.DoChan(refreshKey, func() (any, error) {
		return nil, g.doRefresh(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Guard) doRefresh(ctx context.Context) error {
	g.mu.Lock()
	if !g.token.Expired(g.now()) {
		g.mu.Unlock()
		return nil
	}
	prev := g.token
	// clear-then-set: while refreshing, the expiry is indeterminate
	g.token.ExpiresAt = time.Time{}
	g.refreshing = true
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.refreshing = false
		g.mu.Unlock()
	}()

	if prev.Value == "" {
		tok, err := g.api.Current(ctx)
		if errors.Is(err, ErrUnavailable) {
			g.log.Warn("token authority unavailable", "err", err)
			return fmt.Errorf("fetching token: %w", err)
		}
		if err != nil || tok.Value == "" {
			return g.terminate(fmt.Errorf("fetching token: %w", orNoToken(err)))
		}
		g.Set(tok)
		return nil
	}

	tok, err := g.api.Refresh(ctx, prev)
	switch {
	case err == nil && tok.Value != "":
		g.log.Debug("token refreshed", "expires_at", tok.ExpiresAt)
		g.Set(tok)
		return nil

	case errors.Is(err, ErrConflict):
		canonical, cerr := g.api.Current(ctx)
		g.mu.Lock()
		if cerr == nil && canonical.Value != "" &&
			(canonical.Value != prev.Value || canonical.ExpiresAt.After(prev.ExpiresAt)) {
			g.token = canonical
		} else {
			g.token.ExpiresAt = prev.ExpiresAt
		}
		g.mu.Unlock()
		g.log.Debug("token refresh conflict", "reacquired", cerr == nil)
		return nil

	case errors.Is(err, ErrUnavailable):
		// the session survives; the next caller retries
		g.mu.Lock()
		g.token.ExpiresAt = prev.ExpiresAt
		g.mu.Unlock()
		g.log.Warn("token authority unavailable", "err", err)
		return fmt.Errorf("refreshing token: %w", err)

	default:
		return g.terminate(fmt.Errorf("refreshing token: %w", orNoToken(err)))
	}
}

func (g *Guard) terminate(cause error) error {
	g.mu.Lock()
	g.token = AccessToken{}
	hook := g.onTerminate
	g.mu.Unlock()

	g.log.Warn("session terminated", "err", cause)
	if hook != nil {
		hook(cause)
	}
	return fmt.Errorf("%w: %w", ErrUnauthorized, cause)
}

func orNoToken(err error) error {
	if err == nil {
		return errors.New("empty token")
	}
	return err
}
