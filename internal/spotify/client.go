// Package spotify provides a wrapper around the Spotify Web API.
package spotify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/justestif/go-spotify-playback/internal/auth"
	"github.com/justestif/go-spotify-playback/internal/playback"
)

// DefaultBaseURL is the Web API root. It must end in a slash.
const DefaultBaseURL = "https://api.spotify.com/v1/"

// Client wraps the Spotify API client with convenience methods.
type Client struct {
	api     *spotify.Client
	http    *http.Client
	baseURL string
	log     *log.Logger
}

type clientConfig struct {
	baseURL   string
	rps       float64
	transport http.RoundTripper
	logger    *log.Logger
}

// Option configures a Client.
type Option func(*clientConfig)

// WithBaseURL points the client at another API root, e.g. a test server.
func WithBaseURL(u string) Option {
	return func(c *clientConfig) { c.baseURL = u }
}

// WithRateLimit caps outgoing requests per second. Zero or less disables it.
func WithRateLimit(rps float64) Option {
	return func(c *clientConfig) { c.rps = rps }
}

// WithTransport replaces the underlying HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *clientConfig) { c.transport = rt }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(c *clientConfig) { c.logger = l }
}

// New creates a client that authenticates every request with a token from
// src. The source is consulted on each request, so it should hand out the
// current token rather than cache one.
func New(src oauth2.TokenSource, opts ...Option) *Client {
	cfg := clientConfig{
		baseURL:   DefaultBaseURL,
		transport: http.DefaultTransport,
		logger:    log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	rt := cfg.transport
	if cfg.rps > 0 {
		rt = &limitedTransport{base: rt, limiter: rate.NewLimiter(rate.Limit(cfg.rps), 1)}
	}
	if src != nil {
		rt = &oauth2.Transport{Source: src, Base: rt}
	}
	httpClient := &http.Client{Transport: rt, Timeout: 30 * time.Second}

	return &Client{
		api:     spotify.New(httpClient, spotify.WithBaseURL(cfg.baseURL), spotify.WithRetry(true)),
		http:    httpClient,
		baseURL: cfg.baseURL,
		log:     cfg.logger,
	}
}

// UserID returns the current user's Spotify ID.
func (c *Client) UserID(ctx context.Context) (string, error) {
	user, err := c.api.CurrentUser(ctx)
	if err != nil {
		return "", fmt.Errorf("getting current user: %w", mapError(err))
	}
	return user.ID, nil
}

// limitedTransport waits for the limiter before every request.
type limitedTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	return t.base.RoundTrip(req)
}

// mapError translates API status codes into playback sentinels, keeping the
// original error in the chain.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	switch errorStatus(err) {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", playback.ErrUnauthorized, err)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %w", playback.ErrCommandRejected, err)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", playback.ErrDeviceNotFound, err)
	}
	if errors.Is(err, auth.ErrUnauthorized) {
		return fmt.Errorf("%w: %w", playback.ErrUnauthorized, err)
	}
	return err
}

func errorStatus(err error) int {
	var se spotify.Error
	if errors.As(err, &se) {
		return se.Status
	}
	var sp *spotify.Error
	if errors.As(err, &sp) && sp != nil {
		return sp.Status
	}
	return 0
}
