package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/charmbracelet/log"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
)

const callbackTimeout = 2 * time.Minute

var (
	// ErrMissingCredentials is returned when the client id or secret is empty.
	ErrMissingCredentials = errors.New("missing spotify client id or secret")

	// ErrAuthTimeout is returned when the OAuth callback is not received in time.
	ErrAuthTimeout = errors.New("authentication timed out waiting for callback")

	// ErrStateMismatch is returned when the OAuth state parameter doesn't match.
	ErrStateMismatch = errors.New("OAuth state mismatch")
)

// Scopes are the permissions the player asks for.
var Scopes = []string{
	spotifyauth.ScopeUserReadPlaybackState,
	spotifyauth.ScopeUserModifyPlaybackState,
	spotifyauth.ScopeUserReadCurrentlyPlaying,
	spotifyauth.ScopeStreaming,
	spotifyauth.ScopeUserLibraryRead,
	spotifyauth.ScopeUserLibraryModify,
	spotifyauth.ScopeUserReadPrivate,
}

// Credentials identify the Spotify application.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// NewAuthenticator builds the spotifyauth authenticator for creds.
func NewAuthenticator(creds Credentials) (*spotifyauth.Authenticator, error) {
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return nil, ErrMissingCredentials
	}
	return spotifyauth.New(
		spotifyauth.WithClientID(creds.ClientID),
		spotifyauth.WithClientSecret(creds.ClientSecret),
		spotifyauth.WithRedirectURL(creds.RedirectURL),
		spotifyauth.WithScopes(Scopes...),
	), nil
}

// LocalSession is a SessionAPI whose canonical token lives in a TokenCache on
// this machine. Several processes may share the cache; a refresh whose input
// no longer matches the cached token reports ErrConflict.
type LocalSession struct {
	auth  *spotifyauth.Authenticator
	cache *TokenCache
	log   *log.Logger
}

// NewLocalSession creates a LocalSession.
func NewLocalSession(creds Credentials, cache *TokenCache, logger *log.Logger) (*LocalSession, error) {
	a, err := NewAuthenticator(creds)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &LocalSession{auth: a, cache: cache, log: logger}, nil
}

// LoginURL implements SessionAPI.
func (s *LocalSession) LoginURL(state string) string {
	return s.auth.AuthURL(state)
}

// Exchange implements SessionAPI.
func (s *LocalSession) Exchange(ctx context.Context, code, _ string) (AccessToken, error) {
	tok, err := s.auth.Exchange(ctx, code)
	if err != nil {
		return AccessToken{}, fmt.Errorf("exchanging code for token: %w", err)
	}
	if err := s.cache.Save(tok); err != nil {
		return AccessToken{}, err
	}
	return FromOAuth2(tok), nil
}

// Refresh implements SessionAPI.
func (s *LocalSession) Refresh(ctx context.Context, current AccessToken) (AccessToken, error) {
	cached, err := s.cache.Load()
	if err != nil {
		return AccessToken{}, err
	}
	if cached == nil {
		return AccessToken{}, ErrNoSession
	}
	if cached.AccessToken != current.Value {
		return FromOAuth2(cached), ErrConflict
	}
	if cached.RefreshToken == "" {
		return AccessToken{}, errors.New("no refresh token available")
	}

	fresh, err := s.auth.RefreshToken(ctx, cached)
	if err != nil {
		if Rejected(err) {
			return AccessToken{}, fmt.Errorf("refreshing token: %w", err)
		}
		return AccessToken{}, fmt.Errorf("%w: refreshing token: %w", ErrUnavailable, err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = cached.RefreshToken
	}
	if err := s.cache.Save(fresh); err != nil {
		s.log.Warn("failed to cache refreshed token", "err", err)
	}
	return FromOAuth2(fresh), nil
}

// Current implements SessionAPI.
func (s *LocalSession) Current(_ context.Context) (AccessToken, error) {
	cached, err := s.cache.Load()
	if err != nil {
		return AccessToken{}, err
	}
	if cached == nil {
		return AccessToken{}, ErrNoSession
	}
	return FromOAuth2(cached), nil
}

// Logout implements SessionAPI.
func (s *LocalSession) Logout(_ context.Context) error {
	return s.cache.Delete()
}

// Login runs the authorization code flow against a temporary callback server
// listening on the redirect URL's host. show receives the URL to open.
func (s *LocalSession) Login(ctx context.Context, redirectURL string, show func(authURL string)) (AccessToken, error) {
	u, err := url.Parse(redirectURL)
	if err != nil {
		return AccessToken{}, fmt.Errorf("parsing redirect url: %w", err)
	}

	state, err := generateState()
	if err != nil {
		return AccessToken{}, fmt.Errorf("generating state: %w", err)
	}

	tokenCh := make(chan *oauth2.Token, 1)
	errCh := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc(u.Path, func(w http.ResponseWriter, r *http.Request) {
		s.handleCallback(w, r, state, tokenCh, errCh)
	})

	server := &http.Server{
		Addr:              u.Host,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("callback server error: %w", err)
		}
	}()

	show(s.auth.AuthURL(state))

	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}

	var token *oauth2.Token
	select {
	case token = <-tokenCh:
	case err := <-errCh:
		shutdown()
		return AccessToken{}, err
	case <-time.After(callbackTimeout):
		shutdown()
		return AccessToken{}, ErrAuthTimeout
	case <-ctx.Done():
		shutdown()
		return AccessToken{}, ctx.Err()
	}
	shutdown()

	if err := s.cache.Save(token); err != nil {
		s.log.Warn("failed to cache token", "err", err)
	}
	return FromOAuth2(token), nil
}

func (s *LocalSession) handleCallback(w http.ResponseWriter, r *http.Request, expectedState string, tokenCh chan<- *oauth2.Token, errCh chan<- error) {
	if r.URL.Query().Get("state") != expectedState {
		http.Error(w, "State mismatch", http.StatusBadRequest)
		errCh <- ErrStateMismatch
		return
	}

	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		http.Error(w, "Authentication failed: "+errMsg, http.StatusBadRequest)
		errCh <- fmt.Errorf("spotify auth error: %s", errMsg)
		return
	}

	token, err := s.auth.Token(r.Context(), expectedState, r)
	if err != nil {
		http.Error(w, "Failed to get token", http.StatusInternalServerError)
		errCh <- fmt.Errorf("exchanging code for token: %w", err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "Authenticated. You can close this window and return to the terminal.")

	tokenCh <- token
}

// generateState creates a random state string for OAuth.
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
