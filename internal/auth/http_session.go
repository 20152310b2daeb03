package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const sessionCookieName = "session_id"

// HTTPSession is a SessionAPI backed by the session server. The server holds
// the refresh token; this client only ever sees access tokens.
type HTTPSession struct {
	baseURL   string
	sessionID string
	client    *http.Client
}

// NewHTTPSession creates a client for the session server at baseURL.
func NewHTTPSession(baseURL, sessionID string, client *http.Client) *HTTPSession {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPSession{baseURL: baseURL, sessionID: sessionID, client: client}
}

// LoginURL implements SessionAPI. The server runs the OAuth flow itself.
func (s *HTTPSession) LoginURL(_ string) string {
	return s.baseURL + "/auth/login"
}

// Exchange implements SessionAPI. Codes are exchanged by the server's
// callback handler, never by clients.
func (s *HTTPSession) Exchange(_ context.Context, _, _ string) (AccessToken, error) {
	return AccessToken{}, errors.New("code exchange is handled by the session server")
}

// Refresh implements SessionAPI.
func (s *HTTPSession) Refresh(ctx context.Context, current AccessToken) (AccessToken, error) {
	body, err := json.Marshal(refreshRequest{AccessToken: current.Value})
	if err != nil {
		return AccessToken{}, fmt.Errorf("encoding refresh request: %w", err)
	}

	tok, status, err := s.do(ctx, http.MethodPost, "/auth/refresh", body)
	if err != nil {
		return AccessToken{}, err
	}

	switch status {
	case http.StatusOK:
		return tok, nil
	case http.StatusConflict:
		return tok, ErrConflict
	case http.StatusUnauthorized:
		return AccessToken{}, ErrNoSession
	default:
		return AccessToken{}, statusError("refresh", status)
	}
}

// Current implements SessionAPI.
func (s *HTTPSession) Current(ctx context.Context) (AccessToken, error) {
	tok, status, err := s.do(ctx, http.MethodGet, "/auth/token", nil)
	if err != nil {
		return AccessToken{}, err
	}
	switch status {
	case http.StatusOK:
		return tok, nil
	case http.StatusUnauthorized:
		return AccessToken{}, ErrNoSession
	default:
		return AccessToken{}, statusError("token", status)
	}
}

// Logout implements SessionAPI.
func (s *HTTPSession) Logout(ctx context.Context) error {
	_, status, err := s.do(ctx, http.MethodPost, "/auth/logout", nil)
	if err != nil {
		return err
	}
	if status >= 300 && status != http.StatusUnauthorized {
		return fmt.Errorf("logout: unexpected status %d", status)
	}
	return nil
}

// statusError marks server-side failures as ErrUnavailable so the session
// outlives a server restart or a Spotify outage.
func statusError(op string, status int) error {
	if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s: status %d", ErrUnavailable, op, status)
	}
	return fmt.Errorf("%s: unexpected status %d", op, status)
}

type refreshRequest struct {
	AccessToken string `json:"access_token"`
}

func (s *HTTPSession) do(ctx context.Context, method, path string, body []byte) (AccessToken, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return AccessToken{}, 0, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: s.sessionID})

	resp, err := s.client.Do(req)
	if err != nil {
		return AccessToken{}, 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusConflict {
		_, _ = io.Copy(io.Discard, resp.Body)
		return AccessToken{}, resp.StatusCode, nil
	}

	var tok AccessToken
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return AccessToken{}, resp.StatusCode, fmt.Errorf("decoding token: %w", err)
	}
	return tok, resp.StatusCode, nil
}
