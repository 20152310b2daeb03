package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

var (
	// ErrUnauthorized is returned when no usable token can be obtained and the
	// session has been terminated.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrConflict is returned by SessionAPI.Refresh when the caller's token no
	// longer matches the session's canonical token.
	ErrConflict = errors.New("token conflict")

	// ErrNoSession is returned when there is no stored session to read from.
	ErrNoSession = errors.New("no session")

	// ErrUnavailable is returned when the authority could not answer. The
	// session is still valid and the call may be retried.
	ErrUnavailable = errors.New("token authority unavailable")
)

// Rejected reports whether err is the token endpoint refusing the grant,
// as opposed to failing to answer. Rate limiting and server errors are not
// rejections.
func Rejected(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) || re.Response == nil {
		return false
	}
	code := re.Response.StatusCode
	return code < http.StatusInternalServerError && code != http.StatusTooManyRequests
}

// AccessToken is a bearer token and the instant it stops being accepted.
// A zero ExpiresAt means the expiry is unknown, which reads as expired.
type AccessToken struct {
	Value     string    `json:"access_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the token must be refreshed before use.
func (t AccessToken) Expired(now time.Time) bool {
	return t.Value == "" || t.ExpiresAt.IsZero() || !now.Before(t.ExpiresAt)
}

// FromOAuth2 converts an oauth2 token.
func FromOAuth2(tok *oauth2.Token) AccessToken {
	if tok == nil {
		return AccessToken{}
	}
	return AccessToken{Value: tok.AccessToken, ExpiresAt: tok.Expiry}
}

// OAuth2 converts the token for use with an oauth2 transport.
func (t AccessToken) OAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken: t.Value,
		TokenType:   "Bearer",
		Expiry:      t.ExpiresAt,
	}
}

// SessionAPI is the authority that issues and refreshes tokens for a session.
type SessionAPI interface {
	// LoginURL returns the URL that starts the authorization flow.
	LoginURL(state string) string
	// Exchange trades an authorization code for a token.
	Exchange(ctx context.Context, code, state string) (AccessToken, error)
	// Refresh returns a new token for current, or ErrConflict when current is
	// not the session's canonical token. An error wrapping ErrUnavailable
	// leaves the session intact; any other error is fatal to it.
	Refresh(ctx context.Context, current AccessToken) (AccessToken, error)
	// Current returns the canonical token without refreshing it.
	Current(ctx context.Context) (AccessToken, error)
	// Logout ends the session.
	Logout(ctx context.Context) error
}
