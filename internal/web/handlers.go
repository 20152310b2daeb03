package web

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"github.com/justestif/go-spotify-playback/internal/auth"
	"github.com/justestif/go-spotify-playback/internal/db"
)

const stateCookieName = "oauth_state"

// TokenAuthority runs the OAuth code flow and refreshes tokens.
// *spotifyauth.Authenticator satisfies it.
type TokenAuthority interface {
	AuthURL(state string, opts ...oauth2.AuthCodeOption) string
	Token(ctx context.Context, state string, r *http.Request, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
	RefreshToken(ctx context.Context, token *oauth2.Token) (*oauth2.Token, error)
}

// UserLookup resolves the profile a freshly issued token belongs to.
type UserLookup func(ctx context.Context, token *oauth2.Token) (*db.User, error)

// UserRecorder persists user profiles. *db.UserRepository satisfies it.
type UserRecorder interface {
	Upsert(ctx context.Context, user *db.User) error
	TouchLogin(ctx context.Context, id string, at time.Time) error
}

// SpotifyUserLookup asks the Web API who the token belongs to.
func SpotifyUserLookup(authenticator *spotifyauth.Authenticator) UserLookup {
	return func(ctx context.Context, token *oauth2.Token) (*db.User, error) {
		client := spotify.New(authenticator.Client(ctx, token))
		user, err := client.CurrentUser(ctx)
		if err != nil {
			return nil, fmt.Errorf("getting current user: %w", err)
		}
		return &db.User{ID: user.ID, DisplayName: user.DisplayName, Email: user.Email}, nil
	}
}

// Handlers contains HTTP handlers for the session server.
type Handlers struct {
	auth       TokenAuthority
	sessions   SessionManager
	lookupUser UserLookup
	users      UserRecorder
	log        *log.Logger

	// refreshMu serializes refreshes within this process. SwapToken covers
	// servers sharing one database.
	refreshMu sync.Mutex
}

// NewHandlers creates a new Handlers instance. users may be nil.
func NewHandlers(authority TokenAuthority, sessions SessionManager, lookup UserLookup, users UserRecorder, logger *log.Logger) *Handlers {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Handlers{
		auth:       authority,
		sessions:   sessions,
		lookupUser: lookup,
		users:      users,
		log:        logger,
	}
}

// Login initiates the Spotify OAuth flow (GET /auth/login).
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	// Generate state for CSRF protection
	state, err := generateOAuthState()
	if err != nil {
		http.Error(w, "Failed to generate state", http.StatusInternalServerError)
		return
	}

	// Store state in cookie for validation on callback
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   300, // 5 minutes
	})

	http.Redirect(w, r, h.auth.AuthURL(state), http.StatusTemporaryRedirect)
}

// Callback handles the OAuth callback from Spotify (GET /callback).
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	// Verify state
	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil {
		http.Error(w, "Missing state cookie", http.StatusBadRequest)
		return
	}

	state := r.URL.Query().Get("state")
	if state != stateCookie.Value {
		http.Error(w, "State mismatch", http.StatusBadRequest)
		return
	}

	// Clear state cookie
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})

	// Check for error from Spotify
	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		http.Error(w, fmt.Sprintf("Spotify auth error: %s", errMsg), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	token, err := h.auth.Token(ctx, state, r)
	if err != nil {
		h.log.Error("exchanging code failed", "err", err)
		http.Error(w, "Failed to get token", http.StatusInternalServerError)
		return
	}

	user, err := h.lookupUser(ctx, token)
	if err != nil {
		h.log.Error("looking up user failed", "err", err)
		http.Error(w, "Failed to get user info", http.StatusInternalServerError)
		return
	}

	if h.users != nil {
		if err := h.users.Upsert(ctx, user); err != nil {
			h.log.Error("saving user failed", "user", user.ID, "err", err)
			http.Error(w, "Failed to save user", http.StatusInternalServerError)
			return
		}
		if err := h.users.TouchLogin(ctx, user.ID, time.Now()); err != nil {
			h.log.Warn("recording login failed", "user", user.ID, "err", err)
		}
	}

	session, err := h.sessions.Create(ctx, token, user.ID, user.DisplayName)
	if err != nil {
		h.log.Error("creating session failed", "err", err)
		http.Error(w, "Failed to create session", http.StatusInternalServerError)
		return
	}
	h.sessions.SetCookie(w, session)
	h.log.Info("session created", "user", user.ID, "session", session.ID)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "Signed in as %s.\n\nSession id: %s\n\nSet session.id to this value in the player's config.toml.\n",
		nameOr(user), session.ID)
}

// Token returns the session's current access token (GET /auth/token).
func (h *Handlers) Token(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDFromRequest(r)
	if !ok {
		http.Error(w, "No session", http.StatusUnauthorized)
		return
	}
	session := h.loadSession(r.Context(), w, id)
	if session == nil {
		return
	}
	writeToken(w, http.StatusOK, session.Token)
}

// loadSession writes an error response and returns nil when the session
// cannot be read. A store failure is not the client's fault and must not
// read as a revoked session.
func (h *Handlers) loadSession(ctx context.Context, w http.ResponseWriter, id uuid.UUID) *Session {
	session, err := h.sessions.Get(ctx, id)
	switch {
	case errors.Is(err, db.ErrNotFound):
		http.Error(w, "No session", http.StatusUnauthorized)
	case err != nil:
		h.log.Error("loading session failed", "session", id, "err", err)
		http.Error(w, "Session store unavailable", http.StatusServiceUnavailable)
	default:
		return session
	}
	return nil
}

type refreshRequest struct {
	AccessToken string `json:"access_token"`
}

// Refresh refreshes the session's token on behalf of a client
// (POST /auth/refresh). A client holding a token other than the session's
// current one gets 409 and the current token instead.
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDFromRequest(r)
	if !ok {
		http.Error(w, "No session", http.StatusUnauthorized)
		return
	}

	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	h.refreshMu.Lock()
	defer h.refreshMu.Unlock()

	ctx := r.Context()
	session := h.loadSession(ctx, w, id)
	if session == nil {
		return
	}

	if req.AccessToken != session.Token.AccessToken {
		h.log.Debug("refresh with stale token", "session", id)
		writeToken(w, http.StatusConflict, session.Token)
		return
	}

	fresh, err := h.auth.RefreshToken(ctx, session.Token)
	if err != nil {
		if auth.Rejected(err) {
			// the grant is gone; the session cannot be recovered
			h.log.Warn("refresh token rejected", "session", id, "err", err)
			h.sessions.Delete(ctx, id)
			http.Error(w, "Session revoked", http.StatusUnauthorized)
			return
		}
		h.log.Error("refreshing token failed", "session", id, "err", err)
		http.Error(w, "Refresh failed", http.StatusBadGateway)
		return
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = session.Token.RefreshToken
	}

	err = h.sessions.SwapToken(ctx, id, session.Token.AccessToken, fresh)
	switch {
	case errors.Is(err, db.ErrStale):
		// another server instance refreshed first
		current := h.loadSession(ctx, w, id)
		if current == nil {
			return
		}
		writeToken(w, http.StatusConflict, current.Token)
		return
	case errors.Is(err, db.ErrNotFound):
		http.Error(w, "No session", http.StatusUnauthorized)
		return
	case err != nil:
		h.log.Error("storing refreshed token failed", "session", id, "err", err)
		http.Error(w, "Failed to store token", http.StatusInternalServerError)
		return
	}

	h.log.Debug("token refreshed", "session", id, "expires", fresh.Expiry)
	writeToken(w, http.StatusOK, fresh)
}

// Logout ends the session (POST /auth/logout).
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if id, ok := sessionIDFromRequest(r); ok {
		h.sessions.Delete(r.Context(), id)
	}
	h.sessions.ClearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func writeToken(w http.ResponseWriter, status int, tok *oauth2.Token) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(auth.FromOAuth2(tok))
}

func nameOr(u *db.User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.ID
}

// generateOAuthState creates a random state string for OAuth.
func generateOAuthState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
