package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/justestif/go-spotify-playback/internal/auth"
	"github.com/justestif/go-spotify-playback/internal/db"
)

var testExpiry = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeAuthority struct {
	mu         sync.Mutex
	issued     *oauth2.Token
	refreshErr error
	refreshes  int
}

func (f *fakeAuthority) AuthURL(state string, _ ...oauth2.AuthCodeOption) string {
	return "https://accounts.example.com/authorize?state=" + state
}

func (f *fakeAuthority) Token(_ context.Context, _ string, _ *http.Request, _ ...oauth2.AuthCodeOption) (*oauth2.Token, error) {
	return f.issued, nil
}

func (f *fakeAuthority) RefreshToken(_ context.Context, tok *oauth2.Token) (*oauth2.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	f.refreshes++
	return &oauth2.Token{
		AccessToken: tok.AccessToken + "+",
		Expiry:      tok.Expiry.Add(time.Hour),
	}, nil
}

func (f *fakeAuthority) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

type fakeRecorder struct {
	upserted []string
	touched  []string
}

func (f *fakeRecorder) Upsert(_ context.Context, user *db.User) error {
	f.upserted = append(f.upserted, user.ID)
	return nil
}

func (f *fakeRecorder) TouchLogin(_ context.Context, id string, _ time.Time) error {
	f.touched = append(f.touched, id)
	return nil
}

func lookupAs(id, name string) UserLookup {
	return func(context.Context, *oauth2.Token) (*db.User, error) {
		return &db.User{ID: id, DisplayName: name}, nil
	}
}

type rig struct {
	authority *fakeAuthority
	store     *SessionStore
	recorder  *fakeRecorder
	router    http.Handler
}

func newRig() *rig {
	r := &rig{
		authority: &fakeAuthority{issued: &oauth2.Token{AccessToken: "a1", RefreshToken: "r1", Expiry: testExpiry}},
		store:     NewSessionStore(),
		recorder:  &fakeRecorder{},
	}
	h := NewHandlers(r.authority, r.store, lookupAs("user1", "User One"), r.recorder, nil)
	r.router = newRouter(h)
	return r
}

func (r *rig) seed(t *testing.T) uuid.UUID {
	t.Helper()
	s, err := r.store.Create(context.Background(),
		&oauth2.Token{AccessToken: "a1", RefreshToken: "r1", Expiry: testExpiry}, "user1", "User One")
	require.NoError(t, err)
	return s.ID
}

func (r *rig) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.router.ServeHTTP(rec, req)
	return rec
}

func withSession(req *http.Request, id uuid.UUID) *http.Request {
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: id.String()})
	return req
}

func newRefresh(id uuid.UUID, access string) *http.Request {
	body := `{"access_token":"` + access + `"}`
	return withSession(httptest.NewRequest(http.MethodPost, "/auth/refresh", strings.NewReader(body)), id)
}

func decodeToken(t *testing.T, rec *httptest.ResponseRecorder) auth.AccessToken {
	t.Helper()
	var tok auth.AccessToken
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&tok))
	return tok
}

func TestRefresh(t *testing.T) {
	tests := []struct {
		name       string
		access     string
		unknown    bool
		refreshErr error
		wantStatus int
		wantToken  string
		wantCalls  int
		wantGone   bool
	}{
		{
			name:       "current token is refreshed",
			access:     "a1",
			wantStatus: http.StatusOK,
			wantToken:  "a1+",
			wantCalls:  1,
		},
		{
			name:       "stale token gets the current one",
			access:     "a0",
			wantStatus: http.StatusConflict,
			wantToken:  "a1",
		},
		{
			name:       "unknown session",
			access:     "a1",
			unknown:    true,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "upstream failure keeps the session",
			access:     "a1",
			refreshErr: errors.New("connection reset by peer"),
			wantStatus: http.StatusBadGateway,
		},
		{
			name:   "rejected grant ends the session",
			access: "a1",
			refreshErr: &oauth2.RetrieveError{
				Response:  &http.Response{StatusCode: http.StatusBadRequest},
				ErrorCode: "invalid_grant",
			},
			wantStatus: http.StatusUnauthorized,
			wantGone:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig()
			r.authority.refreshErr = tt.refreshErr
			id := r.seed(t)
			if tt.unknown {
				id = uuid.New()
			}

			rec := r.serve(newRefresh(id, tt.access))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCalls, r.authority.refreshCount())
			if tt.wantToken != "" {
				assert.Equal(t, tt.wantToken, decodeToken(t, rec).Value)
			}
			if !tt.unknown {
				assert.Equal(t, tt.wantGone, lookup(t, r.store, id) == nil)
			}
		})
	}
}

func TestRefresh_StoresNewTokenAndKeepsRefreshToken(t *testing.T) {
	r := newRig()
	id := r.seed(t)

	rec := r.serve(newRefresh(id, "a1"))
	require.Equal(t, http.StatusOK, rec.Code)

	got := decodeToken(t, rec)
	assert.True(t, got.ExpiresAt.Equal(testExpiry.Add(time.Hour)))

	s := lookup(t, r.store, id)
	require.NotNil(t, s)
	assert.Equal(t, "a1+", s.Token.AccessToken)
	assert.Equal(t, "r1", s.Token.RefreshToken)
}

func TestRefresh_RacingClientsRefreshOnce(t *testing.T) {
	r := newRig()
	id := r.seed(t)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		codes []int
	)
	for range 2 {
		wg.Go(func() {
			rec := r.serve(newRefresh(id, "a1"))
			mu.Lock()
			codes = append(codes, rec.Code)
			mu.Unlock()
		})
	}
	wg.Wait()

	assert.ElementsMatch(t, []int{http.StatusOK, http.StatusConflict}, codes)
	assert.Equal(t, 1, r.authority.refreshCount())
}

func TestRefresh_BadRequests(t *testing.T) {
	r := newRig()
	id := r.seed(t)

	noCookie := httptest.NewRequest(http.MethodPost, "/auth/refresh", strings.NewReader(`{"access_token":"a1"}`))
	assert.Equal(t, http.StatusUnauthorized, r.serve(noCookie).Code)

	badBody := withSession(httptest.NewRequest(http.MethodPost, "/auth/refresh", strings.NewReader("{")), id)
	assert.Equal(t, http.StatusBadRequest, r.serve(badBody).Code)

	wrongMethod := withSession(httptest.NewRequest(http.MethodGet, "/auth/refresh", nil), id)
	assert.Equal(t, http.StatusMethodNotAllowed, r.serve(wrongMethod).Code)
}

func TestToken(t *testing.T) {
	r := newRig()
	id := r.seed(t)

	rec := r.serve(withSession(httptest.NewRequest(http.MethodGet, "/auth/token", nil), id))
	require.Equal(t, http.StatusOK, rec.Code)
	tok := decodeToken(t, rec)
	assert.Equal(t, "a1", tok.Value)
	assert.True(t, tok.ExpiresAt.Equal(testExpiry))

	rec = r.serve(httptest.NewRequest(http.MethodGet, "/auth/token", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogout(t *testing.T) {
	r := newRig()
	id := r.seed(t)

	rec := r.serve(withSession(httptest.NewRequest(http.MethodPost, "/auth/logout", nil), id))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Nil(t, lookup(t, r.store, id))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, sessionCookieName, cookies[0].Name)
	assert.Negative(t, cookies[0].MaxAge)
}

func TestLoginAndCallback(t *testing.T) {
	r := newRig()

	rec := r.serve(httptest.NewRequest(http.MethodGet, "/auth/login", nil))
	require.Equal(t, http.StatusTemporaryRedirect, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)

	var stateCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == stateCookieName {
			stateCookie = c
		}
	}
	require.NotNil(t, stateCookie)
	assert.Equal(t, state, stateCookie.Value)

	cb := httptest.NewRequest(http.MethodGet, "/callback?code=xyz&state="+state, nil)
	cb.AddCookie(stateCookie)
	rec = r.serve(cb)
	require.Equal(t, http.StatusOK, rec.Code)

	var sessionCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookieName {
			sessionCookie = c
		}
	}
	require.NotNil(t, sessionCookie)
	assert.Contains(t, rec.Body.String(), sessionCookie.Value)

	id, err := uuid.Parse(sessionCookie.Value)
	require.NoError(t, err)
	s := lookup(t, r.store, id)
	require.NotNil(t, s)
	assert.Equal(t, "user1", s.UserID)
	assert.Equal(t, "a1", s.Token.AccessToken)
	assert.Equal(t, []string{"user1"}, r.recorder.upserted)
	assert.Equal(t, []string{"user1"}, r.recorder.touched)
}

func TestCallback_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		cookie string
	}{
		{name: "missing state cookie", query: "state=s1&code=x"},
		{name: "state mismatch", query: "state=s2&code=x", cookie: "s1"},
		{name: "spotify error", query: "state=s1&error=access_denied", cookie: "s1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig()
			req := httptest.NewRequest(http.MethodGet, "/callback?"+tt.query, nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: stateCookieName, Value: tt.cookie})
			}

			rec := r.serve(req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, r.recorder.upserted)
		})
	}
}

func TestHTTPSessionAgainstServer(t *testing.T) {
	r := newRig()
	id := r.seed(t)
	srv := httptest.NewServer(r.router)
	t.Cleanup(srv.Close)

	client := auth.NewHTTPSession(srv.URL, id.String(), srv.Client())
	ctx := context.Background()

	tok, err := client.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a1", tok.Value)

	fresh, err := client.Refresh(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, "a1+", fresh.Value)

	current, err := client.Refresh(ctx, tok)
	require.ErrorIs(t, err, auth.ErrConflict)
	assert.Equal(t, "a1+", current.Value)

	require.NoError(t, client.Logout(ctx))
	_, err = client.Current(ctx)
	assert.ErrorIs(t, err, auth.ErrNoSession)
}

// racingStore lets another server instance win every refresh.
type racingStore struct {
	*SessionStore
}

func (s racingStore) SwapToken(ctx context.Context, id uuid.UUID, expected string, tok *oauth2.Token) error {
	_ = s.SessionStore.SwapToken(ctx, id, expected, &oauth2.Token{AccessToken: "other", Expiry: testExpiry})
	return s.SessionStore.SwapToken(ctx, id, expected, tok)
}

func TestRefresh_LosesToAnotherInstance(t *testing.T) {
	r := newRig()
	id := r.seed(t)
	router := newRouter(NewHandlers(r.authority, racingStore{r.store}, lookupAs("user1", ""), nil, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, newRefresh(id, "a1"))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "other", decodeToken(t, rec).Value)
	assert.Equal(t, "other", lookup(t, r.store, id).Token.AccessToken)
}

// brokenStore fails every read the way an unreachable database does.
type brokenStore struct {
	*SessionStore
}

func (brokenStore) Get(context.Context, uuid.UUID) (*Session, error) {
	return nil, errors.New("connection refused")
}

func TestStoreFailureIsNotUnauthorized(t *testing.T) {
	r := newRig()
	id := r.seed(t)
	router := newRouter(NewHandlers(r.authority, brokenStore{r.store}, lookupAs("user1", ""), nil, nil))

	for _, req := range []*http.Request{
		withSession(httptest.NewRequest(http.MethodGet, "/auth/token", nil), id),
		newRefresh(id, "a1"),
	} {
		t.Run(req.URL.Path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		})
	}
	assert.Zero(t, r.authority.refreshCount())
	assert.NotNil(t, lookup(t, r.store, id))
}

func TestHTTPSession_ServerOutageKeepsClientSession(t *testing.T) {
	r := newRig()
	id := r.seed(t)
	router := newRouter(NewHandlers(r.authority, brokenStore{r.store}, lookupAs("user1", ""), nil, nil))
	srv := httptest.NewServer(router)
	defer srv.Close()

	var terminated int
	guard := auth.NewGuard(auth.NewHTTPSession(srv.URL, id.String(), srv.Client()),
		auth.WithTerminateHook(func(error) { terminated++ }))
	guard.Set(auth.AccessToken{Value: "a1", ExpiresAt: time.Now().Add(-time.Minute)})

	_, err := guard.ValidToken(context.Background())
	require.ErrorIs(t, err, auth.ErrUnavailable)
	assert.Zero(t, terminated)
	assert.Equal(t, "a1", guard.Token().Value)
}
