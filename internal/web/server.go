package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/justestif/go-spotify-playback/internal/auth"
	"github.com/justestif/go-spotify-playback/internal/db"
)

const (
	// DefaultAddr is the default server address.
	DefaultAddr = "127.0.0.1:8080"

	sweepInterval = time.Hour
)

// ServerConfig holds server configuration.
type ServerConfig struct {
	Addr         string
	ClientID     string
	ClientSecret string
	// RedirectURL must match the Spotify app configuration.
	RedirectURL string
	// DB stores users and sessions; nil keeps sessions in memory.
	DB     *db.DB
	Logger *log.Logger
}

// Server is the HTTP session server.
type Server struct {
	router   chi.Router
	server   *http.Server
	sessions SessionManager
	log      *log.Logger
}

// NewServer creates a new session server.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.RedirectURL == "" {
		cfg.RedirectURL = "http://" + cfg.Addr + "/callback"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	authenticator, err := auth.NewAuthenticator(auth.Credentials{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
	})
	if err != nil {
		return nil, err
	}

	var (
		sessions SessionManager
		users    UserRecorder
	)
	if cfg.DB != nil {
		sessions = NewDBSessionStore(cfg.DB)
		users = cfg.DB.Users()
	} else {
		sessions = NewSessionStore()
	}

	handlers := NewHandlers(authenticator, sessions, SpotifyUserLookup(authenticator), users, logger)

	s := &Server{
		router:   newRouter(handlers),
		sessions: sessions,
		log:      logger,
	}

	// Create HTTP server
	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// newRouter configures middleware and routes.
func newRouter(h *Handlers) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/auth/login", h.Login)
	r.Get("/callback", h.Callback)
	r.Get("/auth/token", h.Token)
	r.Post("/auth/refresh", h.Refresh)
	r.Post("/auth/logout", h.Logout)
	return r
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("session server listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()

	for {
		select {
		case err := <-errCh:
			return err
		case <-sweep.C:
			n, err := s.sessions.DeleteExpired(ctx)
			if err != nil {
				s.log.Warn("removing expired sessions failed", "err", err)
			} else if n > 0 {
				s.log.Info("removed expired sessions", "count", n)
			}
		case <-ctx.Done():
			s.log.Info("shutting down session server")

			// Graceful shutdown with timeout
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if err := s.server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown: %w", err)
			}
			return nil
		}
	}
}
