// Package server exposes the catalog over HTTP: the public site and
// catalog read, the admin login, and the upload and delete endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"melodycloud/internal/audit"
	"melodycloud/internal/auth"
	"melodycloud/internal/config"
	"melodycloud/internal/library"
	"melodycloud/internal/ngrok"
	"melodycloud/internal/watcher"

	"github.com/sirupsen/logrus"
)

// shutdownTimeout bounds how long in-flight requests may take to finish.
const shutdownTimeout = 15 * time.Second

// Deps are the collaborators a Server needs. Journal, Watcher and Ngrok
// are optional.
type Deps struct {
	Library *library.Service
	Guard   *auth.Guard
	Journal *audit.Journal
	Watcher *watcher.Watcher
	Ngrok   *ngrok.Service
}

// Server is the MelodyCloud HTTP server
type Server struct {
	config       *config.Config
	logger       *logrus.Logger
	library      *library.Service
	guard        *auth.Guard
	journal      *audit.Journal
	watcher      *watcher.Watcher
	ngrokService *ngrok.Service
	startedAt    time.Time
}

// New creates a server. Start runs it.
func New(cfg *config.Config, deps Deps, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	return &Server{
		config:       cfg,
		logger:       logger,
		library:      deps.Library,
		guard:        deps.Guard,
		journal:      deps.Journal,
		watcher:      deps.Watcher,
		ngrokService: deps.Ngrok,
		startedAt:    time.Now(),
	}
}

// Handler returns the fully wrapped request handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.setupRoutes(mux)

	var h http.Handler = mux
	h = securityHeadersMiddleware(h)
	h = s.corsMiddleware(h)
	h = s.requestLoggingMiddleware(h)
	h = s.panicRecoveryMiddleware(h)
	return h
}

func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.Handle("/", s.staticHandler())
	mux.HandleFunc("/api/tracks", s.handleGetTracks)
	mux.HandleFunc("/api/config", s.handleGetConfig)
	mux.HandleFunc("/health", s.handleHealthCheck)

	mux.HandleFunc("/api/login", s.handleLogin)
	mux.HandleFunc("/api/logout", s.handleLogout)
	mux.HandleFunc("/api/session", s.handleSessionStatus)

	mux.HandleFunc("/api/upload", s.requireAdmin(s.handleUpload, s.respondWithError))
	mux.HandleFunc("/api/tracks/delete", s.requireAdmin(s.handleDeleteTrack, s.respondWithFailure))
	mux.HandleFunc("/api/events", s.requireAdmin(s.handleGetEvents, s.respondWithError))
}

// Start serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.GetAddress(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Duration(s.config.Server.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(s.config.Server.WriteTimeout) * time.Second,
	}

	if s.watcher != nil {
		if err := s.watcher.Start(ctx); err != nil {
			s.logger.WithError(err).Warn("Could not start content watcher")
		} else {
			defer s.watcher.Close()
		}
	}

	localAddress := fmt.Sprintf("http://%s", s.config.GetAddress())
	s.logger.WithFields(logrus.Fields{
		"address":     localAddress,
		"site_root":   s.config.Server.SiteRoot,
		"catalog":     s.config.Catalog.DocumentPath,
		"track_count": len(s.library.Catalog().Load()),
		"admin_login": s.guard.Enabled(),
	}).Info("MelodyCloud server starting")

	if s.ngrokService != nil {
		if err := s.ngrokService.StartTunnel(ctx, localAddress); err != nil {
			s.logger.WithError(err).Warn("Could not start ngrok tunnel")
		} else {
			defer s.ngrokService.Stop()
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("Server shutdown complete")
	return nil
}
