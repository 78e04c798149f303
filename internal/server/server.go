package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/kvthweatt/USB-Monitor/internal/device"
	"github.com/kvthweatt/USB-Monitor/internal/policy"
)

const shutdownTimeout = 10 * time.Second

// Server is the local HTTP control API. Device lifecycle helpers present
// devices through it and operators manage rules and levels.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	addr       string
	log        zerolog.Logger

	engine       *policy.Engine
	authorizer   *device.Authorizer
	securityPath string
}

// Config holds server configuration
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// TLS is optional; nil serves plain HTTP.
	TLS *tls.Config
	// SecurityConfigPath is the default target of config reload and save.
	SecurityConfigPath string
}

// DefaultConfig returns a default server configuration
func DefaultConfig() Config {
	return Config{
		Addr:         "127.0.0.1:8787",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func New(cfg Config, engine *policy.Engine, authorizer *device.Authorizer, logger zerolog.Logger) *Server {
	s := &Server{
		router:       mux.NewRouter(),
		addr:         cfg.Addr,
		log:          logger.With().Str("component", "server").Logger(),
		engine:       engine,
		authorizer:   authorizer,
		securityPath: cfg.SecurityConfigPath,
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		TLSConfig:    cfg.TLS,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errChan := make(chan error, 1)
	go func() {
		s.log.Info().
			Str("addr", ln.Addr().String()).
			Bool("tls", s.httpServer.TLSConfig != nil).
			Msg("server starting")

		var err error
		if s.httpServer.TLSConfig != nil {
			err = s.httpServer.ServeTLS(ln, "", "")
		} else {
			err = s.httpServer.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.log.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		s.log.Info().Msg("server shut down gracefully")
		return nil
	case err := <-errChan:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/devices/authorize", s.handleAuthorize).Methods(http.MethodPost)
	api.HandleFunc("/devices/allowed", s.handleAllowed).Methods(http.MethodPost)
	api.HandleFunc("/devices/compliance", s.handleCompliance).Methods(http.MethodPost)
	api.HandleFunc("/devices/revoke", s.handleRevoke).Methods(http.MethodPost)
	api.HandleFunc("/devices/history", s.handleHistory).Methods(http.MethodGet)

	api.HandleFunc("/rules", s.handleListRules).Methods(http.MethodGet)
	api.HandleFunc("/rules", s.handleAddRule).Methods(http.MethodPost)
	api.HandleFunc("/rules/{vendor}/{product}", s.handleDeleteRule).Methods(http.MethodDelete)

	api.HandleFunc("/security-level", s.handleGetSecurityLevel).Methods(http.MethodGet)
	api.HandleFunc("/security-level", s.handleSetSecurityLevel).Methods(http.MethodPut)
	api.HandleFunc("/policy", s.handleGetPolicy).Methods(http.MethodGet)
	api.HandleFunc("/policy", s.handleSetPolicy).Methods(http.MethodPut)

	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)

	api.HandleFunc("/config/reload", s.handleConfigReload).Methods(http.MethodPost)
	api.HandleFunc("/config/save", s.handleConfigSave).Methods(http.MethodPost)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
