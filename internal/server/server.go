package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openmined/peersync/internal/server/content"
	"github.com/openmined/peersync/internal/server/hub"
	"github.com/openmined/peersync/internal/server/metastore"
	"github.com/openmined/peersync/internal/server/reconcile"
	"github.com/openmined/peersync/internal/utils"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// Server is the coordinator: metadata store, content backend, hub and the
// HTTP surface in front of them.
type Server struct {
	config     *Config
	server     *http.Server
	hub        *hub.Hub
	store      *metastore.Store
	content    content.Backend
	reconciler *reconcile.Reconciler
}

func New(config *Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := utils.EnsureParent(config.DBPath); err != nil {
		return nil, err
	}

	backend, err := content.New(&config.Content, config.DataDir)
	if err != nil {
		return nil, fmt.Errorf("content backend: %w", err)
	}

	store, err := metastore.Open(config.DBPath)
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:     config,
		hub:        hub.New(hub.WithHeartbeatInterval(config.HeartbeatInterval)),
		store:      store,
		content:    backend,
		reconciler: reconcile.NewReconciler(store, config.ConflictWindow),
	}

	handler, err := SetupRoutes(s)
	if err != nil {
		store.Close()
		return nil, err
	}
	s.server = &http.Server{
		Addr:              config.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Hub() *hub.Hub {
	return s.hub
}

func (s *Server) Start(ctx context.Context) error {
	slog.Info("peersync server start", "dataDir", s.config.DataDir, "db", s.config.DBPath, "content", s.config.Content.Backend)
	defer slog.Info("peersync server stop")

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		s.hub.Run(egCtx)
		return nil
	})

	eg.Go(func() error {
		if err := s.runHttpServer(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		slog.Info("http server stopped")
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		slog.Info("peersync shutdown signal")
		return s.Stop(context.Background())
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	httpErr := s.server.Shutdown(shutdownCtx)
	storeErr := s.store.Close()
	return errors.Join(httpErr, storeErr)
}

func (s *Server) runHttpServer() error {
	if s.config.TLSEnabled() {
		slog.Info("server start https", "addr", s.config.HTTP.Addr, "cert", s.config.HTTP.CertFile, "key", s.config.HTTP.KeyFile)
		return s.server.ListenAndServeTLS(s.config.HTTP.CertFile, s.config.HTTP.KeyFile)
	}
	slog.Info("server start http", "addr", s.config.HTTP.Addr)
	return s.server.ListenAndServe()
}
